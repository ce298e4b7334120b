package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// dashboardHandler serves the public transparency dashboard. Everything on
// the page is fed by the same public API donors and auditors can call
// themselves; the page holds no privileged data.
func dashboardHandler(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.String(http.StatusOK, dashboardHTML)
}

const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>reliefd &mdash; relief fund transparency</title>
<style>
  :root {
    --bg: #0d1117; --panel: #161b22; --border: #30363d;
    --text: #e6edf3; --muted: #8b949e;
    --green: #3fb950; --red: #f85149; --amber: #d29922; --blue: #58a6ff;
  }
  * { box-sizing: border-box; margin: 0; padding: 0; }
  body { background: var(--bg); color: var(--text); font-family: ui-monospace, "SF Mono", Menlo, monospace; padding: 24px; }
  h1 { font-size: 20px; margin-bottom: 4px; }
  .sub { color: var(--muted); font-size: 13px; margin-bottom: 24px; }
  .cards { display: grid; grid-template-columns: repeat(auto-fit, minmax(180px, 1fr)); gap: 12px; margin-bottom: 24px; }
  .card { background: var(--panel); border: 1px solid var(--border); border-radius: 8px; padding: 16px; }
  .card .label { color: var(--muted); font-size: 12px; text-transform: uppercase; letter-spacing: .05em; }
  .card .value { font-size: 26px; margin-top: 6px; }
  .cols { display: grid; grid-template-columns: 1fr 1fr; gap: 16px; }
  @media (max-width: 900px) { .cols { grid-template-columns: 1fr; } }
  .panel { background: var(--panel); border: 1px solid var(--border); border-radius: 8px; padding: 16px; }
  .panel h2 { font-size: 14px; color: var(--muted); margin-bottom: 12px; text-transform: uppercase; letter-spacing: .05em; }
  table { width: 100%; border-collapse: collapse; font-size: 13px; }
  th { text-align: left; color: var(--muted); font-weight: normal; padding: 6px 8px; border-bottom: 1px solid var(--border); }
  td { padding: 6px 8px; border-bottom: 1px solid var(--border); }
  .amount { color: var(--green); }
  .flag { color: var(--red); }
  .status-active { color: var(--green); }
  .status-paused { color: var(--amber); }
  .status-closed, .status-draft { color: var(--muted); }
  .bar { background: var(--border); border-radius: 4px; height: 6px; overflow: hidden; }
  .bar > div { background: var(--blue); height: 100%; }
  #feed { max-height: 420px; overflow-y: auto; font-size: 13px; }
  #feed .row { padding: 6px 0; border-bottom: 1px solid var(--border); }
  #feed .ts { color: var(--muted); margin-right: 8px; }
  .live { display: inline-block; width: 8px; height: 8px; border-radius: 50%; background: var(--red); margin-right: 6px; }
  .live.on { background: var(--green); }
</style>
</head>
<body>
<h1>reliefd</h1>
<div class="sub">every drUSD mint, distribution and spend, verifiable on-chain &mdash; <a href="/api" style="color:var(--blue)">API</a></div>

<div class="cards">
  <div class="card"><div class="label">Campaigns</div><div class="value" id="c-total">&ndash;</div></div>
  <div class="card"><div class="label">Active</div><div class="value" id="c-active">&ndash;</div></div>
  <div class="card"><div class="label">Flagged transactions</div><div class="value" id="c-flagged">&ndash;</div></div>
  <div class="card"><div class="label">Fraud model</div><div class="value" id="c-model">&ndash;</div></div>
</div>

<div class="cols">
  <div class="panel">
    <h2>Campaigns</h2>
    <table>
      <thead><tr><th>Name</th><th>Status</th><th>Distributed / Raised</th><th></th></tr></thead>
      <tbody id="campaigns"></tbody>
    </table>
  </div>
  <div class="panel">
    <h2><span class="live" id="live"></span>Live activity</h2>
    <div id="feed"></div>
  </div>
</div>

<script>
const fmt = n => Number(n).toLocaleString(undefined, {maximumFractionDigits: 2});

async function loadStats() {
  const r = await fetch('/v1/stats');
  if (!r.ok) return;
  const s = await r.json();
  document.getElementById('c-total').textContent = s.totalCampaigns;
  document.getElementById('c-active').textContent = s.activeCampaigns;
  document.getElementById('c-flagged').textContent = s.flaggedCount;
  document.getElementById('c-model').textContent = s.modelTrained ? 'trained' : 'rules';
}

async function loadCampaigns() {
  const r = await fetch('/v1/campaigns?limit=20');
  if (!r.ok) return;
  const campaigns = (await r.json()).campaigns || [];
  const tbody = document.getElementById('campaigns');
  tbody.innerHTML = '';
  for (const c of campaigns) {
    const raised = parseFloat(c.raisedAmount) || 0;
    const distributed = parseFloat(c.distributedAmount) || 0;
    const pct = raised > 0 ? Math.min(100, distributed / raised * 100) : 0;
    const tr = document.createElement('tr');
    tr.innerHTML =
      '<td>' + c.name + '</td>' +
      '<td class="status-' + c.status + '">' + c.status + '</td>' +
      '<td class="amount">' + fmt(distributed) + ' / ' + fmt(raised) + '</td>' +
      '<td style="width:80px"><div class="bar"><div style="width:' + pct + '%"></div></div></td>';
    tbody.appendChild(tr);
  }
}

function feedRow(html) {
  const feed = document.getElementById('feed');
  const row = document.createElement('div');
  row.className = 'row';
  row.innerHTML = '<span class="ts">' + new Date().toLocaleTimeString() + '</span>' + html;
  feed.prepend(row);
  while (feed.children.length > 50) feed.removeChild(feed.lastChild);
}

function connect() {
  const proto = location.protocol === 'https:' ? 'wss:' : 'ws:';
  const ws = new WebSocket(proto + '//' + location.host + '/ws');
  ws.onopen = () => document.getElementById('live').classList.add('on');
  ws.onclose = () => {
    document.getElementById('live').classList.remove('on');
    setTimeout(connect, 3000);
  };
  ws.onmessage = ev => {
    let msg;
    try { msg = JSON.parse(ev.data); } catch { return; }
    const d = msg.data || {};
    switch (msg.type) {
      case 'distribution':
        feedRow('<span class="amount">' + fmt(d.amount) + ' drUSD</span> distributed to beneficiary');
        loadCampaigns();
        break;
      case 'spend':
        feedRow('<span class="amount">' + fmt(d.amount) + ' drUSD</span> spent (' + (d.category || 'uncategorized') + ')');
        break;
      case 'donation':
        feedRow('<span class="amount">' + fmt(d.amount) + ' drUSD</span> donated by ' + (d.donorName || 'Anonymous'));
        loadStats();
        break;
      case 'flag':
        feedRow('<span class="flag">transaction flagged</span>: ' + (d.reason || ''));
        loadStats();
        break;
    }
  };
}

loadStats();
loadCampaigns();
connect();
setInterval(loadStats, 30000);
setInterval(loadCampaigns, 30000);
</script>
</body>
</html>
`
