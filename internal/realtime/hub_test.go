package realtime

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

// ---------------------------------------------------------------------------
// shouldSend tests
// ---------------------------------------------------------------------------

func TestShouldSend_AllEvents(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{AllEvents: true}}

	event := &Event{Type: EventDistribution, Timestamp: time.Now()}
	if !h.shouldSend(client, event) {
		t.Error("AllEvents client should receive all events")
	}
}

func TestShouldSend_EventTypeFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		EventTypes: []EventType{EventDistribution, EventFlagRaised},
	}}

	distEvent := &Event{Type: EventDistribution}
	flagEvent := &Event{Type: EventFlagRaised}
	donationEvent := &Event{Type: EventDonation}

	if !h.shouldSend(client, distEvent) {
		t.Error("Should receive distribution events")
	}
	if !h.shouldSend(client, flagEvent) {
		t.Error("Should receive flag_raised events")
	}
	if h.shouldSend(client, donationEvent) {
		t.Error("Should NOT receive donation events")
	}
}

func TestShouldSend_CampaignFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		CampaignIDs: []string{"camp_1"},
	}}

	matching := &Event{
		Type: EventDistribution,
		Data: map[string]interface{}{"campaignId": "camp_1"},
	}
	notMatching := &Event{
		Type: EventDistribution,
		Data: map[string]interface{}{"campaignId": "camp_2"},
	}

	if !h.shouldSend(client, matching) {
		t.Error("Should match on campaign ID")
	}
	if h.shouldSend(client, notMatching) {
		t.Error("Should NOT match other campaigns")
	}
}

func TestShouldSend_RegionFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		Regions: []string{"coastal-district"},
	}}

	matching := &Event{
		Type: EventCampaignUpdate,
		Data: map[string]interface{}{"region": "coastal-district"},
	}
	notMatching := &Event{
		Type: EventCampaignUpdate,
		Data: map[string]interface{}{"region": "highlands"},
	}

	if !h.shouldSend(client, matching) {
		t.Error("Should match on region")
	}
	if h.shouldSend(client, notMatching) {
		t.Error("Should NOT match other regions")
	}
}

func TestShouldSend_MinAmountFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		MinAmount: 10.0,
	}}

	large := &Event{
		Type: EventSpend,
		Data: map[string]interface{}{"amount": 15.0},
	}
	small := &Event{
		Type: EventSpend,
		Data: map[string]interface{}{"amount": 5.0},
	}
	flag := &Event{
		Type: EventFlagRaised,
		Data: map[string]interface{}{"reason": "high amount"},
	}

	if !h.shouldSend(client, large) {
		t.Error("Should receive large spend")
	}
	if h.shouldSend(client, small) {
		t.Error("Should NOT receive small spend")
	}
	if !h.shouldSend(client, flag) {
		t.Error("MinAmount filter should only apply to money events")
	}
}

func TestShouldSend_EmptySubscription(t *testing.T) {
	h := testHub()

	// No filters, not AllEvents
	client := &Client{sub: Subscription{}}

	event := &Event{Type: EventDistribution}
	if !h.shouldSend(client, event) {
		t.Error("Empty subscription (no filters) should receive events")
	}
}

func TestShouldSend_NonMapData(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		CampaignIDs: []string{"camp_1"},
	}}

	// Event with non-map data should not crash
	event := &Event{
		Type: EventCampaignUpdate,
		Data: "string data not a map",
	}

	// Campaign filter skips non-map data (can't extract the ID), so event passes through
	if !h.shouldSend(client, event) {
		t.Error("Non-map data should pass through when campaign filter can't extract the ID")
	}
}

// ---------------------------------------------------------------------------
// Hub lifecycle tests
// ---------------------------------------------------------------------------

func TestHub_Stats_Initial(t *testing.T) {
	h := testHub()

	stats := h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients, got %v", stats["connectedClients"])
	}
	if stats["totalEvents"].(int64) != 0 {
		t.Errorf("Expected 0 total events, got %v", stats["totalEvents"])
	}
}

func TestHub_BroadcastAndStats(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Broadcast an event
	h.Broadcast(&Event{Type: EventDistribution, Timestamp: time.Now()})
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["totalEvents"].(int64) != 1 {
		t.Errorf("Expected 1 total event, got %v", stats["totalEvents"])
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["connectedClients"].(int) != 1 {
		t.Errorf("Expected 1 connected client, got %v", stats["connectedClients"])
	}
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak 1, got %v", stats["peakClients"])
	}

	h.unregister <- client
	time.Sleep(50 * time.Millisecond)

	stats = h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients after unregister, got %v", stats["connectedClients"])
	}
	// Peak should still be 1
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak still 1, got %v", stats["peakClients"])
	}
}

func TestHub_BroadcastToClient(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	h.BroadcastDistribution(map[string]interface{}{
		"campaignId": "camp_1", "beneficiaryId": "ben_1", "amount": 100.0,
	})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Timeout waiting for broadcast")
	}
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
		// Hub stopped
	case <-time.After(2 * time.Second):
		t.Error("Hub did not stop after context cancellation")
	}
}

func TestHub_FilteredBroadcast(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Client only wants fraud flags
	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{EventTypes: []EventType{EventFlagRaised}},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	// Send a distribution event (should be filtered out)
	h.Broadcast(&Event{Type: EventDistribution, Timestamp: time.Now()})
	time.Sleep(100 * time.Millisecond)

	select {
	case <-client.send:
		t.Error("Client should NOT receive distribution event")
	default:
		// Good - filtered out
	}

	// Send a flag event (should be received)
	h.Broadcast(&Event{Type: EventFlagRaised, Timestamp: time.Now()})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Client should receive flag event")
	}
}
