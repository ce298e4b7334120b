package reconciliation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openrelief/reliefd/internal/chain"
	"github.com/openrelief/reliefd/internal/drusd"
	"github.com/openrelief/reliefd/internal/ledger"
)

const (
	testAdmin  = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	testWallet = "0x1111111111111111111111111111111111111111"
)

func setup(t *testing.T) (*Service, *ledger.MemoryStore, *chain.Mock) {
	t.Helper()
	store := ledger.NewMemoryStore()
	mock := chain.NewMock()
	svc := NewService(store, mock, testAdmin)
	svc.retryBackoff = time.Millisecond
	return svc, store, mock
}

func appendPending(t *testing.T, store ledger.Store, id string, txType ledger.TxType, to, amount string, at time.Time) {
	t.Helper()
	err := store.AppendTransaction(context.Background(), &ledger.TransactionLog{
		ID:        id,
		Type:      txType,
		Status:    ledger.TxPending,
		ToAddress: to,
		Amount:    amount,
		CreatedAt: at,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestRun_SettlesPendingDistribute(t *testing.T) {
	svc, store, _ := setup(t)
	ctx := context.Background()
	appendPending(t, store, "txn_1", ledger.TxDistribute, testWallet, "100.000000", time.Now())

	report, err := svc.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Scanned != 1 || report.Settled != 1 {
		t.Errorf("report = %+v, want 1 scanned, 1 settled", report)
	}

	row, err := store.GetTransaction(ctx, "txn_1")
	if err != nil {
		t.Fatal(err)
	}
	if row.Status != ledger.TxConfirmed || row.TxHash == "" {
		t.Errorf("row = %s/%q, want confirmed with hash", row.Status, row.TxHash)
	}

	pending, err := store.ListPendingChain(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("pending rows after settle = %d, want 0", len(pending))
	}
}

func TestRun_RetriesMintToAdminWallet(t *testing.T) {
	svc, store, mock := setup(t)
	ctx := context.Background()
	// ToAddress empty on old mint rows: the admin wallet is the target.
	appendPending(t, store, "txn_mint", ledger.TxMint, "", "250.000000", time.Now())

	report, err := svc.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Settled != 1 {
		t.Fatalf("report = %+v, want 1 settled", report)
	}

	calls := mock.Calls()
	if len(calls) != 1 || calls[0].Op != "mint" || calls[0].Addr != testAdmin {
		t.Errorf("calls = %+v, want one mint to admin wallet", calls)
	}
}

func TestRun_SkipsSpendRows(t *testing.T) {
	svc, store, mock := setup(t)
	appendPending(t, store, "txn_spend", ledger.TxSpend, testWallet, "10.000000", time.Now())

	report, err := svc.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Skipped != 1 || report.Settled != 0 {
		t.Errorf("report = %+v, want spend row skipped", report)
	}
	if len(mock.Calls()) != 0 {
		t.Error("spend row triggered a chain call")
	}
}

func TestRun_KeepsFreshLegPendingOnFailure(t *testing.T) {
	svc, store, mock := setup(t)
	mock.FailOn("transfer", errors.New("rpc down"))
	appendPending(t, store, "txn_1", ledger.TxDistribute, testWallet, "50.000000", time.Now())

	report, err := svc.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Skipped != 1 || report.Failed != 0 {
		t.Errorf("report = %+v, want fresh leg skipped, not failed", report)
	}

	pending, err := store.ListPendingChain(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Errorf("pending rows = %d, want 1 (still retryable)", len(pending))
	}
}

func TestRun_FailsStaleLeg(t *testing.T) {
	svc, store, mock := setup(t)
	mock.FailOn("transfer", errors.New("rpc down"))
	appendPending(t, store, "txn_old", ledger.TxDistribute, testWallet, "50.000000",
		time.Now().Add(-48*time.Hour))

	report, err := svc.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Failed != 1 {
		t.Fatalf("report = %+v, want 1 failed", report)
	}

	row, err := store.GetTransaction(context.Background(), "txn_old")
	if err != nil {
		t.Fatal(err)
	}
	if row.Status != ledger.TxFailed {
		t.Errorf("status = %s, want failed", row.Status)
	}
}

func seedBeneficiaryWithAllocation(t *testing.T, store ledger.Store) {
	t.Helper()
	ctx := context.Background()
	if err := store.CreateBeneficiary(ctx, &ledger.Beneficiary{
		ID:            "ben_1",
		Name:          "Asha",
		Status:        ledger.VerificationVerified,
		PrimaryWallet: testWallet,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.AccumulateAllocation(ctx, "camp_1", "ben_1",
		"200.000000", ledger.CategoryAmounts{}, "0xabc", time.Now()); err != nil {
		t.Fatal(err)
	}
}

func TestCheckBeneficiary_Match(t *testing.T) {
	svc, store, mock := setup(t)
	seedBeneficiaryWithAllocation(t, store)

	// Ledger: 200 allocated - 50 spent = 150. Chain agrees.
	err := store.AppendTransaction(context.Background(), &ledger.TransactionLog{
		ID:            "txn_s",
		CampaignID:    "camp_1",
		BeneficiaryID: "ben_1",
		Type:          ledger.TxSpend,
		Status:        ledger.TxConfirmed,
		TxHash:        "0xspend",
		Amount:        "50.000000",
		Category:      "food",
		CreatedAt:     time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}
	bal, _ := drusd.Parse("150.000000")
	mock.SetBalance(testWallet, bal)

	result, err := svc.CheckBeneficiary(context.Background(), "camp_1", "ben_1")
	if err != nil {
		t.Fatal(err)
	}
	if !result.Match {
		t.Errorf("mismatch reported: chain=%s ledger=%s diff=%s",
			result.ChainBalance, result.LedgerBalance, result.Diff)
	}
}

func TestCheckBeneficiary_Mismatch(t *testing.T) {
	svc, store, mock := setup(t)
	seedBeneficiaryWithAllocation(t, store)

	// Ledger expects 200, chain only has 120: diff 80 over the 1 drUSD
	// threshold.
	bal, _ := drusd.Parse("120.000000")
	mock.SetBalance(testWallet, bal)

	result, err := svc.CheckBeneficiary(context.Background(), "camp_1", "ben_1")
	if err != nil {
		t.Fatal(err)
	}
	if result.Match {
		t.Error("expected mismatch with chain 80 below ledger")
	}
	if result.Diff != "-80.000000" {
		t.Errorf("diff = %s, want -80.000000", result.Diff)
	}
}

func TestCheckBeneficiary_WithinThreshold(t *testing.T) {
	svc, store, mock := setup(t)
	seedBeneficiaryWithAllocation(t, store)

	bal, _ := drusd.Parse("199.500000")
	mock.SetBalance(testWallet, bal)

	result, err := svc.CheckBeneficiary(context.Background(), "camp_1", "ben_1")
	if err != nil {
		t.Fatal(err)
	}
	if !result.Match {
		t.Error("diff of 0.50 should be within the default 1 drUSD threshold")
	}

	svc.SetAlertThreshold("0.100000")
	result, err = svc.CheckBeneficiary(context.Background(), "camp_1", "ben_1")
	if err != nil {
		t.Fatal(err)
	}
	if result.Match {
		t.Error("diff of 0.50 should exceed the tightened 0.10 threshold")
	}
}
