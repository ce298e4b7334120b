package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/openrelief/reliefd/internal/idgen"
)

func newTestCampaign(raised, distributed string) *Campaign {
	now := time.Now()
	return &Campaign{
		ID:                idgen.WithPrefix("camp_"),
		Name:              "Coastal Flood Relief",
		Region:            "coastal",
		TargetAmount:      "5000.000000",
		RaisedAmount:      raised,
		DistributedAmount: distributed,
		SpentAmount:       "0.000000",
		Status:            CampaignActive,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func TestCampaignStatus_Transitions(t *testing.T) {
	tests := []struct {
		from, to CampaignStatus
		want     bool
	}{
		{CampaignDraft, CampaignActive, true},
		{CampaignDraft, CampaignCancelled, true},
		{CampaignDraft, CampaignCompleted, false},
		{CampaignActive, CampaignPaused, true},
		{CampaignActive, CampaignCompleted, true},
		{CampaignPaused, CampaignActive, true},
		{CampaignCompleted, CampaignActive, false},
		{CampaignCancelled, CampaignActive, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("%s -> %s: got %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestCampaign_RemainingAmount(t *testing.T) {
	c := newTestCampaign("1000.000000", "200.000000")
	if got := c.RemainingAmount(); got != "800.000000" {
		t.Errorf("RemainingAmount = %q, want 800.000000", got)
	}
}

func TestMemoryStore_AddDistributed(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	c := newTestCampaign("1000.000000", "200.000000")
	if err := store.CreateCampaign(ctx, c); err != nil {
		t.Fatalf("CreateCampaign failed: %v", err)
	}

	updated, err := store.AddDistributed(ctx, c.ID, "100")
	if err != nil {
		t.Fatalf("AddDistributed failed: %v", err)
	}
	if updated.DistributedAmount != "300.000000" {
		t.Errorf("DistributedAmount = %q, want 300.000000", updated.DistributedAmount)
	}
}

func TestMemoryStore_AddDistributed_InsufficientFunds(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	c := newTestCampaign("1000.000000", "950.000000")
	if err := store.CreateCampaign(ctx, c); err != nil {
		t.Fatal(err)
	}

	_, err := store.AddDistributed(ctx, c.ID, "100")
	if err != ErrInsufficientFunds {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	// No mutation on rejection.
	got, err := store.GetCampaign(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.DistributedAmount != "950.000000" {
		t.Errorf("DistributedAmount mutated on rejected call: %q", got.DistributedAmount)
	}
}

func TestMemoryStore_AddDistributed_ExactRemaining(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	c := newTestCampaign("1000.000000", "900.000000")
	if err := store.CreateCampaign(ctx, c); err != nil {
		t.Fatal(err)
	}

	updated, err := store.AddDistributed(ctx, c.ID, "100")
	if err != nil {
		t.Fatalf("distributing exactly the remaining amount should succeed: %v", err)
	}
	if updated.RemainingAmount() != "0.000000" {
		t.Errorf("RemainingAmount = %q, want 0.000000", updated.RemainingAmount())
	}
}

func TestMemoryStore_SetCampaignStatus_Invalid(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	c := newTestCampaign("0.000000", "0.000000")
	c.Status = CampaignCompleted
	if err := store.CreateCampaign(ctx, c); err != nil {
		t.Fatal(err)
	}

	if _, err := store.SetCampaignStatus(ctx, c.ID, CampaignActive); err != ErrInvalidTransition {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestMemoryStore_AccumulateAllocation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()

	first, err := store.AccumulateAllocation(ctx, "camp_1", "ben_1", "100",
		CategoryAmounts{Food: "60", Medical: "40"}, "0xaaa", now)
	if err != nil {
		t.Fatalf("first accumulate failed: %v", err)
	}
	if first.TotalAmount != "100.000000" {
		t.Errorf("TotalAmount = %q, want 100.000000", first.TotalAmount)
	}
	if first.DistributedAmount != "100.000000" {
		t.Errorf("DistributedAmount = %q, want 100.000000", first.DistributedAmount)
	}
	if first.Allowances.Food != "60.000000" {
		t.Errorf("Food allowance = %q, want 60.000000", first.Allowances.Food)
	}

	second, err := store.AccumulateAllocation(ctx, "camp_1", "ben_1", "50",
		CategoryAmounts{Food: "20", Shelter: "30"}, "0xbbb", now.Add(time.Hour))
	if err != nil {
		t.Fatalf("second accumulate failed: %v", err)
	}
	if second.ID != first.ID {
		t.Error("second distribution created a new allocation row")
	}
	if second.TotalAmount != "150.000000" {
		t.Errorf("TotalAmount = %q, want 150.000000", second.TotalAmount)
	}
	if second.Allowances.Food != "80.000000" {
		t.Errorf("Food allowance = %q, want 80.000000", second.Allowances.Food)
	}
	if second.Allowances.Medical != "40.000000" {
		t.Errorf("Medical allowance = %q, want 40.000000", second.Allowances.Medical)
	}
	if second.Allowances.Shelter != "30.000000" {
		t.Errorf("Shelter allowance = %q, want 30.000000", second.Allowances.Shelter)
	}
	if second.DistributionTxHash != "0xbbb" {
		t.Errorf("tx hash = %q, want latest hash 0xbbb", second.DistributionTxHash)
	}
}

// Distributing a then b must equal distributing a+b once.
func TestMemoryStore_AccumulationAssociative(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	split := NewMemoryStore()
	if _, err := split.AccumulateAllocation(ctx, "c", "b", "70", CategoryAmounts{Food: "70"}, "", now); err != nil {
		t.Fatal(err)
	}
	if _, err := split.AccumulateAllocation(ctx, "c", "b", "30", CategoryAmounts{Food: "30"}, "", now); err != nil {
		t.Fatal(err)
	}

	once := NewMemoryStore()
	if _, err := once.AccumulateAllocation(ctx, "c", "b", "100", CategoryAmounts{Food: "100"}, "", now); err != nil {
		t.Fatal(err)
	}

	a1, _ := split.GetAllocation(ctx, "c", "b")
	a2, _ := once.GetAllocation(ctx, "c", "b")
	if a1.TotalAmount != a2.TotalAmount {
		t.Errorf("split total %q != single total %q", a1.TotalAmount, a2.TotalAmount)
	}
	if a1.Allowances.Food != a2.Allowances.Food {
		t.Errorf("split food %q != single food %q", a1.Allowances.Food, a2.Allowances.Food)
	}
}

func TestMemoryStore_History_StrictlyBefore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, offset := range []time.Duration{-2 * time.Hour, -time.Hour, 0, time.Hour} {
		tx := &TransactionLog{
			ID:            idgen.WithPrefix("txn_"),
			BeneficiaryID: "ben_1",
			Type:          TxSpend,
			Status:        TxConfirmed,
			Amount:        "10.000000",
			CreatedAt:     base.Add(offset),
		}
		if err := store.AppendTransaction(ctx, tx); err != nil {
			t.Fatalf("append #%d failed: %v", i, err)
		}
	}

	history, err := store.History(ctx, "ben_1", base, 10)
	if err != nil {
		t.Fatal(err)
	}
	// Entries at and after the cutoff are excluded.
	if len(history) != 2 {
		t.Fatalf("got %d entries, want 2", len(history))
	}
	for _, tx := range history {
		if !tx.CreatedAt.Before(base) {
			t.Errorf("entry at %v is not strictly before %v", tx.CreatedAt, base)
		}
	}
	// Most recent first.
	if !history[0].CreatedAt.After(history[1].CreatedAt) {
		t.Error("history not in descending order")
	}
}

func TestMemoryStore_History_Limit(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Now()

	for i := 0; i < 5; i++ {
		tx := &TransactionLog{
			ID:            idgen.WithPrefix("txn_"),
			BeneficiaryID: "ben_1",
			Type:          TxSpend,
			Amount:        "1.000000",
			CreatedAt:     base.Add(time.Duration(-i) * time.Minute),
		}
		if err := store.AppendTransaction(ctx, tx); err != nil {
			t.Fatal(err)
		}
	}

	history, err := store.History(ctx, "ben_1", base.Add(time.Second), 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 3 {
		t.Errorf("got %d entries, want 3", len(history))
	}
}

func TestMemoryStore_ListPendingChain(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()

	pending := &TransactionLog{ID: "txn_pending", Type: TxDistribute, Status: TxPending, Amount: "5.000000", CreatedAt: now}
	confirmed := &TransactionLog{ID: "txn_ok", Type: TxDistribute, Status: TxConfirmed, TxHash: "0xabc", Amount: "5.000000", CreatedAt: now}
	failed := &TransactionLog{ID: "txn_failed", Type: TxDistribute, Status: TxFailed, Amount: "5.000000", CreatedAt: now}
	for _, tx := range []*TransactionLog{pending, confirmed, failed} {
		if err := store.AppendTransaction(ctx, tx); err != nil {
			t.Fatal(err)
		}
	}

	got, err := store.ListPendingChain(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "txn_pending" {
		t.Errorf("ListPendingChain = %+v, want just txn_pending", got)
	}
}

func TestMemoryStore_SettleAndFailChainLeg(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()

	for _, id := range []string{"txn_a", "txn_b"} {
		tx := &TransactionLog{ID: id, Type: TxDistribute, Status: TxPending, Amount: "5.000000", CreatedAt: now}
		if err := store.AppendTransaction(ctx, tx); err != nil {
			t.Fatal(err)
		}
	}

	settled, err := store.SettleChainLeg(ctx, "txn_a", "0xdeadbeef")
	if err != nil {
		t.Fatal(err)
	}
	if settled.TxHash != "0xdeadbeef" || settled.Status != TxConfirmed {
		t.Errorf("settled = %s/%s, want confirmed with hash", settled.Status, settled.TxHash)
	}

	failed, err := store.FailChainLeg(ctx, "txn_b")
	if err != nil {
		t.Fatal(err)
	}
	if failed.Status != TxFailed {
		t.Errorf("status = %s, want failed", failed.Status)
	}

	// Neither row is pending anymore.
	got, err := store.ListPendingChain(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("ListPendingChain = %d rows, want 0", len(got))
	}

	if _, err := store.SettleChainLeg(ctx, "missing", "0x1"); err != ErrTransactionNotFound {
		t.Errorf("expected ErrTransactionNotFound, got %v", err)
	}
}

func TestMemoryStore_FlagAndClear(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	tx := &TransactionLog{ID: "txn_1", Type: TxSpend, Amount: "500.000000", CreatedAt: time.Now()}
	if err := store.AppendTransaction(ctx, tx); err != nil {
		t.Fatal(err)
	}

	flagged, err := store.FlagTransaction(ctx, "txn_1", "high amount", 0.8)
	if err != nil {
		t.Fatal(err)
	}
	if !flagged.IsFlagged || flagged.FraudScore != 0.8 {
		t.Errorf("flag not applied: %+v", flagged)
	}

	cleared, err := store.ClearFlag(ctx, "txn_1", "verified with merchant")
	if err != nil {
		t.Fatal(err)
	}
	if cleared.IsFlagged {
		t.Error("flag not cleared")
	}
	if cleared.FlagReason == "high amount" {
		t.Error("clear note not recorded")
	}

	// Clearing an unflagged transaction is an error.
	if _, err := store.ClearFlag(ctx, "txn_1", "again"); err != ErrNotFlagged {
		t.Errorf("expected ErrNotFlagged, got %v", err)
	}
}

func TestMemoryStore_CampaignStats(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	c := newTestCampaign("1000.000000", "300.000000")
	c.SpentAmount = "120.000000"
	if err := store.CreateCampaign(ctx, c); err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	if _, err := store.AccumulateAllocation(ctx, c.ID, "ben_1", "200", CategoryAmounts{Food: "200"}, "", now); err != nil {
		t.Fatal(err)
	}
	if _, err := store.AccumulateAllocation(ctx, c.ID, "ben_2", "100", CategoryAmounts{Medical: "100"}, "", now); err != nil {
		t.Fatal(err)
	}

	spends := []*TransactionLog{
		{ID: "t1", CampaignID: c.ID, BeneficiaryID: "ben_1", Type: TxSpend, Category: "food", Amount: "80.000000", CreatedAt: now},
		{ID: "t2", CampaignID: c.ID, BeneficiaryID: "ben_2", Type: TxSpend, Category: "medical", Amount: "40.000000", IsFlagged: true, CreatedAt: now},
		{ID: "t3", CampaignID: c.ID, Type: TxMint, Amount: "1000.000000", CreatedAt: now},
	}
	for _, tx := range spends {
		if err := store.AppendTransaction(ctx, tx); err != nil {
			t.Fatal(err)
		}
	}

	stats, err := store.GetCampaignStats(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stats.BeneficiaryCount != 2 {
		t.Errorf("BeneficiaryCount = %d, want 2", stats.BeneficiaryCount)
	}
	if stats.TransactionCount != 3 {
		t.Errorf("TransactionCount = %d, want 3", stats.TransactionCount)
	}
	if stats.FlaggedCount != 1 {
		t.Errorf("FlaggedCount = %d, want 1", stats.FlaggedCount)
	}
	if stats.SpendingByCategory["food"] != "80.000000" {
		t.Errorf("food spending = %q, want 80.000000", stats.SpendingByCategory["food"])
	}
	if stats.SpendingByCategory["shelter"] != "0.000000" {
		t.Errorf("shelter spending = %q, want 0.000000", stats.SpendingByCategory["shelter"])
	}
	if stats.RemainingAmount != "700.000000" {
		t.Errorf("RemainingAmount = %q, want 700.000000", stats.RemainingAmount)
	}
}

func TestMemoryStore_Wallets(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	addr := "0xAbCd000000000000000000000000000000000001"

	if err := store.UpsertWallet(ctx, &Wallet{Address: addr, BeneficiaryID: "ben_1", CreatedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}

	// Lookup is case-insensitive.
	w, err := store.GetWallet(ctx, "0xabcd000000000000000000000000000000000001")
	if err != nil {
		t.Fatal(err)
	}
	if w.IsWhitelisted {
		t.Error("new wallet should not be whitelisted")
	}

	at := time.Now()
	if err := store.MarkWhitelisted(ctx, addr, at); err != nil {
		t.Fatal(err)
	}
	w, err = store.GetWallet(ctx, addr)
	if err != nil {
		t.Fatal(err)
	}
	if !w.IsWhitelisted || w.WhitelistedAt.IsZero() {
		t.Errorf("whitelist cache not updated: %+v", w)
	}
}

func TestMemoryStore_Beneficiaries(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	b := &Beneficiary{
		ID: "ben_1", Name: "Amina", Region: "coastal",
		Status: VerificationPending, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	if err := store.CreateBeneficiary(ctx, b); err != nil {
		t.Fatal(err)
	}

	verified, err := store.SetVerification(ctx, "ben_1", VerificationVerified)
	if err != nil {
		t.Fatal(err)
	}
	if verified.Status != VerificationVerified {
		t.Errorf("Status = %s, want verified", verified.Status)
	}

	withWallet, err := store.SetPrimaryWallet(ctx, "ben_1", "0x1234000000000000000000000000000000000000")
	if err != nil {
		t.Fatal(err)
	}
	if withWallet.PrimaryWallet == "" {
		t.Error("primary wallet not set")
	}

	pending, err := store.ListBeneficiaries(ctx, VerificationPending, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("expected no pending beneficiaries, got %d", len(pending))
	}
}

func TestIsValidCategory(t *testing.T) {
	for _, c := range Categories {
		if !IsValidCategory(c) {
			t.Errorf("IsValidCategory(%q) = false", c)
		}
	}
	if IsValidCategory("luxury") {
		t.Error("IsValidCategory(luxury) = true")
	}
}
