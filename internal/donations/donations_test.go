package donations

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/openrelief/reliefd/internal/ledger"
)

const testCampaign = "camp_1"

// ---------------------------------------------------------------------------
// Mock implementations
// ---------------------------------------------------------------------------

type mockProvider struct {
	mu       sync.Mutex
	intents  int
	lastMeta map[string]string
	lastCent int64
	fail     error
}

func (m *mockProvider) CreateIntent(_ context.Context, amountCents int64, currency string, metadata map[string]string) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return "", "", m.fail
	}
	m.intents++
	m.lastMeta = metadata
	m.lastCent = amountCents
	id := fmt.Sprintf("pi_%d", m.intents)
	return id, id + "_secret", nil
}

type mintCall struct {
	campaignID string
	amount     string
	purpose    string
}

type mockMinter struct {
	mu    sync.Mutex
	calls []mintCall
	fail  error
}

func (m *mockMinter) MintFunds(_ context.Context, campaignID, amount, purpose string) (*ledger.Campaign, *ledger.TransactionLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return nil, nil, m.fail
	}
	m.calls = append(m.calls, mintCall{campaignID, amount, purpose})
	return &ledger.Campaign{ID: campaignID}, &ledger.TransactionLog{}, nil
}

func (m *mockMinter) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func setup(t *testing.T) (*Service, *mockProvider, *mockMinter) {
	t.Helper()
	store := ledger.NewMemoryStore()
	if err := store.CreateCampaign(context.Background(), &ledger.Campaign{
		ID:        testCampaign,
		Name:      "Flood Relief",
		Status:    ledger.CampaignActive,
		CreatedAt: time.Now(),
	}); err != nil {
		t.Fatal(err)
	}
	provider := &mockProvider{}
	minter := &mockMinter{}
	svc := NewService(NewMemoryStore(), store, provider, minter, nil)
	return svc, provider, minter
}

func create(t *testing.T, svc *Service, amount string) *Donation {
	t.Helper()
	d, secret, err := svc.Create(context.Background(), CreateRequest{
		CampaignID: testCampaign,
		Amount:     amount,
		DonorName:  "Priya",
		DonorEmail: "priya@example.org",
	})
	if err != nil {
		t.Fatalf("Create(%s) failed: %v", amount, err)
	}
	if secret == "" {
		t.Fatal("missing client secret")
	}
	return d
}

// ---------------------------------------------------------------------------
// Create
// ---------------------------------------------------------------------------

func TestCreate(t *testing.T) {
	svc, provider, _ := setup(t)

	d := create(t, svc, "25")

	if d.Status != StatusPending {
		t.Errorf("status = %s, want pending", d.Status)
	}
	if d.Amount != "25.000000" {
		t.Errorf("amount = %s, want 25.000000", d.Amount)
	}
	if provider.lastCent != 2500 {
		t.Errorf("charged %d cents, want 2500", provider.lastCent)
	}
	if provider.lastMeta["donation_id"] != d.ID || provider.lastMeta["campaign_id"] != testCampaign {
		t.Errorf("intent metadata = %v, want donation and campaign IDs", provider.lastMeta)
	}

	stored, err := svc.Get(context.Background(), d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.PaymentIntentID != "pi_1" {
		t.Errorf("stored intent = %s, want pi_1", stored.PaymentIntentID)
	}
}

func TestCreate_InvalidAmounts(t *testing.T) {
	svc, _, _ := setup(t)

	for _, amount := range []string{"0", "-5", "abc", "10.123456"} {
		_, _, err := svc.Create(context.Background(), CreateRequest{
			CampaignID: testCampaign,
			Amount:     amount,
		})
		if !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("Create(%q) error = %v, want ErrInvalidAmount", amount, err)
		}
	}
}

func TestCreate_CampaignNotActive(t *testing.T) {
	svc, provider, _ := setup(t)
	if _, err := svc.ledger.SetCampaignStatus(context.Background(), testCampaign, ledger.CampaignPaused); err != nil {
		t.Fatal(err)
	}

	_, _, err := svc.Create(context.Background(), CreateRequest{
		CampaignID: testCampaign,
		Amount:     "25",
	})
	if !errors.Is(err, ErrCampaignClosed) {
		t.Errorf("error = %v, want ErrCampaignClosed", err)
	}
	if provider.intents != 0 {
		t.Error("payment intent opened for closed campaign")
	}
}

func TestCreate_UnknownCampaign(t *testing.T) {
	svc, _, _ := setup(t)

	_, _, err := svc.Create(context.Background(), CreateRequest{
		CampaignID: "camp_missing",
		Amount:     "25",
	})
	if !errors.Is(err, ledger.ErrCampaignNotFound) {
		t.Errorf("error = %v, want ErrCampaignNotFound", err)
	}
}

func TestCreate_ProviderFailure(t *testing.T) {
	svc, provider, _ := setup(t)
	provider.fail = errors.New("card network down")

	_, _, err := svc.Create(context.Background(), CreateRequest{
		CampaignID: testCampaign,
		Amount:     "25",
	})
	if err == nil {
		t.Fatal("expected provider error")
	}
	if _, err := svc.store.GetByIntent(context.Background(), "pi_1"); err == nil {
		t.Error("donation recorded despite intent failure")
	}
}

// ---------------------------------------------------------------------------
// Settlement
// ---------------------------------------------------------------------------

func TestSettleIntent(t *testing.T) {
	svc, _, minter := setup(t)
	d := create(t, svc, "50")

	settled, err := svc.SettleIntent(context.Background(), "pi_1")
	if err != nil {
		t.Fatal(err)
	}
	if settled.Status != StatusSucceeded {
		t.Errorf("status = %s, want succeeded", settled.Status)
	}
	if settled.SettledAt.IsZero() {
		t.Error("settledAt not set")
	}

	if minter.callCount() != 1 {
		t.Fatalf("minter calls = %d, want 1", minter.callCount())
	}
	call := minter.calls[0]
	if call.campaignID != testCampaign || call.amount != "50.000000" || call.purpose != "donation "+d.ID {
		t.Errorf("mint call = %+v", call)
	}
}

func TestSettleIntent_Idempotent(t *testing.T) {
	svc, _, minter := setup(t)
	create(t, svc, "50")

	for i := 0; i < 3; i++ {
		if _, err := svc.SettleIntent(context.Background(), "pi_1"); err != nil {
			t.Fatal(err)
		}
	}
	if minter.callCount() != 1 {
		t.Errorf("minter calls = %d, want 1 (redeliveries must not re-mint)", minter.callCount())
	}
}

func TestSettleIntent_UnknownIntent(t *testing.T) {
	svc, _, _ := setup(t)

	_, err := svc.SettleIntent(context.Background(), "pi_unknown")
	if !errors.Is(err, ErrDonationNotFound) {
		t.Errorf("error = %v, want ErrDonationNotFound", err)
	}
}

func TestSettleIntent_MintFailureKeepsDonation(t *testing.T) {
	svc, _, minter := setup(t)
	create(t, svc, "50")
	minter.fail = errors.New("rpc down")

	settled, err := svc.SettleIntent(context.Background(), "pi_1")
	if err != nil {
		t.Fatal(err)
	}
	if settled.Status != StatusSucceeded {
		t.Errorf("status = %s, want succeeded even when mint fails", settled.Status)
	}
}

func TestFailIntent(t *testing.T) {
	svc, _, minter := setup(t)
	create(t, svc, "50")

	d, err := svc.FailIntent(context.Background(), "pi_1")
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != StatusFailed {
		t.Errorf("status = %s, want failed", d.Status)
	}
	if minter.callCount() != 0 {
		t.Error("failed payment minted funds")
	}
}

func TestFailIntent_DoesNotRevertSettled(t *testing.T) {
	svc, _, _ := setup(t)
	create(t, svc, "50")

	if _, err := svc.SettleIntent(context.Background(), "pi_1"); err != nil {
		t.Fatal(err)
	}
	d, err := svc.FailIntent(context.Background(), "pi_1")
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != StatusSucceeded {
		t.Errorf("status = %s, want succeeded (late failure event ignored)", d.Status)
	}
}

func TestHandleWebhookEvent_Dispatch(t *testing.T) {
	svc, _, minter := setup(t)
	create(t, svc, "50")

	if _, err := svc.HandleWebhookEvent(context.Background(), "charge.updated", "pi_1"); err != nil {
		t.Fatal(err)
	}
	if minter.callCount() != 0 {
		t.Error("unrelated event type triggered a mint")
	}

	if _, err := svc.HandleWebhookEvent(context.Background(), "payment_intent.succeeded", "pi_1"); err != nil {
		t.Fatal(err)
	}
	if minter.callCount() != 1 {
		t.Errorf("minter calls = %d, want 1", minter.callCount())
	}
}

// ---------------------------------------------------------------------------
// Public listing
// ---------------------------------------------------------------------------

func TestListPublic_Anonymized(t *testing.T) {
	svc, _, _ := setup(t)

	if _, _, err := svc.Create(context.Background(), CreateRequest{
		CampaignID: testCampaign,
		Amount:     "10",
		DonorName:  "Priya",
		DonorEmail: "priya@example.org",
		Anonymous:  true,
	}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := svc.Create(context.Background(), CreateRequest{
		CampaignID: testCampaign,
		Amount:     "20",
		DonorName:  "Marcus",
		DonorEmail: "marcus@example.org",
	}); err != nil {
		t.Fatal(err)
	}

	rows, err := svc.ListPublic(context.Background(), testCampaign, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}

	names := map[string]bool{}
	for _, row := range rows {
		names[row["donor"].(string)] = true
		if _, ok := row["donorEmail"]; ok {
			t.Error("public view leaks donor email")
		}
	}
	if !names["Anonymous"] || !names["Marcus"] {
		t.Errorf("donor names = %v, want Anonymous and Marcus", names)
	}
}

func TestCampaignTotal_CountsOnlySettled(t *testing.T) {
	svc, _, _ := setup(t)

	create(t, svc, "10") // pi_1, stays pending
	create(t, svc, "20") // pi_2
	create(t, svc, "30") // pi_3
	for _, intent := range []string{"pi_2", "pi_3"} {
		if _, err := svc.SettleIntent(context.Background(), intent); err != nil {
			t.Fatal(err)
		}
	}

	count, total, err := svc.CampaignTotal(context.Background(), testCampaign)
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 || total != "50.000000" {
		t.Errorf("totals = %d/%s, want 2/50.000000", count, total)
	}
}
