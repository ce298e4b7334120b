//go:build integration

package donations

import (
	"context"
	"testing"
	"time"

	"github.com/openrelief/reliefd/internal/testutil"
)

func setupTestDB(t *testing.T) (*PostgresStore, func()) {
	t.Helper()
	db, cleanup := testutil.PGTest(t)
	return NewPostgresStore(db), cleanup
}

func pgDonation(id, intentID string) *Donation {
	now := time.Now().UTC()
	return &Donation{
		ID:              id,
		CampaignID:      "camp_pg1",
		DonorName:       "Marcus",
		DonorEmail:      "marcus@example.org",
		Amount:          "25.000000",
		Currency:        "usd",
		Status:          StatusPending,
		PaymentIntentID: intentID,
		CreatedAt:       now,
	}
}

func TestPostgresDonations_RoundTrip(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.Create(ctx, pgDonation("don_pg1", "pi_pg1")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := store.Get(ctx, "don_pg1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Amount != "25.000000" {
		t.Errorf("Amount: got %s, want 25.000000", got.Amount)
	}
	if got.Status != StatusPending {
		t.Errorf("Status: got %s, want pending", got.Status)
	}

	byIntent, err := store.GetByIntent(ctx, "pi_pg1")
	if err != nil {
		t.Fatalf("GetByIntent failed: %v", err)
	}
	if byIntent.ID != "don_pg1" {
		t.Errorf("GetByIntent: got %s, want don_pg1", byIntent.ID)
	}

	if _, err := store.Get(ctx, "don_missing"); err != ErrDonationNotFound {
		t.Errorf("Expected ErrDonationNotFound, got %v", err)
	}
}

func TestPostgresDonations_SetStatus(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.Create(ctx, pgDonation("don_pg2", "pi_pg2")); err != nil {
		t.Fatal(err)
	}

	settledAt := time.Now().UTC()
	updated, err := store.SetStatus(ctx, "don_pg2", StatusSucceeded, settledAt)
	if err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	if updated.Status != StatusSucceeded {
		t.Errorf("Status: got %s, want succeeded", updated.Status)
	}
	if updated.SettledAt.IsZero() {
		t.Error("SettledAt not recorded")
	}

	if _, err := store.SetStatus(ctx, "don_missing", StatusFailed, time.Time{}); err != ErrDonationNotFound {
		t.Errorf("Expected ErrDonationNotFound, got %v", err)
	}
}

func TestPostgresDonations_CampaignTotalCountsOnlySettled(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	for i, intent := range []string{"pi_pg3a", "pi_pg3b", "pi_pg3c"} {
		d := pgDonation("don_pg3"+string(rune('a'+i)), intent)
		if err := store.Create(ctx, d); err != nil {
			t.Fatal(err)
		}
	}
	now := time.Now().UTC()
	if _, err := store.SetStatus(ctx, "don_pg3a", StatusSucceeded, now); err != nil {
		t.Fatal(err)
	}
	if _, err := store.SetStatus(ctx, "don_pg3b", StatusFailed, time.Time{}); err != nil {
		t.Fatal(err)
	}

	count, total, err := store.CampaignTotal(ctx, "camp_pg1")
	if err != nil {
		t.Fatalf("CampaignTotal failed: %v", err)
	}
	if count != 1 {
		t.Errorf("count: got %d, want 1", count)
	}
	if total != "25.000000" {
		t.Errorf("total: got %s, want 25.000000", total)
	}
}

func TestPostgresDonations_ListByCampaign(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	for i, intent := range []string{"pi_pg4a", "pi_pg4b"} {
		d := pgDonation("don_pg4"+string(rune('a'+i)), intent)
		d.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := store.Create(ctx, d); err != nil {
			t.Fatal(err)
		}
	}

	list, err := store.ListByCampaign(ctx, "camp_pg1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("got %d donations, want 2", len(list))
	}
	if !list[0].CreatedAt.After(list[1].CreatedAt) {
		t.Error("listing not newest-first")
	}
}
