package donations

import (
	"context"
	"database/sql"
	"time"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed donation store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the donations table if it doesn't exist. The goose
// migrations under migrations/ are the production path; this exists for
// dev bootstrap and the integration test harness.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS donations (
			id                VARCHAR(40) PRIMARY KEY,
			campaign_id       VARCHAR(40) NOT NULL,
			donor_name        TEXT NOT NULL DEFAULT '',
			donor_email       TEXT NOT NULL DEFAULT '',
			message           TEXT NOT NULL DEFAULT '',
			anonymous         BOOLEAN NOT NULL DEFAULT FALSE,
			amount            NUMERIC(20,6) NOT NULL CHECK (amount > 0),
			currency          VARCHAR(8) NOT NULL DEFAULT 'usd',
			status            VARCHAR(20) NOT NULL DEFAULT 'pending',
			payment_intent_id TEXT NOT NULL DEFAULT '',
			created_at        TIMESTAMPTZ DEFAULT NOW(),
			settled_at        TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_donations_campaign ON donations(campaign_id, created_at DESC);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_donations_intent ON donations(payment_intent_id) WHERE payment_intent_id <> '';
	`)
	return err
}

const donationColumns = `id, campaign_id, donor_name, donor_email, message, anonymous,
	amount::TEXT, currency, status, payment_intent_id, created_at, settled_at`

func scanDonation(row interface{ Scan(...interface{}) error }) (*Donation, error) {
	var d Donation
	var settledAt sql.NullTime
	err := row.Scan(&d.ID, &d.CampaignID, &d.DonorName, &d.DonorEmail, &d.Message,
		&d.Anonymous, &d.Amount, &d.Currency, &d.Status, &d.PaymentIntentID,
		&d.CreatedAt, &settledAt)
	if err == sql.ErrNoRows {
		return nil, ErrDonationNotFound
	}
	if err != nil {
		return nil, err
	}
	if settledAt.Valid {
		d.SettledAt = settledAt.Time
	}
	return &d, nil
}

func (p *PostgresStore) Create(ctx context.Context, d *Donation) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO donations (id, campaign_id, donor_name, donor_email, message,
			anonymous, amount, currency, status, payment_intent_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8, $9, $10, $11)`,
		d.ID, d.CampaignID, d.DonorName, d.DonorEmail, d.Message,
		d.Anonymous, d.Amount, d.Currency, d.Status, d.PaymentIntentID, d.CreatedAt)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Donation, error) {
	return scanDonation(p.db.QueryRowContext(ctx,
		`SELECT `+donationColumns+` FROM donations WHERE id = $1`, id))
}

func (p *PostgresStore) GetByIntent(ctx context.Context, intentID string) (*Donation, error) {
	return scanDonation(p.db.QueryRowContext(ctx,
		`SELECT `+donationColumns+` FROM donations WHERE payment_intent_id = $1`, intentID))
}

func (p *PostgresStore) SetStatus(ctx context.Context, id string, status Status, settledAt time.Time) (*Donation, error) {
	var settled sql.NullTime
	if !settledAt.IsZero() {
		settled = sql.NullTime{Time: settledAt, Valid: true}
	}
	return scanDonation(p.db.QueryRowContext(ctx, `
		UPDATE donations SET status = $2, settled_at = $3
		WHERE id = $1
		RETURNING `+donationColumns, id, status, settled))
}

func (p *PostgresStore) ListByCampaign(ctx context.Context, campaignID string, limit int) ([]*Donation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+donationColumns+` FROM donations
		WHERE campaign_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, campaignID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Donation
	for rows.Next() {
		d, err := scanDonation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

func (p *PostgresStore) CampaignTotal(ctx context.Context, campaignID string) (int, string, error) {
	var count int
	var total string
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(amount), 0)::TEXT
		FROM donations
		WHERE campaign_id = $1 AND status = 'succeeded'`, campaignID).Scan(&count, &total)
	if err != nil {
		return 0, "0.000000", err
	}
	return count, total, nil
}
