package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/openrelief/reliefd/internal/idgen"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed ledger store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the ledger tables if they don't exist. The goose
// migrations under migrations/ are the production path; this exists for
// dev bootstrap and the integration test harness.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS campaigns (
			id                 VARCHAR(40) PRIMARY KEY,
			name               TEXT NOT NULL,
			description        TEXT NOT NULL DEFAULT '',
			region             TEXT NOT NULL DEFAULT '',
			target_amount      NUMERIC(20,6) NOT NULL DEFAULT 0 CHECK (target_amount >= 0),
			raised_amount      NUMERIC(20,6) NOT NULL DEFAULT 0 CHECK (raised_amount >= 0),
			distributed_amount NUMERIC(20,6) NOT NULL DEFAULT 0 CHECK (distributed_amount >= 0),
			spent_amount       NUMERIC(20,6) NOT NULL DEFAULT 0 CHECK (spent_amount >= 0),
			status             VARCHAR(20) NOT NULL DEFAULT 'draft',
			created_at         TIMESTAMPTZ DEFAULT NOW(),
			updated_at         TIMESTAMPTZ DEFAULT NOW(),
			CHECK (raised_amount >= distributed_amount),
			CHECK (distributed_amount >= spent_amount)
		);
		CREATE INDEX IF NOT EXISTS idx_campaigns_status ON campaigns(status);

		CREATE TABLE IF NOT EXISTS allocations (
			id                   VARCHAR(40) PRIMARY KEY,
			campaign_id          VARCHAR(40) NOT NULL REFERENCES campaigns(id),
			beneficiary_id       VARCHAR(40) NOT NULL,
			total_amount         NUMERIC(20,6) NOT NULL DEFAULT 0 CHECK (total_amount >= 0),
			distributed_amount   NUMERIC(20,6) NOT NULL DEFAULT 0 CHECK (distributed_amount >= 0),
			food_allowance       NUMERIC(20,6) NOT NULL DEFAULT 0,
			medical_allowance    NUMERIC(20,6) NOT NULL DEFAULT 0,
			shelter_allowance    NUMERIC(20,6) NOT NULL DEFAULT 0,
			utilities_allowance  NUMERIC(20,6) NOT NULL DEFAULT 0,
			transport_allowance  NUMERIC(20,6) NOT NULL DEFAULT 0,
			is_active            BOOLEAN NOT NULL DEFAULT TRUE,
			distribution_tx_hash TEXT NOT NULL DEFAULT '',
			distributed_at       TIMESTAMPTZ,
			created_at           TIMESTAMPTZ DEFAULT NOW(),
			updated_at           TIMESTAMPTZ DEFAULT NOW(),
			UNIQUE (campaign_id, beneficiary_id)
		);
		CREATE INDEX IF NOT EXISTS idx_allocations_campaign ON allocations(campaign_id);
		CREATE INDEX IF NOT EXISTS idx_allocations_beneficiary ON allocations(beneficiary_id);

		CREATE TABLE IF NOT EXISTS transaction_logs (
			id             VARCHAR(40) PRIMARY KEY,
			campaign_id    VARCHAR(40) NOT NULL DEFAULT '',
			beneficiary_id VARCHAR(40) NOT NULL DEFAULT '',
			tx_type        VARCHAR(20) NOT NULL,
			status         VARCHAR(20) NOT NULL DEFAULT 'pending',
			tx_hash        TEXT NOT NULL DEFAULT '',
			from_address   VARCHAR(42) NOT NULL DEFAULT '',
			to_address     VARCHAR(42) NOT NULL DEFAULT '',
			amount         NUMERIC(20,6) NOT NULL CHECK (amount >= 0),
			category       VARCHAR(20) NOT NULL DEFAULT '',
			notes          TEXT NOT NULL DEFAULT '',
			is_flagged     BOOLEAN NOT NULL DEFAULT FALSE,
			flag_reason    TEXT NOT NULL DEFAULT '',
			fraud_score    NUMERIC(10,6) NOT NULL DEFAULT 0,
			created_at     TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_txlog_beneficiary ON transaction_logs(beneficiary_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_txlog_campaign ON transaction_logs(campaign_id);
		CREATE INDEX IF NOT EXISTS idx_txlog_flagged ON transaction_logs(is_flagged) WHERE is_flagged;
		CREATE INDEX IF NOT EXISTS idx_txlog_pending ON transaction_logs(created_at) WHERE tx_hash = '' AND status <> 'failed';

		CREATE TABLE IF NOT EXISTS beneficiaries (
			id             VARCHAR(40) PRIMARY KEY,
			name           TEXT NOT NULL,
			region         TEXT NOT NULL DEFAULT '',
			status         VARCHAR(20) NOT NULL DEFAULT 'pending',
			primary_wallet VARCHAR(42) NOT NULL DEFAULT '',
			created_at     TIMESTAMPTZ DEFAULT NOW(),
			updated_at     TIMESTAMPTZ DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS wallets (
			address        VARCHAR(42) PRIMARY KEY,
			beneficiary_id VARCHAR(40) NOT NULL DEFAULT '',
			is_whitelisted BOOLEAN NOT NULL DEFAULT FALSE,
			whitelisted_at TIMESTAMPTZ,
			created_at     TIMESTAMPTZ DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS merchants (
			id            VARCHAR(40) PRIMARY KEY,
			name          TEXT NOT NULL,
			wallet        VARCHAR(42) NOT NULL,
			category      VARCHAR(20) NOT NULL,
			location      TEXT NOT NULL DEFAULT '',
			chain_tx_hash TEXT NOT NULL DEFAULT '',
			created_at    TIMESTAMPTZ DEFAULT NOW()
		);
	`)
	return err
}

// Campaigns

const campaignColumns = `id, name, description, region, target_amount, raised_amount,
	distributed_amount, spent_amount, status, created_at, updated_at`

func (p *PostgresStore) CreateCampaign(ctx context.Context, c *Campaign) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO campaigns (id, name, description, region, target_amount,
			raised_amount, distributed_amount, spent_amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::NUMERIC(20,6), $6::NUMERIC(20,6),
			$7::NUMERIC(20,6), $8::NUMERIC(20,6), $9, $10, $11)
	`, c.ID, c.Name, c.Description, c.Region, orZeroAmount(c.TargetAmount),
		orZeroAmount(c.RaisedAmount), orZeroAmount(c.DistributedAmount),
		orZeroAmount(c.SpentAmount), string(c.Status), c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert campaign: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetCampaign(ctx context.Context, id string) (*Campaign, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id)
	c, err := scanCampaign(row)
	if err == sql.ErrNoRows {
		return nil, ErrCampaignNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

func (p *PostgresStore) ListCampaigns(ctx context.Context, status CampaignStatus, limit int) ([]*Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, limitOrDefault(limit))

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (p *PostgresStore) SetCampaignStatus(ctx context.Context, id string, status CampaignStatus) (*Campaign, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM campaigns WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return nil, ErrCampaignNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock campaign: %w", err)
	}
	if !CampaignStatus(current).CanTransitionTo(status) {
		return nil, ErrInvalidTransition
	}

	row := tx.QueryRowContext(ctx, `
		UPDATE campaigns SET status = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+campaignColumns, id, string(status))
	c, err := scanCampaign(row)
	if err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return c, nil
}

func (p *PostgresStore) AddRaised(ctx context.Context, campaignID, amount string) (*Campaign, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE campaigns
		SET raised_amount = raised_amount + $2::NUMERIC(20,6), updated_at = NOW()
		WHERE id = $1
		RETURNING `+campaignColumns, campaignID, amount)
	c, err := scanCampaign(row)
	if err == sql.ErrNoRows {
		return nil, ErrCampaignNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("add raised: %w", err)
	}
	return c, nil
}

// AddDistributed performs the remaining-funds check and the increment as a
// single statement, so concurrent distributions can never overdraw.
func (p *PostgresStore) AddDistributed(ctx context.Context, campaignID, amount string) (*Campaign, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE campaigns
		SET distributed_amount = distributed_amount + $2::NUMERIC(20,6), updated_at = NOW()
		WHERE id = $1 AND raised_amount - distributed_amount >= $2::NUMERIC(20,6)
		RETURNING `+campaignColumns, campaignID, amount)
	c, err := scanCampaign(row)
	if err == sql.ErrNoRows {
		// Distinguish missing campaign from insufficient funds.
		if _, getErr := p.GetCampaign(ctx, campaignID); getErr != nil {
			return nil, getErr
		}
		return nil, ErrInsufficientFunds
	}
	if err != nil {
		return nil, fmt.Errorf("add distributed: %w", err)
	}
	return c, nil
}

func (p *PostgresStore) AddSpent(ctx context.Context, campaignID, amount string) (*Campaign, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE campaigns
		SET spent_amount = spent_amount + $2::NUMERIC(20,6), updated_at = NOW()
		WHERE id = $1
		RETURNING `+campaignColumns, campaignID, amount)
	c, err := scanCampaign(row)
	if err == sql.ErrNoRows {
		return nil, ErrCampaignNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("add spent: %w", err)
	}
	return c, nil
}

// Allocations

const allocationColumns = `id, campaign_id, beneficiary_id, total_amount, distributed_amount,
	food_allowance, medical_allowance, shelter_allowance, utilities_allowance, transport_allowance,
	is_active, distribution_tx_hash, distributed_at, created_at, updated_at`

func (p *PostgresStore) GetAllocation(ctx context.Context, campaignID, beneficiaryID string) (*Allocation, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+allocationColumns+` FROM allocations
		WHERE campaign_id = $1 AND beneficiary_id = $2
	`, campaignID, beneficiaryID)
	a, err := scanAllocation(row)
	if err == sql.ErrNoRows {
		return nil, ErrAllocationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get allocation: %w", err)
	}
	return a, nil
}

func (p *PostgresStore) ListAllocations(ctx context.Context, campaignID string) ([]*Allocation, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+allocationColumns+` FROM allocations
		WHERE campaign_id = $1 ORDER BY created_at
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list allocations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Allocation
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// AccumulateAllocation relies on the (campaign_id, beneficiary_id) unique
// constraint: INSERT ... ON CONFLICT makes the read-modify-write a single
// atomic statement, so concurrent distributions to the same pair cannot
// lose an update.
func (p *PostgresStore) AccumulateAllocation(ctx context.Context, campaignID, beneficiaryID, amount string, allowances CategoryAmounts, txHash string, at time.Time) (*Allocation, error) {
	row := p.db.QueryRowContext(ctx, `
		INSERT INTO allocations (
			id, campaign_id, beneficiary_id, total_amount, distributed_amount,
			food_allowance, medical_allowance, shelter_allowance,
			utilities_allowance, transport_allowance,
			is_active, distribution_tx_hash, distributed_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4::NUMERIC(20,6), $4::NUMERIC(20,6),
			$5::NUMERIC(20,6), $6::NUMERIC(20,6), $7::NUMERIC(20,6),
			$8::NUMERIC(20,6), $9::NUMERIC(20,6),
			TRUE, $10, $11, NOW(), NOW())
		ON CONFLICT (campaign_id, beneficiary_id) DO UPDATE SET
			total_amount        = allocations.total_amount + EXCLUDED.total_amount,
			distributed_amount  = allocations.total_amount + EXCLUDED.total_amount,
			food_allowance      = allocations.food_allowance + EXCLUDED.food_allowance,
			medical_allowance   = allocations.medical_allowance + EXCLUDED.medical_allowance,
			shelter_allowance   = allocations.shelter_allowance + EXCLUDED.shelter_allowance,
			utilities_allowance = allocations.utilities_allowance + EXCLUDED.utilities_allowance,
			transport_allowance = allocations.transport_allowance + EXCLUDED.transport_allowance,
			distribution_tx_hash = EXCLUDED.distribution_tx_hash,
			distributed_at      = EXCLUDED.distributed_at,
			updated_at          = NOW()
		RETURNING `+allocationColumns,
		idgen.WithPrefix("alloc_"), campaignID, beneficiaryID, orZeroAmount(amount),
		orZeroAmount(allowances.Food), orZeroAmount(allowances.Medical),
		orZeroAmount(allowances.Shelter), orZeroAmount(allowances.Utilities),
		orZeroAmount(allowances.Transport), txHash, nullTimeOrValue(at))
	a, err := scanAllocation(row)
	if err != nil {
		return nil, fmt.Errorf("accumulate allocation: %w", err)
	}
	return a, nil
}

// Transaction log

const txColumns = `id, campaign_id, beneficiary_id, tx_type, status, tx_hash,
	from_address, to_address, amount, category, notes, is_flagged, flag_reason,
	fraud_score, created_at`

func (p *PostgresStore) AppendTransaction(ctx context.Context, tx *TransactionLog) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO transaction_logs (id, campaign_id, beneficiary_id, tx_type,
			status, tx_hash, from_address, to_address, amount, category, notes,
			is_flagged, flag_reason, fraud_score, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::NUMERIC(20,6), $10, $11, $12, $13, $14, $15)
	`, tx.ID, tx.CampaignID, tx.BeneficiaryID, string(tx.Type), string(tx.Status),
		tx.TxHash, tx.FromAddress, tx.ToAddress, orZeroAmount(tx.Amount), tx.Category,
		tx.Notes, tx.IsFlagged, tx.FlagReason, tx.FraudScore, tx.CreatedAt)
	if err != nil {
		return fmt.Errorf("append transaction: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetTransaction(ctx context.Context, id string) (*TransactionLog, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+txColumns+` FROM transaction_logs WHERE id = $1`, id)
	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return t, nil
}

func (p *PostgresStore) ListTransactions(ctx context.Context, f TransactionFilter) ([]*TransactionLog, error) {
	query := `SELECT ` + txColumns + ` FROM transaction_logs WHERE 1=1`
	args := []interface{}{}
	if f.CampaignID != "" {
		args = append(args, f.CampaignID)
		query += fmt.Sprintf(` AND campaign_id = $%d`, len(args))
	}
	if f.BeneficiaryID != "" {
		args = append(args, f.BeneficiaryID)
		query += fmt.Sprintf(` AND beneficiary_id = $%d`, len(args))
	}
	if f.Type != "" {
		args = append(args, string(f.Type))
		query += fmt.Sprintf(` AND tx_type = $%d`, len(args))
	}
	if f.FlaggedOnly {
		query += ` AND is_flagged`
	}
	args = append(args, limitOrDefault(f.Limit))
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args))

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanTransactions(rows)
}

func (p *PostgresStore) History(ctx context.Context, beneficiaryID string, t time.Time, limit int) ([]*TransactionLog, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+txColumns+` FROM transaction_logs
		WHERE beneficiary_id = $1 AND created_at < $2
		ORDER BY created_at DESC LIMIT $3
	`, beneficiaryID, t, limitOrDefault(limit))
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanTransactions(rows)
}

func (p *PostgresStore) ListPendingChain(ctx context.Context, limit int) ([]*TransactionLog, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+txColumns+` FROM transaction_logs
		WHERE tx_hash = '' AND status <> 'failed'
		ORDER BY created_at LIMIT $1
	`, limitOrDefault(limit))
	if err != nil {
		return nil, fmt.Errorf("list pending chain: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanTransactions(rows)
}

func (p *PostgresStore) SettleChainLeg(ctx context.Context, id, txHash string) (*TransactionLog, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE transaction_logs
		SET tx_hash = $2, status = 'confirmed'
		WHERE id = $1
		RETURNING `+txColumns, id, txHash)
	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("settle chain leg: %w", err)
	}
	return t, nil
}

func (p *PostgresStore) FailChainLeg(ctx context.Context, id string) (*TransactionLog, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE transaction_logs
		SET status = 'failed'
		WHERE id = $1
		RETURNING `+txColumns, id)
	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fail chain leg: %w", err)
	}
	return t, nil
}

func (p *PostgresStore) FlagTransaction(ctx context.Context, id, reason string, score float64) (*TransactionLog, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE transaction_logs
		SET is_flagged = TRUE, flag_reason = $2, fraud_score = $3
		WHERE id = $1
		RETURNING `+txColumns, id, reason, score)
	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("flag transaction: %w", err)
	}
	return t, nil
}

func (p *PostgresStore) ClearFlag(ctx context.Context, id, note string) (*TransactionLog, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE transaction_logs
		SET is_flagged = FALSE,
			flag_reason = CASE WHEN $2 = '' THEN flag_reason
				ELSE flag_reason || ' (cleared: ' || $2 || ')' END
		WHERE id = $1 AND is_flagged
		RETURNING `+txColumns, id, note)
	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		if _, getErr := p.GetTransaction(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrNotFlagged
	}
	if err != nil {
		return nil, fmt.Errorf("clear flag: %w", err)
	}
	return t, nil
}

// Stats

func (p *PostgresStore) GetCampaignStats(ctx context.Context, campaignID string) (*CampaignStats, error) {
	c, err := p.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	stats := &CampaignStats{
		CampaignID:         campaignID,
		RaisedAmount:       c.RaisedAmount,
		DistributedAmount:  c.DistributedAmount,
		SpentAmount:        c.SpentAmount,
		RemainingAmount:    c.RemainingAmount(),
		SpendingByCategory: make(map[string]string),
	}
	for _, cat := range Categories {
		stats.SpendingByCategory[cat] = "0.000000"
	}

	err = p.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM allocations WHERE campaign_id = $1),
			(SELECT COUNT(*) FROM transaction_logs WHERE campaign_id = $1),
			(SELECT COUNT(*) FROM transaction_logs WHERE campaign_id = $1 AND is_flagged)
	`, campaignID).Scan(&stats.BeneficiaryCount, &stats.TransactionCount, &stats.FlaggedCount)
	if err != nil {
		return nil, fmt.Errorf("campaign counts: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT category, COALESCE(SUM(amount), 0)::TEXT
		FROM transaction_logs
		WHERE campaign_id = $1 AND tx_type = 'spend' AND category <> ''
		GROUP BY category
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("spending by category: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var category, sum string
		if err := rows.Scan(&category, &sum); err != nil {
			return nil, err
		}
		stats.SpendingByCategory[category] = sum
	}
	return stats, rows.Err()
}

// Beneficiaries

const beneficiaryColumns = `id, name, region, status, primary_wallet, created_at, updated_at`

func (p *PostgresStore) CreateBeneficiary(ctx context.Context, b *Beneficiary) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO beneficiaries (id, name, region, status, primary_wallet, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, b.ID, b.Name, b.Region, string(b.Status), b.PrimaryWallet, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert beneficiary: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetBeneficiary(ctx context.Context, id string) (*Beneficiary, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+beneficiaryColumns+` FROM beneficiaries WHERE id = $1`, id)
	b, err := scanBeneficiary(row)
	if err == sql.ErrNoRows {
		return nil, ErrBeneficiaryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get beneficiary: %w", err)
	}
	return b, nil
}

func (p *PostgresStore) ListBeneficiaries(ctx context.Context, status VerificationStatus, limit int) ([]*Beneficiary, error) {
	query := `SELECT ` + beneficiaryColumns + ` FROM beneficiaries`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, limitOrDefault(limit))

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list beneficiaries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Beneficiary
	for rows.Next() {
		b, err := scanBeneficiary(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

func (p *PostgresStore) SetVerification(ctx context.Context, id string, status VerificationStatus) (*Beneficiary, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE beneficiaries SET status = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+beneficiaryColumns, id, string(status))
	b, err := scanBeneficiary(row)
	if err == sql.ErrNoRows {
		return nil, ErrBeneficiaryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("set verification: %w", err)
	}
	return b, nil
}

func (p *PostgresStore) SetPrimaryWallet(ctx context.Context, beneficiaryID, address string) (*Beneficiary, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE beneficiaries SET primary_wallet = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+beneficiaryColumns, beneficiaryID, address)
	b, err := scanBeneficiary(row)
	if err == sql.ErrNoRows {
		return nil, ErrBeneficiaryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("set primary wallet: %w", err)
	}
	return b, nil
}

// Wallets

func (p *PostgresStore) GetWallet(ctx context.Context, address string) (*Wallet, error) {
	var w Wallet
	var whitelistedAt sql.NullTime
	var createdAt sql.NullTime
	err := p.db.QueryRowContext(ctx, `
		SELECT address, beneficiary_id, is_whitelisted, whitelisted_at, created_at
		FROM wallets WHERE LOWER(address) = LOWER($1)
	`, address).Scan(&w.Address, &w.BeneficiaryID, &w.IsWhitelisted, &whitelistedAt, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get wallet: %w", err)
	}
	if whitelistedAt.Valid {
		w.WhitelistedAt = whitelistedAt.Time
	}
	if createdAt.Valid {
		w.CreatedAt = createdAt.Time
	}
	return &w, nil
}

func (p *PostgresStore) UpsertWallet(ctx context.Context, w *Wallet) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO wallets (address, beneficiary_id, is_whitelisted, whitelisted_at, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (address) DO UPDATE SET
			beneficiary_id = EXCLUDED.beneficiary_id,
			is_whitelisted = EXCLUDED.is_whitelisted,
			whitelisted_at = EXCLUDED.whitelisted_at
	`, w.Address, w.BeneficiaryID, w.IsWhitelisted, nullTimeOrValue(w.WhitelistedAt))
	if err != nil {
		return fmt.Errorf("upsert wallet: %w", err)
	}
	return nil
}

func (p *PostgresStore) MarkWhitelisted(ctx context.Context, address string, at time.Time) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE wallets SET is_whitelisted = TRUE, whitelisted_at = $2
		WHERE LOWER(address) = LOWER($1)
	`, address, at)
	if err != nil {
		return fmt.Errorf("mark whitelisted: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrWalletNotFound
	}
	return nil
}

// Merchants

func (p *PostgresStore) CreateMerchant(ctx context.Context, m *Merchant) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO merchants (id, name, wallet, category, location, chain_tx_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, m.ID, m.Name, m.Wallet, m.Category, m.Location, m.ChainTxHash, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert merchant: %w", err)
	}
	return nil
}

func (p *PostgresStore) ListMerchants(ctx context.Context, limit int) ([]*Merchant, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, wallet, category, location, chain_tx_hash, created_at
		FROM merchants ORDER BY created_at LIMIT $1
	`, limitOrDefault(limit))
	if err != nil {
		return nil, fmt.Errorf("list merchants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Merchant
	for rows.Next() {
		var m Merchant
		var createdAt sql.NullTime
		if err := rows.Scan(&m.ID, &m.Name, &m.Wallet, &m.Category, &m.Location, &m.ChainTxHash, &createdAt); err != nil {
			return nil, err
		}
		if createdAt.Valid {
			m.CreatedAt = createdAt.Time
		}
		result = append(result, &m)
	}
	return result, rows.Err()
}

// Scanning helpers

// scannable abstracts *sql.Row and *sql.Rows for shared scanning logic.
type scannable interface {
	Scan(dest ...interface{}) error
}

func scanCampaign(row scannable) (*Campaign, error) {
	var c Campaign
	var status string
	var createdAt, updatedAt sql.NullTime
	err := row.Scan(&c.ID, &c.Name, &c.Description, &c.Region, &c.TargetAmount,
		&c.RaisedAmount, &c.DistributedAmount, &c.SpentAmount, &status,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	c.Status = CampaignStatus(status)
	if createdAt.Valid {
		c.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		c.UpdatedAt = updatedAt.Time
	}
	return &c, nil
}

func scanAllocation(row scannable) (*Allocation, error) {
	var a Allocation
	var distributedAt, createdAt, updatedAt sql.NullTime
	err := row.Scan(&a.ID, &a.CampaignID, &a.BeneficiaryID, &a.TotalAmount,
		&a.DistributedAmount, &a.Allowances.Food, &a.Allowances.Medical,
		&a.Allowances.Shelter, &a.Allowances.Utilities, &a.Allowances.Transport,
		&a.IsActive, &a.DistributionTxHash, &distributedAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if distributedAt.Valid {
		a.DistributedAt = distributedAt.Time
	}
	if createdAt.Valid {
		a.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		a.UpdatedAt = updatedAt.Time
	}
	return &a, nil
}

func scanTransaction(row scannable) (*TransactionLog, error) {
	var t TransactionLog
	var txType, status string
	var createdAt sql.NullTime
	err := row.Scan(&t.ID, &t.CampaignID, &t.BeneficiaryID, &txType, &status,
		&t.TxHash, &t.FromAddress, &t.ToAddress, &t.Amount, &t.Category,
		&t.Notes, &t.IsFlagged, &t.FlagReason, &t.FraudScore, &createdAt)
	if err != nil {
		return nil, err
	}
	t.Type = TxType(txType)
	t.Status = TxStatus(status)
	if createdAt.Valid {
		t.CreatedAt = createdAt.Time
	}
	return &t, nil
}

func scanTransactions(rows *sql.Rows) ([]*TransactionLog, error) {
	var result []*TransactionLog
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func scanBeneficiary(row scannable) (*Beneficiary, error) {
	var b Beneficiary
	var status string
	var createdAt, updatedAt sql.NullTime
	err := row.Scan(&b.ID, &b.Name, &b.Region, &status, &b.PrimaryWallet,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	b.Status = VerificationStatus(status)
	if createdAt.Valid {
		b.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		b.UpdatedAt = updatedAt.Time
	}
	return &b, nil
}

// nullTimeOrValue returns a sql.NullTime: valid if t is non-zero, null otherwise.
func nullTimeOrValue(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

// orZeroAmount defaults empty numeric strings so the NUMERIC cast doesn't fail.
func orZeroAmount(s string) string {
	if s == "" {
		return "0.000000"
	}
	return s
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}
