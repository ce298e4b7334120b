// Package ledger is the authoritative off-chain record of relief funds.
//
// Campaigns, per-beneficiary allocations, and the append-only transaction
// log live here. The on-chain token ledger is a separate system of record;
// rows whose tx hash is empty mark money movements whose on-chain leg has
// not (yet) settled, and the reconciliation worker scans for them.
//
// All amounts are decimal strings with 6 places ("100.000000"), persisted
// as NUMERIC(20,6). Arithmetic goes through internal/drusd so it happens in
// integer minor units, never floats.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/openrelief/reliefd/internal/drusd"
)

var (
	ErrCampaignNotFound    = errors.New("campaign not found")
	ErrAllocationNotFound  = errors.New("allocation not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrBeneficiaryNotFound = errors.New("beneficiary not found")
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrInsufficientFunds   = errors.New("insufficient campaign funds")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidTransition   = errors.New("invalid campaign status transition")
	ErrNotFlagged          = errors.New("transaction is not flagged")
)

// CampaignStatus represents the lifecycle state of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignCancelled CampaignStatus = "cancelled"
)

// campaignTransitions lists the legal status moves. Completed and cancelled
// are terminal.
var campaignTransitions = map[CampaignStatus][]CampaignStatus{
	CampaignDraft:  {CampaignActive, CampaignCancelled},
	CampaignActive: {CampaignPaused, CampaignCompleted, CampaignCancelled},
	CampaignPaused: {CampaignActive, CampaignCompleted, CampaignCancelled},
}

// CanTransitionTo reports whether moving from s to next is legal.
func (s CampaignStatus) CanTransitionTo(next CampaignStatus) bool {
	for _, allowed := range campaignTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Campaign is a funding effort for a disaster-relief region. Campaigns are
// never deleted, only transitioned to a terminal status.
type Campaign struct {
	ID                string         `json:"id"`
	Name              string         `json:"name"`
	Description       string         `json:"description,omitempty"`
	Region            string         `json:"region"`
	TargetAmount      string         `json:"targetAmount"`
	RaisedAmount      string         `json:"raisedAmount"`
	DistributedAmount string         `json:"distributedAmount"`
	SpentAmount       string         `json:"spentAmount"`
	Status            CampaignStatus `json:"status"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

// RemainingAmount is raised minus distributed, as a decimal string.
func (c *Campaign) RemainingAmount() string {
	remaining, ok := drusd.Sub(c.RaisedAmount, c.DistributedAmount)
	if !ok {
		return "0.000000"
	}
	return remaining
}

// CategoryAmounts carries a per-spending-category amount breakdown,
// used for allocation allowances and their deltas.
type CategoryAmounts struct {
	Food      string `json:"food"`
	Medical   string `json:"medical"`
	Shelter   string `json:"shelter"`
	Utilities string `json:"utilities"`
	Transport string `json:"transport"`
}

// Categories in their on-chain enum order.
var Categories = []string{"food", "medical", "shelter", "utilities", "transport"}

// IsValidCategory reports whether name is a known spending category.
func IsValidCategory(name string) bool {
	for _, c := range Categories {
		if c == name {
			return true
		}
	}
	return false
}

// Get returns the amount for a named category ("" if unknown).
func (c CategoryAmounts) Get(category string) string {
	switch category {
	case "food":
		return c.Food
	case "medical":
		return c.Medical
	case "shelter":
		return c.Shelter
	case "utilities":
		return c.Utilities
	case "transport":
		return c.Transport
	}
	return ""
}

// Zero reports whether every category amount is empty or zero.
func (c CategoryAmounts) Zero() bool {
	for _, cat := range Categories {
		if v, ok := drusd.Parse(c.Get(cat)); ok && v.Sign() > 0 {
			return false
		}
	}
	return true
}

// Allocation records funds earmarked for one beneficiary within one
// campaign. Exactly one row exists per (campaign, beneficiary) pair;
// repeat distributions accumulate into it.
type Allocation struct {
	ID                 string          `json:"id"`
	CampaignID         string          `json:"campaignId"`
	BeneficiaryID      string          `json:"beneficiaryId"`
	TotalAmount        string          `json:"totalAmount"`
	DistributedAmount  string          `json:"distributedAmount"`
	Allowances         CategoryAmounts `json:"allowances"`
	IsActive           bool            `json:"isActive"`
	DistributionTxHash string          `json:"distributionTxHash,omitempty"`
	DistributedAt      time.Time       `json:"distributedAt,omitempty"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
}

// TxType classifies a money movement.
type TxType string

const (
	TxMint       TxType = "mint"
	TxDistribute TxType = "distribute"
	TxSpend      TxType = "spend"
	TxTransfer   TxType = "transfer"
	TxRefund     TxType = "refund"
)

// TxStatus tracks the on-chain leg of a movement. The off-chain intent is
// the row itself; a pending status with an empty hash means the chain leg
// failed or was never attempted.
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxConfirmed TxStatus = "confirmed"
	TxFailed    TxStatus = "failed"
)

// TransactionLog is one immutable money-movement record. Only the flag
// fields are ever updated after append.
type TransactionLog struct {
	ID            string    `json:"id"`
	CampaignID    string    `json:"campaignId,omitempty"`
	BeneficiaryID string    `json:"beneficiaryId,omitempty"`
	Type          TxType    `json:"type"`
	Status        TxStatus  `json:"status"`
	TxHash        string    `json:"txHash,omitempty"`
	FromAddress   string    `json:"fromAddress,omitempty"`
	ToAddress     string    `json:"toAddress,omitempty"`
	Amount        string    `json:"amount"`
	Category      string    `json:"category,omitempty"`
	Notes         string    `json:"notes,omitempty"`
	IsFlagged     bool      `json:"isFlagged"`
	FlagReason    string    `json:"flagReason,omitempty"`
	FraudScore    float64   `json:"fraudScore"`
	CreatedAt     time.Time `json:"createdAt"`
}

// VerificationStatus of a beneficiary. Only verified beneficiaries may
// receive distributions.
type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationVerified VerificationStatus = "verified"
	VerificationRejected VerificationStatus = "rejected"
)

// Beneficiary is a relief recipient. Identity and auth live elsewhere; the
// ledger only needs verification state and the primary wallet.
type Beneficiary struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	Region        string             `json:"region"`
	Status        VerificationStatus `json:"status"`
	PrimaryWallet string             `json:"primaryWallet,omitempty"`
	CreatedAt     time.Time          `json:"createdAt"`
	UpdatedAt     time.Time          `json:"updatedAt"`
}

// Wallet caches on-chain whitelist state for an address. The cache may be
// stale; the orchestrator confirms against the chain before trusting it.
type Wallet struct {
	Address       string    `json:"address"`
	BeneficiaryID string    `json:"beneficiaryId,omitempty"`
	IsWhitelisted bool      `json:"isWhitelisted"`
	WhitelistedAt time.Time `json:"whitelistedAt,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Merchant is an approved spending destination, mirrored on the spending
// controller contract.
type Merchant struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Wallet      string    `json:"wallet"`
	Category    string    `json:"category"`
	Location    string    `json:"location,omitempty"`
	ChainTxHash string    `json:"chainTxHash,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// CampaignStats aggregates a campaign's ledger for the transparency view.
type CampaignStats struct {
	CampaignID         string            `json:"campaignId"`
	RaisedAmount       string            `json:"raisedAmount"`
	DistributedAmount  string            `json:"distributedAmount"`
	SpentAmount        string            `json:"spentAmount"`
	RemainingAmount    string            `json:"remainingAmount"`
	BeneficiaryCount   int               `json:"beneficiaryCount"`
	TransactionCount   int               `json:"transactionCount"`
	FlaggedCount       int               `json:"flaggedCount"`
	SpendingByCategory map[string]string `json:"spendingByCategory"`
}

// TransactionFilter narrows ListTransactions.
type TransactionFilter struct {
	CampaignID    string
	BeneficiaryID string
	Type          TxType
	FlaggedOnly   bool
	Limit         int
}

// Store persists the off-chain ledger.
//
// AddDistributed and AccumulateAllocation are the orchestrator's atomic
// primitives: the remaining-funds check-then-increment and the allocation
// read-modify-write must not lose updates under concurrent distributions.
type Store interface {
	// Campaigns
	CreateCampaign(ctx context.Context, c *Campaign) error
	GetCampaign(ctx context.Context, id string) (*Campaign, error)
	ListCampaigns(ctx context.Context, status CampaignStatus, limit int) ([]*Campaign, error)
	SetCampaignStatus(ctx context.Context, id string, status CampaignStatus) (*Campaign, error)

	// AddRaised increments raised_amount (mint).
	AddRaised(ctx context.Context, campaignID, amount string) (*Campaign, error)
	// AddDistributed atomically checks remaining funds and increments
	// distributed_amount, returning ErrInsufficientFunds without mutation
	// when amount exceeds raised - distributed.
	AddDistributed(ctx context.Context, campaignID, amount string) (*Campaign, error)
	// AddSpent increments spent_amount (beneficiary spend).
	AddSpent(ctx context.Context, campaignID, amount string) (*Campaign, error)

	// Allocations
	GetAllocation(ctx context.Context, campaignID, beneficiaryID string) (*Allocation, error)
	ListAllocations(ctx context.Context, campaignID string) ([]*Allocation, error)
	// AccumulateAllocation upserts the (campaign, beneficiary) row: created
	// with the given amounts if absent, otherwise amount and each allowance
	// are added to the existing totals. distributed_amount tracks
	// total_amount; distributed_at and the tx hash are stamped each call.
	AccumulateAllocation(ctx context.Context, campaignID, beneficiaryID, amount string, allowances CategoryAmounts, txHash string, at time.Time) (*Allocation, error)

	// Transaction log
	AppendTransaction(ctx context.Context, tx *TransactionLog) error
	GetTransaction(ctx context.Context, id string) (*TransactionLog, error)
	ListTransactions(ctx context.Context, f TransactionFilter) ([]*TransactionLog, error)
	// History returns the beneficiary's transactions strictly before t,
	// most recent first, at most limit rows.
	History(ctx context.Context, beneficiaryID string, t time.Time, limit int) ([]*TransactionLog, error)
	// ListPendingChain returns rows whose on-chain leg never settled
	// (empty tx hash, non-failed status), oldest first.
	ListPendingChain(ctx context.Context, limit int) ([]*TransactionLog, error)
	// SettleChainLeg stamps the tx hash on a pending row and marks it
	// confirmed; used by reconciliation after a successful retry.
	SettleChainLeg(ctx context.Context, id, txHash string) (*TransactionLog, error)
	// FailChainLeg marks a pending row's chain leg as permanently failed
	// so reconciliation stops retrying it.
	FailChainLeg(ctx context.Context, id string) (*TransactionLog, error)
	FlagTransaction(ctx context.Context, id, reason string, score float64) (*TransactionLog, error)
	// ClearFlag unsets the flag after admin review, recording the note.
	ClearFlag(ctx context.Context, id, note string) (*TransactionLog, error)

	// Stats
	GetCampaignStats(ctx context.Context, campaignID string) (*CampaignStats, error)

	// Beneficiaries
	CreateBeneficiary(ctx context.Context, b *Beneficiary) error
	GetBeneficiary(ctx context.Context, id string) (*Beneficiary, error)
	ListBeneficiaries(ctx context.Context, status VerificationStatus, limit int) ([]*Beneficiary, error)
	SetVerification(ctx context.Context, id string, status VerificationStatus) (*Beneficiary, error)
	SetPrimaryWallet(ctx context.Context, beneficiaryID, address string) (*Beneficiary, error)

	// Wallets (whitelist cache)
	GetWallet(ctx context.Context, address string) (*Wallet, error)
	UpsertWallet(ctx context.Context, w *Wallet) error
	MarkWhitelisted(ctx context.Context, address string, at time.Time) error

	// Merchants
	CreateMerchant(ctx context.Context, m *Merchant) error
	ListMerchants(ctx context.Context, limit int) ([]*Merchant, error)
}
