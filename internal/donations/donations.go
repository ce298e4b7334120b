// Package donations takes fiat donations for campaigns through a card
// payment provider and converts settled payments into minted relief funds.
//
// A donation is recorded pending when the payment intent is created; the
// provider's webhook settles it, which mints the equivalent drUSD into the
// campaign. Donor identity is never exposed on public listings unless the
// donor opted out of anonymity.
package donations

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/openrelief/reliefd/internal/drusd"
	"github.com/openrelief/reliefd/internal/idgen"
	"github.com/openrelief/reliefd/internal/ledger"
	"github.com/openrelief/reliefd/internal/logging"
	"github.com/openrelief/reliefd/internal/metrics"
	"github.com/openrelief/reliefd/internal/realtime"
)

var (
	ErrDonationNotFound = errors.New("donations: donation not found")
	ErrInvalidAmount    = errors.New("donations: invalid amount")
	ErrCampaignClosed   = errors.New("donations: campaign is not accepting donations")
)

// Status of a donation payment.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Donation is one fiat contribution to a campaign.
type Donation struct {
	ID              string    `json:"id"`
	CampaignID      string    `json:"campaignId"`
	DonorName       string    `json:"donorName,omitempty"`
	DonorEmail      string    `json:"-"`
	Message         string    `json:"message,omitempty"`
	Anonymous       bool      `json:"anonymous"`
	Amount          string    `json:"amount"` // drUSD, 6 decimals
	Currency        string    `json:"currency"`
	Status          Status    `json:"status"`
	PaymentIntentID string    `json:"-"`
	CreatedAt       time.Time `json:"createdAt"`
	SettledAt       time.Time `json:"settledAt,omitempty"`
}

// PublicView strips donor identity for the transparency feed.
func (d *Donation) PublicView() map[string]interface{} {
	name := "Anonymous"
	if !d.Anonymous && d.DonorName != "" {
		name = d.DonorName
	}
	return map[string]interface{}{
		"id":         d.ID,
		"campaignId": d.CampaignID,
		"donor":      name,
		"message":    d.Message,
		"amount":     d.Amount,
		"status":     d.Status,
		"createdAt":  d.CreatedAt,
	}
}

// Store persists donations.
type Store interface {
	Create(ctx context.Context, d *Donation) error
	Get(ctx context.Context, id string) (*Donation, error)
	GetByIntent(ctx context.Context, intentID string) (*Donation, error)
	SetStatus(ctx context.Context, id string, status Status, settledAt time.Time) (*Donation, error)
	ListByCampaign(ctx context.Context, campaignID string, limit int) ([]*Donation, error)
	CampaignTotal(ctx context.Context, campaignID string) (count int, total string, err error)
}

// PaymentProvider creates payment intents with the card processor.
type PaymentProvider interface {
	CreateIntent(ctx context.Context, amountCents int64, currency string, metadata map[string]string) (intentID, clientSecret string, err error)
}

// Minter turns a settled donation into on-ledger campaign funds.
type Minter interface {
	MintFunds(ctx context.Context, campaignID, amount, purpose string) (*ledger.Campaign, *ledger.TransactionLog, error)
}

// Service coordinates payments, the donation store, and fund minting.
type Service struct {
	store    Store
	ledger   ledger.Store
	provider PaymentProvider
	minter   Minter
	hub      *realtime.Hub // optional
}

// NewService creates a donations service. hub may be nil.
func NewService(store Store, ledgerStore ledger.Store, provider PaymentProvider, minter Minter, hub *realtime.Hub) *Service {
	return &Service{
		store:    store,
		ledger:   ledgerStore,
		provider: provider,
		minter:   minter,
		hub:      hub,
	}
}

// CreateRequest is a new donation order.
type CreateRequest struct {
	CampaignID string `json:"campaignId" binding:"required"`
	Amount     string `json:"amount" binding:"required"`
	DonorName  string `json:"donorName"`
	DonorEmail string `json:"donorEmail"`
	Message    string `json:"message"`
	Anonymous  bool   `json:"anonymous"`
}

// Create validates the campaign, opens a payment intent, and records the
// donation as pending. Returns the donation and the client secret the
// frontend needs to complete the card payment.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Donation, string, error) {
	cents, err := toCents(req.Amount)
	if err != nil {
		return nil, "", err
	}

	campaign, err := s.ledger.GetCampaign(ctx, req.CampaignID)
	if err != nil {
		return nil, "", err
	}
	if campaign.Status != ledger.CampaignActive {
		return nil, "", fmt.Errorf("%w: %s is %s", ErrCampaignClosed, campaign.ID, campaign.Status)
	}

	d := &Donation{
		ID:         idgen.WithPrefix("don_"),
		CampaignID: req.CampaignID,
		DonorName:  req.DonorName,
		DonorEmail: req.DonorEmail,
		Message:    req.Message,
		Anonymous:  req.Anonymous,
		Amount:     normalizeAmount(req.Amount),
		Currency:   "usd",
		Status:     StatusPending,
		CreatedAt:  time.Now().UTC(),
	}

	intentID, clientSecret, err := s.provider.CreateIntent(ctx, cents, d.Currency, map[string]string{
		"donation_id": d.ID,
		"campaign_id": d.CampaignID,
	})
	if err != nil {
		metrics.DonationsTotal.WithLabelValues("intent_failed").Inc()
		return nil, "", fmt.Errorf("create payment intent: %w", err)
	}
	d.PaymentIntentID = intentID

	if err := s.store.Create(ctx, d); err != nil {
		return nil, "", err
	}
	return d, clientSecret, nil
}

// SettleIntent marks the donation behind a payment intent as succeeded and
// mints its amount into the campaign. Idempotent: an already-settled
// donation is returned unchanged.
func (s *Service) SettleIntent(ctx context.Context, intentID string) (*Donation, error) {
	d, err := s.store.GetByIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if d.Status == StatusSucceeded {
		return d, nil
	}

	d, err = s.store.SetStatus(ctx, d.ID, StatusSucceeded, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	if _, _, err := s.minter.MintFunds(ctx, d.CampaignID, d.Amount, "donation "+d.ID); err != nil {
		// The payment is settled either way; the mint can be replayed by an
		// operator, so log loudly but keep the donation recorded.
		logging.L(ctx).Error("minting settled donation failed",
			"donation", d.ID, "campaign", d.CampaignID, "error", err)
	}

	metrics.DonationsTotal.WithLabelValues("succeeded").Inc()
	if s.hub != nil {
		s.hub.BroadcastDonation(d.PublicView())
	}
	logging.L(ctx).Info("donation settled",
		"donation", d.ID, "campaign", d.CampaignID, "amount", d.Amount)
	return d, nil
}

// FailIntent marks the donation behind a payment intent as failed.
func (s *Service) FailIntent(ctx context.Context, intentID string) (*Donation, error) {
	d, err := s.store.GetByIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if d.Status != StatusPending {
		return d, nil
	}
	d, err = s.store.SetStatus(ctx, d.ID, StatusFailed, time.Time{})
	if err != nil {
		return nil, err
	}
	metrics.DonationsTotal.WithLabelValues("failed").Inc()
	return d, nil
}

// HandleWebhookEvent applies a verified payment event to the donation it
// names. Event types other than intent success/failure are ignored.
func (s *Service) HandleWebhookEvent(ctx context.Context, eventType, intentID string) (*Donation, error) {
	if intentID == "" {
		return nil, nil
	}
	switch eventType {
	case "payment_intent.succeeded":
		return s.SettleIntent(ctx, intentID)
	case "payment_intent.payment_failed":
		return s.FailIntent(ctx, intentID)
	default:
		return nil, nil
	}
}

// Get returns one donation.
func (s *Service) Get(ctx context.Context, id string) (*Donation, error) {
	return s.store.Get(ctx, id)
}

// ListPublic returns a campaign's donations with donor identity stripped.
func (s *Service) ListPublic(ctx context.Context, campaignID string, limit int) ([]map[string]interface{}, error) {
	rows, err := s.store.ListByCampaign(ctx, campaignID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]interface{}, 0, len(rows))
	for _, d := range rows {
		out = append(out, d.PublicView())
	}
	return out, nil
}

// CampaignTotal returns the settled donation count and sum for a campaign.
func (s *Service) CampaignTotal(ctx context.Context, campaignID string) (int, string, error) {
	return s.store.CampaignTotal(ctx, campaignID)
}

// toCents converts a drUSD amount to whole cents; amounts with sub-cent
// precision are rejected since the card processor cannot charge them.
func toCents(amount string) (int64, error) {
	minor, ok := drusd.Parse(amount)
	if !ok || minor.Sign() <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	centUnit := big.NewInt(10_000) // 10^6 minor units per drUSD, 10^2 cents
	cents, rem := new(big.Int).QuoRem(minor, centUnit, new(big.Int))
	if rem.Sign() != 0 {
		return 0, fmt.Errorf("%w: %q has sub-cent precision", ErrInvalidAmount, amount)
	}
	if !cents.IsInt64() {
		return 0, fmt.Errorf("%w: %q too large", ErrInvalidAmount, amount)
	}
	return cents.Int64(), nil
}

func normalizeAmount(amount string) string {
	if v, ok := drusd.Parse(amount); ok {
		return drusd.Format(v)
	}
	return amount
}
