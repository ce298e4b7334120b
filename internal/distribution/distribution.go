// Package distribution orchestrates relief fund movements: minting campaign
// funds, distributing to beneficiaries, and recording spends.
//
// Chain calls are best-effort: a failed or timed-out call is logged,
// recorded as an empty tx hash on the ledger row, and never aborts the
// off-chain bookkeeping. Availability over atomicity: funds must be
// recorded as promised to beneficiaries even when the chain is degraded,
// and the reconciliation worker picks up the unsettled legs.
package distribution

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/openrelief/reliefd/internal/anomaly"
	"github.com/openrelief/reliefd/internal/chain"
	"github.com/openrelief/reliefd/internal/drusd"
	"github.com/openrelief/reliefd/internal/idgen"
	"github.com/openrelief/reliefd/internal/ledger"
	"github.com/openrelief/reliefd/internal/logging"
	"github.com/openrelief/reliefd/internal/metrics"
	"github.com/openrelief/reliefd/internal/risk"
	"github.com/openrelief/reliefd/internal/syncutil"
	"github.com/openrelief/reliefd/internal/traces"
)

// Validation errors: precondition violations rejected before any mutation.
var (
	ErrCampaignNotActive      = errors.New("distribution: campaign is not active")
	ErrCampaignClosed         = errors.New("distribution: campaign is closed")
	ErrBeneficiaryNotVerified = errors.New("distribution: beneficiary is not verified")
	ErrNoWallet               = errors.New("distribution: beneficiary has no primary wallet")
	ErrInvalidCategory        = errors.New("distribution: unknown spending category")
	ErrAllowanceExceedsAmount = errors.New("distribution: category allowances exceed amount")
)

// historyLimit caps the beneficiary history window handed to the scorers.
const historyLimit = 500

// Orchestrator sequences chain calls and ledger writes for fund movements.
// Construct with New; the zero value is not usable.
type Orchestrator struct {
	store       ledger.Store
	adapter     chain.Adapter
	detector    *anomaly.Detector
	adminWallet string

	// pairLocks serializes the ledger-write phase per (campaign, beneficiary)
	// pair. Chain calls run before the lock is taken: they can block for
	// minutes and must not stall other beneficiaries.
	pairLocks *syncutil.ContextShardedMutex
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithAdminWallet sets the treasury address newly minted funds land on.
func WithAdminWallet(addr string) Option {
	return func(o *Orchestrator) { o.adminWallet = addr }
}

// New creates an orchestrator over the given store, chain adapter, and
// anomaly detector.
func New(store ledger.Store, adapter chain.Adapter, detector *anomaly.Detector, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		adapter:   adapter,
		detector:  detector,
		pairLocks: syncutil.NewContextShardedMutex(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Step records the outcome of one best-effort chain call.
type Step struct {
	Op      string `json:"op"`
	TxHash  string `json:"txHash,omitempty"`
	Skipped bool   `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
}

// DistributeRequest is one admin distribution order.
type DistributeRequest struct {
	CampaignID    string                 `json:"campaignId"`
	BeneficiaryID string                 `json:"beneficiaryId"`
	Amount        string                 `json:"amount"`
	Allowances    ledger.CategoryAmounts `json:"allowances"`
	Notes         string                 `json:"notes,omitempty"`
}

// Receipt is the result of a successful Distribute. Any of the three tx
// hashes may be empty: the chain leg is best-effort and its absence is not
// an error.
type Receipt struct {
	Allocation      *ledger.Allocation     `json:"allocation"`
	Campaign        *ledger.Campaign       `json:"campaign"`
	Transaction     *ledger.TransactionLog `json:"transaction"`
	WhitelistTxHash string                 `json:"whitelistTxHash,omitempty"`
	TransferTxHash  string                 `json:"transferTxHash,omitempty"`
	AllowanceTxHash string                 `json:"allowanceTxHash,omitempty"`
	Steps           []Step                 `json:"steps"`
}

// Distribute moves amount from a campaign to a beneficiary.
//
// Preconditions are checked first and fail with a typed validation error
// before any mutation. Then the whitelist, transfer, and allowance chain
// calls run in order, each independently fallible; afterwards the
// allocation is accumulated, the campaign's distributed amount incremented,
// and a transaction log row appended reflecting the transfer outcome.
func (o *Orchestrator) Distribute(ctx context.Context, req DistributeRequest) (*Receipt, error) {
	ctx, span := traces.StartSpan(ctx, "distribution.Distribute",
		traces.CampaignID(req.CampaignID),
		traces.BeneficiaryID(req.BeneficiaryID),
		traces.Amount(req.Amount))
	defer span.End()

	minor, err := o.validateAmount(req.Amount)
	if err != nil {
		metrics.DistributionsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}
	if err := validateAllowances(req.Allowances, req.Amount); err != nil {
		metrics.DistributionsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	campaign, beneficiary, err := o.checkPreconditions(ctx, req.CampaignID, req.BeneficiaryID, req.Amount)
	if err != nil {
		metrics.DistributionsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	// Best-effort chain phase. No locks held: these can block for minutes.
	wallet := beneficiary.PrimaryWallet
	receipt := &Receipt{}

	receipt.WhitelistTxHash = o.ensureWhitelisted(ctx, wallet, beneficiary, receipt)

	transferHash, terr := o.adapter.Transfer(ctx, wallet, minor)
	metrics.ChainCall("transfer", terr)
	if terr != nil {
		logging.L(ctx).Error("on-chain transfer failed, recording off-chain only",
			"campaign", req.CampaignID,
			"beneficiary", req.BeneficiaryID,
			"wallet", wallet,
			"amount", req.Amount,
			"error", terr)
		receipt.Steps = append(receipt.Steps, Step{Op: "transfer", Error: terr.Error()})
	} else {
		receipt.TransferTxHash = transferHash
		receipt.Steps = append(receipt.Steps, Step{Op: "transfer", TxHash: transferHash})
	}

	if req.Allowances.Zero() {
		receipt.Steps = append(receipt.Steps, Step{Op: "set_allowances", Skipped: true})
	} else {
		allowHash, aerr := o.adapter.SetAllowances(ctx, wallet, toChainAllowances(req.Allowances))
		metrics.ChainCall("set_allowances", aerr)
		if aerr != nil {
			logging.L(ctx).Error("on-chain allowance set failed",
				"beneficiary", req.BeneficiaryID,
				"wallet", wallet,
				"error", aerr)
			receipt.Steps = append(receipt.Steps, Step{Op: "set_allowances", Error: aerr.Error()})
		} else {
			receipt.AllowanceTxHash = allowHash
			receipt.Steps = append(receipt.Steps, Step{Op: "set_allowances", TxHash: allowHash})
		}
	}

	// Ledger-write phase, serialized per pair.
	unlock, err := o.pairLocks.LockContext(ctx, req.CampaignID+"|"+req.BeneficiaryID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := time.Now().UTC()
	allocation, err := o.store.AccumulateAllocation(ctx, req.CampaignID, req.BeneficiaryID,
		req.Amount, req.Allowances, receipt.TransferTxHash, now)
	if err != nil {
		return nil, fmt.Errorf("accumulate allocation: %w", err)
	}
	receipt.Allocation = allocation

	// Re-checked atomically: the fail-fast check above can race with a
	// concurrent distribution from the same campaign.
	campaign, err = o.store.AddDistributed(ctx, req.CampaignID, req.Amount)
	if err != nil {
		return nil, err
	}
	receipt.Campaign = campaign

	txLog := &ledger.TransactionLog{
		ID:            idgen.WithPrefix("txn_"),
		CampaignID:    req.CampaignID,
		BeneficiaryID: req.BeneficiaryID,
		Type:          ledger.TxDistribute,
		Status:        chainLegStatus(receipt.TransferTxHash),
		TxHash:        receipt.TransferTxHash,
		ToAddress:     wallet,
		Amount:        drusd.Format(minor),
		Notes:         req.Notes,
		CreatedAt:     now,
	}
	o.annotate(ctx, txLog, req.BeneficiaryID, drusd.ToFloat(minor), "", now)
	if err := o.store.AppendTransaction(ctx, txLog); err != nil {
		return nil, fmt.Errorf("append transaction: %w", err)
	}
	receipt.Transaction = txLog

	metrics.DistributionsTotal.WithLabelValues("recorded").Inc()
	metrics.DistributedAmount.Add(drusd.ToFloat(minor))
	if receipt.TransferTxHash == "" {
		metrics.PendingChainLegs.Inc()
	}
	span.SetAttributes(traces.TxHash(receipt.TransferTxHash))

	logging.L(ctx).Info("distribution recorded",
		"campaign", req.CampaignID,
		"beneficiary", req.BeneficiaryID,
		"amount", req.Amount,
		"tx_hash", receipt.TransferTxHash,
		"allocation_total", allocation.TotalAmount)
	return receipt, nil
}

// MintFunds mints amount onto the admin wallet for a campaign and raises
// its raised_amount. The mint call is best-effort like every chain leg.
func (o *Orchestrator) MintFunds(ctx context.Context, campaignID, amount, purpose string) (*ledger.Campaign, *ledger.TransactionLog, error) {
	ctx, span := traces.StartSpan(ctx, "distribution.MintFunds",
		traces.CampaignID(campaignID),
		traces.Amount(amount))
	defer span.End()

	minor, err := o.validateAmount(amount)
	if err != nil {
		return nil, nil, err
	}
	campaign, err := o.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, nil, err
	}
	if campaign.Status == ledger.CampaignCompleted || campaign.Status == ledger.CampaignCancelled {
		return nil, nil, ErrCampaignClosed
	}

	hash, merr := o.adapter.Mint(ctx, o.adminWallet, minor, campaignID, purpose)
	metrics.ChainCall("mint", merr)
	if merr != nil {
		logging.L(ctx).Error("on-chain mint failed, recording off-chain only",
			"campaign", campaignID,
			"amount", amount,
			"error", merr)
		hash = ""
	}

	campaign, err = o.store.AddRaised(ctx, campaignID, amount)
	if err != nil {
		return nil, nil, err
	}

	txLog := &ledger.TransactionLog{
		ID:         idgen.WithPrefix("txn_"),
		CampaignID: campaignID,
		Type:       ledger.TxMint,
		Status:     chainLegStatus(hash),
		TxHash:     hash,
		ToAddress:  o.adminWallet,
		Amount:     drusd.Format(minor),
		Notes:      purpose,
		CreatedAt:  time.Now().UTC(),
	}
	if err := o.store.AppendTransaction(ctx, txLog); err != nil {
		return nil, nil, fmt.Errorf("append transaction: %w", err)
	}
	if hash == "" {
		metrics.PendingChainLegs.Inc()
	}

	logging.L(ctx).Info("funds minted",
		"campaign", campaignID,
		"amount", amount,
		"tx_hash", hash,
		"raised_total", campaign.RaisedAmount)
	return campaign, txLog, nil
}

// SpendRequest records one beneficiary purchase at a merchant. TxHash, when
// set, is the hash of the on-chain spend the beneficiary already made.
type SpendRequest struct {
	CampaignID     string `json:"campaignId"`
	BeneficiaryID  string `json:"beneficiaryId"`
	MerchantWallet string `json:"merchantWallet,omitempty"`
	Amount         string `json:"amount"`
	Category       string `json:"category"`
	TxHash         string `json:"txHash,omitempty"`
	Notes          string `json:"notes,omitempty"`
}

// RecordSpend appends a beneficiary spend to the ledger, scores it against
// the beneficiary's history, and flags it when anomalous.
func (o *Orchestrator) RecordSpend(ctx context.Context, req SpendRequest) (*ledger.TransactionLog, error) {
	ctx, span := traces.StartSpan(ctx, "distribution.RecordSpend",
		traces.CampaignID(req.CampaignID),
		traces.BeneficiaryID(req.BeneficiaryID),
		traces.Amount(req.Amount))
	defer span.End()

	minor, err := o.validateAmount(req.Amount)
	if err != nil {
		return nil, err
	}
	if !ledger.IsValidCategory(req.Category) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCategory, req.Category)
	}
	if _, err := o.store.GetAllocation(ctx, req.CampaignID, req.BeneficiaryID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	txLog := &ledger.TransactionLog{
		ID:            idgen.WithPrefix("txn_"),
		CampaignID:    req.CampaignID,
		BeneficiaryID: req.BeneficiaryID,
		Type:          ledger.TxSpend,
		Status:        chainLegStatus(req.TxHash),
		TxHash:        req.TxHash,
		ToAddress:     req.MerchantWallet,
		Amount:        drusd.Format(minor),
		Category:      req.Category,
		Notes:         req.Notes,
		CreatedAt:     now,
	}
	o.annotate(ctx, txLog, req.BeneficiaryID, drusd.ToFloat(minor), req.Category, now)

	if _, err := o.store.AddSpent(ctx, req.CampaignID, req.Amount); err != nil {
		return nil, err
	}
	if err := o.store.AppendTransaction(ctx, txLog); err != nil {
		return nil, fmt.Errorf("append transaction: %w", err)
	}

	status := "clean"
	if txLog.IsFlagged {
		status = "flagged"
	}
	metrics.SpendsTotal.WithLabelValues(status).Inc()
	return txLog, nil
}

// RegisterMerchantRequest describes a new approved spending destination.
type RegisterMerchantRequest struct {
	Name     string `json:"name"`
	Wallet   string `json:"wallet"`
	Category string `json:"category"`
	Location string `json:"location,omitempty"`
}

// RegisterMerchant registers a merchant on the spending controller
// (best-effort) and records it in the ledger.
func (o *Orchestrator) RegisterMerchant(ctx context.Context, req RegisterMerchantRequest) (*ledger.Merchant, error) {
	if !ledger.IsValidCategory(req.Category) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCategory, req.Category)
	}
	if req.Wallet == "" {
		return nil, ErrNoWallet
	}

	hash, err := o.adapter.RegisterMerchant(ctx, req.Wallet, req.Name, chain.CategoryID(req.Category), req.Location)
	metrics.ChainCall("register_merchant", err)
	if err != nil {
		logging.L(ctx).Error("on-chain merchant registration failed",
			"merchant", req.Name,
			"wallet", req.Wallet,
			"error", err)
		hash = ""
	}

	merchant := &ledger.Merchant{
		ID:          idgen.WithPrefix("mer_"),
		Name:        req.Name,
		Wallet:      req.Wallet,
		Category:    req.Category,
		Location:    req.Location,
		ChainTxHash: hash,
		CreatedAt:   time.Now().UTC(),
	}
	if err := o.store.CreateMerchant(ctx, merchant); err != nil {
		return nil, err
	}
	return merchant, nil
}

// RiskReport is a beneficiary risk assessment in the context of one
// campaign's allocation.
type RiskReport struct {
	BeneficiaryID string             `json:"beneficiaryId"`
	CampaignID    string             `json:"campaignId"`
	Score         float64            `json:"score"`
	Factors       map[string]float64 `json:"factors"`
	SpendCount    int                `json:"spendCount"`
}

// AssessRisk computes the beneficiary's risk score from their verification
// state, allocated allowances, and spend history. Pure read; no state
// changes.
func (o *Orchestrator) AssessRisk(ctx context.Context, campaignID, beneficiaryID string) (*RiskReport, error) {
	beneficiary, err := o.store.GetBeneficiary(ctx, beneficiaryID)
	if err != nil {
		return nil, err
	}

	var totalAllowance float64
	allocation, err := o.store.GetAllocation(ctx, campaignID, beneficiaryID)
	switch {
	case err == nil:
		for _, cat := range ledger.Categories {
			if v, ok := drusd.Parse(allocation.Allowances.Get(cat)); ok {
				totalAllowance += drusd.ToFloat(v)
			}
		}
	case errors.Is(err, ledger.ErrAllocationNotFound):
		// No allocation yet: risk is still computable from history.
	default:
		return nil, err
	}

	rows, err := o.store.ListTransactions(ctx, ledger.TransactionFilter{
		CampaignID:    campaignID,
		BeneficiaryID: beneficiaryID,
		Type:          ledger.TxSpend,
		Limit:         historyLimit,
	})
	if err != nil {
		return nil, err
	}
	spends := make([]risk.Spend, 0, len(rows))
	for _, row := range rows {
		if v, ok := drusd.Parse(row.Amount); ok {
			spends = append(spends, risk.Spend{Amount: drusd.ToFloat(v), IsFlagged: row.IsFlagged})
		}
	}

	assessment := risk.Score(risk.Profile{
		VerificationStatus: beneficiary.Status,
		TotalAllowance:     totalAllowance,
	}, spends)

	return &RiskReport{
		BeneficiaryID: beneficiaryID,
		CampaignID:    campaignID,
		Score:         assessment.Score,
		Factors:       assessment.Factors,
		SpendCount:    len(spends),
	}, nil
}

// TrainDetector refits the fraud model from the ledger's spend history.
func (o *Orchestrator) TrainDetector(ctx context.Context) error {
	rows, err := o.store.ListTransactions(ctx, ledger.TransactionFilter{
		Type:  ledger.TxSpend,
		Limit: 10000,
	})
	if err != nil {
		return err
	}
	txs := make([]anomaly.Transaction, 0, len(rows))
	for _, row := range rows {
		v, ok := drusd.Parse(row.Amount)
		if !ok {
			continue
		}
		txs = append(txs, anomaly.Transaction{
			BeneficiaryID: row.BeneficiaryID,
			Amount:        drusd.ToFloat(v),
			Category:      row.Category,
			Timestamp:     row.CreatedAt,
		})
	}

	err = o.detector.Train(ctx, txs)
	result := "ok"
	if err != nil {
		result = "error"
		if errors.Is(err, anomaly.ErrInsufficientData) {
			result = "insufficient_data"
		}
	}
	metrics.ModelTrainingsTotal.WithLabelValues(result).Inc()
	return err
}

// validateAmount parses a positive decimal amount into minor units.
func (o *Orchestrator) validateAmount(amount string) (*big.Int, error) {
	minor, ok := drusd.Parse(amount)
	if !ok || minor.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %q", ledger.ErrInvalidAmount, amount)
	}
	return minor, nil
}

// validateAllowances checks each category parses and their sum stays
// within the distributed amount.
func validateAllowances(a ledger.CategoryAmounts, amount string) error {
	total := new(big.Int)
	for _, cat := range ledger.Categories {
		v, ok := drusd.Parse(a.Get(cat))
		if !ok {
			return fmt.Errorf("%w: %s allowance %q", ledger.ErrInvalidAmount, cat, a.Get(cat))
		}
		total.Add(total, v)
	}
	amt, _ := drusd.Parse(amount)
	if amt != nil && total.Cmp(amt) > 0 {
		return ErrAllowanceExceedsAmount
	}
	return nil
}

// checkPreconditions enforces the fail-fast validation gate: active
// campaign with sufficient remaining funds, verified beneficiary with a
// primary wallet. No state is touched.
func (o *Orchestrator) checkPreconditions(ctx context.Context, campaignID, beneficiaryID, amount string) (*ledger.Campaign, *ledger.Beneficiary, error) {
	campaign, err := o.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, nil, err
	}
	if campaign.Status != ledger.CampaignActive {
		return nil, nil, fmt.Errorf("%w: %s is %s", ErrCampaignNotActive, campaignID, campaign.Status)
	}
	if cmp, ok := drusd.Cmp(amount, campaign.RemainingAmount()); !ok || cmp > 0 {
		return nil, nil, fmt.Errorf("%w: %s remaining, %s requested",
			ledger.ErrInsufficientFunds, campaign.RemainingAmount(), amount)
	}

	beneficiary, err := o.store.GetBeneficiary(ctx, beneficiaryID)
	if err != nil {
		return nil, nil, err
	}
	if beneficiary.Status != ledger.VerificationVerified {
		return nil, nil, fmt.Errorf("%w: %s is %s", ErrBeneficiaryNotVerified, beneficiaryID, beneficiary.Status)
	}
	if beneficiary.PrimaryWallet == "" {
		return nil, nil, fmt.Errorf("%w: %s", ErrNoWallet, beneficiaryID)
	}
	return campaign, beneficiary, nil
}

// ensureWhitelisted gets the beneficiary wallet onto the token whitelist:
// trust the local cache if it says whitelisted, otherwise ask the chain,
// and only then attempt the whitelist call. The cache is updated only on
// confirmed success so a failed attempt is re-checked next time.
func (o *Orchestrator) ensureWhitelisted(ctx context.Context, addr string, b *ledger.Beneficiary, receipt *Receipt) string {
	if w, err := o.store.GetWallet(ctx, addr); err == nil && w.IsWhitelisted {
		receipt.Steps = append(receipt.Steps, Step{Op: "whitelist", Skipped: true})
		return ""
	}

	onChain, err := o.adapter.IsWhitelisted(ctx, addr)
	metrics.ChainCall("is_whitelisted", err)
	if err == nil && onChain {
		o.cacheWhitelisted(ctx, addr, b.ID)
		receipt.Steps = append(receipt.Steps, Step{Op: "whitelist", Skipped: true})
		return ""
	}

	hash, werr := o.adapter.Whitelist(ctx, addr, b.Name, b.Region)
	metrics.ChainCall("whitelist", werr)
	if werr != nil {
		logging.L(ctx).Error("on-chain whitelist failed",
			"beneficiary", b.ID,
			"wallet", addr,
			"error", werr)
		receipt.Steps = append(receipt.Steps, Step{Op: "whitelist", Error: werr.Error()})
		return ""
	}
	o.cacheWhitelisted(ctx, addr, b.ID)
	receipt.Steps = append(receipt.Steps, Step{Op: "whitelist", TxHash: hash})
	return hash
}

func (o *Orchestrator) cacheWhitelisted(ctx context.Context, addr, beneficiaryID string) {
	now := time.Now().UTC()
	if err := o.store.UpsertWallet(ctx, &ledger.Wallet{
		Address:       addr,
		BeneficiaryID: beneficiaryID,
		IsWhitelisted: true,
		WhitelistedAt: now,
	}); err != nil {
		logging.L(ctx).Warn("whitelist cache update failed", "wallet", addr, "error", err)
	}
}

// annotate scores the transaction against the beneficiary's prior history
// and copies the verdict onto the row.
func (o *Orchestrator) annotate(ctx context.Context, txLog *ledger.TransactionLog, beneficiaryID string, amount float64, category string, at time.Time) {
	if o.detector == nil {
		return
	}
	rows, err := o.store.History(ctx, beneficiaryID, at, historyLimit)
	if err != nil {
		logging.L(ctx).Warn("history lookup for scoring failed",
			"beneficiary", beneficiaryID, "error", err)
		rows = nil
	}
	history := make([]anomaly.Transaction, 0, len(rows))
	for _, row := range rows {
		v, ok := drusd.Parse(row.Amount)
		if !ok {
			continue
		}
		history = append(history, anomaly.Transaction{
			BeneficiaryID: row.BeneficiaryID,
			Amount:        drusd.ToFloat(v),
			Category:      row.Category,
			Timestamp:     row.CreatedAt,
		})
	}

	result := o.detector.Predict(ctx, anomaly.Transaction{
		BeneficiaryID: beneficiaryID,
		Amount:        amount,
		Category:      category,
		Timestamp:     at,
	}, history)

	txLog.FraudScore = result.Score
	if result.IsAnomaly {
		txLog.IsFlagged = true
		txLog.FlagReason = flagReason(result.Reasons)
		metrics.FlaggedTransactionsTotal.Inc()
	}
}

func flagReason(reasons []string) string {
	if len(reasons) == 0 {
		return "anomalous pattern detected"
	}
	reason := reasons[0]
	for _, r := range reasons[1:] {
		reason += "; " + r
	}
	return reason
}

// chainLegStatus maps the presence of a tx hash to the ledger row status.
func chainLegStatus(txHash string) ledger.TxStatus {
	if txHash == "" {
		return ledger.TxPending
	}
	return ledger.TxConfirmed
}

// toChainAllowances converts decimal-string category amounts to the
// minor-unit struct the contract call takes.
func toChainAllowances(a ledger.CategoryAmounts) chain.Allowances {
	parse := func(s string) *big.Int {
		v, ok := drusd.Parse(s)
		if !ok {
			return big.NewInt(0)
		}
		return v
	}
	return chain.Allowances{
		Food:      parse(a.Food),
		Medical:   parse(a.Medical),
		Shelter:   parse(a.Shelter),
		Utilities: parse(a.Utilities),
		Transport: parse(a.Transport),
	}
}
