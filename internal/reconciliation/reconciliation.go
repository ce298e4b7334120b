// Package reconciliation settles the chain legs the orchestrator recorded
// as pending and compares beneficiary wallet balances against the ledger.
//
// The orchestrator never retries a failed chain call; this worker owns the
// retry. Each run scans transaction log rows with an empty tx hash,
// replays the retryable ones with backoff, and marks rows that keep
// failing so they stop being rescanned.
package reconciliation

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/openrelief/reliefd/internal/chain"
	"github.com/openrelief/reliefd/internal/drusd"
	"github.com/openrelief/reliefd/internal/ledger"
	"github.com/openrelief/reliefd/internal/logging"
	"github.com/openrelief/reliefd/internal/metrics"
	"github.com/openrelief/reliefd/internal/retry"
)

const (
	scanLimit    = 100
	retryLimit   = 3
	retryBackoff = 2 * time.Second

	// maxLegAge bounds how long a pending leg is retried before it is
	// marked failed and left for manual review.
	maxLegAge = 24 * time.Hour
)

// Service replays pending chain legs and runs balance checks.
type Service struct {
	store          ledger.Store
	adapter        chain.Adapter
	adminWallet    string
	alertThreshold *big.Int
	retryBackoff   time.Duration
}

// NewService creates a reconciliation service. The alert threshold for
// balance mismatches defaults to 1 drUSD.
func NewService(store ledger.Store, adapter chain.Adapter, adminWallet string) *Service {
	threshold, _ := drusd.Parse("1.000000")
	return &Service{
		store:          store,
		adapter:        adapter,
		adminWallet:    adminWallet,
		alertThreshold: threshold,
		retryBackoff:   retryBackoff,
	}
}

// SetAlertThreshold sets the balance diff above which a mismatch is flagged.
func (s *Service) SetAlertThreshold(amount string) {
	if t, ok := drusd.Parse(amount); ok {
		s.alertThreshold = t
	}
}

// Report summarizes one reconciliation run.
type Report struct {
	Scanned   int       `json:"scanned"`
	Settled   int       `json:"settled"`
	Failed    int       `json:"failed"`
	Skipped   int       `json:"skipped"`
	StartedAt time.Time `json:"startedAt"`
	Duration  string    `json:"duration"`
}

// Run scans pending chain legs and retries each retryable one.
func (s *Service) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	report := &Report{StartedAt: start.UTC()}
	defer func() {
		reconcileDuration.Observe(time.Since(start).Seconds())
		report.Duration = time.Since(start).String()
	}()

	pending, err := s.store.ListPendingChain(ctx, scanLimit)
	if err != nil {
		reconcileErrors.Inc()
		return nil, fmt.Errorf("scan pending legs: %w", err)
	}
	report.Scanned = len(pending)
	metrics.PendingChainLegs.Set(float64(len(pending)))

	for _, row := range pending {
		select {
		case <-ctx.Done():
			return report, ctx.Err()
		default:
		}

		switch s.replayLeg(ctx, row) {
		case legSettled:
			report.Settled++
		case legFailed:
			report.Failed++
		default:
			report.Skipped++
		}
	}

	metrics.PendingChainLegs.Sub(float64(report.Settled + report.Failed))
	if report.Settled > 0 || report.Failed > 0 {
		logging.L(ctx).Info("reconciliation run complete",
			"scanned", report.Scanned,
			"settled", report.Settled,
			"failed", report.Failed,
			"skipped", report.Skipped)
	}
	return report, nil
}

type legOutcome int

const (
	legSkipped legOutcome = iota
	legSettled
	legFailed
)

// replayLeg retries one pending row's chain call. Spend rows are never
// replayed: the beneficiary moves those funds, not the platform wallet.
func (s *Service) replayLeg(ctx context.Context, row *ledger.TransactionLog) legOutcome {
	amount, ok := drusd.Parse(row.Amount)
	if !ok {
		return legSkipped
	}

	var call func() (string, error)
	switch row.Type {
	case ledger.TxDistribute, ledger.TxTransfer:
		if row.ToAddress == "" {
			return legSkipped
		}
		call = func() (string, error) { return s.adapter.Transfer(ctx, row.ToAddress, amount) }
	case ledger.TxMint:
		to := row.ToAddress
		if to == "" {
			to = s.adminWallet
		}
		call = func() (string, error) { return s.adapter.Mint(ctx, to, amount, row.CampaignID, row.Notes) }
	default:
		return legSkipped
	}

	var txHash string
	err := retry.Do(ctx, retryLimit, s.retryBackoff, func() error {
		hash, callErr := call()
		if callErr != nil {
			return callErr
		}
		txHash = hash
		return nil
	})
	if err != nil {
		reconcileErrors.Inc()
		logging.L(ctx).Warn("pending chain leg retry failed",
			"tx", row.ID, "type", row.Type, "error", err)
		if time.Since(row.CreatedAt) > maxLegAge {
			if _, ferr := s.store.FailChainLeg(ctx, row.ID); ferr != nil {
				logging.L(ctx).Error("marking chain leg failed", "tx", row.ID, "error", ferr)
				return legSkipped
			}
			legsFailedTotal.Inc()
			return legFailed
		}
		return legSkipped
	}

	if _, serr := s.store.SettleChainLeg(ctx, row.ID, txHash); serr != nil {
		// The transfer went through but the ledger update did not; the row
		// stays pending and the next run would replay it, double-paying.
		logging.L(ctx).Error("chain leg settled on-chain but ledger update failed",
			"tx", row.ID, "tx_hash", txHash, "error", serr)
		reconcileErrors.Inc()
		return legSkipped
	}
	legsSettledTotal.Inc()
	logging.L(ctx).Info("pending chain leg settled",
		"tx", row.ID, "type", row.Type, "tx_hash", txHash)
	return legSettled
}

// BalanceResult is the outcome of one wallet-vs-ledger comparison.
type BalanceResult struct {
	BeneficiaryID string `json:"beneficiaryId"`
	Wallet        string `json:"wallet"`
	Match         bool   `json:"match"`
	ChainBalance  string `json:"chainBalance"`
	LedgerBalance string `json:"ledgerBalance"`
	Diff          string `json:"diff"`
}

// CheckBeneficiary compares a beneficiary wallet's on-chain balance against
// the ledger's view (allocated minus spent within the campaign).
func (s *Service) CheckBeneficiary(ctx context.Context, campaignID, beneficiaryID string) (*BalanceResult, error) {
	b, err := s.store.GetBeneficiary(ctx, beneficiaryID)
	if err != nil {
		return nil, err
	}
	if b.PrimaryWallet == "" {
		return nil, fmt.Errorf("beneficiary %s has no wallet", beneficiaryID)
	}

	alloc, err := s.store.GetAllocation(ctx, campaignID, beneficiaryID)
	if err != nil {
		return nil, err
	}
	allocated, _ := drusd.Parse(alloc.TotalAmount)

	spends, err := s.store.ListTransactions(ctx, ledger.TransactionFilter{
		CampaignID:    campaignID,
		BeneficiaryID: beneficiaryID,
		Type:          ledger.TxSpend,
		Limit:         1000,
	})
	if err != nil {
		return nil, err
	}
	spent := new(big.Int)
	for _, row := range spends {
		if v, ok := drusd.Parse(row.Amount); ok {
			spent.Add(spent, v)
		}
	}

	ledgerBal := new(big.Int).Sub(allocated, spent)
	chainBal, err := s.adapter.BalanceOf(ctx, b.PrimaryWallet)
	if err != nil {
		reconcileErrors.Inc()
		return nil, fmt.Errorf("chain balance: %w", err)
	}

	diff := new(big.Int).Sub(chainBal, ledgerBal)
	match := new(big.Int).Abs(diff).Cmp(s.alertThreshold) <= 0
	if !match {
		balanceMismatches.Inc()
		logging.L(ctx).Warn("beneficiary balance mismatch",
			"beneficiary", beneficiaryID,
			"wallet", b.PrimaryWallet,
			"chain", drusd.Format(chainBal),
			"ledger", drusd.Format(ledgerBal))
	}

	return &BalanceResult{
		BeneficiaryID: beneficiaryID,
		Wallet:        b.PrimaryWallet,
		Match:         match,
		ChainBalance:  drusd.Format(chainBal),
		LedgerBalance: drusd.Format(ledgerBal),
		Diff:          drusd.Format(diff),
	}, nil
}
