// Package anomaly scores transactions for fraud against per-beneficiary
// spending history.
//
// The detector is a two-state machine: Untrained on start (a deterministic
// rule engine scores every transaction) and Trained once an isolation
// forest has been fitted on at least MinTrainingSize transactions. Both
// paths produce the same (is_anomaly, score, reasons) result shape, so
// callers never branch on detector state.
package anomaly

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/openrelief/reliefd/internal/logging"
)

var (
	// ErrInsufficientData means training was a no-op, not a failure.
	ErrInsufficientData = errors.New("anomaly: insufficient training data")
)

const (
	// MinTrainingSize is the minimum transaction count for Train.
	MinTrainingSize = 10

	// DefaultContamination is the expected anomaly proportion.
	DefaultContamination = 0.1

	// DefaultDailyLimit is the daily spending ceiling the rule fallback
	// checks, in drUSD.
	DefaultDailyLimit = 500.0
)

// Transaction is the minimal view the detector scores. Amount is in drUSD
// (not minor units) since scoring is statistical, not ledger arithmetic.
type Transaction struct {
	BeneficiaryID string
	Amount        float64
	Category      string
	Timestamp     time.Time
}

// Result is one scoring outcome. Score is normalized to [0,1].
type Result struct {
	IsAnomaly bool     `json:"isAnomaly"`
	Score     float64  `json:"score"`
	Reasons   []string `json:"reasons"`
}

// scorer is the capability behind Predict: the rule engine when untrained,
// the fitted model when trained.
type scorer interface {
	Predict(tx Transaction, history []Transaction) Result
}

// Detector dispatches Predict to the active scorer and manages training
// and model persistence.
type Detector struct {
	mu            sync.RWMutex
	active        scorer
	trained       bool
	contamination float64
	dailyLimit    float64
	modelPath     string
}

// Option configures a Detector.
type Option func(*Detector)

// WithContamination sets the expected anomaly proportion used at training.
func WithContamination(c float64) Option {
	return func(d *Detector) {
		if c > 0 && c < 0.5 {
			d.contamination = c
		}
	}
}

// WithDailyLimit sets the rule fallback's daily spending ceiling in drUSD.
func WithDailyLimit(limit float64) Option {
	return func(d *Detector) {
		if limit > 0 {
			d.dailyLimit = limit
		}
	}
}

// WithModelPath sets where the trained model blob is persisted.
func WithModelPath(path string) Option {
	return func(d *Detector) { d.modelPath = path }
}

// NewDetector creates a detector in the Untrained state. If a previously
// persisted model exists at the model path and passes the schema check, it
// is activated; otherwise the rule fallback stays active.
func NewDetector(opts ...Option) *Detector {
	d := &Detector{
		contamination: DefaultContamination,
		dailyLimit:    DefaultDailyLimit,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.active = &ruleScorer{dailyLimit: d.dailyLimit}

	if d.modelPath != "" {
		if m, err := loadModel(d.modelPath); err == nil {
			d.active = m
			d.trained = true
		}
	}
	return d
}

// Trained reports whether the model path is active.
func (d *Detector) Trained() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.trained
}

// Predict scores a transaction against its beneficiary history. History
// entries at or after the transaction's timestamp are ignored (the
// extractor enforces this even if the caller's query was sloppy).
func (d *Detector) Predict(ctx context.Context, tx Transaction, history []Transaction) Result {
	d.mu.RLock()
	s := d.active
	d.mu.RUnlock()

	result := s.Predict(tx, history)
	if result.IsAnomaly {
		logging.L(ctx).Warn("anomalous transaction",
			"beneficiary", tx.BeneficiaryID,
			"amount", tx.Amount,
			"score", result.Score,
			"reasons", result.Reasons)
	}
	return result
}

// Train fits a fresh isolation forest on the given transactions and swaps
// it in. Fewer than MinTrainingSize transactions is a no-op returning
// ErrInsufficientData. The prior model keeps serving predictions until the
// new one is fully built and persisted.
func (d *Detector) Train(ctx context.Context, transactions []Transaction) error {
	if len(transactions) < MinTrainingSize {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientData, len(transactions), MinTrainingSize)
	}

	// Per-beneficiary history, each row extracted against only strictly
	// earlier same-beneficiary transactions. The same leakage guard
	// applies at inference, so train and predict see identical features.
	byBeneficiary := make(map[string][]Transaction)
	for _, tx := range transactions {
		byBeneficiary[tx.BeneficiaryID] = append(byBeneficiary[tx.BeneficiaryID], tx)
	}

	matrix := make([][]float64, 0, len(transactions))
	for _, tx := range transactions {
		var history []Transaction
		for _, h := range byBeneficiary[tx.BeneficiaryID] {
			if h.Timestamp.Before(tx.Timestamp) {
				history = append(history, h)
			}
		}
		matrix = append(matrix, ExtractFeatures(tx, history))
	}

	model, err := fitModel(matrix, d.contamination)
	if err != nil {
		return fmt.Errorf("fit model: %w", err)
	}

	if d.modelPath != "" {
		if err := saveModel(d.modelPath, model); err != nil {
			return fmt.Errorf("persist model: %w", err)
		}
	}

	d.mu.Lock()
	d.active = model
	d.trained = true
	d.mu.Unlock()

	logging.L(ctx).Info("fraud model trained",
		"transactions", len(transactions),
		"contamination", d.contamination)
	return nil
}
