// Package risk computes beneficiary-level risk scores.
//
// Scoring is a pure function over the beneficiary's current profile and
// transaction history: no persisted state, recomputed on demand, always
// in [0,1].
package risk

import (
	"math"

	"github.com/openrelief/reliefd/internal/ledger"
)

// Component weights; they sum to 1.0.
const (
	weightSpendingCompliance   = 0.30
	weightCategoryAdherence    = 0.20
	weightTransactionFrequency = 0.15
	weightAmountConsistency    = 0.15
	weightVerificationStatus   = 0.20
)

// epsilon guards coefficient-of-variation divisors.
const epsilon = 1e-6

// Profile is the beneficiary view the scorer needs. TotalAllowance is the
// sum of category allowances on record, in drUSD; zero means no allowance
// recorded.
type Profile struct {
	VerificationStatus ledger.VerificationStatus
	TotalAllowance     float64
}

// Spend is one historical transaction.
type Spend struct {
	Amount    float64
	IsFlagged bool
}

// Assessment is the score plus its per-component breakdown.
type Assessment struct {
	Score   float64            `json:"score"`
	Factors map[string]float64 `json:"factors"`
}

// Score computes the weighted beneficiary risk score. Each factor is in
// [0,1], so the weighted sum is too.
func Score(p Profile, spends []Spend) Assessment {
	factors := map[string]float64{
		"spending_compliance":   spendingCompliance(p, spends),
		"category_adherence":    categoryAdherence(spends),
		"transaction_frequency": transactionFrequency(spends),
		"amount_consistency":    amountConsistency(spends),
		"verification_status":   verificationStatus(p.VerificationStatus),
	}

	score := factors["spending_compliance"]*weightSpendingCompliance +
		factors["category_adherence"]*weightCategoryAdherence +
		factors["transaction_frequency"]*weightTransactionFrequency +
		factors["amount_consistency"]*weightAmountConsistency +
		factors["verification_status"]*weightVerificationStatus

	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}

	return Assessment{Score: score, Factors: factors}
}

// spendingCompliance is 1 - min(spent/allowance, 1): unused allowance
// scores high, fully drawn-down allowance scores 0. Without an allowance
// on record there is nothing to measure against.
func spendingCompliance(p Profile, spends []Spend) float64 {
	if len(spends) == 0 || p.TotalAllowance <= 0 {
		return 0
	}
	var spent float64
	for _, s := range spends {
		spent += s.Amount
	}
	ratio := spent / p.TotalAllowance
	if ratio > 1 {
		ratio = 1
	}
	return 1 - ratio
}

// categoryAdherence: fraction of the history that was flagged.
func categoryAdherence(spends []Spend) float64 {
	if len(spends) == 0 {
		return 0
	}
	flagged := 0
	for _, s := range spends {
		if s.IsFlagged {
			flagged++
		}
	}
	return float64(flagged) / float64(len(spends))
}

// transactionFrequency: amount irregularity as the coefficient of
// variation, capped at 1.
func transactionFrequency(spends []Spend) float64 {
	if len(spends) < 2 {
		return 0
	}
	cv := coefficientOfVariation(spends)
	if cv > 1 {
		cv = 1
	}
	return cv
}

// amountConsistency: half the coefficient of variation, capped at 1.
func amountConsistency(spends []Spend) float64 {
	if len(spends) < 2 {
		return 0
	}
	half := coefficientOfVariation(spends) / 2
	if half > 1 {
		half = 1
	}
	return half
}

func verificationStatus(status ledger.VerificationStatus) float64 {
	switch status {
	case ledger.VerificationVerified:
		return 0
	case ledger.VerificationPending:
		return 0.5
	default:
		return 1.0
	}
}

// coefficientOfVariation is population stddev over mean.
func coefficientOfVariation(spends []Spend) float64 {
	var sum float64
	for _, s := range spends {
		sum += s.Amount
	}
	mean := sum / float64(len(spends))

	var sq float64
	for _, s := range spends {
		d := s.Amount - mean
		sq += d * d
	}
	std := math.Sqrt(sq / float64(len(spends)))
	return std / (mean + epsilon)
}
