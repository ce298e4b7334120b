package anomaly

import (
	"math"
	"time"
)

// FeatureNames is the ordered schema of the feature vector. Persisted
// models carry it so a loaded blob fitted on a different schema is
// rejected instead of silently misapplied.
var FeatureNames = []string{
	"amount",
	"hour_of_day",
	"day_of_week",
	"transactions_last_hour",
	"transactions_last_day",
	"total_spent_last_day",
	"avg_transaction_amount",
	"amount_deviation",
	"category_match_rate",
	"time_since_last_transaction",
}

// FeatureCount is the fixed vector width.
var FeatureCount = len(FeatureNames)

// epsilon guards the deviation divisor against zero-variance history.
const epsilon = 1e-6

// ExtractFeatures derives the feature vector for a transaction given its
// beneficiary's prior history. Entries at or after the transaction's
// timestamp are dropped: features for T must never see T's future, in
// training or inference.
func ExtractFeatures(tx Transaction, history []Transaction) []float64 {
	prior := make([]Transaction, 0, len(history))
	for _, h := range history {
		if h.Timestamp.Before(tx.Timestamp) {
			prior = append(prior, h)
		}
	}

	f := make([]float64, FeatureCount)
	f[0] = tx.Amount
	f[1] = float64(tx.Timestamp.Hour())
	f[2] = float64(tx.Timestamp.Weekday())

	if len(prior) == 0 {
		// Cold start defaults: absence of evidence is not suspicious.
		f[6] = tx.Amount // avg defaults to the current amount
		f[8] = 1.0       // perfect category match
		f[9] = 24.0      // a full day since "last" transaction
		return f
	}

	oneHourAgo := tx.Timestamp.Add(-time.Hour)
	oneDayAgo := tx.Timestamp.Add(-24 * time.Hour)

	var sum, daySum float64
	var lastAt time.Time
	categoryMatches := 0
	for _, h := range prior {
		sum += h.Amount
		if !h.Timestamp.Before(oneHourAgo) {
			f[3]++
		}
		if !h.Timestamp.Before(oneDayAgo) {
			f[4]++
			daySum += h.Amount
		}
		if h.Category == tx.Category {
			categoryMatches++
		}
		if h.Timestamp.After(lastAt) {
			lastAt = h.Timestamp
		}
	}
	f[5] = daySum

	mean := sum / float64(len(prior))
	f[6] = mean
	f[7] = math.Abs(tx.Amount-mean) / (populationStddev(prior, mean) + epsilon)
	f[8] = float64(categoryMatches) / float64(len(prior))
	f[9] = tx.Timestamp.Sub(lastAt).Hours()

	return f
}

// populationStddev over prior amounts (divides by N, not N-1).
func populationStddev(prior []Transaction, mean float64) float64 {
	var sq float64
	for _, h := range prior {
		d := h.Amount - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(prior)))
}
