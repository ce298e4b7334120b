package anomaly

import (
	"fmt"
	"time"
)

// ruleScorer is the deterministic fallback used while no model is trained.
// Four independently weighted signals, summed and clamped to [0,1]; a
// transaction is anomalous when the combined score exceeds 0.5. Identical
// input always yields identical output.
type ruleScorer struct {
	dailyLimit float64
}

func (r *ruleScorer) Predict(tx Transaction, history []Transaction) Result {
	prior := make([]Transaction, 0, len(history))
	for _, h := range history {
		if h.Timestamp.Before(tx.Timestamp) {
			prior = append(prior, h)
		}
	}

	var score float64
	var reasons []string

	// Unusually large transaction vs historical average.
	if len(prior) > 0 {
		var sum float64
		for _, h := range prior {
			sum += h.Amount
		}
		avg := sum / float64(len(prior))
		if tx.Amount > avg*3 {
			reasons = append(reasons, fmt.Sprintf("transaction amount (%.2f) is 3x higher than average (%.2f)", tx.Amount, avg))
			score += 0.3
		}
	}

	// Rapid spending in the trailing hour.
	if len(prior) > 0 {
		oneHourAgo := tx.Timestamp.Add(-time.Hour)
		recent := 0
		for _, h := range prior {
			if !h.Timestamp.Before(oneHourAgo) {
				recent++
			}
		}
		if recent > 5 {
			reasons = append(reasons, fmt.Sprintf("high transaction frequency: %d transactions in the last hour", recent))
			score += 0.3
		}
	}

	// Trailing-24h total, including the current transaction, over the
	// daily ceiling.
	if len(prior) > 0 {
		oneDayAgo := tx.Timestamp.Add(-24 * time.Hour)
		dailyTotal := tx.Amount
		for _, h := range prior {
			if !h.Timestamp.Before(oneDayAgo) {
				dailyTotal += h.Amount
			}
		}
		if dailyTotal > r.dailyLimit {
			reasons = append(reasons, fmt.Sprintf("high daily spending: %.2f drUSD", dailyTotal))
			score += 0.2
		}
	}

	// Night-hours transaction.
	hour := tx.Timestamp.Hour()
	if hour < 6 || hour > 23 {
		reasons = append(reasons, fmt.Sprintf("unusual transaction time: %02d:00", hour))
		score += 0.1
	}

	if score > 1.0 {
		score = 1.0
	}

	return Result{
		IsAnomaly: score > 0.5,
		Score:     score,
		Reasons:   reasons,
	}
}
