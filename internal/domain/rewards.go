package domain

import "time"

// ─── Reward Types ───────────────────────────────────────────────────────────
// The reward book records incentive entries for contributing providers.
// These live in domain because they represent core business records; the
// rewards package implements the bookkeeping and this core makes no
// reward-amount decisions beyond exposing the accuracy figure.

// RewardKind is the business reason for a reward entry.
type RewardKind string

const (
	// RewardBase is the flat participation reward per accepted response.
	RewardBase RewardKind = "BASE"
	// RewardAccuracyBonus is the extra reward for a highly accurate answer.
	RewardAccuracyBonus RewardKind = "ACCURACY_BONUS"
)

// RewardEntry is a single row in the provider reward book.
type RewardEntry struct {
	ID         int64      `json:"id"`
	Timestamp  time.Time  `json:"timestamp"`
	RequestID  string     `json:"request_id"`
	ProviderID string     `json:"provider_id"`
	Kind       RewardKind `json:"kind"`
	Amount     float64    `json:"amount"`
	Accuracy   *float64   `json:"accuracy,omitempty"`
}
