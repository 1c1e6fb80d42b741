// Package rewards keeps the book of provider rewards earned for answering
// oracle requests.
package rewards

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/eres45/EcoChain/internal/domain"
)

// Config holds the reward amounts.
type Config struct {
	BaseReward        float64
	AccuracyBonus     float64
	AccuracyThreshold float64
}

// DefaultConfig returns the standard reward schedule: every contributing
// response earns the base reward, and responses within 10% of the
// consensus earn the accuracy bonus on top.
func DefaultConfig() Config {
	return Config{
		BaseReward:        1.0,
		AccuracyBonus:     0.5,
		AccuracyThreshold: 0.9,
	}
}

// Book records reward entries and running balances per provider. It
// implements the reward sink the aggregation engine notifies after each
// finalization.
type Book struct {
	mu       sync.RWMutex
	cfg      Config
	entries  []domain.RewardEntry
	balances map[string]float64
	nextID   int64
	sink     domain.SnapshotStore
	logger   zerolog.Logger
	now      func() time.Time
}

// NewBook creates an empty reward book.
func NewBook(cfg Config, logger zerolog.Logger) *Book {
	return &Book{
		cfg:      cfg,
		balances: make(map[string]float64),
		nextID:   1,
		logger:   logger,
		now:      time.Now,
	}
}

// SetSink attaches a snapshot store; every entry written after this call
// is also persisted.
func (b *Book) SetSink(sink domain.SnapshotStore) {
	b.mu.Lock()
	b.sink = sink
	b.mu.Unlock()
}

// SetClock overrides the time source.
func (b *Book) SetClock(now func() time.Time) {
	b.mu.Lock()
	b.now = now
	b.mu.Unlock()
}

// Restore reloads previously persisted entries, rebuilding balances.
func (b *Book) Restore(entries []domain.RewardEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range entries {
		b.entries = append(b.entries, e)
		b.balances[e.ProviderID] += e.Amount
		if e.ID >= b.nextID {
			b.nextID = e.ID + 1
		}
	}
}

// Distribute credits a provider for one contributing response: the base
// reward always, plus the accuracy bonus when the response landed within
// the accuracy threshold of the consensus.
func (b *Book) Distribute(requestID, providerID string, accuracy float64, hasAccuracy bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.append(domain.RewardEntry{
		Timestamp:  b.now(),
		RequestID:  requestID,
		ProviderID: providerID,
		Kind:       domain.RewardBase,
		Amount:     b.cfg.BaseReward,
	})

	if hasAccuracy && accuracy > b.cfg.AccuracyThreshold {
		acc := accuracy
		b.append(domain.RewardEntry{
			Timestamp:  b.now(),
			RequestID:  requestID,
			ProviderID: providerID,
			Kind:       domain.RewardAccuracyBonus,
			Amount:     b.cfg.AccuracyBonus,
			Accuracy:   &acc,
		})
	}
}

func (b *Book) append(e domain.RewardEntry) {
	e.ID = b.nextID
	b.nextID++
	b.entries = append(b.entries, e)
	b.balances[e.ProviderID] += e.Amount
	if b.sink != nil {
		if err := b.sink.SaveReward(e); err != nil {
			b.logger.Warn().Err(err).Int64("entry", e.ID).Msg("reward persist failed")
		}
	}
	b.logger.Debug().
		Str("provider", e.ProviderID).
		Str("request", e.RequestID).
		Str("kind", string(e.Kind)).
		Float64("amount", e.Amount).
		Msg("reward issued")
}

// Balance returns the total rewards earned by a provider.
func (b *Book) Balance(providerID string) float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.balances[providerID]
}

// Entries returns a provider's reward entries, newest first, capped at
// limit (0 means all).
func (b *Book) Entries(providerID string, limit int) []domain.RewardEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]domain.RewardEntry, 0)
	for i := len(b.entries) - 1; i >= 0; i-- {
		if b.entries[i].ProviderID != providerID {
			continue
		}
		out = append(out, b.entries[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// TotalIssued returns the sum of all rewards ever issued.
func (b *Book) TotalIssued() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	total := 0.0
	for _, v := range b.balances {
		total += v
	}
	return total
}
