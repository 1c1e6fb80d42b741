// Package reputation implements bounded trust scoring for oracle data
// providers.
//
// Each entity has one score in [MinScore, MaxScore] that moves on three
// paths:
//   - direct deltas (UpdateScore), with exponential time decay applied first
//   - accuracy samples (RecordAccuracy), where closeness to consensus and
//     the consistency of recent samples drive the delta
//   - periodic decay (DecayScores) that erodes the score of idle entities
//
// Unknown ids never fault: reads surface the default score and writes
// create the entity silently.
package reputation

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/eres45/EcoChain/internal/domain"
)

// ─── Configuration ──────────────────────────────────────────────────────────

// Config holds the scoring parameters.
type Config struct {
	MinScore     float64 // Lower score bound (default 0)
	MaxScore     float64 // Upper score bound (default 100)
	DefaultScore float64 // Starting score for new entities (default 50)

	AccuracyWeight    float64 // Scale of the accuracy-driven delta
	ConsistencyWeight float64 // Scale of the consistency-driven delta
	DecayFactor       float64 // Multiplicative score decay per idle day

	MaxHistory         int // Cap on retained score-change entries
	MaxAccuracyHistory int // Cap on retained accuracy samples
}

// DefaultConfig returns the standard scoring parameters.
func DefaultConfig() Config {
	return Config{
		MinScore:           0.0,
		MaxScore:           100.0,
		DefaultScore:       50.0,
		AccuracyWeight:     2.0,
		ConsistencyWeight:  1.0,
		DecayFactor:        0.995,
		MaxHistory:         100,
		MaxAccuracyHistory: 100,
	}
}

// ─── Records ────────────────────────────────────────────────────────────────

// HistoryEntry is one score change, oldest evicted past MaxHistory.
type HistoryEntry struct {
	Timestamp time.Time `json:"timestamp"`
	OldScore  float64   `json:"old_score"`
	Delta     float64   `json:"delta"`
	NewScore  float64   `json:"new_score"`
	Reason    string    `json:"reason,omitempty"`
}

// record is one entity's reputation state. Internal: callers read it
// through Details and Stats snapshots.
type record struct {
	entityID        string
	score           float64
	history         []HistoryEntry
	accuracyHistory []float64
	lastUpdated     time.Time
	creationTime    time.Time
}

// Details is the read-only view of one entity.
type Details struct {
	EntityID        string         `json:"entity_id"`
	Score           float64        `json:"score"`
	LastUpdated     time.Time      `json:"last_updated"`
	CreationTime    time.Time      `json:"creation_time"`
	AgeDays         float64        `json:"age_days"`
	History         []HistoryEntry `json:"history"`
	AvgAccuracy     *float64       `json:"avg_accuracy,omitempty"`
	Consistency     *float64       `json:"consistency,omitempty"`
	AccuracySamples int            `json:"accuracy_samples"`
}

// Summary is one row of a ranking query.
type Summary struct {
	EntityID        string    `json:"entity_id"`
	Score           float64   `json:"score"`
	LastUpdated     time.Time `json:"last_updated"`
	AccuracySamples int       `json:"accuracy_samples"`
}

// Stats summarises the score distribution across all entities.
type Stats struct {
	EntityCount int     `json:"entity_count"`
	AvgScore    float64 `json:"avg_score"`
	MedianScore float64 `json:"median_score"`
	MinScore    float64 `json:"min_score"`
	MaxScore    float64 `json:"max_score"`
	ScoreStdev  float64 `json:"score_stdev"`
}

// ─── Store ──────────────────────────────────────────────────────────────────

// Store tracks reputation for all entities. Thread-safe via RWMutex: every
// mutation path is funneled through the store lock, so concurrent accuracy
// updates and decay application serialize (their order matters because
// decay compounds).
type Store struct {
	mu       sync.RWMutex
	cfg      Config
	entities map[string]*record
	sink     domain.SnapshotStore // optional persistence, best-effort
	logger   zerolog.Logger

	// Injectable clock for testing.
	now func() time.Time
}

// NewStore creates a reputation store.
func NewStore(cfg Config, logger zerolog.Logger) *Store {
	return &Store{
		cfg:      cfg,
		entities: make(map[string]*record),
		logger:   logger.With().Str("component", "reputation").Logger(),
		now:      time.Now,
	}
}

// SetSink attaches a persistence sink. Saves are best-effort; failures are
// logged and do not affect scoring.
func (s *Store) SetSink(sink domain.SnapshotStore) {
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()
}

// SetClock overrides the time source (tests only).
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// Restore seeds the store from persisted snapshots, replacing any existing
// record with the same id. Used at startup.
func (s *Store) Restore(snaps []domain.ReputationSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, snap := range snaps {
		s.entities[snap.EntityID] = &record{
			entityID:     snap.EntityID,
			score:        s.clamp(snap.Score),
			lastUpdated:  snap.LastUpdated,
			creationTime: snap.CreationTime,
		}
	}
}

// ─── Entity Lifecycle ───────────────────────────────────────────────────────

// Add creates an entity at the default score. Returns false if the id
// already exists.
func (s *Store) Add(id string) bool {
	return s.AddWithScore(id, s.cfg.DefaultScore)
}

// AddWithScore creates an entity at the given score, clamped to bounds.
// Returns false if the id already exists.
func (s *Store) AddWithScore(id string, score float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entities[id]; ok {
		return false
	}
	s.addLocked(id, score)
	return true
}

// addLocked creates a record; caller holds the lock.
func (s *Store) addLocked(id string, score float64) *record {
	now := s.now()
	rec := &record{
		entityID:     id,
		score:        s.clamp(score),
		lastUpdated:  now,
		creationTime: now,
	}
	s.entities[id] = rec
	s.logger.Info().Str("entity", id).Float64("score", rec.score).Msg("entity added")
	s.saveLocked(rec)
	return rec
}

// Has reports whether the entity exists.
func (s *Store) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entities[id]
	return ok
}

// Remove deletes an entity. Returns false if the id is unknown.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entities[id]; !ok {
		return false
	}
	delete(s.entities, id)
	s.logger.Info().Str("entity", id).Msg("entity removed")
	return true
}

// Count returns the number of tracked entities.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities)
}

// ─── Score Updates ──────────────────────────────────────────────────────────

// Score returns the entity's current score, or the default score when the
// id is unknown. Unknown providers are neutral trust, not a fault.
func (s *Store) Score(id string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.entities[id]
	if !ok {
		return s.cfg.DefaultScore
	}
	return rec.score
}

// UpdateScore applies a delta to an entity's score, creating the entity if
// unknown. Time decay since the last update is applied before the delta,
// and the result is clamped to bounds. Returns the new score.
func (s *Store) UpdateScore(id string, delta float64, reason string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateScoreLocked(id, delta, reason)
}

func (s *Store) updateScoreLocked(id string, delta float64, reason string) float64 {
	rec, ok := s.entities[id]
	if !ok {
		rec = s.addLocked(id, s.cfg.DefaultScore)
	}

	now := s.now()
	oldScore := rec.score

	// Decay first: trust erodes over idle time before the new evidence
	// is applied.
	if days := now.Sub(rec.lastUpdated).Hours() / 24; days > 0 {
		rec.score *= math.Pow(s.cfg.DecayFactor, days)
	}

	rec.score = s.clamp(rec.score + delta)
	rec.lastUpdated = now

	rec.history = append(rec.history, HistoryEntry{
		Timestamp: now,
		OldScore:  oldScore,
		Delta:     delta,
		NewScore:  rec.score,
		Reason:    reason,
	})
	if len(rec.history) > s.cfg.MaxHistory {
		rec.history = rec.history[len(rec.history)-s.cfg.MaxHistory:]
	}

	s.logger.Debug().
		Str("entity", id).
		Float64("old", oldScore).
		Float64("delta", delta).
		Float64("new", rec.score).
		Str("reason", reason).
		Msg("score updated")

	s.saveLocked(rec)
	return rec.score
}

// RecordAccuracy records one accuracy sample in [0,1] and adjusts the score
// accordingly. Accuracy 0.5 is neutral; above raises trust, below lowers
// it. Once five samples exist a consistency term kicks in: low spread in
// the last five samples adds to the delta, high spread subtracts.
// Returns the new score; unknown ids are created silently.
func (s *Store) RecordAccuracy(id string, accuracy, weight float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.entities[id]
	if !ok {
		rec = s.addLocked(id, s.cfg.DefaultScore)
	}

	rec.accuracyHistory = append(rec.accuracyHistory, accuracy)
	if len(rec.accuracyHistory) > s.cfg.MaxAccuracyHistory {
		rec.accuracyHistory = rec.accuracyHistory[len(rec.accuracyHistory)-s.cfg.MaxAccuracyHistory:]
	}

	delta := (accuracy - 0.5) * 2.0 * s.cfg.AccuracyWeight * weight

	if len(rec.accuracyHistory) >= 5 {
		recent := rec.accuracyHistory[len(rec.accuracyHistory)-5:]
		consistency := 1.0 - stdev(recent)*2.0
		factor := clampUnit((consistency - 0.5) * 2.0)
		delta += factor * s.cfg.ConsistencyWeight * weight
	}

	return s.updateScoreLocked(id, delta, "accuracy")
}

// DecayScores applies time decay to every entity without touching accuracy
// history. Intended as periodic housekeeping. Returns the number of
// entities whose score changed.
func (s *Store) DecayScores() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	decayed := 0
	for _, rec := range s.entities {
		days := now.Sub(rec.lastUpdated).Hours() / 24
		if days <= 0 {
			continue
		}
		old := rec.score
		rec.score = s.clamp(rec.score * math.Pow(s.cfg.DecayFactor, days))
		rec.lastUpdated = now
		if rec.score != old {
			decayed++
			s.saveLocked(rec)
		}
	}
	return decayed
}

// ─── Queries ────────────────────────────────────────────────────────────────

// TopEntities returns the n highest-scored entities, descending.
func (s *Store) TopEntities(n int) []Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Summary, 0, len(s.entities))
	for _, rec := range s.entities {
		out = append(out, Summary{
			EntityID:        rec.entityID,
			Score:           rec.score,
			LastUpdated:     rec.lastUpdated,
			AccuracySamples: len(rec.accuracyHistory),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].EntityID < out[j].EntityID
	})
	if n > 0 && n < len(out) {
		out = out[:n]
	}
	return out
}

// AboveThreshold returns the ids of entities with score >= threshold.
func (s *Store) AboveThreshold(threshold float64) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, rec := range s.entities {
		if rec.score >= threshold {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Details returns the full view of one entity. The second return is false
// for unknown ids.
func (s *Store) Details(id string) (Details, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.entities[id]
	if !ok {
		return Details{}, false
	}

	d := Details{
		EntityID:        rec.entityID,
		Score:           rec.score,
		LastUpdated:     rec.lastUpdated,
		CreationTime:    rec.creationTime,
		AgeDays:         s.now().Sub(rec.creationTime).Hours() / 24,
		AccuracySamples: len(rec.accuracyHistory),
	}

	// Most recent history entries only.
	hist := rec.history
	if len(hist) > 10 {
		hist = hist[len(hist)-10:]
	}
	d.History = append([]HistoryEntry(nil), hist...)

	if len(rec.accuracyHistory) > 0 {
		avg := mean(rec.accuracyHistory)
		d.AvgAccuracy = &avg
	}
	if len(rec.accuracyHistory) >= 2 {
		c := 1.0 - stdev(rec.accuracyHistory)*2.0
		d.Consistency = &c
	}
	return d, true
}

// GetStats summarises the score distribution.
func (s *Store) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.entities) == 0 {
		return Stats{}
	}
	scores := make([]float64, 0, len(s.entities))
	for _, rec := range s.entities {
		scores = append(scores, rec.score)
	}
	sort.Float64s(scores)
	return Stats{
		EntityCount: len(scores),
		AvgScore:    mean(scores),
		MedianScore: median(scores),
		MinScore:    scores[0],
		MaxScore:    scores[len(scores)-1],
		ScoreStdev:  stdev(scores),
	}
}

// Snapshot returns the persistable view of one entity.
func (s *Store) Snapshot(id string) (domain.ReputationSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.entities[id]
	if !ok {
		return domain.ReputationSnapshot{}, false
	}
	return snapshotOf(rec), true
}

// ─── Internal Helpers ───────────────────────────────────────────────────────

func (s *Store) clamp(v float64) float64 {
	if v < s.cfg.MinScore {
		return s.cfg.MinScore
	}
	if v > s.cfg.MaxScore {
		return s.cfg.MaxScore
	}
	return v
}

// saveLocked persists one record through the sink; caller holds the lock.
func (s *Store) saveLocked(rec *record) {
	if s.sink == nil {
		return
	}
	if err := s.sink.SaveReputation(snapshotOf(rec)); err != nil {
		s.logger.Warn().Err(err).Str("entity", rec.entityID).Msg("reputation snapshot failed")
	}
}

func snapshotOf(rec *record) domain.ReputationSnapshot {
	return domain.ReputationSnapshot{
		EntityID:        rec.entityID,
		Score:           rec.score,
		LastUpdated:     rec.lastUpdated,
		CreationTime:    rec.creationTime,
		AccuracySamples: len(rec.accuracyHistory),
	}
}

// clampUnit restricts a value to [-1, 1].
func clampUnit(v float64) float64 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// median assumes xs is sorted when called from GetStats; it sorts a copy
// otherwise to stay safe for other callers.
func median(xs []float64) float64 {
	n := len(xs)
	if n == 0 {
		return 0
	}
	sorted := xs
	if !sort.Float64sAreSorted(xs) {
		sorted = append([]float64(nil), xs...)
		sort.Float64s(sorted)
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// stdev is the sample standard deviation.
func stdev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	sum := 0.0
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)-1))
}
