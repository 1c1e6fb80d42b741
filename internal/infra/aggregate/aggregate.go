// Package aggregate turns a set of verified responses into one finalized
// value and feeds the outcome back into trust scoring.
package aggregate

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/eres45/EcoChain/internal/domain"
	"github.com/eres45/EcoChain/internal/infra/observability"
)

// Aggregation strategies for scalar payloads.
const (
	StrategyMean         = "mean"
	StrategyMedian       = "median"
	StrategyMode         = "mode"
	StrategyWeightedMean = "weighted_mean"
	StrategyTrimmedMean  = "trimmed_mean"
)

// DefaultStrategy is used when configuration does not name one.
const DefaultStrategy = StrategyWeightedMean

// TrustUpdater is the engine's view of the reputation store: weights for
// weighted aggregation and the accuracy feedback path.
type TrustUpdater interface {
	Score(id string) float64
	RecordAccuracy(id string, accuracy, weight float64) float64
}

// Engine aggregates verified responses. The configured strategy applies to
// scalar payloads; mapping payloads are merged per key and categorical
// payloads take the most frequent value regardless of strategy.
type Engine struct {
	strategy string
	trust    TrustUpdater
	rewards  domain.RewardSink // optional
	logger   zerolog.Logger
}

// NewEngine creates an engine with the given scalar strategy. An empty
// strategy selects the default (weighted mean); an unknown one errors.
func NewEngine(strategy string, trust TrustUpdater, rewards domain.RewardSink, logger zerolog.Logger) (*Engine, error) {
	if strategy == "" {
		strategy = DefaultStrategy
	}
	switch strategy {
	case StrategyMean, StrategyMedian, StrategyMode, StrategyWeightedMean, StrategyTrimmedMean:
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownStrategy, strategy)
	}
	return &Engine{
		strategy: strategy,
		trust:    trust,
		rewards:  rewards,
		logger:   logger.With().Str("component", "aggregate").Logger(),
	}, nil
}

// Strategy returns the configured scalar strategy.
func (e *Engine) Strategy() string { return e.strategy }

// ─── Aggregation ────────────────────────────────────────────────────────────

// Aggregate combines the verified responses into one payload. All
// responses must share the payload kind of the first one; mixed shapes are
// an unsupported aggregation and fail the request.
func (e *Engine) Aggregate(req *domain.DataRequest, verified []*domain.DataResponse) (domain.Payload, error) {
	if len(verified) == 0 {
		return domain.Payload{}, domain.ErrInsufficientQuorum
	}

	start := time.Now()
	defer func() {
		observability.RecordAggregation(e.strategy, time.Since(start))
	}()

	kind := verified[0].Data.Kind
	for _, r := range verified[1:] {
		if r.Data.Kind != kind {
			return domain.Payload{}, fmt.Errorf("%w: mixed payload kinds %s and %s",
				domain.ErrUnsupportedPayload, kind, r.Data.Kind)
		}
	}

	switch kind {
	case domain.KindScalar:
		return e.aggregateScalar(verified)
	case domain.KindMapping:
		return e.mergeMappings(verified), nil
	case domain.KindCategorical:
		return e.aggregateCategorical(verified), nil
	default:
		return domain.Payload{}, domain.ErrUnsupportedPayload
	}
}

func (e *Engine) aggregateScalar(verified []*domain.DataResponse) (domain.Payload, error) {
	values := make([]float64, len(verified))
	weights := make([]float64, len(verified))
	for i, r := range verified {
		values[i] = r.Data.Scalar
		weights[i] = e.trust.Score(r.ProviderID)
	}

	var result float64
	switch e.strategy {
	case StrategyMean:
		result = mean(values)
	case StrategyMedian:
		result = median(values)
	case StrategyMode:
		result = mode(values)
	case StrategyTrimmedMean:
		result = trimmedMean(values)
	case StrategyWeightedMean:
		result = weightedMean(values, weights)
	}

	e.logger.Debug().
		Str("strategy", e.strategy).
		Int("responses", len(values)).
		Float64("result", result).
		Msg("scalar aggregation")
	return domain.ScalarPayload(result), nil
}

// mergeMappings merges mapping payloads per key: numeric fields are
// averaged across the responses that include the key, text fields take the
// most frequent value.
func (e *Engine) mergeMappings(verified []*domain.DataResponse) domain.Payload {
	// Collect keys in a deterministic order.
	keySet := make(map[string]bool)
	for _, r := range verified {
		for k := range r.Data.Mapping {
			keySet[k] = true
		}
	}
	keys := make([]string, 0, len(keySet))
	for k := range keySet {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	merged := make(map[string]domain.Field, len(keys))
	for _, key := range keys {
		var nums []float64
		var texts []string
		for _, r := range verified {
			f, ok := r.Data.Mapping[key]
			if !ok {
				continue
			}
			if f.Kind == domain.FieldNumber {
				nums = append(nums, f.Number)
			} else {
				texts = append(texts, f.Text)
			}
		}
		// A key is numeric if every response that carries it is numeric.
		if len(nums) > 0 && len(texts) == 0 {
			merged[key] = domain.NumberField(mean(nums))
		} else if len(texts) > 0 {
			merged[key] = domain.TextField(modeString(texts))
		}
	}
	return domain.MappingPayload(merged)
}

func (e *Engine) aggregateCategorical(verified []*domain.DataResponse) domain.Payload {
	labels := make([]string, len(verified))
	for i, r := range verified {
		labels[i] = r.Data.Categorical
	}
	return domain.CategoricalPayload(modeString(labels))
}

// ─── Outcome Feedback ───────────────────────────────────────────────────────

// RecordOutcome feeds the finalized result back into trust scoring and
// notifies the reward sink once per contributing response. For scalar
// results, accuracy is normalized closeness to the consensus; when the
// result is zero the accuracy computation is skipped for that response.
// Callers must invoke this exactly once per finalization.
func (e *Engine) RecordOutcome(requestID string, verified []*domain.DataResponse, result domain.Payload) {
	for _, r := range verified {
		acc, ok := accuracyOf(r.Data, result)
		if ok {
			e.trust.RecordAccuracy(r.ProviderID, acc, 1.0)
		}
		if e.rewards != nil {
			e.rewards.Distribute(requestID, r.ProviderID, acc, ok)
		}
	}
}

// accuracyOf is 1 - min(1, |v-r|/|r|) for scalar data against a nonzero
// scalar result; other shapes carry no accuracy signal.
func accuracyOf(data, result domain.Payload) (float64, bool) {
	if data.Kind != domain.KindScalar || result.Kind != domain.KindScalar || result.Scalar == 0 {
		return 0, false
	}
	rel := math.Abs(data.Scalar-result.Scalar) / math.Abs(result.Scalar)
	return 1.0 - math.Min(1.0, rel), true
}

// ─── Strategies ─────────────────────────────────────────────────────────────

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// mode returns the most frequent value; ties go to the value seen first.
func mode(values []float64) float64 {
	counts := make(map[float64]int, len(values))
	best, bestCount := 0.0, 0
	for _, v := range values {
		counts[v]++
		if counts[v] > bestCount {
			best, bestCount = v, counts[v]
		}
	}
	return best
}

func modeString(values []string) string {
	counts := make(map[string]int, len(values))
	best, bestCount := "", 0
	for _, v := range values {
		counts[v]++
		if counts[v] > bestCount {
			best, bestCount = v, counts[v]
		}
	}
	return best
}

// weightedMean is Σ(v·w)/Σw. It falls back to the plain mean when weights
// are missing, mismatched in length, or sum to zero.
func weightedMean(values, weights []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if len(weights) != len(values) {
		return mean(values)
	}
	totalWeight := 0.0
	for _, w := range weights {
		totalWeight += w
	}
	if totalWeight == 0 {
		return mean(values)
	}
	sum := 0.0
	for i, v := range values {
		sum += v * weights[i]
	}
	return sum / totalWeight
}

// trimmedMean drops the single highest and lowest values when more than
// three responses exist, then means the remainder.
func trimmedMean(values []float64) float64 {
	if len(values) <= 3 {
		return mean(values)
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return mean(sorted[1 : len(sorted)-1])
}
