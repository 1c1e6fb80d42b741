// Package oracle wires the network together: the provider registry, the
// request ledger, the trust store and the aggregation engine. The
// Coordinator is the single entry point the API and CLI talk to.
package oracle

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/eres45/EcoChain/internal/domain"
	"github.com/eres45/EcoChain/internal/infra/aggregate"
	"github.com/eres45/EcoChain/internal/infra/ledger"
	"github.com/eres45/EcoChain/internal/infra/observability"
	"github.com/eres45/EcoChain/internal/infra/reputation"
)

// Config holds coordinator settings.
type Config struct {
	// AutoFinalize finalizes a request as soon as it reaches quorum.
	AutoFinalize bool
	// DefaultMinProviders applies when a request does not name a quorum.
	DefaultMinProviders int
	// DefaultMinReputation applies when a request does not name a floor.
	DefaultMinReputation float64
}

// DefaultConfig returns the standard coordinator settings.
func DefaultConfig() Config {
	return Config{
		AutoFinalize:         true,
		DefaultMinProviders:  3,
		DefaultMinReputation: 50.0,
	}
}

// providerCounter tracks per-provider activity maintained by the
// coordinator, separate from the provider's own state.
type providerCounter struct {
	responseCount int64
	lastUpdated   time.Time
}

// Coordinator runs the oracle network.
type Coordinator struct {
	cfg    Config
	ledger *ledger.Ledger
	trust  *reputation.Store
	engine *aggregate.Engine
	logger zerolog.Logger

	mu        sync.RWMutex
	providers map[string]domain.DataProvider
	counters  map[string]*providerCounter
	chains    map[string]domain.PublishSink
	store     domain.SnapshotStore

	now func() time.Time
}

// New creates a coordinator over the given ledger, trust store and engine.
func New(cfg Config, lg *ledger.Ledger, trust *reputation.Store, engine *aggregate.Engine, logger zerolog.Logger) *Coordinator {
	if cfg.DefaultMinProviders < 1 {
		cfg.DefaultMinProviders = 1
	}
	return &Coordinator{
		cfg:       cfg,
		ledger:    lg,
		trust:     trust,
		engine:    engine,
		logger:    logger.With().Str("component", "oracle").Logger(),
		providers: make(map[string]domain.DataProvider),
		counters:  make(map[string]*providerCounter),
		chains:    make(map[string]domain.PublishSink),
		now:       time.Now,
	}
}

// SetStore attaches the snapshot store used to persist terminal requests.
func (c *Coordinator) SetStore(store domain.SnapshotStore) {
	c.mu.Lock()
	c.store = store
	c.mu.Unlock()
}

// SetClock overrides the time source (tests only).
func (c *Coordinator) SetClock(now func() time.Time) { c.now = now }

// ─── Provider Registry ──────────────────────────────────────────────────────

// RegisterProvider adds a provider to the network, binds it to the
// coordinator's response sink and opens a trust record for it.
func (c *Coordinator) RegisterProvider(p domain.DataProvider) error {
	c.mu.Lock()
	if _, exists := c.providers[p.ID()]; exists {
		c.mu.Unlock()
		return domain.ErrProviderExists
	}
	c.providers[p.ID()] = p
	c.counters[p.ID()] = &providerCounter{lastUpdated: c.now()}
	c.mu.Unlock()

	if !c.trust.Has(p.ID()) {
		c.trust.Add(p.ID())
	}
	p.Bind(c)

	observability.ProvidersRegistered.Inc()
	c.logger.Info().
		Str("provider", p.ID()).
		Str("name", p.Name()).
		Strs("data_types", p.DataTypes()).
		Msg("provider registered")
	return nil
}

// RemoveProvider drops a provider from the registry. Its trust record
// survives so a re-registration resumes with earned reputation.
func (c *Coordinator) RemoveProvider(providerID string) error {
	c.mu.Lock()
	if _, exists := c.providers[providerID]; !exists {
		c.mu.Unlock()
		return domain.ErrProviderNotFound
	}
	delete(c.providers, providerID)
	delete(c.counters, providerID)
	c.mu.Unlock()

	observability.ProvidersRegistered.Dec()
	c.logger.Info().Str("provider", providerID).Msg("provider removed")
	return nil
}

// GetProvider returns a registered provider.
func (c *Coordinator) GetProvider(providerID string) (domain.DataProvider, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.providers[providerID]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return p, nil
}

// ListProviders returns registry info for every provider at or above
// minReputation, sorted by reputation descending.
func (c *Coordinator) ListProviders(minReputation float64) []domain.ProviderInfo {
	c.mu.RLock()
	out := make([]domain.ProviderInfo, 0, len(c.providers))
	for id, p := range c.providers {
		score := c.trust.Score(id)
		if score < minReputation {
			continue
		}
		counter := c.counters[id]
		out = append(out, domain.ProviderInfo{
			ProviderID:    id,
			Name:          p.Name(),
			DataTypes:     p.DataTypes(),
			Reputation:    score,
			ResponseCount: counter.responseCount,
			LastUpdated:   counter.lastUpdated,
			Active:        p.Active(),
		})
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Reputation > out[j].Reputation })
	return out
}

// ─── Request Flow ───────────────────────────────────────────────────────────

// SubmitRequest opens a new request and notifies every eligible provider:
// one that serves the data type and meets the request's reputation floor.
// Zero minProviders or minReputation select the configured defaults.
// Notification is fire-and-forget; the returned count is how many
// providers accepted.
func (c *Coordinator) SubmitRequest(ctx context.Context, dataType string, params map[string]string,
	requester string, deadline time.Time, minProviders int, minReputation float64) (*domain.DataRequest, int) {

	if minProviders == 0 {
		minProviders = c.cfg.DefaultMinProviders
	}
	if minReputation == 0 {
		minReputation = c.cfg.DefaultMinReputation
	}

	req := c.ledger.SubmitRequest(dataType, params, requester, deadline, minProviders, minReputation)
	observability.RequestsSubmitted.WithLabelValues(dataType).Inc()

	notified := c.notifyProviders(ctx, req)
	return req, notified
}

func (c *Coordinator) notifyProviders(ctx context.Context, req *domain.DataRequest) int {
	c.mu.RLock()
	eligible := make([]domain.DataProvider, 0, len(c.providers))
	for id, p := range c.providers {
		if !p.Supports(req.DataType) {
			continue
		}
		if c.trust.Score(id) < req.MinReputation {
			continue
		}
		eligible = append(eligible, p)
	}
	c.mu.RUnlock()

	notice := domain.RequestNotice{
		RequestID:  req.RequestID,
		DataType:   req.DataType,
		Parameters: req.Parameters,
		Deadline:   req.Deadline,
	}

	notified := 0
	for _, p := range eligible {
		if p.NotifyRequest(ctx, notice) {
			notified++
		}
	}
	c.logger.Info().
		Str("request", req.RequestID).
		Int("notified", notified).
		Msg("providers notified")
	return notified
}

// SubmitResponse accepts a provider's answer. It implements the response
// sink providers are bound to, and is also the path external submissions
// take through the API. When auto-finalize is on and the request reaches
// quorum, finalization runs inline.
func (c *Coordinator) SubmitResponse(ctx context.Context, requestID, providerID string, data domain.Payload, signature string) error {
	c.mu.RLock()
	counter, registered := c.counters[providerID]
	c.mu.RUnlock()
	if !registered {
		observability.ResponsesTotal.WithLabelValues("rejected").Inc()
		return domain.ErrProviderNotFound
	}

	count, err := c.ledger.SubmitResponse(requestID, providerID, data, signature)
	if err != nil {
		observability.ResponsesTotal.WithLabelValues("rejected").Inc()
		return err
	}
	observability.ResponsesTotal.WithLabelValues("accepted").Inc()

	c.mu.Lock()
	counter.responseCount++
	counter.lastUpdated = c.now()
	c.mu.Unlock()

	if c.cfg.AutoFinalize {
		snap, err := c.ledger.Status(requestID)
		if err == nil && count >= snap.MinProviders {
			if _, err := c.FinalizeRequest(ctx, requestID); err != nil {
				c.logger.Warn().Err(err).Str("request", requestID).Msg("auto-finalize failed")
			}
		}
	}
	return nil
}

// FinalizeRequest aggregates a request's verified responses into a
// consensus result. Calling it again on a finalized request returns the
// stored result without re-running aggregation or re-applying reputation
// and reward effects.
func (c *Coordinator) FinalizeRequest(ctx context.Context, requestID string) (*ledger.Outcome, error) {
	outcome, err := c.ledger.Resolve(requestID, c.engine.Aggregate)
	if err != nil {
		if outcome == nil {
			c.recordTerminal(requestID)
		}
		return nil, err
	}
	if !outcome.Fresh {
		return outcome, nil
	}

	observability.RequestsCompleted.WithLabelValues(string(domain.RequestFinalized)).Inc()
	c.engine.RecordOutcome(requestID, outcome.Verified, outcome.Result)
	c.reportReputations(outcome.Verified)
	c.persist(outcome)
	c.publish(ctx, outcome)
	return outcome, nil
}

// recordTerminal persists a request that ended without a result (expired
// or failed), so the audit trail survives restarts.
func (c *Coordinator) recordTerminal(requestID string) {
	snap, err := c.ledger.Status(requestID)
	if err != nil || !snap.Status.Terminal() {
		return
	}
	observability.RequestsCompleted.WithLabelValues(string(snap.Status)).Inc()

	c.mu.RLock()
	store := c.store
	c.mu.RUnlock()
	if store == nil {
		return
	}
	responses, _ := c.ledger.Responses(requestID)
	req, err := c.ledger.Request(requestID)
	if err != nil {
		return
	}
	if err := store.SaveRequest(req, responses); err != nil {
		c.logger.Warn().Err(err).Str("request", requestID).Msg("request persist failed")
	}
}

func (c *Coordinator) reportReputations(verified []*domain.DataResponse) {
	for _, r := range verified {
		observability.ProviderReputation.WithLabelValues(r.ProviderID).Set(c.trust.Score(r.ProviderID))
	}
}

func (c *Coordinator) persist(outcome *ledger.Outcome) {
	c.mu.RLock()
	store := c.store
	c.mu.RUnlock()
	if store == nil {
		return
	}
	responses, _ := c.ledger.Responses(outcome.Request.RequestID)
	if err := store.SaveRequest(outcome.Request, responses); err != nil {
		c.logger.Warn().Err(err).Str("request", outcome.Request.RequestID).Msg("request persist failed")
	}
}

// publish pushes a fresh result to every connected chain. Failures are
// logged and never roll back the finalization.
func (c *Coordinator) publish(ctx context.Context, outcome *ledger.Outcome) {
	c.mu.RLock()
	sinks := make(map[string]domain.PublishSink, len(c.chains))
	for name, sink := range c.chains {
		sinks[name] = sink
	}
	c.mu.RUnlock()

	for name, sink := range sinks {
		txRef, err := sink.Publish(ctx, outcome.Request.RequestID, outcome.Result, c.now())
		if err != nil {
			observability.PublishesTotal.WithLabelValues(name, "error").Inc()
			c.logger.Error().Err(err).
				Str("request", outcome.Request.RequestID).
				Str("chain", name).
				Msg("publish failed")
			continue
		}
		observability.PublishesTotal.WithLabelValues(name, "ok").Inc()
		c.logger.Info().
			Str("request", outcome.Request.RequestID).
			Str("chain", name).
			Str("tx", txRef).
			Msg("result published")
	}
}

// ─── Chain Connections ──────────────────────────────────────────────────────

// ConnectChain attaches a publish sink under a chain name. Finalized
// results are pushed to every connected chain.
func (c *Coordinator) ConnectChain(name string, sink domain.PublishSink) {
	c.mu.Lock()
	c.chains[name] = sink
	c.mu.Unlock()
	c.logger.Info().Str("chain", name).Msg("chain connected")
}

// Chains lists connected chain names, sorted.
func (c *Coordinator) Chains() []string {
	c.mu.RLock()
	out := make([]string, 0, len(c.chains))
	for name := range c.chains {
		out = append(out, name)
	}
	c.mu.RUnlock()
	sort.Strings(out)
	return out
}

// PublishResult re-publishes a finalized request's result to one named
// chain on demand.
func (c *Coordinator) PublishResult(ctx context.Context, requestID, chain string) (string, error) {
	c.mu.RLock()
	sink, ok := c.chains[chain]
	c.mu.RUnlock()
	if !ok {
		return "", domain.ErrChainNotConnected
	}

	snap, err := c.ledger.Status(requestID)
	if err != nil {
		return "", err
	}
	if snap.Status != domain.RequestFinalized || snap.Result == nil {
		return "", domain.ErrNotFinalized
	}

	txRef, err := sink.Publish(ctx, requestID, *snap.Result, c.now())
	if err != nil {
		observability.PublishesTotal.WithLabelValues(chain, "error").Inc()
		return "", err
	}
	observability.PublishesTotal.WithLabelValues(chain, "ok").Inc()
	return txRef, nil
}

// ─── Queries ────────────────────────────────────────────────────────────────

// RequestStatus returns a request snapshot.
func (c *Coordinator) RequestStatus(requestID string) (domain.RequestSnapshot, error) {
	return c.ledger.Status(requestID)
}

// Responses returns the responses collected for a request.
func (c *Coordinator) Responses(requestID string) ([]*domain.DataResponse, error) {
	return c.ledger.Responses(requestID)
}

// TopProviders returns the n highest-reputation entities.
func (c *Coordinator) TopProviders(n int) []reputation.Summary {
	return c.trust.TopEntities(n)
}

// ProviderReputation returns the detailed trust record for one provider.
func (c *Coordinator) ProviderReputation(providerID string) (reputation.Details, error) {
	details, ok := c.trust.Details(providerID)
	if !ok {
		return reputation.Details{}, domain.ErrProviderNotFound
	}
	return details, nil
}

// NetworkStats summarises the network: registry counts, request counts
// and the reputation spread over registered providers. A provider counts
// as active when it was updated within the last 24 hours.
func (c *Coordinator) NetworkStats() domain.NetworkStats {
	c.mu.RLock()
	total := len(c.providers)
	active := 0
	cutoff := c.now().Add(-24 * time.Hour)
	scores := make([]float64, 0, total)
	for id := range c.providers {
		if c.counters[id].lastUpdated.After(cutoff) {
			active++
		}
		scores = append(scores, c.trust.Score(id))
	}
	c.mu.RUnlock()

	var dist domain.ReputationDistribution
	if len(scores) > 0 {
		dist.Min, dist.Max = scores[0], scores[0]
		sum := 0.0
		for _, s := range scores {
			sum += s
			if s < dist.Min {
				dist.Min = s
			}
			if s > dist.Max {
				dist.Max = s
			}
		}
		dist.Average = sum / float64(len(scores))
	}

	return domain.NetworkStats{
		Providers:  domain.ProviderStats{Total: total, Active: active},
		Requests:   c.ledger.Counts(),
		Reputation: dist,
		Chains:     c.Chains(),
	}
}
