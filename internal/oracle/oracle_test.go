package oracle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eres45/EcoChain/internal/domain"
	"github.com/eres45/EcoChain/internal/infra/aggregate"
	"github.com/eres45/EcoChain/internal/infra/chain"
	"github.com/eres45/EcoChain/internal/infra/ledger"
	"github.com/eres45/EcoChain/internal/infra/reputation"
	"github.com/eres45/EcoChain/internal/infra/rewards"
	"github.com/eres45/EcoChain/internal/logging"
)

// ─── Fakes ──────────────────────────────────────────────────────────────────

// syncProvider answers every supported notification inline with a fixed
// payload, so tests never wait on goroutines.
type syncProvider struct {
	id        string
	name      string
	dataTypes []string
	payload   domain.Payload
	active    bool

	mu       sync.Mutex
	sink     domain.ResponseSink
	notified int
}

func newSyncProvider(id string, value float64) *syncProvider {
	return &syncProvider{
		id:        id,
		name:      "test-" + id,
		dataTypes: []string{"carbon_intensity"},
		payload:   domain.ScalarPayload(value),
		active:    true,
	}
}

func (p *syncProvider) ID() string          { return p.id }
func (p *syncProvider) Name() string        { return p.name }
func (p *syncProvider) DataTypes() []string { return p.dataTypes }
func (p *syncProvider) Active() bool        { return p.active }

func (p *syncProvider) Supports(dataType string) bool {
	for _, dt := range p.dataTypes {
		if dt == dataType {
			return true
		}
	}
	return false
}

func (p *syncProvider) Bind(sink domain.ResponseSink) {
	p.mu.Lock()
	p.sink = sink
	p.mu.Unlock()
}

func (p *syncProvider) NotifyRequest(ctx context.Context, notice domain.RequestNotice) bool {
	if !p.Supports(notice.DataType) || !p.active {
		return false
	}
	p.mu.Lock()
	p.notified++
	sink := p.sink
	p.mu.Unlock()
	if sink != nil {
		sink.SubmitResponse(ctx, notice.RequestID, p.id, p.payload, "")
	}
	return true
}

// recordingStore captures snapshot-store calls.
type recordingStore struct {
	mu       sync.Mutex
	requests []*domain.DataRequest
}

func (s *recordingStore) SaveReputation(domain.ReputationSnapshot) error { return nil }
func (s *recordingStore) SaveReward(domain.RewardEntry) error            { return nil }

func (s *recordingStore) SaveRequest(req *domain.DataRequest, _ []*domain.DataResponse) error {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	return nil
}

func (s *recordingStore) saved() []*domain.DataRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*domain.DataRequest(nil), s.requests...)
}

// ─── Harness ────────────────────────────────────────────────────────────────

type harness struct {
	coord *Coordinator
	trust *reputation.Store
	book  *rewards.Book
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	logger := logging.Nop()
	trust := reputation.NewStore(reputation.DefaultConfig(), logger)
	book := rewards.NewBook(rewards.DefaultConfig(), logger)
	engine, err := aggregate.NewEngine(aggregate.StrategyWeightedMean, trust, book, logger)
	require.NoError(t, err)

	coord := New(cfg, ledger.New(nil, logger), trust, engine, logger)
	return &harness{coord: coord, trust: trust, book: book}
}

// ─── Registry Tests ─────────────────────────────────────────────────────────

func TestRegisterProvider(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	p := newSyncProvider("prov-1", 280)

	require.NoError(t, h.coord.RegisterProvider(p))
	assert.ErrorIs(t, h.coord.RegisterProvider(p), domain.ErrProviderExists)

	assert.True(t, h.trust.Has("prov-1"), "registration opens a trust record")
	assert.Equal(t, 50.0, h.trust.Score("prov-1"))

	got, err := h.coord.GetProvider("prov-1")
	require.NoError(t, err)
	assert.Equal(t, "test-prov-1", got.Name())
}

func TestRemoveProvider_KeepsReputation(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	p := newSyncProvider("prov-1", 280)
	require.NoError(t, h.coord.RegisterProvider(p))
	h.trust.UpdateScore("prov-1", 10, "earned")

	require.NoError(t, h.coord.RemoveProvider("prov-1"))
	assert.ErrorIs(t, h.coord.RemoveProvider("prov-1"), domain.ErrProviderNotFound)
	_, err := h.coord.GetProvider("prov-1")
	assert.ErrorIs(t, err, domain.ErrProviderNotFound)

	// Re-registration resumes with the earned score.
	require.NoError(t, h.coord.RegisterProvider(newSyncProvider("prov-1", 280)))
	assert.Equal(t, 60.0, h.trust.Score("prov-1"))
}

func TestListProviders_SortedAndFiltered(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	for _, id := range []string{"prov-1", "prov-2", "prov-3"} {
		require.NoError(t, h.coord.RegisterProvider(newSyncProvider(id, 280)))
	}
	h.trust.UpdateScore("prov-2", 20, "test")
	h.trust.UpdateScore("prov-3", -20, "test")

	all := h.coord.ListProviders(0)
	require.Len(t, all, 3)
	assert.Equal(t, "prov-2", all[0].ProviderID)
	assert.Equal(t, "prov-1", all[1].ProviderID)
	assert.Equal(t, "prov-3", all[2].ProviderID)

	trusted := h.coord.ListProviders(50)
	require.Len(t, trusted, 2)
}

// ─── Request Flow Tests ─────────────────────────────────────────────────────

// The canonical network walkthrough: three providers answer 280, 300 and
// 260 at equal starting reputation, quorum 3, and the consensus is 280.
func TestRequestFlow_AutoFinalize(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	store := &recordingStore{}
	h.coord.SetStore(store)

	adapter := chain.NewSimulatedAdapter("ecochain", logging.Nop())
	h.coord.ConnectChain("ecochain", adapter)

	values := map[string]float64{"prov-1": 280, "prov-2": 300, "prov-3": 260}
	for id, v := range values {
		require.NoError(t, h.coord.RegisterProvider(newSyncProvider(id, v)))
	}

	req, notified := h.coord.SubmitRequest(context.Background(), "carbon_intensity",
		map[string]string{"region": "europe"}, "consumer-1", time.Time{}, 3, 50)
	assert.Equal(t, 3, notified)

	snap, err := h.coord.RequestStatus(req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestFinalized, snap.Status)
	require.NotNil(t, snap.Result)
	assert.InDelta(t, 280.0, snap.Result.Scalar, 1e-9)

	// Exact providers moved: accuracy feedback landed once per provider.
	assert.Greater(t, h.trust.Score("prov-1"), 50.0, "perfect answer gains reputation")
	assert.Equal(t, 1.5, h.book.Balance("prov-1"), "base reward plus accuracy bonus")
	assert.Equal(t, 1.5, h.book.Balance("prov-2"), "still within the bonus threshold at 300")

	// Result persisted and published.
	saved := store.saved()
	require.Len(t, saved, 1)
	assert.Equal(t, domain.RequestFinalized, saved[0].Status)
	published, ok := adapter.Published(req.RequestID)
	require.True(t, ok)
	assert.InDelta(t, 280.0, published.Scalar, 1e-9)
}

func TestRequestFlow_ReputationFloorFiltersProviders(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	require.NoError(t, h.coord.RegisterProvider(newSyncProvider("prov-1", 280)))
	require.NoError(t, h.coord.RegisterProvider(newSyncProvider("prov-2", 300)))
	h.trust.UpdateScore("prov-2", -30, "penalty")

	_, notified := h.coord.SubmitRequest(context.Background(), "carbon_intensity",
		nil, "consumer-1", time.Time{}, 1, 50)
	assert.Equal(t, 1, notified, "prov-2 is below the floor")
}

func TestRequestFlow_UnsupportedTypeNotifiesNobody(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	require.NoError(t, h.coord.RegisterProvider(newSyncProvider("prov-1", 280)))

	req, notified := h.coord.SubmitRequest(context.Background(), "certificate_pricing",
		nil, "consumer-1", time.Time{}, 3, 0)
	assert.Equal(t, 0, notified)

	snap, err := h.coord.RequestStatus(req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestPending, snap.Status)
	assert.Equal(t, 0, snap.ResponseCount)
}

func TestSubmitResponse_UnregisteredProvider(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	req, _ := h.coord.SubmitRequest(context.Background(), "carbon_intensity",
		nil, "consumer-1", time.Time{}, 3, 0)

	err := h.coord.SubmitResponse(context.Background(), req.RequestID, "ghost",
		domain.ScalarPayload(280), "")
	assert.ErrorIs(t, err, domain.ErrProviderNotFound)
}

func TestFinalize_Manual(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutoFinalize = false
	h := newHarness(t, cfg)

	for id, v := range map[string]float64{"prov-1": 280, "prov-2": 300} {
		require.NoError(t, h.coord.RegisterProvider(newSyncProvider(id, v)))
	}
	req, _ := h.coord.SubmitRequest(context.Background(), "carbon_intensity",
		nil, "consumer-1", time.Time{}, 2, 0)

	snap, err := h.coord.RequestStatus(req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestPending, snap.Status, "no auto-finalize")
	assert.Equal(t, 2, snap.ResponseCount)

	outcome, err := h.coord.FinalizeRequest(context.Background(), req.RequestID)
	require.NoError(t, err)
	assert.True(t, outcome.Fresh)
	assert.InDelta(t, 290.0, outcome.Result.Scalar, 1e-9)
}

func TestFinalize_IdempotentEffects(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutoFinalize = false
	h := newHarness(t, cfg)

	require.NoError(t, h.coord.RegisterProvider(newSyncProvider("prov-1", 280)))
	req, _ := h.coord.SubmitRequest(context.Background(), "carbon_intensity",
		nil, "consumer-1", time.Time{}, 1, 0)

	first, err := h.coord.FinalizeRequest(context.Background(), req.RequestID)
	require.NoError(t, err)
	require.True(t, first.Fresh)
	balance := h.book.Balance("prov-1")
	score := h.trust.Score("prov-1")

	second, err := h.coord.FinalizeRequest(context.Background(), req.RequestID)
	require.NoError(t, err)
	assert.False(t, second.Fresh)
	assert.Equal(t, first.Result, second.Result)
	assert.Equal(t, balance, h.book.Balance("prov-1"), "rewards not re-applied")
	assert.Equal(t, score, h.trust.Score("prov-1"), "reputation not re-applied")
}

func TestFinalize_QuorumNotMet(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutoFinalize = false
	h := newHarness(t, cfg)

	require.NoError(t, h.coord.RegisterProvider(newSyncProvider("prov-1", 280)))
	req, _ := h.coord.SubmitRequest(context.Background(), "carbon_intensity",
		nil, "consumer-1", time.Time{}, 3, 0)

	_, err := h.coord.FinalizeRequest(context.Background(), req.RequestID)
	assert.ErrorIs(t, err, domain.ErrInsufficientQuorum)

	snap, _ := h.coord.RequestStatus(req.RequestID)
	assert.Equal(t, domain.RequestPending, snap.Status, "quorum failure is not terminal")
}

// ─── Chain Tests ────────────────────────────────────────────────────────────

func TestPublishResult(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	require.NoError(t, h.coord.RegisterProvider(newSyncProvider("prov-1", 280)))

	req, _ := h.coord.SubmitRequest(context.Background(), "carbon_intensity",
		nil, "consumer-1", time.Time{}, 1, 0)

	_, err := h.coord.PublishResult(context.Background(), req.RequestID, "ecochain")
	assert.ErrorIs(t, err, domain.ErrChainNotConnected)

	adapter := chain.NewSimulatedAdapter("ecochain", logging.Nop())
	h.coord.ConnectChain("ecochain", adapter)

	txRef, err := h.coord.PublishResult(context.Background(), req.RequestID, "ecochain")
	require.NoError(t, err)
	assert.NotEmpty(t, txRef)

	pending, _ := h.coord.SubmitRequest(context.Background(), "energy_mix",
		nil, "consumer-1", time.Time{}, 3, 0)
	_, err = h.coord.PublishResult(context.Background(), pending.RequestID, "ecochain")
	assert.ErrorIs(t, err, domain.ErrNotFinalized)
}

// ─── Stats Tests ────────────────────────────────────────────────────────────

func TestNetworkStats(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	epoch := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	h.coord.SetClock(func() time.Time { return epoch })

	for id, v := range map[string]float64{"prov-1": 280, "prov-2": 300, "prov-3": 260} {
		require.NoError(t, h.coord.RegisterProvider(newSyncProvider(id, v)))
	}
	h.coord.ConnectChain("ecochain", chain.NewSimulatedAdapter("ecochain", logging.Nop()))
	h.coord.SubmitRequest(context.Background(), "carbon_intensity",
		nil, "consumer-1", time.Time{}, 3, 0)

	stats := h.coord.NetworkStats()
	assert.Equal(t, 3, stats.Providers.Total)
	assert.Equal(t, 3, stats.Providers.Active, "all responded within 24h")
	assert.Equal(t, 1, stats.Requests.Total)
	assert.Equal(t, 1, stats.Requests.Finalized)
	assert.Equal(t, []string{"ecochain"}, stats.Chains)
	assert.Greater(t, stats.Reputation.Average, 50.0)
	assert.GreaterOrEqual(t, stats.Reputation.Max, stats.Reputation.Min)

	// A provider that never answers ages out of the active count.
	require.NoError(t, h.coord.RegisterProvider(newSyncProvider("prov-4", 280)))
	h.coord.SetClock(func() time.Time { return epoch.Add(25 * time.Hour) })
	stats = h.coord.NetworkStats()
	assert.Equal(t, 4, stats.Providers.Total)
	assert.Equal(t, 0, stats.Providers.Active)
}
