// Package providers implements the data providers that answer oracle
// requests: a shared lifecycle wrapper around pluggable data sources, plus
// the built-in carbon emissions and renewable certificate sources.
package providers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eres45/EcoChain/internal/domain"
)

// Source produces a payload for a supported data type. Implementations do
// the actual lookup; the Provider wrapper handles everything network-facing.
type Source interface {
	Fetch(ctx context.Context, dataType string, params map[string]string) (domain.Payload, error)
}

// Config holds the settings shared by all providers.
type Config struct {
	ID          string // Generated when empty
	Name        string
	DataTypes   []string
	SigningKey  string // Empty disables response signing
	MaxInFlight int
	Logger      zerolog.Logger
}

// Provider wraps a Source with the oracle-facing lifecycle: request
// notification, bounded asynchronous fetching, response signing and
// submission through the bound sink.
type Provider struct {
	id         string
	name       string
	dataTypes  []string
	signingKey string
	source     Source
	logger     zerolog.Logger

	sem chan struct{}

	mu     sync.Mutex
	sink   domain.ResponseSink
	active bool
}

// New wraps source in a Provider.
func New(cfg Config, source Source) *Provider {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 4
	}
	return &Provider{
		id:         cfg.ID,
		name:       cfg.Name,
		dataTypes:  cfg.DataTypes,
		signingKey: cfg.SigningKey,
		source:     source,
		logger:     cfg.Logger.With().Str("provider", cfg.Name).Logger(),
		sem:        make(chan struct{}, cfg.MaxInFlight),
		active:     true,
	}
}

func (p *Provider) ID() string          { return p.id }
func (p *Provider) Name() string        { return p.name }
func (p *Provider) DataTypes() []string { return p.dataTypes }

// Supports reports whether the provider answers requests for dataType.
func (p *Provider) Supports(dataType string) bool {
	for _, dt := range p.dataTypes {
		if dt == dataType {
			return true
		}
	}
	return false
}

// Active reports whether the provider is accepting requests.
func (p *Provider) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Activate resumes request handling.
func (p *Provider) Activate() { p.setActive(true) }

// Deactivate stops the provider from accepting new requests. In-flight
// fetches finish normally.
func (p *Provider) Deactivate() { p.setActive(false) }

func (p *Provider) setActive(v bool) {
	p.mu.Lock()
	p.active = v
	p.mu.Unlock()
	p.logger.Info().Bool("active", v).Msg("provider state changed")
}

// Bind sets the sink that receives this provider's responses. The oracle
// coordinator calls this once at registration.
func (p *Provider) Bind(sink domain.ResponseSink) {
	p.mu.Lock()
	p.sink = sink
	p.mu.Unlock()
}

// NotifyRequest tells the provider about a new request. It returns true
// when the provider accepts the request and will answer it asynchronously;
// false when the data type is unsupported, the provider is inactive, or
// all fetch slots are busy. Fetch failures after acceptance are logged
// locally and produce no response.
func (p *Provider) NotifyRequest(ctx context.Context, notice domain.RequestNotice) bool {
	if !p.Supports(notice.DataType) {
		p.logger.Warn().Str("data_type", notice.DataType).Msg("unsupported data type")
		return false
	}

	p.mu.Lock()
	sink, active := p.sink, p.active
	p.mu.Unlock()
	if !active {
		p.logger.Warn().Str("request_id", notice.RequestID).Msg("provider inactive")
		return false
	}
	if sink == nil {
		p.logger.Warn().Str("request_id", notice.RequestID).Msg("no sink bound")
		return false
	}

	select {
	case p.sem <- struct{}{}:
	default:
		p.logger.Warn().Str("request_id", notice.RequestID).Msg("provider at capacity")
		return false
	}

	go p.answer(notice, sink)
	return true
}

// answer fetches, signs and submits a response for an accepted request.
func (p *Provider) answer(notice domain.RequestNotice, sink domain.ResponseSink) {
	defer func() { <-p.sem }()

	ctx := context.Background()
	if !notice.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, notice.Deadline)
		defer cancel()
	}

	data, err := p.source.Fetch(ctx, notice.DataType, notice.Parameters)
	if err != nil {
		p.logger.Error().Err(err).
			Str("request_id", notice.RequestID).
			Str("data_type", notice.DataType).
			Msg("fetch failed")
		return
	}

	sig := p.sign(notice.RequestID, data)
	if err := sink.SubmitResponse(ctx, notice.RequestID, p.id, data, sig); err != nil {
		p.logger.Warn().Err(err).
			Str("request_id", notice.RequestID).
			Msg("response rejected")
		return
	}
	p.logger.Info().
		Str("request_id", notice.RequestID).
		Str("data_type", notice.DataType).
		Msg("response submitted")
}

// sign produces a hex SHA-256 digest over the request id, the canonical
// payload encoding and the signing key. Returns "" when no key is set.
func (p *Provider) sign(requestID string, data domain.Payload) string {
	if p.signingKey == "" {
		return ""
	}
	msg := fmt.Sprintf("%s:%s%s", requestID, data.Canonical(), p.signingKey)
	sum := sha256.Sum256([]byte(msg))
	return hex.EncodeToString(sum[:])
}

// ─── Source helpers ─────────────────────────────────────────────────────────

// jitter returns v perturbed by up to ±fraction of itself.
func jitter(rng *rand.Rand, v, fraction float64) float64 {
	spread := v * fraction
	return v + (rng.Float64()*2-1)*spread
}

func newRNG(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}
