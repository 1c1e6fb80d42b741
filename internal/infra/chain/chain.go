// Package chain provides publish sinks that deliver finalized oracle
// results on-chain. The simulated adapter stands in for a real contract
// call and is what the demo and tests connect.
package chain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/eres45/EcoChain/internal/domain"
)

// SimulatedAdapter mimics an oracle contract endpoint: it accepts every
// publish, derives a deterministic transaction reference and remembers
// what it was given.
type SimulatedAdapter struct {
	name   string
	logger zerolog.Logger

	mu        sync.Mutex
	published map[string]domain.Payload
}

// NewSimulatedAdapter creates an adapter for the named chain.
func NewSimulatedAdapter(name string, logger zerolog.Logger) *SimulatedAdapter {
	return &SimulatedAdapter{
		name:      name,
		logger:    logger.With().Str("chain", name).Logger(),
		published: make(map[string]domain.Payload),
	}
}

// Publish records the result and returns a pseudo transaction hash.
func (a *SimulatedAdapter) Publish(ctx context.Context, requestID string, result domain.Payload, at time.Time) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	a.mu.Lock()
	a.published[requestID] = result
	a.mu.Unlock()

	msg := fmt.Sprintf("%s:%s:%s:%d", a.name, requestID, result.Canonical(), at.Unix())
	sum := sha256.Sum256([]byte(msg))
	txRef := "0x" + hex.EncodeToString(sum[:])

	a.logger.Info().
		Str("request", requestID).
		Str("tx", txRef).
		Msg("result published (simulated)")
	return txRef, nil
}

// Published returns the result recorded for a request, if any.
func (a *SimulatedAdapter) Published(requestID string) (domain.Payload, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.published[requestID]
	return p, ok
}
