// Package ledger tracks in-flight and completed data requests with their
// collected responses.
//
// Requests are independent units of work: each one carries its own mutex,
// and the sequence "check not-already-responded → append response → check
// quorum → maybe finalize" runs entirely inside that lock. There is no
// cross-request locking. Deadline expiry is lazy: any locked access to a
// request whose deadline has lapsed transitions it to EXPIRED first.
//
// Requests are never deleted; the ledger is append-only for audit.
package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eres45/EcoChain/internal/domain"
)

// ─── Entries ────────────────────────────────────────────────────────────────

// entry pairs a request with its responses under one lock.
type entry struct {
	mu        sync.Mutex
	req       *domain.DataRequest
	responses []*domain.DataResponse
	responded map[string]bool // providerID → already responded
}

// Ledger owns all request entries. The outer RWMutex guards only the map;
// per-request state is guarded by the entry lock.
type Ledger struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	verifier domain.Verifier
	logger   zerolog.Logger

	// Injectable clock for testing.
	now func() time.Time
}

// New creates an empty ledger. verifier may be nil, in which case every
// response passes verification (the pass-through hook).
func New(verifier domain.Verifier, logger zerolog.Logger) *Ledger {
	return &Ledger{
		entries:  make(map[string]*entry),
		verifier: verifier,
		logger:   logger.With().Str("component", "ledger").Logger(),
		now:      time.Now,
	}
}

// SetClock overrides the time source (tests only).
func (l *Ledger) SetClock(now func() time.Time) { l.now = now }

// ─── Request Submission ─────────────────────────────────────────────────────

// SubmitRequest creates a new PENDING request and returns it. It always
// succeeds. A zero deadline means the request never expires.
func (l *Ledger) SubmitRequest(dataType string, params map[string]string, requester string,
	deadline time.Time, minProviders int, minReputation float64) *domain.DataRequest {

	if minProviders < 1 {
		minProviders = 1
	}
	req := &domain.DataRequest{
		RequestID:     uuid.NewString(),
		DataType:      dataType,
		Parameters:    params,
		Requester:     requester,
		Timestamp:     l.now(),
		Deadline:      deadline,
		MinProviders:  minProviders,
		MinReputation: minReputation,
		Status:        domain.RequestPending,
	}

	l.mu.Lock()
	l.entries[req.RequestID] = &entry{
		req:       req,
		responded: make(map[string]bool),
	}
	l.mu.Unlock()

	l.logger.Info().
		Str("request", req.RequestID).
		Str("data_type", dataType).
		Str("requester", requester).
		Int("min_providers", minProviders).
		Msg("request submitted")
	return req
}

func (l *Ledger) get(requestID string) (*entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[requestID]
	return e, ok
}

// expireLocked transitions a pending request past its deadline to EXPIRED.
// Caller holds the entry lock. Returns true if the request is now expired.
func (l *Ledger) expireLocked(e *entry) bool {
	if e.req.Status != domain.RequestPending {
		return e.req.Status == domain.RequestExpired
	}
	if e.req.HasDeadline() && l.now().After(e.req.Deadline) {
		e.req.Status = domain.RequestExpired
		l.logger.Warn().Str("request", e.req.RequestID).Msg("request expired")
		return true
	}
	return false
}

// ─── Response Submission ────────────────────────────────────────────────────

// SubmitResponse appends a provider's response to a pending request.
// The returned count is the number of responses collected so far, for
// quorum checks by the caller. The response is verified through the
// configured hook and stored VERIFIED on success.
func (l *Ledger) SubmitResponse(requestID, providerID string, data domain.Payload, signature string) (int, error) {
	e, ok := l.get(requestID)
	if !ok {
		return 0, domain.ErrRequestNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if l.expireLocked(e) {
		return 0, domain.ErrRequestExpired
	}
	if e.req.Status != domain.RequestPending {
		return 0, fmt.Errorf("%w: status %s", domain.ErrRequestClosed, e.req.Status)
	}
	if e.responded[providerID] {
		return 0, domain.ErrDuplicateResponse
	}

	resp := &domain.DataResponse{
		RequestID:  requestID,
		ProviderID: providerID,
		Data:       data,
		Timestamp:  l.now(),
		Signature:  signature,
		Status:     domain.ResponseSubmitted,
	}

	verified := l.verifier == nil || l.verifier.Verify(resp)
	resp.Status = domain.ResponseVerified
	resp.VerificationResult = &verified

	e.responses = append(e.responses, resp)
	e.responded[providerID] = true

	l.logger.Info().
		Str("request", requestID).
		Str("provider", providerID).
		Bool("verified", verified).
		Int("responses", len(e.responses)).
		Msg("response accepted")
	return len(e.responses), nil
}

// ─── Finalization ───────────────────────────────────────────────────────────

// FinalizeFunc aggregates the verified responses into one result.
type FinalizeFunc func(req *domain.DataRequest, verified []*domain.DataResponse) (domain.Payload, error)

// Outcome reports the result of a Resolve call.
type Outcome struct {
	Request  *domain.DataRequest
	Result   domain.Payload
	Verified []*domain.DataResponse // responses that contributed
	// Fresh is true when this call performed the PENDING→FINALIZED
	// transition; false when the request was already finalized and the
	// stored result was returned. Downstream effects (reputation,
	// rewards, publication) must only run on fresh outcomes.
	Fresh bool
}

// Resolve finalizes a request under its lock, running fn at most once per
// request lifetime. A second Resolve on a finalized request returns the
// stored result with Fresh=false and does not re-run fn, so finalization
// is idempotent. Quorum is enforced against both total and verified
// response counts. If fn fails the request transitions to FAILED.
func (l *Ledger) Resolve(requestID string, fn FinalizeFunc) (*Outcome, error) {
	e, ok := l.get(requestID)
	if !ok {
		return nil, domain.ErrRequestNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.req.Status == domain.RequestFinalized {
		return &Outcome{
			Request:  e.req,
			Result:   *e.req.Result,
			Verified: l.verifiedLocked(e),
			Fresh:    false,
		}, nil
	}
	if l.expireLocked(e) {
		return nil, domain.ErrRequestExpired
	}
	if e.req.Status != domain.RequestPending {
		return nil, fmt.Errorf("%w: status %s", domain.ErrRequestClosed, e.req.Status)
	}

	if len(e.responses) < e.req.MinProviders {
		return nil, fmt.Errorf("%w: have %d of %d responses",
			domain.ErrInsufficientQuorum, len(e.responses), e.req.MinProviders)
	}
	verified := l.verifiedLocked(e)
	if len(verified) < e.req.MinProviders {
		return nil, fmt.Errorf("%w: have %d of %d verified responses",
			domain.ErrInsufficientQuorum, len(verified), e.req.MinProviders)
	}

	result, err := fn(e.req, verified)
	if err != nil {
		e.req.Status = domain.RequestFailed
		l.logger.Error().Err(err).Str("request", requestID).Msg("aggregation failed")
		return nil, err
	}

	e.req.Result = &result
	e.req.Status = domain.RequestFinalized
	l.logger.Info().
		Str("request", requestID).
		Int("providers", len(verified)).
		Msg("request finalized")

	return &Outcome{Request: e.req, Result: result, Verified: verified, Fresh: true}, nil
}

func (l *Ledger) verifiedLocked(e *entry) []*domain.DataResponse {
	out := make([]*domain.DataResponse, 0, len(e.responses))
	for _, r := range e.responses {
		if r.Valid() {
			out = append(out, r)
		}
	}
	return out
}

// ─── Queries ────────────────────────────────────────────────────────────────

// Status returns a snapshot of a request. The deadline check runs here
// too, so an elapsed request reports EXPIRED even if it never saw a
// response.
func (l *Ledger) Status(requestID string) (domain.RequestSnapshot, error) {
	e, ok := l.get(requestID)
	if !ok {
		return domain.RequestSnapshot{}, domain.ErrRequestNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	l.expireLocked(e)

	return domain.RequestSnapshot{
		RequestID:     e.req.RequestID,
		DataType:      e.req.DataType,
		Status:        e.req.Status,
		Requester:     e.req.Requester,
		Timestamp:     e.req.Timestamp,
		Deadline:      e.req.Deadline,
		ResponseCount: len(e.responses),
		MinProviders:  e.req.MinProviders,
		Result:        e.req.Result,
	}, nil
}

// Request returns a copy of the full request record.
func (l *Ledger) Request(requestID string) (*domain.DataRequest, error) {
	e, ok := l.get(requestID)
	if !ok {
		return nil, domain.ErrRequestNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	l.expireLocked(e)
	req := *e.req
	return &req, nil
}

// Responses returns copies of all responses collected for a request.
func (l *Ledger) Responses(requestID string) ([]*domain.DataResponse, error) {
	e, ok := l.get(requestID)
	if !ok {
		return nil, domain.ErrRequestNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*domain.DataResponse(nil), e.responses...), nil
}

// Counts returns the number of requests per status. Pending requests past
// their deadline are expired as a side effect of the scan.
func (l *Ledger) Counts() domain.RequestStats {
	l.mu.RLock()
	entries := make([]*entry, 0, len(l.entries))
	for _, e := range l.entries {
		entries = append(entries, e)
	}
	l.mu.RUnlock()

	var stats domain.RequestStats
	for _, e := range entries {
		e.mu.Lock()
		l.expireLocked(e)
		status := e.req.Status
		e.mu.Unlock()

		stats.Total++
		switch status {
		case domain.RequestPending:
			stats.Pending++
		case domain.RequestFinalized:
			stats.Finalized++
		case domain.RequestExpired:
			stats.Expired++
		case domain.RequestFailed:
			stats.Failed++
		}
	}
	return stats
}
