package domain

import (
	"context"
	"time"
)

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers. Infrastructure
// implements them; the coordinator depends on them.

// RequestNotice is the message pushed to an eligible provider when a new
// request arrives.
type RequestNotice struct {
	RequestID  string
	DataType   string
	Parameters map[string]string
	Deadline   time.Time // zero = no deadline
}

// DataProvider is a registered unit of external data retrieval. A provider
// is notified of a request, fetches asynchronously, and pushes its answer
// back through the ResponseSink it was bound to at registration. It never
// holds a closure over coordinator internals.
type DataProvider interface {
	// ID returns the provider's opaque unique identifier.
	ID() string

	// Name returns the human-readable provider name.
	Name() string

	// DataTypes lists the data type strings this provider can serve.
	DataTypes() []string

	// Supports reports whether the provider serves the given data type.
	Supports(dataType string) bool

	// Active reports whether the provider currently accepts work.
	Active() bool

	// Bind hands the provider the sink it submits responses through.
	Bind(sink ResponseSink)

	// NotifyRequest offers a request to the provider. It returns false
	// immediately when the data type is unsupported or the provider is
	// inactive; on true, the fetch proceeds asynchronously.
	NotifyRequest(ctx context.Context, notice RequestNotice) bool
}

// ResponseSink accepts provider responses. The coordinator implements it.
type ResponseSink interface {
	SubmitResponse(ctx context.Context, requestID, providerID string, data Payload, signature string) error
}

// Verifier validates a submitted response. This core ships a pass-through
// implementation; a deployment can plug in real signature checking.
type Verifier interface {
	Verify(resp *DataResponse) bool
}

// PublishSink delivers a finalized result to an external chain. It is
// invoked fire-once after finalization; failures are logged and never roll
// back the finalize.
type PublishSink interface {
	Publish(ctx context.Context, requestID string, result Payload, at time.Time) (txRef string, err error)
}

// RewardSink is notified once per contributing response after a request is
// finalized. Accuracy is the only signal this core exposes; the sink owns
// any payout policy. hasAccuracy is false for non-numeric results.
type RewardSink interface {
	Distribute(requestID, providerID string, accuracy float64, hasAccuracy bool)
}

// SnapshotStore is the swappable persistence sink for reputation records
// and completed requests. All methods are best-effort from the caller's
// point of view: persistence failures are logged, not propagated.
type SnapshotStore interface {
	SaveReputation(snap ReputationSnapshot) error
	SaveRequest(req *DataRequest, responses []*DataResponse) error
	SaveReward(entry RewardEntry) error
}
