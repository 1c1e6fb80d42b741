// Package domain contains pure business types with no infrastructure imports.
// It is the innermost layer: the ledger, aggregation engine, coordinator and
// API all depend on it, never the other way around.
package domain

import "time"

// ─── Status Enums ───────────────────────────────────────────────────────────

// RequestStatus is the lifecycle state of a data request.
type RequestStatus string

const (
	// RequestPending is the initial state: collecting responses.
	RequestPending RequestStatus = "PENDING"
	// RequestExpired is terminal: the deadline lapsed before quorum.
	RequestExpired RequestStatus = "EXPIRED"
	// RequestFinalized is terminal: aggregation produced a result.
	RequestFinalized RequestStatus = "FINALIZED"
	// RequestFailed is terminal: aggregation could not interpret the
	// collected responses (unsupported payload shape).
	RequestFailed RequestStatus = "FAILED"
)

// Terminal reports whether the status admits no further transitions.
func (s RequestStatus) Terminal() bool {
	return s == RequestExpired || s == RequestFinalized || s == RequestFailed
}

// ResponseStatus is the lifecycle state of a provider response.
type ResponseStatus string

const (
	ResponseSubmitted ResponseStatus = "SUBMITTED"
	ResponseVerified  ResponseStatus = "VERIFIED"
)

// ─── Core Records ───────────────────────────────────────────────────────────

// DataRequest is a consumer's request for an external measurement.
// Exactly one exists per RequestID; the ledger owns it exclusively.
type DataRequest struct {
	RequestID     string            `json:"request_id"`
	DataType      string            `json:"data_type"`
	Parameters    map[string]string `json:"parameters"`
	Requester     string            `json:"requester"`
	Timestamp     time.Time         `json:"timestamp"`
	Deadline      time.Time         `json:"deadline,omitempty"` // zero = no deadline
	MinProviders  int               `json:"min_providers"`
	MinReputation float64           `json:"min_reputation"`
	Status        RequestStatus     `json:"status"`
	Result        *Payload          `json:"result,omitempty"`
}

// HasDeadline reports whether the request carries a deadline.
func (r *DataRequest) HasDeadline() bool { return !r.Deadline.IsZero() }

// DataResponse is one provider's answer to a request. At most one exists
// per (request, provider) pair; it is immutable after verification.
type DataResponse struct {
	RequestID          string         `json:"request_id"`
	ProviderID         string         `json:"provider_id"`
	Data               Payload        `json:"data"`
	Timestamp          time.Time      `json:"timestamp"`
	Signature          string         `json:"signature,omitempty"`
	Status             ResponseStatus `json:"status"`
	VerificationResult *bool          `json:"verification_result,omitempty"`
}

// Valid reports whether the response passed verification.
func (r *DataResponse) Valid() bool {
	return r.Status == ResponseVerified && r.VerificationResult != nil && *r.VerificationResult
}

// ProviderInfo is the registry's view of a provider: identity plus the
// counters the coordinator maintains on each accepted response.
type ProviderInfo struct {
	ProviderID    string    `json:"provider_id"`
	Name          string    `json:"name"`
	DataTypes     []string  `json:"data_types"`
	Reputation    float64   `json:"reputation"`
	ResponseCount int64     `json:"response_count"`
	LastUpdated   time.Time `json:"last_updated"`
	Active        bool      `json:"active"`
}

// ─── Snapshots & Stats ──────────────────────────────────────────────────────

// RequestSnapshot is the read-only view returned by status queries.
type RequestSnapshot struct {
	RequestID     string        `json:"request_id"`
	DataType      string        `json:"data_type"`
	Status        RequestStatus `json:"status"`
	Requester     string        `json:"requester"`
	Timestamp     time.Time     `json:"timestamp"`
	Deadline      time.Time     `json:"deadline,omitempty"`
	ResponseCount int           `json:"response_count"`
	MinProviders  int           `json:"min_providers"`
	Result        *Payload      `json:"result,omitempty"`
}

// ReputationSnapshot is the persisted view of one entity's trust record.
type ReputationSnapshot struct {
	EntityID        string    `json:"entity_id"`
	Score           float64   `json:"score"`
	LastUpdated     time.Time `json:"last_updated"`
	CreationTime    time.Time `json:"creation_time"`
	AccuracySamples int       `json:"accuracy_samples"`
}

// ProviderStats and RequestStats are the count blocks of NetworkStats.
type ProviderStats struct {
	Total  int `json:"total"`
	Active int `json:"active"`
}

type RequestStats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Finalized int `json:"finalized"`
	Expired   int `json:"expired"`
	Failed    int `json:"failed"`
}

// ReputationDistribution summarises provider trust across the network.
type ReputationDistribution struct {
	Average float64 `json:"average"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
}

// NetworkStats is the coordinator's aggregate view of the oracle network.
type NetworkStats struct {
	Providers  ProviderStats          `json:"providers"`
	Requests   RequestStats           `json:"requests"`
	Reputation ReputationDistribution `json:"reputation"`
	Chains     []string               `json:"blockchain_connections"`
}
