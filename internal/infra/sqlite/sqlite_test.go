package sqlite

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/eres45/EcoChain/internal/domain"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

var testEpoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// ─── Reputation ─────────────────────────────────────────────────────────────

func TestSaveReputation_RoundTrip(t *testing.T) {
	db := newTestDB(t)

	snap := domain.ReputationSnapshot{
		EntityID:        "prov-1",
		Score:           62.5,
		LastUpdated:     testEpoch,
		CreationTime:    testEpoch.Add(-24 * time.Hour),
		AccuracySamples: 7,
	}
	if err := db.SaveReputation(snap); err != nil {
		t.Fatalf("SaveReputation() error: %v", err)
	}

	got, err := db.LoadReputations()
	if err != nil {
		t.Fatalf("LoadReputations() error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].EntityID != "prov-1" {
		t.Errorf("entity = %s, want prov-1", got[0].EntityID)
	}
	if got[0].Score != 62.5 {
		t.Errorf("score = %f, want 62.5", got[0].Score)
	}
	if !got[0].LastUpdated.Equal(testEpoch) {
		t.Errorf("lastUpdated = %v, want %v", got[0].LastUpdated, testEpoch)
	}
	if got[0].AccuracySamples != 7 {
		t.Errorf("samples = %d, want 7", got[0].AccuracySamples)
	}
}

func TestSaveReputation_UpsertKeepsCreationTime(t *testing.T) {
	db := newTestDB(t)

	created := testEpoch.Add(-48 * time.Hour)
	db.SaveReputation(domain.ReputationSnapshot{
		EntityID: "prov-1", Score: 50, LastUpdated: created, CreationTime: created,
	})
	db.SaveReputation(domain.ReputationSnapshot{
		EntityID: "prov-1", Score: 55, LastUpdated: testEpoch, CreationTime: testEpoch,
	})

	got, err := db.LoadReputations()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1 after upsert", len(got))
	}
	if got[0].Score != 55 {
		t.Errorf("score = %f, want 55", got[0].Score)
	}
	if !got[0].CreationTime.Equal(created) {
		t.Errorf("creationTime = %v, want original %v", got[0].CreationTime, created)
	}
}

// ─── Requests ───────────────────────────────────────────────────────────────

func TestSaveRequest_RoundTrip(t *testing.T) {
	db := newTestDB(t)

	result := domain.ScalarPayload(280)
	yes := true
	req := &domain.DataRequest{
		RequestID:     "req-1",
		DataType:      "carbon_intensity",
		Parameters:    map[string]string{"region": "europe"},
		Requester:     "consumer-1",
		Timestamp:     testEpoch,
		Deadline:      testEpoch.Add(time.Hour),
		MinProviders:  3,
		MinReputation: 40,
		Status:        domain.RequestFinalized,
		Result:        &result,
	}
	responses := []*domain.DataResponse{
		{
			RequestID:          "req-1",
			ProviderID:         "prov-1",
			Data:               domain.ScalarPayload(280),
			Timestamp:          testEpoch.Add(time.Minute),
			Signature:          "sig-1",
			Status:             domain.ResponseVerified,
			VerificationResult: &yes,
		},
		{
			RequestID:  "req-1",
			ProviderID: "prov-2",
			Data:       domain.ScalarPayload(300),
			Timestamp:  testEpoch.Add(2 * time.Minute),
			Status:     domain.ResponseSubmitted,
		},
	}

	if err := db.SaveRequest(req, responses); err != nil {
		t.Fatalf("SaveRequest() error: %v", err)
	}

	got, err := db.GetRequest("req-1")
	if err != nil {
		t.Fatalf("GetRequest() error: %v", err)
	}
	if got.DataType != "carbon_intensity" {
		t.Errorf("dataType = %s", got.DataType)
	}
	if got.Parameters["region"] != "europe" {
		t.Errorf("parameters = %v", got.Parameters)
	}
	if got.Status != domain.RequestFinalized {
		t.Errorf("status = %s", got.Status)
	}
	if got.Result == nil || got.Result.Scalar != 280 {
		t.Errorf("result = %+v, want scalar 280", got.Result)
	}
	if !got.Deadline.Equal(testEpoch.Add(time.Hour)) {
		t.Errorf("deadline = %v", got.Deadline)
	}

	resps, err := db.GetResponses("req-1")
	if err != nil {
		t.Fatalf("GetResponses() error: %v", err)
	}
	if len(resps) != 2 {
		t.Fatalf("len(responses) = %d, want 2", len(resps))
	}
	byProvider := map[string]*domain.DataResponse{}
	for _, r := range resps {
		byProvider[r.ProviderID] = r
	}
	if r := byProvider["prov-1"]; r == nil || !r.Valid() || r.Signature != "sig-1" {
		t.Errorf("prov-1 response = %+v", r)
	}
	if r := byProvider["prov-2"]; r == nil || r.VerificationResult != nil {
		t.Errorf("prov-2 response = %+v", r)
	}
}

func TestSaveRequest_NoDeadlineNoResult(t *testing.T) {
	db := newTestDB(t)

	req := &domain.DataRequest{
		RequestID:    "req-1",
		DataType:     "energy_mix",
		Parameters:   map[string]string{},
		Requester:    "consumer-1",
		Timestamp:    testEpoch,
		MinProviders: 1,
		Status:       domain.RequestFailed,
	}
	if err := db.SaveRequest(req, nil); err != nil {
		t.Fatalf("SaveRequest() error: %v", err)
	}

	got, err := db.GetRequest("req-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.HasDeadline() {
		t.Errorf("deadline = %v, want zero", got.Deadline)
	}
	if got.Result != nil {
		t.Errorf("result = %+v, want nil", got.Result)
	}
}

func TestGetRequest_NotFound(t *testing.T) {
	db := newTestDB(t)
	_, err := db.GetRequest("missing")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("err = %v, want sql.ErrNoRows", err)
	}
}

func TestCountRequestsByStatus(t *testing.T) {
	db := newTestDB(t)

	for i, status := range []domain.RequestStatus{
		domain.RequestFinalized, domain.RequestFinalized, domain.RequestExpired,
	} {
		req := &domain.DataRequest{
			RequestID:  string(rune('a' + i)),
			DataType:   "carbon_intensity",
			Parameters: map[string]string{},
			Timestamp:  testEpoch,
			Status:     status,
		}
		if err := db.SaveRequest(req, nil); err != nil {
			t.Fatal(err)
		}
	}

	counts, err := db.CountRequestsByStatus()
	if err != nil {
		t.Fatal(err)
	}
	if counts[domain.RequestFinalized] != 2 {
		t.Errorf("finalized = %d, want 2", counts[domain.RequestFinalized])
	}
	if counts[domain.RequestExpired] != 1 {
		t.Errorf("expired = %d, want 1", counts[domain.RequestExpired])
	}
}

// ─── Rewards ────────────────────────────────────────────────────────────────

func TestSaveReward_RoundTrip(t *testing.T) {
	db := newTestDB(t)

	acc := 0.97
	entries := []domain.RewardEntry{
		{ID: 1, Timestamp: testEpoch, RequestID: "req-1", ProviderID: "prov-1",
			Kind: domain.RewardBase, Amount: 1.0},
		{ID: 2, Timestamp: testEpoch, RequestID: "req-1", ProviderID: "prov-1",
			Kind: domain.RewardAccuracyBonus, Amount: 0.5, Accuracy: &acc},
	}
	for _, e := range entries {
		if err := db.SaveReward(e); err != nil {
			t.Fatalf("SaveReward(%d) error: %v", e.ID, err)
		}
	}

	got, err := db.LoadRewards()
	if err != nil {
		t.Fatalf("LoadRewards() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Kind != domain.RewardBase || got[0].Accuracy != nil {
		t.Errorf("entry 0 = %+v", got[0])
	}
	if got[1].Kind != domain.RewardAccuracyBonus {
		t.Errorf("entry 1 kind = %s", got[1].Kind)
	}
	if got[1].Accuracy == nil || *got[1].Accuracy != 0.97 {
		t.Errorf("entry 1 accuracy = %v, want 0.97", got[1].Accuracy)
	}
}
