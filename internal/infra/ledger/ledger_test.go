package ledger

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/eres45/EcoChain/internal/domain"
	"github.com/eres45/EcoChain/internal/logging"
)

// ─── Helpers ────────────────────────────────────────────────────────────────

var testEpoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l := New(nil, logging.Nop())
	l.SetClock(func() time.Time { return testEpoch })
	return l
}

func submitCarbonRequest(l *Ledger, minProviders int) *domain.DataRequest {
	return l.SubmitRequest("carbon_intensity", map[string]string{"region": "europe"},
		"consumer-1", time.Time{}, minProviders, 50.0)
}

func meanOf(req *domain.DataRequest, verified []*domain.DataResponse) (domain.Payload, error) {
	sum := 0.0
	for _, r := range verified {
		sum += r.Data.Scalar
	}
	return domain.ScalarPayload(sum / float64(len(verified))), nil
}

// ─── Submission Tests ───────────────────────────────────────────────────────

func TestSubmitRequest(t *testing.T) {
	l := newTestLedger(t)
	req := submitCarbonRequest(l, 3)

	if req.RequestID == "" {
		t.Fatal("request id must be generated")
	}
	if req.Status != domain.RequestPending {
		t.Errorf("status = %s, want PENDING", req.Status)
	}

	snap, err := l.Status(req.RequestID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if snap.ResponseCount != 0 {
		t.Errorf("response count = %d, want 0", snap.ResponseCount)
	}
}

func TestSubmitResponse(t *testing.T) {
	l := newTestLedger(t)
	req := submitCarbonRequest(l, 3)

	n, err := l.SubmitResponse(req.RequestID, "prov-1", domain.ScalarPayload(280), "")
	if err != nil {
		t.Fatalf("SubmitResponse: %v", err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}

	resps, _ := l.Responses(req.RequestID)
	if len(resps) != 1 || !resps[0].Valid() {
		t.Errorf("expected one verified response, got %+v", resps)
	}
}

func TestSubmitResponse_UnknownRequest(t *testing.T) {
	l := newTestLedger(t)
	_, err := l.SubmitResponse("nope", "prov-1", domain.ScalarPayload(1), "")
	if !errors.Is(err, domain.ErrRequestNotFound) {
		t.Errorf("err = %v, want ErrRequestNotFound", err)
	}
}

func TestSubmitResponse_DuplicateRejected(t *testing.T) {
	l := newTestLedger(t)
	req := submitCarbonRequest(l, 3)

	if _, err := l.SubmitResponse(req.RequestID, "prov-1", domain.ScalarPayload(280), ""); err != nil {
		t.Fatalf("first response: %v", err)
	}
	_, err := l.SubmitResponse(req.RequestID, "prov-1", domain.ScalarPayload(999), "")
	if !errors.Is(err, domain.ErrDuplicateResponse) {
		t.Errorf("err = %v, want ErrDuplicateResponse", err)
	}

	// The duplicate must not have been stored.
	resps, _ := l.Responses(req.RequestID)
	if len(resps) != 1 {
		t.Errorf("responses = %d, want 1", len(resps))
	}
}

func TestSubmitResponse_DeadlineExpiry(t *testing.T) {
	l := newTestLedger(t)
	req := l.SubmitRequest("carbon_intensity", nil, "consumer-1",
		testEpoch.Add(-time.Second), 3, 50.0)

	_, err := l.SubmitResponse(req.RequestID, "prov-1", domain.ScalarPayload(280), "")
	if !errors.Is(err, domain.ErrRequestExpired) {
		t.Errorf("err = %v, want ErrRequestExpired", err)
	}

	// The status query reports EXPIRED even with zero responses.
	snap, err := l.Status(req.RequestID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if snap.Status != domain.RequestExpired {
		t.Errorf("status = %s, want EXPIRED", snap.Status)
	}
}

func TestStatus_LazyExpiry(t *testing.T) {
	l := newTestLedger(t)
	req := l.SubmitRequest("carbon_intensity", nil, "consumer-1",
		testEpoch.Add(time.Hour), 3, 50.0)

	// Before the deadline: still pending.
	snap, _ := l.Status(req.RequestID)
	if snap.Status != domain.RequestPending {
		t.Fatalf("status = %s, want PENDING", snap.Status)
	}

	// Move past the deadline: the next query expires it.
	l.SetClock(func() time.Time { return testEpoch.Add(2 * time.Hour) })
	snap, _ = l.Status(req.RequestID)
	if snap.Status != domain.RequestExpired {
		t.Errorf("status = %s, want EXPIRED", snap.Status)
	}
}

// ─── Resolve Tests ──────────────────────────────────────────────────────────

func TestResolve_QuorumGating(t *testing.T) {
	l := newTestLedger(t)
	req := submitCarbonRequest(l, 3)

	providers := []string{"prov-1", "prov-2", "prov-3"}
	values := []float64{280, 300, 260}

	// At 0, 1 and 2 responses the resolve must fail with quorum errors.
	for i := 0; i < 3; i++ {
		if _, err := l.Resolve(req.RequestID, meanOf); !errors.Is(err, domain.ErrInsufficientQuorum) {
			t.Errorf("at %d responses: err = %v, want ErrInsufficientQuorum", i, err)
		}
		if _, err := l.SubmitResponse(req.RequestID, providers[i], domain.ScalarPayload(values[i]), ""); err != nil {
			t.Fatalf("response %d: %v", i, err)
		}
	}

	out, err := l.Resolve(req.RequestID, meanOf)
	if err != nil {
		t.Fatalf("Resolve at quorum: %v", err)
	}
	if !out.Fresh {
		t.Error("first resolve must be fresh")
	}
	if out.Result.Scalar != 280.0 {
		t.Errorf("result = %f, want 280.0", out.Result.Scalar)
	}
}

func TestResolve_Idempotent(t *testing.T) {
	l := newTestLedger(t)
	req := submitCarbonRequest(l, 1)
	l.SubmitResponse(req.RequestID, "prov-1", domain.ScalarPayload(42), "")

	calls := 0
	fn := func(r *domain.DataRequest, verified []*domain.DataResponse) (domain.Payload, error) {
		calls++
		return meanOf(r, verified)
	}

	first, err := l.Resolve(req.RequestID, fn)
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	second, err := l.Resolve(req.RequestID, fn)
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}

	if calls != 1 {
		t.Errorf("finalize fn ran %d times, want 1", calls)
	}
	if second.Fresh {
		t.Error("second resolve must not be fresh")
	}
	if first.Result.Scalar != second.Result.Scalar {
		t.Errorf("results differ: %f vs %f", first.Result.Scalar, second.Result.Scalar)
	}
}

func TestResolve_ResponsesAfterFinalizeRejected(t *testing.T) {
	l := newTestLedger(t)
	req := submitCarbonRequest(l, 1)
	l.SubmitResponse(req.RequestID, "prov-1", domain.ScalarPayload(42), "")
	if _, err := l.Resolve(req.RequestID, meanOf); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	_, err := l.SubmitResponse(req.RequestID, "prov-2", domain.ScalarPayload(50), "")
	if !errors.Is(err, domain.ErrRequestClosed) {
		t.Errorf("err = %v, want ErrRequestClosed", err)
	}
}

func TestResolve_AggregationFailureMarksFailed(t *testing.T) {
	l := newTestLedger(t)
	req := submitCarbonRequest(l, 1)
	l.SubmitResponse(req.RequestID, "prov-1", domain.ScalarPayload(42), "")

	fail := func(r *domain.DataRequest, verified []*domain.DataResponse) (domain.Payload, error) {
		return domain.Payload{}, domain.ErrUnsupportedPayload
	}
	if _, err := l.Resolve(req.RequestID, fail); !errors.Is(err, domain.ErrUnsupportedPayload) {
		t.Fatalf("err = %v, want ErrUnsupportedPayload", err)
	}

	snap, _ := l.Status(req.RequestID)
	if snap.Status != domain.RequestFailed {
		t.Errorf("status = %s, want FAILED", snap.Status)
	}
}

func TestResolve_ConcurrentSingleFinalize(t *testing.T) {
	l := newTestLedger(t)
	req := submitCarbonRequest(l, 3)
	for i, v := range []float64{280, 300, 260} {
		l.SubmitResponse(req.RequestID, []string{"a", "b", "c"}[i], domain.ScalarPayload(v), "")
	}

	var mu sync.Mutex
	calls := 0
	fn := func(r *domain.DataRequest, verified []*domain.DataResponse) (domain.Payload, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return meanOf(r, verified)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Resolve(req.RequestID, fn)
		}()
	}
	wg.Wait()

	if calls != 1 {
		t.Errorf("finalize fn ran %d times under contention, want 1", calls)
	}
}

// ─── Counts Tests ───────────────────────────────────────────────────────────

func TestCounts(t *testing.T) {
	l := newTestLedger(t)
	submitCarbonRequest(l, 3)
	done := submitCarbonRequest(l, 1)
	l.SubmitResponse(done.RequestID, "prov-1", domain.ScalarPayload(1), "")
	l.Resolve(done.RequestID, meanOf)
	l.SubmitRequest("carbon_intensity", nil, "consumer-1", testEpoch.Add(-time.Minute), 3, 50)

	stats := l.Counts()
	if stats.Total != 3 {
		t.Errorf("total = %d, want 3", stats.Total)
	}
	if stats.Pending != 1 || stats.Finalized != 1 || stats.Expired != 1 {
		t.Errorf("counts = %+v, want 1 pending, 1 finalized, 1 expired", stats)
	}
}
