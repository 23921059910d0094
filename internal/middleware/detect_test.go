package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/botdetect/internal/action"
	"github.com/ocx/botdetect/internal/core"
	"github.com/ocx/botdetect/internal/detect/aggregator"
	"github.com/ocx/botdetect/internal/detect/orchestrator"
	"github.com/ocx/botdetect/internal/policy"
)

func newTestDetect(testMode bool) *Detect {
	reg := policy.NewRegistry(nil, nil, policy.DefaultPermissive())
	orc := orchestrator.New(nil, aggregator.New(aggregator.DefaultConfig()), orchestrator.DefaultConfig())
	resolver := action.NewResolver(false)
	return NewDetect(reg, orc, resolver, testMode)
}

func TestDetect_TestModeHeaderSynthesizesVerdictWithoutRunningOrchestrator(t *testing.T) {
	d := newTestDetect(true)
	var evidenceSeen core.AggregatedEvidence

	next := func(w http.ResponseWriter, r *http.Request) {
		evidenceSeen, _ = EvidenceFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}

	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	req.Header.Set(DefaultTestModeHeader, "malicious")
	rr := httptest.NewRecorder()

	d.Wrap(next)(rr, req)

	assert.Equal(t, 1.0, evidenceSeen.BotProbability)
	assert.True(t, evidenceSeen.VerifiedBad)
	assert.Equal(t, "true", rr.Header().Get(TestModeResponseHeader))
}

func TestDetect_TestModeHeaderGooglebotVerdict(t *testing.T) {
	d := newTestDetect(true)
	var evidenceSeen core.AggregatedEvidence

	next := func(w http.ResponseWriter, r *http.Request) {
		evidenceSeen, _ = EvidenceFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}

	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	req.Header.Set(DefaultTestModeHeader, "googlebot")
	rr := httptest.NewRecorder()

	d.Wrap(next)(rr, req)

	assert.True(t, evidenceSeen.VerifiedGood)
	assert.Equal(t, "search_engine", evidenceSeen.BotType)
	assert.Equal(t, "Googlebot", evidenceSeen.BotName)
	assert.Equal(t, "true", rr.Header().Get(TestModeResponseHeader))
}

func TestDetect_TestModeHeaderDisableFallsThroughToOrchestrator(t *testing.T) {
	d := newTestDetect(true)
	called := false

	next := func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}

	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	req.Header.Set(DefaultTestModeHeader, "disable")
	rr := httptest.NewRecorder()

	d.Wrap(next)(rr, req)

	require.True(t, called, "a disable value must fall through to the real orchestrator path")
	assert.Equal(t, "disabled", rr.Header().Get(TestModeResponseHeader))
}

func TestDetect_TestModeHeaderIgnoredWhenTestModeDisabled(t *testing.T) {
	d := newTestDetect(false)
	called := false

	next := func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}

	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	req.Header.Set(DefaultTestModeHeader, "malicious")
	rr := httptest.NewRecorder()

	d.Wrap(next)(rr, req)

	require.True(t, called, "with test mode off the orchestrator path (no detectors, fail-open) should still call next")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, rr.Header().Get(TestModeResponseHeader))
}

func TestDetect_CustomTestModeHeaderNameIsHonored(t *testing.T) {
	reg := policy.NewRegistry(nil, nil, policy.DefaultPermissive())
	orc := orchestrator.New(nil, aggregator.New(aggregator.DefaultConfig()), orchestrator.DefaultConfig())
	resolver := action.NewResolver(false)
	d := NewDetect(reg, orc, resolver, true).WithTestModeHeader("x-custom-verdict")

	var evidenceSeen core.AggregatedEvidence
	next := func(w http.ResponseWriter, r *http.Request) {
		evidenceSeen, _ = EvidenceFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}

	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	req.Header.Set("x-custom-verdict", "human")
	rr := httptest.NewRecorder()

	d.Wrap(next)(rr, req)

	assert.True(t, evidenceSeen.VerifiedGood)
	assert.Equal(t, 0.05, evidenceSeen.BotProbability)
}

func TestDetect_NoDetectorsFailsOpenAndCallsNext(t *testing.T) {
	d := newTestDetect(false)
	called := false
	next := func(w http.ResponseWriter, r *http.Request) { called = true }

	req := httptest.NewRequest(http.MethodGet, "/some/path", nil)
	rr := httptest.NewRecorder()
	d.Wrap(next)(rr, req)

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRequestID_FallsBackToGeneratedUUIDWhenHeaderAbsent(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	id := requestID(req)
	assert.NotEmpty(t, id)
}

func TestRequestID_UsesClientSuppliedHeaderWhenPresent(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	assert.Equal(t, "abc-123", requestID(req))
}

func TestRequestViewFromHTTP_ParsesRemoteAddrAndHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/checkout/pay?x=1", nil)
	req.RemoteAddr = "203.0.113.9:54321"
	req.Header.Set("User-Agent", "test-agent")

	view := requestViewFromHTTP(req)

	assert.Equal(t, "/checkout/pay", view.Path)
	assert.Equal(t, "x=1", view.Query)
	assert.Equal(t, "203.0.113.9", view.RemoteAddr.String())
	assert.Equal(t, "test-agent", view.Headers.Get("User-Agent"))
}
