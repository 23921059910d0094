package adminapi

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/botdetect/internal/config"
	"github.com/ocx/botdetect/internal/core"
	"github.com/ocx/botdetect/internal/learning"
	"github.com/ocx/botdetect/internal/reputation"
)

func contextBG() context.Context { return context.Background() }

func withPatternVar(patternID string) func(*http.Request) *http.Request {
	return func(r *http.Request) *http.Request {
		return mux.SetURLVars(r, map[string]string{"patternId": patternID})
	}
}

func TestHandleInspectPattern_UnknownPatternReturnsFoundFalse(t *testing.T) {
	store := reputation.NewMemStore(reputation.DefaultConfig())
	h := HandleInspectPattern(store)

	req := withPatternVar("ua:nope")(httptest.NewRequest(http.MethodGet, "/admin/v1/reputation/ua:nope", nil))
	rr := httptest.NewRecorder()
	h(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"found":false`)
}

func TestHandleInspectPattern_KnownPatternReturnsRecord(t *testing.T) {
	store := reputation.NewMemStore(reputation.DefaultConfig())
	require.NoError(t, store.Observe(contextBG(), "ua:known", 1.0))

	h := HandleInspectPattern(store)
	req := withPatternVar("ua:known")(httptest.NewRequest(http.MethodGet, "/admin/v1/reputation/ua:known", nil))
	rr := httptest.NewRecorder()
	h(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"found":true`)
}

func TestHandleInspectPattern_MissingPatternIDIsBadRequest(t *testing.T) {
	store := reputation.NewMemStore(reputation.DefaultConfig())
	h := HandleInspectPattern(store)

	req := httptest.NewRequest(http.MethodGet, "/admin/v1/reputation/", nil)
	rr := httptest.NewRecorder()
	h(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleOverridePattern_SetsStateAndSticks(t *testing.T) {
	store := reputation.NewMemStore(reputation.DefaultConfig())
	h := HandleOverridePattern(store)

	body := bytes.NewBufferString(`{"state":"manually_blocked"}`)
	req := withPatternVar("ua:override")(httptest.NewRequest(http.MethodPost, "/admin/v1/reputation/ua:override/override", body))
	rr := httptest.NewRecorder()
	h(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"manually_blocked"`)

	rep, ok, err := store.Get(contextBG(), "ua:override")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "manually_blocked", rep.State.String())
}

func TestHandleOverridePattern_UnknownStateIsBadRequest(t *testing.T) {
	store := reputation.NewMemStore(reputation.DefaultConfig())
	h := HandleOverridePattern(store)

	body := bytes.NewBufferString(`{"state":"teleported"}`)
	req := withPatternVar("ua:x")(httptest.NewRequest(http.MethodPost, "/admin/v1/reputation/ua:x/override", body))
	rr := httptest.NewRecorder()
	h(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleOverridePattern_MalformedBodyIsBadRequest(t *testing.T) {
	store := reputation.NewMemStore(reputation.DefaultConfig())
	h := HandleOverridePattern(store)

	req := withPatternVar("ua:x")(httptest.NewRequest(http.MethodPost, "/admin/v1/reputation/ua:x/override", bytes.NewBufferString("not json")))
	rr := httptest.NewRecorder()
	h(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleExportTrainingData_StreamsNDJSONForEveryRecord(t *testing.T) {
	store := reputation.NewMemStore(reputation.DefaultConfig())
	require.NoError(t, store.Observe(contextBG(), "ua:a", 1.0))
	require.NoError(t, store.Observe(contextBG(), "ua:b", 0.0))

	h := HandleExportTrainingData(store)
	req := httptest.NewRequest(http.MethodGet, "/admin/v1/reputation/export", nil)
	rr := httptest.NewRecorder()
	h(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/x-ndjson", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Body.String(), "ua:a")
	assert.Contains(t, rr.Body.String(), "ua:b")
}

func TestHandleReloadPolicy_SuccessAndFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policies.yaml")
	require.NoError(t, os.WriteFile(path, []byte("default:\n  name: default\n"), 0o644))

	mgr, err := config.NewPolicyManager(path)
	require.NoError(t, err)

	h := HandleReloadPolicy(mgr)
	req := httptest.NewRequest(http.MethodPost, "/admin/v1/policy/reload", nil)
	rr := httptest.NewRecorder()
	h(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"reloaded":true`)

	require.NoError(t, os.Remove(path))
	rr2 := httptest.NewRecorder()
	h(rr2, req)
	assert.Equal(t, http.StatusInternalServerError, rr2.Code)
	assert.Contains(t, rr2.Body.String(), `"reloaded":false`)
}

func TestHandleSubmitFeedback_PublishesUserFeedbackEvent(t *testing.T) {
	bus := learning.NewLocalBus()
	received := make(chan core.LearningEvent, 1)
	bus.Subscribe(core.EventUserFeedback, func(ev core.LearningEvent) {
		received <- ev
	})

	h := HandleSubmitFeedback(bus)
	body := bytes.NewBufferString(`{"pattern_id":"ua:abc","label":0}`)
	req := httptest.NewRequest(http.MethodPost, "/admin/v1/feedback", body)
	rr := httptest.NewRecorder()
	h(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"published":true`)

	select {
	case ev := <-received:
		assert.Equal(t, "ua:abc", ev.Payload["pattern_id"])
		assert.Equal(t, 0.0, ev.Payload["label"])
	case <-time.After(time.Second):
		t.Fatal("expected UserFeedback event to be published")
	}
}

func TestHandleSubmitFeedback_MissingPatternIDReturnsBadRequest(t *testing.T) {
	bus := learning.NewLocalBus()
	h := HandleSubmitFeedback(bus)

	body := bytes.NewBufferString(`{"label":1}`)
	req := httptest.NewRequest(http.MethodPost, "/admin/v1/feedback", body)
	rr := httptest.NewRecorder()
	h(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleSubmitFeedback_InvalidLabelReturnsBadRequest(t *testing.T) {
	bus := learning.NewLocalBus()
	h := HandleSubmitFeedback(bus)

	body := bytes.NewBufferString(`{"pattern_id":"ua:abc","label":0.5}`)
	req := httptest.NewRequest(http.MethodPost, "/admin/v1/feedback", body)
	rr := httptest.NewRecorder()
	h(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleSubmitFeedback_MalformedBodyReturnsBadRequest(t *testing.T) {
	bus := learning.NewLocalBus()
	h := HandleSubmitFeedback(bus)

	req := httptest.NewRequest(http.MethodPost, "/admin/v1/feedback", bytes.NewBufferString("not json"))
	rr := httptest.NewRecorder()
	h(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
