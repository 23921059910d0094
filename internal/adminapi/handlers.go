package adminapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/ocx/botdetect/internal/config"
	"github.com/ocx/botdetect/internal/core"
	"github.com/ocx/botdetect/internal/learning"
	"github.com/ocx/botdetect/internal/reputation"
)

// ranger is satisfied by GuardedStore (and MemStore); the admin surface
// needs to walk every record, which the narrower reputation.Store contract
// does not expose.
type ranger interface {
	Range(ctx context.Context, fn func(core.PatternReputation) bool) error
}

// HandleInspectPattern returns the current reputation record for one
// pattern id. GET /admin/v1/reputation/{patternId}
func HandleInspectPattern(store reputation.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patternID := mux.Vars(r)["patternId"]
		if patternID == "" {
			http.Error(w, `{"error":"patternId is required"}`, http.StatusBadRequest)
			return
		}

		rep, ok, err := store.Get(r.Context(), patternID)
		if err != nil {
			http.Error(w, `{"error":"reputation store unavailable"}`, http.StatusServiceUnavailable)
			return
		}
		if !ok {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]interface{}{
				"pattern_id": patternID,
				"found":      false,
			})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"pattern_id": rep.PatternID,
			"found":      true,
			"bot_score":  rep.BotScore,
			"support":    rep.Support,
			"state":      rep.State.String(),
			"last_seen":  rep.LastSeen,
		})
	}
}

// overrideRequest is the body for a manual classification override.
type overrideRequest struct {
	State string `json:"state"` // manually_blocked, manually_allowed, neutral
}

// HandleOverridePattern sets a pattern's state directly, bypassing the
// hysteresis engine, for an operator correcting a misclassification.
// POST /admin/v1/reputation/{patternId}/override
func HandleOverridePattern(store reputation.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patternID := mux.Vars(r)["patternId"]
		if patternID == "" {
			http.Error(w, `{"error":"patternId is required"}`, http.StatusBadRequest)
			return
		}

		var req overrideRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}

		state, ok := parseState(req.State)
		if !ok {
			http.Error(w, `{"error":"unknown state"}`, http.StatusBadRequest)
			return
		}

		if err := store.SetState(r.Context(), patternID, state); err != nil {
			http.Error(w, `{"error":"failed to set state"}`, http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"pattern_id": patternID,
			"state":      state.String(),
			"updated":    true,
		})
	}
}

// feedbackRequest is the body for an operator correction fed back into
// online learning: a pattern id plus the ground-truth label (1 = bot,
// 0 = human).
type feedbackRequest struct {
	PatternID string  `json:"pattern_id"`
	Label     float64 `json:"label"`
}

// HandleSubmitFeedback publishes a UserFeedback learning event so the
// reputation sink observes the operator-supplied ground truth for a
// pattern, the same way HighConfidenceDetection events do.
// POST /admin/v1/feedback
func HandleSubmitFeedback(bus learning.Bus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req feedbackRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if req.PatternID == "" {
			http.Error(w, `{"error":"pattern_id is required"}`, http.StatusBadRequest)
			return
		}
		if req.Label != 0 && req.Label != 1 {
			http.Error(w, `{"error":"label must be 0 or 1"}`, http.StatusBadRequest)
			return
		}

		bus.Publish(core.LearningEvent{
			ID:   uuid.NewString(),
			Kind: core.EventUserFeedback,
			Payload: map[string]interface{}{
				"pattern_id": req.PatternID,
				"label":      req.Label,
			},
			Timestamp: time.Now(),
		})

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"pattern_id": req.PatternID,
			"label":      req.Label,
			"published":  true,
		})
	}
}

func parseState(s string) (core.ReputationState, bool) {
	switch s {
	case "neutral":
		return core.ReputationNeutral, true
	case "suspect":
		return core.ReputationSuspect, true
	case "confirmed_bad":
		return core.ReputationConfirmedBad, true
	case "confirmed_good":
		return core.ReputationConfirmedGood, true
	case "manually_blocked":
		return core.ReputationManuallyBlocked, true
	case "manually_allowed":
		return core.ReputationManuallyAllowed, true
	default:
		return 0, false
	}
}

// HandleExportTrainingData streams every held pattern reputation record as
// newline-delimited JSON, for offline model training or audit.
// GET /admin/v1/reputation/export
func HandleExportTrainingData(store reputation.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rg, ok := store.(ranger)
		if !ok {
			http.Error(w, `{"error":"store does not support export"}`, http.StatusNotImplemented)
			return
		}

		w.Header().Set("Content-Type", "application/x-ndjson")
		enc := json.NewEncoder(w)

		_ = rg.Range(r.Context(), func(rep core.PatternReputation) bool {
			_ = enc.Encode(map[string]interface{}{
				"pattern_id": rep.PatternID,
				"bot_score":  rep.BotScore,
				"support":    rep.Support,
				"state":      rep.State.String(),
				"last_seen":  rep.LastSeen,
			})
			return true
		})
	}
}

// HandleReloadPolicy re-reads policies.yaml from disk and atomically swaps
// the live route table. POST /admin/v1/policy/reload
func HandleReloadPolicy(mgr *config.PolicyManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := mgr.Reload(); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"reloaded": false,
				"error":    err.Error(),
			})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"reloaded":  true,
			"timestamp": time.Now(),
		})
	}
}
