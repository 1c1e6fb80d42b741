package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eres45/EcoChain/internal/domain"
)

// ─── Requests ───────────────────────────────────────────────────────────────

type submitRequestBody struct {
	DataType   string            `json:"data_type"`
	Parameters map[string]string `json:"parameters"`
	Requester  string            `json:"requester"`
	// DeadlineSeconds is relative to now; zero means no deadline.
	DeadlineSeconds int     `json:"deadline_seconds"`
	MinProviders    int     `json:"min_providers"`
	MinReputation   float64 `json:"min_reputation"`
}

func (s *Server) handleSubmitRequest(w http.ResponseWriter, r *http.Request) {
	var body submitRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.DataType == "" {
		writeError(w, http.StatusBadRequest, "data_type is required")
		return
	}
	if body.Parameters == nil {
		body.Parameters = map[string]string{}
	}

	var deadline time.Time
	if body.DeadlineSeconds > 0 {
		deadline = time.Now().Add(time.Duration(body.DeadlineSeconds) * time.Second)
	}

	req, notified := s.coord.SubmitRequest(r.Context(), body.DataType, body.Parameters,
		body.Requester, deadline, body.MinProviders, body.MinReputation)

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"request_id":         req.RequestID,
		"status":             req.Status,
		"min_providers":      req.MinProviders,
		"providers_notified": notified,
	})
}

func (s *Server) handleRequestStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.coord.RequestStatus(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleRequestResponses(w http.ResponseWriter, r *http.Request) {
	responses, err := s.coord.Responses(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"responses": responses,
		"count":     len(responses),
	})
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	outcome, err := s.coord.FinalizeRequest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"request_id": outcome.Request.RequestID,
		"status":     outcome.Request.Status,
		"result":     outcome.Result,
		"providers":  len(outcome.Verified),
		"fresh":      outcome.Fresh,
	})
}

type publishBody struct {
	Chain string `json:"chain"`
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var body publishBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Chain == "" {
		writeError(w, http.StatusBadRequest, "chain is required")
		return
	}

	txRef, err := s.coord.PublishResult(r.Context(), chi.URLParam(r, "id"), body.Chain)
	if err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"request_id": chi.URLParam(r, "id"),
		"chain":      body.Chain,
		"tx":         txRef,
	})
}

// ─── Responses ──────────────────────────────────────────────────────────────

type submitResponseBody struct {
	RequestID  string          `json:"request_id"`
	ProviderID string          `json:"provider_id"`
	Data       json.RawMessage `json:"data"`
	Signature  string          `json:"signature"`
}

// handleSubmitResponse accepts an out-of-band provider response. The
// payload shape is decided here, at ingestion, from the raw JSON.
func (s *Server) handleSubmitResponse(w http.ResponseWriter, r *http.Request) {
	var body submitResponseBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.RequestID == "" || body.ProviderID == "" {
		writeError(w, http.StatusBadRequest, "request_id and provider_id are required")
		return
	}

	payload, err := domain.PayloadFromJSON(body.Data)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.coord.SubmitResponse(r.Context(), body.RequestID, body.ProviderID, payload, body.Signature); err != nil {
		writeJSON(w, errStatus(err), map[string]interface{}{
			"accepted": false,
			"reason":   err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"accepted": true,
	})
}

// ─── Providers & Reputation ─────────────────────────────────────────────────

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	minReputation := 0.0
	if raw := r.URL.Query().Get("min_reputation"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid min_reputation")
			return
		}
		minReputation = v
	}

	providers := s.coord.ListProviders(minReputation)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"providers": providers,
		"count":     len(providers),
	})
}

func (s *Server) handleProviderRewards(w http.ResponseWriter, r *http.Request) {
	if s.book == nil {
		writeError(w, http.StatusNotFound, "reward book not configured")
		return
	}
	id := chi.URLParam(r, "id")

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = v
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"provider_id": id,
		"balance":     s.book.Balance(id),
		"entries":     s.book.Entries(id, limit),
	})
}

func (s *Server) handleTopReputation(w http.ResponseWriter, r *http.Request) {
	n := 10
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			writeError(w, http.StatusBadRequest, "invalid n")
			return
		}
		n = v
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entities": s.coord.TopProviders(n),
	})
}

func (s *Server) handleReputationDetails(w http.ResponseWriter, r *http.Request) {
	details, err := s.coord.ProviderReputation(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, details)
}

// ─── Stats ──────────────────────────────────────────────────────────────────

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.NetworkStats())
}
