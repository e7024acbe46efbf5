// internal/adapters/http_server/handlers.go
package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	redisad "reviewsync/internal/adapters/redis"
	"reviewsync/internal/app"
	"reviewsync/internal/domain"
)

type Handlers struct {
	Sync        *app.SyncService
	Reply       *app.ReplyService
	Alerts      *app.AlertRouter
	Store       domain.Store
	Pending     *redisad.Client
	ReviewLimit int
}

type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func (s *Server) MountHandlers(h *Handlers) {
	s.mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) })
	s.mux.Get("/v1/connections", h.listConnections)
	s.mux.Post("/v1/connections/{id}/sync", h.syncNow)
	s.mux.Post("/v1/connections/pending", h.createPending)
	s.mux.Post("/v1/connections/pending/{token}", h.takePending)
	s.mux.Get("/v1/businesses/{id}/reviews", h.listReviews)
	s.mux.Post("/v1/reviews/{id}/classify", h.classify)
	s.mux.Post("/v1/reviews/{id}/alert", h.alert)
	s.mux.Post("/v1/reviews/{id}/reply", h.reply)
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(problem{Type: "about:blank", Title: title, Status: status, Detail: detail}); err != nil {
		log.Error().Err(err).Msg("write JSON problem response failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("write JSON response failed")
	}
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

func (h *Handlers) syncNow(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeProblem(w, http.StatusBadRequest, "Invalid ID", "id must be a number")
		return
	}
	var res domain.SyncResult
	if bs := r.URL.Query().Get("business_id"); bs != "" {
		businessID, err := strconv.ParseInt(bs, 10, 64)
		if err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid business_id", "business_id must be a number")
			return
		}
		res = h.Sync.SyncPlatformFor(r.Context(), businessID, id)
	} else {
		res = h.Sync.SyncPlatform(r.Context(), id)
	}
	if res.Err != nil && errors.Is(res.Err, domain.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "Not Found", "connection not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handlers) listConnections(w http.ResponseWriter, r *http.Request) {
	businessID, err := strconv.ParseInt(r.URL.Query().Get("business_id"), 10, 64)
	if err != nil || businessID <= 0 {
		writeProblem(w, http.StatusBadRequest, "Invalid business_id", "business_id query parameter is required")
		return
	}
	conns, err := h.Store.ListConnections(r.Context(), businessID)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Storage error", "")
		return
	}
	type connView struct {
		ID           int64             `json:"id"`
		Platform     domain.Platform   `json:"platform"`
		ExternalID   string            `json:"external_id"`
		SyncStatus   domain.SyncStatus `json:"sync_status"`
		LastSyncedAt any               `json:"last_synced_at"`
	}
	out := make([]connView, 0, len(conns))
	for _, c := range conns {
		// tokens never leave this process
		out = append(out, connView{
			ID: c.ID, Platform: c.Platform, ExternalID: c.ExternalID,
			SyncStatus: c.SyncStatus, LastSyncedAt: c.LastSyncedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) listReviews(w http.ResponseWriter, r *http.Request) {
	businessID, ok := pathID(r)
	if !ok {
		writeProblem(w, http.StatusBadRequest, "Invalid ID", "id must be a number")
		return
	}
	limit := h.ReviewLimit
	if ls := r.URL.Query().Get("limit"); ls != "" {
		l, err := strconv.Atoi(ls)
		if err != nil || l <= 0 || l > 200 {
			writeProblem(w, http.StatusBadRequest, "Invalid limit", "limit must be an integer between 1 and 200")
			return
		}
		limit = l
	}
	reviews, err := h.Store.ListReviews(r.Context(), businessID, limit)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Storage error", "")
		return
	}
	writeJSON(w, http.StatusOK, reviews)
}

func (h *Handlers) classify(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeProblem(w, http.StatusBadRequest, "Invalid ID", "id must be a number")
		return
	}
	res, err := h.Sync.Reclassify(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeProblem(w, http.StatusNotFound, "Not Found", "review not found")
			return
		}
		writeProblem(w, http.StatusBadGateway, "Classification failed", err.Error())
		return
	}
	if res == nil {
		writeJSON(w, http.StatusOK, map[string]any{"classified": false})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handlers) alert(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeProblem(w, http.StatusBadRequest, "Invalid ID", "id must be a number")
		return
	}
	rv, err := h.Store.GetReview(r.Context(), id)
	if err != nil {
		writeProblem(w, http.StatusNotFound, "Not Found", "review not found")
		return
	}
	notified, err := h.Alerts.RouteAlert(r.Context(), rv)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Alert routing failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"notified": notified})
}

func (h *Handlers) reply(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeProblem(w, http.StatusBadRequest, "Invalid ID", "id must be a number")
		return
	}
	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Text == "" {
		writeProblem(w, http.StatusBadRequest, "Invalid body", "text is required")
		return
	}
	if err := h.Reply.PostReply(r.Context(), id, body.Text); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeProblem(w, http.StatusNotFound, "Not Found", "review not found")
			return
		}
		writeProblem(w, http.StatusBadGateway, "Reply failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "responded"})
}

func (h *Handlers) createPending(w http.ResponseWriter, r *http.Request) {
	if h.Pending == nil {
		writeProblem(w, http.StatusServiceUnavailable, "Unavailable", "pending store not configured")
		return
	}
	var p redisad.PendingConnection
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil || p.BusinessID <= 0 || p.Platform == "" {
		writeProblem(w, http.StatusBadRequest, "Invalid body", "business_id and platform are required")
		return
	}
	token, err := h.Pending.CreatePending(r.Context(), p)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Storage error", "")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"token": token})
}

func (h *Handlers) takePending(w http.ResponseWriter, r *http.Request) {
	if h.Pending == nil {
		writeProblem(w, http.StatusServiceUnavailable, "Unavailable", "pending store not configured")
		return
	}
	token := chi.URLParam(r, "token")
	p, err := h.Pending.TakePending(r.Context(), token)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeProblem(w, http.StatusNotFound, "Not Found", "pending connection expired or already used")
			return
		}
		writeProblem(w, http.StatusInternalServerError, "Storage error", "")
		return
	}
	writeJSON(w, http.StatusOK, p)
}
