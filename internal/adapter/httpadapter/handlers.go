package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/couchcryptid/civicfix-service/internal/domain"
	"github.com/couchcryptid/civicfix-service/internal/duplicate"
	"github.com/couchcryptid/civicfix-service/internal/pipeline"
)

type handlers struct {
	api    API
	logger *slog.Logger
}

type submitResponse struct {
	pipeline.Result
	Message string `json:"message"`
}

func (h *handlers) submitIssue(w http.ResponseWriter, r *http.Request) {
	if h.api.Pipeline == nil {
		notImplemented(w, "issue submission")
		return
	}
	form, err := h.decodeIssueForm(w, r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	res, err := h.api.Pipeline.Submit(r.Context(), pipeline.Request{
		Payload:                 form.payload,
		Photo:                   form.photo,
		Identity:                form.identity,
		ProceedDespiteDuplicate: r.URL.Query().Get("force") == "true",
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	switch res.Outcome {
	case pipeline.OutcomeDuplicate:
		writeJSON(w, http.StatusConflict, submitResponse{Result: res,
			Message: "A similar issue was reported nearby. View it, or submit anyway."})
	case pipeline.OutcomeQueued:
		writeJSON(w, http.StatusAccepted, submitResponse{Result: res,
			Message: "You're offline. Your report was saved and will be submitted when you're back online."})
	default:
		writeJSON(w, http.StatusCreated, submitResponse{Result: res, Message: "Issue submitted successfully."})
	}
}

func (h *handlers) listIssues(w http.ResponseWriter, r *http.Request) {
	if h.api.Triage == nil {
		notImplemented(w, "issue listing")
		return
	}
	f, err := issueFilter(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	issues, err := h.api.Triage.List(r.Context(), f)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"issues": issues})
}

func (h *handlers) getIssue(w http.ResponseWriter, r *http.Request) {
	if h.api.Triage == nil {
		notImplemented(w, "issue lookup")
		return
	}
	issue, err := h.api.Triage.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

// streamIssues sends the matching issues as server-sent events, once now and
// again after every change. Slow clients only see the latest snapshot.
func (h *handlers) streamIssues(w http.ResponseWriter, r *http.Request) {
	if h.api.Triage == nil {
		notImplemented(w, "issue streaming")
		return
	}
	f, err := issueFilter(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{}) // streams outlive the server write timeout

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	latest := make(chan []domain.IssueRecord, 1)
	done := make(chan error, 1)
	go func() {
		done <- h.api.Triage.Watch(ctx, f, func(issues []domain.IssueRecord) {
			select {
			case <-latest:
			default:
			}
			latest <- issues
		})
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-done:
			if err != nil {
				h.logger.Warn("issue stream ended", "error", err)
				fmt.Fprintf(w, "event: error\ndata: %q\n\n", domain.UserMessage(err))
				_ = rc.Flush()
			}
			return
		case issues := <-latest:
			data, err := json.Marshal(issues)
			if err != nil {
				h.logger.Error("encode issue stream", "error", err)
				return
			}
			fmt.Fprintf(w, "event: issues\ndata: %s\n\n", data)
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func (h *handlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	if h.api.Triage == nil {
		notImplemented(w, "status updates")
		return
	}
	u, err := h.decodeStatusUpdate(w, r, chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	issue, err := h.api.Triage.UpdateStatus(r.Context(), u)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

func (h *handlers) toggleUpvote(w http.ResponseWriter, r *http.Request) {
	if h.api.Triage == nil {
		notImplemented(w, "upvotes")
		return
	}
	var body struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	res, err := h.api.Triage.ToggleUpvote(r.Context(), chi.URLParam(r, "id"), body.UserID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// findDuplicate is the pre-submit check the report form runs once a location
// is picked. Failures answer "no duplicate" like the submission path does.
func (h *handlers) findDuplicate(w http.ResponseWriter, r *http.Request) {
	if h.api.Duplicates == nil {
		notImplemented(w, "duplicate detection")
		return
	}
	pt, err := pointParam(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	p := duplicate.Params{Category: r.URL.Query().Get("category"), Lat: pt.Lat, Lng: pt.Lng}
	if r.URL.Query().Has("radius") {
		if p.RadiusMeters, err = floatParam(r, "radius"); err != nil || p.RadiusMeters <= 0 {
			badRequest(w, "invalid radius")
			return
		}
	}
	if p.Window, err = minutesParam(r, "minutes"); err != nil {
		badRequest(w, err.Error())
		return
	}
	if p.Category == "" {
		badRequest(w, "category is required")
		return
	}

	dup, err := h.api.Duplicates.FindNearbyDuplicate(r.Context(), p)
	if err != nil {
		h.logger.Warn("duplicate check failed, answering none", "category", p.Category, "error", err)
		dup = nil
	}
	writeJSON(w, http.StatusOK, map[string]any{"duplicate": dup})
}

func (h *handlers) queueDraft(w http.ResponseWriter, r *http.Request) {
	if h.api.Drafts == nil {
		notImplemented(w, "offline drafts")
		return
	}
	form, err := h.decodeIssueForm(w, r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	payload := form.payload.Normalize()
	if err := pipeline.Validate(payload, form.photo, form.identity); err != nil {
		writeError(w, h.logger, err)
		return
	}
	draft, err := h.api.Drafts.QueueDraft(r.Context(), payload, form.photo, form.identity)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, draft)
}

func (h *handlers) listDrafts(w http.ResponseWriter, r *http.Request) {
	if h.api.Drafts == nil {
		notImplemented(w, "offline drafts")
		return
	}
	drafts, err := h.api.Drafts.ListQueuedDrafts(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"drafts": drafts})
}

func (h *handlers) removeDraft(w http.ResponseWriter, r *http.Request) {
	if h.api.Drafts == nil {
		notImplemented(w, "offline drafts")
		return
	}
	if err := h.api.Drafts.RemoveDraft(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) replayDrafts(w http.ResponseWriter, r *http.Request) {
	if h.api.Replayer == nil {
		notImplemented(w, "offline replay")
		return
	}
	res, err := h.api.Replayer.Replay(r.Context())
	if err != nil {
		h.logger.Warn("manual replay stopped", "remaining", res.Remaining, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error":  "Failed to sync offline reports.",
			"result": res,
		})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handlers) reverseGeocode(w http.ResponseWriter, r *http.Request) {
	if h.api.Geocoder == nil {
		notImplemented(w, "geocoding")
		return
	}
	pt, err := pointParam(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	result, err := h.api.Geocoder.ReverseGeocode(r.Context(), pt.Lat, pt.Lng)
	if err != nil {
		h.logger.Warn("reverse geocoding failed", "lat", pt.Lat, "lng", pt.Lng, "error", err)
		writeJSON(w, http.StatusBadGateway, errorBody{Error: "Could not look up this location. Enter the address manually."})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handlers) connectivity(w http.ResponseWriter, _ *http.Request) {
	online := h.api.Conn == nil || h.api.Conn.Online()
	writeJSON(w, http.StatusOK, map[string]bool{"online": online})
}

func (h *handlers) serveAsset(w http.ResponseWriter, r *http.Request) {
	if h.api.Assets == nil {
		http.NotFound(w, r)
		return
	}
	body, contentType, err := h.api.Assets.Open(r.Context(), chi.URLParam(r, "*"))
	if errors.Is(err, domain.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		h.logger.Warn("open asset failed", "path", r.URL.Path, "error", err)
		http.Error(w, "asset unavailable", http.StatusInternalServerError)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	if _, err := io.Copy(w, body); err != nil {
		h.logger.Debug("asset copy interrupted", "path", r.URL.Path, "error", err)
	}
}
