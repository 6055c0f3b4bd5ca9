package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Open-WP-Club/plugin-hub/internal/auth"
	"github.com/Open-WP-Club/plugin-hub/internal/hub"
	"github.com/Open-WP-Club/plugin-hub/internal/logging"
	"github.com/Open-WP-Club/plugin-hub/internal/status"
)

const securityCheckFailed = "Security check failed. Please reload the page and try again."

// flexBool accepts JSON booleans as well as the strings browsers post
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	var v bool
	if err := json.Unmarshal(data, &v); err == nil {
		*b = flexBool(v)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*b = flexBool(parseBool(s))
	return nil
}

// parseBool treats 1, true, on and yes as true
func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}

// ajaxRequest is the body of an action request, posted as a form or JSON
type ajaxRequest struct {
	Action         string   `json:"action"`
	Nonce          string   `json:"nonce"`
	Repo           string   `json:"repo"`
	Version        string   `json:"version"`
	URL            string   `json:"url"`
	ShowBeta       flexBool `json:"show_beta"`
	CurrentVersion string   `json:"current_version"`
	NewVersion     string   `json:"new_version"`
}

func (req ajaxRequest) params() hub.Params {
	return hub.Params{
		Repo:           strings.TrimSpace(req.Repo),
		Version:        strings.TrimSpace(req.Version),
		URL:            strings.TrimSpace(req.URL),
		ShowBeta:       bool(req.ShowBeta),
		CurrentVersion: strings.TrimSpace(req.CurrentVersion),
		NewVersion:     strings.TrimSpace(req.NewVersion),
	}
}

func isJSON(r *http.Request) bool {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return mt == "application/json"
}

func decodeAjax(w http.ResponseWriter, r *http.Request) (ajaxRequest, error) {
	var req ajaxRequest
	if isJSON(r) {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
			return req, err
		}
	} else {
		if err := r.ParseForm(); err != nil {
			return req, err
		}
		req = ajaxRequest{
			Action:         r.PostForm.Get("action"),
			Nonce:          r.PostForm.Get("nonce"),
			Repo:           r.PostForm.Get("repo"),
			Version:        r.PostForm.Get("version"),
			URL:            r.PostForm.Get("url"),
			ShowBeta:       flexBool(parseBool(r.PostForm.Get("show_beta"))),
			CurrentVersion: r.PostForm.Get("current_version"),
			NewVersion:     r.PostForm.Get("new_version"),
		}
	}
	if req.Nonce == "" {
		req.Nonce = r.Header.Get(NonceHeader)
	}
	return req, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string, len(s.checks))
	healthy := true
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	body := map[string]interface{}{"status": "healthy", "checks": checks}
	if !healthy {
		body["status"] = "degraded"
		JSON(w, http.StatusServiceUnavailable, body)
		return
	}
	OK(w, body)
}

// sessionInfo is what a client needs to drive the action endpoints
type sessionInfo struct {
	User         string            `json:"user"`
	Role         auth.Role         `json:"role"`
	Capabilities []auth.Capability `json:"capabilities"`
	Nonce        string            `json:"nonce"`
	RefreshNonce string            `json:"refresh_nonce"`
	ShowBeta     bool              `json:"show_beta"`
	Filters      []status.Filter   `json:"filters"`
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	ctx := r.Context()

	nonce, err := s.nonces.Issue(ctx, p, auth.ActionNonce)
	if err != nil {
		s.logger.Error("Failed to issue nonce", "error", err)
		InternalError(w, "Failed to start session.")
		return
	}
	refresh, err := s.nonces.Issue(ctx, p, auth.RefreshNonce)
	if err != nil {
		s.logger.Error("Failed to issue nonce", "error", err)
		InternalError(w, "Failed to start session.")
		return
	}

	OK(w, sessionInfo{
		User:         p.Name,
		Role:         p.Role,
		Capabilities: p.AllCapabilities(),
		Nonce:        nonce,
		RefreshNonce: refresh,
		ShowBeta:     s.svc.ShowBeta(ctx),
		Filters:      status.Filters,
	})
}

// pluginsPage is the listing plus an optional notice
type pluginsPage struct {
	status.Listing
	Notice string `json:"notice,omitempty"`
}

func (s *Server) handleListPlugins(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	ctx := r.Context()
	q := r.URL.Query()

	var notice string
	if q.Get("action") == hub.ActionRefreshCache {
		if !s.nonces.Verify(ctx, p, auth.RefreshNonce, q.Get("nonce")) {
			Forbidden(w, securityCheckFailed)
			return
		}
		res, err := s.svc.RefreshCache(ctx, p)
		if err != nil {
			ActionError(w, err)
			return
		}
		notice = res.Message
	} else if q.Get("cache_refreshed") == "1" {
		notice = "Plugin list refreshed."
	}

	listing, err := s.svc.Listing(ctx, p, status.ParseFilter(q.Get("filter")))
	if err != nil {
		ActionError(w, err)
		return
	}
	JSONWithMeta(w, http.StatusOK, pluginsPage{Listing: listing, Notice: notice}, &Meta{
		Total:     len(listing.Plugins),
		RequestID: middleware.GetReqID(ctx),
	})
}

func (s *Server) handleAjax(w http.ResponseWriter, r *http.Request) {
	req, err := decodeAjax(w, r)
	if err != nil {
		BadRequest(w, "Invalid request body.")
		return
	}
	if action := chi.URLParam(r, "action"); action != "" {
		req.Action = action
	}
	if !s.svc.HasAction(req.Action) {
		BadRequest(w, "Unknown action.")
		return
	}

	p := principal(r)
	if !s.nonces.Verify(r.Context(), p, auth.ActionNonce, req.Nonce) {
		Forbidden(w, securityCheckFailed)
		return
	}

	in := req.params()
	if errs := NewParamsValidator().Validate(in); errs.HasErrors() {
		ValidationErrorResponse(w, errs)
		return
	}

	res, err := s.svc.Do(r.Context(), p, req.Action, in)
	if err != nil {
		ActionError(w, err)
		return
	}
	OK(w, res)
}

// bulkRequest is the body of a bulk request
type bulkRequest struct {
	Action  string         `json:"action"`
	Nonce   string         `json:"nonce"`
	Plugins []hub.BulkItem `json:"plugins"`
}

func (s *Server) handleBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		BadRequest(w, "Invalid request body.")
		return
	}
	if req.Nonce == "" {
		req.Nonce = r.Header.Get(NonceHeader)
	}

	p := principal(r)
	if !s.nonces.Verify(r.Context(), p, auth.ActionNonce, req.Nonce) {
		Forbidden(w, securityCheckFailed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), hub.BulkTimeout)
	defer cancel()

	report, err := s.svc.RunBulk(ctx, p, req.Action, req.Plugins, ValidateBulkItem)
	if err != nil {
		ActionError(w, err)
		return
	}
	OK(w, report)
}

func (s *Server) handleUpdates(w http.ResponseWriter, r *http.Request) {
	offers, err := s.svc.UpdateOffers(r.Context(), principal(r))
	if err != nil {
		ActionError(w, err)
		return
	}
	JSONWithMeta(w, http.StatusOK, offers, &Meta{Total: len(offers)})
}

func queryInt(r *http.Request, key string, def, max int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if !principal(r).Can(auth.CapManageOptions) {
		Forbidden(w, "You do not have permission to view logs.")
		return
	}
	if s.logs == nil {
		ServiceUnavailable(w, "Log buffer not configured.")
		return
	}

	q := r.URL.Query()
	level := slog.LevelDebug
	if q.Get("level") != "" {
		level = logging.ParseLevel(q.Get("level"))
	}
	entries := s.logs.Recent(queryInt(r, "n", 100, 1000), level, q.Get("component"))
	JSONWithMeta(w, http.StatusOK, entries, &Meta{Total: len(entries)})
}

// handleLogStream follows the log buffer as server-sent events
func (s *Server) handleLogStream(w http.ResponseWriter, r *http.Request) {
	if !principal(r).Can(auth.CapManageOptions) {
		Forbidden(w, "You do not have permission to view logs.")
		return
	}
	if s.logs == nil {
		ServiceUnavailable(w, "Log buffer not configured.")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		InternalError(w, "Streaming not supported.")
		return
	}

	component := r.URL.Query().Get("component")
	ch := s.logs.Subscribe()
	defer s.logs.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case entry, ok := <-ch:
			if !ok {
				return
			}
			if component != "" && entry.Component != component {
				continue
			}
			data, err := json.Marshal(entry)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	if !principal(r).Can(auth.CapManageOptions) {
		Forbidden(w, "You do not have permission to view the action log.")
		return
	}
	if s.actions == nil {
		ServiceUnavailable(w, "Action log not configured.")
		return
	}

	records, err := s.actions.RecentActions(r.Context(), r.URL.Query().Get("plugin"), queryInt(r, "limit", 50, 500))
	if err != nil {
		s.logger.Error("Failed to read action log", "error", err)
		InternalError(w, "Failed to read action log.")
		return
	}
	JSONWithMeta(w, http.StatusOK, records, &Meta{Total: len(records)})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	if !p.Can(auth.CapManageOptions) && !p.Can(auth.CapActivatePlugins) {
		Forbidden(w, "You do not have permission to follow plugin events.")
		return
	}
	s.stream.ServeClient(w, r, p.Name)
}
