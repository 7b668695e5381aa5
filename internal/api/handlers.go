// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/dgfacade/dgfacade/internal/models"
	"github.com/dgfacade/dgfacade/internal/streaming"
	"github.com/dgfacade/dgfacade/internal/websocket"
)

// httpStatusFor maps a dispatch response onto an HTTP status.
func httpStatusFor(resp *models.Response) int {
	switch resp.Status {
	case models.StatusSuccess:
		return http.StatusOK
	case models.StatusStreamingStarted:
		return http.StatusAccepted
	case models.StatusTimeout:
		return http.StatusGatewayTimeout
	}
	kind, _ := resp.Kind()
	switch kind {
	case models.ErrAuthFailed:
		return http.StatusUnauthorized
	case models.ErrInvalidRequest:
		return http.StatusBadRequest
	case models.ErrHandlerNotFound:
		return http.StatusNotFound
	case models.ErrClusterForwardFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// submitRequest is the REST ingress: the body is a request envelope, the
// answer is the canonical response envelope.
func (s *Server) submitRequest(w http.ResponseWriter, r *http.Request) {
	req := &models.Request{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "malformed request body: "+err.Error())
		return
	}
	if req.APIKey == "" {
		req.APIKey = r.Header.Get("X-Api-Key")
	}
	req.Source = models.SourceRest

	resp := s.dispatcher.Dispatch(r.Context(), req)
	writeJSON(w, httpStatusFor(resp), resp)
}

func (s *Server) recentExecutions(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, s.eng.Recent())
}

func (s *Server) activeExecutions(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, s.eng.Active())
}

func (s *Server) executionState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "requestID")
	state, ok := s.eng.State(id)
	if !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "no execution for request "+id)
		return
	}
	writeData(w, http.StatusOK, state)
}

func (s *Server) cancelExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "requestID")
	if !s.eng.Cancel(id) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "no live execution for request "+id)
		return
	}
	writeData(w, http.StatusAccepted, map[string]string{"request_id": id, "state": "stopping"})
}

func (s *Server) listSessions(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, s.sessions.Sessions())
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	info, ok := s.sessions.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "no session "+id)
		return
	}
	writeData(w, http.StatusOK, info)
}

func (s *Server) stopSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if !s.sessions.Stop(id) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "no session "+id)
		return
	}
	writeData(w, http.StatusAccepted, map[string]string{"session_id": id, "state": "stopping"})
}

// pullMessages drains a session's REST buffer, up to ?max= responses.
func (s *Server) pullMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	max := 100
	if v := r.URL.Query().Get("max"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "max must be a positive integer")
			return
		}
		max = n
	}

	msgs, err := s.sessions.Pull(id, max)
	if err != nil {
		if errors.Is(err, streaming.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, ErrCodeNotFound, "no session "+id)
			return
		}
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	writeData(w, http.StatusOK, map[string]interface{}{
		"session_id": id,
		"count":      len(msgs),
		"messages":   msgs,
	})
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWS(s.hub, w, r)
}

func (s *Server) channelStats(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, s.accessor.Stats())
}

func (s *Server) ingesterStats(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, s.ingesters.Stats())
}

func (s *Server) startIngester(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "ingesterID")
	if err := s.ingesters.Start(id); err != nil {
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
		return
	}
	writeData(w, http.StatusOK, map[string]string{"ingester_id": id, "state": "running"})
}

func (s *Server) stopIngester(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "ingesterID")
	if err := s.ingesters.Stop(id); err != nil {
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
		return
	}
	writeData(w, http.StatusOK, map[string]string{"ingester_id": id, "state": "stopped"})
}

// manualIngest submits a request through the ingest path (MANUAL source).
func (s *Server) manualIngest(w http.ResponseWriter, r *http.Request) {
	req := &models.Request{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "malformed request body: "+err.Error())
		return
	}
	resp := s.ingesters.SubmitManual(r.Context(), req)
	writeJSON(w, httpStatusFor(resp), resp)
}

func (s *Server) handlerCatalogue(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user_id")
	if user == "" {
		user = "default"
	}
	catalogue, ok := s.catalog.Catalogue(user)
	if !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "no catalogue for user "+user)
		return
	}
	writeData(w, http.StatusOK, catalogue)
}

// reloadRegistries forces a registry reload, all of them or one named by
// ?registry=.
func (s *Server) reloadRegistries(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("registry")
	if err := s.reloader.ForceReload(name); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}
	// Cached broker adapters rebuild lazily against the fresh registries.
	s.accessor.InvalidateAll()
	writeData(w, http.StatusOK, map[string]interface{}{"reloaded": s.reloader.Names(), "registry": name})
}

func (s *Server) clusterHeartbeat(w http.ResponseWriter, r *http.Request) {
	if s.cluster == nil || !s.cluster.Enabled() {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "clustering is disabled")
		return
	}
	var state models.NodeState
	if err := json.NewDecoder(r.Body).Decode(&state); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "malformed node state: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.cluster.HandleHeartbeat(state))
}

func (s *Server) clusterNodes(w http.ResponseWriter, _ *http.Request) {
	if s.cluster == nil || !s.cluster.Enabled() {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "clustering is disabled")
		return
	}
	writeData(w, http.StatusOK, s.cluster.Nodes())
}

// clusterForward executes a request forwarded by a gateway peer.
func (s *Server) clusterForward(w http.ResponseWriter, r *http.Request) {
	if s.cluster == nil || !s.cluster.Enabled() {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "clustering is disabled")
		return
	}
	var env models.ForwardEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil || env.Request == nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "malformed forward envelope")
		return
	}
	if !s.cluster.Role().CanExecute() {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "node does not execute requests")
		return
	}

	resp := s.dispatcher.Dispatch(r.Context(), env.Request)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "ok",
		"uptime_seconds":    int64(time.Since(s.started).Seconds()),
		"active_executions": s.eng.ActiveCount(),
		"active_sessions":   s.sessions.Count(),
		"websocket_clients": s.hub.ClientCount(),
		"total_requests":    s.dispatcher.TotalRequests(),
	})
}
