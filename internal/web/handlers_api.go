package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"zigbee-go-gp/internal/gp"
	"zigbee-go-gp/internal/host"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

func (s *Server) handleAPIState(w http.ResponseWriter, r *http.Request) {
	st, err := s.ctrl.State(r.Context())
	if err != nil {
		s.internalError(w, "gp state", err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) tables(w http.ResponseWriter, r *http.Request) (*host.Tables, bool) {
	t, err := s.ctrl.Tables(r.Context())
	if err != nil {
		s.internalError(w, "gp tables", err)
		return nil, false
	}
	return t, true
}

func (s *Server) handleAPIProxyTable(w http.ResponseWriter, r *http.Request) {
	if t, ok := s.tables(w, r); ok {
		s.writeJSON(w, http.StatusOK, nonNil(t.Proxy))
	}
}

func (s *Server) handleAPISinkTable(w http.ResponseWriter, r *http.Request) {
	if t, ok := s.tables(w, r); ok {
		s.writeJSON(w, http.StatusOK, nonNil(t.Sink))
	}
}

func (s *Server) handleAPITransTable(w http.ResponseWriter, r *http.Request) {
	if t, ok := s.tables(w, r); ok {
		s.writeJSON(w, http.StatusOK, nonNil(t.Translations))
	}
}

// nonNil keeps empty tables encoded as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// commissioningRequest selects the sink commissioning mode. Toggle wins
// over Action.
type commissioningRequest struct {
	Action *bool `json:"action"`
	Toggle bool  `json:"toggle"`
}

func (s *Server) handleAPICommissioning(w http.ResponseWriter, r *http.Request) {
	var req commissioningRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	var active bool
	switch {
	case req.Toggle:
		on, err := s.ctrl.ToggleCommissioning(r.Context())
		if err != nil {
			s.internalError(w, "toggle commissioning", err)
			return
		}
		active = on
	case req.Action != nil:
		if err := s.ctrl.SetCommissioning(r.Context(), *req.Action); err != nil {
			s.internalError(w, "set commissioning", err)
			return
		}
		active = *req.Action
	default:
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "action is required"})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "active": active})
}

func (s *Server) handleAPIRemoveGPD(w http.ResponseWriter, r *http.Request) {
	app, err := strconv.ParseUint(r.PathValue("appId"), 10, 8)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid application id"})
		return
	}
	id, err := host.ParseGpdID(gp.AppID(app), r.PathValue("gpdId"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	ep := uint8(0xFF)
	if v := r.URL.Query().Get("endpoint"); v != "" {
		n, err := strconv.ParseUint(v, 10, 8)
		if err != nil {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid endpoint"})
			return
		}
		ep = uint8(n)
	}

	if err := s.ctrl.RemoveGPD(r.Context(), id, ep); err != nil {
		if errors.Is(err, gp.ErrNotFound) {
			s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "gpd not found"})
			return
		}
		s.internalError(w, "remove gpd", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "gpd": id.String()})
}

func (s *Server) handleAPINetworkInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.ctrl.NetworkInfo())
}

func (s *Server) handleAPIHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	events, err := s.ctrl.History(limit)
	if err != nil {
		s.internalError(w, "history", err)
		return
	}
	s.writeJSON(w, http.StatusOK, nonNil(events))
}

func (s *Server) handleAPIListClusters(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.ctrl.Registry().All())
}

func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func (s *Server) internalError(w http.ResponseWriter, what string, err error) {
	s.logger.Error(what, "err", err)
	s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writeJSON encode failed", "err", err)
	}
}
