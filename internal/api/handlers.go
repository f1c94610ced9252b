package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"autotrader/internal/engine"
)

// StopResponse is the body of POST /api/v1/emergency-stop. Error is set
// when some positions could not be read or closed.
type StopResponse struct {
	*engine.StopResult
	Error string `json:"error,omitempty"`
}

// handleCycle runs one cycle on demand. The cycle is detached from the
// request so a dropped connection cannot abandon orders half-way.
func (s *Server) handleCycle(w http.ResponseWriter, r *http.Request) {
	res, err := s.ctl.ExecuteCycle(context.WithoutCancel(r.Context()))
	switch {
	case errors.Is(err, engine.ErrCycleInProgress):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.health.Report(res.Risk.TradingActive)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	res, err := s.ctl.EmergencyStop(context.WithoutCancel(r.Context()))
	s.health.Report(false)
	body := StopResponse{StopResult: res}
	status := http.StatusOK
	if err != nil {
		body.Error = err.Error()
		status = http.StatusBadGateway
	}
	s.log.Warn("emergency stop requested", "remote", r.RemoteAddr, "err", err)
	writeJSON(w, status, body)
}

func (s *Server) handleResetRisk(w http.ResponseWriter, r *http.Request) {
	st := s.ctl.ResetRisk()
	s.health.Report(st.TradingActive)
	s.log.Warn("risk reset requested", "remote", r.RemoteAddr)
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctl.Status())
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	snap, err := s.ctl.PerformanceSnapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
