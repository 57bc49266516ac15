// Package api exposes the operator control surface over HTTP: session
// status, the latest signal per strategy, the order journal, live config
// updates, and the pause / emergency-stop / reset controls.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"derivtrader/config"
	"derivtrader/internal/execution"
	"derivtrader/internal/pipeline"
	"derivtrader/internal/risk"
)

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// Deps are the collaborators the control surface operates on.
type Deps struct {
	Cfg     *config.Cell
	Pipe    *pipeline.Pipeline
	Risk    *risk.Manager
	Exec    *execution.Executor
	Journal *execution.Journal
	Started time.Time
}

// RegisterRoutes registers all control routes on the provided mux.
func RegisterRoutes(mux *http.ServeMux, d Deps) {
	// REST: session status snapshot
	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")
		settings := d.Cfg.Get()
		json.NewEncoder(w).Encode(map[string]interface{}{
			"risk":        d.Risk.Status(),
			"open_trades": d.Exec.OpenTrades(),
			"runs":        d.Exec.Runs(),
			"paper":       settings.PaperMode,
			"symbols":     settings.Symbols,
			"uptime_sec":  int64(time.Since(d.Started).Seconds()),
			"ts":          time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// REST: latest signal per strategy/symbol/timeframe
	mux.HandleFunc("/api/signals", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(d.Pipe.Scan())
	})

	// REST: order journal, newest first
	mux.HandleFunc("/api/orders", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")

		limit := 50
		if s := r.URL.Query().Get("limit"); s != "" {
			if l, err := strconv.Atoi(s); err == nil && l > 0 && l <= 1000 {
				limit = l
			}
		}
		orders, err := d.Journal.GetOrders(limit)
		if err != nil {
			http.Error(w, `{"error":"journal read failed"}`, http.StatusInternalServerError)
			return
		}
		if orders == nil {
			orders = []execution.OrderRecord{}
		}
		json.NewEncoder(w).Encode(orders)
	})

	// REST: GET/POST /api/config (trading knobs only)
	mux.HandleFunc("/api/config", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		if r.Method == "POST" {
			var req configPatch
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
				return
			}
			if err := applyPatch(d, req); err != nil {
				http.Error(w, `{"error":`+strconv.Quote(err.Error())+`}`, http.StatusBadRequest)
				return
			}
			log.Printf("[api] config updated")
			json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
			return
		}

		settings := d.Cfg.Get()
		json.NewEncoder(w).Encode(configPatch{
			ExecThreshold: &settings.ExecThreshold,
			FocusSymbol:   &settings.FocusSymbol,
			BaseStake:     &settings.BaseStake,
			CooldownMs:    &settings.CooldownMs,
			DebounceMs:    &settings.DebounceMs,
			MaxRuns:       &settings.MaxRuns,
		})
	})

	// Controls. POST only.
	mux.HandleFunc("/api/pause", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")
		if r.Method != "POST" {
			http.Error(w, `{"error":"POST required"}`, http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Paused bool `json:"paused"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
			return
		}
		d.Pipe.SetPaused(req.Paused)
		log.Printf("[api] paused=%v", req.Paused)
		json.NewEncoder(w).Encode(map[string]interface{}{"status": "ok", "paused": req.Paused})
	})

	mux.HandleFunc("/api/emergency-stop", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")
		if r.Method != "POST" {
			http.Error(w, `{"error":"POST required"}`, http.StatusMethodNotAllowed)
			return
		}
		d.Pipe.EmergencyStop()
		log.Printf("[api] EMERGENCY STOP engaged")
		json.NewEncoder(w).Encode(map[string]string{"status": "stopped"})
	})

	mux.HandleFunc("/api/reset", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")
		if r.Method != "POST" {
			http.Error(w, `{"error":"POST required"}`, http.StatusMethodNotAllowed)
			return
		}
		d.Pipe.ResetSession()
		log.Printf("[api] session reset via operator")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
}

// configPatch carries the operator-adjustable knobs. Nil fields are left
// unchanged.
type configPatch struct {
	ExecThreshold *float64 `json:"exec_threshold,omitempty"`
	FocusSymbol   *string  `json:"focus_symbol,omitempty"`
	BaseStake     *float64 `json:"base_stake,omitempty"`
	CooldownMs    *int64   `json:"cooldown_ms,omitempty"`
	DebounceMs    *int64   `json:"debounce_ms,omitempty"`
	MaxRuns       *int     `json:"max_runs,omitempty"`
}

func applyPatch(d Deps, req configPatch) error {
	err := d.Cfg.Update(func(s config.Settings) config.Settings {
		if req.ExecThreshold != nil {
			s.ExecThreshold = *req.ExecThreshold
		}
		if req.FocusSymbol != nil {
			s.FocusSymbol = *req.FocusSymbol
		}
		if req.BaseStake != nil {
			s.BaseStake = *req.BaseStake
		}
		if req.CooldownMs != nil {
			s.CooldownMs = *req.CooldownMs
		}
		if req.DebounceMs != nil {
			s.DebounceMs = *req.DebounceMs
		}
		if req.MaxRuns != nil {
			s.MaxRuns = *req.MaxRuns
		}
		return s
	})
	if err != nil {
		return err
	}

	settings := d.Cfg.Get()
	d.Exec.UpdateConfig(execution.Config{
		BaseStake:     settings.BaseStake,
		CooldownMs:    settings.CooldownMs,
		DebounceMs:    settings.DebounceMs,
		MaxRuns:       settings.MaxRuns,
		DurationValue: settings.DurationValue,
		DurationUnit:  settings.DurationUnit,
		Basis:         "stake",
	})
	return nil
}

// Server hosts the control surface.
type Server struct {
	srv *http.Server
}

// NewServer builds the control server on addr.
func NewServer(addr string, d Deps) *Server {
	mux := http.NewServeMux()
	RegisterRoutes(mux, d)
	return &Server{srv: &http.Server{Addr: addr, Handler: mux}}
}

// Start serves in the background.
func (s *Server) Start() {
	go func() {
		log.Printf("[api] control surface listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[api] server error: %v", err)
		}
	}()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) {
	if err := s.srv.Shutdown(ctx); err != nil {
		log.Printf("[api] shutdown error: %v", err)
	}
}
