package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"hive-kernel/internal/ingress"
	kernelobs "hive-kernel/libs/observability"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message, "message": message})
}

func actorFromRequest(r *http.Request) string {
	if a := r.Header.Get("X-Kernel-Actor"); a != "" {
		return a
	}
	return "kernel"
}

func (s *Server) registerHealth() {
	s.mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		snap := s.policies.Current()
		writeJSON(w, http.StatusOK, map[string]any{
			"status":               "healthy",
			"message":              "kernel operational",
			"kill_switch_active":   s.sw.IsActive(),
			"constitution_version": snap.Version,
			"audit_records":        s.trail.Len(),
		})
	})
}

// httpTradeRequest mirrors the external trade-request contract; fields not
// consumed by the risk formula (action, take_profit) are accepted in the
// body but are neither recorded nor used in the decision.
type httpTradeRequest struct {
	ID                   string   `json:"id"`
	Symbol               string   `json:"symbol"`
	Action               string   `json:"action"`
	Volume               float64  `json:"volume"`
	StopLoss             *float64 `json:"stop_loss,omitempty"`
	TakeProfit           *float64 `json:"take_profit,omitempty"`
	CurrentPrice         float64  `json:"current_price"`
	AccountBalance       float64  `json:"account_balance"`
	OpenPositionsCount   uint32   `json:"open_positions_count"`
	DailyDrawdownPercent float64  `json:"daily_drawdown_percent"`
}

func (s *Server) registerValidate() {
	s.mux.HandleFunc("/validate", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "POST required")
			return
		}

		var body httpTradeRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
		if body.Volume <= 0 || body.CurrentPrice <= 0 {
			writeError(w, http.StatusBadRequest, "volume and current_price must be positive")
			return
		}
		if body.ID == "" {
			body.ID = uuid.NewString()
		}

		req := ingress.TradeRequest{
			ID:                 body.ID,
			Symbol:             body.Symbol,
			Volume:             body.Volume,
			Price:              body.CurrentPrice,
			StopLoss:           body.StopLoss,
			AccountBalance:     body.AccountBalance,
			CurrentDrawdownPct: body.DailyDrawdownPercent,
			OpenPositionCount:  body.OpenPositionsCount,
		}

		dec, err := s.mxr.Handle(r.Context(), actorFromRequest(r), req)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if dec.Blocked {
			writeJSON(w, http.StatusForbidden, dec)
			return
		}
		writeJSON(w, http.StatusOK, dec)
	})
}

type killSwitchStatusView struct {
	IsActive         bool       `json:"is_active"`
	ActivatedAt      *time.Time `json:"activated_at,omitempty"`
	Reason           string     `json:"reason,omitempty"`
	CurrentDrawdown  float64    `json:"current_drawdown"`
	MaxDailyDrawdown float64    `json:"max_daily_drawdown"`
	TradesBlocked    uint64     `json:"trades_blocked"`
}

func (s *Server) killSwitchView() killSwitchStatusView {
	snap := s.sw.Snapshot()
	view := killSwitchStatusView{
		IsActive:         snap.Active,
		Reason:           snap.Reason,
		CurrentDrawdown:  snap.CurrentDrawdown,
		MaxDailyDrawdown: snap.MaxDailyDrawdown,
		TradesBlocked:    snap.TradesBlocked,
	}
	if snap.Active {
		at := snap.ActivatedAt
		view.ActivatedAt = &at
	}
	return view
}

type killSwitchAction struct {
	Action string `json:"action"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) registerKillSwitch() {
	s.mux.HandleFunc("/kill-switch", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, s.killSwitchView())
		case http.MethodPost:
			s.handleKillSwitchPost(w, r)
		default:
			writeError(w, http.StatusMethodNotAllowed, "GET or POST required")
		}
	})
}

func (s *Server) handleKillSwitchPost(w http.ResponseWriter, r *http.Request) {
	var body killSwitchAction
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	actor := actorFromRequest(r)
	switch body.Action {
	case "activate":
		reason := body.Reason
		if reason == "" {
			reason = "manual activation"
		}
		s.sw.Activate(reason)
		s.auditKillSwitchAction(r.Context(), actor, "KILL_SWITCH_ACTIVATED", reason)
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"status":  s.killSwitchView(),
			"message": "kill-switch activated",
		})
	case "reset":
		s.protectAdmin(func(w http.ResponseWriter, r *http.Request) {
			s.sw.Reset()
			s.auditKillSwitchAction(r.Context(), actor, "KILL_SWITCH_RESET", "")
			writeJSON(w, http.StatusOK, map[string]any{
				"success": true,
				"status":  s.killSwitchView(),
				"message": "kill-switch reset",
			})
		})(w, r)
	default:
		writeError(w, http.StatusBadRequest, "unknown action: "+body.Action)
	}
}

func (s *Server) auditKillSwitchAction(ctx context.Context, actor, action, reason string) {
	details, _ := json.Marshal(map[string]any{"reason": reason})
	if _, err := s.trail.Record(actor, action, details, "", ""); err != nil {
		kernelobs.LogKillSwitch(ctx, action, "audit append failed: "+err.Error())
		return
	}
	kernelobs.LogKillSwitch(ctx, action, reason)
}

func (s *Server) registerConstitution() {
	s.mux.HandleFunc("/constitution", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.policies.Current())
	})
}

func (s *Server) registerAudit() {
	s.mux.HandleFunc("/audit", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"records": s.trail.GetRecent(50),
		})
	})
}

func (s *Server) registerMetrics() {
	s.mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		s.registry.WriteText(w)
	})
}
