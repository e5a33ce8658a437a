package gateway

import (
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/yanun0323/logs"

	"main/internal/obs"
	"main/internal/schema"
	"main/internal/sovereign"
)

func (s *Server) handlePhysics(w http.ResponseWriter, r *http.Request) {
	frame, ok := s.deps.Snapshot()
	if !ok {
		http.Error(w, "no frames yet", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, frame.Physics)
}

// oodaView is the latest decision plus the loop's latency profile.
type oodaView struct {
	GSID         uint64              `json:"gsid"`
	Decision     schema.Decision     `json:"decision"`
	Trace        []string            `json:"reasoning_trace"`
	CycleLatency obs.LatencySnapshot `json:"cycle_latency"`
	Paused       bool                `json:"paused"`
	Ratchet      string              `json:"ratchet_level"`
}

func (s *Server) handleOODA(w http.ResponseWriter, r *http.Request) {
	frame, ok := s.deps.Snapshot()
	if !ok {
		http.Error(w, "no frames yet", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, oodaView{
		GSID:         frame.GSID,
		Decision:     frame.Decision,
		Trace:        frame.ReasoningTrace,
		CycleLatency: s.deps.Metrics.Snapshot().CycleLatency,
		Paused:       s.deps.Gov.Paused(),
		Ratchet:      s.deps.Gov.Ratchet().Level().String(),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	from := queryUint(r, "from", 0)
	to := queryUint(r, "to", math.MaxUint64)
	if to < from {
		http.Error(w, "to < from", http.StatusBadRequest)
		return
	}
	s.writeJSON(w, http.StatusOK, s.deps.Ring.Window(from, to))
}

type ratchetRequest struct {
	Level  string `json:"level"`
	Reason string `json:"reason"`
}

type ratchetView struct {
	Level     string                `json:"level"`
	Staircase schema.StaircaseState `json:"staircase"`
}

func (s *Server) handleRatchet(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, ratchetView{
			Level:     s.deps.Gov.Ratchet().Level().String(),
			Staircase: s.deps.Gov.Staircase().State(),
		})

	case http.MethodPost:
		if !s.authorized(w, r) {
			return
		}
		var req ratchetRequest
		if err := decodeBody(r, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		level, ok := schema.ParseRatchetLevel(req.Level)
		if !ok {
			http.Error(w, "unknown ratchet level", http.StatusBadRequest)
			return
		}

		switch level {
		case schema.RatchetKill:
			// Kill demands an attested sovereign command, not a header key.
			http.Error(w, "kill requires a sovereign KILL command", http.StatusForbidden)
			return
		case schema.RatchetIdle:
			if err := s.deps.Gov.Ratchet().Unfreeze(); err != nil {
				http.Error(w, err.Error(), http.StatusConflict)
				return
			}
		default:
			s.deps.Gov.Ratchet().Raise(level)
		}
		logs.Warnf("operator ratchet %s: %s", req.Level, req.Reason)
		s.writeJSON(w, http.StatusOK, ratchetView{
			Level:     s.deps.Gov.Ratchet().Level().String(),
			Staircase: s.deps.Gov.Staircase().State(),
		})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type vetoRequest struct {
	Reason   string `json:"reason"`
	Operator string `json:"operator"`
}

func (s *Server) handleVeto(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req vetoRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ack := s.deps.Plane.Submit(r.Context(), sovereign.Command{
		ID:         uuid.New(),
		Type:       sovereign.CmdVeto,
		Payload:    req.Reason,
		UserID:     req.Operator,
		Source:     "gateway",
		IssuedAtUs: time.Now().UnixMicro(),
		Key:        r.Header.Get("X-Reflex-Key"),
	})
	s.writeJSON(w, ackStatus(ack), ack)
}

type legislationRequest struct {
	Bias            string  `json:"bias"`
	Aggression      float64 `json:"aggression"`
	MakerOnly       bool    `json:"maker_only"`
	Hibernation     bool    `json:"hibernation"`
	SnapToBreakeven bool    `json:"snap_to_breakeven"`
}

func (s *Server) handleLegislation(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, s.deps.Gov.Legislator().State())

	case http.MethodPost:
		if !s.authorized(w, r) {
			return
		}
		var req legislationRequest
		if err := decodeBody(r, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		applied := s.deps.Gov.Legislator().Set(schema.LegislativeState{
			Bias:            schema.ParseBias(req.Bias),
			Aggression:      req.Aggression,
			MakerOnly:       req.MakerOnly,
			Hibernation:     req.Hibernation,
			SnapToBreakeven: req.SnapToBreakeven,
		})
		logs.Infof("legislation updated: bias=%s aggression=%.2f", applied.Bias, applied.Aggression)
		s.writeJSON(w, http.StatusOK, applied)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type cancelRequest struct {
	OrderID uint64 `json:"order_id"`
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorized(w, r) {
		return
	}
	var req cancelRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.deps.Exec.CancelOrder(r.Context(), req.OrderID); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"cancelled": req.OrderID})
}

type closeRequest struct {
	UserID     string `json:"user_id"`
	ID         string `json:"id"`
	IssuedAtUs int64  `json:"issued_at_us"`
	Signature  string `json:"signature"`
}

// handleClosePosition forwards a flatten as an attested sovereign
// CLOSE_ALL; the client signs the command it submits.
func (s *Server) handleClosePosition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req closeRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id, err := uuid.Parse(req.ID)
	if err != nil {
		http.Error(w, "bad command id", http.StatusBadRequest)
		return
	}

	ack := s.deps.Plane.Submit(r.Context(), sovereign.Command{
		ID:         id,
		Type:       sovereign.CmdCloseAll,
		UserID:     req.UserID,
		Source:     "gateway",
		IssuedAtUs: req.IssuedAtUs,
		Key:        r.Header.Get("X-Reflex-Key"),
		Signature:  req.Signature,
	})
	s.writeJSON(w, ackStatus(ack), ack)
}

type configRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, s.deps.Conf)

	case http.MethodPost:
		if !s.authorized(w, r) {
			return
		}
		var req configRequest
		if err := decodeBody(r, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if s.deps.ApplyConfig == nil {
			http.Error(w, "runtime config is immutable", http.StatusNotImplemented)
			return
		}
		if err := s.deps.ApplyConfig(req.Key, req.Value); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"applied": req.Key})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return err
	}
	return jsonAPI.Unmarshal(body, v)
}

func queryUint(r *http.Request, key string, fallback uint64) uint64 {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return v
}

func ackStatus(ack sovereign.Ack) int {
	if ack.Accepted {
		return http.StatusOK
	}
	return http.StatusForbidden
}
