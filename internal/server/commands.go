package server

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-noisemonitor/internal/audio"
	"github.com/oszuidwest/zwfm-noisemonitor/internal/metrics"
	"github.com/oszuidwest/zwfm-noisemonitor/internal/state"
)

// toneTimeout bounds a single confirmation tone playback.
const toneTimeout = 2 * time.Second

// CommandHandler applies control messages to the shared state.
type CommandHandler struct {
	state    *state.State
	metrics  *metrics.Metrics
	player   audio.Player
	toneRate int

	// OnThreshold is called after the threshold changes. Optional.
	OnThreshold func(db float64)

	wg sync.WaitGroup
}

// NewCommandHandler creates a command handler. player may be nil, in which
// case enabling the filter plays no confirmation tone.
func NewCommandHandler(st *state.State, m *metrics.Metrics, player audio.Player, toneRate int) *CommandHandler {
	return &CommandHandler{
		state:    st,
		metrics:  m,
		player:   player,
		toneRate: toneRate,
	}
}

// Apply applies every field present in msg.
func (h *CommandHandler) Apply(msg ControlMessage) {
	if msg.Threshold != nil {
		h.setThreshold(*msg.Threshold)
	}

	if msg.Operator != nil {
		h.state.SetOperator(*msg.Operator)
		slog.Info("operator updated", "operator", *msg.Operator)
	}

	if msg.FilterEnabled != nil {
		enabled := *msg.FilterEnabled
		previous := h.state.SetFilterEnabled(enabled)
		if previous != enabled {
			slog.Info("filter mode changed", "enabled", enabled)
		}
		if enabled && !previous {
			h.playTone()
		}
	}
}

func (h *CommandHandler) setThreshold(db float64) {
	if math.IsNaN(db) || math.IsInf(db, 0) {
		slog.Warn("ignored non-finite threshold")
		return
	}
	h.state.SetThreshold(db)
	h.metrics.ThresholdDB.Set(db)
	slog.Info("threshold updated", "threshold_db", db)

	if h.OnThreshold != nil {
		h.OnThreshold(db)
	}
}

// playTone plays the confirmation tone without blocking the caller.
func (h *CommandHandler) playTone() {
	if h.player == nil {
		return
	}
	h.wg.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), toneTimeout)
		defer cancel()
		if err := h.player.Play(ctx, audio.ConfirmationTone(h.toneRate), h.toneRate); err != nil {
			slog.Warn("failed to play confirmation tone", "error", err)
		}
	})
}

// Wait blocks until pending tone playbacks have finished.
func (h *CommandHandler) Wait() {
	h.wg.Wait()
}
