package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-evaluation/internal/model"
	"github.com/stemsi/exstem-evaluation/internal/response"
	"github.com/stemsi/exstem-evaluation/internal/service"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second // prevent slow queries from blocking the SSE loop
)

// MonitorHandler streams live evaluation progress to evaluators over SSE.
type MonitorHandler struct {
	evaluations *service.EvaluationService
	monitor     *service.MonitorService
	log         zerolog.Logger

	refreshEvery   time.Duration
	keepAliveEvery time.Duration
}

// NewMonitorHandler creates a new MonitorHandler.
func NewMonitorHandler(evaluations *service.EvaluationService, monitor *service.MonitorService, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		evaluations:    evaluations,
		monitor:        monitor,
		log:            log.With().Str("component", "monitor_handler").Logger(),
		refreshEvery:   refreshInterval,
		keepAliveEvery: keepAliveInterval,
	}
}

type monitorSnapshot struct {
	Type       string                    `json:"type"`
	Evaluation *model.Evaluation         `json:"evaluation,omitempty"`
	Progress   *service.ProgressSnapshot `json:"progress"`
}

// MonitorSSE godoc
// GET /api/v1/evaluator/evaluations/:id/monitor
// Sends a snapshot, then forwards monitor events as they are published.
func (h *MonitorHandler) MonitorSSE(c *gin.Context) {
	id, ok := evaluationParam(c)
	if !ok {
		return
	}

	reqCtx := c.Request.Context()
	evaluation, err := h.evaluations.GetByID(reqCtx, id)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	// Subscribe before the snapshot so nothing published in between is lost.
	pubsub := h.monitor.Subscribe(reqCtx, id)
	defer pubsub.Close()
	if _, err := pubsub.Receive(reqCtx); err != nil {
		h.log.Error().Err(err).Msg("Monitor subscribe failed")
		response.Fail(c, http.StatusServiceUnavailable, response.ErrUnavailable)
		return
	}
	ch := pubsub.Channel()

	initial, err := h.loadProgress(reqCtx, id)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	h.writeSnapshot(c, monitorSnapshot{Type: "snapshot", Evaluation: evaluation, Progress: initial})

	keepAliveTicker := time.NewTicker(h.keepAliveEvery)
	defer keepAliveTicker.Stop()

	refreshTicker := time.NewTicker(h.refreshEvery)
	defer refreshTicker.Stop()

	// Skip refresh queries until something happens on the channel.
	active := false

	h.log.Info().Str("evaluation_id", id.String()).Msg("Evaluator attached to live monitor")

	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("evaluation_id", id.String()).Msg("Evaluator detached from live monitor")
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			// Events are already JSON; forward as-is.
			writeSSE(c, []byte(msg.Payload))
			active = true

		case <-refreshTicker.C:
			if !active {
				continue
			}
			progress, err := h.loadProgress(reqCtx, id)
			if err != nil {
				h.log.Warn().Err(err).Str("evaluation_id", id.String()).Msg("Monitor refresh failed")
				continue
			}
			h.writeSnapshot(c, monitorSnapshot{Type: "refresh", Progress: progress})

		case <-keepAliveTicker.C:
			writeSSE(c, pingPayload)
		}
	}
}

func (h *MonitorHandler) loadProgress(parent context.Context, id uuid.UUID) (*service.ProgressSnapshot, error) {
	ctx, cancel := context.WithTimeout(parent, refreshTimeout)
	defer cancel()
	return h.monitor.GetProgress(ctx, id)
}

func (h *MonitorHandler) writeSnapshot(c *gin.Context, snap monitorSnapshot) {
	payload, err := json.Marshal(snap)
	if err != nil {
		h.log.Error().Err(err).Msg("Marshal monitor snapshot")
		return
	}
	writeSSE(c, payload)
}

func writeSSE(c *gin.Context, payload []byte) {
	c.Writer.Write([]byte("data: "))
	c.Writer.Write(payload)
	c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}
