package handler

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-evaluation/internal/config"
	"github.com/stemsi/exstem-evaluation/internal/database"
	"github.com/stemsi/exstem-evaluation/internal/response"
)

const healthTimeout = 2 * time.Second

// SessionCounter reports how many sessions are live in this process.
type SessionCounter interface {
	ActiveCount() int
}

// SystemHandler serves liveness and process status.
type SystemHandler struct {
	pool      *pgxpool.Pool
	rdb       *redis.Client
	sessions  SessionCounter
	startTime time.Time
	log       zerolog.Logger
}

// NewSystemHandler creates a new SystemHandler. pool may be nil in tests.
func NewSystemHandler(pool *pgxpool.Pool, rdb *redis.Client, sessions SessionCounter, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		pool:      pool,
		rdb:       rdb,
		sessions:  sessions,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

// Health godoc
// GET /health
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	if err := database.Ping(ctx, h.pool, h.rdb); err != nil {
		h.log.Warn().Err(err).Msg("Health check failed")
		response.Fail(c, http.StatusServiceUnavailable, response.ErrUnavailable)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"status":          "ok",
		"active_sessions": h.sessions.ActiveCount(),
	})
}

type systemStatus struct {
	Timestamp int64  `json:"timestamp"`
	Uptime    string `json:"uptime"`
	GoVersion string `json:"go_version"`
	NumCPU    int    `json:"num_cpu"`

	Goroutines int    `json:"goroutines"`
	HeapAlloc  uint64 `json:"heap_alloc_bytes"`
	HeapSys    uint64 `json:"heap_sys_bytes"`
	NumGC      uint32 `json:"num_gc"`

	ActiveSessions      int   `json:"active_sessions"`
	AttemptsQueueDepth  int64 `json:"attempts_queue_depth"`
	SnapshotsQueueDepth int64 `json:"snapshots_queue_depth"`
}

// Status godoc
// GET /api/v1/evaluator/system
func (h *SystemHandler) Status(c *gin.Context) {
	s := systemStatus{
		Timestamp:      time.Now().Unix(),
		Uptime:         formatDuration(time.Since(h.startTime)),
		GoVersion:      runtime.Version(),
		NumCPU:         runtime.NumCPU(),
		Goroutines:     runtime.NumGoroutine(),
		ActiveSessions: h.sessions.ActiveCount(),
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	s.HeapAlloc = ms.HeapAlloc
	s.HeapSys = ms.HeapSys
	s.NumGC = ms.NumGC

	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	pipe := h.rdb.Pipeline()
	attemptsCmd := pipe.LLen(ctx, config.WorkerKey.PersistAttemptsQueue)
	snapshotsCmd := pipe.LLen(ctx, config.WorkerKey.PersistSnapshotsQueue)
	if _, err := pipe.Exec(ctx); err != nil {
		h.log.Warn().Err(err).Msg("Queue depth lookup failed")
	}
	s.AttemptsQueueDepth = attemptsCmd.Val()
	s.SnapshotsQueueDepth = snapshotsCmd.Val()

	response.Success(c, http.StatusOK, s)
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}
