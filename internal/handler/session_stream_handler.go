package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-evaluation/internal/middleware"
	"github.com/stemsi/exstem-evaluation/internal/model"
	"github.com/stemsi/exstem-evaluation/internal/response"
	"github.com/stemsi/exstem-evaluation/internal/service"
	"github.com/stemsi/exstem-evaluation/internal/session"
	ws "github.com/stemsi/exstem-evaluation/internal/websocket"
)

const (
	streamEventBuffer = 64
	submitTimeout     = 10 * time.Second
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// SessionStreamHandler runs a candidate session over a WebSocket: countdown
// ticks and phase changes are pushed, actions come back on the same socket.
type SessionStreamHandler struct {
	sessions *service.SessionManager
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewSessionStreamHandler creates a new SessionStreamHandler.
func NewSessionStreamHandler(sessions *service.SessionManager, log zerolog.Logger, allowedOrigins []string) *SessionStreamHandler {
	return &SessionStreamHandler{
		sessions: sessions,
		log:      log.With().Str("component", "session_stream_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// Stream godoc
// WS /ws/v1/candidate/session/stream?token=
func (h *SessionStreamHandler) Stream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	key := service.KeyFromClaims(claims)

	// Start or resume before upgrading so errors go out as plain HTTP.
	if _, err := h.sessions.Start(c.Request.Context(), key, middleware.GetAccessToken(c)); err != nil {
		failFromError(c, h.log, err)
		return
	}
	s, err := h.sessions.Session(key)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.Wrap(raw)
	defer conn.Close()

	wsLog := h.log.With().
		Str("evaluation_id", key.EvaluationID.String()).
		Str("candidate", key.Candidate).
		Logger()
	wsLog.Info().Msg("Candidate connected")

	events, unsubscribe := s.Subscribe(streamEventBuffer)
	defer unsubscribe()

	_ = conn.WriteTyped(ws.StateResponse{Event: ws.EventState, State: s.View()})

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.pushEvents(conn, s, events)
	}()

	h.readLoop(conn, wsLog, key, s)

	unsubscribe()
	<-done
	wsLog.Info().Msg("Candidate disconnected")
}

// pushEvents forwards session events until the subscription closes or the
// attempt completes.
func (h *SessionStreamHandler) pushEvents(conn *ws.Conn, s *session.Session, events <-chan session.Event) {
	for ev := range events {
		var err error
		switch ev.Type {
		case session.EventTick:
			err = conn.WriteTyped(ws.TickResponse{Event: ws.EventTick, RemainingSeconds: ev.RemainingSeconds})
		case session.EventPhaseChanged:
			msg := ws.PhaseResponse{Event: ws.EventPhase, Phase: ev.Phase}
			if ev.Phase == model.SessionPhaseFailed {
				if e := s.Err(); e != nil {
					msg.Error = e.Error()
				}
			}
			err = conn.WriteTyped(msg)

			if ev.Phase == model.SessionPhaseCompleted {
				if a := s.Attempt(); a != nil {
					_ = conn.WriteTyped(ws.ResultResponse{Event: ws.EventResult, Result: a.Result()})
				}
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "completed"),
					time.Now().Add(time.Second))
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (h *SessionStreamHandler) readLoop(conn *ws.Conn, wsLog zerolog.Logger, key service.SessionKey, s *session.Session) {
	for {
		env, err := conn.ReadEnvelope()
		if err != nil {
			if env != nil {
				// Malformed JSON; the socket itself is fine.
				_ = conn.WriteError(string(response.ErrInvalidPayload), "invalid message")
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		var view *model.SessionView
		switch env.Action {
		case ws.ActionPing:
			_ = conn.WriteTyped(ws.PongResponse{Event: ws.EventPong})
			continue
		case ws.ActionState:
			view = s.View()
		case ws.ActionNavigate:
			var req ws.NavigateRequest
			if err = env.Decode(&req); err == nil {
				view, err = h.sessions.Navigate(key, req.Index)
			}
		case ws.ActionAnswer:
			var req ws.AnswerRequest
			if err = env.Decode(&req); err == nil {
				view, err = h.sessions.Answer(key, req.QuestionID, req.OptionIndex, req.Selected)
			}
		case ws.ActionClear:
			var req ws.QuestionRequest
			if err = env.Decode(&req); err == nil {
				view, err = h.sessions.ClearAnswer(key, req.QuestionID)
			}
		case ws.ActionFlag:
			var req ws.QuestionRequest
			if err = env.Decode(&req); err == nil {
				view, err = h.sessions.ToggleFlag(key, req.QuestionID)
			}
		case ws.ActionSubmit:
			// The result is pushed by pushEvents once the phase changes.
			ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
			_, err = h.sessions.Submit(ctx, key)
			cancel()
			if err == nil {
				continue
			}
		default:
			wsLog.Warn().Str("action", string(env.Action)).Msg("Unknown action")
			_ = conn.WriteError(string(response.ErrInvalidPayload), "unknown action: "+string(env.Action))
			continue
		}

		switch {
		case errors.Is(err, ws.ErrInvalidPayload):
			_ = conn.WriteError(string(response.ErrInvalidPayload), response.GetMessage(response.ErrInvalidPayload))
			continue
		case err != nil:
			_, code := classify(err)
			_ = conn.WriteError(string(code), response.GetMessage(code))
			continue
		}
		_ = conn.WriteTyped(ws.StateResponse{Event: ws.EventState, State: view})
	}
}
