package websocket

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-evaluation/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionState    Action = "state"
	ActionNavigate Action = "navigate"
	ActionAnswer   Action = "answer"
	ActionClear    Action = "clear"
	ActionFlag     Action = "flag"
	ActionSubmit   Action = "submit"
	ActionPing     Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action          `json:"action"`
	Raw    json.RawMessage `json:"-"`
}

// NavigateRequest moves to another question.
type NavigateRequest struct {
	Index int `json:"index"`
}

// AnswerRequest selects or deselects one option.
type AnswerRequest struct {
	QuestionID  uuid.UUID `json:"question_id"`
	OptionIndex int       `json:"option_index"`
	Selected    bool      `json:"selected"`
}

// QuestionRequest targets one question (clear, flag).
type QuestionRequest struct {
	QuestionID uuid.UUID `json:"question_id"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventState  Event = "state"
	EventTick   Event = "tick"
	EventPhase  Event = "phase"
	EventResult Event = "result"
	EventError  Event = "error"
	EventPong   Event = "pong"
)

// StateResponse carries the full candidate view.
type StateResponse struct {
	Event Event              `json:"event"`
	State *model.SessionView `json:"state"`
}

// TickResponse is sent once per countdown second.
type TickResponse struct {
	Event            Event `json:"event"`
	RemainingSeconds int   `json:"remaining_seconds"`
}

// PhaseResponse announces a phase change.
type PhaseResponse struct {
	Event Event              `json:"event"`
	Phase model.SessionPhase `json:"phase"`
	Error string             `json:"error,omitempty"`
}

// ResultResponse carries the score once the attempt is accepted.
type ResultResponse struct {
	Event  Event                `json:"event"`
	Result *model.AttemptResult `json:"result"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
