package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-evaluation/internal/model"
	ws "github.com/stemsi/exstem-evaluation/internal/websocket"
)

// streamMessage is the union of every server event.
type streamMessage struct {
	Event            ws.Event             `json:"event"`
	State            *model.SessionView   `json:"state"`
	Result           *model.AttemptResult `json:"result"`
	Phase            model.SessionPhase   `json:"phase"`
	RemainingSeconds int                  `json:"remaining_seconds"`
	Code             string               `json:"code"`
}

func dialStream(t *testing.T, s *testServer, token string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(s.engine)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/candidate/session/stream?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial: %v (status %d)", err, status)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// next reads until an event other than tick arrives.
func next(t *testing.T, conn *websocket.Conn) streamMessage {
	t.Helper()
	for {
		_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		var msg streamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if msg.Event != ws.EventTick {
			return msg
		}
	}
}

func mountStream(s *testServer, auth gin.HandlerFunc) {
	h := NewSessionStreamHandler(s.sessions, zerolog.Nop(), nil)
	s.engine.GET("/ws/candidate/session/stream", auth, h.Stream)
}

func TestSessionStream_AnswerAndSubmit(t *testing.T) {
	s := newTestServer(t)
	mountStream(s, s.wsAuth)
	_, token := s.createAndInvite(t, "gus")

	conn := dialStream(t, s, token)

	first := next(t, conn)
	if first.Event != ws.EventState || first.State == nil || len(first.State.Questions) != 2 {
		t.Fatalf("first message = %+v", first)
	}
	qid := first.State.Questions[0].ID

	if err := conn.WriteJSON(map[string]any{"action": ws.ActionPing}); err != nil {
		t.Fatal(err)
	}
	if msg := next(t, conn); msg.Event != ws.EventPong {
		t.Fatalf("ping reply = %+v", msg)
	}

	if err := conn.WriteJSON(map[string]any{
		"action": ws.ActionAnswer, "question_id": qid, "option_index": 0, "selected": true,
	}); err != nil {
		t.Fatal(err)
	}
	if msg := next(t, conn); msg.Event != ws.EventState || msg.State.AnsweredCount != 1 {
		t.Fatalf("answer reply = %+v", msg)
	}

	if err := conn.WriteJSON(map[string]any{"action": ws.ActionAnswer, "question_id": qid, "option_index": 42, "selected": true}); err != nil {
		t.Fatal(err)
	}
	if msg := next(t, conn); msg.Event != ws.EventError || msg.Code != "INVALID_OPTION" {
		t.Fatalf("invalid option reply = %+v", msg)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	if msg := next(t, conn); msg.Event != ws.EventError || msg.Code != "INVALID_PAYLOAD" {
		t.Fatalf("malformed reply = %+v", msg)
	}

	if err := conn.WriteJSON(map[string]any{"action": ws.ActionSubmit}); err != nil {
		t.Fatal(err)
	}

	var result *model.AttemptResult
	for result == nil {
		msg := next(t, conn)
		switch msg.Event {
		case ws.EventPhase:
			if msg.Phase == model.SessionPhaseFailed {
				t.Fatalf("submit failed: %+v", msg)
			}
		case ws.EventResult:
			result = msg.Result
		default:
			t.Fatalf("unexpected message while submitting: %+v", msg)
		}
	}
	if result.AttemptID != first.State.AttemptID || result.AnsweredCount != 1 {
		t.Fatalf("result = %+v", result)
	}

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal close, got %v", err)
	}
}

func TestSessionStream_RejectsBeforeUpgrade(t *testing.T) {
	s := newTestServer(t)
	mountStream(s, s.wsAuth)

	srv := httptest.NewServer(s.engine)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/candidate/session/stream?token=garbage"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial succeeded with a bad token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("response = %+v, want 401", resp)
	}
}
