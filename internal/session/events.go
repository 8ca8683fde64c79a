package session

import (
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-evaluation/internal/model"
)

// EventType names a session change.
type EventType string

const (
	EventPhaseChanged EventType = "phase_changed"
	EventTick         EventType = "tick"
	EventNavigated    EventType = "navigated"
	EventAnswered     EventType = "answered"
	EventFlagged      EventType = "flagged"
)

// Event describes one change to a session. Events are delivered outside the
// session lock, in the order they were emitted.
type Event struct {
	Type             EventType          `json:"type"`
	AttemptID        uuid.UUID          `json:"attempt_id"`
	EvaluationID     uuid.UUID          `json:"evaluation_id"`
	Candidate        string             `json:"candidate"`
	Phase            model.SessionPhase `json:"phase"`
	RemainingSeconds int                `json:"remaining_seconds"`
	QuestionID       *uuid.UUID         `json:"question_id,omitempty"`
	AnsweredCount    int                `json:"answered_count"`
	FlaggedCount     int                `json:"flagged_count"`
	At               time.Time          `json:"at"`
}

// Subscribe returns a channel receiving the session's events. Slow readers
// miss events rather than blocking the session. The returned func
// unsubscribes and closes the channel.
func (s *Session) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)

	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()

	cancel := func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// emit queues an event; the caller must hold s.mu.
func (s *Session) emit(t EventType, questionID *uuid.UUID) {
	answered, flagged := s.counts()
	s.outbox = append(s.outbox, Event{
		Type:             t,
		AttemptID:        s.attemptID,
		EvaluationID:     s.evaluationID,
		Candidate:        s.candidate,
		Phase:            s.phase,
		RemainingSeconds: s.remaining,
		QuestionID:       questionID,
		AnsweredCount:    answered,
		FlaggedCount:     flagged,
		At:               s.clock.Now(),
	})
}

// unlock releases s.mu and then dispatches queued events. One goroutine at a
// time dispatches; events queued meanwhile by others are handed to it, so
// observers and subscribers see events in the order they were emitted.
func (s *Session) unlock() {
	s.undelivered = append(s.undelivered, s.outbox...)
	s.outbox = nil
	if s.dispatching || len(s.undelivered) == 0 {
		s.mu.Unlock()
		return
	}
	s.dispatching = true

	for {
		events := s.undelivered
		s.undelivered = nil
		if len(events) == 0 {
			s.dispatching = false
			s.mu.Unlock()
			return
		}
		observer := s.observer
		s.mu.Unlock()

		s.dispatch(observer, events)

		s.mu.Lock()
	}
}

func (s *Session) dispatch(observer func(Event), events []Event) {
	if observer != nil {
		for _, ev := range events {
			observer(ev)
		}
	}

	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ev := range events {
		for _, ch := range s.subs {
			select {
			case ch <- ev:
			default:
			}
		}
	}
}
