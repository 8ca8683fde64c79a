// Package event publishes domain events to RabbitMQ.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-evaluation/internal/model"
)

// Type is the routing key of a domain event.
type Type string

const (
	TypeAttemptCompleted Type = "attempt.completed"
)

// AttemptCompleted is emitted once an attempt is durably stored.
type AttemptCompleted struct {
	EventID             uuid.UUID             `json:"event_id"`
	Type                Type                  `json:"type"`
	OccurredAt          time.Time             `json:"occurred_at"`
	AttemptID           uuid.UUID             `json:"attempt_id"`
	EvaluationID        uuid.UUID             `json:"evaluation_id"`
	Candidate           string                `json:"candidate"`
	OverallScorePercent int                   `json:"overall_score_percent"`
	Categories          []model.CategoryScore `json:"per_category_breakdown"`
	Trigger             model.SubmitTrigger   `json:"trigger"`
	CompletedAt         time.Time             `json:"completed_at"`
}

// NewAttemptCompleted builds the event for a stored attempt.
func NewAttemptCompleted(a *model.Attempt) *AttemptCompleted {
	return &AttemptCompleted{
		EventID:             uuid.New(),
		Type:                TypeAttemptCompleted,
		OccurredAt:          time.Now().UTC(),
		AttemptID:           a.AttemptID,
		EvaluationID:        a.EvaluationID,
		Candidate:           a.CandidateIdentity,
		OverallScorePercent: a.OverallScorePercent,
		Categories:          a.Categories,
		Trigger:             a.Trigger,
		CompletedAt:         a.CompletedAt,
	}
}

// Publisher sends domain events.
type Publisher interface {
	PublishAttemptCompleted(ctx context.Context, a *model.Attempt) error
	Close() error
}

// AMQPPublisher publishes JSON events on a durable topic exchange. With an
// empty URL it is disabled and every publish is a no-op.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	enabled  bool
	log      zerolog.Logger
}

// NewAMQPPublisher dials RabbitMQ and declares the exchange.
func NewAMQPPublisher(url, exchange string, log zerolog.Logger) (*AMQPPublisher, error) {
	p := &AMQPPublisher{
		exchange: exchange,
		log:      log.With().Str("component", "event_publisher").Logger(),
	}
	if url == "" {
		p.log.Warn().Msg("AMQP_URL is empty, event publishing is disabled")
		return p, nil
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	p.conn = conn
	p.channel = ch
	p.enabled = true
	p.log.Info().Str("exchange", exchange).Msg("RabbitMQ connected")
	return p, nil
}

// PublishAttemptCompleted emits attempt.completed.
func (p *AMQPPublisher) PublishAttemptCompleted(ctx context.Context, a *model.Attempt) error {
	return p.publish(ctx, TypeAttemptCompleted, a.AttemptID.String(), NewAttemptCompleted(a))
}

func (p *AMQPPublisher) publish(ctx context.Context, routingKey Type, messageID string, payload any) error {
	if !p.enabled {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// amqp channels are not safe for concurrent publishes.
	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(pubCtx, p.exchange, string(routingKey), false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    messageID,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}

	p.log.Debug().Str("routing_key", string(routingKey)).Str("message_id", messageID).Msg("Event published")
	return nil
}

// Close shuts down the channel and connection.
func (p *AMQPPublisher) Close() error {
	if !p.enabled {
		return nil
	}
	if err := p.channel.Close(); err != nil {
		p.log.Warn().Err(err).Msg("Error closing RabbitMQ channel")
	}
	if err := p.conn.Close(); err != nil {
		return fmt.Errorf("close rabbitmq connection: %w", err)
	}
	return nil
}
