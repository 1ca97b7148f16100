package rabbitmq

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/baechuer/real-time-ressys/services/history-service/internal/domain"
	"github.com/baechuer/real-time-ressys/services/history-service/internal/logger"
	"github.com/baechuer/real-time-ressys/services/history-service/internal/metrics"
)

const (
	supportedVersion = 1

	rkUserLoggedIn = "auth.user.logged_in"

	linkTimeout = 3 * time.Second
)

type Linker interface {
	Link(ctx context.Context, userID, fingerprint string) error
}

// LoginConsumer links device fingerprints to users from login events.
type LoginConsumer struct {
	rabbitURL string
	exchange  string
	queue     string
	linker    Linker
}

func NewLoginConsumer(rabbitURL, exchange, queue string, linker Linker) *LoginConsumer {
	return &LoginConsumer{
		rabbitURL: strings.TrimSpace(rabbitURL),
		exchange:  strings.TrimSpace(exchange),
		queue:     strings.TrimSpace(queue),
		linker:    linker,
	}
}

// Start declares the topology and consumes in the background until ctx is done.
func (c *LoginConsumer) Start(ctx context.Context) error {
	log := logger.Logger.With().Str("component", "login_consumer").Logger()

	conn, err := amqp.Dial(c.rabbitURL)
	if err != nil {
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return err
	}
	closeAll := func() {
		_ = ch.Close()
		_ = conn.Close()
	}

	if err := ch.ExchangeDeclare(c.exchange, "topic", true, false, false, false, nil); err != nil {
		closeAll()
		return err
	}

	q, err := ch.QueueDeclare(c.queue, true, false, false, false, nil)
	if err != nil {
		closeAll()
		return err
	}
	if err := ch.QueueBind(q.Name, rkUserLoggedIn, c.exchange, false, nil); err != nil {
		closeAll()
		return err
	}
	if err := ch.Qos(10, 0, false); err != nil {
		closeAll()
		return err
	}

	deliveries, err := ch.Consume(q.Name, "history-service", false, false, false, false, nil)
	if err != nil {
		closeAll()
		return err
	}

	go func() {
		defer closeAll()
		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("stopped")
				return
			case d, ok := <-deliveries:
				if !ok {
					log.Warn().Msg("delivery channel closed")
					return
				}
				if c.handle(ctx, d.RoutingKey, d.MessageId, d.Body, d.Redelivered) == outcomeRequeue {
					_ = d.Nack(false, true)
					continue
				}
				_ = d.Ack(false)
			}
		}
	}()

	log.Info().Str("queue", q.Name).Str("routing_key", rkUserLoggedIn).Msg("consumer started")
	return nil
}

type outcome int

const (
	outcomeAck outcome = iota
	outcomeRequeue
)

// handle never lets a bad message loop: anything unusable is acked and dropped,
// and a failed link is retried once through redelivery.
func (c *LoginConsumer) handle(ctx context.Context, routingKey, amqpMessageID string, body []byte, redelivered bool) outcome {
	log := logger.Logger.With().
		Str("component", "login_consumer").
		Str("routing_key", routingKey).
		Logger()

	p, msgID, ok := decodeLogin(body, amqpMessageID, log)
	if !ok {
		metrics.RecordLoginEvent("dropped")
		return outcomeAck
	}
	log = log.With().Str("message_id", msgID).Str("user_id", p.UserID).Logger()

	if strings.TrimSpace(p.Fingerprint) == "" {
		metrics.RecordLoginEvent("no_fingerprint")
		log.Debug().Msg("login without fingerprint; nothing to link")
		return outcomeAck
	}

	lctx, cancel := context.WithTimeout(ctx, linkTimeout)
	defer cancel()
	err := c.linker.Link(lctx, p.UserID, p.Fingerprint)
	switch {
	case err == nil:
		metrics.RecordLoginEvent("linked")
		return outcomeAck
	case domain.IsCode(err, domain.CodeValidation):
		metrics.RecordLoginEvent("dropped")
		log.Warn().Err(err).Msg("invalid login payload; dropping")
		return outcomeAck
	case redelivered:
		metrics.RecordLoginEvent("failed")
		log.Warn().Err(err).Msg("link failed twice; giving up")
		return outcomeAck
	default:
		metrics.RecordLoginEvent("requeued")
		log.Warn().Err(err).Msg("link failed; requeue")
		return outcomeRequeue
	}
}

func decodeLogin(body []byte, amqpMessageID string, log zerolog.Logger) (UserLoggedInPayload, string, bool) {
	var env DomainEventEnvelope[UserLoggedInPayload]
	if err := json.Unmarshal(body, &env); err != nil {
		log.Warn().Err(err).Msg("invalid envelope json; dropping")
		return UserLoggedInPayload{}, "", false
	}
	if env.Version != supportedVersion {
		log.Warn().Int("version", env.Version).Msg("unsupported envelope version; dropping")
		return UserLoggedInPayload{}, "", false
	}
	if strings.TrimSpace(env.Payload.UserID) == "" {
		log.Warn().Msg("login event without user_id; dropping")
		return UserLoggedInPayload{}, "", false
	}

	msgID := strings.TrimSpace(env.MessageID)
	if msgID == "" {
		msgID = strings.TrimSpace(amqpMessageID)
	}
	return env.Payload, msgID, true
}
