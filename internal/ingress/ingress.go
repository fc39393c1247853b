package ingress

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/emilioaray-dev/bcv-service-sub000/internal/config"
	"github.com/emilioaray-dev/bcv-service-sub000/internal/consumer"
	"github.com/emilioaray-dev/bcv-service-sub000/internal/models"
	"github.com/emilioaray-dev/bcv-service-sub000/internal/rabbitmq"
	"github.com/emilioaray-dev/bcv-service-sub000/internal/sender"
)

// Notifier is the outbound side of the ingress: the webhook sender.
type Notifier interface {
	SendRateNotification(ctx context.Context, event models.Event, data models.RateData) sender.Result
	SendStatusNotification(ctx context.Context, event models.Event, data models.StatusData) sender.Result
	SendDeploymentNotification(ctx context.Context, event models.Event, data models.DeploymentData) sender.Result
}

// inboundEvent is the envelope published by the rate scraper, health
// monitor and deployment pipeline.
type inboundEvent struct {
	Event models.Event    `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Ingress consumes notification events from the broker and triggers
// webhook delivery for each.
type Ingress struct {
	cfg         *config.RabbitMQConfig
	conn        *rabbitmq.Connection
	notifier    Notifier
	logger      *zap.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	consumerTag string
	started     bool
}

// NewIngress creates an ingress with injected dependencies.
func NewIngress(cfg *config.RabbitMQConfig, conn *rabbitmq.Connection, notifier Notifier, logger *zap.Logger) *Ingress {
	ctx, cancel := context.WithCancel(context.Background())
	return &Ingress{
		cfg:         cfg,
		conn:        conn,
		notifier:    notifier,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		consumerTag: fmt.Sprintf("notify-ingress-%d", time.Now().Unix()),
	}
}

// Start registers the consumer and begins processing events.
func (i *Ingress) Start() error {
	if i.cfg.EventQueue == "" {
		return fmt.Errorf("event queue is required")
	}

	if err := i.startConsuming(); err != nil {
		return err
	}

	i.started = true
	i.logger.Info("Ingress started and consuming events",
		zap.String("queue", i.cfg.EventQueue),
		zap.String("consumer_tag", i.consumerTag),
	)
	return nil
}

func (i *Ingress) startConsuming() error {
	if err := i.conn.SetQoS(i.cfg.PrefetchCount); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	messages, err := i.conn.ConsumeMessages(i.cfg.EventQueue, i.consumerTag, false)
	if err != nil {
		return fmt.Errorf("failed to start consuming from queue %s: %w", i.cfg.EventQueue, err)
	}

	go i.processMessages(messages)
	return nil
}

// Stop cancels the consumer and stops processing.
func (i *Ingress) Stop() error {
	i.logger.Info("Stopping ingress", zap.String("consumer_tag", i.consumerTag))
	i.cancel()
	i.started = false
	return i.conn.CancelConsumer(i.consumerTag)
}

func (i *Ingress) processMessages(messages <-chan amqp.Delivery) {
	for {
		select {
		case <-i.ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				if !i.started {
					return
				}
				i.logger.Warn("Message channel closed, waiting for reconnection...",
					zap.String("queue", i.cfg.EventQueue),
				)
				// The connection manager reconnects on its own; retry
				// registering the consumer until it succeeds.
				for i.started {
					select {
					case <-i.ctx.Done():
						return
					default:
					}
					time.Sleep(2 * time.Second)
					if !i.conn.IsHealthy() {
						continue
					}
					if err := i.startConsuming(); err != nil {
						i.logger.Error("Failed to restart consumer after channel close",
							zap.Error(err),
						)
						time.Sleep(5 * time.Second)
						continue
					}
					return
				}
				return
			}
			consumer.ProcessMessage(i.logger, i.cfg.EventQueue, msg, i)
		}
	}
}

// HandleEvent implements consumer.EventHandler. The event name picks the
// payload variant; delivery outcomes are best-effort and never fail the
// message (the sender already escalated to the durable queue if needed).
func (i *Ingress) HandleEvent(body []byte) error {
	var evt inboundEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return fmt.Errorf("failed to unmarshal notification event: %w", err)
	}

	var result sender.Result
	switch {
	case strings.HasPrefix(string(evt.Event), "rate."):
		var data models.RateData
		if err := json.Unmarshal(evt.Data, &data); err != nil {
			return fmt.Errorf("failed to unmarshal rate data: %w", err)
		}
		result = i.notifier.SendRateNotification(i.ctx, evt.Event, data)
	case strings.HasPrefix(string(evt.Event), "service."):
		var data models.StatusData
		if err := json.Unmarshal(evt.Data, &data); err != nil {
			return fmt.Errorf("failed to unmarshal status data: %w", err)
		}
		result = i.notifier.SendStatusNotification(i.ctx, evt.Event, data)
	case strings.HasPrefix(string(evt.Event), "deployment."):
		var data models.DeploymentData
		if err := json.Unmarshal(evt.Data, &data); err != nil {
			return fmt.Errorf("failed to unmarshal deployment data: %w", err)
		}
		result = i.notifier.SendDeploymentNotification(i.ctx, evt.Event, data)
	default:
		i.logger.Warn("Unknown notification event, skipping",
			zap.String("event", string(evt.Event)),
		)
		return nil
	}

	i.logger.Info("Notification event handled",
		zap.String("event", string(evt.Event)),
		zap.Bool("delivered", result.Success),
		zap.Int("attempt", result.Attempt),
	)
	return nil
}
