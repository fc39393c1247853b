package consumer

import (
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// EventHandler processes one decoded message body.
type EventHandler interface {
	HandleEvent(body []byte) error
}

// ProcessMessage dispatches one AMQP delivery to the handler: ACK on
// success, NACK without requeue on failure. A handler error means the
// message was malformed or unprocessable; retrying would not help.
func ProcessMessage(logger *zap.Logger, queue string, msg amqp.Delivery, handler EventHandler) {
	logger.Debug("Received message from queue",
		zap.String("queue", queue),
		zap.Uint64("delivery_tag", msg.DeliveryTag),
	)

	if err := handler.HandleEvent(msg.Body); err != nil {
		logger.Error("Failed to process message from queue",
			zap.String("queue", queue),
			zap.Uint64("delivery_tag", msg.DeliveryTag),
			zap.Error(err),
		)
		rejectMessage(logger, msg)
		return
	}

	if err := msg.Ack(false); err != nil {
		logger.Error("Failed to ack message",
			zap.String("queue", queue),
			zap.Uint64("delivery_tag", msg.DeliveryTag),
			zap.Error(err),
		)
	}
}

func rejectMessage(logger *zap.Logger, msg amqp.Delivery) {
	if err := msg.Nack(false, false); err != nil {
		logger.Error("Failed to nack message",
			zap.Uint64("delivery_tag", msg.DeliveryTag),
			zap.Error(err),
		)
	}
}
