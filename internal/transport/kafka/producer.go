package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/asquebay/zuvees-sync/internal/model"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer публикует события о смене статуса заказа
type Producer struct {
	writer messageWriter
	log    *slog.Logger
}

// NewProducer создает продюсер для топика событий о статусах
func NewProducer(brokers []string, topic string, log *slog.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:  kafka.TCP(brokers...),
		Topic: topic,
		// события одного заказа попадают в одну партицию
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}

	return &Producer{writer: writer, log: log}
}

// PublishStatus отправляет событие; вызывающий сам решает, что делать с ошибкой
func (p *Producer) PublishStatus(ctx context.Context, event model.StatusEvent) error {
	const op = "transport.kafka.Producer.PublishStatus"

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%s: failed to marshal event: %w", op, err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.OrderID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(event.EventID)},
		},
	})
	if err != nil {
		return fmt.Errorf("%s: failed to write message: %w", op, err)
	}

	p.log.Debug("status event published",
		slog.String("op", op),
		slog.String("event_id", event.EventID),
		slog.String("order_id", event.OrderID),
	)
	return nil
}

// Close дожидается отправки буферизованных сообщений и закрывает соединения
func (p *Producer) Close() error {
	p.log.Info("closing kafka producer")
	return p.writer.Close()
}
