package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/asquebay/zuvees-sync/internal/model"

	"github.com/segmentio/kafka-go"
)

// OrderCreator — это интерфейс, который абстрагирует консьюмер
// от конкретной реализации сервисного слоя
type OrderCreator interface {
	CreateOrder(ctx context.Context, order model.Order) error
}

const (
	retryDelay    = time.Second
	maxRetryDelay = 30 * time.Second
)

// errUnprocessable помечает сообщения, которые не станут лучше от повтора
var errUnprocessable = errors.New("unprocessable checkout order")

// messageReader покрывает используемую часть kafka.Reader
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer читает заказы, созданные при оформлении (checkout), из топика orders
// offset двигается только после того, как заказ сохранён или признан непригодным
type Consumer struct {
	reader  messageReader
	service OrderCreator
	log     *slog.Logger
	delay   time.Duration
}

// NewConsumer создает новый экземпляр консьюмера
func NewConsumer(brokers []string, topic, groupID string, service OrderCreator, log *slog.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		GroupID: groupID,
		Topic:   topic,
		// новая группа начинает с самого раннего сообщения, чтобы не потерять заказы, оформленные до первого запуска
		StartOffset: kafka.FirstOffset,
	})

	return &Consumer{
		reader:  reader,
		service: service,
		log:     log,
		delay:   retryDelay,
	}
}

// Run читает заказы, пока не отменён ctx или не закрыт ридер
// блокирующий, запускается в отдельной горутине
func (c *Consumer) Run(ctx context.Context) {
	log := c.log.With(slog.String("component", "kafka_consumer"))
	log.Info("kafka consumer started")

	for {
		msg, ok := c.fetch(ctx, log)
		if !ok {
			return
		}

		mlog := log.With(slog.Int("partition", msg.Partition), slog.Int64("offset", msg.Offset))
		mlog.Debug("checkout order received", slog.String("key", string(msg.Key)))

		// ридер kafka-go не отдаёт неподтверждённое сообщение повторно, пока жива сессия группы,
		// поэтому ошибку сохранения переживаем здесь же, на этом сообщении
		if !c.process(ctx, mlog, msg) {
			return
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			mlog.Error("failed to commit message", slog.String("error", err.Error()))
		}
	}
}

// fetch ждёт следующее сообщение; false означает, что консьюмер пора остановить
func (c *Consumer) fetch(ctx context.Context, log *slog.Logger) (kafka.Message, bool) {
	for attempt := 0; ; attempt++ {
		msg, err := c.reader.FetchMessage(ctx)
		switch {
		case err == nil:
			return msg, true
		case errors.Is(err, context.Canceled), ctx.Err() != nil:
			log.Info("context cancelled, stopping consumer")
			return kafka.Message{}, false
		case errors.Is(err, io.EOF):
			log.Info("kafka reader closed")
			return kafka.Message{}, false
		}

		log.Error("failed to fetch message", slog.String("error", err.Error()), slog.Int("attempt", attempt+1))
		if !c.wait(ctx, attempt) {
			return kafka.Message{}, false
		}
	}
}

// process сохраняет заказ, повторяя попытки, пока хранилище недоступно
// false возвращается только при отмене ctx, offset тогда не фиксируется
func (c *Consumer) process(ctx context.Context, log *slog.Logger, msg kafka.Message) bool {
	for attempt := 0; ; attempt++ {
		err := c.handleMessage(ctx, msg)
		if err == nil {
			return true
		}

		log.Error("failed to store checkout order, retrying",
			slog.String("error", err.Error()),
			slog.Int("attempt", attempt+1),
		)
		if !c.wait(ctx, attempt) {
			return false
		}
	}
}

// handleMessage разбирает и сохраняет один заказ
// непригодное сообщение пропускается (nil), ошибка означает «стоит повторить»
func (c *Consumer) handleMessage(ctx context.Context, msg kafka.Message) error {
	order, err := decodeCheckoutOrder(msg)
	if err != nil {
		c.log.Warn("skipping checkout message", slog.String("error", err.Error()), slog.Int64("offset", msg.Offset))
		return nil
	}

	if err := c.service.CreateOrder(ctx, order); err != nil {
		return err
	}

	c.log.Info("checkout order stored",
		slog.String("order_id", order.ID),
		slog.String("customer_id", order.User.ID),
		slog.Int("items", len(order.Items)),
	)
	return nil
}

// decodeCheckoutOrder достаёт заказ из сообщения; ключ, если он задан, должен совпадать с id заказа
func decodeCheckoutOrder(msg kafka.Message) (model.Order, error) {
	var order model.Order
	if err := json.Unmarshal(msg.Value, &order); err != nil {
		return model.Order{}, fmt.Errorf("%w: %v", errUnprocessable, err)
	}
	if err := order.Validate(); err != nil {
		return model.Order{}, fmt.Errorf("%w: order %q: %v", errUnprocessable, order.ID, err)
	}
	if len(msg.Key) > 0 && string(msg.Key) != order.ID {
		return model.Order{}, fmt.Errorf("%w: key %q does not match order %q", errUnprocessable, msg.Key, order.ID)
	}
	return order, nil
}

// wait выдерживает экспоненциальную паузу перед следующей попыткой
func (c *Consumer) wait(ctx context.Context, attempt int) bool {
	d := c.delay << min(attempt, 5)
	if d > maxRetryDelay {
		d = maxRetryDelay
	}

	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// Close — graceful shutdown консьюмера
func (c *Consumer) Close() error {
	c.log.Info("closing kafka consumer")
	return c.reader.Close()
}
