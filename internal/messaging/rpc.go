package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ErrClosed возвращается для запросов, оставшихся без ответа после закрытия клиента.
var ErrClosed = errors.New("rpc client closed")

// RPCClient реализует запрос-ответ поверх RabbitMQ (reply_to + correlation_id).
// Все запросы используют одну эксклюзивную очередь ответов.
type RPCClient struct {
	channel    *amqp.Channel
	replyQueue string
	logger     *zap.Logger

	mu      sync.Mutex
	pending map[string]chan []byte
	closed  bool
	done    chan struct{}
}

// NewRPCClient открывает канал, объявляет очереди запросов и очередь ответов.
func NewRPCClient(conn *amqp.Connection, requestQueues []string, logger *zap.Logger) (*RPCClient, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("rpc client: не удалось открыть канал: %w", err)
	}

	// Параметры должны совпадать с теми, что объявляет сервис генерации.
	for _, q := range requestQueues {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			ch.Close()
			return nil, fmt.Errorf("rpc client: не удалось объявить очередь '%s': %w", q, err)
		}
	}

	reply, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("rpc client: не удалось объявить очередь ответов: %w", err)
	}

	deliveries, err := ch.Consume(reply.Name, "", true, true, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("rpc client: не удалось подписаться на очередь ответов: %w", err)
	}

	c := &RPCClient{
		channel:    ch,
		replyQueue: reply.Name,
		logger:     logger.Named("RPCClient"),
		pending:    make(map[string]chan []byte),
		done:       make(chan struct{}),
	}
	go c.dispatch(deliveries)

	c.logger.Info("RPC client ready", zap.String("replyQueue", reply.Name), zap.Strings("requestQueues", requestQueues))
	return c, nil
}

func (c *RPCClient) dispatch(deliveries <-chan amqp.Delivery) {
	defer close(c.done)
	for d := range deliveries {
		c.mu.Lock()
		ch, ok := c.pending[d.CorrelationId]
		if ok {
			delete(c.pending, d.CorrelationId)
		}
		c.mu.Unlock()

		if !ok {
			c.logger.Debug("Dropping reply without waiting caller", zap.String("correlationID", d.CorrelationId))
			continue
		}
		ch <- d.Body
	}

	// Канал закрыт: будим всех ожидающих.
	c.mu.Lock()
	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()
}

// Call публикует запрос в очередь queue и ждет ответ до отмены ctx.
func (c *RPCClient) Call(ctx context.Context, queue string, request, response any) error {
	body, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("ошибка сериализации запроса в очередь %s: %w", queue, err)
	}

	correlationID := uuid.NewString()
	replyCh := make(chan []byte, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.pending[correlationID] = replyCh
	c.mu.Unlock()

	log := c.logger.With(zap.String("queue", queue), zap.String("correlationID", correlationID))

	if err := c.publish(ctx, queue, correlationID, body); err != nil {
		c.forget(correlationID)
		log.Error("Failed to publish RPC request", zap.Error(err))
		return err
	}
	log.Debug("RPC request published")

	select {
	case raw, ok := <-replyCh:
		if !ok {
			return ErrClosed
		}
		if err := json.Unmarshal(raw, response); err != nil {
			log.Error("Failed to unmarshal RPC reply", zap.ByteString("body", raw), zap.Error(err))
			return fmt.Errorf("invalid reply format from queue %s: %w", queue, err)
		}
		return nil
	case <-ctx.Done():
		c.forget(correlationID)
		log.Warn("RPC call abandoned before reply", zap.Error(ctx.Err()))
		return ctx.Err()
	}
}

func (c *RPCClient) forget(correlationID string) {
	c.mu.Lock()
	delete(c.pending, correlationID)
	c.mu.Unlock()
}

func (c *RPCClient) publish(ctx context.Context, queue, correlationID string, body []byte) error {
	var err error
	// Попытка публикации с retry до 3 раз
	for attempt := 1; attempt <= 3; attempt++ {
		err = c.channel.PublishWithContext(ctx,
			"",    // exchange (используем default)
			queue, // routing key (имя очереди)
			false,
			false,
			amqp.Publishing{
				ContentType:   "application/json",
				CorrelationId: correlationID,
				ReplyTo:       c.replyQueue,
				Body:          body,
				Timestamp:     time.Now(),
				AppId:         "devlog-server",
			},
		)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("Ошибка публикации", zap.Int("attempt", attempt), zap.String("queue", queue), zap.Error(err))
		time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
	}
	return fmt.Errorf("ошибка публикации в очередь %s после retries: %w", queue, err)
}

// Close закрывает канал; ожидающие вызовы получают ErrClosed.
func (c *RPCClient) Close() error {
	err := c.channel.Close()
	<-c.done
	return err
}
