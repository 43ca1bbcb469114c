//go:build integration

package messaging

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"devlog-server/internal/domain"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

// startResponder эмулирует сервис генерации: отвечает на каждый запрос из queue.
func startResponder(t *testing.T, conn *amqp.Connection, queue string, reply func([]byte) any) {
	t.Helper()
	ch, err := conn.Channel()
	require.NoError(t, err)
	t.Cleanup(func() { _ = ch.Close() })

	_, err = ch.QueueDeclare(queue, true, false, false, false, nil)
	require.NoError(t, err)
	msgs, err := ch.Consume(queue, "", true, false, false, false, nil)
	require.NoError(t, err)

	go func() {
		for d := range msgs {
			body, _ := json.Marshal(reply(d.Body))
			_ = ch.PublishWithContext(context.Background(), "", d.ReplyTo, false, false, amqp.Publishing{
				ContentType:   "application/json",
				CorrelationId: d.CorrelationId,
				Body:          body,
			})
		}
	}()
}

func TestRPCClient_RoundTrip(t *testing.T) {
	ctx := context.Background()
	container, err := rabbitmq.Run(ctx,
		"rabbitmq:3-management-alpine",
		testcontainers.WithWaitStrategy(wait.ForLog("Server startup complete")),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	url, err := container.AmqpURL(ctx)
	require.NoError(t, err)
	conn, err := Connect(ctx, url, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	startResponder(t, conn, "summaryQueue", func([]byte) any {
		return map[string]any{"type": "title_response", "result": "Generated"}
	})

	rpc, err := NewRPCClient(conn, []string{"summaryQueue", "experienceQueue"}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rpc.Close() })

	tr := NewGenerationTransport(rpc, "summaryQueue", "experienceQueue")
	callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	title, err := tr.GenerateTitle(callCtx, []domain.QA{{Question: "q", Answer: "a"}})
	require.NoError(t, err)
	assert.Equal(t, "Generated", title)

	// Никто не слушает experienceQueue: вызов упирается в дедлайн.
	shortCtx, cancelShort := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancelShort()
	_, err = tr.ExtractActivities(shortCtx, "text", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
