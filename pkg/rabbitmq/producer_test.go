package rabbitmq

import (
	"context"
	"testing"

	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
)

func TestPublishOptions(t *testing.T) {
	opts := &PublishOptions{Exchange: "errands.events", RoutingKey: "task.updated"}
	for _, o := range []PublishOption{
		WithRoutingKey("task.completed"),
		WithMessageID("evt-1"),
		WithHeaders(amqp091.Table{"task_id": "t-1"}),
	} {
		o(opts)
	}

	assert.Equal(t, "errands.events", opts.Exchange)
	assert.Equal(t, "task.completed", opts.RoutingKey)
	assert.Equal(t, "evt-1", opts.MessageID)
	assert.Equal(t, "t-1", opts.Headers["task_id"])

	WithExchange("other")(opts)
	assert.Equal(t, "other", opts.Exchange)
}

func TestPublish_NoChannel(t *testing.T) {
	p := NewProducer(&Connection{}, NewConfig())
	err := p.Publish(context.Background(), []byte(`{}`))
	assert.Error(t, err)
}

func TestHealthCheck_Closed(t *testing.T) {
	c := &Connection{}
	assert.Error(t, c.HealthCheck(context.Background()))
}
