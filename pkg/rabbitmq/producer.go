package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// Publisher публикует сообщения в брокер
type Publisher interface {
	Publish(ctx context.Context, body []byte, options ...PublishOption) error
}

// Producer публикует сообщения и дожидается подтверждения брокера
type Producer struct {
	conn   *Connection
	config *Config

	// канал amqp не допускает конкурентной публикации с ожиданием подтверждений
	mu sync.Mutex
}

// NewProducer создает нового продюсера
func NewProducer(conn *Connection, config *Config) *Producer {
	return &Producer{conn: conn, config: config}
}

// Publish публикует сообщение и ждет ack брокера
func (p *Producer) Publish(ctx context.Context, body []byte, options ...PublishOption) error {
	opts := &PublishOptions{
		Exchange:   p.config.Exchange,
		RoutingKey: p.config.RoutingKey,
	}
	for _, option := range options {
		option(opts)
	}

	channel := p.conn.Channel()
	if channel == nil {
		return fmt.Errorf("rabbitmq channel is not initialized")
	}

	msg := amqp091.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
		MessageId:    opts.MessageID,
		Headers:      opts.Headers,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	confirmation, err := channel.PublishWithDeferredConfirmWithContext(ctx, opts.Exchange, opts.RoutingKey, false, false, msg)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	acked, err := confirmation.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("failed waiting for confirmation: %w", err)
	}
	if !acked {
		return fmt.Errorf("message rejected by broker")
	}
	return nil
}

// PublishOptions представляет опции публикации
type PublishOptions struct {
	Exchange   string
	RoutingKey string
	MessageID  string
	Headers    amqp091.Table
}

// PublishOption настраивает публикацию
type PublishOption func(*PublishOptions)

func WithExchange(exchange string) PublishOption {
	return func(opts *PublishOptions) {
		opts.Exchange = exchange
	}
}

func WithRoutingKey(routingKey string) PublishOption {
	return func(opts *PublishOptions) {
		opts.RoutingKey = routingKey
	}
}

func WithMessageID(id string) PublishOption {
	return func(opts *PublishOptions) {
		opts.MessageID = id
	}
}

func WithHeaders(headers amqp091.Table) PublishOption {
	return func(opts *PublishOptions) {
		opts.Headers = headers
	}
}
