package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/Ronitkothari22/distributed-video-processing/internal/domain/entity"
)

const (
	// TaskExchange fans every task message out to all bound worker queues.
	TaskExchange = "video_tasks"
	// StatusExchange fans worker status events out to status consumers.
	StatusExchange = "processing_status"
	// StatusQueue is the durable queue the orchestrating server consumes.
	StatusQueue = "status_updates_queue"
)

var ErrClosed = errors.New("rabbitmq client is closed")

// Handler processes one delivered message body. Returning nil acknowledges
// the message; returning an error leaves it unacknowledged for redelivery.
type Handler = func(ctx context.Context, body []byte) error

type Config struct {
	URL               string
	ReconnectAttempts int
	ReconnectDelay    time.Duration
}

// consumerReg remembers a registered consumer so it can be restored after a
// reconnect without caller intervention.
type consumerReg struct {
	queue    string
	exchange string
	handler  Handler
	ctx      context.Context
}

// Client owns one connection to the broker. It declares the task and status
// exchanges on every successful connect, publishes with persistent delivery,
// and restores any registered consumer after a surprise disconnect.
type Client struct {
	cfg Config
	log *logrus.Entry

	mu         sync.Mutex
	conn       *amqp.Connection
	channel    *amqp.Channel
	connecting chan struct{} // non-nil while a connect attempt is in flight
	connectErr error
	closed     bool
	consumer   *consumerReg

	dial func(url string) (*amqp.Connection, error)
}

func NewClient(cfg Config, log *logrus.Logger) *Client {
	if cfg.ReconnectAttempts <= 0 {
		cfg.ReconnectAttempts = 1
	}
	return &Client{
		cfg:  cfg,
		log:  log.WithField("component", "rabbitmq"),
		dial: amqp.Dial,
	}
}

// Connect establishes the broker connection, retrying with linear backoff up
// to the configured attempt count. It is idempotent: a live connection is a
// no-op, and callers racing an in-flight attempt wait on its outcome instead
// of dialing again.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.conn != nil && !c.conn.IsClosed() {
		c.mu.Unlock()
		return nil
	}
	if c.connecting != nil {
		wait := c.connecting
		c.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
		c.mu.Lock()
		err := c.connectErr
		c.mu.Unlock()
		return err
	}
	done := make(chan struct{})
	c.connecting = done
	c.mu.Unlock()

	err := retryLinear(ctx, c.cfg.ReconnectAttempts, c.cfg.ReconnectDelay, sleepCtx, func() error {
		return c.establish(ctx)
	})
	if err != nil {
		err = fmt.Errorf("connect to rabbitmq after %d attempts: %w", c.cfg.ReconnectAttempts, err)
		c.log.WithError(err).Error("broker connection failed")
	}

	c.mu.Lock()
	c.connectErr = err
	c.connecting = nil
	c.mu.Unlock()
	close(done)
	return err
}

// establish performs one dial plus topology declaration and, if a consumer
// was previously registered, resumes it.
func (c *Client) establish(ctx context.Context) error {
	conn, err := c.dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	for _, exchange := range []string{TaskExchange, StatusExchange} {
		if err := ch.ExchangeDeclare(
			exchange,
			amqp.ExchangeFanout,
			true,  // durable
			false, // auto-delete
			false,
			false,
			nil,
		); err != nil {
			conn.Close()
			return fmt.Errorf("declare exchange %s: %w", exchange, err)
		}
	}

	c.mu.Lock()
	c.conn = conn
	c.channel = ch
	consumer := c.consumer
	c.mu.Unlock()

	go c.watchClose(conn.NotifyClose(make(chan *amqp.Error, 1)))
	go c.watchChannelClose(ch, ch.NotifyClose(make(chan *amqp.Error, 1)))

	if consumer != nil {
		if err := c.startConsumer(ch, consumer); err != nil {
			conn.Close()
			return fmt.Errorf("resume consumer on %s: %w", consumer.queue, err)
		}
		c.log.WithField("queue", consumer.queue).Info("consumer restored after reconnect")
	}

	c.log.Info("connected to rabbitmq")
	return nil
}

// watchClose reacts to a broker-initiated disconnect with one reconnect
// cycle. A graceful Close delivers nil and is ignored.
func (c *Client) watchClose(closed chan *amqp.Error) {
	amqpErr, ok := <-closed
	if !ok || amqpErr == nil {
		return
	}
	c.mu.Lock()
	done := c.closed
	c.mu.Unlock()
	if done {
		return
	}
	c.log.WithError(amqpErr).Warn("broker connection lost, reconnecting")
	if err := c.Connect(context.Background()); err != nil {
		c.log.WithError(err).Error("reconnect after broker disconnect failed")
	}
}

// watchChannelClose reacts to the broker closing the channel while the
// connection stays open (channel exceptions close only the channel). A stale
// notification for an already-replaced channel is ignored.
func (c *Client) watchChannelClose(ch *amqp.Channel, closed chan *amqp.Error) {
	amqpErr, ok := <-closed
	if !ok || amqpErr == nil {
		return
	}
	c.mu.Lock()
	stale := c.closed || c.channel != ch
	c.mu.Unlock()
	if stale {
		return
	}
	c.log.WithError(amqpErr).Warn("broker channel closed, reopening")
	if err := c.reopenChannel(context.Background()); err != nil {
		c.log.WithError(err).Error("channel recovery failed")
	}
}

// reopenChannel opens a fresh channel on the existing connection, redeclares
// topology, and resumes the registered consumer. Falls back to a full
// reconnect when the connection turns out to be gone too.
func (c *Client) reopenChannel(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil || conn.IsClosed() {
		return c.Connect(ctx)
	}

	ch, err := conn.Channel()
	if err != nil {
		return c.Connect(ctx)
	}
	for _, exchange := range []string{TaskExchange, StatusExchange} {
		if err := ch.ExchangeDeclare(exchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
			ch.Close()
			return fmt.Errorf("declare exchange %s: %w", exchange, err)
		}
	}

	c.mu.Lock()
	c.channel = ch
	consumer := c.consumer
	c.mu.Unlock()

	go c.watchChannelClose(ch, ch.NotifyClose(make(chan *amqp.Error, 1)))

	if consumer != nil {
		if err := c.startConsumer(ch, consumer); err != nil {
			return fmt.Errorf("resume consumer on %s: %w", consumer.queue, err)
		}
		c.log.WithField("queue", consumer.queue).Info("consumer restored on new channel")
	}
	return nil
}

// liveChannel returns the open channel, transparently recovering first if the
// channel or the whole connection has gone away.
func (c *Client) liveChannel(ctx context.Context) (*amqp.Channel, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	connLive := c.conn != nil && !c.conn.IsClosed()
	ch := c.channel
	c.mu.Unlock()

	if connLive && ch != nil && !ch.IsClosed() {
		return ch, nil
	}
	if connLive {
		if err := c.reopenChannel(ctx); err != nil {
			return nil, err
		}
	} else if err := c.Connect(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	ch = c.channel
	c.mu.Unlock()
	if ch == nil {
		return nil, ErrClosed
	}
	return ch, nil
}

func (c *Client) publish(ctx context.Context, exchange string, body []byte) error {
	ch, err := c.liveChannel(ctx)
	if err != nil {
		return err
	}
	return ch.PublishWithContext(ctx,
		exchange,
		"", // fan-out ignores routing keys
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
}

// PublishTask publishes a task message to the task exchange with persistent
// delivery. A failed reconnect surfaces here as a submission failure.
func (c *Client) PublishTask(ctx context.Context, msg entity.TaskMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal task message: %w", err)
	}
	c.log.WithField("file_id", msg.FileID).Info("publishing task")
	if err := c.publish(ctx, TaskExchange, body); err != nil {
		return fmt.Errorf("publish task: %w", err)
	}
	return nil
}

// PublishStatus publishes a worker status event to the status exchange.
func (c *Client) PublishStatus(ctx context.Context, event entity.StatusEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal status event: %w", err)
	}
	if err := c.publish(ctx, StatusExchange, body); err != nil {
		return fmt.Errorf("publish status: %w", err)
	}
	return nil
}

// CreateQueue declares a durable queue and binds it to the given fan-out
// exchange. Worker types call this so every type sees every task while
// processes of one type compete on the shared queue name.
func (c *Client) CreateQueue(ctx context.Context, name, exchange string) error {
	ch, err := c.liveChannel(ctx)
	if err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", name, err)
	}
	if err := ch.QueueBind(name, "", exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", name, err)
	}
	return nil
}

// ConsumeStatus registers handler against the status queue. The handler is
// remembered and re-registered automatically after a reconnect.
func (c *Client) ConsumeStatus(ctx context.Context, handler Handler) error {
	return c.consume(ctx, StatusQueue, StatusExchange, handler)
}

// ConsumeTasks registers handler against a worker task queue bound to the
// task exchange.
func (c *Client) ConsumeTasks(ctx context.Context, queue string, handler Handler) error {
	return c.consume(ctx, queue, TaskExchange, handler)
}

func (c *Client) consume(ctx context.Context, queue, exchange string, handler Handler) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	reg := &consumerReg{queue: queue, exchange: exchange, handler: handler, ctx: ctx}
	c.mu.Lock()
	c.consumer = reg
	ch := c.channel
	c.mu.Unlock()
	return c.startConsumer(ch, reg)
}

func (c *Client) startConsumer(ch *amqp.Channel, reg *consumerReg) error {
	if _, err := ch.QueueDeclare(reg.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", reg.queue, err)
	}
	if err := ch.QueueBind(reg.queue, "", reg.exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", reg.queue, err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.Consume(
		reg.queue,
		"",
		false, // manual ack: at-least-once
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("consume %s: %w", reg.queue, err)
	}
	go c.deliveryLoop(reg, deliveries)
	return nil
}

// deliveryLoop acks a message only after the handler returns nil. A handler
// error leaves the message unacknowledged and requeued; handlers are expected
// to swallow malformed-message errors themselves so one bad payload cannot
// wedge the queue.
func (c *Client) deliveryLoop(reg *consumerReg, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-reg.ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				// channel gone; the channel watcher restores the consumer
				return
			}
			if err := reg.handler(reg.ctx, d.Body); err != nil {
				c.log.WithError(err).WithField("queue", reg.queue).Error("message handling failed, requeueing")
				if nackErr := d.Nack(false, true); nackErr != nil {
					c.log.WithError(nackErr).Error("nack failed")
				}
				continue
			}
			if err := d.Ack(false); err != nil {
				c.log.WithError(err).Error("ack failed")
			}
		}
	}
}

// Close releases the connection. Safe to call multiple times; the close
// watcher sees the closed flag and does not reconnect.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.channel = nil
	c.mu.Unlock()

	if conn != nil && !conn.IsClosed() {
		return conn.Close()
	}
	return nil
}
