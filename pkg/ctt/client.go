// Package ctt provides a fire-and-forget control-plane client for an
// optional hardware (CTT/smart-NIC) flow-offload backend, per
// SPEC_FULL.md §4.8. The core engine must never depend on this backend's
// success: every call here is best-effort and logs rather than propagates
// failure.
package ctt

import (
	"encoding/json"
	"time"

	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

// Config configures the AMQP connection to the CTT control plane.
type Config struct {
	URL          string
	Exchange     string
	RoutingKey   string
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

// Client is a no-ack publisher: CreateRecord/ExportRecord never block the
// calling worker on a RabbitMQ round trip and never return an error the
// flow pipeline needs to act on.
type Client interface {
	CreateRecord(flowHash uint64, key string)
	ExportRecord(flowHash uint64, reason string)
	Close()
}

// NullClient is the default Client: every call is a no-op, matching
// SPEC_FULL.md's requirement that CTT is entirely optional.
type NullClient struct{}

func (NullClient) CreateRecord(uint64, string)  {}
func (NullClient) ExportRecord(uint64, string) {}
func (NullClient) Close()                       {}

type message struct {
	Op       string `json:"op"`
	FlowHash uint64 `json:"flow_hash"`
	Key      string `json:"key,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// AMQPClient publishes flow lifecycle events to a RabbitMQ exchange for
// an external hardware-offload controller to consume. After a connection
// loss, each publish makes one synchronous dial attempt; backoff doubles
// after every failed attempt up to ReconnectMax, but no delay is applied
// between attempts.
type AMQPClient struct {
	cfg    Config
	logger *zap.Logger

	conn    *amqp.Connection
	channel *amqp.Channel
	backoff time.Duration
}

// NewAMQPClient dials the CTT control plane. A dial failure is logged and
// the client starts in a disconnected state; each later publish first
// tries to dial again and is dropped if that attempt fails.
func NewAMQPClient(cfg Config, logger *zap.Logger) *AMQPClient {
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = time.Second
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = 30 * time.Second
	}
	c := &AMQPClient{cfg: cfg, logger: logger, backoff: cfg.ReconnectMin}
	c.connect()
	return c
}

func (c *AMQPClient) connect() {
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		c.logger.Warn("ctt: dial failed, will retry lazily", zap.Error(err))
		return
	}
	ch, err := conn.Channel()
	if err != nil {
		c.logger.Warn("ctt: channel open failed", zap.Error(err))
		conn.Close()
		return
	}
	c.conn, c.channel = conn, ch
	c.backoff = c.cfg.ReconnectMin
}

func (c *AMQPClient) publish(msg message) {
	if c.channel == nil {
		c.reconnectOnce()
		if c.channel == nil {
			return
		}
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return
	}
	err = c.channel.Publish(c.cfg.Exchange, c.cfg.RoutingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
		Timestamp:   time.Now(),
	})
	if err != nil {
		c.logger.Debug("ctt: publish failed, dropping", zap.Error(err))
		c.channel = nil
		c.conn = nil
	}
}

func (c *AMQPClient) reconnectOnce() {
	c.connect()
	if c.channel == nil {
		if c.backoff < c.cfg.ReconnectMax {
			c.backoff *= 2
			if c.backoff > c.cfg.ReconnectMax {
				c.backoff = c.cfg.ReconnectMax
			}
		}
	}
}

// CreateRecord notifies the CTT control plane a new flow was created.
func (c *AMQPClient) CreateRecord(flowHash uint64, key string) {
	c.publish(message{Op: "create", FlowHash: flowHash, Key: key})
}

// ExportRecord notifies the CTT control plane a flow was exported.
func (c *AMQPClient) ExportRecord(flowHash uint64, reason string) {
	c.publish(message{Op: "export", FlowHash: flowHash, Reason: reason})
}

// Close releases the AMQP channel and connection, if connected.
func (c *AMQPClient) Close() {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
