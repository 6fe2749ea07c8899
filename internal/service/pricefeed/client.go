// Package pricefeed streams competitor price updates over a websocket.
package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"PricePulse/internal/domain/models"
	drepo "PricePulse/internal/domain/repository"
	applogger "PricePulse/pkg/logger"

	"github.com/gorilla/websocket"
)

// Frame types on the wire.
const (
	frameSubscribe = "subscribe"
	framePrice     = "price"
)

type wireQuote struct {
	ProductID    string  `json:"productId"`
	Competitor   string  `json:"competitor"`
	Price        float64 `json:"price"`
	Currency     string  `json:"currency"`
	Availability *bool   `json:"availability"`
	Timestamp    int64   `json:"t"` // ms
	Confidence   float64 `json:"confidence"`
}

type wireFrame struct {
	Type     string      `json:"type"`
	Products []string    `json:"products,omitempty"`
	Data     []wireQuote `json:"data,omitempty"`
}

// Client is a PriceFeed backed by a websocket endpoint.
type Client struct {
	url            string
	products       []string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	bufferSize     int
	l              *applogger.Logger

	mu        sync.Mutex // guards conn and connected
	writeMu   sync.Mutex
	conn      *websocket.Conn
	connected bool
	dropped   int64
}

type Option func(*Client)

// WithProducts limits the subscription; empty subscribes to everything the feed offers.
func WithProducts(ids []string) Option {
	return func(c *Client) { c.products = append([]string(nil), ids...) }
}

func WithIntervals(reconnect, ping time.Duration) Option {
	return func(c *Client) {
		c.reconnectDelay = reconnect
		c.pingInterval = ping
	}
}

func WithBufferSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.bufferSize = n
		}
	}
}

func New(url string, l *applogger.Logger, opts ...Option) *Client {
	c := &Client{
		url:            url,
		reconnectDelay: 5 * time.Second,
		pingInterval:   30 * time.Second,
		bufferSize:     1024,
		l:              l,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ drepo.PriceFeed = (*Client)(nil)

func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("pricefeed connect: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
	c.l.Info("pricefeed connected", applogger.String("url", c.url))
	return c.subscribe()
}

func (c *Client) subscribe() error {
	return c.write(func(conn *websocket.Conn) error {
		return conn.WriteJSON(wireFrame{Type: frameSubscribe, Products: c.products})
	})
}

func (c *Client) write(fn func(*websocket.Conn) error) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New("pricefeed not connected")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return fn(conn)
}

// Read streams observations until ctx ends or the connection fails. Both channels close on exit.
func (c *Client) Read(ctx context.Context) (<-chan *models.Observation, <-chan error) {
	out := make(chan *models.Observation, c.bufferSize)
	errs := make(chan error, 1)

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	done := make(chan struct{})
	go c.pingLoop(ctx, done)

	go func() {
		defer close(out)
		defer close(errs)
		defer close(done)
		if conn == nil {
			errs <- errors.New("pricefeed conn nil")
			return
		}
		// unblock ReadMessage when ctx ends
		stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
		defer stop()
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					errs <- fmt.Errorf("pricefeed read: %w", err)
				}
				return
			}
			var f wireFrame
			if err := json.Unmarshal(b, &f); err != nil || f.Type != framePrice {
				continue
			}
			for _, q := range f.Data {
				o := q.observation()
				select {
				case out <- o:
				default:
					c.mu.Lock()
					c.dropped++
					c.mu.Unlock()
				}
			}
		}
	}()
	return out, errs
}

func (q wireQuote) observation() *models.Observation {
	o := &models.Observation{
		ProductID:  q.ProductID,
		Competitor: q.Competitor,
		Price:      q.Price,
		Currency:   q.Currency,
		Available:  true,
		Timestamp:  time.UnixMilli(q.Timestamp).UTC(),
		Confidence: q.Confidence,
	}
	if q.Timestamp == 0 {
		o.Timestamp = time.Now().UTC()
	}
	if q.Confidence == 0 {
		o.Confidence = 1
	}
	if q.Availability != nil {
		o.Available = *q.Availability
	}
	return o
}

func (c *Client) pingLoop(ctx context.Context, done <-chan struct{}) {
	if c.pingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			err := c.write(func(conn *websocket.Conn) error {
				return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			})
			if err != nil {
				c.l.Warn("pricefeed ping failed", applogger.Error(err))
			}
		}
	}
}

func (c *Client) Reconnect(ctx context.Context) error {
	_ = c.Close()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.reconnectDelay):
	}
	return c.Connect(ctx)
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Dropped counts observations discarded because the consumer fell behind.
func (c *Client) Dropped() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}
