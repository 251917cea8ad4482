// Package natsclient manages the NATS connection used for data change events
// and JetStream KV persistence, guarded by a circuit breaker.
package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/semtwin/errors"
	"github.com/c360/semtwin/metric"
)

// ConnectionStatus is the state of the NATS connection
type ConnectionStatus int32

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusCircuitOpen
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

var (
	ErrNotConnected = stderrors.New("not connected to NATS")
	ErrCircuitOpen  = stderrors.New("circuit breaker is open")
)

// Client wraps a NATS connection with a circuit breaker on connect and
// JetStream calls.
type Client struct {
	url    string
	status atomic.Int32
	logger Logger

	mu   sync.RWMutex
	conn *nats.Conn
	js   jetstream.JetStream
	subs []*nats.Subscription

	failures         atomic.Int32
	circuitFailures  atomic.Int32
	backoff          atomic.Int64
	circuitThreshold int32
	maxBackoff       time.Duration

	maxReconnects int
	reconnectWait time.Duration
	pingInterval  time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration

	username   string
	password   string
	token      string
	clientName string

	metrics        *metric.Metrics
	onHealthChange func(bool)

	closed atomic.Bool
}

// NewClient creates a disconnected client
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:              url,
		logger:           NewSlogLogger(slog.Default().With("component", "natsclient")),
		maxReconnects:    -1,
		reconnectWait:    2 * time.Second,
		pingInterval:     30 * time.Second,
		circuitThreshold: 5,
		maxBackoff:       time.Minute,
		timeout:          5 * time.Second,
		drainTimeout:     10 * time.Second,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	c.setStatus(StatusDisconnected)
	c.backoff.Store(int64(time.Second))
	return c, nil
}

// URL returns the server URL
func (c *Client) URL() string {
	return c.url
}

// Status returns the current connection status
func (c *Client) Status() ConnectionStatus {
	return ConnectionStatus(c.status.Load())
}

func (c *Client) setStatus(s ConnectionStatus) {
	c.status.Store(int32(s))
	if c.metrics != nil {
		c.metrics.RecordNATSStatus(s == StatusConnected)
		switch s {
		case StatusCircuitOpen:
			c.metrics.RecordCircuitBreakerState(2)
		case StatusConnected:
			c.metrics.RecordCircuitBreakerState(0)
		}
	}
}

// IsHealthy reports whether the connection is up
func (c *Client) IsHealthy() bool {
	return c.Status() == StatusConnected
}

// Failures returns the failure count since the last success
func (c *Client) Failures() int32 {
	return c.failures.Load()
}

// Backoff returns the current circuit breaker backoff
func (c *Client) Backoff() time.Duration {
	return time.Duration(c.backoff.Load())
}

// Health returns nil when connected; suitable for a health endpoint
func (c *Client) Health() error {
	if c.IsHealthy() {
		return nil
	}
	return fmt.Errorf("nats %s", c.Status())
}

// recordFailure opens the circuit once threshold consecutive failures have
// been seen, doubling the backoff each time it trips.
func (c *Client) recordFailure() {
	c.failures.Add(1)
	if c.circuitFailures.Add(1) < c.circuitThreshold {
		return
	}
	c.circuitFailures.Store(0)

	current := time.Duration(c.backoff.Load())
	next := current * 2
	if next > c.maxBackoff {
		next = c.maxBackoff
	}
	c.backoff.Store(int64(next))

	if c.Status() == StatusCircuitOpen {
		c.logger.Printf("Circuit breaker still open, backoff raised to %v", next)
		return
	}
	c.setStatus(StatusCircuitOpen)
	c.logger.Printf("Circuit breaker opened, retry allowed in %v", current)
	time.AfterFunc(current, c.halfOpen)
}

func (c *Client) resetCircuit() {
	c.failures.Store(0)
	c.circuitFailures.Store(0)
	c.backoff.Store(int64(time.Second))
	if c.Status() == StatusCircuitOpen {
		c.setStatus(StatusDisconnected)
	}
}

// halfOpen lets the next Connect through after the backoff
func (c *Client) halfOpen() {
	if c.status.CompareAndSwap(int32(StatusCircuitOpen), int32(StatusDisconnected)) {
		c.logger.Debugf("Circuit breaker half-open")
		if c.metrics != nil {
			c.metrics.RecordCircuitBreakerState(1)
		}
	}
}

// WaitForConnection blocks until connected or ctx is done
func (c *Client) WaitForConnection(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if c.IsHealthy() {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.WrapTransient(ctx.Err(), "Client", "WaitForConnection", "wait for connection")
		case <-ticker.C:
		}
	}
}

func (c *Client) connectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.PingInterval(c.pingInterval),
		nats.Timeout(c.timeout),
		nats.DrainTimeout(c.drainTimeout),
		nats.DisconnectErrHandler(c.handleDisconnect),
		nats.ReconnectHandler(c.handleReconnect),
		nats.ClosedHandler(c.handleClosed),
		nats.ErrorHandler(c.handleError),
	}
	if c.username != "" && c.password != "" {
		opts = append(opts, nats.UserInfo(c.username, c.password))
	}
	if c.token != "" {
		opts = append(opts, nats.Token(c.token))
	}
	if c.clientName != "" {
		opts = append(opts, nats.Name(c.clientName))
	}
	return opts
}

// Connect dials the server and initializes JetStream
func (c *Client) Connect(ctx context.Context) error {
	if c.Status() == StatusCircuitOpen {
		return ErrCircuitOpen
	}

	c.setStatus(StatusConnecting)
	c.logger.Printf("Connecting to NATS at %s", c.url)

	type result struct {
		conn *nats.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := nats.Connect(c.url, c.connectionOptions()...)
		done <- result{conn, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return c.connectFailed(errors.WrapTransient(r.err, "Client", "Connect", "establish connection"))
		}
		js, err := jetstream.New(r.conn)
		if err != nil {
			r.conn.Close()
			return c.connectFailed(errors.WrapTransient(err, "Client", "Connect", "init jetstream"))
		}
		c.mu.Lock()
		c.conn = r.conn
		c.js = js
		c.mu.Unlock()
	case <-ctx.Done():
		// close a dial that completes after cancellation
		go func() {
			if r := <-done; r.conn != nil {
				r.conn.Close()
			}
		}()
		return c.connectFailed(errors.WrapTransient(ctx.Err(), "Client", "Connect", "connection cancelled"))
	}

	c.setStatus(StatusConnected)
	c.resetCircuit()
	c.logger.Printf("Connected to NATS at %s", c.url)
	if c.onHealthChange != nil {
		c.onHealthChange(true)
	}
	return nil
}

func (c *Client) connectFailed(err error) error {
	c.recordFailure()
	if c.Status() == StatusCircuitOpen {
		return ErrCircuitOpen
	}
	c.setStatus(StatusDisconnected)
	return err
}

// Close unsubscribes, drains and closes the connection. Safe to call twice.
func (c *Client) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	subs := c.subs
	conn := c.conn
	c.subs = nil
	c.conn = nil
	c.js = nil
	c.username, c.password, c.token = "", "", ""
	c.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil && !stderrors.Is(err, nats.ErrConnectionClosed) &&
			!stderrors.Is(err, nats.ErrBadSubscription) {
			errs = append(errs, errors.Wrap(err, "Client", "Close", "unsubscribe"))
		}
	}

	if conn != nil {
		drained := make(chan error, 1)
		go func() { drained <- conn.Drain() }()

		timer := time.NewTimer(c.drainTimeout)
		defer timer.Stop()
		select {
		case err := <-drained:
			if err != nil && !stderrors.Is(err, nats.ErrConnectionClosed) {
				errs = append(errs, errors.Wrap(err, "Client", "Close", "drain connection"))
			}
		case <-timer.C:
			errs = append(errs, errors.WrapTransient(fmt.Errorf("drain timeout after %v", c.drainTimeout),
				"Client", "Close", "drain"))
		case <-ctx.Done():
			errs = append(errs, errors.Wrap(ctx.Err(), "Client", "Close", "drain"))
		}
		conn.Close()
	}

	c.setStatus(StatusDisconnected)
	return stderrors.Join(errs...)
}

// Subscribe registers handler on subject. Each message gets a context
// derived from ctx with a 30 second deadline.
func (c *Client) Subscribe(
	ctx context.Context, subject string, handler func(ctx context.Context, subject string, data []byte),
) (*nats.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || !c.conn.IsConnected() {
		return nil, ErrNotConnected
	}

	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		msgCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		handler(msgCtx, msg.Subject, msg.Data)
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "Subscribe", "subscribe "+subject)
	}
	c.subs = append(c.subs, sub)
	return sub, nil
}

// Unsubscribe removes a subscription created by Subscribe
func (c *Client) Unsubscribe(sub *nats.Subscription) error {
	c.mu.Lock()
	for i, s := range c.subs {
		if s == sub {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			break
		}
	}
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil && !stderrors.Is(err, nats.ErrConnectionClosed) {
		return errors.Wrap(err, "Client", "Unsubscribe", "unsubscribe "+sub.Subject)
	}
	return nil
}

// Publish sends data on subject
func (c *Client) Publish(_ context.Context, subject string, data []byte) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return ErrNotConnected
	}
	if err := conn.Publish(subject, data); err != nil {
		return errors.WrapTransient(err, "Client", "Publish", "publish "+subject)
	}
	return nil
}

// JetStream returns the JetStream context
func (c *Client) JetStream() (jetstream.JetStream, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.js == nil {
		return nil, ErrNotConnected
	}
	return c.js, nil
}

func (c *Client) ready() (jetstream.JetStream, error) {
	switch c.Status() {
	case StatusCircuitOpen:
		return nil, ErrCircuitOpen
	case StatusConnected:
	default:
		return nil, ErrNotConnected
	}
	return c.JetStream()
}

// CreateKeyValueBucket returns the named bucket, creating it if needed
func (c *Client) CreateKeyValueBucket(ctx context.Context, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	js, err := c.ready()
	if err != nil {
		return nil, err
	}

	if bucket, err := js.KeyValue(ctx, cfg.Bucket); err == nil {
		c.resetCircuit()
		return bucket, nil
	}

	bucket, err := js.CreateKeyValue(ctx, cfg)
	if err != nil && isAlreadyExistsError(err) {
		bucket, err = js.KeyValue(ctx, cfg.Bucket)
	}
	if err != nil {
		c.recordFailure()
		return nil, errors.WrapTransient(err, "Client", "CreateKeyValueBucket", "create bucket "+cfg.Bucket)
	}

	c.logger.Printf("Using KV bucket %s", cfg.Bucket)
	c.resetCircuit()
	return bucket, nil
}

// GetKeyValueBucket returns an existing bucket
func (c *Client) GetKeyValueBucket(ctx context.Context, name string) (jetstream.KeyValue, error) {
	js, err := c.ready()
	if err != nil {
		return nil, err
	}
	bucket, err := js.KeyValue(ctx, name)
	if err != nil {
		c.recordFailure()
		return nil, errors.WrapTransient(err, "Client", "GetKeyValueBucket", "get bucket "+name)
	}
	c.resetCircuit()
	return bucket, nil
}

func (c *Client) handleDisconnect(_ *nats.Conn, err error) {
	if c.closed.Load() {
		return
	}
	c.setStatus(StatusReconnecting)
	if err != nil {
		c.logger.Errorf("Disconnected from NATS: %v", err)
	}
	if c.onHealthChange != nil {
		go c.onHealthChange(false)
	}
}

func (c *Client) handleReconnect(_ *nats.Conn) {
	c.setStatus(StatusConnected)
	c.resetCircuit()
	if c.metrics != nil {
		c.metrics.RecordNATSReconnect()
	}
	if c.onHealthChange != nil {
		go c.onHealthChange(true)
	}
}

func (c *Client) handleClosed(_ *nats.Conn) {
	c.setStatus(StatusDisconnected)
}

func (c *Client) handleError(_ *nats.Conn, sub *nats.Subscription, err error) {
	if sub != nil {
		c.logger.Errorf("NATS error on %s: %v", sub.Subject, err)
		return
	}
	c.logger.Errorf("NATS error: %v", err)
}

func isAlreadyExistsError(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, jetstream.ErrBucketExists) || stderrors.Is(err, jetstream.ErrStreamNameAlreadyInUse) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "already in use") || strings.Contains(msg, "already exists")
}
