package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/angelmondragon/shoppad-backend/pkg/enums"
	"github.com/angelmondragon/shoppad-backend/pkg/logger"
	"github.com/angelmondragon/shoppad-backend/pkg/types"
)

var (
	ErrNotConnected   = errors.New("channel is not connected")
	ErrAlreadyStarted = errors.New("channel already started")
	ErrClosed         = errors.New("channel closed")
)

// Transport is one live connection to the hub.
type Transport interface {
	// Read blocks until the next frame arrives or the connection fails.
	Read() (types.Frame, error)
	Write(frame []byte) error
	Close() error
}

// Dialer opens transports. Dial must honour ctx for the handshake.
type Dialer interface {
	Dial(ctx context.Context) (Transport, error)
}

// Handler receives the raw payload of one event.
type Handler func(ctx context.Context, data json.RawMessage)

// Status is a snapshot of the connection.
type Status struct {
	State     enums.ConnectionState `json:"state"`
	Connected bool                  `json:"connected"`
	Error     string                `json:"error,omitempty"`
	SocketID  string                `json:"socketId,omitempty"`
	Attempt   int                   `json:"attempt"`
}

type Options struct {
	ReconnectBase   time.Duration
	ReconnectMax    time.Duration
	ReconnectBudget int
	InboxSize       int
}

func (o Options) withDefaults() Options {
	if o.ReconnectBase <= 0 {
		o.ReconnectBase = time.Second
	}
	if o.ReconnectMax < o.ReconnectBase {
		o.ReconnectMax = 5 * time.Second
		if o.ReconnectMax < o.ReconnectBase {
			o.ReconnectMax = o.ReconnectBase
		}
	}
	if o.ReconnectBudget <= 0 {
		o.ReconnectBudget = 10
	}
	if o.InboxSize <= 0 {
		o.InboxSize = 256
	}
	return o
}

type subscription struct {
	handler Handler
	active  atomic.Bool
}

// Channel keeps a hub connection alive and routes events to subscribers.
// Handlers and status listeners run one at a time on a single goroutine.
type Channel struct {
	dialer Dialer
	opts   Options
	logg   *logger.Logger
	sleep  func(ctx context.Context, d time.Duration) error

	mu        sync.RWMutex
	status    Status
	transport Transport
	subs      map[enums.EventKind][]*subscription
	watchers  map[int]func(Status)
	nextWatch int
	started   bool
	closed    bool

	// statusQueue is guarded by mu. Status changes bypass the inbox so a
	// full inbox never drops them; statusReady wakes the dispatch goroutine.
	statusQueue []Status
	statusReady chan struct{}

	writeMu sync.Mutex
	inbox   chan types.Frame
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(dialer Dialer, opts Options, logg *logger.Logger) (*Channel, error) {
	if dialer == nil {
		return nil, errors.New("dialer is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	opts = opts.withDefaults()
	return &Channel{
		dialer:      dialer,
		opts:        opts,
		logg:        logg,
		sleep:       sleepCtx,
		status:      Status{State: enums.ConnectionDisconnected},
		subs:        map[enums.EventKind][]*subscription{},
		watchers:    map[int]func(Status){},
		inbox:       make(chan types.Frame, opts.InboxSize),
		statusReady: make(chan struct{}, 1),
	}, nil
}

// Start begins connecting in the background and returns immediately.
func (c *Channel) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	c.setStatus(func(s *Status) {
		s.State = enums.ConnectionConnecting
		s.Error = ""
		s.Attempt = 0
	})

	c.wg.Add(2)
	go c.dispatchLoop(ctx)
	go c.connectLoop(ctx)
	return nil
}

// Subscribe registers handler for kind. The returned func removes it; no
// event dispatched after that call reaches the handler.
func (c *Channel) Subscribe(kind enums.EventKind, handler Handler) func() {
	sub := &subscription{handler: handler}
	sub.active.Store(true)

	c.mu.Lock()
	c.subs[kind] = append(c.subs[kind], sub)
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.active.Store(false)
			c.mu.Lock()
			defer c.mu.Unlock()
			list := c.subs[kind]
			for i, s := range list {
				if s == sub {
					c.subs[kind] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
		})
	}
}

// Watch registers listener for status changes. It is not called with the
// current status; use Status for that.
func (c *Channel) Watch(listener func(Status)) func() {
	c.mu.Lock()
	id := c.nextWatch
	c.nextWatch++
	c.watchers[id] = listener
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.watchers, id)
		c.mu.Unlock()
	}
}

func (c *Channel) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Send writes an event to the hub. Nothing is queued while disconnected.
func (c *Channel) Send(kind enums.EventKind, payload any) error {
	c.mu.RLock()
	transport := c.transport
	connected := c.status.Connected
	c.mu.RUnlock()
	if transport == nil || !connected {
		return ErrNotConnected
	}

	frame, err := types.NewFrame(kind, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", kind, err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return transport.Write(frame)
}

// Close tears the connection down and waits for the background goroutines.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel := c.cancel
	transport := c.transport
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if transport != nil {
		err = transport.Close()
	}
	c.wg.Wait()

	c.mu.Lock()
	c.transport = nil
	c.status = Status{State: enums.ConnectionDisconnected}
	c.mu.Unlock()
	return err
}

// backoff returns the delay before reconnect attempt n (1-based).
func (c *Channel) backoff(n int) time.Duration {
	d := c.opts.ReconnectBase
	for i := 1; i < n; i++ {
		d *= 2
		if d >= c.opts.ReconnectMax {
			return c.opts.ReconnectMax
		}
	}
	if d > c.opts.ReconnectMax {
		return c.opts.ReconnectMax
	}
	return d
}

func (c *Channel) connectLoop(ctx context.Context) {
	defer c.wg.Done()
	attempt := 0
	for {
		transport, err := c.dialer.Dial(ctx)
		if ctx.Err() != nil {
			if transport != nil {
				_ = transport.Close()
			}
			c.markStopped("")
			return
		}
		if err != nil {
			attempt++
			if !c.waitRetry(ctx, attempt, err) {
				return
			}
			continue
		}

		attempt = 0
		c.mu.Lock()
		if c.closed || ctx.Err() != nil {
			// Close already ran and cannot see this transport
			c.mu.Unlock()
			_ = transport.Close()
			c.markStopped("")
			return
		}
		c.transport = transport
		c.mu.Unlock()
		c.setStatus(func(s *Status) {
			s.State = enums.ConnectionConnected
			s.Connected = true
			s.Error = ""
			s.Attempt = 0
		})
		c.logg.Info(ctx, "channel connected")

		err = c.readLoop(ctx, transport)
		_ = transport.Close()
		c.mu.Lock()
		c.transport = nil
		c.mu.Unlock()
		if ctx.Err() != nil {
			c.markStopped("")
			return
		}

		c.logg.Warn(c.logg.WithField(ctx, "error", err.Error()), "channel transport dropped")
		attempt++
		if !c.waitRetry(ctx, attempt, err) {
			return
		}
	}
}

// waitRetry records a failed attempt and sleeps for its backoff. It returns
// false once the budget is spent or ctx is done.
func (c *Channel) waitRetry(ctx context.Context, attempt int, cause error) bool {
	if attempt > c.opts.ReconnectBudget {
		msg := fmt.Sprintf("gave up after %d reconnect attempts: %v", c.opts.ReconnectBudget, cause)
		c.logg.Error(ctx, "channel reconnect budget exhausted", cause)
		c.markStopped(msg)
		return false
	}
	c.setStatus(func(s *Status) {
		s.State = enums.ConnectionReconnecting
		s.Connected = false
		s.Error = cause.Error()
		s.SocketID = ""
		s.Attempt = attempt
	})
	if err := c.sleep(ctx, c.backoff(attempt)); err != nil {
		c.markStopped("")
		return false
	}
	return true
}

func (c *Channel) markStopped(errMsg string) {
	c.setStatus(func(s *Status) {
		s.State = enums.ConnectionDisconnected
		s.Connected = false
		s.SocketID = ""
		if errMsg != "" {
			s.Error = errMsg
		}
	})
}

func (c *Channel) readLoop(ctx context.Context, transport Transport) error {
	for {
		frame, err := transport.Read()
		if err != nil {
			return err
		}
		if frame.Event == enums.EventConnected {
			var greeting types.Connected
			if err := json.Unmarshal(frame.Data, &greeting); err == nil {
				c.setStatus(func(s *Status) { s.SocketID = greeting.SocketID })
			}
		}
		select {
		case c.inbox <- frame:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Channel) setStatus(mutate func(*Status)) {
	c.mu.Lock()
	next := c.status
	mutate(&next)
	if next == c.status {
		c.mu.Unlock()
		return
	}
	c.status = next
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.statusQueue = append(c.statusQueue, next)
	c.mu.Unlock()

	select {
	case c.statusReady <- struct{}{}:
	default:
	}
}

func (c *Channel) dispatchLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.statusReady:
			c.flushStatus(ctx)
		case frame := <-c.inbox:
			// a status queued before this frame was read goes out first
			c.flushStatus(ctx)
			c.dispatch(ctx, frame)
		}
	}
}

func (c *Channel) flushStatus(ctx context.Context) {
	c.mu.Lock()
	queued := c.statusQueue
	c.statusQueue = nil
	c.mu.Unlock()

	for _, status := range queued {
		c.notifyWatchers(ctx, status)
	}
}

func (c *Channel) dispatch(ctx context.Context, frame types.Frame) {
	c.mu.RLock()
	subs := append([]*subscription(nil), c.subs[frame.Event]...)
	c.mu.RUnlock()

	ctx = c.logg.WithEventKind(ctx, frame.Event.String())
	for _, sub := range subs {
		if !sub.active.Load() {
			continue
		}
		c.safeCall(ctx, func() { sub.handler(ctx, frame.Data) })
	}
}

func (c *Channel) notifyWatchers(ctx context.Context, status Status) {
	c.mu.RLock()
	listeners := make([]func(Status), 0, len(c.watchers))
	for _, l := range c.watchers {
		listeners = append(listeners, l)
	}
	c.mu.RUnlock()

	for _, l := range listeners {
		c.safeCall(ctx, func() { l(status) })
	}
}

func (c *Channel) safeCall(ctx context.Context, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logg.Error(ctx, "recovered channel handler panic", fmt.Errorf("panic: %v", r))
		}
	}()
	fn()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
