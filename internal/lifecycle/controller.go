package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/linklight/internal/bus"
	"github.com/nerrad567/linklight/internal/credentials"
	"github.com/nerrad567/linklight/internal/indicator"
	"github.com/nerrad567/linklight/internal/network"
)

// eventQueueSize bounds the control loop's inbox.
const eventQueueSize = 64

// DefaultStableSession is used when Options.StableSession is zero.
const DefaultStableSession = 30 * time.Second

// SessionClient is the two-layer network session the controller drives.
// All methods except the Is* queries and Events may block.
type SessionClient interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool
	ConnectBroker(ctx context.Context, host string, port int, user, pass string) error
	DisconnectBroker()
	IsBrokerConnected() bool
	Events() <-chan network.Event
}

// Publisher receives every committed Transition. bus.PubSubBus satisfies it.
type Publisher interface {
	Publish(topic string, msg any)
}

// Logger is the logging interface used by the controller.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Controller.
type Options struct {
	Association RetryPolicy
	Session     RetryPolicy

	// StableSession is how long a broker session must stay up before its
	// loss stops counting against the session policy.
	StableSession time.Duration

	// OnTransition runs synchronously on the control loop after each
	// commit. It must not block or call back into the controller.
	OnTransition func(Transition)

	// Bus, when set, receives each Transition on bus.TopicTransitions.
	Bus Publisher

	Logger Logger
}

// Controller owns the connectivity lifecycle state.
//
// All state changes happen on the goroutine running Run. Start, Stop and
// Reset enqueue a command on the same queue as network results, drop
// events and retry timers, and return once the loop has applied it.
type Controller struct {
	cfg      credentials.ConnectionConfig
	port     int
	client   SessionClient
	led      indicator.Driver
	assoc    RetryPolicy
	session  RetryPolicy
	stable   time.Duration
	hook     func(Transition)
	bus      Publisher
	logger   Logger
	now      func() time.Time
	events   chan event
	ops      *opWorker
	quit     chan struct{}
	quitOnce sync.Once
	running  atomic.Bool
	state    atomic.Uint32

	// Loop-owned.
	cur       State
	attempt   int
	epoch     uint64
	runCtx    context.Context
	cancelOp  context.CancelFunc
	retryTime *time.Timer
	activeAt  time.Time
	flaps     int
}

// New creates a controller in StateIdle. cfg is copied and never changes.
func New(cfg credentials.ConnectionConfig, client SessionClient, led indicator.Driver, opts Options) (*Controller, error) {
	if client == nil {
		return nil, errors.New("lifecycle: nil session client")
	}
	if led == nil {
		return nil, errors.New("lifecycle: nil indicator driver")
	}
	if err := opts.Association.Validate(); err != nil {
		return nil, fmt.Errorf("association policy: %w", err)
	}
	if err := opts.Session.Validate(); err != nil {
		return nil, fmt.Errorf("session policy: %w", err)
	}
	port := cfg.PortNumber()
	if port <= 0 {
		return nil, fmt.Errorf("lifecycle: broker port %q not validated", cfg.Port)
	}

	if opts.StableSession < 0 {
		return nil, fmt.Errorf("lifecycle: negative stable session %s", opts.StableSession)
	}
	stable := opts.StableSession
	if stable == 0 {
		stable = DefaultStableSession
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	c := &Controller{
		cfg:     cfg,
		port:    port,
		client:  client,
		led:     led,
		assoc:   opts.Association,
		session: opts.Session,
		stable:  stable,
		hook:    opts.OnTransition,
		bus:     opts.Bus,
		logger:  logger,
		now:     time.Now,
		events:  make(chan event, eventQueueSize),
		ops:     newOpWorker(),
		quit:    make(chan struct{}),
		cur:     StateIdle,
	}
	c.state.Store(uint32(StateIdle))
	return c, nil
}

// State returns the last committed state. Safe from any goroutine.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Start leaves StateIdle and begins association. No-op in any other state.
func (c *Controller) Start() error { return c.command(cmdStart) }

// Stop returns to StateIdle from any state, tearing down both layers and
// discarding pending retries and in-flight results.
func (c *Controller) Stop() error { return c.command(cmdStop) }

// Reset moves StateFaulted to StateIdle. No-op in any other state.
func (c *Controller) Reset() error { return c.command(cmdReset) }

func (c *Controller) command(kind commandKind) error {
	cmd := command{kind: kind, applied: make(chan struct{})}
	if !c.post(cmd) {
		return ErrClosed
	}
	select {
	case <-cmd.applied:
		return nil
	case <-c.quit:
		return ErrClosed
	}
}

// post enqueues ev unless the loop has exited.
func (c *Controller) post(ev event) bool {
	select {
	case <-c.quit:
		return false
	default:
	}
	select {
	case c.events <- ev:
		return true
	case <-c.quit:
		return false
	}
}

// Run is the control loop. It returns when ctx is cancelled, after
// returning the controller to StateIdle.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	c.runCtx = ctx
	c.led.SetColor(indicator.Off)
	c.led.SetPower(false)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.ops.run(c.quit)
	}()
	go func() {
		defer wg.Done()
		c.forwardDrops()
	}()

	c.logger.Info("lifecycle controller started")

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case ev := <-c.events:
			c.handle(ev)
		}
	}

	c.quitOnce.Do(func() { close(c.quit) })
	c.abandonAttempt()
	wg.Wait()

	// The worker is gone; tear down inline.
	if c.cur != StateIdle {
		c.client.DisconnectBroker()
		c.client.Disconnect()
		c.commit(StateIdle, CauseShutdown, nil)
	}
	c.logger.Info("lifecycle controller stopped")
	return nil
}

func (c *Controller) forwardDrops() {
	drops := c.client.Events()
	for {
		select {
		case <-c.quit:
			return
		case ev, ok := <-drops:
			if !ok {
				return
			}
			c.post(dropped{ev})
		}
	}
}

func (c *Controller) handle(ev event) {
	switch ev := ev.(type) {
	case command:
		c.handleCommand(ev.kind)
		close(ev.applied)
	case opResult:
		if ev.epoch != c.epoch {
			c.logger.Debug("discarding stale result", "op", ev.op, "epoch", ev.epoch, "current", c.epoch)
			return
		}
		c.handleResult(ev)
	case retryDue:
		if ev.epoch != c.epoch {
			c.logger.Debug("discarding stale retry", "epoch", ev.epoch, "current", c.epoch)
			return
		}
		c.handleRetry()
	case reconnectDue:
		if ev.epoch != c.epoch || c.cur != StateSessionConnecting {
			c.logger.Debug("discarding stale reconnect", "epoch", ev.epoch, "current", c.epoch)
			return
		}
		c.retryTime = nil
		c.submitConnectBroker()
	case dropped:
		c.handleDrop(ev.Event)
	}
}

func (c *Controller) handleCommand(kind commandKind) {
	switch kind {
	case cmdStart:
		if c.cur != StateIdle {
			c.logger.Debug("start ignored", "state", c.cur.String())
			return
		}
		c.enterAssociating(CauseStart, nil)

	case cmdStop:
		c.abandonAttempt()
		if c.cur == StateIdle {
			return
		}
		c.teardown()
		c.commit(StateIdle, CauseStop, nil)

	case cmdReset:
		if c.cur != StateFaulted {
			c.logger.Debug("reset ignored", "state", c.cur.String())
			return
		}
		c.commit(StateIdle, CauseReset, nil)
	}
}

func (c *Controller) handleResult(res opResult) {
	switch res.op {
	case opAssociate:
		if c.cur != StateAssociating {
			return
		}
		if res.err != nil {
			c.fail(c.assoc, res.err)
			return
		}
		c.commit(StateAssociated, CauseAssociated, nil)
		c.enterSessionConnecting(CauseSessionStart, nil)

	case opConnectBroker:
		if c.cur != StateSessionConnecting {
			return
		}
		if res.err != nil {
			c.fail(c.session, res.err)
			return
		}
		// A loss reported before this result was ignored in session_connecting.
		if !c.client.IsBrokerConnected() {
			c.fail(c.session, ErrSessionLost)
			return
		}
		c.activeAt = c.now()
		c.commit(StateSessionActive, CauseSessionUp, nil)
	}
}

// fail handles a failed attempt in the current retrying state.
func (c *Controller) fail(policy RetryPolicy, err error) {
	c.logger.Warn("attempt failed",
		"state", c.cur.String(),
		"attempt", c.attempt,
		"max_attempts", policy.MaxAttempts,
		"error", err,
	)

	if policy.Exhausted(c.attempt) {
		c.abandonAttempt()
		c.teardown()
		c.commit(StateFaulted, CauseExhausted, fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, c.attempt, err))
		return
	}

	delay := policy.Backoff(c.attempt)
	epoch := c.epoch
	c.logger.Info("retry scheduled", "state", c.cur.String(), "delay", delay, "next_attempt", c.attempt+1)
	c.retryTime = time.AfterFunc(delay, func() {
		c.post(retryDue{epoch: epoch})
	})
}

func (c *Controller) handleRetry() {
	c.retryTime = nil
	switch c.cur {
	case StateAssociating:
		c.attempt++
		c.commit(StateAssociating, CauseRetry, nil)
		c.submitAssociate()
	case StateSessionConnecting:
		c.attempt++
		c.commit(StateSessionConnecting, CauseRetry, nil)
		c.submitConnectBroker()
	}
}

func (c *Controller) handleDrop(ev network.Event) {
	switch {
	case c.cur == StateSessionActive && ev.Layer == network.LayerLink:
		c.abandonAttempt()
		c.commit(StateDegraded, CauseLinkDrop, ev.Err)
		c.ops.submit(c.client.DisconnectBroker)
		c.enterAssociating(CauseRecover, nil)

	case c.cur == StateSessionActive && ev.Layer == network.LayerBroker:
		c.abandonAttempt()
		c.recoverSession(ev.Err)

	case (c.cur == StateAssociated || c.cur == StateSessionConnecting) && ev.Layer == network.LayerLink:
		c.abandonAttempt()
		c.ops.submit(c.client.DisconnectBroker)
		c.enterAssociating(CauseLinkDrop, ev.Err)

	default:
		c.logger.Debug("drop ignored", "state", c.cur.String(), "layer", ev.Layer.String(), "error", ev.Err)
	}
}

// recoverSession handles the loss of an established broker session.
// Sessions shorter than the stable period count as consecutive flaps:
// each one delays the reconnect by Backoff(flaps) and the session policy
// faults the controller once they are exhausted.
func (c *Controller) recoverSession(dropErr error) {
	uptime := c.now().Sub(c.activeAt)
	if uptime < c.stable {
		c.flaps++
	} else {
		c.flaps = 0
	}

	c.commit(StateDegraded, CauseBrokerDrop, dropErr)
	if c.flaps == 0 {
		c.enterSessionConnecting(CauseRecover, nil)
		return
	}

	c.attempt = 1
	c.commit(StateSessionConnecting, CauseRecover, nil)
	c.logger.Warn("broker session unstable",
		"uptime", uptime,
		"flaps", c.flaps,
		"max_attempts", c.session.MaxAttempts,
	)
	if c.session.Exhausted(c.flaps) {
		c.teardown()
		c.commit(StateFaulted, CauseExhausted,
			fmt.Errorf("%w after %d short sessions: %w", ErrRetryExhausted, c.flaps, ErrSessionUnstable))
		return
	}

	delay := c.session.Backoff(c.flaps)
	epoch := c.epoch
	c.logger.Info("reconnect scheduled", "delay", delay)
	c.retryTime = time.AfterFunc(delay, func() {
		c.post(reconnectDue{epoch: epoch})
	})
}

// enterAssociating freshly enters StateAssociating and submits attempt 1.
func (c *Controller) enterAssociating(cause string, err error) {
	c.attempt = 1
	c.commit(StateAssociating, cause, err)
	c.submitAssociate()
}

// enterSessionConnecting freshly enters StateSessionConnecting and submits attempt 1.
func (c *Controller) enterSessionConnecting(cause string, err error) {
	c.attempt = 1
	c.commit(StateSessionConnecting, cause, err)
	c.submitConnectBroker()
}

func (c *Controller) submitAssociate() {
	epoch, ctx := c.newAttempt()
	c.ops.submit(func() {
		err := c.client.Connect(ctx)
		c.post(opResult{op: opAssociate, epoch: epoch, err: err})
	})
}

func (c *Controller) submitConnectBroker() {
	epoch, ctx := c.newAttempt()
	cfg, port := c.cfg, c.port
	c.ops.submit(func() {
		err := c.client.ConnectBroker(ctx, cfg.Host, port, cfg.MQTTUser, cfg.MQTTPass)
		c.post(opResult{op: opConnectBroker, epoch: epoch, err: err})
	})
}

// newAttempt starts a new epoch with its own cancellable context.
func (c *Controller) newAttempt() (uint64, context.Context) {
	c.abandonAttempt()
	ctx, cancel := context.WithCancel(c.runCtx)
	c.cancelOp = cancel
	return c.epoch, ctx
}

// abandonAttempt invalidates every pending result and timer.
func (c *Controller) abandonAttempt() {
	c.epoch++
	if c.cancelOp != nil {
		c.cancelOp()
		c.cancelOp = nil
	}
	if c.retryTime != nil {
		c.retryTime.Stop()
		c.retryTime = nil
	}
}

// teardown queues a best-effort disconnect of both layers.
func (c *Controller) teardown() {
	c.ops.submit(func() {
		c.client.DisconnectBroker()
		c.client.Disconnect()
	})
}

// commit records the new state, drives the indicator and publishes the
// transition before the next event is handled.
func (c *Controller) commit(to State, cause string, err error) {
	from := c.cur
	c.cur = to
	c.state.Store(uint32(to))

	color, power := IndicatorFor(to)
	c.led.SetColor(color)
	c.led.SetPower(power)

	if to == StateIdle || to == StateSessionActive {
		c.attempt = 0
	}
	if to == StateIdle {
		c.flaps = 0
	}
	tr := Transition{
		From:    from,
		To:      to,
		Cause:   cause,
		Attempt: c.attempt,
		At:      c.now().UTC(),
	}
	if err != nil {
		tr.Err = err.Error()
	}

	args := []any{"from", from.String(), "to", to.String(), "cause", cause}
	if tr.Attempt > 0 {
		args = append(args, "attempt", tr.Attempt)
	}
	if err != nil {
		args = append(args, "error", err)
	}
	if to == StateFaulted {
		c.logger.Error("state transition", args...)
	} else {
		c.logger.Info("state transition", args...)
	}

	if c.hook != nil {
		c.hook(tr)
	}
	if c.bus != nil {
		c.bus.Publish(bus.TopicTransitions, tr)
	}
}

type event any

type commandKind uint8

const (
	cmdStart commandKind = iota + 1
	cmdStop
	cmdReset
)

type command struct {
	kind    commandKind
	applied chan struct{}
}

type opKind string

const (
	opAssociate     opKind = "associate"
	opConnectBroker opKind = "connect_broker"
)

type opResult struct {
	op    opKind
	epoch uint64
	err   error
}

type retryDue struct {
	epoch uint64
}

type reconnectDue struct {
	epoch uint64
}

type dropped struct {
	network.Event
}
