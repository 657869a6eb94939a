package lifecycle

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/linklight/internal/bus"
	"github.com/nerrad567/linklight/internal/credentials"
	"github.com/nerrad567/linklight/internal/indicator"
	"github.com/nerrad567/linklight/internal/network"
)

var errRefused = errors.New("refused")

// fakeClient is a SessionClient whose connect calls block until the test
// feeds a result.
type fakeClient struct {
	associate chan error
	broker    chan error
	events    chan network.Event

	linkUp   atomic.Bool
	brokerUp atomic.Bool

	// brokerDies makes a successful ConnectBroker leave no live session,
	// as when the session is lost before its result is handled.
	brokerDies atomic.Bool

	connects          atomic.Int32
	brokerConnects    atomic.Int32
	disconnects       atomic.Int32
	brokerDisconnects atomic.Int32

	mu       sync.Mutex
	lastHost string
	lastPort int
	lastCtx  context.Context
	brokerAt []time.Time
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		associate: make(chan error, 16),
		broker:    make(chan error, 16),
		events:    make(chan network.Event, 4),
	}
}

func (f *fakeClient) Connect(ctx context.Context) error {
	f.mu.Lock()
	f.lastCtx = ctx
	f.mu.Unlock()
	f.connects.Add(1)
	select {
	case err := <-f.associate:
		if err == nil {
			f.linkUp.Store(true)
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeClient) Disconnect() {
	f.disconnects.Add(1)
	f.linkUp.Store(false)
}

func (f *fakeClient) IsConnected() bool { return f.linkUp.Load() }

func (f *fakeClient) ConnectBroker(ctx context.Context, host string, port int, _, _ string) error {
	f.mu.Lock()
	f.lastHost, f.lastPort, f.lastCtx = host, port, ctx
	f.brokerAt = append(f.brokerAt, time.Now())
	f.mu.Unlock()
	f.brokerConnects.Add(1)
	select {
	case err := <-f.broker:
		if err == nil && !f.brokerDies.Load() {
			f.brokerUp.Store(true)
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeClient) DisconnectBroker() {
	f.brokerDisconnects.Add(1)
	f.brokerUp.Store(false)
}

func (f *fakeClient) IsBrokerConnected() bool { return f.brokerUp.Load() }

func (f *fakeClient) Events() <-chan network.Event { return f.events }

func (f *fakeClient) brokerCallTimes() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.brokerAt...)
}

// recordingLogger counts Info messages by text.
type recordingLogger struct {
	noopLogger
	mu   sync.Mutex
	info map[string]int
}

func (r *recordingLogger) Info(msg string, _ ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.info == nil {
		r.info = make(map[string]int)
	}
	r.info[msg]++
}

func (r *recordingLogger) count(msg string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.info[msg]
}

// recordingLED records every command in order.
type recordingLED struct {
	mu     sync.Mutex
	colors []indicator.Color
	color  indicator.Color
	power  bool
}

func (r *recordingLED) SetPower(on bool) {
	r.mu.Lock()
	r.power = on
	r.mu.Unlock()
}

func (r *recordingLED) SetColor(c indicator.Color) {
	r.mu.Lock()
	r.color = c
	r.colors = append(r.colors, c)
	r.mu.Unlock()
}

func (r *recordingLED) current() (indicator.Color, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.color, r.power
}

func (r *recordingLED) sawBefore(first, then indicator.Color) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, c := range r.colors {
		if c != first {
			continue
		}
		for _, later := range r.colors[i+1:] {
			if later == then {
				return true
			}
		}
	}
	return false
}

type harness struct {
	t      *testing.T
	ctrl   *Controller
	client *fakeClient
	led    *recordingLED
	trs    chan Transition
	cancel context.CancelFunc
	runErr chan error
	once   sync.Once

	// mismatch records any transition whose indicator did not match.
	mismatch atomic.Value
}

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func testConfig() credentials.ConnectionConfig {
	return credentials.ConnectionConfig{
		SSID:     "home",
		Password: "password1",
		MQTTUser: "device",
		MQTTPass: "secret",
		Host:     "broker.local",
		Port:     "1883",
	}
}

func newHarness(t *testing.T, assoc, session RetryPolicy, opts ...func(*Options)) *harness {
	t.Helper()

	h := &harness{
		t:      t,
		client: newFakeClient(),
		led:    &recordingLED{},
		trs:    make(chan Transition, 256),
		runErr: make(chan error, 1),
	}

	o := Options{
		Association: assoc,
		Session:     session,
		OnTransition: func(tr Transition) {
			color, power := h.led.current()
			wantColor, wantPower := IndicatorFor(tr.To)
			if color != wantColor || power != wantPower {
				h.mismatch.Store(tr.To.String())
			}
			h.trs <- tr
		},
	}
	for _, opt := range opts {
		opt(&o)
	}
	ctrl, err := New(testConfig(), h.client, h.led, o)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.ctrl = ctrl

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.runErr <- ctrl.Run(ctx) }()

	t.Cleanup(func() {
		h.shutdown()
		if s, ok := h.mismatch.Load().(string); ok {
			t.Errorf("indicator did not match state %s at commit", s)
		}
	})
	return h
}

func (h *harness) shutdown() {
	h.once.Do(func() {
		h.cancel()
		select {
		case <-h.runErr:
		case <-time.After(2 * time.Second):
			h.t.Error("Run did not return after cancel")
		}
	})
}

// next returns the next published transition.
func (h *harness) next() Transition {
	h.t.Helper()
	select {
	case tr := <-h.trs:
		return tr
	case <-time.After(2 * time.Second):
		h.t.Fatalf("timed out waiting for transition (state %s)", h.ctrl.State())
		return Transition{}
	}
}

// expect asserts the next transition goes to want and returns it.
func (h *harness) expect(want State, cause string) Transition {
	h.t.Helper()
	tr := h.next()
	if tr.To != want || (cause != "" && tr.Cause != cause) {
		h.t.Fatalf("transition = %s -> %s (%s), want -> %s (%s)", tr.From, tr.To, tr.Cause, want, cause)
	}
	return tr
}

func (h *harness) noTransition() {
	h.t.Helper()
	select {
	case tr := <-h.trs:
		h.t.Fatalf("unexpected transition %s -> %s (%s)", tr.From, tr.To, tr.Cause)
	case <-time.After(30 * time.Millisecond):
	}
}

func (h *harness) start() {
	h.t.Helper()
	if err := h.ctrl.Start(); err != nil {
		h.t.Fatalf("Start() error = %v", err)
	}
	h.expect(StateAssociating, CauseStart)
}

// toSessionActive drives the controller from idle to session_active.
func (h *harness) toSessionActive() {
	h.t.Helper()
	h.start()
	h.client.associate <- nil
	h.expect(StateAssociated, CauseAssociated)
	h.expect(StateSessionConnecting, CauseSessionStart)
	h.client.broker <- nil
	h.expect(StateSessionActive, CauseSessionUp)
}

// toFaulted exhausts a single-attempt association policy.
func (h *harness) toFaulted() {
	h.t.Helper()
	h.start()
	h.client.associate <- errRefused
	h.expect(StateFaulted, CauseExhausted)
}

func TestNew_Validation(t *testing.T) {
	good := fastPolicy(3)
	client, led := newFakeClient(), &recordingLED{}

	tests := []struct {
		name   string
		cfg    credentials.ConnectionConfig
		client SessionClient
		led    indicator.Driver
		assoc  RetryPolicy
	}{
		{"bad policy", testConfig(), client, led, RetryPolicy{}},
		{"unvalidated port", credentials.ConnectionConfig{Host: "h"}, client, led, good},
		{"nil client", testConfig(), nil, led, good},
		{"nil led", testConfig(), client, nil, good},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg, tt.client, tt.led, Options{Association: tt.assoc, Session: good}); err == nil {
				t.Error("New() expected error")
			}
		})
	}

	t.Run("negative stable session", func(t *testing.T) {
		_, err := New(testConfig(), client, led, Options{Association: good, Session: good, StableSession: -time.Second})
		if err == nil {
			t.Error("New() expected error")
		}
	})
}

func TestController_InitialState(t *testing.T) {
	h := newHarness(t, fastPolicy(3), fastPolicy(3))

	if got := h.ctrl.State(); got != StateIdle {
		t.Errorf("State() = %s, want idle", got)
	}
	if color, power := h.led.current(); color != indicator.Off || power {
		t.Errorf("indicator = (%s, %v), want (off, false)", color, power)
	}
}

func TestController_HappyPath(t *testing.T) {
	h := newHarness(t, fastPolicy(3), fastPolicy(3))
	h.toSessionActive()

	if got := h.ctrl.State(); got != StateSessionActive {
		t.Errorf("State() = %s, want session_active", got)
	}
	if color, power := h.led.current(); color != indicator.Green || !power {
		t.Errorf("indicator = (%s, %v), want (green, true)", color, power)
	}

	h.client.mu.Lock()
	host, port := h.client.lastHost, h.client.lastPort
	h.client.mu.Unlock()
	if host != "broker.local" || port != 1883 {
		t.Errorf("ConnectBroker(%s, %d), want broker.local:1883", host, port)
	}
}

func TestController_AssociationFailuresReachFaulted(t *testing.T) {
	const attempts = 4
	h := newHarness(t, fastPolicy(attempts), fastPolicy(3))
	h.start()

	for k := 1; k < attempts; k++ {
		h.client.associate <- errRefused
		tr := h.expect(StateAssociating, CauseRetry)
		if tr.Attempt != k+1 {
			t.Fatalf("retry attempt = %d, want %d", tr.Attempt, k+1)
		}
		if h.ctrl.State() == StateFaulted {
			t.Fatalf("faulted after %d failures, want %d", k, attempts)
		}
	}

	h.client.associate <- errRefused
	tr := h.expect(StateFaulted, CauseExhausted)

	if got := h.client.connects.Load(); got != attempts {
		t.Errorf("Connect called %d times, want %d", got, attempts)
	}
	if tr.Attempt != attempts {
		t.Errorf("faulted attempt = %d, want %d", tr.Attempt, attempts)
	}
	if !strings.Contains(tr.Err, ErrRetryExhausted.Error()) || !strings.Contains(tr.Err, errRefused.Error()) {
		t.Errorf("faulted Err = %q, want retry exhausted wrapping cause", tr.Err)
	}
	if color, power := h.led.current(); color != indicator.Red || !power {
		t.Errorf("indicator = (%s, %v), want (red, true)", color, power)
	}

	// No further automatic attempts.
	h.noTransition()
	if got := h.client.connects.Load(); got != attempts {
		t.Errorf("Connect called %d times after fault, want %d", got, attempts)
	}
}

func TestController_SessionFailuresReachFaulted(t *testing.T) {
	h := newHarness(t, fastPolicy(3), fastPolicy(2))
	h.start()
	h.client.associate <- nil
	h.expect(StateAssociated, CauseAssociated)
	h.expect(StateSessionConnecting, CauseSessionStart)

	h.client.broker <- errRefused
	h.expect(StateSessionConnecting, CauseRetry)
	h.client.broker <- errRefused
	h.expect(StateFaulted, CauseExhausted)

	if got := h.client.brokerConnects.Load(); got != 2 {
		t.Errorf("ConnectBroker called %d times, want 2", got)
	}
	waitFor(t, func() bool { return h.client.disconnects.Load() > 0 && h.client.brokerDisconnects.Load() > 0 })
}

func TestController_RetryCounterResetsOnFreshEntry(t *testing.T) {
	h := newHarness(t, fastPolicy(2), fastPolicy(3))
	h.start()

	h.client.associate <- errRefused
	h.expect(StateAssociating, CauseRetry)
	h.client.associate <- nil
	h.expect(StateAssociated, CauseAssociated)
	h.expect(StateSessionConnecting, CauseSessionStart)
	h.client.broker <- nil
	h.expect(StateSessionActive, CauseSessionUp)

	// A fresh entry into associating gets the full budget again.
	h.client.events <- network.Event{Layer: network.LayerLink, Err: network.ErrLinkDown}
	h.expect(StateDegraded, CauseLinkDrop)
	if tr := h.expect(StateAssociating, CauseRecover); tr.Attempt != 1 {
		t.Fatalf("attempt after fresh entry = %d, want 1", tr.Attempt)
	}
	h.client.associate <- errRefused
	h.expect(StateAssociating, CauseRetry)
}

func TestController_LinkDropFromSessionActive(t *testing.T) {
	h := newHarness(t, fastPolicy(3), fastPolicy(3))
	h.toSessionActive()

	h.client.events <- network.Event{Layer: network.LayerLink, Err: network.ErrLinkDown}

	degraded := h.expect(StateDegraded, CauseLinkDrop)
	if degraded.From != StateSessionActive {
		t.Errorf("degraded From = %s, want session_active", degraded.From)
	}
	if degraded.Err == "" {
		t.Error("degraded transition carries no error")
	}
	recovering := h.expect(StateAssociating, CauseRecover)
	if recovering.From != StateDegraded {
		t.Errorf("recovery From = %s, want degraded", recovering.From)
	}

	if !h.led.sawBefore(indicator.Red, indicator.Blue) {
		t.Error("indicator never showed red before re-association")
	}
	waitFor(t, func() bool { return h.client.brokerDisconnects.Load() > 0 })
	waitFor(t, func() bool { return h.client.connects.Load() == 2 })
}

func TestController_BrokerDropFromSessionActive(t *testing.T) {
	h := newHarness(t, fastPolicy(3), fastPolicy(3))
	h.toSessionActive()

	h.client.events <- network.Event{Layer: network.LayerBroker, Err: errors.New("keepalive")}

	h.expect(StateDegraded, CauseBrokerDrop)
	h.expect(StateSessionConnecting, CauseRecover)

	if !h.led.sawBefore(indicator.Red, indicator.Blue) {
		t.Error("indicator never showed red before reconnecting")
	}
	waitFor(t, func() bool { return h.client.brokerConnects.Load() == 2 })
	if got := h.client.connects.Load(); got != 1 {
		t.Errorf("link re-associated on broker drop: %d connects", got)
	}

	h.client.broker <- nil
	h.expect(StateSessionActive, CauseSessionUp)
}

func TestController_BrokerFlappingReachesFaulted(t *testing.T) {
	const attempts = 3
	h := newHarness(t, fastPolicy(3), fastPolicy(attempts))
	h.toSessionActive()

	// Every session drops straight after it comes up.
	for flap := 1; flap < attempts; flap++ {
		h.client.events <- network.Event{Layer: network.LayerBroker, Err: errors.New("connection reset")}
		h.expect(StateDegraded, CauseBrokerDrop)
		if tr := h.expect(StateSessionConnecting, CauseRecover); tr.Attempt != 1 {
			t.Errorf("flap %d: attempt = %d, want 1", flap, tr.Attempt)
		}
		waitFor(t, func() bool { return h.client.brokerConnects.Load() == int32(flap+1) })
		h.client.broker <- nil
		h.expect(StateSessionActive, CauseSessionUp)
	}

	h.client.events <- network.Event{Layer: network.LayerBroker, Err: errors.New("connection reset")}
	h.expect(StateDegraded, CauseBrokerDrop)
	h.expect(StateSessionConnecting, CauseRecover)
	tr := h.expect(StateFaulted, CauseExhausted)
	if !strings.Contains(tr.Err, "unstable") {
		t.Errorf("faulted error = %q, want unstable session", tr.Err)
	}
	h.noTransition()

	if got := h.client.brokerConnects.Load(); got != attempts {
		t.Errorf("broker connects = %d, want %d", got, attempts)
	}
	waitFor(t, func() bool { return h.client.disconnects.Load() > 0 })
}

func TestController_BrokerFlapBackoff(t *testing.T) {
	session := RetryPolicy{MaxAttempts: 5, InitialDelay: 40 * time.Millisecond, MaxDelay: 200 * time.Millisecond, Multiplier: 2}
	h := newHarness(t, fastPolicy(3), session)
	h.toSessionActive()

	h.client.events <- network.Event{Layer: network.LayerBroker, Err: errors.New("connection reset")}
	h.expect(StateDegraded, CauseBrokerDrop)
	recovering := h.expect(StateSessionConnecting, CauseRecover)

	waitFor(t, func() bool { return h.client.brokerConnects.Load() == 2 })
	calls := h.client.brokerCallTimes()
	if gap := calls[1].Sub(recovering.At); gap < session.Backoff(1) {
		t.Errorf("reconnect after %v, want at least %v", gap, session.Backoff(1))
	}
	h.client.broker <- nil
	h.expect(StateSessionActive, CauseSessionUp)
}

func TestController_StableSessionClearsFlaps(t *testing.T) {
	const stable = 5 * time.Millisecond
	h := newHarness(t, fastPolicy(3), fastPolicy(2), func(o *Options) { o.StableSession = stable })
	h.toSessionActive()

	for i := range 3 {
		time.Sleep(2 * stable)
		h.client.events <- network.Event{Layer: network.LayerBroker, Err: errors.New("keepalive")}
		h.expect(StateDegraded, CauseBrokerDrop)
		h.expect(StateSessionConnecting, CauseRecover)
		waitFor(t, func() bool { return h.client.brokerConnects.Load() == int32(i+2) })
		h.client.broker <- nil
		h.expect(StateSessionActive, CauseSessionUp)
	}
}

func TestController_BrokerLostBeforeHandshakeResult(t *testing.T) {
	h := newHarness(t, fastPolicy(3), fastPolicy(3))
	h.start()
	h.client.associate <- nil
	h.expect(StateAssociated, CauseAssociated)
	h.expect(StateSessionConnecting, CauseSessionStart)
	waitFor(t, func() bool { return h.client.brokerConnects.Load() == 1 })

	// The session is lost while its handshake result is still in flight.
	h.client.brokerDies.Store(true)
	h.client.events <- network.Event{Layer: network.LayerBroker, Err: errors.New("closed by peer")}
	h.client.broker <- nil

	if tr := h.expect(StateSessionConnecting, CauseRetry); tr.Attempt != 2 {
		t.Errorf("attempt = %d, want 2", tr.Attempt)
	}
	if got := h.ctrl.State(); got == StateSessionActive {
		t.Fatal("controller reported session_active without a session")
	}

	h.client.brokerDies.Store(false)
	h.client.broker <- nil
	h.expect(StateSessionActive, CauseSessionUp)
}

func TestController_LogsEachTransitionOnce(t *testing.T) {
	logger := &recordingLogger{}
	h := newHarness(t, fastPolicy(3), fastPolicy(3), func(o *Options) { o.Logger = logger })
	h.toSessionActive()

	// idle->associating, associating->associated, associated->session_connecting,
	// session_connecting->session_active
	if got := logger.count("state transition"); got != 4 {
		t.Errorf("state transition logged %d times, want 4", got)
	}
}

func TestController_LinkDropWhileSessionConnecting(t *testing.T) {
	h := newHarness(t, fastPolicy(3), fastPolicy(3))
	h.start()
	h.client.associate <- nil
	h.expect(StateAssociated, CauseAssociated)
	h.expect(StateSessionConnecting, CauseSessionStart)
	waitFor(t, func() bool { return h.client.brokerConnects.Load() == 1 })

	h.client.events <- network.Event{Layer: network.LayerLink, Err: network.ErrLinkDown}
	tr := h.expect(StateAssociating, CauseLinkDrop)
	if tr.Attempt != 1 {
		t.Errorf("attempt = %d, want 1", tr.Attempt)
	}

	// The abandoned handshake was cancelled.
	waitFor(t, func() bool { return h.client.connects.Load() == 2 })
}

func TestController_DropsIgnored(t *testing.T) {
	h := newHarness(t, fastPolicy(3), fastPolicy(3))

	h.client.events <- network.Event{Layer: network.LayerLink}
	h.noTransition()

	h.start()
	h.client.events <- network.Event{Layer: network.LayerBroker}
	h.noTransition()
	if got := h.ctrl.State(); got != StateAssociating {
		t.Errorf("State() = %s, want associating", got)
	}
}

func TestController_StopFromAnyState(t *testing.T) {
	tests := []struct {
		name  string
		drive func(h *harness)
		want  State
	}{
		{"idle", func(*harness) {}, StateIdle},
		{"associating", func(h *harness) { h.start() }, StateAssociating},
		{"associating in backoff", func(h *harness) {
			h.start()
			h.client.associate <- errRefused
			h.expect(StateAssociating, CauseRetry)
		}, StateAssociating},
		{"session connecting", func(h *harness) {
			h.start()
			h.client.associate <- nil
			h.expect(StateAssociated, CauseAssociated)
			h.expect(StateSessionConnecting, CauseSessionStart)
		}, StateSessionConnecting},
		{"session active", func(h *harness) { h.toSessionActive() }, StateSessionActive},
		{"faulted", func(h *harness) { h.toFaulted() }, StateFaulted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assoc := fastPolicy(3)
			if tt.want == StateFaulted {
				assoc = fastPolicy(1)
			}
			h := newHarness(t, assoc, fastPolicy(3))
			tt.drive(h)
			if got := h.ctrl.State(); got != tt.want {
				t.Fatalf("precondition: State() = %s, want %s", got, tt.want)
			}

			if err := h.ctrl.Stop(); err != nil {
				t.Fatalf("Stop() error = %v", err)
			}
			if got := h.ctrl.State(); got != StateIdle {
				t.Errorf("State() after Stop = %s, want idle", got)
			}
			if color, power := h.led.current(); color != indicator.Off || power {
				t.Errorf("indicator after Stop = (%s, %v), want (off, false)", color, power)
			}
			if tt.want != StateIdle {
				h.expect(StateIdle, CauseStop)
				waitFor(t, func() bool { return h.client.disconnects.Load() > 0 && h.client.brokerDisconnects.Load() > 0 })
			}
			h.noTransition()
		})
	}
}

func TestController_StopDiscardsInFlightResult(t *testing.T) {
	h := newHarness(t, fastPolicy(3), fastPolicy(3))
	h.start()
	waitFor(t, func() bool { return h.client.connects.Load() == 1 })

	if err := h.ctrl.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	h.expect(StateIdle, CauseStop)

	h.client.mu.Lock()
	ctx := h.client.lastCtx
	h.client.mu.Unlock()
	waitFor(t, func() bool { return ctx.Err() != nil })

	h.noTransition()
	if got := h.ctrl.State(); got != StateIdle {
		t.Errorf("State() = %s, want idle", got)
	}
}

func TestController_StopPreemptsBackoff(t *testing.T) {
	slow := RetryPolicy{MaxAttempts: 3, InitialDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 1}
	h := newHarness(t, slow, fastPolicy(3))
	h.start()
	h.client.associate <- errRefused
	waitFor(t, func() bool { return h.client.connects.Load() == 1 && len(h.client.associate) == 0 })

	if err := h.ctrl.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	h.expect(StateIdle, CauseStop)

	// A new start does not wait for the old hour-long backoff.
	if err := h.ctrl.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if tr := h.expect(StateAssociating, CauseStart); tr.Attempt != 1 {
		t.Errorf("attempt = %d, want 1", tr.Attempt)
	}
	waitFor(t, func() bool { return h.client.connects.Load() == 2 })
}

func TestController_ResetOnlyFromFaulted(t *testing.T) {
	tests := []struct {
		name  string
		drive func(h *harness)
		want  State
	}{
		{"idle", func(*harness) {}, StateIdle},
		{"associating", func(h *harness) { h.start() }, StateAssociating},
		{"session active", func(h *harness) { h.toSessionActive() }, StateSessionActive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, fastPolicy(3), fastPolicy(3))
			tt.drive(h)

			for range 2 {
				if err := h.ctrl.Reset(); err != nil {
					t.Fatalf("Reset() error = %v", err)
				}
				if got := h.ctrl.State(); got != tt.want {
					t.Fatalf("State() after Reset = %s, want %s", got, tt.want)
				}
			}
			h.noTransition()
		})
	}

	t.Run("faulted", func(t *testing.T) {
		h := newHarness(t, fastPolicy(1), fastPolicy(3))
		h.toFaulted()

		if err := h.ctrl.Reset(); err != nil {
			t.Fatalf("Reset() error = %v", err)
		}
		h.expect(StateIdle, CauseReset)
		if color, power := h.led.current(); color != indicator.Off || power {
			t.Errorf("indicator after Reset = (%s, %v), want (off, false)", color, power)
		}

		// Start works again after reset.
		h.start()
	})
}

func TestController_StartIgnoredOutsideIdle(t *testing.T) {
	h := newHarness(t, fastPolicy(3), fastPolicy(3))
	h.start()

	if err := h.ctrl.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	h.noTransition()
	if got := h.client.connects.Load(); got != 1 {
		t.Errorf("Connect called %d times, want 1", got)
	}
}

func TestController_ShutdownReturnsToIdle(t *testing.T) {
	h := newHarness(t, fastPolicy(3), fastPolicy(3))
	h.toSessionActive()

	h.shutdown()

	if got := h.ctrl.State(); got != StateIdle {
		t.Errorf("State() after shutdown = %s, want idle", got)
	}
	h.expect(StateIdle, CauseShutdown)
	if h.client.disconnects.Load() == 0 || h.client.brokerDisconnects.Load() == 0 {
		t.Error("layers not torn down on shutdown")
	}

	for name, cmd := range map[string]func() error{"Start": h.ctrl.Start, "Stop": h.ctrl.Stop, "Reset": h.ctrl.Reset} {
		if err := cmd(); !errors.Is(err, ErrClosed) {
			t.Errorf("%s() after shutdown error = %v, want ErrClosed", name, err)
		}
	}
}

func TestController_RunTwice(t *testing.T) {
	h := newHarness(t, fastPolicy(3), fastPolicy(3))
	// Let the harness goroutine claim the loop first.
	if err := h.ctrl.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := h.ctrl.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run() error = %v, want ErrAlreadyRunning", err)
	}
}

func TestController_PublishesOnBus(t *testing.T) {
	b := bus.New(nil)
	defer b.Close()
	sub := b.Subscribe(bus.TopicTransitions)

	client := newFakeClient()
	ctrl, err := New(testConfig(), client, &recordingLED{}, Options{
		Association: fastPolicy(3),
		Session:     fastPolicy(3),
		Bus:         b,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = ctrl.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	if err := ctrl.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	select {
	case msg := <-sub:
		tr, ok := msg.(Transition)
		if !ok {
			t.Fatalf("bus message type %T, want Transition", msg)
		}
		if tr.From != StateIdle || tr.To != StateAssociating || tr.Cause != CauseStart {
			t.Errorf("transition = %+v", tr)
		}
		if tr.At.IsZero() || tr.At.Location() != time.UTC {
			t.Errorf("At = %v, want UTC timestamp", tr.At)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no transition on bus")
	}
}

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}
