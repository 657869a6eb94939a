package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/linklight/internal/bus"
	"github.com/nerrad567/linklight/internal/lifecycle"
)

// writeTimeout bounds a single sink write.
const writeTimeout = 2 * time.Second

// Sink persists or forwards one transition.
// SQLiteRepository and influxdb.Client both satisfy it.
type Sink interface {
	WriteTransition(ctx context.Context, tr lifecycle.Transition) error
}

// Subscriber is the part of bus.MessageBus a Recorder needs.
type Subscriber interface {
	Subscribe(topic string) bus.Subscription
	Unsubscribe(ch bus.Subscription, topics ...string)
}

// Logger is the logging interface used by the recorder.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Recorder copies every transition published on the bus into its sinks.
//
// A failing sink is logged and skipped; it never affects the controller
// or the other sinks.
type Recorder struct {
	bus    Subscriber
	sub    bus.Subscription
	sinks  []Sink
	logger Logger
}

// NewRecorder subscribes immediately so transitions published before Run
// starts are buffered rather than lost.
func NewRecorder(b Subscriber, sinks ...Sink) *Recorder {
	return &Recorder{
		bus:    b,
		sub:    b.Subscribe(bus.TopicTransitions),
		sinks:  sinks,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger. Call before Run.
func (r *Recorder) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Run delivers transitions until ctx is cancelled or the bus closes.
//
// On cancellation the subscription is released and any transitions
// already buffered are still written.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case msg, ok := <-r.sub:
			if !ok {
				return
			}
			r.deliver(msg)
		case <-ctx.Done():
			r.drain()
			return
		}
	}
}

// drain unsubscribes from another goroutine, since the bus may be
// delivering to r.sub, and consumes until the channel closes.
func (r *Recorder) drain() {
	go r.bus.Unsubscribe(r.sub)
	for msg := range r.sub {
		r.deliver(msg)
	}
}

func (r *Recorder) deliver(msg any) {
	tr, ok := msg.(lifecycle.Transition)
	if !ok {
		r.logger.Debug("journal: ignoring unexpected message", "type", fmt.Sprintf("%T", msg))
		return
	}
	for _, sink := range r.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := sink.WriteTransition(ctx, tr)
		cancel()
		if err != nil {
			r.logger.Warn("journal: sink write failed",
				"error", err,
				"from", tr.From.String(),
				"to", tr.To.String(),
			)
		}
	}
}
