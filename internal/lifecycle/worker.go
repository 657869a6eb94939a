package lifecycle

import "sync"

// opWorker runs network calls one at a time, in submission order, off the
// control loop. submit never blocks.
type opWorker struct {
	mu     sync.Mutex
	queue  []func()
	signal chan struct{}
}

func newOpWorker() *opWorker {
	return &opWorker{signal: make(chan struct{}, 1)}
}

func (w *opWorker) submit(op func()) {
	w.mu.Lock()
	w.queue = append(w.queue, op)
	w.mu.Unlock()

	select {
	case w.signal <- struct{}{}:
	default:
	}
}

// run executes queued ops until quit is closed. Ops still queued at that
// point are dropped.
func (w *opWorker) run(quit <-chan struct{}) {
	for {
		select {
		case <-quit:
			return
		case <-w.signal:
		}

		for {
			w.mu.Lock()
			if len(w.queue) == 0 {
				w.mu.Unlock()
				break
			}
			op := w.queue[0]
			w.queue[0] = nil
			w.queue = w.queue[1:]
			w.mu.Unlock()

			select {
			case <-quit:
				return
			default:
			}
			op()
		}
	}
}
