package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// Link is the WiFi link layer.
//
// Drops delivers an error each time an established association is lost
// without Dissociate being called.
type Link interface {
	Associate(ctx context.Context, ssid, password string) error
	Dissociate()
	Associated() bool
	Drops() <-chan error
}

const defaultPollInterval = 2 * time.Second

// InterfaceLink watches a host network interface.
//
// The interface counts as associated while it is up and holds a
// non-loopback unicast address. Association itself is performed by
// whatever manages the interface (NetworkManager, wpa_supplicant, ...).
type InterfaceLink struct {
	name  string
	poll  time.Duration
	probe func() (bool, error)

	// notify defaults to a send on drops; SupplicantLink replaces it.
	notify func(error)
	drops  chan error

	mu         sync.Mutex
	associated bool
	stopWatch  context.CancelFunc
	logger     Logger
}

// NewInterfaceLink watches the named interface, polling every poll.
func NewInterfaceLink(name string, poll time.Duration) *InterfaceLink {
	if poll <= 0 {
		poll = defaultPollInterval
	}
	l := &InterfaceLink{
		name:   name,
		poll:   poll,
		drops:  make(chan error, 1),
		logger: noopLogger{},
	}
	l.probe = func() (bool, error) { return interfaceUp(l.name) }
	l.notify = l.sendDrop
	return l
}

// SetLogger sets the logger.
func (l *InterfaceLink) SetLogger(logger Logger) {
	l.logger = logger
}

// Associate waits until the interface is usable or ctx ends.
// The SSID and password are not used; they belong to the interface's manager.
func (l *InterfaceLink) Associate(ctx context.Context, _, _ string) error {
	l.Dissociate()

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	for {
		up, err := l.probe()
		if err != nil {
			l.logger.Debug("interface probe failed", "interface", l.name, "error", err)
		}
		if up {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", l.name, ctx.Err())
		case <-ticker.C:
		}
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	l.mu.Lock()
	l.associated = true
	l.stopWatch = cancel
	l.mu.Unlock()

	go l.watch(watchCtx)
	return nil
}

// watch polls until the interface goes down or the watch is cancelled.
func (l *InterfaceLink) watch(ctx context.Context) {
	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		up, err := l.probe()
		if up {
			continue
		}

		l.mu.Lock()
		if ctx.Err() != nil {
			l.mu.Unlock()
			return
		}
		l.associated = false
		l.stopWatch = nil
		l.mu.Unlock()

		if err != nil {
			err = fmt.Errorf("%w: %s: %w", ErrLinkDown, l.name, err)
		} else {
			err = fmt.Errorf("%w: %s", ErrLinkDown, l.name)
		}
		l.logger.Warn("link lost", "interface", l.name, "error", err)
		l.notify(err)
		return
	}
}

// Dissociate stops watching. The interface itself is left alone.
func (l *InterfaceLink) Dissociate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopWatch != nil {
		l.stopWatch()
		l.stopWatch = nil
	}
	l.associated = false
}

// Associated reports whether the interface was usable at the last poll.
func (l *InterfaceLink) Associated() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.associated
}

// Drops returns the drop channel.
func (l *InterfaceLink) Drops() <-chan error {
	return l.drops
}

func (l *InterfaceLink) sendDrop(err error) {
	select {
	case l.drops <- err:
	default:
		// An undelivered drop is already pending.
	}
}

// interfaceUp reports whether name is up with a non-loopback unicast address.
func interfaceUp(name string) (bool, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return false, err
	}
	if iface.Flags&net.FlagUp == 0 {
		return false, nil
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return false, err
	}
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		if !ipnet.IP.IsLoopback() && ipnet.IP.IsGlobalUnicast() {
			return true, nil
		}
	}
	return false, nil
}

// StaticLink is always associable. Use it on wired hosts and in development.
type StaticLink struct {
	mu         sync.Mutex
	associated bool
	drops      chan error
}

// NewStaticLink returns a link that never fails and never drops.
func NewStaticLink() *StaticLink {
	return &StaticLink{drops: make(chan error)}
}

func (l *StaticLink) Associate(ctx context.Context, _, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	l.associated = true
	l.mu.Unlock()
	return nil
}

func (l *StaticLink) Dissociate() {
	l.mu.Lock()
	l.associated = false
	l.mu.Unlock()
}

func (l *StaticLink) Associated() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.associated
}

func (l *StaticLink) Drops() <-chan error {
	return l.drops
}
