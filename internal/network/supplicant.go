package network

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/linklight/internal/process"
)

// SupplicantConfig configures a wpa_supplicant-driven link.
type SupplicantConfig struct {
	Binary          string
	ConfigPath      string
	Interface       string
	Driver          string
	GracefulTimeout time.Duration
	PollInterval    time.Duration
}

// supervisor is the part of process.Manager this link drives.
type supervisor interface {
	Start(ctx context.Context) error
	Stop() error
}

// SupplicantLink associates by running wpa_supplicant for the requested
// network, then waits for the interface to come up.
//
// An unexpected supplicant exit or loss of the interface address is a drop.
type SupplicantLink struct {
	cfg   SupplicantConfig
	iface *InterfaceLink
	drops chan error

	newSupervisor func(process.Config) supervisor

	mu     sync.Mutex
	sup    supervisor
	gen    uint64
	logger Logger
}

// NewSupplicantLink creates a link for cfg.Interface.
func NewSupplicantLink(cfg SupplicantConfig) *SupplicantLink {
	l := &SupplicantLink{
		cfg:    cfg,
		iface:  NewInterfaceLink(cfg.Interface, cfg.PollInterval),
		drops:  make(chan error, 1),
		logger: noopLogger{},
	}
	l.iface.notify = l.sendDrop
	l.newSupervisor = func(pc process.Config) supervisor {
		mgr := process.NewManager(pc)
		mgr.SetLogger(l.logger)
		return mgr
	}
	return l
}

// SetLogger sets the logger for the link and its supplicant process.
func (l *SupplicantLink) SetLogger(logger Logger) {
	l.logger = logger
	l.iface.SetLogger(logger)
}

// Associate writes the supplicant config, starts wpa_supplicant and waits
// for the interface to become usable.
func (l *SupplicantLink) Associate(ctx context.Context, ssid, password string) error {
	l.Dissociate()

	if err := writeSupplicantConfig(l.cfg.ConfigPath, ssid, password); err != nil {
		return err
	}

	l.mu.Lock()
	l.gen++
	gen := l.gen
	sup := l.newSupervisor(process.Config{
		Name:            "wpa_supplicant",
		Binary:          l.cfg.Binary,
		Args:            supplicantArgs(l.cfg),
		GracefulTimeout: l.cfg.GracefulTimeout,
		OnExit: func(err error) {
			l.supervisorExited(gen, err)
		},
	})
	l.sup = sup
	l.mu.Unlock()

	if err := sup.Start(ctx); err != nil {
		l.clear(gen)
		return fmt.Errorf("starting wpa_supplicant: %w", err)
	}

	if err := l.iface.Associate(ctx, ssid, password); err != nil {
		l.Dissociate()
		return err
	}
	return nil
}

// supervisorExited turns an exit of the current supplicant run into a drop.
func (l *SupplicantLink) supervisorExited(gen uint64, err error) {
	l.mu.Lock()
	current := l.gen == gen && l.sup != nil
	if current {
		l.sup = nil
	}
	l.mu.Unlock()
	if !current {
		return
	}

	wasUp := l.iface.Associated()
	l.iface.Dissociate()
	if wasUp {
		l.sendDrop(fmt.Errorf("%w: %w", ErrSupplicantExited, err))
	}
}

func (l *SupplicantLink) clear(gen uint64) {
	l.mu.Lock()
	if l.gen == gen {
		l.sup = nil
	}
	l.mu.Unlock()
}

// Dissociate stops watching the interface and stops wpa_supplicant.
func (l *SupplicantLink) Dissociate() {
	l.iface.Dissociate()

	l.mu.Lock()
	sup := l.sup
	l.sup = nil
	l.gen++
	l.mu.Unlock()

	if sup != nil {
		if err := sup.Stop(); err != nil {
			l.logger.Warn("stopping wpa_supplicant failed", "error", err)
		}
	}
}

// Associated reports whether the supplicant runs and the interface is up.
func (l *SupplicantLink) Associated() bool {
	l.mu.Lock()
	running := l.sup != nil
	l.mu.Unlock()
	return running && l.iface.Associated()
}

// Drops returns the drop channel.
func (l *SupplicantLink) Drops() <-chan error {
	return l.drops
}

func (l *SupplicantLink) sendDrop(err error) {
	select {
	case l.drops <- err:
	default:
	}
}

func supplicantArgs(cfg SupplicantConfig) []string {
	args := []string{"-i", cfg.Interface, "-c", cfg.ConfigPath}
	if cfg.Driver != "" {
		args = append(args, "-D", cfg.Driver)
	}
	return args
}

// supplicantConfig renders a single-network wpa_supplicant config.
// The SSID is hex encoded so any byte sequence is accepted.
func supplicantConfig(ssid, password string) string {
	var b strings.Builder
	b.WriteString("ctrl_interface=/var/run/wpa_supplicant\n")
	b.WriteString("update_config=0\n\n")
	b.WriteString("network={\n")
	fmt.Fprintf(&b, "\tssid=%s\n", hex.EncodeToString([]byte(ssid)))
	if password == "" {
		b.WriteString("\tkey_mgmt=NONE\n")
	} else {
		// wpa_supplicant takes everything up to the last quote.
		fmt.Fprintf(&b, "\tpsk=\"%s\"\n", password)
	}
	b.WriteString("}\n")
	return b.String()
}

// writeSupplicantConfig writes the config atomically with 0600 permissions.
func writeSupplicantConfig(path, ssid, password string) error {
	if strings.ContainsAny(password, "\r\n") {
		return fmt.Errorf("%w: password contains a line break", ErrAssociationFailed)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating supplicant config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".wpa-*.conf")
	if err != nil {
		return fmt.Errorf("creating supplicant config: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after rename

	if _, err := tmp.WriteString(supplicantConfig(ssid, password)); err != nil {
		tmp.Close()
		return fmt.Errorf("writing supplicant config: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("setting supplicant config permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing supplicant config: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("installing supplicant config: %w", err)
	}
	return nil
}
