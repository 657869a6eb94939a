// linklight - Connectivity Lifecycle Controller
//
// This is the main entry point for the linklight daemon. It joins the
// device's WiFi network, holds an MQTT session to the configured broker,
// and shows the lifecycle on a single status LED:
//   - Blue while associating or connecting
//   - Green while the broker session is active
//   - Red when degraded or faulted
//   - Off when idle
//
// Signals:
//   - SIGINT/SIGTERM: stop and exit
//   - SIGUSR1: reset from faulted
//   - SIGUSR2: reconnect (stop, then start)
//
// With api.enabled the same commands, the state and the transition
// journal are also served over a local HTTP API.
//
// Run "linklight provision" to write the credentials from config.yaml
// into the bounded record at device.credentials_file, and
// "linklight token <subject> [role]" to mint a control API token.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/linklight/internal/api"
	"github.com/nerrad567/linklight/internal/auth"
	"github.com/nerrad567/linklight/internal/bus"
	"github.com/nerrad567/linklight/internal/credentials"
	"github.com/nerrad567/linklight/internal/indicator"
	"github.com/nerrad567/linklight/internal/infrastructure/config"
	"github.com/nerrad567/linklight/internal/infrastructure/database"
	"github.com/nerrad567/linklight/internal/infrastructure/influxdb"
	"github.com/nerrad567/linklight/internal/infrastructure/logging"
	"github.com/nerrad567/linklight/internal/journal"
	"github.com/nerrad567/linklight/internal/lifecycle"
	"github.com/nerrad567/linklight/internal/network"
	"github.com/nerrad567/linklight/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// shutdownTimeout bounds the final stop and observer drain.
const shutdownTimeout = 10 * time.Second

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	switch {
	case len(os.Args) > 1 && os.Args[1] == "provision":
		err = provision()
	case len(os.Args) > 1 && os.Args[1] == "token":
		err = mintToken(os.Stdout, os.Args[2:])
	default:
		err = run(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context cancelled by shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing a startup failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting linklight",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version).With("device_id", cfg.Device.ID)
	log.Info("configuration loaded", "path", configPath)

	connCfg, err := loadCredentials(cfg)
	if err != nil {
		return fmt.Errorf("loading credentials: %w", err)
	}
	log.Info("credentials loaded",
		"ssid", connCfg.SSID,
		"broker", connCfg.BrokerAddress(),
		"source", credentialSource(cfg),
	)

	bootID := newBootID()

	// Transition journal (optional)
	var repo *journal.SQLiteRepository
	if cfg.Database.Enabled {
		db, openErr := openJournal(ctx, cfg, log)
		if openErr != nil {
			return openErr
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		repo = journal.NewSQLiteRepository(db.DB)
		pruneJournal(ctx, cfg, repo, log)
	} else {
		log.Info("transition journal disabled")
	}

	// InfluxDB (optional). The network is not up yet at boot, so the
	// server is not contacted here; batches are retried once it is.
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.New(cfg.InfluxDB, cfg.Device.ID)
		if err != nil {
			return fmt.Errorf("creating InfluxDB client: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB client")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Warn("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB telemetry enabled", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	msgBus := bus.New(log.With("component", "bus"))
	defer msgBus.Close()

	broker := network.NewMQTTBroker(network.BrokerConfig{
		ClientID:       cfg.ClientID(),
		DeviceID:       cfg.Device.ID,
		URL:            connCfg.URL,
		BootID:         bootID,
		TLS:            cfg.MQTT.Broker.TLS,
		QoS:            byte(cfg.MQTT.QoS), // #nosec G115 -- validated to 0..2
		KeepAlive:      cfg.MQTT.KeepAlive,
		ConnectTimeout: cfg.MQTT.ConnectTimeout,
	})
	broker.SetLogger(log.With("component", "broker"))

	client := network.NewClient(network.ClientConfig{
		SSID:               connCfg.SSID,
		Password:           connCfg.Password,
		AssociationTimeout: cfg.Network.AssociationTimeout,
		BrokerTimeout:      cfg.MQTT.ConnectTimeout,
	}, newLink(cfg, log), broker)
	client.SetLogger(log.With("component", "network"))
	defer client.Close() //nolint:errcheck // Close only stops the forwarder

	led := indicator.New(newIndicatorDevice(cfg, broker, log))
	led.SetLogger(log.With("component", "indicator"))
	// The LED outlives ctx so the final Off is applied.
	led.Start(context.Background())
	defer func() {
		if closeErr := led.Close(); closeErr != nil {
			log.Warn("error closing indicator", "error", closeErr)
		}
	}()

	ctrl, err := lifecycle.New(connCfg, client, led, lifecycle.Options{
		Association:   retryPolicy(cfg.Retry.Association),
		Session:       retryPolicy(cfg.Retry.Session),
		StableSession: cfg.Retry.StableSession,
		Bus:           msgBus,
		Logger:        log.With("component", "lifecycle"),
	})
	if err != nil {
		return fmt.Errorf("creating controller: %w", err)
	}

	// Observers
	var sinks []journal.Sink
	if repo != nil {
		sinks = append(sinks, repo)
	}
	if influxClient != nil {
		sinks = append(sinks, influxClient)
	}
	recCtx, stopRecorder := context.WithCancel(context.Background())
	defer stopRecorder()
	recDone := make(chan struct{})
	rec := journal.NewRecorder(msgBus, sinks...)
	rec.SetLogger(log.With("component", "journal"))
	go func() {
		defer close(recDone)
		rec.Run(recCtx)
	}()

	// Control loop. It runs on its own context so the final Stop below is
	// still applied after a shutdown signal.
	runCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		if runErr := ctrl.Run(runCtx); runErr != nil {
			log.Error("control loop failed", "error", runErr)
		}
	}()

	// Local control API (optional)
	if cfg.API.Enabled {
		srv, apiErr := startAPI(ctx, cfg, ctrl, repo, msgBus, log)
		if apiErr != nil {
			return apiErr
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	if err := ctrl.Start(); err != nil {
		return fmt.Errorf("starting controller: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	serveSignals(ctx, ctrl, log)

	log.Info("shutdown signal received, cleaning up")
	if err := ctrl.Stop(); err != nil {
		log.Warn("stop failed", "error", err)
	}
	stopLoop()
	waitFor(loopDone, "control loop", log)

	stopRecorder()
	waitFor(recDone, "journal recorder", log)

	log.Info("linklight stopped")
	return nil
}

// startAPI starts the local control API. A nil repo leaves the journal
// endpoint answering 503.
func startAPI(ctx context.Context, cfg *config.Config, ctrl *lifecycle.Controller,
	repo *journal.SQLiteRepository, msgBus *bus.PubSubBus, log *logging.Logger,
) (*api.Server, error) {
	deps := api.Deps{
		Config:     cfg.API,
		Logger:     log.With("component", "api"),
		Controller: ctrl,
		Bus:        msgBus,
		DeviceID:   cfg.Device.ID,
		Version:    version,
	}
	if repo != nil {
		deps.Journal = repo
	}
	srv, err := api.New(deps)
	if err != nil {
		return nil, fmt.Errorf("creating API server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting API server: %w", err)
	}
	return srv, nil
}

// serveSignals handles the operator signals until ctx is cancelled.
func serveSignals(ctx context.Context, ctrl *lifecycle.Controller, log *logging.Logger) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigs)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			switch sig {
			case syscall.SIGUSR1:
				log.Info("reset requested", "state", ctrl.State().String())
				if err := ctrl.Reset(); err != nil {
					log.Warn("reset failed", "error", err)
				}
			case syscall.SIGUSR2:
				log.Info("reconnect requested", "state", ctrl.State().String())
				if err := ctrl.Stop(); err != nil {
					log.Warn("stop failed", "error", err)
					continue
				}
				if err := ctrl.Start(); err != nil {
					log.Warn("start failed", "error", err)
				}
			}
		}
	}
}

// waitFor blocks until done is ready or shutdownTimeout passes.
func waitFor(done <-chan struct{}, what string, log *logging.Logger) {
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		log.Warn("timed out waiting for shutdown", "component", what)
	}
}

// getConfigPath returns the configuration file path.
// Uses LINKLIGHT_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("LINKLIGHT_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// credentialSource picks the provisioned record file when configured,
// otherwise the fields of config.yaml.
func credentialSource(cfg *config.Config) string {
	if cfg.Device.CredentialsFile != "" {
		return cfg.Device.CredentialsFile
	}
	return "config"
}

// configRecord builds an unvalidated credentials record from config.yaml.
func configRecord(cfg *config.Config) credentials.Record {
	return credentials.Record{
		SSID:     cfg.Network.SSID,
		Password: cfg.Network.Password,
		MQTTUser: cfg.MQTT.Auth.Username,
		MQTTPass: cfg.MQTT.Auth.Password,
		Host:     cfg.MQTT.Broker.Host,
		Port:     cfg.MQTT.Broker.Port,
		URL:      cfg.Device.URL,
	}
}

// loadCredentials reads and validates the connection configuration.
// A *credentials.ConfigError aborts startup.
func loadCredentials(cfg *config.Config) (credentials.ConnectionConfig, error) {
	var src credentials.Source = credentials.StaticSource(configRecord(cfg))
	if cfg.Device.CredentialsFile != "" {
		src = credentials.NewFileSource(cfg.Device.CredentialsFile)
	}
	return credentials.NewStore(src).Load()
}

// provision validates the credentials in config.yaml and writes them to
// device.credentials_file.
func provision() error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Device.CredentialsFile == "" {
		return errors.New("device.credentials_file is not set")
	}

	connCfg, err := credentials.Validate(configRecord(cfg))
	if err != nil {
		return fmt.Errorf("validating credentials: %w", err)
	}
	if err := credentials.NewFileSource(cfg.Device.CredentialsFile).Save(connCfg); err != nil {
		return fmt.Errorf("saving credentials: %w", err)
	}
	fmt.Fprintf(os.Stdout, "credentials written to %s\n", cfg.Device.CredentialsFile)
	return nil
}

// mintToken prints a control API token: "linklight token <subject> [role]".
// The role defaults to operator.
func mintToken(w io.Writer, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("usage: linklight token <subject> [viewer|operator]")
	}
	role := auth.RoleOperator
	if len(args) == 2 {
		role = auth.Role(args[1])
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.API.JWT.Secret == "" {
		return errors.New("api.jwt.secret is not set")
	}

	token, err := auth.GenerateToken(args[0], role, cfg.API.JWT.Secret, cfg.API.JWT.TokenTTL)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	fmt.Fprintln(w, token)
	return nil
}

// newBootID returns a time-ordered identifier for this process lifetime.
func newBootID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// openJournal opens and migrates the transition journal database.
func openJournal(ctx context.Context, cfg *config.Config, log *logging.Logger) (*database.DB, error) {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", db.Path())
	return db, nil
}

// pruneJournal applies database.retention_days. Failures are logged only.
func pruneJournal(ctx context.Context, cfg *config.Config, repo *journal.SQLiteRepository, log *logging.Logger) {
	retention := cfg.RetentionPeriod()
	if retention <= 0 {
		return
	}
	deleted, err := repo.Prune(ctx, retention)
	if err != nil {
		log.Warn("pruning transition journal failed", "error", err)
		return
	}
	if deleted > 0 {
		log.Info("pruned transition journal", "deleted", deleted, "retention_days", cfg.Database.RetentionDays)
	}
}

// newLink selects the association backend.
func newLink(cfg *config.Config, log *logging.Logger) network.Link {
	linkLog := log.With("component", "link", "backend", cfg.Network.Backend)

	switch cfg.Network.Backend {
	case config.LinkBackendSupplicant:
		l := network.NewSupplicantLink(network.SupplicantConfig{
			Binary:          cfg.Network.Supplicant.Binary,
			ConfigPath:      cfg.Network.Supplicant.ConfigPath,
			Interface:       cfg.Network.Interface,
			Driver:          cfg.Network.Supplicant.Driver,
			GracefulTimeout: cfg.Network.Supplicant.GracefulTimeout,
			PollInterval:    cfg.Network.PollInterval,
		})
		l.SetLogger(linkLog)
		return l
	case config.LinkBackendStatic:
		return network.NewStaticLink()
	default:
		l := network.NewInterfaceLink(cfg.Network.Interface, cfg.Network.PollInterval)
		l.SetLogger(linkLog)
		return l
	}
}

// newIndicatorDevice builds the LED device plus the optional MQTT mirror.
func newIndicatorDevice(cfg *config.Config, broker *network.MQTTBroker, log *logging.Logger) indicator.Device {
	var devs indicator.MultiDevice

	switch cfg.Indicator.Backend {
	case config.IndicatorBackendSerial:
		devs = append(devs, indicator.NewSerialDevice(indicator.SerialConfig{
			Port:     cfg.Indicator.Serial.Port,
			BaudRate: cfg.Indicator.Serial.BaudRate,
			DataPin:  cfg.Indicator.DataPin,
			PowerPin: cfg.Indicator.PowerPin,
			NumLEDs:  cfg.Indicator.NumLEDs,
		}))
	case config.IndicatorBackendLog:
		devs = append(devs, indicator.NewLogDevice(log.With("component", "led")))
	}

	if cfg.Indicator.Mirror {
		devs = append(devs, indicator.NewMQTTDevice(broker, broker.Topics().Indicator()))
	}
	return devs
}

// retryPolicy converts a config section into a lifecycle policy.
func retryPolicy(c config.RetryPolicyConfig) lifecycle.RetryPolicy {
	return lifecycle.RetryPolicy{
		MaxAttempts:  c.MaxAttempts,
		InitialDelay: c.InitialDelay,
		MaxDelay:     c.MaxDelay,
		Multiplier:   c.Multiplier,
	}
}
