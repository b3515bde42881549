package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/blimd/internal/adapter/bluez"
	"github.com/srg/blimd/internal/adapter/goble"
	"github.com/srg/blimd/internal/device"
	"github.com/srg/blimd/internal/loop"
	"github.com/srg/blimd/internal/poller"
	"github.com/srg/blimd/internal/reconciler"
	"github.com/srg/blimd/internal/schema"
	"github.com/srg/blimd/internal/sink"
	"github.com/srg/blimd/pkg/config"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the connection manager",
		Long: `Run keeps every tracked address connected until interrupted.

Values from --config are overridden by BLIMD_* environment variables, which
are in turn overridden by the flags below.`,
		Example: `  # Track two devices on hci0 with the BlueZ backend
  blimd run --address AA:BB:CC:DD:EE:01 --address AA:BB:CC:DD:EE:02

  # Use go-ble over a raw HCI socket and publish to MQTT
  blimd run -c /etc/blimd.yaml --backend goble --mqtt-broker tcp://localhost:1883`,
		Args: cobra.NoArgs,
		RunE: runDaemon,
	}

	cmd.Flags().String("adapter", "", "Adapter name (hci0, hci1, ...)")
	cmd.Flags().String("backend", "", "Bluetooth backend: bluez or goble")
	cmd.Flags().StringSliceP("address", "a", nil, "Tracked device address (repeatable)")
	cmd.Flags().Int("poll-interval", 0, "Health poll interval in seconds")
	cmd.Flags().StringSlice("poll-target", nil, "Health poll target as service.characteristic (repeatable)")
	cmd.Flags().String("schema", "", "YAML schema file replacing the built-in schema")
	cmd.Flags().Bool("scan-exclusive", true, "Stop scanning while any tracked device is connecting")
	cmd.Flags().Bool("resume-scan-after-poll", true, "Turn scanning back on after every health poll")
	cmd.Flags().Bool("exit-on-power-loss", false, "Exit with an error when the adapter loses power")
	cmd.Flags().Bool("initial-read", true, "Read every readable characteristic once a device is ready")
	cmd.Flags().Duration("connect-timeout", 0, "Connection attempt timeout")
	cmd.Flags().String("mqtt-broker", "", "MQTT broker URL; enables the MQTT sink")
	cmd.Flags().String("influx-url", "", "InfluxDB URL; enables the InfluxDB sink")

	return cmd
}

// loadConfig reads --config and applies the environment, then the flags
// the user actually set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := cfg.Parse(data); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := applyFlags(cmd, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("adapter") {
		cfg.Adapter, _ = flags.GetString("adapter")
	}
	if flags.Changed("backend") {
		cfg.Backend, _ = flags.GetString("backend")
	}
	if flags.Changed("address") {
		cfg.TrackedAddresses, _ = flags.GetStringSlice("address")
	}
	if flags.Changed("poll-interval") {
		cfg.PollIntervalSeconds, _ = flags.GetInt("poll-interval")
	}
	if flags.Changed("poll-target") {
		specs, _ := flags.GetStringSlice("poll-target")
		targets, err := config.ParsePollTargets(specs)
		if err != nil {
			return err
		}
		cfg.PollTargets = targets
	}
	if flags.Changed("schema") {
		cfg.SchemaFile, _ = flags.GetString("schema")
	}
	if flags.Changed("scan-exclusive") {
		cfg.ScanExclusive, _ = flags.GetBool("scan-exclusive")
	}
	if flags.Changed("resume-scan-after-poll") {
		cfg.ResumeScanAfterPoll, _ = flags.GetBool("resume-scan-after-poll")
	}
	if flags.Changed("exit-on-power-loss") {
		cfg.ExitOnPowerLoss, _ = flags.GetBool("exit-on-power-loss")
	}
	if flags.Changed("initial-read") {
		cfg.InitialRead, _ = flags.GetBool("initial-read")
	}
	if flags.Changed("connect-timeout") {
		cfg.ConnectTimeout, _ = flags.GetDuration("connect-timeout")
	}
	if flags.Changed("mqtt-broker") {
		cfg.MQTT.Broker, _ = flags.GetString("mqtt-broker")
		cfg.MQTT.Enabled = true
	}
	if flags.Changed("influx-url") {
		cfg.InfluxDB.URL, _ = flags.GetString("influx-url")
		cfg.InfluxDB.Enabled = true
	}
	return nil
}

// backend is an opened adapter facade.
type backend interface {
	device.Adapter
	Close() error
}

// openBackend opens the configured adapter once. Tests replace it.
var openBackend = func(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) (backend, error) {
	switch cfg.Backend {
	case config.BackendGoBLE:
		a, err := goble.Open(ctx, cfg.Adapter, goble.Options{ConnectTimeout: cfg.ConnectTimeout}, logger)
		if err != nil {
			return nil, err
		}
		return a, nil
	default:
		a, err := bluez.Open(ctx, cfg.Adapter, bluez.Options{ConnectTimeout: cfg.ConnectTimeout}, logger)
		if err != nil {
			return nil, err
		}
		return a, nil
	}
}

// openAdapter keeps retrying until the adapter shows up or ctx is done.
// An unsupported backend is not retried.
func openAdapter(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) (backend, error) {
	for attempt := 1; ; attempt++ {
		a, err := openBackend(ctx, cfg, logger)
		if err == nil {
			return a, nil
		}
		if errors.Is(err, device.ErrUnsupported) {
			return nil, err
		}
		logger.WithError(err).WithFields(logrus.Fields{
			"adapter":  cfg.Adapter,
			"backend":  cfg.Backend,
			"attempt":  attempt,
			"retry_in": cfg.AdapterRetryInterval,
		}).Warn("Adapter unavailable, waiting for it to appear")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(cfg.AdapterRetryInterval):
		}
	}
}

// loadSchema returns the effective schema and a binder over it. Poll targets
// must name schema entries.
func loadSchema(cfg *config.Config, logger logrus.FieldLogger) (*schema.Binder, error) {
	s, reg, err := effectiveSchema(cfg.SchemaFile)
	if err != nil {
		return nil, err
	}
	for _, t := range cfg.PollTargets {
		if _, ok := s.Lookup(t.Service, t.Characteristic); !ok {
			return nil, fmt.Errorf("poll target %s.%s is not in the schema", t.Service, t.Characteristic)
		}
	}
	return schema.NewBinder(s, reg, logger)
}

// writerProxy forwards MQTT write commands to the reconciler, which is
// created after the sinks it publishes to.
type writerProxy struct {
	rec atomic.Pointer[reconciler.Reconciler]
}

func (w *writerProxy) Write(address, service, characteristic string, value any, done func(error)) {
	rec := w.rec.Load()
	if rec == nil {
		if done != nil {
			done(errNotRunning)
		}
		return
	}
	rec.Write(address, service, characteristic, value, done)
}

// buildSinks returns the log sink plus every enabled remote sink.
func buildSinks(cfg *config.Config, writer sink.Writer, logger logrus.FieldLogger) ([]sink.Sink, error) {
	sinks := []sink.Sink{sink.NewLogSink(logger, logrus.InfoLevel)}

	if cfg.MQTT.Enabled {
		mqttSink, err := sink.NewMQTTSink(sink.MQTTConfig{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         byte(cfg.MQTT.QoS),
			Commands:    cfg.MQTT.Commands,
		}, writer, logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, mqttSink)
	}

	if cfg.InfluxDB.Enabled {
		influxSink, err := sink.NewInfluxSink(sink.InfluxConfig{
			URL:    cfg.InfluxDB.URL,
			Token:  cfg.InfluxDB.Token,
			Org:    cfg.InfluxDB.Org,
			Bucket: cfg.InfluxDB.Bucket,
		}, logger)
		if err != nil {
			for _, s := range sinks {
				_ = s.Close()
			}
			return nil, err
		}
		sinks = append(sinks, influxSink)
	}
	return sinks, nil
}

func pollTargets(cfg *config.Config) []poller.Target {
	out := make([]poller.Target, len(cfg.PollTargets))
	for i, t := range cfg.PollTargets {
		out[i] = poller.Target{Service: t.Service, Characteristic: t.Characteristic}
	}
	return out
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, "verbose", cfg)
	if err != nil {
		return err
	}

	binder, err := loadSchema(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancelCause(cmd.Context())
	defer cancel(nil)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			logger.WithField("signal", sig).Info("Received signal, shutting down...")
			cancel(nil)
		case <-ctx.Done():
		}
	}()

	adapter, err := openAdapter(ctx, cfg, logger)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	defer func() {
		if err := adapter.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close adapter")
		}
	}()

	writer := &writerProxy{}
	sinks, err := buildSinks(cfg, writer, logger)
	if err != nil {
		return err
	}
	dispatcher, err := sink.NewDispatcher(cfg.SinkBuffer, logger, sinks...)
	if err != nil {
		return err
	}
	defer func() {
		if err := dispatcher.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close sinks")
		}
	}()

	events := loop.New(logger)

	rec, err := reconciler.New(reconciler.Config{
		Addresses:       cfg.TrackedAddresses,
		Adapter:         adapter,
		Binder:          binder,
		Executor:        events,
		Publisher:       dispatcher,
		Logger:          logger,
		ScanExclusive:   cfg.ScanExclusive,
		InitialRead:     cfg.InitialRead,
		ExitOnPowerLoss: cfg.ExitOnPowerLoss,
		OnFatal: func(err error) {
			cancel(fmt.Errorf("%w: %w", ErrAdapterLost, err))
		},
	})
	if err != nil {
		return err
	}
	writer.rec.Store(rec)

	p, err := poller.New(poller.Config{
		Interval:            cfg.PollInterval(),
		Targets:             pollTargets(cfg),
		ResumeScanAfterPoll: cfg.ResumeScanAfterPoll,
		Peers:               poller.Sessions(rec.Sessions),
		Scan:                rec,
		Executor:            events,
		Publisher:           dispatcher,
		Logger:              logger,
	})
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"adapter":   cfg.Adapter,
		"backend":   cfg.Backend,
		"addresses": cfg.TrackedAddresses,
		"interval":  cfg.PollInterval(),
	}).Info("blimd starting")

	dispatcher.Start(ctx)
	loopDone := events.Start(ctx)
	rec.Start()
	events.Post(p.Start)

	<-ctx.Done()
	<-loopDone

	// The loop is gone, so the poller can be stopped from here.
	p.Stop()
	for _, st := range rec.Snapshot().Sessions {
		logger.WithFields(logrus.Fields{
			"address": st.Address,
			"state":   st.State,
		}).Info("Session state at shutdown")
	}

	if cause := context.Cause(ctx); errors.Is(cause, ErrAdapterLost) {
		return cause
	}
	logger.Info("blimd stopped")
	return nil
}
