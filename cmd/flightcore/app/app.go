package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/roman-kulish/rocket-control/internal/actuator"
	"github.com/roman-kulish/rocket-control/internal/control"
	"github.com/roman-kulish/rocket-control/internal/feedback"
	"github.com/roman-kulish/rocket-control/internal/flight"
	"github.com/roman-kulish/rocket-control/internal/input"
	"github.com/roman-kulish/rocket-control/internal/link"
	"github.com/roman-kulish/rocket-control/internal/mix"
	"github.com/roman-kulish/rocket-control/internal/packet"
	"github.com/roman-kulish/rocket-control/internal/runstate"
	"github.com/roman-kulish/rocket-control/internal/setpoint"
	"github.com/roman-kulish/rocket-control/internal/storage"
	"github.com/roman-kulish/rocket-control/internal/telemetry"
)

const (
	storageDir  = "data"
	storageFile = "flightlog.sqlite"
)

// statsReporter is a link whose counters are logged periodically
type statsReporter interface {
	Name() string
	IsRunning() bool
	Stats() link.Stats
}

func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	run := runstate.New(runstate.WithLogger(logger))
	shutdownTimeout := config.Controller.ShutdownTimeout.Std()

	store, err := createStorage(&config.Storage)
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error(fmt.Sprintf("error closing storage: %s", err.Error()))
		}
	}()

	recorder := createRecorder(store, run, config, logger)
	// the recorder outlives the control loop so the last ticks are stored
	if err = recorder.Open(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("failed to open flight log: %w", err)
	}
	defer func() {
		_ = recorder.Close(shutdownTimeout) // a timeout is logged and does not fail the exit
	}()

	var links []statsReporter
	var stops []func(time.Duration) error
	defer func() {
		for _, stop := range stops {
			_ = stop(shutdownTimeout)
		}
	}()

	var source input.OverrideSource
	if config.Links.Override.Enabled {
		override, err := createOverrideLink(config.Links.Override, run, logger)
		if err != nil {
			return fmt.Errorf("failed to create override link: %w", err)
		}
		if startLink(ctx, override, logger) {
			stops = append(stops, override.Stop)
		}
		source = override
		links = append(links, override)
	}

	var estimator telemetry.Provider
	if config.Links.Position.Enabled {
		mocap := telemetry.NewMocapEstimator(config.Estimator.BatteryVoltage, telemetry.WithMocapLogger(logger))
		position, err := createPositionLink(config.Links.Position, mocap, run, logger)
		if err != nil {
			return fmt.Errorf("failed to create position link: %w", err)
		}
		if startLink(ctx, position, logger) {
			stops = append(stops, position.Stop)
		}
		estimator = mocap
		links = append(links, position)
	}

	loop, err := createLoop(config, run, source, estimator, recorder, logger)
	if err != nil {
		return fmt.Errorf("failed to create control loop: %w", err)
	}
	loop.Start(ctx)

	statsInterval := config.Settings.StatsInterval.Std()
	if statsInterval <= 0 {
		statsInterval = defaultStatsInterval
	}
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	pause := make(chan os.Signal, 1)
	if len(pauseSignals) > 0 {
		signal.Notify(pause, pauseSignals...)
		defer signal.Stop(pause)
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			// a timed out join is logged by the loop and does not fail the exit
			_ = loop.Shutdown(shutdownTimeout)
			return nil

		case <-pause:
			logger.Info("run state toggled", slog.String("state", run.Toggle().String()))

		case <-loop.Done():
			return errors.New("control loop stopped unexpectedly")

		case <-ticker.C:
			logStats(logger, loop, recorder, links)
		}
	}
}

func createRecorder(store storage.Store, run *runstate.Flag, config *Config, logger *slog.Logger) *storage.Recorder {
	options := []func(*storage.Recorder){
		storage.WithLogger(logger),
		storage.WithRunState(run),
		storage.WithConfig(config.Controller),
	}
	if config.Storage.QueueSize > 0 {
		options = append(options, storage.WithQueueSize(config.Storage.QueueSize))
	}
	if config.Storage.FlushInterval > 0 {
		options = append(options, storage.WithFlushInterval(config.Storage.FlushInterval.Std()))
	}
	if config.Storage.MaxTxSize > 0 {
		options = append(options, storage.WithTxSize(config.Storage.MaxTxSize))
	}

	return storage.NewRecorder(store, options...)
}

func createOverrideLink(config LinkConfig, run *runstate.Flag, logger *slog.Logger) (*link.Receiver[packet.Override], error) {
	size := packet.OverrideSize
	if config.Extended {
		size = packet.OverrideExtendedSize
	}

	return link.NewReceiver("override", config.opener(), size, packet.DecodeOverride,
		link.WithLogger[packet.Override](logger),
		link.WithRunState[packet.Override](run),
		link.WithMinRate[packet.Override](config.MinRate, link.RateWindow))
}

func createPositionLink(config LinkConfig, mocap *telemetry.MocapEstimator, run *runstate.Flag, logger *slog.Logger) (*link.Receiver[packet.Position], error) {
	update := func(s link.Snapshot[packet.Position]) {
		mocap.Update(s.Received, s.Value.Pose())
	}

	return link.NewReceiver("position", config.opener(), packet.PositionSize, packet.DecodePosition,
		link.WithLogger[packet.Position](logger),
		link.WithRunState[packet.Position](run),
		link.WithMinRate[packet.Position](config.MinRate, link.RateWindow),
		link.WithListener(update))
}

// startLink starts a receiver. A link that cannot be opened is logged and the
// flight computer runs without it.
func startLink[T any](ctx context.Context, r *link.Receiver[T], logger *slog.Logger) bool {
	stopped, err := r.Start(ctx)
	if err != nil {
		logger.Error(fmt.Sprintf("link unavailable: %s", err.Error()), slog.String("link", r.Name()))
		return false
	}

	go func() {
		if err, ok := <-stopped; ok {
			logger.Warn(fmt.Sprintf("link stopped: %s", err.Error()), slog.String("link", r.Name()))
		}
	}()

	return true
}

func createLoop(config *Config, run *runstate.Flag, source input.OverrideSource, estimator telemetry.Provider, recorder *storage.Recorder, logger *slog.Logger) (*control.Loop, error) {
	mixer, err := mix.NewLinear(config.Mixer)
	if err != nil {
		return nil, fmt.Errorf("creating mixer: %w", err)
	}

	nominal := config.Actuators.Nominal
	if len(nominal) == 0 {
		nominal = mixer.Neutral()
	}
	rail, err := actuator.NewRail(actuator.LogDriver{Logger: logger}, nominal, actuator.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("creating actuator rail: %w", err)
	}

	controller, err := feedback.New(config.Controller.Feedback(), mixer, rail,
		feedback.WithLogger(logger),
		feedback.WithFlightLogger(recorder),
		feedback.WithIndicator(actuator.LogIndicator{Logger: logger}))
	if err != nil {
		return nil, fmt.Errorf("creating controller: %w", err)
	}

	return control.NewLoop(config.Controller.Period(), control.Parts{
		Inputs:     input.NewArbitrator(config.Controller.Input(), source, input.WithLogger(logger)),
		Estimator:  estimator,
		Machine:    flight.NewMachine(config.Controller.Flight(), flight.WithLogger(logger)),
		Setpoints:  setpoint.NewSynthesizer(config.Controller.Setpoint()),
		Controller: controller,
		Actuators:  rail,
		FlightLog:  recorder,
	},
		control.WithLogger(logger),
		control.WithRunState(run),
		control.WithBatteryVoltage(config.Estimator.BatteryVoltage))
}

func logStats(logger *slog.Logger, loop *control.Loop, recorder *storage.Recorder, links []statsReporter) {
	for _, l := range links {
		s := l.Stats()
		logger.Info("link stats",
			slog.String("link", l.Name()),
			slog.Bool("running", l.IsRunning()),
			slog.String("received", humanize.Bytes(s.Bytes)),
			slog.String("frames", humanize.Comma(int64(s.Frames))),
			slog.String("checksumErrors", humanize.Comma(int64(s.ChecksumErrors))),
			slog.String("decodeErrors", humanize.Comma(int64(s.DecodeErrors))),
			slog.String("overflows", humanize.Comma(int64(s.Overflows))))
	}

	attrs := []any{
		slog.String("session", recorder.Session()),
		slog.String("dropped", humanize.Comma(int64(recorder.Dropped()))),
	}
	if s := loop.Status(); s != nil {
		attrs = append(attrs,
			slog.String("runState", s.RunState.String()),
			slog.String("phase", s.Phase.String()),
			slog.String("mode", s.Mode.String()),
			slog.String("arm", s.Arm.String()),
			slog.Bool("inputActive", s.InputActive),
			slog.Float64("altitude", s.Estimate.Altitude))
	}
	logger.Info("flight computer status", attrs...)
}

func createStorage(config *StorageConfig) (*storage.SqliteStore, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current working directory: %w", err)
	}

	dbPath := config.DataDirectory
	if dbPath == "" {
		dbPath = storageDir
	}
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(wd, dbPath)
	}

	stat, err := os.Stat(dbPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("storage directory '%s' does not exist: %w", dbPath, err)
		}
		return nil, fmt.Errorf("checking storage directory '%s': %w", dbPath, err)
	}
	if !stat.IsDir() {
		return nil, fmt.Errorf("invalid storage directory '%s'", dbPath)
	}

	return storage.NewSqliteStore(filepath.Join(dbPath, storageFile)), nil
}
