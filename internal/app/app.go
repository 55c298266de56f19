// Package app wires configuration, logging, the simulation driver, and the
// network surface into a running server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/Blackswan15/smart-urban-traffic-manager/internal/config"
	"github.com/Blackswan15/smart-urban-traffic-manager/internal/engine"
	"github.com/Blackswan15/smart-urban-traffic-manager/internal/engine/microsim"
	servernet "github.com/Blackswan15/smart-urban-traffic-manager/internal/net"
	"github.com/Blackswan15/smart-urban-traffic-manager/internal/net/ws"
	"github.com/Blackswan15/smart-urban-traffic-manager/internal/netmap"
	"github.com/Blackswan15/smart-urban-traffic-manager/internal/signal"
	"github.com/Blackswan15/smart-urban-traffic-manager/internal/signal/qlearn"
	"github.com/Blackswan15/smart-urban-traffic-manager/internal/sim"
	"github.com/Blackswan15/smart-urban-traffic-manager/internal/telemetry"
	"github.com/Blackswan15/smart-urban-traffic-manager/logging"
	loggingSinks "github.com/Blackswan15/smart-urban-traffic-manager/logging/sinks"
)

// Options carries the command-line surface. Non-zero values override the
// configuration file.
type Options struct {
	ConfigPath  string
	Addr        string
	NetworkFile string
	Logger      telemetry.Logger
}

// Run boots the server and blocks until the context is cancelled or the
// scenario finishes.
func Run(ctx context.Context, opts Options) error {
	telemetryLogger := opts.Logger
	if telemetryLogger == nil {
		telemetryLogger = telemetry.WrapLogger(log.Default())
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	if opts.Addr != "" {
		cfg.Server.Addr = opts.Addr
	}
	if opts.NetworkFile != "" {
		cfg.Server.NetworkFile = opts.NetworkFile
	}
	if raw := os.Getenv("TICK_RATE_MS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.Sim.TickRate = time.Duration(value) * time.Millisecond
		} else {
			telemetryLogger.Printf("invalid TICK_RATE_MS=%q: %v", raw, err)
		}
	}

	router, err := buildRouter(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if cerr := router.Close(closeCtx); cerr != nil {
			telemetryLogger.Printf("failed to close logging router: %v", cerr)
		}
	}()

	metrics := logging.NewMetrics()

	eng, err := buildEngine(cfg.Engine)
	if err != nil {
		return err
	}
	defer eng.Close()

	policy, savePolicy, err := buildPolicy(cfg.Control, telemetryLogger)
	if err != nil {
		return err
	}
	defer savePolicy()

	driver, err := sim.NewDriver(eng, sim.DriverConfig{
		TickRate: cfg.Sim.TickRate,
		MaxSteps: cfg.Sim.MaxSteps,
		Controller: signal.ControllerConfig{
			MinGreen:       cfg.Control.MinGreen,
			YellowDuration: cfg.Control.YellowDuration,
		},
		Policy:            policy,
		CommandCapacity:   cfg.Sim.CommandCapacity,
		TelemetryCapacity: cfg.Sim.TelemetryCapacity,
		EdgeDirections:    cfg.Display.EdgeDirections,
		PhaseLabels:       cfg.Display.PhaseLabels,
	}, sim.DriverDeps{
		Logger:    telemetryLogger,
		Metrics:   telemetry.WrapMetrics(metrics),
		Publisher: router,
	})
	if err != nil {
		return err
	}

	hub := ws.NewHub(driver.Commands(), driver.Telemetry(), ws.HubConfig{
		BroadcastIdle: cfg.Sim.BroadcastIdle,
	}, ws.HubDeps{
		Logger:    telemetryLogger,
		Metrics:   telemetry.WrapMetrics(metrics),
		Publisher: router,
	})

	var network *netmap.Network
	if cfg.Server.NetworkFile != "" {
		network, err = netmap.ParseFile(cfg.Server.NetworkFile)
		if err != nil {
			// Geometry only affects rendering; control keeps running.
			telemetryLogger.Printf("network geometry unavailable: %v", err)
		}
	}

	handler := servernet.NewHTTPHandler(hub, hub, servernet.HTTPHandlerConfig{
		Network:  network,
		TickRate: cfg.Sim.TickRate,
		Metrics:  metrics,
		Router:   router,
		Logger:   telemetryLogger,
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	driverDone := make(chan error, 1)
	hubDone := make(chan error, 1)
	httpDone := make(chan error, 1)

	go func() {
		driverDone <- driver.Run(runCtx)
	}()
	go func() {
		hubDone <- hub.Run(runCtx)
	}()

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler}
	go func() {
		telemetryLogger.Printf("server listening on %s", srv.Addr)
		httpDone <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err = <-driverDone:
		if err == nil {
			// Scenario finished. Let the fan-out deliver the terminal status
			// to connected clients before tearing everything down.
			select {
			case <-hubDone:
			case <-time.After(5 * time.Second):
				telemetryLogger.Printf("broadcast loop did not drain in time")
			}
		} else if !errors.Is(err, context.Canceled) {
			err = fmt.Errorf("simulation loop: %w", err)
		}
	case err = <-hubDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			err = fmt.Errorf("broadcast loop: %w", err)
		}
	case err = <-httpDone:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			err = fmt.Errorf("http server: %w", err)
		}
	}
	cancel()
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		telemetryLogger.Printf("http shutdown: %v", serr)
	}
	return err
}

func buildRouter(cfg config.Logging) (*logging.Router, error) {
	logCfg := logging.DefaultConfig()
	if len(cfg.Sinks) > 0 {
		logCfg.EnabledSinks = cfg.Sinks
	}
	if cfg.BufferSize > 0 {
		logCfg.BufferSize = cfg.BufferSize
	}
	logCfg.MinimumSeverity = logging.ParseSeverity(cfg.MinSeverity)
	if cfg.DropWarnInterval > 0 {
		logCfg.DropWarnInterval = cfg.DropWarnInterval
	}
	if cfg.JSONPath != "" {
		logCfg.JSON.FilePath = cfg.JSONPath
	}
	if cfg.FlushInterval > 0 {
		logCfg.JSON.FlushInterval = cfg.FlushInterval
	}

	var namedSinks []logging.NamedSink
	if logCfg.HasSink("console") {
		namedSinks = append(namedSinks, logging.NamedSink{
			Name: "console",
			Sink: loggingSinks.NewConsoleSink(os.Stdout),
		})
	}
	if logCfg.HasSink("json") && logCfg.JSON.FilePath != "" {
		f, err := os.OpenFile(logCfg.JSON.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open json log: %w", err)
		}
		namedSinks = append(namedSinks, logging.NamedSink{
			Name: "json",
			Sink: loggingSinks.NewJSONSink(f, logCfg.JSON.FlushInterval),
		})
	}
	return logging.NewRouter(logging.SystemClock{}, logCfg, namedSinks)
}

func buildEngine(cfg config.Engine) (engine.Engine, error) {
	switch cfg.Kind {
	case config.EngineMicrosim:
		return microsim.New(cfg.Microsim)
	default:
		return nil, fmt.Errorf("app: unknown engine kind %q", cfg.Kind)
	}
}

// buildPolicy returns the selection strategy plus a save hook for learned
// state. The hook is a no-op for stateless policies.
func buildPolicy(cfg config.Control, logger telemetry.Logger) (signal.PhasePolicy, func(), error) {
	switch cfg.Policy {
	case config.PolicyMaxPressure, "":
		return nil, func() {}, nil
	case config.PolicyQLearn:
		agent := qlearn.New(cfg.QLearn, rand.New(rand.NewSource(time.Now().UnixNano())))
		if err := agent.LoadTable(); err != nil {
			return nil, nil, fmt.Errorf("app: load q-table: %w", err)
		}
		save := func() {
			if err := agent.SaveTable(); err != nil && logger != nil {
				logger.Printf("failed to persist q-table: %v", err)
			}
		}
		return agent, save, nil
	default:
		return nil, nil, fmt.Errorf("app: unknown policy %q", cfg.Policy)
	}
}
