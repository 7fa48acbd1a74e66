// Package main connects an actorsync client to a server and walks the local
// player in a circle, logging lobby changes as they arrive.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/actorsync"
	"github.com/opd-ai/actorsync/arena"
	"github.com/opd-ai/actorsync/config"
	"github.com/opd-ai/actorsync/lobby"
	"github.com/opd-ai/actorsync/logging"
	"github.com/opd-ai/actorsync/protocol"
)

type clientFlags struct {
	radius float64
	period time.Duration
}

// loadConfig layers the config file, the environment and any flag the user
// set explicitly. BindAddress:Port is the server to dial.
func loadConfig(args []string, environment map[string]string) (config.Config, clientFlags, error) {
	fs := flag.NewFlagSet("actorsync-client", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to a TOML configuration file")
	address := fs.String("address", "127.0.0.1", "Server address")
	port := fs.Int("port", config.DefaultPort, "Server control port")
	tickRate := fs.Int("tick-rate", config.DefaultTickRate, "Ticks per second")
	timeout := fs.Duration("bootstrap-timeout", config.DefaultBootstrapTimeout, "Handshake timeout")
	logLevel := fs.String("log-level", "info", "Log level (debug, info, warn, error)")

	var extra clientFlags
	fs.Float64Var(&extra.radius, "radius", 5, "Radius of the walked circle")
	fs.DurationVar(&extra.period, "period", 4*time.Second, "Time for one lap")
	if err := fs.Parse(args); err != nil {
		return config.Config{}, extra, err
	}
	if extra.period <= 0 {
		return config.Config{}, extra, fmt.Errorf("period %s must be positive", extra.period)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return config.Config{}, extra, err
	}
	if err := config.ApplyEnvFrom(&cfg, environment); err != nil {
		return config.Config{}, extra, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "address":
			cfg.BindAddress = *address
		case "port":
			cfg.Port = *port
		case "tick-rate":
			cfg.TickRate = *tickRate
		case "bootstrap-timeout":
			cfg.BootstrapTimeout = *timeout
		case "log-level":
			cfg.Log.Level = *logLevel
		}
	})
	if cfg.BindAddress == config.DefaultBindAddress {
		// A wildcard is only meaningful to listen on.
		cfg.BindAddress = *address
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, extra, err
	}
	// Port 0 only makes sense for a listener.
	if cfg.Port == 0 {
		return config.Config{}, extra, errors.New("port must be set to the server's control port")
	}
	return cfg, extra, nil
}

func environ() map[string]string {
	environment := make(map[string]string)
	for _, kv := range os.Environ() {
		if key, value, ok := strings.Cut(kv, "="); ok {
			environment[key] = value
		}
	}
	return environment
}

// circleAt returns the transform at elapsed time along a circle in the XZ
// plane, facing along the direction of travel.
func circleAt(elapsed time.Duration, radius float64, period time.Duration) protocol.TransformSample {
	angle := 2 * math.Pi * float64(elapsed%period) / float64(period)
	sample := protocol.IdentityTransform()
	sample.Position = [3]float32{float32(radius * math.Cos(angle)), 0, float32(radius * math.Sin(angle))}

	yaw := -angle / 2
	sample.Rotation = [4]float32{0, float32(math.Sin(yaw)), 0, float32(math.Cos(yaw))}
	return sample
}

func run(ctx context.Context, cfg config.Config, extra clientFlags) error {
	world := arena.New()
	client, err := actorsync.Connect(ctx, cfg.Address(), world, actorsync.OptionsFromConfig(cfg))
	if err != nil {
		return err
	}
	defer client.Kill()

	logrus.WithFields(logrus.Fields{
		"function":    "run",
		"server":      cfg.Address(),
		"participant": client.ID(),
	}).Info("Joined lobby")

	client.OnMembershipChanged(func(diff lobby.Diff) {
		logrus.WithFields(logrus.Fields{
			"function": "run",
			"added":    diff.Added,
			"removed":  diff.Removed,
		}).Info("Lobby changed")
	})

	go func() {
		start := time.Now()
		ticker := time.NewTicker(cfg.TickInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				world.SetLocalTransform(circleAt(time.Since(start), extra.radius, extra.period))
			}
		}
	}()

	return client.Run(ctx)
}

func main() {
	cfg, extra, err := loadConfig(os.Args[1:], environ())
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(2)
	}

	closer, err := logging.Configure(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Logging error: %v\n", err)
		os.Exit(2)
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, extra); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "main",
			"error":    err.Error(),
		}).Error("Client stopped")
		closer.Close()
		os.Exit(1)
	}
}
