// Package main runs the authoritative actorsync server.
//
// Configuration is read from an optional TOML file, then ACTORSYNC_*
// environment variables, then the flags below. The server ticks until it
// receives an interrupt.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/actorsync"
	"github.com/opd-ai/actorsync/arena"
	"github.com/opd-ai/actorsync/config"
	"github.com/opd-ai/actorsync/logging"
	"github.com/opd-ai/actorsync/protocol"
)

// loadConfig layers the config file, the environment and any flag the user
// set explicitly.
func loadConfig(args []string, environment map[string]string) (config.Config, error) {
	fs := flag.NewFlagSet("actorsync-server", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to a TOML configuration file")
	address := fs.String("address", config.DefaultBindAddress, "Address to listen on")
	port := fs.Int("port", config.DefaultPort, "Control port")
	tickRate := fs.Int("tick-rate", config.DefaultTickRate, "Ticks per second")
	timeout := fs.Duration("bootstrap-timeout", config.DefaultBootstrapTimeout, "Handshake timeout")
	logLevel := fs.String("log-level", "info", "Log level (debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return config.Config{}, err
	}
	if err := config.ApplyEnvFrom(&cfg, environment); err != nil {
		return config.Config{}, err
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

	return cfg, cfg.Validate()
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

func run(ctx context.Context, cfg config.Config) error {
	world := arena.New()
	server, err := actorsync.ListenServer(world, actorsync.OptionsFromConfig(cfg))
	if err != nil {
		return err
	}

	server.OnParticipantJoined(func(id protocol.ParticipantID) {
		logrus.WithFields(logrus.Fields{
			"function":    "run",
			"participant": id,
		}).Info("Participant admitted")
	})

	return server.Run(ctx)
}

func main() {
	cfg, err := loadConfig(os.Args[1:], environ())
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

	start := time.Now()
	if err := run(ctx, cfg); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "main",
			"error":    err.Error(),
		}).Error("Server failed")
		closer.Close()
		os.Exit(1)
	}
	logrus.WithField("uptime", time.Since(start).Round(time.Second).String()).Info("Server shut down")
}
