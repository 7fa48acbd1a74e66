package actorsync

import (
	"time"

	"github.com/opd-ai/actorsync/config"
	"github.com/opd-ai/actorsync/transport"
)

// Options contains configuration options for creating a Server or Client.
type Options struct {
	// ListenAddress is the server's control address. Unused by clients.
	ListenAddress string
	// TickRate is the number of ticks per second.
	TickRate int
	// BootstrapTimeout bounds the blocking handshake.
	BootstrapTimeout time.Duration
	// SendBuffer and ReceiveBuffer size the per-channel session queues.
	SendBuffer    int
	ReceiveBuffer int
}

// NewOptions creates a new default Options.
func NewOptions() *Options {
	return &Options{
		ListenAddress:    "0.0.0.0:7777",
		TickRate:         config.DefaultTickRate,
		BootstrapTimeout: config.DefaultBootstrapTimeout,
		SendBuffer:       transport.DefaultBufferSize,
		ReceiveBuffer:    transport.DefaultBufferSize,
	}
}

// OptionsFromConfig builds Options from a loaded configuration.
func OptionsFromConfig(cfg config.Config) *Options {
	return &Options{
		ListenAddress:    cfg.Address(),
		TickRate:         cfg.TickRate,
		BootstrapTimeout: cfg.BootstrapTimeout,
		SendBuffer:       cfg.SendBuffer,
		ReceiveBuffer:    cfg.ReceiveBuffer,
	}
}

func (o *Options) iterationInterval() time.Duration {
	if o.TickRate <= 0 {
		return time.Second / config.DefaultTickRate
	}
	return time.Second / time.Duration(o.TickRate)
}

// bufferSize picks one queue depth for sessions, which use the same depth
// in both directions.
func (o *Options) bufferSize() int {
	return max(o.SendBuffer, o.ReceiveBuffer, 1)
}
