// Package ports provides the channel pair between the bridge and the application core.
//
// MemPorts keeps both channels in process. ValkeyPorts carries them over Redis/Valkey pub/sub
// so the application core can live in another process.
package ports

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/tonkeeper/wsbridge/internal/bridge"
)

var (
	ErrClosed     = errors.New("ports closed")
	ErrOutputFull = errors.New("output channel full")
)

var (
	outputOverflowMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "number_of_output_overflows",
		Help: "The total number of commands rejected because the output channel was full",
	})
	malformedCommandsMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "number_of_malformed_commands",
		Help: "The total number of commands that could not be decoded",
	})
)

// Ports is the bridge side of a channel pair.
type Ports interface {
	bridge.Input
	bridge.Output
	HealthCheck() error
	Close() error
}

type Options struct {
	InputSize  int
	OutputSize int
	Overflow   OverflowPolicy
	Valkey     ValkeyOptions
}

// New builds the channel pair of the given kind: "memory" or "valkey".
func New(ctx context.Context, kind string, opts Options) (Ports, error) {
	switch kind {
	case "valkey", "redis":
		return NewValkeyPorts(ctx, opts.Valkey)
	case "memory", "":
		return NewMemPorts(opts.InputSize, opts.OutputSize, opts.Overflow), nil
	default:
		return nil, fmt.Errorf("unsupported ports type: %s", kind)
	}
}
