package ports

import (
	"context"
	"fmt"
	"sync"

	"github.com/tonkeeper/wsbridge/internal/models"
)

// OverflowPolicy decides what Send does when the command buffer is full.
type OverflowPolicy string

const (
	OverflowBlock OverflowPolicy = "block"
	OverflowDrop  OverflowPolicy = "drop"
)

func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch OverflowPolicy(s) {
	case OverflowBlock, "":
		return OverflowBlock, nil
	case OverflowDrop:
		return OverflowDrop, nil
	default:
		return "", fmt.Errorf("unknown overflow policy %q, expected block or drop", s)
	}
}

// MemPorts is an in-process channel pair. The bridge emits events and reads commands,
// the application core reads Events and calls Send.
type MemPorts struct {
	events   chan models.Event
	commands chan models.Command
	policy   OverflowPolicy
	closed   chan struct{}
	once     sync.Once
}

func NewMemPorts(inputSize, outputSize int, policy OverflowPolicy) *MemPorts {
	if inputSize < 0 {
		inputSize = 0
	}
	if outputSize < 0 {
		outputSize = 0
	}
	if policy == "" {
		policy = OverflowBlock
	}
	return &MemPorts{
		events:   make(chan models.Event, inputSize),
		commands: make(chan models.Command, outputSize),
		policy:   policy,
		closed:   make(chan struct{}),
	}
}

// Emit blocks until the core has room for the event, the ports are closed or ctx is done.
func (p *MemPorts) Emit(ctx context.Context, event models.Event) error {
	select {
	case <-p.closed:
		return ErrClosed
	default:
	}
	select {
	case p.events <- event:
		return nil
	case <-p.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *MemPorts) Commands() <-chan models.Command {
	return p.commands
}

func (p *MemPorts) Events() <-chan models.Event {
	return p.events
}

// Send hands a command to the bridge. With OverflowDrop a full buffer fails fast with ErrOutputFull.
func (p *MemPorts) Send(ctx context.Context, cmd models.Command) error {
	select {
	case <-p.closed:
		return ErrClosed
	default:
	}
	if p.policy == OverflowDrop {
		select {
		case p.commands <- cmd:
			return nil
		default:
			outputOverflowMetric.Inc()
			return ErrOutputFull
		}
	}
	select {
	case p.commands <- cmd:
		return nil
	case <-p.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once Close has been called.
func (p *MemPorts) Done() <-chan struct{} {
	return p.closed
}

func (p *MemPorts) Close() error {
	p.once.Do(func() {
		close(p.closed)
	})
	return nil
}

func (p *MemPorts) HealthCheck() error {
	select {
	case <-p.closed:
		return ErrClosed
	default:
		return nil
	}
}
