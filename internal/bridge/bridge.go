// Package bridge connects a population of sockets to one event channel and one command channel.
//
// Every accepted socket gets a fresh identity. Its lifecycle is reported on the input channel as
// Connect, any number of Receive and exactly one Disconnect, in that order. Commands read from the
// output channel are routed to the one connection whose identity they carry; commands for
// identities that are unknown or already gone have no effect.
package bridge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
	"github.com/tonkeeper/wsbridge/internal/location"
	"github.com/tonkeeper/wsbridge/internal/models"
	"github.com/tonkeeper/wsbridge/internal/utils"
)

const acceptRetryDelay = 50 * time.Millisecond

var (
	activeConnectionsMetric = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "number_of_active_connections",
		Help: "The number of active socket connections",
	})
	rejectedConnectionsMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "number_of_rejected_connections",
		Help: "The total number of accepted sockets that could not be bridged",
	})
	emittedEventsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "number_of_emitted_events",
		Help: "The total number of events emitted to the input channel",
	}, []string{"type"})
	routedCommandsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "number_of_routed_commands",
		Help: "The total number of commands routed to a live connection",
	}, []string{"type"})
	unmatchedCommandsMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "number_of_unmatched_commands",
		Help: "The total number of commands addressed to an unknown identity",
	})
	ignoredCommandsMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "number_of_ignored_commands",
		Help: "The total number of commands with an unknown type",
	})
	droppedSendsMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "number_of_dropped_sends",
		Help: "The total number of payloads dropped because the connection outbox was full",
	})
	failedSendsMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "number_of_failed_sends",
		Help: "The total number of socket writes that failed and were discarded",
	})
)

type Option func(*Bridge)

// WithVerbose logs connects, receives, sends, closes and disconnects at info level.
func WithVerbose(verbose bool) Option {
	return func(b *Bridge) {
		b.verbose = verbose
	}
}

// WithOutboxSize sets how many payloads may wait for a single slow socket before new ones are dropped.
func WithOutboxSize(size int) Option {
	return func(b *Bridge) {
		b.outboxSize = size
	}
}

// WithIdentityGenerator replaces the random UUID identities.
func WithIdentityGenerator(gen func() string) Option {
	return func(b *Bridge) {
		b.newID = gen
	}
}

type Bridge struct {
	input      Input
	output     Output
	registry   *Registry
	newID      func() string
	outboxSize int
	verbose    bool

	acceptCtx    context.Context
	stopAccept   context.CancelFunc
	acceptDone   chan struct{}
	dispatchCtx  context.Context
	stopDispatch context.CancelFunc
	dispatchDone chan struct{}

	closing atomic.Bool
	conns   sync.WaitGroup
}

// Attach starts accepting sockets from listener and routing commands from output.
// The returned bridge is the handle used to stop it.
func Attach(listener Listener, input Input, output Output, opts ...Option) *Bridge {
	b := &Bridge{
		input:        input,
		output:       output,
		registry:     NewRegistry(),
		newID:        uuid.NewString,
		outboxSize:   256,
		acceptDone:   make(chan struct{}),
		dispatchDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.acceptCtx, b.stopAccept = context.WithCancel(context.Background())
	b.dispatchCtx, b.stopDispatch = context.WithCancel(context.Background())

	go b.acceptLoop(listener)
	go b.dispatchLoop()
	return b
}

// Stop stops accepting new sockets. Live connections are not affected.
func (b *Bridge) Stop() {
	b.stopAccept()
}

// Shutdown stops accepting, closes every live socket and waits until each of them has been torn down.
func (b *Bridge) Shutdown(ctx context.Context) error {
	b.Stop()
	select {
	case <-b.acceptDone:
	case <-ctx.Done():
		return ctx.Err()
	}

	b.closing.Store(true)
	for _, conn := range b.registry.Snapshot() {
		_ = conn.socket.Close()
	}

	drained := make(chan struct{})
	go func() {
		b.conns.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		return ctx.Err()
	}

	b.stopDispatch()
	select {
	case <-b.dispatchDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connections returns the number of live connections.
func (b *Bridge) Connections() int {
	return b.registry.Len()
}

func (b *Bridge) acceptLoop(listener Listener) {
	log := log.WithField("prefix", "Bridge.acceptLoop")
	defer close(b.acceptDone)

	for {
		socket, err := listener.Accept(b.acceptCtx)
		if err != nil {
			if b.acceptCtx.Err() != nil || errors.Is(err, ErrListenerClosed) {
				log.Info("stopped accepting connections")
				return
			}
			log.Warnf("accept failed: %v", err)
			time.Sleep(acceptRetryDelay)
			continue
		}
		if b.acceptCtx.Err() != nil {
			_ = socket.Close()
			log.Info("stopped accepting connections")
			return
		}

		b.conns.Add(1)
		utils.RunWithRecovery("Bridge.serve", func() {
			defer b.conns.Done()
			b.serve(socket)
		})
	}
}

func (b *Bridge) serve(socket Socket) {
	log := log.WithField("prefix", "Bridge.serve")

	id := b.newID()
	loc, err := location.FromRequest(socket.Host(), socket.RequestURI())
	if err != nil {
		rejectedConnectionsMetric.Inc()
		log.Warnf("connection rejected: %v", err)
		_ = socket.Close()
		return
	}

	conn := newConnection(id, loc, socket, b.outboxSize)
	if err := b.registry.Add(conn); err != nil {
		rejectedConnectionsMetric.Inc()
		log.Errorf("connection %s rejected: %v", id, err)
		_ = socket.Close()
		return
	}
	activeConnectionsMetric.Inc()
	defer b.teardown(conn)

	go conn.writeLoop()
	b.emit(models.Connect(id, loc))
	if b.verbose {
		log.WithField("prefix", "verbose").WithField("id", id).Info("connected")
	}
	if b.closing.Load() {
		_ = socket.Close()
	}

	for {
		payload, err := socket.ReadMessage()
		if err != nil {
			log.Debugf("connection %s read ended: %v", id, err)
			return
		}
		if b.verbose {
			log.WithField("prefix", "verbose").WithField("from", id).WithField("payload", payload).Info("receive")
		}
		b.emit(models.Receive(id, loc, payload))
	}
}

// teardown releases the connection exactly once no matter how many termination paths fire.
func (b *Bridge) teardown(conn *Connection) {
	conn.once.Do(func() {
		b.registry.Remove(conn.ID)
		close(conn.done)
		b.emit(models.Disconnect(conn.ID, conn.Location))
		_ = conn.socket.Close()
		activeConnectionsMetric.Dec()
		if b.verbose {
			log.WithField("prefix", "verbose").WithField("id", conn.ID).Info("disconnected")
		}
	})
}

func (b *Bridge) emit(event models.Event) {
	if err := b.input.Emit(context.Background(), event); err != nil {
		log.WithField("prefix", "Bridge.emit").Errorf("failed to emit %s for %s: %v", event.Type, event.ID, err)
		return
	}
	emittedEventsMetric.WithLabelValues(string(event.Type)).Inc()
}

func (b *Bridge) dispatchLoop() {
	defer close(b.dispatchDone)

	verbose := newVerboseLog(b.verbose)
	commands := b.output.Commands()
	for {
		select {
		case <-b.dispatchCtx.Done():
			return
		case cmd, ok := <-commands:
			if !ok {
				log.WithField("prefix", "Bridge.dispatchLoop").Info("command channel closed")
				return
			}
			b.route(cmd, verbose)
		}
	}
}

func (b *Bridge) route(cmd models.Command, verbose *verboseLog) {
	defer utils.Recover("Bridge.route")

	switch cmd.Type {
	case models.CommandClose, models.CommandSend:
	default:
		ignoredCommandsMetric.Inc()
		return
	}

	conn, ok := b.registry.Get(cmd.ID)
	if !ok {
		unmatchedCommandsMetric.Inc()
		return
	}

	switch cmd.Type {
	case models.CommandClose:
		verbose.close(conn.ID)
		conn.enqueueClose()
	case models.CommandSend:
		verbose.send(conn.ID, cmd.Message)
		if !conn.enqueueSend(cmd.Message) {
			droppedSendsMetric.Inc()
			return
		}
	}
	routedCommandsMetric.WithLabelValues(string(cmd.Type)).Inc()
}
