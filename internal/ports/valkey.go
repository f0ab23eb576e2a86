package ports

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
	log "github.com/sirupsen/logrus"
	"github.com/tonkeeper/wsbridge/internal/models"
)

var publishedEventsMetric = promauto.NewCounter(prometheus.CounterOpts{
	Name: "number_of_published_events",
	Help: "The total number of events published to valkey",
})

type ValkeyOptions struct {
	URI             string
	EventsChannel   string
	CommandsChannel string
	BufferSize      int
	// ConnectRetries bounds the ping attempts made before giving up at startup.
	ConnectRetries uint64
}

// ValkeyPorts publishes events on one pub/sub channel and reads commands from another.
type ValkeyPorts struct {
	client        redis.UniversalClient
	pubsub        *redis.PubSub
	eventsChannel string
	commands      chan models.Command
	done          chan struct{}
	closeOnce     sync.Once
}

// NewValkeyPorts connects to Valkey and subscribes to the commands channel.
// A comma separated URI list selects cluster mode.
func NewValkeyPorts(ctx context.Context, opts ValkeyOptions) (*ValkeyPorts, error) {
	log := log.WithField("prefix", "NewValkeyPorts")

	if opts.EventsChannel == "" || opts.CommandsChannel == "" {
		return nil, fmt.Errorf("events and commands channels must be set")
	}
	client, err := newValkeyClient(opts.URI)
	if err != nil {
		return nil, err
	}

	retries := opts.ConnectRetries
	if retries == 0 {
		retries = 5
	}
	backoff := retry.WithMaxRetries(retries, retry.NewExponential(200*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			log.Warnf("valkey ping failed, retrying: %v", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connection failed: %w", err)
	}

	pubsub := client.Subscribe(ctx, opts.CommandsChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		_ = client.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", opts.CommandsChannel, err)
	}

	bufferSize := opts.BufferSize
	if bufferSize < 0 {
		bufferSize = 0
	}
	p := &ValkeyPorts{
		client:        client,
		pubsub:        pubsub,
		eventsChannel: opts.EventsChannel,
		commands:      make(chan models.Command, bufferSize),
		done:          make(chan struct{}),
	}
	go p.handleCommands()

	log.Infof("publishing events to %s, reading commands from %s", opts.EventsChannel, opts.CommandsChannel)
	return p, nil
}

func newValkeyClient(uri string) (redis.UniversalClient, error) {
	uris := strings.Split(uri, ",")
	if len(uris) == 1 {
		opts, err := redis.ParseURL(strings.TrimSpace(uris[0]))
		if err != nil {
			return nil, fmt.Errorf("failed to parse URI: %w", err)
		}
		return redis.NewClient(opts), nil
	}

	addrs := make([]string, len(uris))
	var first *redis.Options
	for i, u := range uris {
		opts, err := redis.ParseURL(strings.TrimSpace(u))
		if err != nil {
			return nil, fmt.Errorf("failed to parse URI %d: %w", i+1, err)
		}
		addrs[i] = opts.Addr
		if i == 0 {
			first = opts
		}
	}
	log.WithField("prefix", "newValkeyClient").Infof("Using cluster mode with %d node seed(s)", len(addrs))
	return redis.NewClusterClient(&redis.ClusterOptions{
		Addrs:     addrs,
		Username:  first.Username,
		Password:  first.Password,
		TLSConfig: first.TLSConfig,
	}), nil
}

// Emit publishes the event as JSON on the events channel.
func (p *ValkeyPorts) Emit(ctx context.Context, event models.Event) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	data, err := EncodeEvent(event)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.eventsChannel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event to channel %s: %w", p.eventsChannel, err)
	}
	publishedEventsMetric.Inc()
	return nil
}

func (p *ValkeyPorts) Commands() <-chan models.Command {
	return p.commands
}

func (p *ValkeyPorts) handleCommands() {
	log := log.WithField("prefix", "ValkeyPorts.handleCommands")
	defer close(p.commands)

	for msg := range p.pubsub.Channel() {
		cmd, err := DecodeCommand([]byte(msg.Payload))
		if err != nil {
			malformedCommandsMetric.Inc()
			log.Warnf("skipping command from %s: %v", msg.Channel, err)
			continue
		}
		select {
		case p.commands <- cmd:
		case <-p.done:
			return
		}
	}
}

func (p *ValkeyPorts) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("valkey health check failed: %w", err)
	}
	return nil
}

func (p *ValkeyPorts) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		if e := p.pubsub.Close(); e != nil {
			err = e
		}
		if e := p.client.Close(); e != nil && err == nil {
			err = e
		}
	})
	return err
}
