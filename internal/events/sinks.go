package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/marcus/taskgrid/internal/logging"
)

// LogSink writes events to a logger.
type LogSink struct {
	logger *logging.Logger
}

// NewLogSink creates a sink that logs each event at info level.
func NewLogSink(l *logging.Logger) *LogSink {
	return &LogSink{logger: l}
}

func (s *LogSink) Publish(_ context.Context, e Event) error {
	ev := s.logger.Zerolog().Info().
		Str("event_id", e.ID).
		Str("type", string(e.Type)).
		Str("task", e.TaskID).
		Time("at", e.Timestamp)
	if e.Agent != "" {
		ev = ev.Str("agent", e.Agent)
	}
	if len(e.Unblocked) > 0 {
		ev = ev.Strs("unblocked", e.Unblocked)
	}
	if e.Reason != "" {
		ev = ev.Str("reason", e.Reason)
	}
	ev.Msg("event")
	return nil
}

func (s *LogSink) Close() error { return nil }

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL            string
	Name           string
	SubjectPrefix  string
	ConnectTimeout time.Duration
	ReconnectWait  time.Duration
	MaxReconnects  int // -1 = unlimited
}

// DefaultNATSConfig returns a config for a local server.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:            nats.DefaultURL,
		Name:           "taskgrid",
		SubjectPrefix:  "taskgrid.events",
		ConnectTimeout: 5 * time.Second,
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1,
	}
}

// publisher is the slice of *nats.Conn the sink needs.
type publisher interface {
	Publish(subject string, data []byte) error
	Close()
}

// NATSSink publishes events as JSON to <prefix>.<type>.
type NATSSink struct {
	conn   publisher
	prefix string
}

// DialNATS connects to the configured server.
func DialNATS(cfg NATSConfig) (*NATSSink, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	opts := []nats.Option{
		nats.Timeout(cfg.ConnectTimeout),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
	}
	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return newNATSSink(conn, cfg.SubjectPrefix), nil
}

func newNATSSink(conn publisher, prefix string) *NATSSink {
	if prefix == "" {
		prefix = DefaultNATSConfig().SubjectPrefix
	}
	return &NATSSink{conn: conn, prefix: strings.TrimSuffix(prefix, ".")}
}

// Subject returns the subject an event is published on.
func (s *NATSSink) Subject(e Event) string {
	return s.prefix + "." + string(e.Type)
}

func (s *NATSSink) Publish(_ context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	if err := s.conn.Publish(s.Subject(e), data); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

func (s *NATSSink) Close() error {
	s.conn.Close()
	return nil
}

// Async decouples publishers from a slow sink with a bounded queue. When the
// queue is full the event is dropped and counted; Publish never blocks.
type Async struct {
	next    Sink
	queue   chan Event
	logger  *logging.Logger
	dropped atomic.Int64
	closed  atomic.Bool
	mu      sync.RWMutex
	done    chan struct{}
}

// NewAsync starts a delivery goroutine in front of next.
func NewAsync(next Sink, buffer int, l *logging.Logger) *Async {
	if buffer <= 0 {
		buffer = 256
	}
	a := &Async{
		next:   next,
		queue:  make(chan Event, buffer),
		logger: l,
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	for e := range a.queue {
		if err := a.next.Publish(context.Background(), e); err != nil {
			a.logger.Err(err).Str("type", string(e.Type)).Str("task", e.TaskID).Msg("event delivery failed")
		}
	}
}

func (a *Async) Publish(_ context.Context, e Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed.Load() {
		return ErrClosed
	}
	select {
	case a.queue <- e:
	default:
		a.dropped.Add(1)
		a.logger.Zerolog().Warn().Str("type", string(e.Type)).Str("task", e.TaskID).Msg("event queue full, dropping")
	}
	return nil
}

// Dropped returns how many events were discarded because the queue was full.
func (a *Async) Dropped() int64 {
	return a.dropped.Load()
}

// Close stops accepting events, delivers what is queued and closes next.
func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed.Swap(true) {
		a.mu.Unlock()
		return nil
	}
	close(a.queue)
	a.mu.Unlock()

	<-a.done
	return a.next.Close()
}
