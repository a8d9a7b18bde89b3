package publisher

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxpert/groupd/cfg"
	"github.com/maxpert/groupd/groups"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
)

// DefaultFormat is the payload format used when a sink names none
const DefaultFormat = "msgpack"

// RegistryConfig configures the membership event publisher registry
type RegistryConfig struct {
	Daemon      string                  // Name stamped on every event
	Capacity    int                     // PublishLog capacity
	SinkConfigs []cfg.SinkConfiguration // From config
	Clock       func() time.Time        // Defaults to time.Now
}

// Registry manages the lifecycle of all publisher workers. It observes
// notifications delivered by the session directory and appends them to
// the shared publish log.
type Registry struct {
	daemon  string
	clock   func() time.Time
	log     *PublishLog
	workers []*Worker
	running atomic.Bool
	mu      sync.Mutex
}

// NewRegistry creates a new publisher registry
func NewRegistry(config RegistryConfig) (*Registry, error) {
	if config.Daemon == "" {
		return nil, fmt.Errorf("daemon name is required")
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}

	pubLog := NewPublishLog(config.Capacity)

	registry := &Registry{
		daemon:  config.Daemon,
		clock:   config.Clock,
		log:     pubLog,
		workers: make([]*Worker, 0, len(config.SinkConfigs)),
	}

	for _, sinkCfg := range config.SinkConfigs {
		if err := registry.AddSink(sinkCfg); err != nil {
			for _, worker := range registry.workers {
				if worker.config.Sink != nil {
					worker.config.Sink.Close()
				}
			}
			pubLog.Close()
			return nil, fmt.Errorf("failed to add sink %q: %w", sinkCfg.Name, err)
		}
	}

	log.Info().
		Int("workers", len(registry.workers)).
		Msg("Membership publisher registry initialized")

	return registry, nil
}

// AddSink creates and adds a new worker for the given sink configuration
func (r *Registry) AddSink(config cfg.SinkConfiguration) error {
	snk, err := createSink(config)
	if err != nil {
		return fmt.Errorf("failed to create sink: %w", err)
	}
	return r.addWorker(config, snk)
}

func (r *Registry) addWorker(config cfg.SinkConfiguration, snk Sink) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	format := config.Format
	if format == "" {
		format = DefaultFormat
	}
	trans, err := createTransformer(format)
	if err != nil {
		snk.Close()
		return fmt.Errorf("failed to create transformer: %w", err)
	}
	if config.Compress {
		trans, err = wrapCompression(trans)
		if err != nil {
			snk.Close()
			return fmt.Errorf("failed to create compressor: %w", err)
		}
	}

	filter, err := NewGlobFilter(config.FilterGroups)
	if err != nil {
		snk.Close()
		return fmt.Errorf("failed to create filter: %w", err)
	}

	worker, err := NewWorker(WorkerConfig{
		Name:            config.Name,
		Log:             r.log,
		Sink:            snk,
		Transformer:     trans,
		Filter:          filter,
		TopicPrefix:     config.TopicPrefix,
		BatchSize:       config.BatchSize,
		PollInterval:    time.Duration(config.PollIntervalMS) * time.Millisecond,
		RetryInitial:    time.Duration(config.RetryInitialMS) * time.Millisecond,
		RetryMax:        time.Duration(config.RetryMaxMS) * time.Millisecond,
		RetryMultiplier: config.RetryMultiplier,
	})
	if err != nil {
		snk.Close()
		return fmt.Errorf("failed to create worker: %w", err)
	}

	r.workers = append(r.workers, worker)
	if r.running.Load() {
		worker.Start()
	}

	log.Info().
		Str("sink", config.Name).
		Str("type", config.Type).
		Str("format", format).
		Bool("compress", config.Compress).
		Msg("Added membership sink")

	return nil
}

// Start starts all workers
func (r *Registry) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running.Load() {
		return fmt.Errorf("registry already running")
	}

	log.Info().Int("workers", len(r.workers)).Msg("Starting membership publisher registry")

	for _, worker := range r.workers {
		worker.Start()
	}

	r.running.Store(true)

	return nil
}

// Stop stops all workers, closes their sinks and the publish log
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running.Swap(false) {
		return
	}

	log.Info().Msg("Stopping membership publisher registry")

	for _, worker := range r.workers {
		worker.Stop()
		if err := worker.config.Sink.Close(); err != nil {
			log.Warn().Err(err).Str("sink", worker.config.Name).Msg("Failed to close sink")
		}
	}

	if err := r.log.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close publish log")
	}

	log.Info().Msg("Membership publisher registry stopped")
}

// Append adds events to the publish log
func (r *Registry) Append(events []MembershipEvent) error {
	if !r.running.Load() {
		return fmt.Errorf("registry not running")
	}
	return r.log.Append(events)
}

// Observe records a delivered notification. It runs on the engine goroutine
// and never blocks on a sink.
func (r *Registry) Observe(boxes []groups.Mailbox, n groups.Notification) {
	event := ConvertNotification(r.daemon, len(boxes), n, r.clock().UnixMilli())
	if err := r.Append([]MembershipEvent{event}); err != nil {
		log.Debug().Err(err).Str("group", n.Group).Msg("Membership event not recorded")
	}
}

// createSink creates a sink based on the configuration
func createSink(config cfg.SinkConfiguration) (Sink, error) {
	factory, exists := sinkFactories.Load(config.Type)
	if !exists {
		return nil, fmt.Errorf("unknown sink type: %s", config.Type)
	}
	return factory(config)
}

// SinkFactory is a function that creates a Sink from a configuration
type SinkFactory func(cfg.SinkConfiguration) (Sink, error)

// TransformerFactory is a function that creates a Transformer
type TransformerFactory func() Transformer

var (
	sinkFactories        = xsync.NewMapOf[string, SinkFactory]()
	transformerFactories = xsync.NewMapOf[string, TransformerFactory]()
)

// RegisterSink registers a sink factory for a type
func RegisterSink(sinkType string, factory SinkFactory) {
	sinkFactories.Store(sinkType, factory)
}

// RegisterTransformer registers a transformer factory for a format
func RegisterTransformer(format string, factory TransformerFactory) {
	transformerFactories.Store(format, factory)
}

// createTransformer creates a transformer based on the format
func createTransformer(format string) (Transformer, error) {
	factory, exists := transformerFactories.Load(format)
	if !exists {
		return nil, fmt.Errorf("unknown format: %s", format)
	}
	return factory(), nil
}
