// Package activityhub provides the component that consumes configure, run,
// and delete requests from the request stream and dispatches them to the
// hub's orchestration services.
package activityhub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/planhub/hub"
)

// hubSchema defines the configuration schema.
var hubSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Services bundles the orchestration services the component dispatches to.
// They are injected by the service wiring, not built from raw config, so the
// component shares the process-wide plan cache and lock map.
type Services struct {
	Configuration *hub.ConfigurationService
	Execution     *hub.ExecutionService
	Deletion      *hub.DeletionService
}

// serviceBinding carries the injected services into the component factory.
// Set once at wiring time before the registry instantiates components.
var (
	bindingMu sync.RWMutex
	binding   Services
)

// Bind installs the orchestration services used by every component instance.
func Bind(s Services) {
	bindingMu.Lock()
	defer bindingMu.Unlock()
	binding = s
}

func boundServices() Services {
	bindingMu.RLock()
	defer bindingMu.RUnlock()
	return binding
}

// Component consumes hub requests from JetStream and runs them.
type Component struct {
	name       string
	config     Config
	natsClient *natsclient.Client
	logger     *slog.Logger
	platform   component.PlatformMeta
	services   Services

	consumer jetstream.Consumer
	mu       sync.RWMutex

	// Lifecycle management
	running   bool
	startTime time.Time
	cancel    context.CancelFunc

	// Metrics
	processed    int64
	failures     int64
	lastActivity time.Time
}

// NewComponent creates a new activity hub component.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	var config Config
	if err := json.Unmarshal(rawConfig, &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Apply defaults
	defaults := DefaultConfig()
	if config.StreamName == "" {
		config.StreamName = defaults.StreamName
	}
	if config.ConsumerName == "" {
		config.ConsumerName = defaults.ConsumerName
	}
	if config.RequestSubjects == "" {
		config.RequestSubjects = defaults.RequestSubjects
	}
	if config.Ports == nil {
		config.Ports = defaults.Ports
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Component{
		name:       "activity-hub",
		config:     config,
		natsClient: deps.NATSClient,
		logger:     deps.GetLogger(),
		platform:   deps.Platform,
		services:   boundServices(),
	}, nil
}

// Initialize prepares the component.
func (c *Component) Initialize() error {
	if c.services.Configuration == nil || c.services.Execution == nil || c.services.Deletion == nil {
		return fmt.Errorf("activity hub services not bound")
	}
	return nil
}

// Start begins consuming hub requests.
func (c *Component) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("component already running")
	}
	if c.natsClient == nil {
		c.mu.Unlock()
		return fmt.Errorf("NATS client required")
	}

	c.running = true
	c.startTime = time.Now()

	subCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	js, err := c.natsClient.JetStream()
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("get jetstream: %w", err)
	}

	stream, err := js.Stream(subCtx, c.config.StreamName)
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("get stream %s: %w", c.config.StreamName, err)
	}

	consumerConfig := jetstream.ConsumerConfig{
		Durable:       c.config.ConsumerName,
		FilterSubject: c.config.RequestSubjects,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       2 * time.Minute,
		MaxDeliver:    3,
	}

	consumer, err := stream.CreateOrUpdateConsumer(subCtx, consumerConfig)
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("create consumer: %w", err)
	}
	c.consumer = consumer

	go c.consumeLoop(subCtx)

	c.logger.Info("activity-hub started",
		"stream", c.config.StreamName,
		"consumer", c.config.ConsumerName,
		"subjects", c.config.RequestSubjects)

	return nil
}

func (c *Component) rollbackStart(cancel context.CancelFunc) {
	c.mu.Lock()
	c.running = false
	c.cancel = nil
	c.mu.Unlock()
	cancel()
}

// consumeLoop continuously consumes messages from the JetStream consumer.
func (c *Component) consumeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := c.consumer.Fetch(1, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Debug("Fetch timeout or error", "error", err)
			continue
		}

		for msg := range msgs.Messages() {
			c.handleRequest(ctx, msg)
		}

		if msgs.Error() != nil && msgs.Error() != context.DeadlineExceeded {
			c.logger.Warn("Message fetch error", "error", msgs.Error())
		}
	}
}

// handleRequest dispatches one request by its subject. Caller-input errors
// ack the message (retrying cannot fix them); everything else naks for
// redelivery.
func (c *Component) handleRequest(ctx context.Context, msg jetstream.Msg) {
	c.mu.Lock()
	c.processed++
	c.lastActivity = time.Now()
	c.mu.Unlock()

	subject := msg.Subject()
	var err error
	switch {
	case strings.Contains(subject, ".configure."):
		err = c.handleConfigure(ctx, msg.Data())
	case strings.Contains(subject, ".run."):
		err = c.handleRun(ctx, msg.Data())
	case strings.Contains(subject, ".delete."):
		err = c.handleDelete(ctx, msg.Data())
	default:
		c.logger.Warn("Unknown request subject", "subject", subject)
		if aerr := msg.Ack(); aerr != nil {
			c.logger.Warn("Failed to ACK message", "error", aerr)
		}
		return
	}

	if err != nil {
		c.mu.Lock()
		c.failures++
		c.mu.Unlock()
		c.logger.Error("Request failed", "subject", subject, "error", err)
		if nerr := msg.Nak(); nerr != nil {
			c.logger.Warn("Failed to NAK message", "error", nerr)
		}
		return
	}

	if err := msg.Ack(); err != nil {
		c.logger.Warn("Failed to ACK message", "error", err)
	}
}

func (c *Component) handleConfigure(ctx context.Context, data []byte) error {
	req, err := parsePayload[ConfigureRequest](data)
	if err != nil {
		return fmt.Errorf("parse configure request: %w", err)
	}
	if err := req.Validate(); err != nil {
		return fmt.Errorf("invalid configure request: %w", err)
	}

	c.logger.Info("Processing configure request",
		"request_id", req.RequestID,
		"activity_id", req.Activity.ID)

	_, err = c.services.Configuration.Configure(ctx, req.AccountID, req.Activity)
	return err
}

func (c *Component) handleRun(ctx context.Context, data []byte) error {
	req, err := parsePayload[RunRequest](data)
	if err != nil {
		return fmt.Errorf("parse run request: %w", err)
	}
	if err := req.Validate(); err != nil {
		return fmt.Errorf("invalid run request: %w", err)
	}

	containerID := req.ContainerID
	if containerID == uuid.Nil {
		container, err := c.services.Execution.Launch(ctx, req.PlanID)
		if err != nil {
			return err
		}
		containerID = container.ID
	}

	c.logger.Info("Processing run request",
		"request_id", req.RequestID,
		"container_id", containerID)

	_, err = c.services.Execution.Execute(ctx, containerID)
	return err
}

func (c *Component) handleDelete(ctx context.Context, data []byte) error {
	req, err := parsePayload[DeleteRequest](data)
	if err != nil {
		return fmt.Errorf("parse delete request: %w", err)
	}
	if err := req.Validate(); err != nil {
		return fmt.Errorf("invalid delete request: %w", err)
	}

	c.logger.Info("Processing delete request",
		"request_id", req.RequestID,
		"activity_id", req.ActivityID)

	return c.services.Deletion.Delete(ctx, req.ActivityID)
}

// Stop gracefully stops the component.
func (c *Component) Stop(_ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}

	if c.cancel != nil {
		c.cancel()
	}

	c.running = false
	c.logger.Info("activity-hub stopped",
		"processed", c.processed,
		"failures", c.failures)

	return nil
}

// Discoverable interface implementation

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "activity-hub",
		Type:        "processor",
		Description: "Dispatches configure, run, and delete requests to the plan hub",
		Version:     "0.1.0",
	}
}

// InputPorts returns configured input port definitions.
func (c *Component) InputPorts() []component.Port {
	return []component.Port{
		{
			Name:        "hub-requests",
			Direction:   component.DirectionInput,
			Description: "Configure, run, and delete requests",
			Config: component.JetStreamPort{
				StreamName: c.config.StreamName,
				Subjects:   []string{c.config.RequestSubjects},
			},
		},
	}
}

// OutputPorts returns configured output port definitions.
func (c *Component) OutputPorts() []component.Port {
	return []component.Port{
		{
			Name:        "plan-events",
			Direction:   component.DirectionOutput,
			Description: "Activity lifecycle and terminal failure events",
			Config: component.JetStreamPort{
				StreamName: c.config.StreamName,
				Subjects:   []string{"plan.event.>"},
			},
		},
	}
}

// ConfigSchema returns the configuration schema.
func (c *Component) ConfigSchema() component.ConfigSchema {
	return hubSchema
}

// Health returns the current health status.
func (c *Component) Health() component.HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := "stopped"
	if c.running {
		status = "running"
	}

	return component.HealthStatus{
		Healthy:    c.running,
		LastCheck:  time.Now(),
		ErrorCount: int(c.failures),
		Uptime:     time.Since(c.startTime),
		Status:     status,
	}
}

// DataFlow returns current data flow metrics.
func (c *Component) DataFlow() component.FlowMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return component.FlowMetrics{
		MessagesPerSecond: 0,
		BytesPerSecond:    0,
		ErrorRate:         0,
		LastActivity:      c.lastActivity,
	}
}
