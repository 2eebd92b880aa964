package ports

import "context"

const (
	// EventPipelineStarted is emitted when a run plan begins execution.
	EventPipelineStarted = "pipeline.started"
	// EventPipelineCompleted is emitted after every unit of the plan succeeded.
	EventPipelineCompleted = "pipeline.completed"
	// EventPipelineFailed is emitted when the run halts on a fatal failure.
	EventPipelineFailed = "pipeline.failed"
	// EventStageStarted is emitted before an execution unit is attempted.
	EventStageStarted = "stage.started"
	// EventStageSkipped is emitted when a unit is already satisfied.
	EventStageSkipped = "stage.skipped"
	// EventStageRetrying is emitted when a transient failure is re-invoked.
	EventStageRetrying = "stage.retrying"
	// EventStageCompleted is emitted once a unit published its outputs.
	EventStageCompleted = "stage.completed"
	// EventStageDegraded is emitted when a unit published reduced-fidelity outputs.
	EventStageDegraded = "stage.degraded"
	// EventStageFailed is emitted when a unit fails fatally.
	EventStageFailed = "stage.failed"
	// EventRoundStarted is emitted when a backtranslation round begins.
	EventRoundStarted = "round.started"
	// EventRoundCompleted is emitted once both directions of a round published.
	EventRoundCompleted = "round.completed"
)

// DomainEvent represents a significant occurrence during a pipeline run.
// Events carry structured payloads that subscribers use for logging and
// progress rendering.
type DomainEvent interface {
	EventType() string
	Payload() interface{}
}

// EventPublisher distributes events to interested subscribers. Dispatch is
// synchronous: Publish blocks until all handlers ran. Implementations must be
// thread-safe because the two directions of a round publish concurrently.
type EventPublisher interface {
	Publish(ctx context.Context, event DomainEvent) error
	Subscribe(eventType string, handler EventHandler) (Subscription, error)
}

// EventHandler processes an event of a specific type.
type EventHandler func(context.Context, DomainEvent) error

// Subscription represents a registered handler.
type Subscription interface {
	Unsubscribe()
}

// Event is the concrete DomainEvent used across the pipeline.
type Event struct {
	Type string
	Data map[string]interface{}
}

// EventType implements DomainEvent.
func (e Event) EventType() string { return e.Type }

// Payload implements DomainEvent.
func (e Event) Payload() interface{} { return e.Data }

// NopPublisher drops every event.
type NopPublisher struct{}

// Publish implements EventPublisher.
func (NopPublisher) Publish(context.Context, DomainEvent) error { return nil }

// Subscribe implements EventPublisher.
func (NopPublisher) Subscribe(string, EventHandler) (Subscription, error) {
	return nopSubscription{}, nil
}

type nopSubscription struct{}

func (nopSubscription) Unsubscribe() {}
