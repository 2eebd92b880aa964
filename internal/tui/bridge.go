package tui

import (
	"context"
	"fmt"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/njdelapaz/Translation-Without-Supervision/internal/model"
	"github.com/njdelapaz/Translation-Without-Supervision/internal/ports"
)

// Bridge translates pipeline events into Bubbletea messages.
type Bridge struct {
	mu      sync.Mutex
	reasons map[string]string
}

// NewBridge returns an empty Bridge.
func NewBridge() *Bridge {
	return &Bridge{reasons: make(map[string]string)}
}

// MessageFor converts an event. The boolean is false for events the model
// has no use for.
func (b *Bridge) MessageFor(event ports.DomainEvent) (tea.Msg, bool) {
	data, _ := event.Payload().(map[string]interface{})
	unit := stringField(data, "unit")

	switch event.EventType() {
	case ports.EventStageStarted:
		return UnitStartMsg{ID: unit, Attempt: intField(data, "attempt"), Time: time.Now()}, true
	case ports.EventStageRetrying:
		return UnitRetryMsg{ID: unit, Attempt: intField(data, "attempt"), Err: stringField(data, "error")}, true
	case ports.EventStageDegraded:
		b.mu.Lock()
		b.reasons[unit] = stringField(data, "reason")
		b.mu.Unlock()
		return nil, false
	case ports.EventStageCompleted:
		res := model.StageResult{UnitID: unit, Status: stringField(data, "status"), Attempts: intField(data, "attempts")}
		if d, err := time.ParseDuration(stringField(data, "duration")); err == nil {
			res.Duration = d
		}
		if res.Status == model.StatusDegraded {
			b.mu.Lock()
			res.Message = b.reasons[unit]
			b.mu.Unlock()
		}
		return UnitCompleteMsg{Result: res}, true
	case ports.EventStageSkipped:
		return UnitCompleteMsg{Result: model.StageResult{UnitID: unit, Status: model.StatusSkipped, Message: "checkpoint satisfied"}}, true
	case ports.EventStageFailed:
		return UnitCompleteMsg{Result: model.StageResult{
			UnitID:   unit,
			Status:   model.StatusFailed,
			Attempts: intField(data, "attempts"),
			LogPath:  stringField(data, "log"),
			Message:  fmt.Sprintf("failed after %d attempt(s)", intField(data, "attempts")),
		}}, true
	case ports.EventRoundStarted:
		return RoundMsg{Round: intField(data, "round")}, true
	case ports.EventRoundCompleted:
		return RoundMsg{Round: intField(data, "round"), Finished: true}, true
	}
	return nil, false
}

// Handler returns an event handler forwarding converted messages to send,
// typically (*tea.Program).Send.
func (b *Bridge) Handler(send func(tea.Msg)) ports.EventHandler {
	return func(_ context.Context, event ports.DomainEvent) error {
		if msg, ok := b.MessageFor(event); ok {
			send(msg)
		}
		return nil
	}
}

func stringField(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func intField(data map[string]interface{}, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
