package eventbus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"

	"github.com/partnerhubhq/partnerhub-backend/pkg/enums"
	"github.com/partnerhubhq/partnerhub-backend/pkg/events"
	"github.com/partnerhubhq/partnerhub-backend/pkg/logger"
	"github.com/partnerhubhq/partnerhub-backend/pkg/retry"
)

// HandlerFunc consumes one published domain event.
type HandlerFunc func(ctx context.Context, event events.DomainEvent) error

// Subscription identifies a registered handler so it can be removed later.
type Subscription struct {
	id        uint64
	name      string
	eventType enums.OutboxEventType
	fn        HandlerFunc
}

// Name returns the handler name supplied at Subscribe time.
func (s *Subscription) Name() string {
	if s == nil {
		return ""
	}
	return s.name
}

// HandlerOutcome records one handler's result for a published event.
type HandlerOutcome struct {
	Handler string
	Err     error
}

// Result is the per-event outcome of a publish.
type Result struct {
	EventType enums.OutboxEventType
	Outcomes  []HandlerOutcome
}

// Err aggregates the handler failures, nil when every handler succeeded
// (or none was registered).
func (r Result) Err() error {
	var combined error
	for _, outcome := range r.Outcomes {
		if outcome.Err != nil {
			combined = multierr.Append(combined, fmt.Errorf("handler %s: %w", outcome.Handler, outcome.Err))
		}
	}
	return combined
}

// Bus fans a published event out to every handler registered for its type.
// Handlers run concurrently and are awaited jointly; each invocation is
// wrapped by the retry executor before being considered failed.
type Bus struct {
	mu       sync.RWMutex
	handlers map[enums.OutboxEventType][]*Subscription
	nextID   atomic.Uint64

	executor *retry.Executor
	policy   retry.Policy
	logg     *logger.Logger
}

func New(executor *retry.Executor, logg *logger.Logger) *Bus {
	return &Bus{
		handlers: make(map[enums.OutboxEventType][]*Subscription),
		executor: executor,
		policy:   retry.Standard(),
		logg:     logg,
	}
}

// Subscribe registers a named handler for the given event type.
func (b *Bus) Subscribe(eventType enums.OutboxEventType, name string, fn HandlerFunc) (*Subscription, error) {
	if !eventType.IsValid() {
		return nil, fmt.Errorf("invalid event type %q", eventType)
	}
	if name == "" {
		return nil, fmt.Errorf("handler name is required")
	}
	if fn == nil {
		return nil, fmt.Errorf("handler func is required")
	}

	sub := &Subscription{
		id:        b.nextID.Add(1),
		name:      name,
		eventType: eventType,
		fn:        fn,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], sub)
	return sub, nil
}

// Unsubscribe removes a previously registered handler. Unknown subscriptions
// are ignored.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	registered := b.handlers[sub.eventType]
	for i, candidate := range registered {
		if candidate.id == sub.id {
			b.handlers[sub.eventType] = append(registered[:i:i], registered[i+1:]...)
			return
		}
	}
}

// Publish dispatches the event to every handler registered for its type,
// concurrently, and waits for all of them. A handler failure never prevents
// the others from running; no registered handler is a no-op, not an error.
func (b *Bus) Publish(ctx context.Context, event events.DomainEvent) Result {
	snapshot := b.snapshot(event.EventType)
	result := Result{
		EventType: event.EventType,
		Outcomes:  make([]HandlerOutcome, len(snapshot)),
	}
	if len(snapshot) == 0 {
		return result
	}

	var wg sync.WaitGroup
	for i, sub := range snapshot {
		wg.Add(1)
		go func(i int, sub *Subscription) {
			defer wg.Done()
			err := b.invoke(ctx, sub, event)
			result.Outcomes[i] = HandlerOutcome{Handler: sub.name, Err: err}
			if err != nil && b.logg != nil {
				fields := map[string]any{
					"handler":      sub.name,
					"event_type":   event.EventType,
					"aggregate_id": event.AggregateID,
				}
				b.logg.Error(b.logg.WithFields(ctx, fields), "event handler failed", err)
			}
		}(i, sub)
	}
	wg.Wait()
	return result
}

// PublishAll publishes each event in order and returns per-event results.
func (b *Bus) PublishAll(ctx context.Context, batch []events.DomainEvent) []Result {
	results := make([]Result, 0, len(batch))
	for _, event := range batch {
		results = append(results, b.Publish(ctx, event))
	}
	return results
}

// HandlerCount reports how many handlers are registered for the type.
func (b *Bus) HandlerCount(eventType enums.OutboxEventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}

func (b *Bus) snapshot(eventType enums.OutboxEventType) []*Subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()
	registered := b.handlers[eventType]
	if len(registered) == 0 {
		return nil
	}
	out := make([]*Subscription, len(registered))
	copy(out, registered)
	return out
}

func (b *Bus) invoke(ctx context.Context, sub *Subscription, event events.DomainEvent) error {
	name := fmt.Sprintf("handler.%s", sub.name)
	return b.executor.Execute(ctx, name, b.policy, func(ctx context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handler panicked: %v", r)
			}
		}()
		return sub.fn(ctx, event)
	})
}
