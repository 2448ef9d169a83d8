// Package eventbus implements ports.EventBus as an in-process publish/
// subscribe bus, wrapping every payload in a CloudEvents envelope the way
// the teacher's Observer/Subject convention does, so the wire shape this
// core publishes is interoperable with anything else in the cluster that
// already speaks CloudEvents.
package eventbus

import (
	"context"
	"sync"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// Topics this core publishes. Payloads are documented per-topic below;
// every payload is a plain string (a tenant id, or a tenant id and module id
// joined by a space), not a JSON envelope — the CloudEvents wrapping is at
// the transport layer, not the payload layer.
const (
	// TopicTimer carries a tenant id whenever that tenant's module set
	// changes, so the TimerScheduler can re-read its routing entries.
	TopicTimer = "timer"

	// TopicTenantCreated carries a tenant id once Insert commits.
	TopicTenantCreated = "tenant.created"
	// TopicTenantDeleted carries a tenant id once Delete commits.
	TopicTenantDeleted = "tenant.deleted"
	// TopicModuleEnabled carries "tenantID moduleID" once a module's enable
	// is committed to that tenant's enabled set.
	TopicModuleEnabled = "module.enabled"
	// TopicModuleDisabled carries "tenantID moduleID" once a module's disable
	// is committed to that tenant's enabled set.
	TopicModuleDisabled = "module.disabled"
	// TopicInstallCompleted carries "tenantID jobID" once an InstallJob
	// reaches InstallJob.Complete.
	TopicInstallCompleted = "install.completed"
)

const eventSource = "lifecycle"

// Bus is an in-process CloudEvents publish/subscribe implementation of
// ports.EventBus. Handlers registered for a topic run synchronously, in
// registration order, on the publishing goroutine — Consume's handler
// contract says nothing about delivery ordering across topics, only that
// every registered handler for a topic eventually sees every payload
// published to it.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]func(ctx context.Context, payload string)
}

// New builds an empty Bus.
func New() *Bus {
	return &Bus{handlers: make(map[string][]func(ctx context.Context, payload string))}
}

// Publish wraps payload in a CloudEvents envelope and delivers it to every
// handler currently registered for topic.
func (b *Bus) Publish(ctx context.Context, topic string, payload string) error {
	event := cloudevents.NewEvent()
	event.SetID(uuid.NewString())
	event.SetSource(eventSource)
	event.SetType(topic)
	if err := event.SetData(cloudevents.ApplicationJSON, payload); err != nil {
		return err
	}

	b.mu.RLock()
	handlers := append([]func(ctx context.Context, payload string){}, b.handlers[topic]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, payload)
	}
	return nil
}

// Consume registers handler to be called for every future Publish on topic.
// It never returns until ctx is cancelled, matching the blocking "subscribe
// and run" shape of the original's consumer loop; callers that only want to
// register a handler and move on should call it from its own goroutine.
func (b *Bus) Consume(ctx context.Context, topic string, handler func(ctx context.Context, payload string)) error {
	b.mu.Lock()
	b.handlers[topic] = append(b.handlers[topic], handler)
	b.mu.Unlock()

	<-ctx.Done()
	return ctx.Err()
}
