package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/repairhq/workshop/modules/repairs/domain/repairjob"
	"github.com/repairhq/workshop/pkg/eventbus"
	"github.com/repairhq/workshop/pkg/outbox"
)

// Dispatcher decodes staged repair events back into their typed form
// before publishing, so collaborators subscribe to the same event types
// whether the store is Postgres or in-memory.
type Dispatcher struct {
	bus eventbus.EventBusWithError
}

func NewDispatcher(bus eventbus.EventBusWithError) *Dispatcher {
	return &Dispatcher{bus: bus}
}

func (d *Dispatcher) Dispatch(ctx context.Context, msg outbox.DispatchedMessage) error {
	_ = ctx
	if d == nil || d.bus == nil {
		return fmt.Errorf("repairs outbox dispatcher: bus is nil")
	}

	var err error
	switch msg.Meta.Topic {
	case repairjob.TopicTransitioned:
		var ev repairjob.TransitionedEvent
		if err = json.Unmarshal(msg.Payload, &ev); err == nil {
			err = d.bus.PublishE(&ev)
		}
	case repairjob.TopicBilling:
		var ev repairjob.BillingEvent
		if err = json.Unmarshal(msg.Payload, &ev); err == nil {
			err = d.bus.PublishE(&ev)
		}
	default:
		return fmt.Errorf("repairs outbox dispatcher: unsupported topic %q", msg.Meta.Topic)
	}

	// A topic nobody subscribes to is delivered, not failed; retrying
	// would wedge the relay on the same row.
	if errors.Is(err, eventbus.ErrNoSubscribers) {
		return nil
	}
	return err
}
