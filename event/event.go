package event

import (
	"context"
	"reflect"

	"go.mongodb.org/mongo-driver/bson"
)

// Kind identifies a point in the lifecycle of a template operation.
type Kind string

const (
	BeforeConvert Kind = "before-convert"
	BeforeSave    Kind = "before-save"
	AfterSave     Kind = "after-save"
	AfterLoad     Kind = "after-load"
	AfterConvert  Kind = "after-convert"
	BeforeDelete  Kind = "before-delete"
	AfterDelete   Kind = "after-delete"
)

// Event is the payload handed to listeners.
type Event struct {
	Kind       Kind
	Collection string
	// Source is the domain object being saved or the object produced by
	// a read.
	Source any
	// Document is the converted document for save and load events and
	// the removal criteria for delete events.
	Document bson.M
	// Type is the domain type of reads and removes, when known.
	Type reflect.Type
}

// Listener receives lifecycle events. Implementations must not block.
type Listener interface {
	OnEvent(ctx context.Context, e Event)
}

// ListenerFunc adapts a function to a Listener.
type ListenerFunc func(ctx context.Context, e Event)

func (f ListenerFunc) OnEvent(ctx context.Context, e Event) { f(ctx, e) }

// Listeners fans an event out to every listener in order.
type Listeners []Listener

func (l Listeners) OnEvent(ctx context.Context, e Event) {
	for _, listener := range l {
		if listener != nil {
			listener.OnEvent(ctx, e)
		}
	}
}

// Recorder stores every event it receives.
type Recorder struct {
	Events []Event
}

func (r *Recorder) OnEvent(_ context.Context, e Event) { r.Events = append(r.Events, e) }

// Kinds returns the kinds of the recorded events in order.
func (r *Recorder) Kinds() []Kind {
	out := make([]Kind, 0, len(r.Events))
	for _, e := range r.Events {
		out = append(out, e.Kind)
	}
	return out
}
