package event

import (
	"context"
	"reflect"
	"testing"

	"github.com/mongodb/grip/level"
	"github.com/mongodb/grip/logging"
	"github.com/mongodb/grip/send"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestListeners(t *testing.T) {
	ctx := context.Background()
	first := &Recorder{}
	calls := 0
	listeners := Listeners{
		first,
		nil,
		ListenerFunc(func(_ context.Context, e Event) {
			calls++
			assert.Equal(t, AfterSave, e.Kind)
		}),
	}

	listeners.OnEvent(ctx, Event{Kind: AfterSave, Collection: "people"})

	assert.Equal(t, []Kind{AfterSave}, first.Kinds())
	assert.Equal(t, 1, calls)
}

func TestRecorder(t *testing.T) {
	ctx := context.Background()
	r := &Recorder{}
	assert.Empty(t, r.Kinds())

	r.OnEvent(ctx, Event{Kind: BeforeConvert})
	r.OnEvent(ctx, Event{Kind: BeforeSave})
	r.OnEvent(ctx, Event{Kind: AfterSave})

	assert.Equal(t, []Kind{BeforeConvert, BeforeSave, AfterSave}, r.Kinds())
}

func TestLoggingListener(t *testing.T) {
	sender, err := send.NewInternalLogger("events", send.LevelInfo{Threshold: level.Debug, Default: level.Debug})
	require.NoError(t, err)
	listener := NewLoggingListener(logging.MakeGrip(sender), level.Info)

	listener.OnEvent(context.Background(), Event{
		Kind:       AfterDelete,
		Collection: "people",
		Document:   bson.M{"_id": 1},
		Type:       reflect.TypeOf(struct{}{}),
	})

	msg := sender.GetMessage()
	require.NotNil(t, msg)
	assert.Equal(t, level.Info, msg.Priority)
	assert.Contains(t, msg.Message.String(), "after-delete")
	assert.Contains(t, msg.Message.String(), "people")

	t.Run("InvalidPriorityDefaultsToDebug", func(t *testing.T) {
		assert.Equal(t, level.Debug, NewLoggingListener(nil, level.Invalid).Priority)
	})
}
