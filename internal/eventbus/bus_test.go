package eventbus

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avdeenkov/recodehub/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestBus_DeliversInPublishOrder(t *testing.T) {
	t.Parallel()

	bus := New(testLogger())

	var seen []uuid.UUID
	bus.Subscribe(TopicStructuralChange, func(_ context.Context, ev Event) error {
		seen = append(seen, ev.StructuralChange.TargetID)
		return nil
	})

	target := uuid.New()
	var published []uuid.UUID
	for i := 0; i < 5; i++ {
		ev := NewStructuralChange(StructuralChange{
			TargetID:   target,
			TargetType: domain.EntityMetaField,
			EventType:  domain.EventUpdate,
			EventDate:  time.Now(),
		})
		published = append(published, ev.StructuralChange.TargetID)
		require.NoError(t, bus.Publish(context.Background(), ev))
	}

	assert.Equal(t, published, seen)
}

func TestBus_HandlerErrorDoesNotStopDelivery(t *testing.T) {
	t.Parallel()

	bus := New(testLogger())

	var secondCalled bool
	bus.Subscribe(TopicRecodeOutcome, func(context.Context, Event) error {
		return errors.New("first handler broke")
	})
	bus.Subscribe(TopicRecodeOutcome, func(context.Context, Event) error {
		secondCalled = true
		return nil
	})

	err := bus.Publish(context.Background(), NewRecodeOutcome(domain.RecodeOutcome{
		RuleSetName: "rs",
		Type:        domain.NotificationRecodeSuccess,
	}))

	require.NoError(t, err)
	assert.True(t, secondCalled)
}

func TestBus_TopicIsolation(t *testing.T) {
	t.Parallel()

	bus := New(testLogger())

	var called bool
	bus.Subscribe(TopicTaskLifecycle, func(context.Context, Event) error {
		called = true
		return nil
	})

	require.NoError(t, bus.Publish(context.Background(), NewTaskProgress(TaskProgress{Progress: 0.5})))
	assert.False(t, called)
}

type captingPublisher struct {
	events []Event
}

func (c *captingPublisher) Publish(_ context.Context, ev Event) error {
	c.events = append(c.events, ev)
	return nil
}

func TestBus_ForwardsAfterLocalDispatch(t *testing.T) {
	t.Parallel()

	bus := New(testLogger())
	ext := &captingPublisher{}
	bus.Forward(ext)

	var localFirst bool
	bus.Subscribe(TopicIndexRebuild, func(context.Context, Event) error {
		localFirst = len(ext.events) == 0
		return nil
	})

	require.NoError(t, bus.Publish(context.Background(), NewIndexRebuild(IndexRebuild{})))

	assert.True(t, localFirst)
	require.Len(t, ext.events, 1)
	assert.Equal(t, TopicIndexRebuild, ext.events[0].Topic)
}

func TestEventIDs_StablePerEventUniqueAcrossEvents(t *testing.T) {
	t.Parallel()

	a := NewTaskLifecycle(TaskLifecycle{Status: domain.TaskRunning})
	b := NewTaskLifecycle(TaskLifecycle{Status: domain.TaskRunning})

	assert.NotEqual(t, a.ID, b.ID)
	assert.NotEqual(t, uuid.Nil, a.ID)
}
