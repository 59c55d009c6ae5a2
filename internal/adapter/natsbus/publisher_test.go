package natsbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avdeenkov/recodehub/internal/domain"
	"github.com/avdeenkov/recodehub/internal/eventbus"
)

type fakeConn struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	if c.err != nil {
		return c.err
	}
	c.subjects = append(c.subjects, subject)
	c.payloads = append(c.payloads, data)
	return nil
}

func newTestPublisher(prefix string) (*Publisher, *fakeConn) {
	nc := &fakeConn{}
	return newPublisher(slog.New(slog.DiscardHandler), nc, prefix), nc
}

func TestPublish_SubjectPerTopic(t *testing.T) {
	p, nc := newTestPublisher("")
	ctx := context.Background()

	require.NoError(t, p.Publish(ctx, eventbus.NewTaskProgress(eventbus.TaskProgress{
		ExecutionID: uuid.New(),
		Performer:   "index-rebuild",
		Progress:    0.5,
	})))
	require.NoError(t, p.Publish(ctx, eventbus.NewIndexRebuild(eventbus.IndexRebuild{
		Acknowledged: true,
	})))

	assert.Equal(t, []string{"recodehub.task.progress", "recodehub.index.rebuild"}, nc.subjects)
}

func TestPublish_CustomPrefix(t *testing.T) {
	p, nc := newTestPublisher("staging")

	require.NoError(t, p.Publish(context.Background(), eventbus.NewIndexRebuild(eventbus.IndexRebuild{})))

	assert.Equal(t, []string{"staging.index.rebuild"}, nc.subjects)
}

func TestPublish_StructuralChangePayload(t *testing.T) {
	p, nc := newTestPublisher("")

	value := "RU"
	ev := eventbus.NewStructuralChange(eventbus.StructuralChange{
		TargetID:   uuid.New(),
		TargetType: domain.EntityField,
		EventType:  domain.EventClose,
		EventDate:  time.Now().UTC(),
		Path:       domain.FieldPath("cbr", "countries", "alpha2", &value),
		Diffs: []domain.Diff{
			{FieldClass: "FIELD", FieldName: "value", OldValue: "RU", NewValue: ""},
		},
	})
	require.NoError(t, p.Publish(context.Background(), ev))

	var got wireEvent
	require.NoError(t, json.Unmarshal(nc.payloads[0], &got))

	assert.Equal(t, ev.ID, got.ID)
	assert.Equal(t, "structural.change", got.Topic)
	require.NotNil(t, got.StructuralChange)
	assert.Equal(t, "cbr/countries/alpha2=RU", got.StructuralChange.Path)
	assert.Equal(t, "CLOSE", got.StructuralChange.EventType)
	require.Len(t, got.StructuralChange.Diffs, 1)
	assert.Equal(t, "value", got.StructuralChange.Diffs[0].FieldName)
}

func TestPublish_RecodeOutcomePayload(t *testing.T) {
	p, nc := newTestPublisher("")

	ev := eventbus.NewRecodeOutcome(domain.RecodeOutcome{
		RuleSetName: "cbr-to-fns",
		FromPath:    domain.MetaFieldPath("cbr", "countries", "alpha2"),
		ToPath:      domain.MetaFieldPath("fns", "countries", "code"),
		Type:        domain.NotificationRecodeMissingRule,
		Cause:       "no rule for value",
		OccurredAt:  time.Now().UTC(),
	})
	require.NoError(t, p.Publish(context.Background(), ev))

	var got wireEvent
	require.NoError(t, json.Unmarshal(nc.payloads[0], &got))

	require.NotNil(t, got.RecodeOutcome)
	assert.Equal(t, "cbr/countries/alpha2", got.RecodeOutcome.FromPath)
	assert.Equal(t, "fns/countries/code", got.RecodeOutcome.ToPath)
	assert.Equal(t, "RECODE_MISSING_RULE", got.RecodeOutcome.Type)
}

func TestPublish_ConnectionErrorSurfaces(t *testing.T) {
	p, nc := newTestPublisher("")
	nc.err = assert.AnError

	err := p.Publish(context.Background(), eventbus.NewIndexRebuild(eventbus.IndexRebuild{}))
	assert.ErrorIs(t, err, assert.AnError)
}

func TestPublish_CanceledContext(t *testing.T) {
	p, nc := newTestPublisher("")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Publish(ctx, eventbus.NewIndexRebuild(eventbus.IndexRebuild{}))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, nc.subjects)
}
