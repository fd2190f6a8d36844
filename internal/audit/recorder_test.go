package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type failingSink struct{}

func (failingSink) Append(context.Context, Record) error { return errors.New("disk full") }
func (failingSink) List(context.Context, string, string) ([]Record, error) {
	return nil, nil
}

func TestRecorderSnapshotsBeforeAndAfter(t *testing.T) {
	sink := NewMemorySink()
	rec := NewRecorder(sink, nil)
	fixed := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	rec.WithNow(func() time.Time { return fixed })

	type period struct {
		Status string `json:"status"`
	}
	written, err := rec.Append(context.Background(), Change{
		Entity:   "period",
		EntityID: int64(7),
		Action:   "period.reopen",
		Before:   period{Status: "CLOSED"},
		After:    period{Status: "OPEN"},
		ActorID:  3,
	})
	require.NoError(t, err)
	require.Equal(t, "7", written.EntityID)
	require.JSONEq(t, `{"status":"CLOSED"}`, string(written.Before))
	require.JSONEq(t, `{"status":"OPEN"}`, string(written.After))
	require.Equal(t, fixed, written.At)

	timeline, err := rec.Timeline(context.Background(), "period", "7")
	require.NoError(t, err)
	require.Len(t, timeline, 1)
	require.Equal(t, written.ID, timeline[0].ID)
}

func TestRecorderDeleteKeepsOnlyBefore(t *testing.T) {
	sink := NewMemorySink()
	rec := NewRecorder(sink, nil)
	_, err := rec.Append(context.Background(), Change{Entity: "document", EntityID: 1, Action: "document.delete", Before: map[string]string{"doc_no": "INV-2024-0001"}})
	require.NoError(t, err)
	got := sink.Records()[0]
	require.NotEmpty(t, got.Before)
	require.Empty(t, got.After)
}

func TestRecorderRecordSwallowsSinkFailure(t *testing.T) {
	rec := NewRecorder(failingSink{}, nil)
	require.NotPanics(t, func() {
		rec.Record(context.Background(), Change{Entity: "journal_entry", EntityID: 1, Action: "journal.post"})
	})
	_, err := rec.Append(context.Background(), Change{Entity: "journal_entry", EntityID: 1, Action: "journal.post"})
	require.Error(t, err)
}

func TestRecorderRequiresEntityAndAction(t *testing.T) {
	rec := NewRecorder(NewMemorySink(), nil)
	_, err := rec.Append(context.Background(), Change{Entity: "journal_entry"})
	require.Error(t, err)
}
