package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionSetNormalizes(t *testing.T) {
	set := NewOptionSet(OptionOnlyIfNoReply, OptionStar, OptionStar, OptionMarkUnread)

	assert.Equal(t, OptionSet{OptionStar, OptionMarkUnread, OptionOnlyIfNoReply}, set)
	assert.Equal(t, "star,mark-unread,only-if-no-reply", set.String())
}

func TestOptionSetHasAction(t *testing.T) {
	tests := []struct {
		name string
		set  OptionSet
		want bool
	}{
		{name: "empty", set: NewOptionSet(), want: false},
		{name: "condition only", set: NewOptionSet(OptionOnlyIfNoReply), want: false},
		{name: "star", set: NewOptionSet(OptionStar), want: true},
		{name: "mark unread", set: NewOptionSet(OptionMarkUnread), want: true},
		{name: "move to inbox", set: NewOptionSet(OptionMoveToInbox), want: true},
		{name: "archive only", set: NewOptionSet(OptionArchiveAfterScheduling), want: true},
		{name: "condition and action", set: NewOptionSet(OptionOnlyIfNoReply, OptionStar), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.set.HasAction())
		})
	}
}

func TestOptionSetScan(t *testing.T) {
	var set OptionSet
	require.NoError(t, set.Scan([]byte("move-to-inbox,star")))
	assert.Equal(t, OptionSet{OptionStar, OptionMoveToInbox}, set)

	require.NoError(t, set.Scan(nil))
	assert.Empty(t, set)

	assert.Error(t, set.Scan("star,snooze-forever"))
	assert.Error(t, set.Scan(42))
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus("label-removed")
	require.NoError(t, err)
	assert.Equal(t, StatusLabelRemoved, st)

	_, err = ParseStatus("ok")
	assert.Error(t, err)
	assert.False(t, StatusPending.IsTerminal())
}

func TestScheduleRecordFinalizeOnce(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := NewScheduleRecord("owner-1", "00000000000000ab", now, now.Add(time.Hour), NewOptionSet(OptionStar))

	assert.False(t, rec.IsDue(now))
	assert.True(t, rec.IsDue(now.Add(time.Hour)))

	assert.Error(t, rec.Finalize(StatusPending, now))
	require.NoError(t, rec.Finalize(StatusAnswered, now))
	assert.True(t, rec.Processed)
	assert.Equal(t, StatusAnswered, rec.Status)
	require.NotNil(t, rec.ProcessedAt)
	assert.True(t, rec.ProcessedAt.Equal(now))

	err := rec.Finalize(StatusErrored, now.Add(time.Minute))
	assert.True(t, errors.Is(err, ErrAlreadyProcessed))
	assert.Equal(t, StatusAnswered, rec.Status)
	assert.False(t, rec.IsDue(now.Add(time.Hour)))
}
