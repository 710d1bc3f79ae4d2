package agentpay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	for _, s := range AllStatuses {
		got, err := ParseStatus(s.String())
		require.NoError(t, err)
		require.Equal(t, s, got)
	}
	_, err := ParseStatus("limbo")
	require.ErrorIs(t, err, ErrUnknownStatus)
}

func TestStatus_Terminal(t *testing.T) {
	require.True(t, StatusCompleted.Terminal())
	require.True(t, StatusFailed.Terminal())
	require.False(t, StatusPendingPayment.Terminal())
	require.False(t, StatusPaid.Terminal())
	require.False(t, StatusInProgress.Terminal())
}

func TestTaskUpdate_ApplyForward(t *testing.T) {
	task := &Task{ID: "t1", Status: StatusPendingPayment}
	now := time.Now().UTC()
	err := TaskUpdate{
		Status:     statusPtr(StatusPaid),
		PaidTxHash: strPtr("0xabc"),
		PaidAt:     timePtr(now),
	}.apply(task, now)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, task.Status)
	require.Equal(t, "0xabc", task.PaidTxHash)
	require.Equal(t, now, task.UpdatedAt)
}

func TestTaskUpdate_RejectsRegression(t *testing.T) {
	now := time.Now().UTC()

	task := &Task{ID: "t1", Status: StatusPaid}
	err := TaskUpdate{Status: statusPtr(StatusPendingPayment)}.apply(task, now)
	require.ErrorIs(t, err, ErrStatusRegression)
	require.Equal(t, StatusPaid, task.Status)

	// Duplicate same-status write is rejected too.
	err = TaskUpdate{Status: statusPtr(StatusPaid)}.apply(task, now)
	require.ErrorIs(t, err, ErrStatusRegression)

	// Terminal states never move again.
	task = &Task{ID: "t2", Status: StatusCompleted}
	err = TaskUpdate{Status: statusPtr(StatusInProgress)}.apply(task, now)
	require.ErrorIs(t, err, ErrStatusRegression)
	err = TaskUpdate{Status: statusPtr(StatusFailed)}.apply(task, now)
	require.ErrorIs(t, err, ErrStatusRegression)
}

func TestTaskUpdate_NilFieldsUntouched(t *testing.T) {
	paidAt := time.Now().UTC().Add(-time.Hour)
	task := &Task{ID: "t1", Status: StatusPaid, PaidTxHash: "0xabc", PaidAt: &paidAt, Description: "d"}
	err := TaskUpdate{Status: statusPtr(StatusInProgress), StartedAt: timePtr(time.Now().UTC())}.apply(task, time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, "0xabc", task.PaidTxHash)
	require.Equal(t, paidAt, *task.PaidAt)
	require.Equal(t, "d", task.Description)
	require.NotNil(t, task.StartedAt)
}

func TestTask_Clone(t *testing.T) {
	now := time.Now().UTC()
	orig := &Task{ID: "t1", Status: StatusPaid, PaidAt: &now}
	c := orig.Clone()
	require.Equal(t, orig, c)

	later := now.Add(time.Minute)
	c.PaidAt = &later
	c.Status = StatusCompleted
	require.Equal(t, StatusPaid, orig.Status)
	require.Equal(t, now, *orig.PaidAt)
}
