package queue

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notifyx/notifyx/internal/domain"
)

func TestDLQAddAndList(t *testing.T) {
	dlq := NewDeadLetterStore(0, nil)

	msg := testMessage("m1", domain.PriorityNormal)
	msg.Attempt = 3
	dlq.Add(msg, "provider exploded")

	entries := dlq.List("")
	require.Len(t, entries, 1)
	assert.Equal(t, "m1", entries[0].Message.ID)
	assert.Equal(t, 3, entries[0].Attempts)
	assert.Equal(t, "provider exploded", entries[0].LastError)
	assert.Equal(t, entries[0].FirstSeen, entries[0].LastSeen)
}

func TestDLQDuplicateUpdatesEntry(t *testing.T) {
	dlq := NewDeadLetterStore(0, nil)

	msg := testMessage("m1", domain.PriorityNormal)
	msg.Attempt = 2
	dlq.Add(msg, "first error")
	msg.Attempt = 3
	dlq.Add(msg, "second error")

	require.Equal(t, 1, dlq.Len())
	entry, ok := dlq.Get("m1")
	require.True(t, ok)
	assert.Equal(t, 3, entry.Attempts)
	assert.Equal(t, "second error", entry.LastError)
}

func TestDLQTenantFilter(t *testing.T) {
	dlq := NewDeadLetterStore(0, nil)

	m1 := testMessage("m1", domain.PriorityNormal)
	m2 := testMessage("m2", domain.PriorityNormal)
	m2.TenantID = "other"
	dlq.Add(m1, "x")
	dlq.Add(m2, "y")

	assert.Len(t, dlq.List("t1"), 1)
	assert.Len(t, dlq.List("other"), 1)
	assert.Len(t, dlq.List(""), 2)
}

func TestDLQBoundedEviction(t *testing.T) {
	dlq := NewDeadLetterStore(3, nil)
	for i := 0; i < 5; i++ {
		dlq.Add(testMessage(fmt.Sprintf("m%d", i), domain.PriorityLow), "err")
	}

	assert.Equal(t, 3, dlq.Len())
	_, ok := dlq.Get("m0")
	assert.False(t, ok, "oldest entry must be evicted")
	_, ok = dlq.Get("m4")
	assert.True(t, ok)
}

func TestDLQTakeRemoves(t *testing.T) {
	dlq := NewDeadLetterStore(0, nil)
	dlq.Add(testMessage("m1", domain.PriorityNormal), "err")

	entry, ok := dlq.Take("m1")
	require.True(t, ok)
	assert.Equal(t, "m1", entry.Message.ID)
	assert.Equal(t, 0, dlq.Len())

	_, ok = dlq.Take("m1")
	assert.False(t, ok)
}

func TestDLQClear(t *testing.T) {
	dlq := NewDeadLetterStore(0, nil)
	dlq.Add(testMessage("m1", domain.PriorityNormal), "err")
	dlq.Add(testMessage("m2", domain.PriorityNormal), "err")

	assert.Equal(t, 2, dlq.Clear())
	assert.Equal(t, 0, dlq.Len())
}
