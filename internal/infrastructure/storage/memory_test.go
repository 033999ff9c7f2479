package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notifyx/notifyx/internal/domain"
	"github.com/notifyx/notifyx/internal/infrastructure/crypto"
)

func TestWorkflowRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	w := domain.Workflow{
		ID: "wf1", TenantID: "t1", Name: "demo", Version: 1,
		Nodes:     []domain.WorkflowNode{{ID: "n1", Type: "data.set", IsEnabled: true}},
		CreatedAt: time.Now(),
	}
	require.NoError(t, s.Save(ctx, w))

	got, err := s.Get(ctx, "t1", "wf1")
	require.NoError(t, err)
	assert.Equal(t, "demo", got.Name)

	// Tenant isolation: another tenant cannot see it.
	_, err = s.Get(ctx, "t2", "wf1")
	require.Error(t, err)

	list, err := s.List(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.Delete(ctx, "t1", "wf1"))
	_, err = s.Get(ctx, "t1", "wf1")
	assert.Error(t, err)
	assert.Error(t, s.Delete(ctx, "t1", "wf1"))
}

func TestRunListingFilters(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Now()

	for i, status := range []domain.RunStatus{
		domain.RunStatusCompleted, domain.RunStatusFailed, domain.RunStatusCompleted,
	} {
		require.NoError(t, s.SaveRun(ctx, domain.WorkflowRun{
			ID: string(rune('a' + i)), TenantID: "t1", WorkflowID: "wf1",
			Status: status, StartTime: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	runs, err := s.ListRuns(ctx, "t1", "wf1", domain.RunFilter{Status: domain.RunStatusCompleted})
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	runs, err = s.ListRuns(ctx, "t1", "wf1", domain.RunFilter{From: base.Add(90 * time.Second)})
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	runs, err = s.ListRuns(ctx, "t1", "wf1", domain.RunFilter{PageSize: 2, Page: 1})
	require.NoError(t, err)
	assert.Len(t, runs, 2)
	runs, err = s.ListRuns(ctx, "t1", "wf1", domain.RunFilter{PageSize: 2, Page: 2})
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestNodeResultsAttachToRun(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.SaveRun(ctx, domain.WorkflowRun{ID: "r1", TenantID: "t1", WorkflowID: "wf1"}))
	require.NoError(t, s.SaveNodeResult(ctx, domain.NodeExecutionResult{
		RunID: "r1", NodeID: "n1", Status: domain.NodeRunStatusSuccess, Attempt: 1,
	}))

	run, err := s.GetRun(ctx, "t1", "r1")
	require.NoError(t, err)
	require.Len(t, run.NodeResults, 1)
	assert.Equal(t, "n1", run.NodeResults[0].NodeID)
}

func TestNotificationRecordLifecycle(t *testing.T) {
	s := NewMemoryStore()
	repo := s.Notifications()
	ctx := context.Background()

	event := domain.NotificationEvent{ID: "n1", TenantID: "t1", EventType: "welcome"}
	require.NoError(t, repo.Save(ctx, domain.NotificationRecord{
		Event: event, Status: domain.NotificationStatusQueued,
	}))

	require.NoError(t, repo.AppendDelivery(ctx, "t1", "n1", domain.DeliveryRecord{
		RecipientID: "r1", Channel: domain.ChannelEmail, Attempt: 1,
		Result: domain.DeliveryResult{Success: true},
	}))
	require.NoError(t, repo.SetStatus(ctx, "t1", "n1", domain.NotificationStatusDelivered))

	rec, err := repo.Get(ctx, "t1", "n1")
	require.NoError(t, err)
	assert.Equal(t, domain.NotificationStatusDelivered, rec.Status)
	assert.Len(t, rec.Deliveries, 1)

	// Re-saving keeps accumulated delivery history.
	require.NoError(t, repo.Save(ctx, domain.NotificationRecord{
		Event: event, Status: domain.NotificationStatusAcknowledged,
	}))
	rec, err = repo.Get(ctx, "t1", "n1")
	require.NoError(t, err)
	assert.Len(t, rec.Deliveries, 1)

	assert.Error(t, repo.SetStatus(ctx, "t1", "ghost", domain.NotificationStatusFailed))
}

func TestCredentialServiceEncryptsAtRest(t *testing.T) {
	s := NewMemoryStore()
	encryption, err := crypto.NewEncryptionService(make([]byte, crypto.AES256KeySize))
	require.NoError(t, err)
	svc := NewCredentialService(s.Credentials(), encryption)
	ctx := context.Background()

	id, err := svc.Create(ctx, "t1", "slack.send", "xoxb-secret", []string{"chat:write"})
	require.NoError(t, err)

	// The repository only ever sees ciphertext.
	stored, err := s.Credentials().Get(ctx, "t1", id)
	require.NoError(t, err)
	assert.NotContains(t, string(stored.EncryptedSecret), "xoxb-secret")

	secret, err := svc.DecryptSecret(ctx, "t1", id)
	require.NoError(t, err)
	assert.Equal(t, "xoxb-secret", secret)

	assert.True(t, svc.CredentialExists(ctx, "t1", id))
	assert.False(t, svc.CredentialExists(ctx, "t2", id))

	require.NoError(t, svc.Delete(ctx, "t1", id))
	assert.False(t, svc.CredentialExists(ctx, "t1", id))
}

func TestDLQArchive(t *testing.T) {
	s := NewMemoryStore()
	archive := s.DLQ()
	ctx := context.Background()

	entry := domain.DLQEntry{
		Message:   domain.QueueMessage{ID: "m1", TenantID: "t1"},
		LastError: "boom", Attempts: 3,
	}
	require.NoError(t, archive.Append(ctx, entry))

	entries, err := archive.List(ctx, "t1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "m1", entries[0].Message.ID)

	entries, err = archive.List(ctx, "t2", 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
