package scheduler

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/isdelr/folio-vault-be/internal/models"
	"github.com/isdelr/folio-vault-be/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type firingBackupStub struct {
	ran chan services.CreateBackupParams
}

func (s *firingBackupStub) CreateBackup(_ context.Context, params services.CreateBackupParams) (models.Backup, error) {
	s.ran <- params
	return models.Backup{ID: "stub", Type: params.Type, Status: models.BackupStatusCompleted}, nil
}

func (s *firingBackupStub) GetBackupByID(context.Context, string) (models.Backup, error) {
	return models.Backup{}, nil
}

func (s *firingBackupStub) GetBackupData(context.Context, string) (json.RawMessage, error) {
	return nil, nil
}

func (s *firingBackupStub) ListBackups(context.Context, services.BackupFilter, int, int) (models.BackupPage, error) {
	return models.BackupPage{}, nil
}

func (s *firingBackupStub) DeleteBackup(context.Context, string) error { return nil }

func (s *firingBackupStub) LatestCompletedBackup(context.Context, models.BackupType) (*models.Backup, error) {
	return nil, nil
}

func (s *firingBackupStub) ReconcileStale(context.Context, time.Duration) (int, error) {
	return 0, nil
}

func (s *firingBackupStub) RunRetention(context.Context, time.Duration) (int, error) { return 0, nil }

type noopEventStub struct{}

func (noopEventStub) CreateEvent(string, string, string, *string) error { return nil }

func (noopEventStub) GetRecentEvents(int) ([]models.Event, error) { return nil, nil }

func TestFireStartsRunAndRecordsLastRun(t *testing.T) {
	stub := &firingBackupStub{ran: make(chan services.CreateBackupParams, 1)}
	s := NewScheduler(stub, noopEventStub{}, 30)
	require.NoError(t, s.CreateTask("nightly", "0 3 * * *", models.BackupTypeFull, false))

	s.mu.Lock()
	task := s.tasks["nightly"]
	s.mu.Unlock()

	s.fire(task)

	select {
	case params := <-stub.ran:
		assert.Equal(t, models.BackupTypeFull, params.Type)
	case <-time.After(time.Second):
		t.Fatal("firing did not start a backup run")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotNil(t, task.lastRun)
	require.NotNil(t, task.nextRun)
	assert.True(t, task.nextRun.After(time.Now()))
}

func TestFireSkipsWhilePreviousRunInFlight(t *testing.T) {
	stub := &firingBackupStub{ran: make(chan services.CreateBackupParams, 1)}
	s := NewScheduler(stub, noopEventStub{}, 30)
	require.NoError(t, s.CreateTask("nightly", "0 3 * * *", models.BackupTypeFull, false))

	s.mu.Lock()
	task := s.tasks["nightly"]
	task.busy = true
	s.mu.Unlock()

	s.fire(task)

	// The skipped firing starts no run and does not pretend one happened.
	select {
	case <-stub.ran:
		t.Fatal("busy task must not fire a second run")
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Nil(t, task.lastRun)
	assert.NotNil(t, task.nextRun, "the next firing is still scheduled")
}
