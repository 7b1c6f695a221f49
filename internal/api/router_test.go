package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/isdelr/folio-vault-be/internal/api"
	"github.com/isdelr/folio-vault-be/internal/auth"
	"github.com/isdelr/folio-vault-be/internal/database"
	"github.com/isdelr/folio-vault-be/internal/models"
	"github.com/isdelr/folio-vault-be/internal/registry"
	"github.com/isdelr/folio-vault-be/internal/scheduler"
	"github.com/isdelr/folio-vault-be/internal/services"
	"github.com/isdelr/folio-vault-be/internal/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiTest struct {
	router http.Handler
	token  string
}

func newAPITest(t *testing.T) *apiTest {
	t.Helper()
	db, err := database.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(db))

	reg := registry.Default(db)
	require.NoError(t, registry.Migrate(db, reg))

	hub := websocket.NewHub()
	go hub.Run()

	eventSvc := services.NewEventService(db)
	userSvc := services.NewUserService(db)
	versionSvc := services.NewVersionService(db, reg, eventSvc)
	backupSvc := services.NewBackupService(db, reg, eventSvc, hub)
	restoreSvc := services.NewRestoreService(db, reg, backupSvc, eventSvc, hub)
	sched := scheduler.NewScheduler(backupSvc, eventSvc, 30)

	require.NoError(t, userSvc.EnsureAdmin("admin@example.com", "hunter22"))

	tokens := auth.NewManager("test-secret")
	router := api.NewRouter(hub, tokens, userSvc, backupSvc, restoreSvc, versionSvc, eventSvc, sched)

	at := &apiTest{router: router}
	at.token = at.login(t, "admin@example.com", "hunter22")
	return at
}

func (a *apiTest) login(t *testing.T, email, password string) string {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/v1/auth/login", "",
		map[string]string{"email": email, "password": password})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func (a *apiTest) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	a := newAPITest(t)
	rec := a.do(t, http.MethodPost, "/api/v1/auth/login", "",
		map[string]string{"email": "admin@example.com", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	a := newAPITest(t)
	rec := a.do(t, http.MethodGet, "/api/v1/backups", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBackupLifecycleOverHTTP(t *testing.T) {
	a := newAPITest(t)

	// Record some content, then snapshot it.
	rec := a.do(t, http.MethodPost, "/api/v1/entities/project/p1/versions", a.token,
		map[string]interface{}{"data": map[string]string{"title": "Portfolio"}})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = a.do(t, http.MethodPost, "/api/v1/backups", a.token,
		map[string]string{"type": "full", "name": "api-test"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var backup models.Backup
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &backup))
	assert.Equal(t, models.BackupStatusCompleted, backup.Status)
	assert.Equal(t, "admin", backup.CreatedBy)

	rec = a.do(t, http.MethodGet, "/api/v1/backups/"+backup.ID, a.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/v1/backups/"+backup.ID+"/download", a.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), backup.ID)

	rec = a.do(t, http.MethodPost, "/api/v1/backups/"+backup.ID+"/restore", a.token,
		map[string]string{"conflictResolution": "use_backup"})
	require.Equal(t, http.StatusOK, rec.Code)

	var result models.RestoreResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Zero(t, result.Failed)

	rec = a.do(t, http.MethodGet, "/api/v1/restores", a.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(t, http.MethodDelete, "/api/v1/backups/"+backup.ID, a.token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/v1/backups/"+backup.ID, a.token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScopedBackupsOverHTTP(t *testing.T) {
	a := newAPITest(t)

	createBackup := func(typ string) models.Backup {
		rec := a.do(t, http.MethodPost, "/api/v1/backups", a.token,
			map[string]string{"type": typ, "name": typ + "-via-api"})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var backup models.Backup
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &backup))
		assert.Equal(t, models.BackupStatusCompleted, backup.Status)
		return backup
	}

	// No completed backup exists yet, so the first scoped request degrades
	// to a full run instead of failing.
	degraded := createBackup("incremental")
	assert.Equal(t, models.BackupTypeFull, degraded.Type)

	// With a completed baseline in place, both scoped types work.
	incr := createBackup("incremental")
	assert.Equal(t, models.BackupTypeIncremental, incr.Type)

	diff := createBackup("differential")
	assert.Equal(t, models.BackupTypeDifferential, diff.Type)
}

func TestVersionEndpoints(t *testing.T) {
	a := newAPITest(t)

	create := func(title string) models.EntityVersion {
		rec := a.do(t, http.MethodPost, "/api/v1/entities/project/p1/versions", a.token,
			map[string]interface{}{"data": map[string]string{"title": title}})
		require.Equal(t, http.StatusCreated, rec.Code)
		var v models.EntityVersion
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
		return v
	}

	v1 := create("first")
	v2 := create("second")
	assert.Equal(t, 1, v1.Version)
	assert.Equal(t, 2, v2.Version)

	rec := a.do(t, http.MethodGet, "/api/v1/entities/project/p1/versions", a.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history []models.EntityVersion
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	assert.Len(t, history, 2)

	rec = a.do(t, http.MethodGet, "/api/v1/versions/compare?v1="+v1.ID+"&v2="+v2.ID, a.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var changes []models.Change
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &changes))
	require.Len(t, changes, 1)
	assert.Equal(t, "title", changes[0].Field)

	rec = a.do(t, http.MethodGet, "/api/v1/versions/compare?v1="+v1.ID, a.token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodPost, "/api/v1/versions/"+v1.ID+"/restore", a.token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Deleting the whole history one by one stops at the last version.
	rec = a.do(t, http.MethodDelete, "/api/v1/versions/"+v1.ID, a.token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/v1/versions/"+v1.ID, a.token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVersionCreateUnknownTypeReturns404(t *testing.T) {
	a := newAPITest(t)
	rec := a.do(t, http.MethodPost, "/api/v1/entities/blogpost/b1/versions", a.token,
		map[string]interface{}{"data": map[string]string{"title": "nope"}})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScheduleEndpoints(t *testing.T) {
	a := newAPITest(t)

	rec := a.do(t, http.MethodPost, "/api/v1/schedules", a.token,
		map[string]interface{}{"id": "nightly", "schedule": "0 3 * * *", "type": "full", "enabled": false})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = a.do(t, http.MethodPost, "/api/v1/schedules", a.token,
		map[string]interface{}{"id": "broken", "schedule": "every day at dawn", "type": "full"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/v1/schedules", a.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tasks []scheduler.TaskSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tasks))
	require.Len(t, tasks, 1)
	assert.Equal(t, "nightly", tasks[0].ID)

	rec = a.do(t, http.MethodPost, "/api/v1/schedules/nightly/toggle", a.token,
		map[string]bool{"enabled": true})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = a.do(t, http.MethodPost, "/api/v1/schedules/run", a.token,
		map[string]string{"type": "full"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var backup models.Backup
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &backup))
	assert.Equal(t, models.BackupStatusCompleted, backup.Status)
	assert.False(t, backup.IsAutomatic)

	rec = a.do(t, http.MethodDelete, "/api/v1/schedules/nightly", a.token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = a.do(t, http.MethodDelete, "/api/v1/schedules/nightly", a.token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEventsEndpoint(t *testing.T) {
	a := newAPITest(t)

	rec := a.do(t, http.MethodPost, "/api/v1/backups", a.token, map[string]string{"type": "full"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/v1/events", a.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var events []models.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	assert.NotEmpty(t, events)
}

func TestChangePassword(t *testing.T) {
	a := newAPITest(t)

	rec := a.do(t, http.MethodPost, "/api/v1/auth/password", a.token,
		map[string]string{"currentPassword": "hunter22", "newPassword": "hunter23"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	a.login(t, "admin@example.com", "hunter23")

	rec = a.do(t, http.MethodPost, "/api/v1/auth/login", "",
		map[string]string{"email": "admin@example.com", "password": "hunter22"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
