package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/confluo/internal/common"
	"github.com/ternarybob/confluo/internal/interfaces"
	"github.com/ternarybob/confluo/internal/models"
	"github.com/ternarybob/confluo/internal/orchestrator"
	"github.com/ternarybob/confluo/internal/queue"
	"github.com/ternarybob/confluo/internal/services/events"
	"github.com/ternarybob/confluo/internal/storage/sqlite"
)

type handlerFixture struct {
	jobs         *JobHandler
	integrations *IntegrationHandler
	queues       *QueueHandler
	admin        *AdminHandler
	api          *APIHandler
	broker       interfaces.Broker
	storage      interfaces.StorageManager
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	logger := arbor.NewLogger()
	cfg := common.DefaultConfig()

	broker, err := queue.NewBadgerBroker(filepath.Join(t.TempDir(), "queue"), cfg.Queue, logger)
	require.NoError(t, err)
	t.Cleanup(func() { broker.Stop() })

	storage, err := sqlite.NewManager(logger, &common.SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })

	eventSvc := events.NewService(logger)
	t.Cleanup(func() { eventSvc.Close() })

	orch := orchestrator.New(storage.Jobs(), broker, eventSvc, cfg, logger)

	return &handlerFixture{
		jobs:         NewJobHandler(storage.Jobs(), orch, logger),
		integrations: NewIntegrationHandler(storage.Integrations(), storage.Catalogs(), logger),
		queues:       NewQueueHandler(broker, logger),
		admin:        NewAdminHandler(broker, storage.Raw(), logger),
		api:          NewAPIHandler(logger),
		broker:       broker,
		storage:      storage,
	}
}

func (f *handlerFixture) seedIntegration(t *testing.T, id, tenantID string) {
	t.Helper()
	integ := &models.Integration{
		ID:          id,
		TenantID:    tenantID,
		Provider:    models.ProviderJira,
		Credentials: json.RawMessage(`{"email":"dev@example.com","api_token":"secret"}`),
		Active:      true,
	}
	require.NoError(t, f.storage.Integrations().CreateIntegration(context.Background(), integ))
}

func tenantRequest(method, target string, body []byte, tenantID string) *http.Request {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if tenantID != "" {
		req.Header.Set(TenantHeader, tenantID)
	}
	return req
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestVersionAndHealthHandlers(t *testing.T) {
	f := newHandlerFixture(t)

	rec := httptest.NewRecorder()
	f.api.VersionHandler(rec, httptest.NewRequest("GET", "/api/version", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decodeBody(t, rec)["version"])

	rec = httptest.NewRecorder()
	f.api.HealthHandler(rec, httptest.NewRequest("GET", "/api/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}

func TestListJobsRequiresTenantHeader(t *testing.T) {
	f := newHandlerFixture(t)

	rec := httptest.NewRecorder()
	f.jobs.ListJobsHandler(rec, tenantRequest("GET", "/api/jobs", nil, ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobLifecycleOverHTTP(t *testing.T) {
	f := newHandlerFixture(t)
	f.seedIntegration(t, "int_1", "tenant-a")

	body := []byte(`{
		"id": "job_1",
		"integration_id": "int_1",
		"job_name": "nightly sync",
		"schedule_interval": "1h",
		"steps": [
			{"name": "issues", "order": 1, "entity_type": "jira_issues"},
			{"name": "comments", "order": 2, "entity_type": "jira_comments"}
		]
	}`)
	rec := httptest.NewRecorder()
	f.jobs.CreateJobHandler(rec, tenantRequest("POST", "/api/jobs", body, "tenant-a"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	f.jobs.GetJobHandler(rec, tenantRequest("GET", "/api/jobs/job_1", nil, "tenant-a"), "job_1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "READY", decodeBody(t, rec)["overall_status"])

	rec = httptest.NewRecorder()
	f.jobs.ListJobsHandler(rec, tenantRequest("GET", "/api/jobs?status=READY", nil, "tenant-a"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decodeBody(t, rec)["count"])

	// Trigger starts the run and is idempotent for a RUNNING job.
	rec = httptest.NewRecorder()
	f.jobs.TriggerJobHandler(rec, tenantRequest("POST", "/api/jobs/job_1/trigger", nil, "tenant-a"), "job_1")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	f.jobs.TriggerJobHandler(rec, tenantRequest("POST", "/api/jobs/job_1/trigger", nil, "tenant-a"), "job_1")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	job, err := f.storage.Jobs().GetJob(context.Background(), "tenant-a", "job_1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, job.OverallStatus)
}

func TestGetJobWrongTenantIsNotFound(t *testing.T) {
	f := newHandlerFixture(t)
	f.seedIntegration(t, "int_1", "tenant-a")

	job := models.NewJob("job_1", "tenant-a", "int_1", "sync", []*models.JobStep{
		{Name: "issues", Order: 1, EntityType: models.EntityJiraIssues},
	})
	job.ScheduleInterval = time.Hour
	require.NoError(t, f.storage.Jobs().CreateJob(context.Background(), job))

	rec := httptest.NewRecorder()
	f.jobs.GetJobHandler(rec, tenantRequest("GET", "/api/jobs/job_1", nil, "tenant-b"), "job_1")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTriggerUnknownJobIsNotFound(t *testing.T) {
	f := newHandlerFixture(t)

	rec := httptest.NewRecorder()
	f.jobs.TriggerJobHandler(rec, tenantRequest("POST", "/api/jobs/missing/trigger", nil, "tenant-a"), "missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateJobRejectsInvalidBody(t *testing.T) {
	f := newHandlerFixture(t)

	rec := httptest.NewRecorder()
	f.jobs.CreateJobHandler(rec, tenantRequest("POST", "/api/jobs", []byte(`{not json`), "tenant-a"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Steps are required.
	rec = httptest.NewRecorder()
	f.jobs.CreateJobHandler(rec, tenantRequest("POST", "/api/jobs", []byte(`{"integration_id":"int_1","job_name":"x","steps":[]}`), "tenant-a"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIntegrationHandlersSanitizeCredentials(t *testing.T) {
	f := newHandlerFixture(t)

	body := []byte(`{
		"id": "int_1",
		"provider": "jira",
		"credentials": {"email": "dev@example.com", "api_token": "secret"},
		"settings": {"base_url": "https://example.atlassian.net", "projects": ["ENG"]}
	}`)
	rec := httptest.NewRecorder()
	f.integrations.CreateIntegrationHandler(rec, tenantRequest("POST", "/api/integrations", body, "tenant-a"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "secret")

	rec = httptest.NewRecorder()
	f.integrations.GetIntegrationHandler(rec, tenantRequest("GET", "/api/integrations/int_1", nil, "tenant-a"), "int_1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret")

	// The stored credentials survive sanitized responses.
	integ, err := f.storage.Integrations().GetIntegration(context.Background(), "tenant-a", "int_1")
	require.NoError(t, err)
	assert.Contains(t, string(integ.Credentials), "secret")
}

func TestSetMappingsValidatesSlots(t *testing.T) {
	f := newHandlerFixture(t)
	f.seedIntegration(t, "int_1", "tenant-a")

	rec := httptest.NewRecorder()
	body := []byte(`{"custom_field_01": "customfield_10001", "custom_field_02": "customfield_10002"}`)
	f.integrations.SetMappingsHandler(rec, tenantRequest("PUT", "/api/integrations/int_1/mappings", body, "tenant-a"), "int_1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	integ, err := f.storage.Integrations().GetIntegration(context.Background(), "tenant-a", "int_1")
	require.NoError(t, err)
	assert.Equal(t, "customfield_10001", integ.CustomFieldMappings["custom_field_01"])

	rec = httptest.NewRecorder()
	f.integrations.SetMappingsHandler(rec, tenantRequest("PUT", "/api/integrations/int_1/mappings", []byte(`{"custom_field_99": "x"}`), "tenant-a"), "int_1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueueStatsHandler(t *testing.T) {
	f := newHandlerFixture(t)

	rec := httptest.NewRecorder()
	f.queues.StatsHandler(rec, httptest.NewRequest("GET", "/api/queues", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	queues, ok := decodeBody(t, rec)["queues"].([]interface{})
	require.True(t, ok)
	assert.Len(t, queues, 4)
}

func TestAdminRequeueRaw(t *testing.T) {
	f := newHandlerFixture(t)
	f.seedIntegration(t, "int_1", "tenant-a")
	ctx := context.Background()

	raw := &models.RawRecord{
		ID:            "raw_1",
		TenantID:      "tenant-a",
		IntegrationID: "int_1",
		EntityType:    models.EntityJiraIssues,
		ExternalID:    "1",
		Payload:       json.RawMessage(`{"id":"1"}`),
		Metadata:      models.ExtractionMetadata{JobID: "job_1", StepName: "issues"},
		Status:        models.ProcessingFailed,
	}
	require.NoError(t, f.storage.Raw().StoreRaw(ctx, raw))

	rec := httptest.NewRecorder()
	f.admin.RequeueRawHandler(rec, tenantRequest("POST", "/api/admin/raw/raw_1/requeue", nil, "tenant-a"), "raw_1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	stored, err := f.storage.Raw().GetRaw(ctx, "tenant-a", "raw_1")
	require.NoError(t, err)
	assert.Equal(t, models.ProcessingPending, stored.Status)

	env, err := f.broker.Receive(ctx, models.QueueTransform)
	require.NoError(t, err)
	assert.Equal(t, "raw_1", env.Ref.RawID)
	assert.Equal(t, "job_1", env.JobID)
	assert.False(t, env.FirstItem)
	assert.False(t, env.LastItem)
}

func TestAdminRequeueUnknownRaw(t *testing.T) {
	f := newHandlerFixture(t)

	rec := httptest.NewRecorder()
	f.admin.RequeueRawHandler(rec, tenantRequest("POST", "/api/admin/raw/missing/requeue", nil, "tenant-a"), "missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminDeadLetterReplay(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()

	env := &models.Envelope{
		TenantID:   "tenant-a",
		JobID:      "job_1",
		StepName:   "issues",
		EntityType: models.EntityJiraIssues,
		Ref:        &models.Ref{RawID: "raw_1"},
	}
	require.NoError(t, f.broker.Publish(ctx, models.QueueDeadLetter, env))

	rec := httptest.NewRecorder()
	f.admin.ListDeadLettersHandler(rec, httptest.NewRequest("GET", "/api/admin/deadletter", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 1, decodeBody(t, rec)["count"])

	dead, err := f.broker.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)

	rec = httptest.NewRecorder()
	body := []byte(`{"queue": "transform"}`)
	f.admin.ReplayDeadLetterHandler(rec, tenantRequest("POST", "/api/admin/deadletter/"+dead[0].ID+"/replay", body, ""), dead[0].ID)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	replayed, err := f.broker.Receive(ctx, models.QueueTransform)
	require.NoError(t, err)
	assert.Equal(t, "raw_1", replayed.Ref.RawID)
}

func TestAdminReplayRejectsBadTarget(t *testing.T) {
	f := newHandlerFixture(t)

	rec := httptest.NewRecorder()
	f.admin.ReplayDeadLetterHandler(rec, tenantRequest("POST", "/api/admin/deadletter/x/replay", []byte(`{"queue":"etl.dead"}`), ""), "x")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	f.admin.ReplayDeadLetterHandler(rec, tenantRequest("POST", "/api/admin/deadletter/x/replay", []byte(`{"queue":"transform"}`), ""), "x")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
