package bootstrap

import (
	"context"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/listing-relay/config"
	"github.com/target/listing-relay/internal/data/memory"
	"github.com/target/listing-relay/internal/domain/model"
	"github.com/target/listing-relay/internal/testutil/webhooktest"
)

func TestGetEnabledServices(t *testing.T) {
	cfg := &config.AppConfig{Services: "reaper, http"}
	assert.Equal(t, []string{"http", "reaper"}, GetEnabledServices(cfg))

	cfg.Services = "bogus"
	assert.Empty(t, GetEnabledServices(cfg))
	assert.Empty(t, GetEnabledServices(nil))
}

func TestValidateServiceConfig(t *testing.T) {
	require.Error(t, ValidateServiceConfig(nil))

	cfg := &config.AppConfig{Services: "http,job-runner", Store: config.StoreConfig{Driver: "memory"}}
	cfg.Store.Sanitize()
	require.NoError(t, ValidateServiceConfig(cfg))

	cfg.Services = "http"
	require.Error(t, ValidateServiceConfig(cfg), "memory jobs would never reach a runner")

	cfg.Services = "scheduler"
	require.Error(t, ValidateServiceConfig(cfg))

	cfg.Services = "http"
	cfg.Store = config.StoreConfig{Driver: "postgres"}
	cfg.Store.Sanitize()
	require.NoError(t, ValidateServiceConfig(cfg))

	cfg.Store.Driver = "mongo"
	require.Error(t, ValidateServiceConfig(cfg))
}

func TestDeriveSecretKey(t *testing.T) {
	raw := strings.Repeat("ab", 32)
	decoded, err := hex.DecodeString(raw)
	require.NoError(t, err)
	assert.Equal(t, decoded, DeriveSecretKey(raw))

	hashed := DeriveSecretKey("passphrase")
	assert.Len(t, hashed, 32)
	assert.Equal(t, hashed, DeriveSecretKey("passphrase"))
}

func TestCreateSecretBox(t *testing.T) {
	plain, err := CreateSecretBox("", discardLogger())
	require.NoError(t, err)
	_, err = plain.Seal("x")
	require.Error(t, err, "a plaintext-only box cannot seal")

	box, err := CreateSecretBox("passphrase", discardLogger())
	require.NoError(t, err)
	sealed, err := box.Seal("whsec")
	require.NoError(t, err)
	opened, err := box.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "whsec", opened)
}

func TestBuildStorage(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		st, err := BuildStorage(ctx, StorageDeps{Store: storeConfig("memory", ""), Logger: discardLogger()})
		require.NoError(t, err)
		require.NotNil(t, st.Memory)
		assert.IsType(t, &memory.KeyGuard{}, st.Guard)
		assert.IsType(t, &memory.RecordRepo{}, st.Records)
		require.NoError(t, st.Close())
	})

	t.Run("memory with sqlite records", func(t *testing.T) {
		cfg := storeConfig("memory", "sqlite")
		cfg.SQLitePath = filepath.Join(t.TempDir(), "records.db")
		st, err := BuildStorage(ctx, StorageDeps{Store: cfg, Logger: discardLogger()})
		require.NoError(t, err)
		res, err := st.Records.Upsert(ctx, model.UpsertRecordParams{
			ID:      "rec-1",
			Key:     model.RecordKey{Source: "zillow", Region: "07001", NormalizedAddress: "1 main st"},
			Payload: []byte(`{"address":"1 Main St"}`),
			Now:     time.Now(),
		})
		require.NoError(t, err)
		assert.Equal(t, model.UpsertCreated, res.Outcome)
		require.NoError(t, st.Close())
		_, err = os.Stat(cfg.SQLitePath)
		require.NoError(t, err)
	})

	t.Run("postgres without a connection", func(t *testing.T) {
		_, err := BuildStorage(ctx, StorageDeps{Store: storeConfig("postgres", "")})
		require.Error(t, err)
	})

	t.Run("unknown driver", func(t *testing.T) {
		_, err := BuildStorage(ctx, StorageDeps{Store: storeConfig("bolt", "")})
		require.Error(t, err)
	})
}

func storeConfig(driver, recordDriver string) config.StoreConfig {
	cfg := config.StoreConfig{Driver: driver, RecordDriver: recordDriver, SQLitePath: "unused.db"}
	cfg.Sanitize()
	return cfg
}

const fixtureScrapers = `
sources:
  - name: fixture
    kind: static
    items:
      - address: "1 Main Street"
      - address: "2 Oak Ave"
`

func testAppConfig(t *testing.T, services string) *config.AppConfig {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scrapers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fixtureScrapers), 0o600))

	cfg := &config.AppConfig{
		Services: services,
		Store:    config.StoreConfig{Driver: config.DriverMemory},
		Scrapers: config.ScraperConfig{ConfigFile: path},
	}
	cfg.Sanitize()
	return cfg
}

func TestNewServices_WiresPipelineEndToEnd(t *testing.T) {
	ctx := context.Background()
	recv := webhooktest.NewReceiver()
	t.Cleanup(recv.Close)

	c, err := NewServices(ctx, &ServiceDeps{Config: testAppConfig(t, "http"), Logger: discardLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(ctx) })
	assert.Nil(t, c.Runner, "runner is only wired for the job-runner service")

	c.Storage.Memory.Subscriptions().Put(&model.WebhookSubscription{
		ID:          "sub-crm",
		Name:        "crm",
		EndpointURL: recv.URL() + "/hooks",
		EventTypes:  []string{model.EventPropertyNew},
		IsActive:    true,
	})

	job, err := c.Orchestrator.Submit(ctx, model.SubmitJobRequest{Source: "fixture", Region: "07001"})
	require.NoError(t, err)
	done, err := c.Orchestrator.Execute(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, done.Status)

	require.NoError(t, c.Dispatcher.Wait(ctx))
	assert.Equal(t, 2, recv.Count())
	assert.Equal(t, float64(1), c.Observability.Registry.Counter("jobs.success", map[string]string{"source": "fixture"}))
}

func TestNewServices_RunnerEnabled(t *testing.T) {
	ctx := context.Background()
	c, err := NewServices(ctx, &ServiceDeps{Config: testAppConfig(t, "http,job-runner"), Logger: discardLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(ctx) })
	require.NotNil(t, c.Runner)

	_, err = c.Orchestrator.Submit(ctx, model.SubmitJobRequest{Source: "fixture", Region: "07001"})
	require.NoError(t, err)
	assert.Equal(t, 1, c.Runner.Pending())
}

func TestNewServices_BadScraperFile(t *testing.T) {
	cfg := testAppConfig(t, "http")
	cfg.Scrapers.ConfigFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := NewServices(context.Background(), &ServiceDeps{Config: cfg, Logger: discardLogger()})
	require.Error(t, err)
}

func TestBuildHTTPHandler(t *testing.T) {
	ctx := context.Background()
	c, err := NewServices(ctx, &ServiceDeps{Config: testAppConfig(t, "http"), Logger: discardLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(ctx) })

	srv := httptest.NewServer(BuildHTTPHandler(c, HTTPHandlerOptions{Logger: discardLogger()}))
	t.Cleanup(srv.Close)

	resp, err := http.Post(srv.URL+"/api/jobs", "application/json",
		strings.NewReader(`{"source":"fixture","region":"07001"}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNotificationSinks(t *testing.T) {
	disabled := config.ObservabilityNotificationsConfig{
		Slack: config.SlackNotificationConfig{Enabled: true, WebhookURL: "https://hooks.slack.com/services/x"},
	}
	disabled.Sanitize()
	assert.Empty(t, notificationSinks(discardLogger(), disabled))

	enabled := config.ObservabilityNotificationsConfig{
		Enabled:   true,
		Slack:     config.SlackNotificationConfig{Enabled: true, WebhookURL: "https://hooks.slack.com/services/x"},
		PagerDuty: config.PagerDutyNotificationConfig{Enabled: true},
	}
	enabled.Sanitize()
	assert.False(t, enabled.PagerDuty.Enabled, "pagerduty without a routing key is dropped")
	sinks := notificationSinks(discardLogger(), enabled)
	require.Len(t, sinks, 1)
	assert.Equal(t, "slack", sinks[0].Name)

	obs := buildObservability(discardLogger(), config.ObservabilityConfig{Notifications: enabled})
	assert.True(t, obs.FailureNotifier.Enabled())
	assert.Nil(t, obs.MetricsSink)
}
