package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/cutlog/internal/apiserver"
	"github.com/kimhsiao/cutlog/internal/config"
	apperrors "github.com/kimhsiao/cutlog/internal/errors"
	"github.com/kimhsiao/cutlog/internal/models"
	syncpkg "github.com/kimhsiao/cutlog/internal/sync"
	"github.com/kimhsiao/cutlog/internal/sync/scheduler"
	"github.com/kimhsiao/cutlog/internal/uuid"
)

const testSecret = "cli-test-secret"

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

// setupEnv points the CLI at a fresh data dir and an in-process reference
// server, and returns the server's store.
func setupEnv(t *testing.T) *apiserver.Store {
	t.Helper()
	store := apiserver.NewStore()
	jwtSvc := apiserver.NewJWT(testSecret)
	srv := httptest.NewServer(apiserver.NewRouter(apiserver.Options{JWTSecret: testSecret}, store, jwtSvc))
	t.Cleanup(srv.Close)

	token, err := jwtSvc.Sign("user-1", time.Hour)
	require.NoError(t, err)

	t.Setenv("CUTLOG_CONFIG", "")
	t.Setenv("CUTLOG_DATA_DIR", t.TempDir())
	t.Setenv("CUTLOG_API_BASE_URL", srv.URL)
	t.Setenv("CUTLOG_API_TOKEN", token)
	t.Setenv("CUTLOG_SERVER_JWT_SECRET", testSecret)
	t.Setenv("CUTLOG_LOG_LEVEL", "error")
	return store
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func runJSON[T any](t *testing.T, args ...string) T {
	t.Helper()
	out, err := run(t, append(args, "--json")...)
	require.NoError(t, err, out)
	var v T
	require.NoError(t, json.Unmarshal([]byte(out), &v), out)
	return v
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "cutlog", cmd.Use)

	for _, path := range [][]string{
		{"profiles", "list"}, {"profiles", "add"}, {"profiles", "edit"}, {"profiles", "rm"},
		{"records", "list"}, {"records", "add"}, {"records", "rm"},
		{"sync"}, {"status"}, {"queue", "list"}, {"queue", "retry"}, {"queue", "discard"},
		{"serve"}, {"token"}, {"daemon"},
	} {
		t.Run(strings.Join(path, " "), func(t *testing.T) {
			sub, _, err := cmd.Find(path)
			require.NoError(t, err)
			assert.Equal(t, path[len(path)-1], sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"config", "json", "verbose", "sync"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
}

func TestProfilesAddAndSync(t *testing.T) {
	store := setupEnv(t)

	p := runJSON[models.Profile](t, "profiles", "add", "Alex", "-m", "sides=2 inch:clipper", "-m", "top=4 inch")
	assert.True(t, uuid.IsClientID(p.ID))
	assert.Equal(t, models.SyncStatusPendingUpload, p.SyncStatus)
	require.Len(t, p.Measurements, 2)
	assert.Equal(t, models.Measurement{Area: "sides", Size: "2 inch", Technique: "clipper", StepOrder: 1}, p.Measurements[0])
	assert.Equal(t, 2, p.Measurements[1].StepOrder)
	assert.Empty(t, store.ListProfiles("user-1"), "nothing uploaded before sync")

	out, err := run(t, "sync")
	require.NoError(t, err)
	assert.Contains(t, out, "Uploaded: 1")

	profiles := runJSON[[]models.Profile](t, "profiles", "list")
	require.Len(t, profiles, 1)
	assert.False(t, uuid.IsClientID(profiles[0].ID))
	assert.Equal(t, models.SyncStatusSynced, profiles[0].SyncStatus)

	remote := store.ListProfiles("user-1")
	require.Len(t, remote, 1)
	assert.Equal(t, profiles[0].ID, remote[0].ID)
	assert.Equal(t, "Alex", remote[0].Name)
}

func TestProfilesEdit(t *testing.T) {
	setupEnv(t)
	p := runJSON[models.Profile](t, "profiles", "add", "Alex")

	edited := runJSON[models.Profile](t, "profiles", "edit", p.ID, "--name", "Alexandra", "-d", "curly")
	assert.Equal(t, p.ID, edited.ID)
	assert.Equal(t, "Alexandra", edited.Name)
	assert.Equal(t, "curly", edited.Description)

	_, err := run(t, "profiles", "edit", "nope", "--name", "x")
	assert.Equal(t, apperrors.ErrNotFound, apperrors.CodeOf(err))
}

func TestProfilesRmUnsynced(t *testing.T) {
	setupEnv(t)
	p := runJSON[models.Profile](t, "profiles", "add", "Alex")

	out, err := run(t, "profiles", "rm", p.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted profile")

	out, err = run(t, "profiles", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No profiles yet")
}

func TestRecordsAddWithAutoSync(t *testing.T) {
	store := setupEnv(t)
	p := runJSON[models.Profile](t, "profiles", "add", "Alex", "--sync")
	// --sync ran a pass after the add, so the profile has its server id.
	profiles := runJSON[[]models.Profile](t, "profiles", "list")
	require.Len(t, profiles, 1)
	parent := profiles[0]
	assert.NotEqual(t, p.ID, parent.ID)

	out, err := run(t, "records", "add", parent.ID, "--date", "2026-03-14", "--stylist", "Jo",
		"--price", "32.50", "--duration", "40", "--sync")
	require.NoError(t, err)
	assert.Contains(t, out, "Recorded haircut")
	assert.Contains(t, out, "Uploaded: 1")

	records := runJSON[[]models.Record](t, "records", "list", parent.ID)
	require.Len(t, records, 1)
	r := records[0]
	assert.Equal(t, int64(3250), r.PriceCents)
	assert.Equal(t, 40, r.DurationMinutes)
	assert.Equal(t, "Jo", r.Stylist)
	assert.Equal(t, "2026-03-14", r.OccurredAtTime().Format("2006-01-02"))
	assert.Equal(t, models.SyncStatusSynced, r.SyncStatus)

	remoteRecords, err := store.ListRecords("user-1", parent.ID)
	require.NoError(t, err)
	require.Len(t, remoteRecords, 1)
	assert.Equal(t, r.ID, remoteRecords[0].ID)

	out, err = run(t, "records", "rm", parent.ID, r.ID, "--sync")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted record")
	remoteRecords, err = store.ListRecords("user-1", parent.ID)
	require.NoError(t, err)
	assert.Empty(t, remoteRecords)
}

func TestRecordsAddValidation(t *testing.T) {
	setupEnv(t)
	p := runJSON[models.Profile](t, "profiles", "add", "Alex")

	_, err := run(t, "records", "add", p.ID, "--date", "14/03/2026")
	assert.Equal(t, apperrors.ErrInvalid, apperrors.CodeOf(err))

	_, err = run(t, "records", "add", p.ID, "--price=-3")
	assert.Equal(t, apperrors.ErrInvalid, apperrors.CodeOf(err))

	_, err = run(t, "records", "add", "nope")
	assert.Equal(t, apperrors.ErrNotFound, apperrors.CodeOf(err))
}

func TestStatus(t *testing.T) {
	setupEnv(t)
	runJSON[models.Profile](t, "profiles", "add", "Alex")

	report := runJSON[statusReport](t, "status")
	assert.Equal(t, 1, report.Queue.Total)
	assert.Equal(t, 1, report.Queue.Pending)
	assert.Equal(t, 1, report.PendingProfiles)
	assert.Zero(t, report.LastSyncAt)

	_, err := run(t, "sync")
	require.NoError(t, err)

	report = runJSON[statusReport](t, "status")
	assert.Zero(t, report.Queue.Total)
	assert.Zero(t, report.PendingProfiles)
	assert.NotZero(t, report.LastSyncAt)

	out, err := run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Queued operations: 0")
}

func TestQueueCommands(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "queue", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Queue is empty")

	runJSON[models.Profile](t, "profiles", "add", "Alex")
	ops := runJSON[[]models.PendingOperation](t, "queue", "list")
	require.Len(t, ops, 1)
	assert.Equal(t, models.OperationCreate, ops[0].Kind)

	retried := runJSON[map[string]int](t, "queue", "retry")
	assert.Zero(t, retried["retried"])
	discarded := runJSON[map[string]int](t, "queue", "discard")
	assert.Zero(t, discarded["discarded"])
}

func TestToken(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "token", "user-42", "--ttl", "1h")
	require.NoError(t, err)
	owner, err := apiserver.NewJWT(testSecret).Verify(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "user-42", owner)
}

func TestTokenAndServeNeedSecret(t *testing.T) {
	setupEnv(t)
	t.Setenv("CUTLOG_SERVER_JWT_SECRET", "")

	_, err := run(t, "token", "user-1")
	assert.Equal(t, apperrors.ErrValidation, apperrors.CodeOf(err))
	assert.Equal(t, ExitCommandError, exitCode(err))

	_, err = run(t, "serve")
	assert.Equal(t, apperrors.ErrValidation, apperrors.CodeOf(err))
}

func TestInvalidConfig(t *testing.T) {
	setupEnv(t)
	t.Setenv("CUTLOG_BATCH_SIZE", "500")

	_, err := run(t, "status")
	assert.Equal(t, apperrors.ErrValidation, apperrors.CodeOf(err))
}

func TestDaemonRouter(t *testing.T) {
	setupEnv(t)
	cfg, err := config.Load("")
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	a, err := openApp(cfg, syncpkg.NewMetrics(reg))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	sched := scheduler.NewScheduler(a.engine, &scheduler.SchedulerConfig{SyncInterval: time.Hour, PassTimeout: time.Minute})
	srv := httptest.NewServer(daemonRouter(reg, sched))
	t.Cleanup(srv.Close)

	resp, err := http.Post(srv.URL+"/sync", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/status")
	require.NoError(t, err)
	var status scheduler.SchedulerStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	resp.Body.Close()
	assert.True(t, status.IsOnline)
	assert.False(t, status.IsRunning)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	var body bytes.Buffer
	_, err = body.ReadFrom(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, body.String(), "cutlog_sync_pending_operations")
}

func TestParseMeasurements(t *testing.T) {
	got, err := parseMeasurements([]string{"sides=2:clipper", " top = 4 inch "})
	require.NoError(t, err)
	assert.Equal(t, []models.Measurement{
		{Area: "sides", Size: "2", Technique: "clipper", StepOrder: 1},
		{Area: "top", Size: "4 inch", StepOrder: 2},
	}, got)

	_, err = parseMeasurements([]string{"no-size"})
	assert.Equal(t, apperrors.ErrInvalid, apperrors.CodeOf(err))
	_, err = parseMeasurements([]string{"=2"})
	assert.Error(t, err)
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"25", 2500},
		{"25.5", 2550},
		{"32.50", 3250},
		{"0.29", 29},
	}
	for _, tt := range tests {
		got, err := parsePrice(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
	_, err := parsePrice("abc")
	assert.Error(t, err)
}

func TestFormatPrice(t *testing.T) {
	assert.Equal(t, "-", formatPrice(0))
	assert.Equal(t, "32.50", formatPrice(3250))
	assert.Equal(t, "0.05", formatPrice(5))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitCommandError, exitCode(apperrors.New(apperrors.ErrNotFound, "x")))
	assert.Equal(t, ExitFailure, exitCode(apperrors.New(apperrors.ErrSyncFailed, "x")))
	assert.Equal(t, ExitFailure, exitCode(assert.AnError))
}
