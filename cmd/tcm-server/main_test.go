package main

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebridge/tcm/internal/config"
	"github.com/carebridge/tcm/internal/domain/caretransition"
	"github.com/carebridge/tcm/internal/platform/auth"
	"github.com/carebridge/tcm/internal/platform/db"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := rootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestTenantCheck(t *testing.T) {
	out, err := runCmd(t, "tenant", "check", "--key", "acme_health-1")
	require.NoError(t, err)
	assert.Contains(t, out, `"acme_health-1" is valid`)

	_, err = runCmd(t, "tenant", "check", "--key", "acme health")
	assert.Error(t, err)

	_, err = runCmd(t, "tenant", "check")
	assert.ErrorIs(t, err, db.ErrMissingTenant)
}

func TestRootCmd_Subcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd().Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "migrate", "tenant"} {
		assert.True(t, names[want], "missing %s command", want)
	}
}

func TestMigrationSource(t *testing.T) {
	embedded, err := fs.Glob(migrationSource(""), "*.sql")
	require.NoError(t, err)
	assert.Contains(t, embedded, "001_care_transition.sql")

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "010_extra.sql"), []byte("SELECT 1;"), 0o600))
	onDisk, err := fs.Glob(migrationSource(dir), "*.sql")
	require.NoError(t, err)
	assert.Equal(t, []string{"010_extra.sql"}, onDisk)
}

func TestPrintStatus(t *testing.T) {
	at := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	var buf bytes.Buffer
	printStatus(&buf, []db.MigrationStatus{
		{Version: 1, Name: "001_care_transition.sql", Applied: true, AppliedAt: &at},
		{Version: 2, Name: "002_registry.sql"},
	})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "applied")
	assert.Contains(t, lines[1], "2025-03-01 09:30:00")
	assert.Contains(t, lines[2], "pending")
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func testConfig(mode string) *config.Config {
	return &config.Config{
		Env:             "test",
		AuthMode:        mode,
		AuthSigningKey:  "main-test-signing-key",
		DefaultTenant:   "default",
		CORSOrigins:     []string{"http://localhost:3000"},
		RateLimitRPS:    100,
		RateLimitBurst:  100,
		ContactDays:     2,
		FollowUpDays:    14,
		ReadmissionDays: 30,
	}
}

func testServer(t *testing.T, cfg *config.Config, pinger db.Pinger) *echo.Echo {
	t.Helper()
	logger := zerolog.Nop()
	e, err := newServer(serverDeps{
		cfg:      cfg,
		logger:   logger,
		svc:      caretransition.NewService(nil, logger),
		dbPinger: pinger,
	})
	require.NoError(t, err)
	return e
}

func serve(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	e := testServer(t, testConfig("development"), fakePinger{})

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = serve(e, httptest.NewRequest(http.MethodGet, "/health/db", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_HealthDBDown(t *testing.T) {
	e := testServer(t, testConfig("development"), fakePinger{err: errors.New("connection refused")})
	rec := serve(e, httptest.NewRequest(http.MethodGet, "/health/db", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "unhealthy")
}

func TestServer_RejectsInvalidTenant(t *testing.T) {
	e := testServer(t, testConfig("development"), nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/care-transitions", nil)
	req.Header.Set("X-Tenant-ID", "not a tenant!")
	rec := serve(e, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func signedToken(t *testing.T, key string, roles ...string) string {
	t.Helper()
	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "nurse-7",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		TenantID: "acme",
		Roles:    roles,
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return s
}

func TestServer_JWTRequired(t *testing.T) {
	cfg := testConfig("jwt")
	e := testServer(t, cfg, nil)

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/api/v1/tcm/alerts", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/care-transitions", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+signedToken(t, cfg.AuthSigningKey, "viewer"))
	rec = serve(e, req)
	assert.Equal(t, http.StatusForbidden, rec.Code, "viewers cannot create")
}

func TestServer_JWTPinsTenant(t *testing.T) {
	cfg := testConfig("jwt")
	e := testServer(t, cfg, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tcm/alerts", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, cfg.AuthSigningKey, "viewer"))
	req.Header.Set("X-Tenant-ID", "globex")
	rec := serve(e, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "requested tenant does not match token")
}

func TestServer_SecurityHeaders(t *testing.T) {
	e := testServer(t, testConfig("development"), nil)
	rec := serve(e, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestServer_OpenAPI(t *testing.T) {
	e := testServer(t, testConfig("development"), nil)
	rec := serve(e, httptest.NewRequest(http.MethodGet, "/openapi.json", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/api/v1/care-transitions/{key}/outreach")
	assert.Contains(t, rec.Body.String(), "/api/v1/tcm/alerts")
}

func TestServer_BodyLimit(t *testing.T) {
	e := testServer(t, testConfig("development"), nil)
	body := `{"notes":"` + strings.Repeat("x", 2<<20) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/care-transitions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := serve(e, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
