package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ayurflow/workflow/internal/config"
	"github.com/ayurflow/workflow/internal/platform/auth"
	"github.com/ayurflow/workflow/internal/platform/db"
	"github.com/ayurflow/workflow/internal/platform/notification"
	"github.com/ayurflow/workflow/internal/platform/telemetry"
)

func devConfig() *config.Config {
	return &config.Config{
		Env:            "development",
		ClinicTimezone: "UTC",
		ReminderHour:   10,
		CORSOrigins:    []string{"http://localhost:3000"},
		RequestTimeout: 5 * time.Second,
	}
}

func testServer(t *testing.T) http.Handler {
	t.Helper()
	cfg := devConfig()
	metrics := telemetry.NewMetrics()
	a, err := newApp(cfg, nil, metrics, zerolog.Nop())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	return newServer(cfg, nil, a, metrics, zerolog.Nop())
}

func TestServer_Health(t *testing.T) {
	rec := httptest.NewRecorder()
	testServer(t).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), version) {
		t.Errorf("expected version in body, got %s", rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected request id header")
	}
}

func TestServer_Metrics(t *testing.T) {
	rec := httptest.NewRecorder()
	testServer(t).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestServer_RoutesRequireIdentity(t *testing.T) {
	srv := testServer(t)
	for _, path := range []string{"/api/v1/appointments", "/api/v1/plans", "/api/v1/reminders"} {
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("GET %s: expected 401, got %d", path, rec.Code)
		}
	}
}

func TestServer_RoleGuard(t *testing.T) {
	srv := testServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/plans", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(auth.HeaderActorID, uuid.NewString())
	req.Header.Set(auth.HeaderActorRole, string(auth.RolePatient))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for patient creating a plan, got %d", rec.Code)
	}
}

func TestServer_BadDevIdentity(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/plans", nil)
	req.Header.Set(auth.HeaderActorID, "not-a-uuid")
	req.Header.Set(auth.HeaderActorRole, string(auth.RoleDoctor))
	rec := httptest.NewRecorder()
	testServer(t).ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestNewApp_BadTimezone(t *testing.T) {
	cfg := devConfig()
	cfg.ClinicTimezone = "Mars/Olympus"
	if _, err := newApp(cfg, nil, nil, zerolog.Nop()); err == nil {
		t.Fatal("expected error for unknown clinic timezone")
	}
}

func TestBuildSenders(t *testing.T) {
	cfg := devConfig()
	senders := buildSenders(cfg, zerolog.Nop())
	if len(senders) != 1 || senders[0].Channel() != notification.ChannelLog {
		t.Fatalf("expected only the log sender, got %d", len(senders))
	}

	cfg.SMTPHost = "smtp.example.com"
	cfg.SMTPPort = 587
	cfg.SMTPFrom = "clinic@example.com"
	cfg.ExpoPushEnabled = true
	senders = buildSenders(cfg, zerolog.Nop())
	if len(senders) != 2 {
		t.Fatalf("expected email and push senders, got %d", len(senders))
	}
	if senders[0].Channel() != notification.ChannelEmail || senders[1].Channel() != notification.ChannelPush {
		t.Errorf("unexpected channel order %s, %s", senders[0].Channel(), senders[1].Channel())
	}
}

func TestNewLogger_Level(t *testing.T) {
	tests := []struct {
		level string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"WARN", zerolog.WarnLevel},
		{"", zerolog.InfoLevel},
		{"chatty", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := newLogger("production", tt.level).GetLevel(); got != tt.want {
			t.Errorf("newLogger(%q) level = %s, want %s", tt.level, got, tt.want)
		}
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	migs, err := db.NewMigrator(nil, migrationsFS("")).LoadMigrations()
	if err != nil {
		t.Fatal(err)
	}
	if len(migs) == 0 || migs[0].Version != 1 {
		t.Fatalf("expected embedded migration 1, got %+v", migs)
	}
	for _, table := range []string{"appointment", "treatment_plan", "progress_log", "reminder", "patient_contact"} {
		if !strings.Contains(migs[0].SQL, "CREATE TABLE IF NOT EXISTS "+table+" ") {
			t.Errorf("migration does not create %s", table)
		}
	}
}
