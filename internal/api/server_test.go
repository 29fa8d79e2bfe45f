package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loopcoach/programsync/internal/materialize"
	"github.com/loopcoach/programsync/internal/models"
	"github.com/loopcoach/programsync/internal/reconcile"
	"github.com/loopcoach/programsync/internal/store"
	"github.com/loopcoach/programsync/internal/sync"
)

const testSecret = "scheduler-secret"

func newTestServer(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	tasks := sync.NewTaskEngine(s, nil)
	habits := sync.NewHabitEngine(s, nil)
	runner := reconcile.NewRunner(s, tasks, habits, reconcile.DefaultConfig(), nil)
	materializer := materialize.New(s, nil)
	service := NewService(s, materializer, tasks, habits, runner, 7, nil)
	server := NewServer(service, "127.0.0.1:0", testSecret, nil)

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return ts, s
}

const testTemplateYAML = `
title: Foundations
org_id: org-1
length_days: 7
include_weekends: true
modules:
  - title: Start
    start_day: 1
    end_day: 7
    habits:
      - title: Morning walk
        frequency: daily
weeks:
  - index: 1
    start_day: 1
    end_day: 7
    distribution: spread
    tasks:
      - kind: action
        label: Read chapter 1
        primary: true
      - kind: action
        label: Journal
`

func importTestProgram(t *testing.T, ts *httptest.Server) models.Program {
	t.Helper()
	resp, err := http.Post(ts.URL+"/programs", "application/yaml", strings.NewReader(testTemplateYAML))
	if err != nil {
		t.Fatalf("import program: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var p models.Program
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		t.Fatalf("decode program: %v", err)
	}
	return p
}

func enrollTestUser(t *testing.T, ts *httptest.Server, programID, startedAt string) models.Enrollment {
	t.Helper()
	body, _ := json.Marshal(map[string]string{
		"user_id":    "user-1",
		"org_id":     "org-1",
		"program_id": programID,
		"started_at": startedAt,
		"timezone":   "UTC",
	})
	resp, err := http.Post(ts.URL+"/enrollments", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("create enrollment: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var enr models.Enrollment
	if err := json.NewDecoder(resp.Body).Decode(&enr); err != nil {
		t.Fatalf("decode enrollment: %v", err)
	}
	return enr
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestSyncRunRequiresBearerToken(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/sync/run", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/sync/run", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 with wrong token, got %d", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodPost, ts.URL+"/sync/run", nil)
	req.Header.Set("Authorization", "Bearer "+testSecret)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 with correct token, got %d", resp.StatusCode)
	}
	var summary reconcile.Summary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
}

func TestImportProgram(t *testing.T) {
	ts, s := newTestServer(t)

	p := importTestProgram(t, ts)
	if p.ID == "" {
		t.Fatal("expected generated program ID")
	}

	saved, err := s.GetProgram(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("program not persisted: %v", err)
	}
	if len(saved.Weeks) != 1 || len(saved.Weeks[0].Tasks) != 2 {
		t.Errorf("unexpected saved program: %+v", saved)
	}
}

func TestImportProgramRejectsInvalidTemplate(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/programs", "application/yaml",
		strings.NewReader("title: Broken\nlength_days: 0\n"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestCreateEnrollmentMaterializesInstance(t *testing.T) {
	ts, s := newTestServer(t)

	p := importTestProgram(t, ts)
	enr := enrollTestUser(t, ts, p.ID, "2024-01-01")

	inst, err := s.GetInstanceForEnrollment(context.Background(), enr.ID)
	if err != nil {
		t.Fatal(err)
	}
	if inst == nil {
		t.Fatal("expected instance to be materialized at enrollment time")
	}
	if day := inst.Day(1); day == nil || day.CalendarDate != "2024-01-01" {
		t.Errorf("unexpected day 1: %+v", day)
	}
}

func TestCreateEnrollmentUnknownProgram(t *testing.T) {
	ts, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]string{"user_id": "u1", "program_id": "nope"})
	resp, err := http.Post(ts.URL+"/enrollments", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestSyncEnrollmentEndpoint(t *testing.T) {
	ts, s := newTestServer(t)

	p := importTestProgram(t, ts)
	// Start today so the forced sync lands inside the program window.
	enr := enrollTestUser(t, ts, p.ID, time.Now().UTC().Format("2006-01-02"))

	resp, err := http.Post(ts.URL+"/enrollments/"+enr.ID+"/sync", "application/json",
		strings.NewReader(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var stats sync.DayStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats.Created == 0 {
		t.Error("expected tasks to be created by forced sync")
	}

	// Habit sync piggybacks on the forced sync.
	habits, err := s.ActiveModuleHabits(context.Background(), "user-1", p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(habits) != 1 {
		t.Errorf("expected 1 habit, got %d", len(habits))
	}
}

func TestSaveWeekTasksDistributesAndSyncs(t *testing.T) {
	ts, _ := newTestServer(t)

	p := importTestProgram(t, ts)
	enrollTestUser(t, ts, p.ID, "2024-01-01")

	body, _ := json.Marshal(saveWeekRequest{
		Mode: string(sync.ModeOverride),
		Tasks: []models.TaskTemplate{
			{ID: "new-1", Kind: models.TaskKindAction, Label: "Revised plan", IsPrimary: true},
		},
	})
	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/programs/"+p.ID+"/weeks/1/tasks", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result WeekSaveResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if result.Distributed != 1 {
		t.Errorf("expected 1 distributed instance, got %d", result.Distributed)
	}
	if len(result.Failures) != 0 {
		t.Errorf("unexpected failures: %v", result.Failures)
	}
}

func TestSaveWeekTasksUnknownWeek(t *testing.T) {
	ts, _ := newTestServer(t)
	p := importTestProgram(t, ts)

	body, _ := json.Marshal(saveWeekRequest{Tasks: []models.TaskTemplate{}})
	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/programs/"+p.ID+"/weeks/9/tasks", bytes.NewReader(body))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestClearEnrollmentTasks(t *testing.T) {
	ts, s := newTestServer(t)
	ctx := context.Background()

	p := importTestProgram(t, ts)
	enr := enrollTestUser(t, ts, p.ID, "2024-01-01")

	// Seed a future task directly.
	inst, err := s.GetInstanceForEnrollment(ctx, enr.ID)
	if err != nil || inst == nil {
		t.Fatalf("instance: %v", err)
	}
	future := time.Now().AddDate(0, 0, 3).Format("2006-01-02")
	if err := s.CreateTask(ctx, &models.Task{
		UserID: "user-1", OrgID: "org-1", InstanceID: inst.ID, InstanceTaskID: "tpl-x",
		DayIndex: 5, Date: future, Label: "future work", Source: models.SourceProgram,
	}); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Post(ts.URL+"/enrollments/"+enr.ID+"/clear-tasks", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var result map[string]int
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if result["cleared"] != 1 {
		t.Errorf("expected 1 cleared task, got %d", result["cleared"])
	}
}

func TestSyncRunsHistory(t *testing.T) {
	ts, _ := newTestServer(t)

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/sync/run", nil)
	req.Header.Set("Authorization", "Bearer "+testSecret)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	req, _ = http.NewRequest(http.MethodGet, ts.URL+"/sync/runs", nil)
	req.Header.Set("Authorization", "Bearer "+testSecret)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var runs []models.SyncRun
	if err := json.NewDecoder(resp.Body).Decode(&runs); err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Errorf("expected 1 recorded run, got %d", len(runs))
	}
}
