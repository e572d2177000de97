package history

import (
	"path/filepath"
	"testing"
	"time"

	"stackup/internal/state"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleRun(project, outcome string, started time.Time) Run {
	return Run{
		Project:    project,
		Outcome:    outcome,
		StartedAt:  started,
		FinishedAt: started.Add(30 * time.Second),
		Services: []state.Entry{
			{Service: "db", State: state.RuntimeState{Status: state.StatusReady, StartedAt: started}},
			{Service: "wordpress", State: state.RuntimeState{Status: state.StatusReady}},
		},
	}
}

func TestRecordAndLatest(t *testing.T) {
	store := openTestStore(t)
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := store.Record(sampleRun("blog", "ready", started)); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	run, ok, err := store.Latest("blog")
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if !ok {
		t.Fatal("Latest() found nothing after Record()")
	}
	if run.Project != "blog" || run.Outcome != "ready" {
		t.Fatalf("run = %+v, want blog/ready", run)
	}
	if !run.StartedAt.Equal(started) {
		t.Fatalf("run.StartedAt = %v, want %v", run.StartedAt, started)
	}
	if len(run.Services) != 2 || run.Services[0].Service != "db" {
		t.Fatalf("run.Services = %+v, want db then wordpress", run.Services)
	}
	if run.Services[0].State.Status != state.StatusReady {
		t.Fatalf("db status = %s, want ready", run.Services[0].State.Status)
	}
}

func TestLatestEmpty(t *testing.T) {
	store := openTestStore(t)

	_, ok, err := store.Latest("ghost")
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if ok {
		t.Fatal("Latest() = ok for a project with no runs")
	}
}

func TestLatestPicksNewestRun(t *testing.T) {
	store := openTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := store.Record(sampleRun("blog", "failed", base)); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := store.Record(sampleRun("blog", "ready", base.Add(time.Hour))); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	run, ok, err := store.Latest("blog")
	if err != nil || !ok {
		t.Fatalf("Latest() = %v, %v", ok, err)
	}
	if run.Outcome != "ready" {
		t.Fatalf("run.Outcome = %q, want the newest run", run.Outcome)
	}
}

func TestListScopedToProject(t *testing.T) {
	store := openTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if err := store.Record(sampleRun("blog", "ready", base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}
	if err := store.Record(sampleRun("shop", "failed", base)); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	runs, err := store.List("blog", 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("len(List()) = %d, want 3", len(runs))
	}
	for _, run := range runs {
		if run.Project != "blog" {
			t.Fatalf("List() leaked project %q", run.Project)
		}
	}
	if runs[0].StartedAt.Before(runs[1].StartedAt) {
		t.Fatal("List() not ordered newest first")
	}

	limited, err := store.List("blog", 2)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("len(List(limit=2)) = %d, want 2", len(limited))
	}
}
