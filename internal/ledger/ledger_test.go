package ledger

import (
	"strings"
	"testing"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRunLifecycle(t *testing.T) {
	l := openTestLedger(t)

	if err := l.CreateRun("run-1"); err != nil {
		t.Fatalf("CreateRun() error: %v", err)
	}

	run, err := l.GetRun("run-1")
	if err != nil {
		t.Fatalf("GetRun() error: %v", err)
	}
	if run == nil || run.Status != StatusRunning {
		t.Fatalf("new run = %+v, want running", run)
	}
	if run.FinishedAt != nil {
		t.Error("new run should have no finish time")
	}

	err = l.FinalizeRun(&Run{
		ID:                  "run-1",
		Status:              StatusDone,
		PartitionsProcessed: 12,
		PartitionsSkipped:   1,
		RecordsFetched:      3400,
		RecordsAccepted:     3350,
		RecordsRejected:     50,
	})
	if err != nil {
		t.Fatalf("FinalizeRun() error: %v", err)
	}

	run, err = l.GetRun("run-1")
	if err != nil {
		t.Fatalf("GetRun() error: %v", err)
	}
	if run.Status != StatusDone {
		t.Errorf("status = %s, want done", run.Status)
	}
	if run.FinishedAt == nil {
		t.Error("finalized run should have a finish time")
	}
	if run.RecordsAccepted != 3350 || run.RecordsRejected != 50 {
		t.Errorf("counts = %d/%d", run.RecordsAccepted, run.RecordsRejected)
	}
}

func TestFinalizeIsExactlyOnce(t *testing.T) {
	l := openTestLedger(t)

	if err := l.CreateRun("run-1"); err != nil {
		t.Fatalf("CreateRun() error: %v", err)
	}
	if err := l.FinalizeRun(&Run{ID: "run-1", Status: StatusDone}); err != nil {
		t.Fatalf("first FinalizeRun() error: %v", err)
	}

	err := l.FinalizeRun(&Run{ID: "run-1", Status: StatusFailed, Error: "late"})
	if err == nil {
		t.Fatal("second finalize should fail")
	}
	if !strings.Contains(err.Error(), "already finalized") {
		t.Errorf("error = %v", err)
	}

	// First result stands
	run, _ := l.GetRun("run-1")
	if run.Status != StatusDone {
		t.Errorf("status = %s, want done", run.Status)
	}
}

func TestCreateRunReusedIDRestarts(t *testing.T) {
	l := openTestLedger(t)

	if err := l.CreateRun("run-1"); err != nil {
		t.Fatalf("CreateRun() error: %v", err)
	}
	err := l.FinalizeRun(&Run{
		ID:              "run-1",
		Status:          StatusFailed,
		RecordsAccepted: 120,
		Error:           "api unreachable",
	})
	if err != nil {
		t.Fatalf("FinalizeRun() error: %v", err)
	}

	// Airflow-style retry reuses the run ID
	if err := l.CreateRun("run-1"); err != nil {
		t.Fatalf("CreateRun() with reused ID error: %v", err)
	}

	run, err := l.GetRun("run-1")
	if err != nil {
		t.Fatalf("GetRun() error: %v", err)
	}
	if run.Status != StatusRunning {
		t.Errorf("status = %s, want running", run.Status)
	}
	if run.FinishedAt != nil || run.Error != "" || run.RecordsAccepted != 0 {
		t.Errorf("restarted run should be reset: %+v", run)
	}

	// The restarted run can be finalized again
	if err := l.FinalizeRun(&Run{ID: "run-1", Status: StatusDone, RecordsAccepted: 340}); err != nil {
		t.Fatalf("FinalizeRun() after restart error: %v", err)
	}
	run, _ = l.GetRun("run-1")
	if run.Status != StatusDone || run.RecordsAccepted != 340 {
		t.Errorf("finalized restart = %+v", run)
	}
}

func TestFinalizeUnknownRun(t *testing.T) {
	l := openTestLedger(t)
	if err := l.FinalizeRun(&Run{ID: "ghost", Status: StatusDone}); err == nil {
		t.Fatal("finalizing an unknown run should fail")
	}
}

func TestGetLastRunAndHistory(t *testing.T) {
	l := openTestLedger(t)

	if last, err := l.GetLastRun(); err != nil || last != nil {
		t.Fatalf("empty ledger GetLastRun() = %+v, %v", last, err)
	}

	for _, id := range []string{"run-a", "run-b", "run-c"} {
		if err := l.CreateRun(id); err != nil {
			t.Fatalf("CreateRun(%s) error: %v", id, err)
		}
	}
	if err := l.FinalizeRun(&Run{ID: "run-c", Status: StatusFailed, Error: "boom"}); err != nil {
		t.Fatalf("FinalizeRun() error: %v", err)
	}

	last, err := l.GetLastRun()
	if err != nil {
		t.Fatalf("GetLastRun() error: %v", err)
	}
	if last.ID != "run-c" {
		t.Errorf("last run = %s, want run-c", last.ID)
	}
	if last.Error != "boom" {
		t.Errorf("error message = %q", last.Error)
	}

	runs, err := l.GetAllRuns()
	if err != nil {
		t.Fatalf("GetAllRuns() error: %v", err)
	}
	if len(runs) != 3 {
		t.Errorf("got %d runs, want 3", len(runs))
	}
	if runs[0].ID != "run-c" {
		t.Errorf("runs not newest-first: %s", runs[0].ID)
	}
}
