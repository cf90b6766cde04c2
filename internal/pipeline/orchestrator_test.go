package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nharju/photobridge/internal/store"
)

// stubPhase is a scripted graph node.
type stubPhase struct {
	name    string
	enabled bool
	err     error
	outcome Outcome
	runs    int
}

func (p *stubPhase) Name() string  { return p.name }
func (p *stubPhase) Enabled() bool { return p.enabled }

func (p *stubPhase) Run(context.Context) (Outcome, error) {
	p.runs++
	return p.outcome, p.err
}

// fullGraph builds an all-enabled stub graph in pipeline order.
func fullGraph() map[string]*stubPhase {
	graph := make(map[string]*stubPhase)

	for _, name := range []string{
		PhaseIngest, PhaseDedupe, PhaseCompress, PhaseStage,
		PhaseUploadICloud, PhaseSyncPixel, PhaseVerify, PhaseSort,
	} {
		graph[name] = &stubPhase{name: name, enabled: true}
	}

	return graph
}

func orderedPhases(graph map[string]*stubPhase) []Phase {
	return []Phase{
		graph[PhaseIngest], graph[PhaseDedupe], graph[PhaseCompress],
		graph[PhaseStage], graph[PhaseUploadICloud], graph[PhaseSyncPixel],
		graph[PhaseVerify], graph[PhaseSort],
	}
}

func newOrchestrator(t *testing.T, s *store.Store, graph map[string]*stubPhase) *Orchestrator {
	t.Helper()

	return &Orchestrator{
		Store:    s,
		Phases:   orderedPhases(graph),
		Notifier: LogNotifier{Logger: testLogger(t)},
		Logger:   testLogger(t),
	}
}

func TestOrchestratorIngestFailureSkipsChain(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	graph := fullGraph()
	graph[PhaseIngest].err = errors.New("source unreachable")

	report, err := newOrchestrator(t, s, graph).Run(context.Background())
	if err == nil {
		t.Fatal("Run should surface the ingest failure")
	}

	for _, name := range []string{
		PhaseDedupe, PhaseCompress, PhaseStage,
		PhaseUploadICloud, PhaseSyncPixel, PhaseVerify, PhaseSort,
	} {
		if graph[name].runs != 0 {
			t.Errorf("%s ran despite failed upstream", name)
		}
	}

	var skipped int

	for _, pr := range report.Results {
		if pr.Skipped {
			skipped++
		}
	}

	if skipped != 7 {
		t.Errorf("report shows %d skipped phases, want 7", skipped)
	}
}

func TestOrchestratorSyncPixelFailureKeepsICloudBranch(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	graph := fullGraph()
	graph[PhaseSyncPixel].err = errors.New("sync timeout")

	report, err := newOrchestrator(t, s, graph).Run(context.Background())
	if err == nil {
		t.Fatal("Run should surface the sync failure")
	}

	// The healthy upload branch keeps verify and sort alive.
	for _, name := range []string{PhaseUploadICloud, PhaseVerify, PhaseSort} {
		if graph[name].runs != 1 {
			t.Errorf("%s runs = %d, want 1", name, graph[name].runs)
		}
	}

	if !strings.Contains(err.Error(), PhaseSyncPixel) {
		t.Errorf("error %q should name the failed phase", err)
	}

	if !report.Failed() {
		t.Error("report should record the failure")
	}
}

func TestOrchestratorBothUploadsFailedSkipsVerify(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	graph := fullGraph()
	graph[PhaseUploadICloud].err = errors.New("browser crashed")
	graph[PhaseSyncPixel].err = errors.New("sync timeout")

	if _, err := newOrchestrator(t, s, graph).Run(context.Background()); err == nil {
		t.Fatal("Run should surface the failures")
	}

	if graph[PhaseVerify].runs != 0 || graph[PhaseSort].runs != 0 {
		t.Error("verify and sort must be skipped when every upload failed")
	}
}

func TestOrchestratorBothUploadsDisabledVerifyRuns(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	graph := fullGraph()
	graph[PhaseUploadICloud].enabled = false
	graph[PhaseSyncPixel].enabled = false

	if _, err := newOrchestrator(t, s, graph).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if graph[PhaseVerify].runs != 1 || graph[PhaseSort].runs != 1 {
		t.Error("disabled uploads must not block verify and sort")
	}
}

func TestOrchestratorDisabledPhaseIsRecordedNoOp(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	graph := fullGraph()
	graph[PhaseCompress].enabled = false

	report, err := newOrchestrator(t, s, graph).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if graph[PhaseCompress].runs != 0 {
		t.Error("disabled phase must not run")
	}

	// A disabled phase is a healthy no-op: staging still runs.
	if graph[PhaseStage].runs != 1 {
		t.Error("phases downstream of a disabled phase must run")
	}

	for _, pr := range report.Results {
		if pr.Name == PhaseCompress && !pr.Disabled {
			t.Error("report should mark the phase disabled")
		}
	}
}

func TestOrchestratorOnlyFilter(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	graph := fullGraph()

	o := newOrchestrator(t, s, graph)
	o.Only = PhaseCompress

	if _, err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for name, ph := range graph {
		want := 0
		if name == PhaseCompress {
			want = 1
		}

		if ph.runs != want {
			t.Errorf("%s runs = %d, want %d", name, ph.runs, want)
		}
	}
}

func TestOrchestratorReportSummaryLogged(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	graph := fullGraph()
	graph[PhaseIngest].outcome = Outcome{Processed: 3, Succeeded: 3}

	if _, err := newOrchestrator(t, s, graph).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	logs, err := s.ListLogs(context.Background(), "report", 10)
	if err != nil {
		t.Fatalf("ListLogs: %v", err)
	}

	if len(logs) != 1 {
		t.Fatalf("got %d report log rows, want 1", len(logs))
	}

	if !strings.Contains(logs[0].Message, "3 processed") {
		t.Errorf("report summary = %q", logs[0].Message)
	}
}
