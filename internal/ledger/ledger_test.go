package ledger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/raphaelgruber/detrain/internal/run"
)

func testHeader() Header {
	return Header{
		RunID:       "cv-test1234",
		Mode:        "crossval",
		CreatedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		K:           5,
		Seed:        42,
		DatasetSize: 100,
		ConfigHash:  "abc123",
	}
}

func outcome(foldID int, status run.Status) run.Outcome {
	o := run.Outcome{
		FoldID:      foldID,
		Status:      status,
		StartedAt:   time.Now(),
		CompletedAt: time.Now(),
	}
	if status == run.StatusSucceeded {
		o.Metrics = map[string]float64{"mAP50": 0.7}
	} else {
		o.Error = "trainer exited 1"
	}
	return o
}

func TestLedger_AppendAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")

	l, err := Create(path, testHeader())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := l.Append(outcome(0, run.StatusSucceeded)); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := l.Append(outcome(1, run.StatusFailed)); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	h, outcomes, err := Read(path)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if h.RunID != "cv-test1234" || h.K != 5 {
		t.Errorf("header = %+v, want run cv-test1234 with k=5", h)
	}
	if len(outcomes) != 2 {
		t.Fatalf("Read() got %d outcomes, want 2", len(outcomes))
	}
	if outcomes[0].FoldID != 0 || !outcomes[0].Succeeded() {
		t.Errorf("outcome[0] = %+v, want succeeded fold 0", outcomes[0])
	}
	if outcomes[1].FoldID != 1 || outcomes[1].Error != "trainer exited 1" {
		t.Errorf("outcome[1] = %+v, want failed fold 1", outcomes[1])
	}
}

func TestLedger_RejectsDuplicateFold(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	l, err := Create(path, testHeader())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	defer l.Close()

	if err := l.Append(outcome(3, run.StatusSucceeded)); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	err = l.Append(outcome(3, run.StatusFailed))
	if !errors.Is(err, run.ErrLedgerPersistence) {
		t.Errorf("duplicate append error = %v, want ErrLedgerPersistence", err)
	}

	// The duplicate must not have reached the file.
	_, outcomes, err := Read(path)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(outcomes) != 1 {
		t.Errorf("ledger holds %d outcomes after rejected duplicate, want 1", len(outcomes))
	}
}

func TestLedger_ConcurrentAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	l, err := Create(path, testHeader())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(foldID int) {
			defer wg.Done()
			if err := l.Append(outcome(foldID, run.StatusSucceeded)); err != nil {
				t.Errorf("Append(fold %d) error = %v", foldID, err)
			}
		}(i)
	}
	wg.Wait()
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	_, outcomes, err := Read(path)
	if err != nil {
		t.Fatalf("Read() after concurrent appends error = %v", err)
	}
	if len(outcomes) != 20 {
		t.Fatalf("Read() got %d outcomes, want 20", len(outcomes))
	}
	seen := make(map[int]bool)
	for _, o := range outcomes {
		if seen[o.FoldID] {
			t.Errorf("fold %d recorded twice", o.FoldID)
		}
		seen[o.FoldID] = true
	}
}

func TestLedger_OpenResumesSeenFolds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	l, err := Create(path, testHeader())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := l.Append(outcome(0, run.StatusSucceeded)); err != nil {
		t.Fatal(err)
	}
	l.Close()

	reopened, h, outcomes, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer reopened.Close()

	if h.RunID != "cv-test1234" {
		t.Errorf("reopened header run id = %q, want cv-test1234", h.RunID)
	}
	if len(outcomes) != 1 {
		t.Fatalf("Open() got %d outcomes, want 1", len(outcomes))
	}
	if !reopened.Has(0) {
		t.Error("reopened ledger does not know fold 0")
	}
	if err := reopened.Append(outcome(0, run.StatusSucceeded)); !errors.Is(err, run.ErrLedgerPersistence) {
		t.Errorf("re-append of recorded fold error = %v, want ErrLedgerPersistence", err)
	}
	if err := reopened.Append(outcome(1, run.StatusSucceeded)); err != nil {
		t.Errorf("append of new fold after reopen error = %v", err)
	}
}

func TestLedger_ReattemptFailedFoldAfterReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	l, err := Create(path, testHeader())
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Append(outcome(0, run.StatusFailed)); err != nil {
		t.Fatal(err)
	}
	l.Close()

	reopened, _, _, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer reopened.Close()

	// A failed fold is re-attemptable: the fresh outcome is appended, the
	// old record stays, and readers keep the latest per fold.
	if err := reopened.Append(outcome(0, run.StatusSucceeded)); err != nil {
		t.Fatalf("re-append of failed fold error = %v", err)
	}

	_, outcomes, err := Read(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("ledger holds %d records, want 2 (append-only)", len(outcomes))
	}
	latest := Latest(outcomes)
	if len(latest) != 1 || !latest[0].Succeeded() {
		t.Errorf("Latest() = %+v, want one succeeded outcome for fold 0", latest)
	}
}

func TestLatest_AscendingFoldOrder(t *testing.T) {
	outcomes := []run.Outcome{
		outcome(2, run.StatusSucceeded),
		outcome(0, run.StatusFailed),
		outcome(1, run.StatusSucceeded),
		outcome(0, run.StatusSucceeded),
	}
	latest := Latest(outcomes)
	if len(latest) != 3 {
		t.Fatalf("Latest() has %d outcomes, want 3", len(latest))
	}
	for i, o := range latest {
		if o.FoldID != i {
			t.Errorf("latest[%d].FoldID = %d, want %d", i, o.FoldID, i)
		}
	}
	if !latest[0].Succeeded() {
		t.Error("fold 0 latest record should be the succeeded re-attempt")
	}
}

func TestRead_ToleratesTornTrailingLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	l, err := Create(path, testHeader())
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Append(outcome(0, run.StatusSucceeded)); err != nil {
		t.Fatal(err)
	}
	l.Close()

	// Simulate a crash mid-append: a partial record with no newline.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		t.Fatal(err)
	}
	fmt.Fprint(f, `{"kind":"outcome","outcome":{"fold_`)
	f.Close()

	_, outcomes, err := Read(path)
	if err != nil {
		t.Fatalf("Read() with torn trailing line error = %v", err)
	}
	if len(outcomes) != 1 {
		t.Errorf("Read() got %d outcomes, want 1 (torn line skipped)", len(outcomes))
	}
}

func TestRead_MissingHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	if err := os.WriteFile(path, []byte(`{"kind":"outcome","outcome":{"fold_id":0,"status":"succeeded"}}`+"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := Read(path); err == nil {
		t.Error("Read() without header record succeeded, want error")
	}
}

func TestCreate_RefusesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	l, err := Create(path, testHeader())
	if err != nil {
		t.Fatal(err)
	}
	l.Close()

	if _, err := Create(path, testHeader()); !errors.Is(err, run.ErrLedgerPersistence) {
		t.Errorf("Create() over existing ledger error = %v, want ErrLedgerPersistence", err)
	}
}
