// Package ledger persists fold outcomes as an append-only JSONL file.
//
// The file starts with one header record followed by one record per resolved
// fold, append-ordered. Each record is a single JSON document on its own
// line, flushed to disk before the append returns, so a crash loses at most
// the in-flight fold. The file is readable without the orchestrator process.
package ledger

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/raphaelgruber/detrain/internal/run"
)

// Header is the run metadata record written as the first ledger line.
type Header struct {
	RunID       string    `json:"run_id"`
	Mode        string    `json:"mode"` // "train" or "crossval"
	CreatedAt   time.Time `json:"created_at"`
	K           int       `json:"k,omitempty"`
	Seed        int64     `json:"seed"`
	DatasetSize int       `json:"dataset_size"`
	ConfigHash  string    `json:"config_hash"`
}

// record is the line-level envelope. Exactly one of Header/Outcome is set.
type record struct {
	Kind    string       `json:"kind"` // "header" or "outcome"
	Header  *Header      `json:"header,omitempty"`
	Outcome *run.Outcome `json:"outcome,omitempty"`
}

// Ledger is the single writer over a run's outcome file. All appends are
// serialized through one mutex so concurrent fold completion never produces
// a torn or duplicated entry.
type Ledger struct {
	path string

	mu   sync.Mutex
	file *os.File
	seen map[int]bool
}

// Create starts a new ledger at path and writes the header record.
func Create(path string, h Header) (*Ledger, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", run.ErrLedgerPersistence, path, err)
	}

	l := &Ledger{path: path, file: file, seen: make(map[int]bool)}
	if err := l.write(record{Kind: "header", Header: &h}); err != nil {
		file.Close()
		return nil, err
	}
	return l, nil
}

// Open reopens an existing ledger for appending, returning the header and
// the outcomes already recorded. A torn trailing line (crash artifact) is
// tolerated and skipped; subsequent appends start on a fresh line.
//
// Only folds whose latest record is Succeeded are locked against further
// appends: a resumed run re-attempts failed folds by appending a fresh
// outcome, keeping the file strictly append-only.
func Open(path string) (*Ledger, *Header, []run.Outcome, error) {
	h, outcomes, err := Read(path)
	if err != nil {
		return nil, nil, nil, err
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: open %s: %v", run.ErrLedgerPersistence, path, err)
	}

	l := &Ledger{path: path, file: file, seen: make(map[int]bool, len(outcomes))}
	for _, o := range Latest(outcomes) {
		if o.Succeeded() {
			l.seen[o.FoldID] = true
		}
	}
	return l, h, outcomes, nil
}

// Latest reduces an append-ordered outcome sequence to one outcome per fold,
// keeping the most recent record, in ascending fold order. Re-attempted
// folds append rather than rewrite, so readers dedupe this way.
func Latest(outcomes []run.Outcome) []run.Outcome {
	byFold := make(map[int]run.Outcome, len(outcomes))
	for _, o := range outcomes {
		byFold[o.FoldID] = o
	}
	ids := make([]int, 0, len(byFold))
	for id := range byFold {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]run.Outcome, 0, len(ids))
	for _, id := range ids {
		out = append(out, byFold[id])
	}
	return out
}

// Read loads a ledger without opening it for writing. Used by the status
// command and by external tooling inspecting a run mid-flight.
func Read(path string) (*Header, []run.Outcome, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read ledger %s: %w", path, err)
	}
	defer file.Close()

	var header *Header
	var outcomes []run.Outcome

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		var rec record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			// A torn trailing line is the expected crash artifact; a torn
			// line in the middle means the file is not append-only anymore.
			if peekMore(scanner) {
				return nil, nil, fmt.Errorf("ledger %s: corrupt record at line %d: %w", path, line, err)
			}
			break
		}
		switch rec.Kind {
		case "header":
			if header != nil {
				return nil, nil, fmt.Errorf("ledger %s: duplicate header at line %d", path, line)
			}
			header = rec.Header
		case "outcome":
			if rec.Outcome != nil {
				outcomes = append(outcomes, *rec.Outcome)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("read ledger %s: %w", path, err)
	}
	if header == nil {
		return nil, nil, fmt.Errorf("ledger %s: missing header record", path)
	}
	return header, outcomes, nil
}

// peekMore reports whether any non-empty line follows the scanner's current
// position.
func peekMore(scanner *bufio.Scanner) bool {
	for scanner.Scan() {
		if len(scanner.Bytes()) > 0 {
			return true
		}
	}
	return false
}

// Append durably records one fold outcome. Rejects a fold id already
// present; a persistence failure is fatal to the run per the error contract.
func (l *Ledger) Append(o run.Outcome) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.seen[o.FoldID] {
		return fmt.Errorf("%w: duplicate outcome for fold %d", run.ErrLedgerPersistence, o.FoldID)
	}
	if err := l.write(record{Kind: "outcome", Outcome: &o}); err != nil {
		return err
	}
	l.seen[o.FoldID] = true
	return nil
}

// Has reports whether an outcome for the fold is already recorded.
func (l *Ledger) Has(foldID int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seen[foldID]
}

// Path returns the ledger file location.
func (l *Ledger) Path() string {
	return l.path
}

// write marshals, appends, and fsyncs one record. Caller holds the lock for
// outcome records; Create calls it before the ledger is shared.
func (l *Ledger) write(rec record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: marshal record: %v", run.ErrLedgerPersistence, err)
	}
	data = append(data, '\n')
	if _, err := l.file.Write(data); err != nil {
		return fmt.Errorf("%w: append: %v", run.ErrLedgerPersistence, err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("%w: flush: %v", run.ErrLedgerPersistence, err)
	}
	return nil
}

// Close releases the underlying file. The ledger must not be appended to
// afterwards.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	if err != nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("close ledger: %w", err)
	}
	return nil
}
