package metrics

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/akhildatla/parvm/pkg/vm"
)

func TestExportImportTrace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.parquet")
	events := sampleEvents()

	if err := ExportTrace(path, events); err != nil {
		t.Fatalf("export failed: %v", err)
	}

	got, err := ImportTrace(path)
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if len(got) != len(events) {
		t.Fatalf("expected %d events, got %d", len(events), len(got))
	}
	for i := range events {
		if got[i] != events[i] {
			t.Errorf("event %d: expected %+v, got %+v", i, events[i], got[i])
		}
	}
}

func TestImportTrace_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.parquet")
	if err := ExportTrace(path, nil); err != nil {
		t.Fatalf("export failed: %v", err)
	}

	if _, err := ImportTrace(path); !errors.Is(err, ErrEmptyTrace) {
		t.Errorf("expected ErrEmptyTrace, got %v", err)
	}
}

func TestImportTrace_MissingFile(t *testing.T) {
	if _, err := ImportTrace(filepath.Join(t.TempDir(), "nope.parquet")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestLoadTraceFrame(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.parquet")
	if err := ExportTrace(path, sampleEvents()); err != nil {
		t.Fatalf("export failed: %v", err)
	}

	df, err := LoadTraceFrame(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if n := df.NRows(); n != 3 {
		t.Errorf("expected 3 rows, got %d", n)
	}
}

func TestExportTrace_RoundTripsEvent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "one.parquet")
	ev := vm.TraceEvent{Cycle: 42, ProcessorID: 3, ThreadID: 7, PC: 9, Text: "HALT", Completed: true}

	if err := ExportTrace(path, []vm.TraceEvent{ev}); err != nil {
		t.Fatalf("export failed: %v", err)
	}
	got, err := ImportTrace(path)
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if got[0] != ev {
		t.Errorf("expected %+v, got %+v", ev, got[0])
	}
}
