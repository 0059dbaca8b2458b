package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "autoflow/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none"} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("driver %q: st=%v err=%v, want nil/nil", driver, st, err)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "postgres", Path: "x"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver accepted")
	}
}

func TestFileStoreAppendsJSONLines(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "history")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	runs := []RunRecord{
		{At: at, RunID: "r1", Name: "nightly", Status: "ok", Steps: 3, DurationMS: 120},
		{At: at.Add(time.Minute), RunID: "r2", Name: "nightly", Status: "failed", Steps: 1, Error: "step \"load\": boom"},
	}
	for _, r := range runs {
		if err := st.AppendRun(ctx, r); err != nil {
			t.Fatalf("AppendRun: %v", err)
		}
	}
	if err := st.AppendAlert(ctx, AlertRecord{At: at, EntryID: "monitor:1", Name: "disk", Reason: "low space"}); err != nil {
		t.Fatalf("AppendAlert: %v", err)
	}

	got := readRunLines(t, filepath.Join(dir, "history.runs.jsonl"))
	if len(got) != 2 {
		t.Fatalf("run lines = %d, want 2", len(got))
	}
	if got[0].RunID != "r1" || got[1].Status != "failed" || got[1].Error == "" {
		t.Fatalf("records = %+v", got)
	}

	alertsPath := filepath.Join(dir, "history.alerts.jsonl")
	if fi, err := os.Stat(alertsPath); err != nil || fi.Size() == 0 {
		t.Fatalf("alerts file missing or empty: %v", err)
	}
}

func TestFileStoreRejectsAppendsAfterClose(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "h")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := st.AppendRun(context.Background(), RunRecord{RunID: "x"}); err == nil {
		t.Fatal("AppendRun after Close succeeded")
	}
}

func TestFileStoreRequiresPath(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("missing path accepted")
	}
}

func readRunLines(t *testing.T, path string) []RunRecord {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	var out []RunRecord
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r RunRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			t.Fatalf("bad line %q: %v", sc.Text(), err)
		}
		out = append(out, r)
	}
	return out
}
