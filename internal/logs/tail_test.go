package logs_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"discarchive/internal/logs"
)

const sampleLog = `{"time":"2026-01-02T03:04:05Z","level":"INFO","msg":"drives discovered"}
{"time":"2026-01-02T03:04:06Z","level":"INFO","msg":"copy started","drive":"/dev/sr0"}
{"time":"2026-01-02T03:04:07Z","level":"WARN","msg":"notification failed","drive":"/dev/sr1"}
{"time":"2026-01-02T03:04:08Z","level":"ERROR","msg":"copy failed","drive":"/dev/sr0"}
`

func writeLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "discarchive.log")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	return path
}

func TestTailLastLines(t *testing.T) {
	path := writeLog(t, "a\nb\nc\n")

	result, err := logs.Tail(context.Background(), path, logs.Options{Offset: -1, Limit: 2})
	if err != nil {
		t.Fatalf("tail returned error: %v", err)
	}
	if len(result.Lines) != 2 || result.Lines[0] != "b" || result.Lines[1] != "c" {
		t.Fatalf("unexpected lines: %#v", result.Lines)
	}
	if result.Offset != 6 {
		t.Fatalf("offset = %d, want 6", result.Offset)
	}
}

func TestTailFilters(t *testing.T) {
	path := writeLog(t, sampleLog)

	tests := []struct {
		name   string
		filter logs.Filter
		want   int
	}{
		{"everything", logs.Filter{}, 4},
		{"one drive", logs.Filter{Drive: "/dev/sr0"}, 2},
		{"warnings and up", logs.Filter{Level: "warn"}, 2},
		{"drive and level", logs.Filter{Drive: "/dev/sr0", Level: "error"}, 1},
		{"unknown drive", logs.Filter{Drive: "/dev/sr9"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := logs.Tail(context.Background(), path, logs.Options{Offset: 0, Filter: tt.filter})
			if err != nil {
				t.Fatalf("tail: %v", err)
			}
			if len(result.Lines) != tt.want {
				t.Fatalf("got %d lines, want %d: %#v", len(result.Lines), tt.want, result.Lines)
			}
			if result.Offset != int64(len(sampleLog)) {
				t.Fatalf("offset = %d, want %d", result.Offset, len(sampleLog))
			}
		})
	}
}

func TestTailRejectsBadLevel(t *testing.T) {
	path := writeLog(t, sampleLog)
	if _, err := logs.Tail(context.Background(), path, logs.Options{Filter: logs.Filter{Level: "loud"}}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestTailMissingFile(t *testing.T) {
	result, err := logs.Tail(context.Background(), filepath.Join(t.TempDir(), "absent.log"), logs.Options{Offset: 42})
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if result.Offset != 0 || len(result.Lines) != 0 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestTailLeavesPartialLine(t *testing.T) {
	path := writeLog(t, "done\nhalf")
	result, err := logs.Tail(context.Background(), path, logs.Options{Offset: 0})
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(result.Lines) != 1 || result.Offset != 5 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestTailFollowWaits(t *testing.T) {
	path := writeLog(t, "start\n")

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	result, err := logs.Tail(ctx, path, logs.Options{Offset: -1, Limit: 1})
	if err != nil {
		t.Fatalf("initial tail: %v", err)
	}
	if len(result.Lines) != 1 {
		t.Fatalf("expected initial line, got %#v", result.Lines)
	}

	type outcome struct {
		res logs.Result
		err error
	}
	done := make(chan outcome, 1)
	go func(offset int64) {
		res, err := logs.Tail(ctx, path, logs.Options{Offset: offset, Follow: true, Wait: 5 * time.Second})
		done <- outcome{res, err}
	}(result.Offset)

	time.Sleep(200 * time.Millisecond)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open append: %v", err)
	}
	if _, err := f.WriteString("later\n"); err != nil {
		t.Fatalf("append log: %v", err)
	}
	_ = f.Close()

	select {
	case got := <-done:
		if got.err != nil {
			t.Fatalf("follow tail error: %v", got.err)
		}
		if len(got.res.Lines) != 1 || got.res.Lines[0] != "later" {
			t.Fatalf("unexpected follow lines: %#v", got.res.Lines)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("tail follow did not return")
	}
}

func TestTailFollowTimesOut(t *testing.T) {
	path := writeLog(t, "only\n")

	start := time.Now()
	result, err := logs.Tail(context.Background(), path, logs.Options{Offset: 5, Follow: true, Wait: 300 * time.Millisecond})
	if err != nil {
		t.Fatalf("follow tail: %v", err)
	}
	if len(result.Lines) != 0 || result.Offset != 5 {
		t.Fatalf("unexpected result %+v", result)
	}
	if elapsed := time.Since(start); elapsed < 250*time.Millisecond {
		t.Fatalf("returned after %s, before the wait elapsed", elapsed)
	}
}

func TestTailFollowCanceled(t *testing.T) {
	path := writeLog(t, "only\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := logs.Tail(ctx, path, logs.Options{Offset: 5, Follow: true, Wait: 5 * time.Second}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Tail = %v, want context.Canceled", err)
	}
}
