package logs

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	followPoll   = 250 * time.Millisecond
	maxLineBytes = 1024 * 1024
)

// Filter selects run log lines. Zero values match everything.
type Filter struct {
	Drive string
	Level string
}

// Options controls a Tail call. A negative Offset starts from the last Limit
// matching lines.
type Options struct {
	Offset int64
	Limit  int
	Follow bool
	Wait   time.Duration
	Filter Filter
}

// Result is what Tail read and where the next call should resume.
type Result struct {
	Lines  []string
	Offset int64
}

type matcher struct {
	drive    string
	minLevel slog.Level
	byLevel  bool
}

func newMatcher(f Filter) (matcher, error) {
	m := matcher{drive: strings.TrimSpace(f.Drive)}
	if level := strings.TrimSpace(f.Level); level != "" {
		if err := m.minLevel.UnmarshalText([]byte(level)); err != nil {
			return m, fmt.Errorf("invalid level %q: %w", level, err)
		}
		m.byLevel = true
	}
	return m, nil
}

func (m matcher) empty() bool { return m.drive == "" && !m.byLevel }

// match reports whether a JSON log line passes the filter. Lines that are not
// JSON only pass an empty filter.
func (m matcher) match(line string) bool {
	if m.empty() {
		return true
	}
	var entry struct {
		Level string `json:"level"`
		Drive string `json:"drive"`
	}
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		return false
	}
	if m.drive != "" && entry.Drive != m.drive {
		return false
	}
	if m.byLevel {
		var level slog.Level
		if err := level.UnmarshalText([]byte(entry.Level)); err != nil || level < m.minLevel {
			return false
		}
	}
	return true
}

// Tail reads path according to opts. A missing file is not an error.
func Tail(ctx context.Context, path string, opts Options) (Result, error) {
	result := Result{Offset: opts.Offset}
	m, err := newMatcher(opts.Filter)
	if err != nil {
		return result, err
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			result.Offset = 0
			return result, nil
		}
		return result, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return result, fmt.Errorf("log path %q is a directory", path)
	}
	opts.Wait = max(opts.Wait, 0)

	if opts.Offset < 0 {
		result.Lines, result.Offset, err = lastLines(path, opts.Limit, m)
	} else {
		offset := opts.Offset
		if offset > info.Size() {
			// Rotated or truncated underneath us.
			offset = 0
		}
		result.Lines, result.Offset, err = readFrom(path, offset, m)
	}
	if err != nil {
		return result, err
	}
	if opts.Follow && opts.Wait > 0 && len(result.Lines) == 0 {
		return follow(ctx, path, result.Offset, opts.Wait, m)
	}
	return result, nil
}

func lastLines(path string, limit int, m matcher) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if limit <= 0 {
		end, err := file.Seek(0, io.SeekEnd)
		if err != nil {
			return nil, 0, fmt.Errorf("seek log file: %w", err)
		}
		return nil, end, nil
	}

	ring := make([]string, 0, limit)
	next := 0
	offset, err := scan(file, func(line string) {
		if !m.match(line) {
			return
		}
		if len(ring) < limit {
			ring = append(ring, line)
			return
		}
		ring[next] = line
		next = (next + 1) % limit
	})
	if err != nil {
		return nil, 0, err
	}
	lines := append(ring[next:len(ring):len(ring)], ring[:next]...)
	return lines, offset, nil
}

func readFrom(path string, offset int64, m matcher) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, 0, fmt.Errorf("seek log file: %w", err)
	}
	var lines []string
	read, err := scan(file, func(line string) {
		if m.match(line) {
			lines = append(lines, line)
		}
	})
	if err != nil {
		return nil, 0, err
	}
	return lines, offset + read, nil
}

// scan feeds complete lines to fn and returns how many bytes they covered. A
// trailing line without a newline is left for the next read.
func scan(r io.Reader, fn func(string)) (int64, error) {
	reader := bufio.NewReaderSize(r, 64*1024)
	var consumed int64
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return consumed, nil
			}
			return consumed, fmt.Errorf("read log file: %w", err)
		}
		consumed += int64(len(line))
		if len(line) > maxLineBytes {
			continue
		}
		fn(strings.TrimRight(line, "\r\n"))
	}
}

// follow waits for the file to grow. Write events wake it early; the poll
// ticker covers filesystems where inotify is unavailable.
func follow(ctx context.Context, path string, offset int64, wait time.Duration, m matcher) (Result, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	ticker := time.NewTicker(followPoll)
	defer ticker.Stop()

	var events <-chan fsnotify.Event
	if watcher, err := fsnotify.NewWatcher(); err == nil {
		defer func() { _ = watcher.Close() }()
		if err := watcher.Add(path); err == nil {
			events = watcher.Events
		}
	}

	result := Result{Offset: offset}
	for {
		expired := false
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-timer.C:
			expired = true
		case <-ticker.C:
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
		}
		lines, next, err := readFrom(path, result.Offset, m)
		if err != nil {
			return result, err
		}
		result.Offset = next
		if len(lines) > 0 || expired {
			result.Lines = lines
			return result, nil
		}
	}
}
