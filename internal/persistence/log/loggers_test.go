package log

import (
	"path/filepath"
	"testing"

	"agrosim.ai/internal/sim/world"
)

func TestTickLogger_WriteAndRead(t *testing.T) {
	dir := t.TempDir()
	l := NewTickLogger(dir)
	for d := uint64(0); d < 3; d++ {
		if err := l.WriteTick(world.TickLogEntry{Day: d, RunID: "r1", Digest: "d", Path: "parallel", Tiles: 4}); err != nil {
			t.Fatalf("WriteTick: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Writing after Close reopens the current hour file.
	if err := l.WriteTick(world.TickLogEntry{Day: 3, RunID: "r1"}); err != nil {
		t.Fatalf("WriteTick after Close: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	files, err := ListFiles(filepath.Join(dir, "events"), "events")
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) == 0 {
		t.Fatalf("no event files written")
	}
	var days []uint64
	for _, f := range files {
		if err := ReadTicks(f, func(e world.TickLogEntry) bool {
			days = append(days, e.Day)
			return true
		}); err != nil {
			t.Fatalf("ReadTicks: %v", err)
		}
	}
	if len(days) != 4 {
		t.Fatalf("days=%v", days)
	}
	for i, d := range days {
		if d != uint64(i) {
			t.Fatalf("days=%v", days)
		}
	}
}

func TestReadTicks_StopsEarly(t *testing.T) {
	dir := t.TempDir()
	l := NewTickLogger(dir)
	for d := uint64(0); d < 5; d++ {
		_ = l.WriteTick(world.TickLogEntry{Day: d})
	}
	_ = l.Close()
	files, _ := ListFiles(filepath.Join(dir, "events"), "events")
	n := 0
	for _, f := range files {
		_ = ReadTicks(f, func(e world.TickLogEntry) bool {
			n++
			return e.Day < 1
		})
	}
	if n != 2 {
		t.Fatalf("n=%d want 2", n)
	}
}
