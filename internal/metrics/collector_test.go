package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pglogrepl"
	"github.com/rs/zerolog"
)

func TestCollector_PhaseTracking(t *testing.T) {
	c := NewCollector(zerolog.Nop())
	defer c.Close()

	c.SetPhase("starting")
	snap := c.Snapshot()
	if snap.Phase != "starting" {
		t.Errorf("Phase = %q, want starting", snap.Phase)
	}

	c.SetPhase("streaming")
	snap = c.Snapshot()
	if snap.Phase != "streaming" {
		t.Errorf("Phase = %q, want streaming", snap.Phase)
	}
}

func TestCollector_TableLifecycle(t *testing.T) {
	c := NewCollector(zerolog.Nop())
	defer c.Close()

	c.SetTables([]string{"users", "orders"})

	snap := c.Snapshot()
	if len(snap.Tables) != 2 {
		t.Errorf("len(Tables) = %d, want 2", len(snap.Tables))
	}

	c.TableCopyStarted("users")
	snap = c.Snapshot()
	found := false
	for _, tc := range snap.Tables {
		if tc.Table == "users" && tc.Status == TableCopying {
			found = true
		}
	}
	if !found {
		t.Error("users table should be in copying state")
	}

	c.TableCopyDone("users", 1000)
	snap = c.Snapshot()
	for _, tc := range snap.Tables {
		if tc.Table == "users" {
			if tc.Status != TableCopied {
				t.Errorf("users status = %s, want copied", tc.Status)
			}
			if tc.RowsCopied != 1000 {
				t.Errorf("users rows copied = %d, want 1000", tc.RowsCopied)
			}
		}
	}

	c.TableStreaming("users")
	snap = c.Snapshot()
	for _, tc := range snap.Tables {
		if tc.Table == "users" && tc.Status != TableStreaming {
			t.Errorf("users status = %s, want streaming", tc.Status)
		}
	}
}

func TestCollector_RecordWrite(t *testing.T) {
	c := NewCollector(zerolog.Nop())
	defer c.Close()

	c.SetTables([]string{"users"})
	c.RecordWrite("users", 5, 2, false)
	c.RecordWrite("users", 0, 0, true)

	snap := c.Snapshot()
	if snap.TotalRows != 7 {
		t.Errorf("TotalRows = %d, want 7", snap.TotalRows)
	}
	for _, tc := range snap.Tables {
		if tc.Table == "users" {
			if tc.RowsInserted != 5 {
				t.Errorf("RowsInserted = %d, want 5", tc.RowsInserted)
			}
			if tc.RowsDeleted != 2 {
				t.Errorf("RowsDeleted = %d, want 2", tc.RowsDeleted)
			}
			if tc.Truncations != 1 {
				t.Errorf("Truncations = %d, want 1", tc.Truncations)
			}
		}
	}
}

func TestCollector_LSNTracking(t *testing.T) {
	c := NewCollector(zerolog.Nop())
	defer c.Close()

	c.RecordAdvanced(pglogrepl.LSN(100))

	snap := c.Snapshot()
	if snap.AppliedLSN != "0/64" {
		t.Errorf("AppliedLSN = %q, want 0/64", snap.AppliedLSN)
	}
}

func TestCollector_ErrorTracking(t *testing.T) {
	c := NewCollector(zerolog.Nop())
	defer c.Close()

	c.RecordError(nil)
	snap := c.Snapshot()
	if snap.ErrorCount != 1 {
		t.Errorf("ErrorCount = %d, want 1", snap.ErrorCount)
	}

	c.RecordError(fmt.Errorf("test error"))
	snap = c.Snapshot()
	if snap.ErrorCount != 2 {
		t.Errorf("ErrorCount = %d, want 2", snap.ErrorCount)
	}
	if snap.LastError != "test error" {
		t.Errorf("LastError = %q, want 'test error'", snap.LastError)
	}
}

func TestCollector_LogBuffer(t *testing.T) {
	c := NewCollector(zerolog.Nop())
	defer c.Close()

	for i := 0; i < 10; i++ {
		c.AddLog(LogEntry{
			Time:    time.Now(),
			Level:   "info",
			Message: fmt.Sprintf("log %d", i),
		})
	}

	logs := c.Logs()
	if len(logs) != 10 {
		t.Errorf("expected 10 logs, got %d", len(logs))
	}
}

func TestCollector_LogBufferEviction(t *testing.T) {
	c := NewCollector(zerolog.Nop())
	defer c.Close()

	for i := 0; i < 600; i++ {
		c.AddLog(LogEntry{
			Time:    time.Now(),
			Level:   "info",
			Message: fmt.Sprintf("log %d", i),
		})
	}

	logs := c.Logs()
	if len(logs) > 500 {
		t.Errorf("log buffer should not exceed capacity, got %d", len(logs))
	}
}

func TestCollector_SubscribeUnsubscribe(t *testing.T) {
	c := NewCollector(zerolog.Nop())
	defer c.Close()

	ch := c.Subscribe()
	c.Unsubscribe(ch)

	// Should not panic or deadlock.
	c.SetPhase("test")
}

func TestCollector_Elapsed(t *testing.T) {
	c := NewCollector(zerolog.Nop())
	defer c.Close()

	c.SetPhase("copying")
	time.Sleep(50 * time.Millisecond)
	snap := c.Snapshot()
	if snap.ElapsedSec < 0.04 {
		t.Errorf("ElapsedSec = %f, expected > 0.04", snap.ElapsedSec)
	}
}

func TestSlidingWindow_Rate(t *testing.T) {
	w := newSlidingWindow(5 * time.Second)
	now := time.Now()

	w.Add(now.Add(-3*time.Second), 30)
	w.Add(now.Add(-2*time.Second), 20)
	w.Add(now.Add(-1*time.Second), 10)

	rate := w.Rate()
	if rate <= 0 {
		t.Errorf("Rate() = %f, want > 0", rate)
	}
}

func TestSlidingWindow_Eviction(t *testing.T) {
	w := newSlidingWindow(100 * time.Millisecond)
	now := time.Now()

	w.Add(now.Add(-200*time.Millisecond), 100)
	w.Add(now, 50)

	rate := w.Rate()
	if rate <= 0 {
		t.Errorf("Rate() = %f, want > 0", rate)
	}
}

func TestSlidingWindow_Empty(t *testing.T) {
	w := newSlidingWindow(time.Second)
	if r := w.Rate(); r != 0 {
		t.Errorf("Rate() on empty window = %f, want 0", r)
	}
}
