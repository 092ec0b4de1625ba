package runlog

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Conveyor/internal/domain"
)

type recordingWriter struct {
	mu      sync.Mutex
	batches [][]domain.RunEntry
}

func (w *recordingWriter) InsertBatch(_ context.Context, entries []domain.RunEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.batches = append(w.batches, append([]domain.RunEntry(nil), entries...))
	return nil
}

func (w *recordingWriter) total() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, b := range w.batches {
		n += len(b)
	}
	return n
}

type countingMetrics struct{ dropped atomic.Int64 }

func (m *countingMetrics) RunEntryDropped() { m.dropped.Add(1) }

func entry(name string) domain.RunEntry {
	return domain.RunEntry{TraceID: "t", ActionName: name, Status: domain.RunStatusSuccess, Final: true}
}

func TestBatcher_FlushesBySize(t *testing.T) {
	w := &recordingWriter{}
	b := NewBatcher(BatcherConfig{Writer: w, BatchSize: 2, FlushInterval: time.Hour})
	b.Start(context.Background())
	defer b.Stop()

	b.PushRun(context.Background(), entry("a"))
	b.PushRun(context.Background(), entry("b"))

	require.Eventually(t, func() bool { return w.total() == 2 }, time.Second, 5*time.Millisecond)
}

func TestBatcher_FlushesByInterval(t *testing.T) {
	w := &recordingWriter{}
	b := NewBatcher(BatcherConfig{Writer: w, BatchSize: 100, FlushInterval: 10 * time.Millisecond})
	b.Start(context.Background())
	defer b.Stop()

	b.PushRun(context.Background(), entry("a"))

	require.Eventually(t, func() bool { return w.total() == 1 }, time.Second, 5*time.Millisecond)
}

func TestBatcher_StopFlushesRemaining(t *testing.T) {
	w := &recordingWriter{}
	b := NewBatcher(BatcherConfig{Writer: w, BatchSize: 100, FlushInterval: time.Hour})
	b.Start(context.Background())

	for i := 0; i < 5; i++ {
		b.PushRun(context.Background(), entry("a"))
	}
	b.Stop()

	assert.Equal(t, 5, w.total())

	// После Stop записи отбрасываются.
	b.PushRun(context.Background(), entry("late"))
	assert.Equal(t, 5, w.total())
}

func TestBatcher_DropsWhenFull(t *testing.T) {
	metrics := &countingMetrics{}
	b := NewBatcher(BatcherConfig{Writer: &recordingWriter{}, BufferSize: 2, Metrics: metrics})

	// Без Start буфер не разбирается.
	for i := 0; i < 5; i++ {
		b.PushRun(context.Background(), entry("a"))
	}

	assert.Equal(t, int64(3), metrics.dropped.Load())
}

func TestMulti(t *testing.T) {
	var got []string
	s := Multi{
		SinkFunc(func(_ context.Context, e domain.RunEntry) { got = append(got, "first:"+e.ActionName) }),
		Nop{},
		SinkFunc(func(_ context.Context, e domain.RunEntry) { got = append(got, "second:"+e.ActionName) }),
	}
	s.PushRun(context.Background(), entry("x"))
	assert.Equal(t, []string{"first:x", "second:x"}, got)
}

func TestLogSink_LogsFailures(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSink(slog.New(slog.NewTextHandler(&buf, nil)))

	e := entry("email.send")
	e.Status = domain.RunStatusError
	e.ErrorMessage = "smtp down"
	e.Attempt, e.MaxAttempts = 2, 3
	s.PushRun(context.Background(), e)

	out := buf.String()
	assert.True(t, strings.Contains(out, "action run failed"))
	assert.True(t, strings.Contains(out, "error=\"smtp down\""))
	assert.True(t, strings.Contains(out, "attempt=2"))
}
