package runlog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Default configuration values.
const (
	defaultBatchSize     = 100
	defaultFlushInterval = time.Second
	defaultBufferSize    = 1000
	flushTimeout         = 5 * time.Second
)

// Writer — хранилище пачек RunEntry (repo.RunRepo).
type Writer interface {
	InsertBatch(ctx context.Context, entries []domain.RunEntry) error
}

// Metrics — учёт отброшенных записей.
type Metrics interface {
	RunEntryDropped()
}

// BatcherConfig — конфигурация Batcher.
type BatcherConfig struct {
	Writer Writer

	BatchSize     int           // размер пачки (default: 100)
	FlushInterval time.Duration // максимальная задержка записи (default: 1s)
	BufferSize    int           // ёмкость буфера (default: 1000)

	Metrics Metrics
	Logger  *slog.Logger
}

// Batcher буферизует RunEntry и пишет их пачками.
//
// PushRun не блокируется: при переполненном буфере запись отбрасывается
// и учитывается в метрике.
type Batcher struct {
	writer        Writer
	batchSize     int
	flushInterval time.Duration
	metrics       Metrics
	logger        *slog.Logger

	entries chan domain.RunEntry
	done    chan struct{}
	wg      sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

// NewBatcher создаёт Batcher.
func NewBatcher(cfg BatcherConfig) *Batcher {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}

	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Batcher{
		writer:        cfg.Writer,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		metrics:       cfg.Metrics,
		logger:        logger,
		entries:       make(chan domain.RunEntry, bufferSize),
		done:          make(chan struct{}),
	}
}

// Start запускает фоновую запись.
func (b *Batcher) Start(ctx context.Context) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.loop(ctx)
	}()
}

// Stop прекращает приём записей и дописывает буфер.
func (b *Batcher) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	close(b.done)
	b.mu.Unlock()

	b.wg.Wait()
}

// PushRun ставит запись в буфер.
func (b *Batcher) PushRun(_ context.Context, entry domain.RunEntry) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.stopped {
		b.drop()
		return
	}

	select {
	case b.entries <- entry:
	default:
		b.drop()
	}
}

func (b *Batcher) drop() {
	if b.metrics != nil {
		b.metrics.RunEntryDropped()
	}
}

func (b *Batcher) loop(ctx context.Context) {
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	batch := make([]domain.RunEntry, 0, b.batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		b.write(batch)
		batch = make([]domain.RunEntry, 0, b.batchSize)
	}

	for {
		select {
		case e := <-b.entries:
			batch = append(batch, e)
			if len(batch) >= b.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-b.done:
			batch = b.drain(batch)
			flush()
			return
		case <-ctx.Done():
			batch = b.drain(batch)
			flush()
			return
		}
	}
}

// drain забирает из буфера всё, что успело попасть до остановки.
func (b *Batcher) drain(batch []domain.RunEntry) []domain.RunEntry {
	for {
		select {
		case e := <-b.entries:
			batch = append(batch, e)
		default:
			return batch
		}
	}
}

func (b *Batcher) write(batch []domain.RunEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	if err := b.writer.InsertBatch(ctx, batch); err != nil {
		b.logger.Error("failed to write run entries",
			"count", len(batch),
			"error", err,
		)
		return
	}

	b.logger.Debug("run entries written", "count", len(batch))
}
