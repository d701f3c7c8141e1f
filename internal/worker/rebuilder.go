package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"securerag/internal/knowledge"
	"securerag/internal/service/rag"
)

const queueLen = 16

var (
	ErrQueueFull = errors.New("rebuild queue full")
	ErrStopped   = errors.New("rebuilder stopped")
)

// Builder produces a fresh index from the document library.
type Builder interface {
	Build(ctx context.Context) (*knowledge.Index, error)
}

type Recorder interface {
	CountRebuild(status string, chunks int)
}

type rebuildTask struct {
	ctx      context.Context
	resultCh chan rebuildReturn
}

type rebuildReturn struct {
	version uint64
	err     error
}

// Rebuilder serializes index rebuilds on a single goroutine and publishes
// each finished index through the retriever handle.
type Rebuilder struct {
	builder  Builder
	handle   *rag.RetrieverHandle
	recorder Recorder
	logger   *zap.Logger

	taskCh   chan rebuildTask
	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
}

func NewRebuilder(builder Builder, handle *rag.RetrieverHandle, recorder Recorder, logger *zap.Logger) *Rebuilder {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Rebuilder{
		builder:  builder,
		handle:   handle,
		recorder: recorder,
		logger:   logger,
		taskCh:   make(chan rebuildTask, queueLen),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go r.run()
	return r
}

// Rebuild queues a rebuild and waits for it. It returns the version of the
// retriever that was published.
func (r *Rebuilder) Rebuild(ctx context.Context) (uint64, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	resultCh := make(chan rebuildReturn, 1)
	select {
	case <-r.stopCh:
		return 0, ErrStopped
	default:
	}
	select {
	case r.taskCh <- rebuildTask{ctx: ctx, resultCh: resultCh}:
	default:
		return 0, ErrQueueFull
	}

	select {
	case ret := <-resultCh:
		return ret.version, ret.err
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-r.doneCh:
		return 0, ErrStopped
	}
}

// Stop ends the loop and waits for it. Queued rebuilds that have not
// started are dropped. Safe to call from several goroutines.
func (r *Rebuilder) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	<-r.doneCh
}

func (r *Rebuilder) run() {
	defer close(r.doneCh)
	for {
		select {
		case <-r.stopCh:
			r.logger.Info("index rebuilder stopped")
			return
		case task := <-r.taskCh:
			task.resultCh <- r.handleTask(task.ctx)
		}
	}
}

func (r *Rebuilder) handleTask(ctx context.Context) rebuildReturn {
	if err := ctx.Err(); err != nil {
		return rebuildReturn{err: err}
	}
	idx, err := r.builder.Build(ctx)
	if err != nil {
		r.record("error", 0)
		r.logger.Error("index rebuild failed", zap.Error(err))
		return rebuildReturn{err: fmt.Errorf("%w: %v", rag.ErrIndexUnavailable, err)}
	}
	version := r.handle.Swap(idx)
	r.record("ok", idx.Len())
	r.logger.Info("index published", zap.Uint64("version", version), zap.Int("chunks", idx.Len()))
	return rebuildReturn{version: version}
}

func (r *Rebuilder) record(status string, chunks int) {
	if r.recorder != nil {
		r.recorder.CountRebuild(status, chunks)
	}
}
