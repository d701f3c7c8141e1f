package rag

import (
	"context"
	"sync/atomic"

	"securerag/internal/models"
)

// Retriever returns the top k passages for query, best first.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]models.Passage, error)
}

// Snapshot is one installed retriever and its version.
type Snapshot struct {
	Retriever Retriever
	Version   uint64
}

// RetrieverHandle is the swappable reference to the current index. Callers
// load it once per query and keep using that snapshot.
type RetrieverHandle struct {
	current atomic.Pointer[Snapshot]
}

func NewRetrieverHandle(r Retriever) *RetrieverHandle {
	h := &RetrieverHandle{}
	if r != nil {
		h.current.Store(&Snapshot{Retriever: r, Version: 1})
	}
	return h
}

// Load returns the current snapshot, or nil before the first install.
func (h *RetrieverHandle) Load() *Snapshot {
	return h.current.Load()
}

// Swap installs r and returns its version.
func (h *RetrieverHandle) Swap(r Retriever) uint64 {
	for {
		old := h.current.Load()
		next := &Snapshot{Retriever: r, Version: 1}
		if old != nil {
			next.Version = old.Version + 1
		}
		if h.current.CompareAndSwap(old, next) {
			return next.Version
		}
	}
}

// Version is 0 until a retriever has been installed.
func (h *RetrieverHandle) Version() uint64 {
	if s := h.current.Load(); s != nil {
		return s.Version
	}
	return 0
}
