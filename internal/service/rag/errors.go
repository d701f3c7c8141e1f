package rag

import "errors"

var (
	ErrRetrieval  = errors.New("retrieval failed")
	ErrGeneration = errors.New("generation failed")
	// ErrIndexUnavailable is wrapped in ErrRetrieval when no index is installed.
	ErrIndexUnavailable = errors.New("document index unavailable")
)
