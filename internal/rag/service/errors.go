package service

import "errors"

// Sentinel errors exported by the RAG service.
var (
	ErrNotImplemented = errors.New("rag service: not implemented")
)
