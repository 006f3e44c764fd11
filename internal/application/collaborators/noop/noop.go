// Package noop provides collaborator adapters that satisfy the
// collaborators interfaces without performing I/O, for runs configured
// with rag_k=0, memory_k=0, or use_web=false, and for unit tests.
package noop

import (
	"context"

	"github.com/brianmeyer/promptforge/internal/application/collaborators"
)

// RAG never returns passages.
type RAG struct{}

func (RAG) Retrieve(ctx context.Context, query string, k int) ([]string, error) { return nil, nil }

// Memory never returns recollections.
type Memory struct{}

func (Memory) Recall(ctx context.Context, query string, k int) ([]string, error) { return nil, nil }

// Web never returns search results.
type Web struct{}

func (Web) Search(ctx context.Context, query string) ([]string, error) { return nil, nil }

// Patcher applies nothing: Apply reports no changed files and no error,
// and Revert does nothing. Used by deployments that disable the code-loop
// gate entirely.
type Patcher struct{}

var _ collaborators.Patcher = Patcher{}

func (Patcher) Apply(ctx context.Context, patches []collaborators.Patch) ([]string, error) {
	return nil, nil
}

func (Patcher) Revert(ctx context.Context) error { return nil }
