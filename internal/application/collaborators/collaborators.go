// Package collaborators defines the narrow external interfaces the engine
// depends on but does not implement itself: text generation, embeddings,
// AI judging, retrieval, web search, and patch application. Default
// adapters for the ones needed to run end-to-end live in subpackages.
package collaborators

import "context"

// GenerationRequest is the input to a GenerationEngine call.
type GenerationRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float64
	TopP         float64
	MaxTokens    int
	Tools        []string
}

// GenerationResult is the output of a GenerationEngine call.
type GenerationResult struct {
	Output        string
	TokensUsed    int
	ToolCallsUsed int
}

// GenerationEngine produces a completion for a rendered recipe.
type GenerationEngine interface {
	Generate(ctx context.Context, req GenerationRequest) (GenerationResult, error)
}

// EmbeddingFunc computes a vector embedding for text, used for the
// semantic-similarity component of the outcome reward.
type EmbeddingFunc interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// JudgeRequest is the input to one JudgeEngine scoring call.
type JudgeRequest struct {
	TaskDescription string
	Input           map[string]any
	CandidateOutput string
	ReferenceOutput string
}

// JudgeResult is a single judge's score in [0,1] plus its rationale.
type JudgeResult struct {
	Model     string
	Score     float64
	Rationale string
}

// JudgeEngine scores a candidate output against a task/reference pair.
type JudgeEngine interface {
	Judge(ctx context.Context, req JudgeRequest) (JudgeResult, error)
}

// RAGRetriever returns up to k relevant passages for a query.
type RAGRetriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]string, error)
}

// MemoryRetriever returns up to k relevant memories for a query.
type MemoryRetriever interface {
	Recall(ctx context.Context, query string, k int) ([]string, error)
}

// WebSearcher returns web search result snippets for a query.
type WebSearcher interface {
	Search(ctx context.Context, query string) ([]string, error)
}

// Patch is one proposed file edit from the code-loop gate's editor step.
type Patch struct {
	FilePath string
	Diff     string
}

// Patcher applies a set of patches to the working tree and reports which
// files changed.
type Patcher interface {
	Apply(ctx context.Context, patches []Patch) (filesChanged []string, err error)
	Revert(ctx context.Context) error
}
