// Package openaiadapter provides default GenerationEngine, JudgeEngine and
// EmbeddingFunc implementations backed by the OpenAI chat/embeddings API,
// so the engine can run end-to-end without the excluded HTTP/UI layer
// providing its own collaborator wiring.
package openaiadapter

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/brianmeyer/promptforge/internal/application/collaborators"
)

// Client wraps an OpenAI client configured for generation, judging, and
// embeddings, each against its own configured model.
type Client struct {
	api             *openai.Client
	generationModel string
	judgeModel      string
	embeddingModel  string
}

// New creates a Client. baseURL may be empty to use the default OpenAI
// endpoint, or set to point at a compatible gateway.
func New(apiKey, baseURL, generationModel, judgeModel, embeddingModel string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openaiadapter: api key is required")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Client{
		api:             openai.NewClientWithConfig(cfg),
		generationModel: generationModel,
		judgeModel:      judgeModel,
		embeddingModel:  embeddingModel,
	}, nil
}

// Generate implements collaborators.GenerationEngine.
func (c *Client) Generate(ctx context.Context, req collaborators.GenerationRequest) (collaborators.GenerationResult, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.generationModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: req.UserPrompt},
		},
		Temperature: float32(req.Temperature),
		TopP:        float32(req.TopP),
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return collaborators.GenerationResult{}, fmt.Errorf("openaiadapter: generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return collaborators.GenerationResult{}, fmt.Errorf("openaiadapter: generate: empty response")
	}
	return collaborators.GenerationResult{
		Output:     resp.Choices[0].Message.Content,
		TokensUsed: resp.Usage.TotalTokens,
	}, nil
}

// Judge implements collaborators.JudgeEngine. It asks the model for a
// single float in [0,1] and a short rationale, one line each.
func (c *Client) Judge(ctx context.Context, req collaborators.JudgeRequest) (collaborators.JudgeResult, error) {
	prompt := fmt.Sprintf(
		"Task: %s\nCandidate output:\n%s\n\nReference output:\n%s\n\n"+
			"Score the candidate's quality relative to the reference from 0 to 1. "+
			"Respond with exactly two lines: the score, then a one-sentence rationale.",
		req.TaskDescription, req.CandidateOutput, req.ReferenceOutput,
	)

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.judgeModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "You are a strict, consistent evaluation judge."},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0,
	})
	if err != nil {
		return collaborators.JudgeResult{}, fmt.Errorf("openaiadapter: judge: %w", err)
	}
	if len(resp.Choices) == 0 {
		return collaborators.JudgeResult{}, fmt.Errorf("openaiadapter: judge: empty response")
	}

	result, err := parseJudgeResponse(resp.Choices[0].Message.Content)
	if err != nil {
		return collaborators.JudgeResult{}, err
	}
	result.Model = c.judgeModel
	return result, nil
}

func parseJudgeResponse(content string) (collaborators.JudgeResult, error) {
	lines := strings.SplitN(strings.TrimSpace(content), "\n", 2)
	var score float64
	if _, err := fmt.Sscanf(strings.TrimSpace(lines[0]), "%f", &score); err != nil {
		return collaborators.JudgeResult{}, fmt.Errorf("openaiadapter: judge: could not parse score from %q: %w", lines[0], err)
	}
	rationale := ""
	if len(lines) > 1 {
		rationale = strings.TrimSpace(lines[1])
	}
	return collaborators.JudgeResult{Score: score, Rationale: rationale}, nil
}

// Embed implements collaborators.EmbeddingFunc.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: []string{text},
		Model: openai.EmbeddingModel(c.embeddingModel),
	})
	if err != nil {
		return nil, fmt.Errorf("openaiadapter: embed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openaiadapter: embed: empty response")
	}
	vec := make([]float64, len(resp.Data[0].Embedding))
	for i, f := range resp.Data[0].Embedding {
		vec[i] = float64(f)
	}
	return vec, nil
}
