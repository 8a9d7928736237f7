// Package llm adapts an OpenAI-compatible chat completion API into the relevance analyzer.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"KnowledgeScanner/internal/config"
	"KnowledgeScanner/internal/domain"
	"KnowledgeScanner/internal/ports"
	"KnowledgeScanner/internal/textutil"
)

const systemPrompt = `You judge whether a document is relevant to a reader's topics of interest.
Reply with a single JSON object and nothing else:
{"is_relevant": bool, "score": number from 0 to 10, "summary": "one or two sentences", "topics": ["matched topic", ...]}
Only use topics from the provided list. A document is relevant when its score reaches the threshold.`

// Analyzer implements ports.Analyzer with a single chat completion per document.
type Analyzer struct {
	client        *openai.Client
	model         string
	timeout       time.Duration
	maxInputChars int
}

var _ ports.Analyzer = (*Analyzer)(nil)

// NewAnalyzer builds an analyzer from configuration.
func NewAnalyzer(cfg config.AnalyzerConfig) *Analyzer {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	maxChars := cfg.MaxInputChars
	if maxChars <= 0 {
		maxChars = 3000
	}
	return &Analyzer{
		client:        openai.NewClientWithConfig(clientCfg),
		model:         cfg.Model,
		timeout:       cfg.Timeout,
		maxInputChars: maxChars,
	}
}

type verdict struct {
	IsRelevant *bool    `json:"is_relevant"`
	Score      *float64 `json:"score"`
	Summary    *string  `json:"summary"`
	Topics     []string `json:"topics"`
}

// Analyze asks the provider for a structured judgment. Any transport failure or malformed
// answer is reported as domain.ErrAnalysis; the caller treats the item as rejected.
func (a *Analyzer) Analyze(ctx context.Context, req ports.AnalysisRequest) (domain.Analysis, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: a.userMessage(req)},
		},
		// zero is dropped by omitempty
		Temperature:    math.SmallestNonzeroFloat32,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		return domain.Analysis{}, fmt.Errorf("%w: completion request: %v", domain.ErrAnalysis, err)
	}
	if len(resp.Choices) == 0 {
		return domain.Analysis{}, fmt.Errorf("%w: empty choices", domain.ErrAnalysis)
	}

	return parseVerdict(resp.Choices[0].Message.Content)
}

func (a *Analyzer) userMessage(req ports.AnalysisRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Topics of interest: %s\n", strings.Join(req.Topics, ", "))
	fmt.Fprintf(&b, "Relevance threshold: %g\n", req.Threshold)
	if len(req.Context) > 0 {
		b.WriteString("Recently accepted summaries:\n")
		for _, s := range req.Context {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}
	fmt.Fprintf(&b, "\nTitle: %s\n", req.Title)
	if req.URL != "" {
		fmt.Fprintf(&b, "URL: %s\n", req.URL)
	}
	fmt.Fprintf(&b, "Text:\n%s\n", textutil.TruncateRunes(req.Text, a.maxInputChars))
	return b.String()
}

func parseVerdict(content string) (domain.Analysis, error) {
	content = stripFence(content)

	var v verdict
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		return domain.Analysis{}, fmt.Errorf("%w: decode verdict: %v", domain.ErrAnalysis, err)
	}
	switch {
	case v.IsRelevant == nil:
		return domain.Analysis{}, fmt.Errorf("%w: missing is_relevant", domain.ErrAnalysis)
	case v.Score == nil:
		return domain.Analysis{}, fmt.Errorf("%w: missing score", domain.ErrAnalysis)
	case v.Summary == nil:
		return domain.Analysis{}, fmt.Errorf("%w: missing summary", domain.ErrAnalysis)
	case math.IsNaN(*v.Score) || *v.Score < 0 || *v.Score > 10:
		return domain.Analysis{}, fmt.Errorf("%w: score %v out of range", domain.ErrAnalysis, *v.Score)
	}

	return domain.Analysis{
		IsRelevant: *v.IsRelevant,
		Score:      *v.Score,
		Summary:    strings.TrimSpace(*v.Summary),
		Topics:     domain.NewTopicSet(v.Topics...),
	}, nil
}

// stripFence removes a markdown code fence some providers wrap around JSON.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
