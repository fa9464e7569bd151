package insight

import (
	"context"
	"fmt"

	"github.com/KaramelBytes/csvlens/internal/ai"
	"github.com/KaramelBytes/csvlens/internal/analysis"
	"github.com/KaramelBytes/csvlens/internal/utils"
)

// DefaultSampleRows is how many leading rows the summary prompt carries.
const DefaultSampleRows = 5

// Summarizer asks a chat-completion runtime for a short free-text summary of
// a table sample.
type Summarizer struct {
	Runtime    ai.Runtime
	Model      string
	SampleRows int
	// TokenLimit caps the estimated size of the data sample; 0 disables it.
	TokenLimit int
}

// NewSummarizer returns a Summarizer with the default sample size.
func NewSummarizer(rt ai.Runtime, model string) *Summarizer {
	return &Summarizer{Runtime: rt, Model: model, SampleRows: DefaultSampleRows}
}

// Prompt builds the instruction for t. An empty table still yields a prompt.
func (s *Summarizer) Prompt(t *analysis.Table, fileName string) string {
	n := s.SampleRows
	if n <= 0 {
		n = DefaultSampleRows
	}
	sample := t.Head(n).String()
	if s.TokenLimit > 0 {
		sample = utils.FitTokens(sample, s.TokenLimit)
	}
	return fmt.Sprintf("Analyze this specific dataset: %s. Data sample: %s. Summarize the top 3 insights.", fileName, sample)
}

// Summarize returns the model's answer verbatim. Any error is a *Failure and
// the caller shows nothing.
func (s *Summarizer) Summarize(ctx context.Context, t *analysis.Table, fileName, credential string) (string, error) {
	return complete(ctx, s.Runtime, credential, ai.GenerateRequest{
		Model:    s.Model,
		Messages: []ai.Message{{Role: "user", Content: s.Prompt(t, fileName)}},
	})
}
