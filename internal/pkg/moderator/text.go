package moderator

import (
	"context"
	"errors"
	"strings"

	"github.com/go-kratos/kratos/v2/log"
	"golang.org/x/text/unicode/norm"

	"reelguard/internal/pkg/cost"
	"reelguard/internal/pkg/hash"
	"reelguard/internal/pkg/llm"
	"reelguard/internal/pkg/table"
)

// CostKey is the field name of the cost row appended to every verdict.
const CostKey = "cost_breakdown"

// CachedCompletion is a classifier reply kept for identical transcripts.
type CachedCompletion struct {
	Content      string `json:"content"`
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// VerdictCache stores raw classifier replies by category, model and
// transcript key. Get returns nil, nil on a miss.
type VerdictCache interface {
	Get(ctx context.Context, category Category, model, transcriptKey string) (*CachedCompletion, error)
	Set(ctx context.Context, category Category, model, transcriptKey string, c *CachedCompletion) error
}

// TranscriptKey identifies a transcript independent of surrounding
// whitespace and Unicode composition.
func TranscriptKey(transcript string) string {
	return hash.FastHash(norm.NFC.String(strings.TrimSpace(transcript)))
}

// TextVerdict is the outcome of one category classification. Err is a
// *llm.ClassifierError or *llm.ParsingError when Rows is a failure row.
type TextVerdict struct {
	Category Category
	Rows     table.Rows
	Fields   table.Value
	Flagged  *bool
	Usage    llm.Usage
	Cost     cost.Breakdown
	Model    string
	Cached   bool
	Err      error
}

// Status summarizes the verdict for accounting.
func (v *TextVerdict) Status() string {
	var cerr *llm.ClassifierError
	var perr *llm.ParsingError
	switch {
	case v.Err == nil:
		return "ok"
	case errors.As(v.Err, &cerr):
		return "classifier_error"
	case errors.As(v.Err, &perr):
		return "parsing_error"
	default:
		return "error"
	}
}

// TextModerator classifies a transcript for one category at a time.
type TextModerator struct {
	classifier *llm.Classifier
	cache      VerdictCache
	pricing    cost.Pricing
	log        *log.Helper
}

// NewTextModerator creates a new TextModerator. cache may be nil.
func NewTextModerator(classifier *llm.Classifier, cache VerdictCache, pricing cost.Pricing, logger log.Logger) *TextModerator {
	return &TextModerator{
		classifier: classifier,
		cache:      cache,
		pricing:    pricing,
		log:        log.NewHelper(logger),
	}
}

// Model returns the classifier model name.
func (m *TextModerator) Model() string {
	return m.classifier.Model()
}

// Moderate classifies transcript for category. Failures are carried in the
// verdict and never returned, so one category cannot suppress another.
func (m *TextModerator) Moderate(ctx context.Context, category Category, transcript, credential string) *TextVerdict {
	verdict := &TextVerdict{Category: category, Model: m.classifier.Model()}
	key := TranscriptKey(transcript)

	completion := m.lookup(ctx, category, key)
	if completion != nil {
		verdict.Cached = true
	} else {
		resp, err := m.classifier.Invoke(ctx, string(category), transcript, credential)
		if err != nil {
			m.log.Warnf("classification failed for %s: %v", category, err)
			verdict.Err = err
			verdict.Rows = table.Failure("Error in analysis: " + err.Error())
			return verdict
		}
		completion = &CachedCompletion{
			Content:      resp.Content,
			Model:        resp.Model,
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		}
	}

	if completion.Model != "" {
		verdict.Model = completion.Model
	}
	verdict.Usage = llm.Usage{InputTokens: completion.InputTokens, OutputTokens: completion.OutputTokens}
	verdict.Cost = m.pricing.Estimate(completion.InputTokens, completion.OutputTokens)

	fields, err := llm.Parse(completion.Content)
	if err != nil {
		m.log.Warnf("unparseable %s verdict: %v", category, err)
		verdict.Err = err
		verdict.Rows = table.Failure("Parsing error: " + err.Error())
		return verdict
	}

	if flagged, ok := fields.Get("is_flagged"); ok {
		if b, ok := flagged.AsBool(); ok {
			verdict.Flagged = &b
		}
	}
	verdict.Fields = fields

	rows, err := table.Normalize(fields.With(CostKey, costValue(verdict.Cost)))
	if err != nil {
		verdict.Err = &llm.ParsingError{Content: completion.Content, Err: err}
		verdict.Rows = table.Failure("Parsing error: " + err.Error())
		return verdict
	}
	verdict.Rows = rows

	if !verdict.Cached {
		m.store(ctx, category, key, completion)
	}
	return verdict
}

func (m *TextModerator) lookup(ctx context.Context, category Category, key string) *CachedCompletion {
	if m.cache == nil {
		return nil
	}
	c, err := m.cache.Get(ctx, category, m.classifier.Model(), key)
	if err != nil {
		m.log.Warnf("verdict cache lookup failed: %v", err)
		return nil
	}
	return c
}

func (m *TextModerator) store(ctx context.Context, category Category, key string, c *CachedCompletion) {
	if m.cache == nil {
		return
	}
	if err := m.cache.Set(ctx, category, m.classifier.Model(), key, c); err != nil {
		m.log.Warnf("verdict cache store failed: %v", err)
	}
}

func costValue(b cost.Breakdown) table.Value {
	return table.Map(
		table.Field{Key: "input_tokens", Value: table.Int(b.InputTokens)},
		table.Field{Key: "output_tokens", Value: table.Int(b.OutputTokens)},
		table.Field{Key: "cost_usd", Value: table.Float(b.USD)},
		table.Field{Key: "cost_pkr", Value: table.Float(b.PKR)},
	)
}
