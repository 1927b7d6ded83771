// Package synthesis builds the aggregator request from the weighted final
// answers and reconciles the aggregator's reply into the consensus artifact.
// The numbers in the artifact always come from the local computation; the
// aggregator only contributes the explanation.
package synthesis

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/ahrav/go-appraise/internal/domain"
	"github.com/ahrav/go-appraise/internal/extract"
	"github.com/ahrav/go-appraise/internal/llm"
)

//go:embed result.schema.json
var resultSchema string

const blockSeparator = "\n\n---\n\n"

// Instruction is the final user message demanding the strict JSON artifact.
const Instruction = `You are synthesizing multiple NFT appraisals into a final estimate. Every model has been assigned a confidence weight based on how consistent their analysis has remained when challenged.

Your response MUST be in JSON format with the following structure (exactly matching this format):
{
  "price": [Final price in USD as a number],
  "explanation": "[Brief explanation in 2-3 sentences]",
  "standard_deviation": [Standard deviation value],
  "models": {
    "[model_name_1]": {
      "text_similarity": [similarity score],
      "price_change": [price change percentage],
      "weight": [calculated weight]
    },
    "[model_name_2]": {
      "text_similarity": [similarity score],
      "price_change": [price change percentage],
      "weight": [calculated weight]
    }
  }
}

Do not include any other text outside this JSON structure. Do not include markdown code blocks. Your entire response should be just a valid JSON object.
Use the weights to determine each model's contribution, giving more weight to models with higher confidence scores. The final price should reflect the weighted average of the model prices.`

// Builder assembles aggregator requests for one aggregator configuration.
type Builder struct {
	cfg    domain.AggregatorConfig
	schema *jsonschema.Schema
	logger *slog.Logger
}

// NewBuilder compiles the reply schema and returns a Builder.
func NewBuilder(cfg domain.AggregatorConfig, logger *slog.Logger) (*Builder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("result.schema.json", strings.NewReader(resultSchema)); err != nil {
		return nil, fmt.Errorf("load aggregator schema: %w", err)
	}
	schema, err := compiler.Compile("result.schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile aggregator schema: %w", err)
	}
	return &Builder{cfg: cfg, schema: schema, logger: logger.With("component", "synthesis")}, nil
}

// Summary renders the statistics header and one block per weighted appraiser.
func Summary(stats domain.AggregationStats, weights domain.WeightTable, records map[string]domain.ConfidenceRecord, finalReplies map[string]string) string {
	var blocks []string
	for _, id := range weights.IDs() {
		rec, ok := records[id]
		if !ok {
			continue
		}
		blocks = append(blocks, fmt.Sprintf("Model: %s (Weight: %.4f, Price: %s)\n%s",
			id, weights[id], domain.USD(rec.FinalPrice), finalReplies[id]))
	}

	var b strings.Builder
	b.WriteString("Aggregated responses from multiple models with confidence-based weights:\n\n")
	fmt.Fprintf(&b, "Weighted price: %s\n", domain.USD(stats.WeightedPrice))
	fmt.Fprintf(&b, "Mean price: %s\n", domain.USD(stats.MeanPrice))
	fmt.Fprintf(&b, "Median price: %s\n", domain.USD(stats.MedianPrice))
	fmt.Fprintf(&b, "Standard deviation: %s\n\n", domain.USD(stats.StdDev))
	b.WriteString(strings.Join(blocks, blockSeparator))
	return b.String()
}

// BuildRequest returns the aggregator request: configured context, the
// summary as a system message, configured prompt messages, then Instruction.
func (b *Builder) BuildRequest(stats domain.AggregationStats, weights domain.WeightTable, records map[string]domain.ConfidenceRecord, finalReplies map[string]string) *llm.Request {
	messages := make([]domain.Message, 0, len(b.cfg.Context)+len(b.cfg.Prompt)+2)
	messages = append(messages, b.cfg.Context...)
	messages = append(messages, domain.Message{Role: domain.RoleSystem, Content: Summary(stats, weights, records, finalReplies)})
	messages = append(messages, b.cfg.Prompt...)
	messages = append(messages, domain.Message{Role: domain.RoleUser, Content: Instruction})

	return &llm.Request{
		Model:       b.cfg.Model.ModelID,
		Messages:    messages,
		MaxTokens:   b.cfg.Model.MaxTokens,
		Temperature: b.cfg.Model.Temperature,
	}
}

// Reconcile turns the aggregator reply into the artifact. The price is always
// the weighted price and every models entry is rebuilt from records and
// weights. The bool is false when the reply could not be used and the
// templated fallback was produced instead.
func (b *Builder) Reconcile(reply string, stats domain.AggregationStats, weights domain.WeightTable, records map[string]domain.ConfidenceRecord) (domain.ConsensusResult, bool) {
	obj, err := b.parse(reply)
	if err != nil {
		b.logger.Warn("aggregator reply unusable, using fallback", "error", err)
		return Fallback(stats, weights, records), false
	}

	result := domain.ConsensusResult{
		Price:             stats.WeightedPrice,
		Explanation:       obj.Explanation,
		StandardDeviation: stats.StdDev,
		Models:            modelDetails(weights, records),
	}
	if obj.StandardDeviation != nil {
		result.StandardDeviation = *obj.StandardDeviation
	}
	for id := range obj.Models {
		if _, ok := records[id]; !ok {
			b.logger.Debug("dropping unknown model from aggregator reply", "model", id)
		}
	}
	result.Sanitize()
	return result, true
}

// Fallback builds the artifact without the aggregator.
func Fallback(stats domain.AggregationStats, weights domain.WeightTable, records map[string]domain.ConfidenceRecord) domain.ConsensusResult {
	result := domain.ConsensusResult{
		Price: stats.WeightedPrice,
		Explanation: fmt.Sprintf("Final price estimate of %s based on weighted model contributions. "+
			"Higher weights were given to models with greater consistency between initial and challenged responses.",
			domain.USD(stats.WeightedPrice)),
		StandardDeviation: stats.StdDev,
		Models:            modelDetails(weights, records),
	}
	result.Sanitize()
	return result
}

type reply struct {
	Explanation       string                     `json:"explanation"`
	StandardDeviation *float64                   `json:"standard_deviation"`
	Models            map[string]json.RawMessage `json:"models"`
}

func (b *Builder) parse(text string) (*reply, error) {
	cleaned := extract.StripFence(text)
	if cleaned == "" {
		return nil, fmt.Errorf("%w: empty reply", domain.ErrAggregatorParse)
	}

	doc, err := decode(cleaned)
	if err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(cleaned)
		if repairErr != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrAggregatorParse, err)
		}
		if doc, err = decode(repaired); err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrAggregatorParse, err)
		}
		cleaned = repaired
	}
	if err := b.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrAggregatorParse, err)
	}

	var r reply
	if err := json.Unmarshal([]byte(cleaned), &r); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrAggregatorParse, err)
	}
	return &r, nil
}

// decode parses exactly one JSON value.
func decode(text string) (any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after JSON value")
	}
	return doc, nil
}

func modelDetails(weights domain.WeightTable, records map[string]domain.ConfidenceRecord) map[string]domain.ModelDetail {
	models := make(map[string]domain.ModelDetail, len(records))
	for id, rec := range records {
		models[id] = domain.ModelDetail{
			TextSimilarity: rec.TextSimilarity,
			PriceChange:    rec.PriceChange,
			Weight:         weights[id],
		}
	}
	return models
}
