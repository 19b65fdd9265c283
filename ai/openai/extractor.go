// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package openai

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/poiesic/finpipe/ai"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// FieldExtractor implements ai.FieldExtractor using OpenAI-compatible chat
// APIs. Temperature is fixed at 0 so identical input produces identical
// output, which the coordinator's resume semantics require.
type FieldExtractor struct {
	client llms.Model
	logger *slog.Logger
}

var _ ai.FieldExtractor = (*FieldExtractor)(nil)

// newFieldExtractor is an internal constructor that returns the concrete
// type. Used by Provider to manage the instance.
func newFieldExtractor(config *ai.Config) (*FieldExtractor, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := openai.New(
		openai.WithBaseURL(config.ExtractorHost),
		openai.WithToken("none"),
		openai.WithModel(config.ExtractorModel),
	)
	if err != nil {
		return nil, err
	}

	return &FieldExtractor{
		client: client,
		logger: slog.Default().With("component", "openai-extractor"),
	}, nil
}

// NewFieldExtractor creates a new field extractor using the provided
// configuration.
//
// Returns ai.FieldExtractor interface to enforce abstraction.
func NewFieldExtractor(config *ai.Config) (ai.FieldExtractor, error) {
	return newFieldExtractor(config)
}

// ExtractFields extracts a flat field map from unstructured content using
// an LLM. Malformed JSON responses are repaired and re-requested up to
// three times before failing.
func (e *FieldExtractor) ExtractFields(ctx context.Context, rawContent, schemaHint string) (map[string]string, error) {
	content := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(buildExtractionPrompt(schemaHint))},
		},
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextPart(rawContent)},
		},
	}

	var fields map[string]string
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		response, err := e.client.GenerateContent(ctx, content,
			llms.WithTemperature(0.0), llms.WithJSONMode())
		if err != nil {
			e.logger.Error("failed to generate content", "attempt", attempt+1, "err", err)
			return nil, err
		}

		if len(response.Choices) < 1 {
			e.logger.Debug("no choices returned from model", "schema", schemaHint)
			return map[string]string{}, nil
		}

		responseText := repairJSON(response.Choices[0].Content)

		if err := json.Unmarshal([]byte(responseText), &fields); err != nil {
			lastErr = err
			e.logger.Warn("error parsing extractor response",
				"attempt", attempt+1,
				"schema", schemaHint,
				"err", err)
			continue
		}

		lastErr = nil
		break
	}

	if lastErr != nil {
		e.logger.Error("failed to parse extractor response after retries", "err", lastErr)
		return nil, lastErr
	}

	e.logger.Debug("extracted fields", "schema", schemaHint, "fields", len(fields))
	return fields, nil
}
