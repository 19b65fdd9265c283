package mapping

import (
	"context"
	"unicode/utf8"

	"github.com/poiesic/finpipe/ai"
	"github.com/poiesic/finpipe/core"
)

// maxExcerptRunes bounds the free-text excerpt stored alongside the
// structured columns.
const maxExcerptRunes = 2000

// TextHandler maps unstructured text through the LLM field extractor. The
// extractor returns flat string values; foreign-key natural keys arrive
// under the dimension name and are relocated to their column.
type TextHandler struct {
	extractor ai.FieldExtractor
}

var _ Handler = (*TextHandler)(nil)

// NewTextHandler creates a text mapping handler over a field extractor.
func NewTextHandler(extractor ai.FieldExtractor) *TextHandler {
	return &TextHandler{extractor: extractor}
}

func (h *TextHandler) Map(ctx context.Context, doc *core.ExtractedDocument) ([]*core.RecordDraft, error) {
	extracted, err := h.extractor.ExtractFields(ctx, doc.RawContent, doc.TargetTable)
	if err != nil {
		// Extraction failures are transient (model unreachable, malformed
		// completion); the mapper retries them with backoff.
		return nil, err
	}

	specs, ok := core.RequiredFields(doc.TargetTable)
	if !ok {
		return nil, &core.ValidationError{Table: doc.TargetTable, Err: core.ErrUnknownTable}
	}

	fields := make(map[string]any)
	for _, spec := range specs {
		key := spec.Name
		if spec.Kind == core.FieldRef {
			key = spec.Dimension
		}
		if value, present := extracted[key]; present && value != "" {
			fields[spec.Name] = value
		}
	}
	fields["contenido"] = Excerpt(doc.RawContent, maxExcerptRunes)

	return []*core.RecordDraft{{
		TargetTable: doc.TargetTable,
		Fields:      fields,
	}}, nil
}

// Excerpt returns the first n runes of text, never splitting a multibyte
// character.
func Excerpt(text string, n int) string {
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	runes := []rune(text)
	return string(runes[:n])
}
