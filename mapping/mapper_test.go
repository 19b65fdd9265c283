package mapping

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/finpipe/ai/mock"
	"github.com/poiesic/finpipe/core"
	"github.com/poiesic/finpipe/resolve"
	"github.com/poiesic/finpipe/storage/memory"
)

func newTestMapper(t *testing.T, extractor *mock.MockFieldExtractor, opts ...Option) *Mapper {
	t.Helper()
	resolver := resolve.NewResolver(memory.NewLookupStore())
	if extractor == nil {
		extractor = mock.NewMockFieldExtractor()
	}
	opts = append([]Option{WithBaseDelay(time.Millisecond)}, opts...)
	return NewDefaultMapper(resolver, extractor, opts...)
}

func jsonDoc(content string) *core.ExtractedDocument {
	return &core.ExtractedDocument{
		SourceID:    "bva-informes-diarios",
		RawContent:  content,
		ContentType: core.ContentTypeJSON,
		TargetTable: "movimiento_diario_bolsa",
		Fingerprint: core.FingerprintFromContent([]byte(content)),
	}
}

func TestMap_JSONArray(t *testing.T) {
	mapper := newTestMapper(t, nil)
	content := `[
		{"fecha_operacion": "2026-02-10", "cantidad_operacion": 1000, "precio_operacion": 7350,
		 "instrumento": "Bono AFD 2030", "emisor": "AFD", "moneda": "PYG"},
		{"fecha_operacion": "2026-02-10", "cantidad_operacion": 250, "precio_operacion": 98000,
		 "instrumento": "Accion CONTI", "emisor": "Banco Continental", "moneda": "PYG"}
	]`

	drafts, err := mapper.Map(context.Background(), jsonDoc(content))
	require.NoError(t, err)
	require.Len(t, drafts, 2)

	for _, draft := range drafts {
		assert.Equal(t, "movimiento_diario_bolsa", draft.TargetTable)
		assert.NoError(t, core.ValidateDraft(draft))
	}

	// Both rows name the same currency; they must share one lookup id.
	ref1, ok := drafts[0].LookupFor("moneda")
	require.True(t, ok)
	ref2, ok := drafts[1].LookupFor("moneda")
	require.True(t, ok)
	assert.Equal(t, ref1.ResolvedID, ref2.ResolvedID)
}

func TestMap_JSONSingleObject(t *testing.T) {
	mapper := newTestMapper(t, nil)
	content := `{"fecha_operacion": "2026-02-11", "cantidad_operacion": 10, "precio_operacion": 5,
		"id_instrumento": "CDA GNB", "id_emisor": "Banco GNB", "id_moneda": "USD"}`

	drafts, err := mapper.Map(context.Background(), jsonDoc(content))
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.NoError(t, core.ValidateDraft(drafts[0]))
}

func TestMap_MalformedJSONIsPermanent(t *testing.T) {
	mapper := newTestMapper(t, nil)

	_, err := mapper.Map(context.Background(), jsonDoc(`{"fecha_operacion": `))
	require.Error(t, err)

	var vErr *core.ValidationError
	assert.ErrorAs(t, err, &vErr)
	assert.False(t, core.IsTransient(err))
}

func TestMap_JSONDropsUnknownFields(t *testing.T) {
	mapper := newTestMapper(t, nil)
	content := `{"fecha_operacion": "2026-02-10", "cantidad_operacion": 1, "precio_operacion": 2,
		"emisor": "AFD", "moneda": "PYG", "instrumento": "Bono",
		"campo_desconocido": "se descarta"}`

	drafts, err := mapper.Map(context.Background(), jsonDoc(content))
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	_, present := drafts[0].Fields["campo_desconocido"]
	assert.False(t, present)
}

func TestMap_TextThroughExtractor(t *testing.T) {
	content := "El BCP informó que la inflación de enero de 2026 fue 0.4% mensual."
	extractor := mock.NewMockFieldExtractor()
	extractor.Responses = map[string]map[string]string{
		content: {
			"indicador_nombre": "Inflación mensual",
			"fecha_dato":       "2026-01-31",
			"valor_numerico":   "0.4",
			"unidad_medida":    "porcentaje",
			"frecuencia":       "mensual",
			"fuente_dato":      "BCP",
		},
	}
	mapper := newTestMapper(t, extractor)

	doc := &core.ExtractedDocument{
		SourceID:    "bcp-macroeconomia",
		RawContent:  content,
		ContentType: core.ContentTypeText,
		TargetTable: "dato_macroeconomico",
		Fingerprint: core.FingerprintFromContent([]byte(content)),
	}

	drafts, err := mapper.Map(context.Background(), doc)
	require.NoError(t, err)
	require.Len(t, drafts, 1)

	draft := drafts[0]
	assert.NoError(t, core.ValidateDraft(draft))
	assert.Equal(t, "Inflación mensual", draft.Fields["indicador_nombre"])
	assert.Equal(t, content, draft.Fields["contenido"])

	ref, ok := draft.LookupFor("unidad_medida")
	require.True(t, ok)
	assert.Equal(t, "porcentaje", ref.NaturalKey)
	assert.Greater(t, ref.ResolvedID, int64(0))
	assert.Equal(t, 1, extractor.CallCount())
}

func TestMap_TextExtractorErrorIsTransient(t *testing.T) {
	extractor := mock.NewMockFieldExtractor()
	extractor.ExtractFieldsFunc = func(ctx context.Context, rawContent, schemaHint string) (map[string]string, error) {
		return nil, errors.New("model unreachable")
	}
	mapper := newTestMapper(t, extractor)

	doc := &core.ExtractedDocument{
		SourceID:    "bcp-macroeconomia",
		RawContent:  "texto",
		ContentType: core.ContentTypeText,
		TargetTable: "dato_macroeconomico",
	}

	_, err := mapper.Map(context.Background(), doc)
	require.Error(t, err)
	assert.True(t, core.IsTransient(err))
}

// A single model blip must not fail the document: the mapper retries the
// handler in place and the second attempt succeeds.
func TestMap_RetriesTransientExtractorFailure(t *testing.T) {
	content := "El BCP informó que la inflación de enero de 2026 fue 0.4% mensual."
	calls := 0
	extractor := mock.NewMockFieldExtractor()
	extractor.ExtractFieldsFunc = func(ctx context.Context, rawContent, schemaHint string) (map[string]string, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("model unreachable")
		}
		return map[string]string{
			"indicador_nombre": "Inflación mensual",
			"fecha_dato":       "2026-01-31",
			"valor_numerico":   "0.4",
			"unidad_medida":    "porcentaje",
			"frecuencia":       "mensual",
			"fuente_dato":      "BCP",
		}, nil
	}
	mapper := newTestMapper(t, extractor)

	doc := &core.ExtractedDocument{
		SourceID:    "bcp-macroeconomia",
		RawContent:  content,
		ContentType: core.ContentTypeText,
		TargetTable: "dato_macroeconomico",
		Fingerprint: core.FingerprintFromContent([]byte(content)),
	}

	drafts, err := mapper.Map(context.Background(), doc)
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, 2, calls)
}

func TestMap_RetryBudgetIsConfigurable(t *testing.T) {
	calls := 0
	extractor := mock.NewMockFieldExtractor()
	extractor.ExtractFieldsFunc = func(ctx context.Context, rawContent, schemaHint string) (map[string]string, error) {
		calls++
		return nil, errors.New("model unreachable")
	}
	mapper := newTestMapper(t, extractor, WithMaxAttempts(1))

	doc := &core.ExtractedDocument{
		SourceID:    "bcp-macroeconomia",
		RawContent:  "texto",
		ContentType: core.ContentTypeText,
		TargetTable: "dato_macroeconomico",
	}

	_, err := mapper.Map(context.Background(), doc)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

// One bad row in a JSON array costs only that row, not its valid siblings.
func TestMap_InvalidRowDroppedSiblingsSurvive(t *testing.T) {
	mapper := newTestMapper(t, nil)
	content := `[
		{"fecha_operacion": "2026-02-10", "cantidad_operacion": 1000, "precio_operacion": 7350,
		 "instrumento": "Bono AFD 2030", "emisor": "AFD", "moneda": "PYG"},
		{"fecha_operacion": "not-a-date", "cantidad_operacion": 250, "precio_operacion": 98000,
		 "instrumento": "Accion CONTI", "emisor": "Banco Continental", "moneda": "PYG"}
	]`

	drafts, err := mapper.Map(context.Background(), jsonDoc(content))
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, "Bono AFD 2030", drafts[0].Fields["instrumento"])
	assert.NoError(t, core.ValidateDraft(drafts[0]))
}

// When every draft is invalid the document itself fails, and the error
// stays permanent so nothing retries it.
func TestMap_AllRowsInvalidFailsDocument(t *testing.T) {
	mapper := newTestMapper(t, nil)
	content := `[
		{"fecha_operacion": "not-a-date", "cantidad_operacion": 1, "precio_operacion": 2,
		 "instrumento": "Bono", "emisor": "AFD", "moneda": "PYG"},
		{"fecha_operacion": "tampoco", "cantidad_operacion": 3, "precio_operacion": 4,
		 "instrumento": "Accion", "emisor": "CONTI", "moneda": "PYG"}
	]`

	_, err := mapper.Map(context.Background(), jsonDoc(content))
	require.Error(t, err)

	var vErr *core.ValidationError
	assert.ErrorAs(t, err, &vErr)
	assert.False(t, core.IsTransient(err))
}

func TestMap_IncompleteExtractionFailsValidation(t *testing.T) {
	extractor := mock.NewMockFieldExtractor()
	extractor.ExtractFieldsFunc = func(ctx context.Context, rawContent, schemaHint string) (map[string]string, error) {
		return map[string]string{"titulo_noticia": "solo el título"}, nil
	}
	mapper := newTestMapper(t, extractor)

	doc := &core.ExtractedDocument{
		SourceID:    "dnit-invertir",
		RawContent:  "texto breve",
		ContentType: core.ContentTypeText,
		TargetTable: "noticia_relevante",
	}

	_, err := mapper.Map(context.Background(), doc)
	require.Error(t, err)

	var vErr *core.ValidationError
	assert.ErrorAs(t, err, &vErr)
	assert.False(t, core.IsTransient(err))
}

func TestMap_UnknownContentType(t *testing.T) {
	mapper := newTestMapper(t, nil)

	doc := &core.ExtractedDocument{
		SourceID:    "bva-emisores",
		RawContent:  "data",
		ContentType: core.ContentType("ppt"),
		TargetTable: "informe_general",
	}

	_, err := mapper.Map(context.Background(), doc)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrUnknownContentType)
	assert.False(t, core.IsTransient(err))
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "abc", Excerpt("abc", 10))
	assert.Equal(t, "ab", Excerpt("abcdef", 2))
	// Multibyte characters stay intact.
	assert.Equal(t, "año", Excerpt("años", 3))
}
