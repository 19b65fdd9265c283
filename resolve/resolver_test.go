package resolve

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/finpipe/core"
	"github.com/poiesic/finpipe/storage/memory"
)

func TestResolve_SameValueSameID(t *testing.T) {
	lookups := memory.NewLookupStore()
	resolver := NewResolver(lookups)
	ctx := context.Background()

	id1, err := resolver.Resolve(ctx, "emisor", "Banco Continental")
	require.NoError(t, err)
	id2, err := resolver.Resolve(ctx, "emisor", "Banco Continental")
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, lookups.Creates())
}

func TestResolve_NormalizesWhitespace(t *testing.T) {
	lookups := memory.NewLookupStore()
	resolver := NewResolver(lookups)
	ctx := context.Background()

	id1, err := resolver.Resolve(ctx, "moneda", "  PYG ")
	require.NoError(t, err)
	id2, err := resolver.Resolve(ctx, "moneda", "PYG")
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, lookups.Creates())
}

func TestResolve_DistinctValuesDistinctIDs(t *testing.T) {
	lookups := memory.NewLookupStore()
	resolver := NewResolver(lookups)
	ctx := context.Background()

	usd, err := resolver.Resolve(ctx, "moneda", "USD")
	require.NoError(t, err)
	pyg, err := resolver.Resolve(ctx, "moneda", "PYG")
	require.NoError(t, err)

	assert.NotEqual(t, usd, pyg)
}

func TestResolve_EmptyValueIsPermanent(t *testing.T) {
	resolver := NewResolver(memory.NewLookupStore())

	_, err := resolver.Resolve(context.Background(), "emisor", "   ")
	require.Error(t, err)

	var vErr *core.ValidationError
	assert.ErrorAs(t, err, &vErr)
	assert.False(t, core.IsTransient(err))
}

func TestResolve_ConcurrentSameValue(t *testing.T) {
	lookups := memory.NewLookupStore()
	resolver := NewResolver(lookups)
	ctx := context.Background()

	const workers = 16
	ids := make([]int64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			id, err := resolver.Resolve(ctx, "emisor", "BVA")
			assert.NoError(t, err)
			ids[slot] = id
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, 1, lookups.Creates())
}

func TestResolve_RetriesTransientFailures(t *testing.T) {
	lookups := memory.NewLookupStore()
	attempts := 0
	lookups.GetOrCreateFunc = func(ctx context.Context, dimension, naturalKey string) (int64, error) {
		attempts++
		if attempts < 3 {
			return 0, errors.New("connection refused")
		}
		return 42, nil
	}
	resolver := NewResolver(lookups, WithBaseDelay(time.Millisecond))

	id, err := resolver.Resolve(context.Background(), "emisor", "BCP")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.Equal(t, 3, attempts)
}

func TestResolve_ExhaustionReturnsResolutionError(t *testing.T) {
	lookups := memory.NewLookupStore()
	lookups.GetOrCreateFunc = func(ctx context.Context, dimension, naturalKey string) (int64, error) {
		return 0, errors.New("connection refused")
	}
	resolver := NewResolver(lookups, WithMaxAttempts(2), WithBaseDelay(time.Millisecond))

	_, err := resolver.Resolve(context.Background(), "emisor", "BCP")
	require.Error(t, err)

	var rErr *core.ResolutionError
	require.ErrorAs(t, err, &rErr)
	assert.Equal(t, "emisor", rErr.Dimension)
	assert.True(t, core.IsTransient(err))
}

func TestResolveDraft_FillsRequiredRefs(t *testing.T) {
	lookups := memory.NewLookupStore()
	resolver := NewResolver(lookups)
	ctx := context.Background()

	draft := &core.RecordDraft{
		TargetTable: "movimiento_diario_bolsa",
		Fingerprint: "cafebabe",
		Fields: map[string]any{
			"fecha_operacion":    "2026-02-10",
			"cantidad_operacion": 1000.0,
			"precio_operacion":   7350.0,
			"id_instrumento":     "Bono AFD 2030",
			"id_emisor":          "AFD",
			"id_moneda":          "PYG",
		},
	}

	require.NoError(t, resolver.ResolveDraft(ctx, draft))
	require.Len(t, draft.Lookups, 3)
	for _, ref := range draft.Lookups {
		assert.Greater(t, ref.ResolvedID, int64(0), "dimension %s", ref.Dimension)
	}
	require.NoError(t, core.ValidateDraft(draft))
}

func TestResolveDraft_Idempotent(t *testing.T) {
	lookups := memory.NewLookupStore()
	resolver := NewResolver(lookups)
	ctx := context.Background()

	draft := &core.RecordDraft{
		TargetTable: "noticia_relevante",
		Fingerprint: "cafebabe",
		Fields: map[string]any{
			"titulo_noticia":    "BVA anuncia nueva emisión",
			"fecha_publicacion": "2026-01-15",
			"fuente_noticia":    "BVA",
			"categoria":         "mercado",
		},
	}

	require.NoError(t, resolver.ResolveDraft(ctx, draft))
	before := len(draft.Lookups)
	require.NoError(t, resolver.ResolveDraft(ctx, draft))
	assert.Equal(t, before, len(draft.Lookups))
}

func TestResolveDraft_MissingNaturalKey(t *testing.T) {
	resolver := NewResolver(memory.NewLookupStore())

	draft := &core.RecordDraft{
		TargetTable: "resumen_informe_financiero",
		Fingerprint: "cafebabe",
		Fields: map[string]any{
			"fecha_corte_informe": "2025-12-31",
			"activos_totales":     1.0,
			"pasivos_totales":     1.0,
			"patrimonio_neto":     1.0,
			// id_moneda absent
		},
	}

	err := resolver.ResolveDraft(context.Background(), draft)
	require.Error(t, err)

	var vErr *core.ValidationError
	assert.ErrorAs(t, err, &vErr)
}
