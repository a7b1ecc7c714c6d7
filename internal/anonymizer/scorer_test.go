package anonymizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookup(t *testing.T, typ EntityType) PatternDefinition {
	t.Helper()
	def, ok := MustCatalog(DefaultSpecs()).Lookup(typ)
	require.True(t, ok, "missing definition for %s", typ)
	return def
}

func scoreFirst(t *testing.T, text string, typ EntityType) float64 {
	t.Helper()
	def := lookup(t, typ)
	loc := def.Regex.FindStringIndex(text)
	require.NotNil(t, loc, "no %s match in %q", typ, text)
	return Score(text, def, loc[0], loc[1])
}

func TestScore(t *testing.T) {
	tests := []struct {
		name string
		text string
		typ  EntityType
		want float64
	}{
		{"near keyword and valid checksum clamps to one", "DNI 12345678Z", EntityDNI, 1.0},
		{"failed checksum without context", "pago 12345678A", EntityDNI, 0.6},
		{"failed checksum near keyword", "dni 12345678A", EntityDNI, 0.8},
		{"far keyword", "cif" + strings.Repeat(" ", 27) + "B12345678", EntityCIF, 0.95},
		{"keyword out of range", "cif" + strings.Repeat(" ", 60) + "B12345678", EntityCIF, 0.85},
		{"bonuses do not stack", "comercio tpv ABC123456", EntityMerchantCode, 0.9},
		{"later keyword qualifies when earlier is absent", "whatsapp 655123456", EntityPhone, 1.0},
		{"keyword matching is case-insensitive", "TARJETA 4532015112830366", EntityCreditCard, 1.0},
		{"no validator no context", "pedido ABC123456", EntityMerchantCode, 0.7},
		{"space grouped iban", "cuenta ES91 2100 0418 4502 0005 1332", EntityIBAN, 1.0},
		{"dash grouped iban passes checksum", "cuenta ES91-2100-0418-4502-0005-1332", EntityIBAN, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, scoreFirst(t, tt.text, tt.typ), 1e-9)
		})
	}
}

func TestScoreNearestKeywordOccurrence(t *testing.T) {
	// The first "cif" is out of range; the second is adjacent to the match.
	text := "cif" + strings.Repeat(" ", 80) + "cif B12345678"
	assert.InDelta(t, 1.0, scoreFirst(t, text, EntityCIF), 1e-9)
}

func TestResolveOverlaps(t *testing.T) {
	ent := func(start, end int, conf float64) Entity {
		return Entity{Type: EntityMerchantCode, Start: start, End: end, Confidence: conf}
	}

	t.Run("higher confidence replaces", func(t *testing.T) {
		got := ResolveOverlaps([]Entity{ent(0, 10, 0.8), ent(5, 15, 0.9)})
		assert.Equal(t, []Entity{ent(5, 15, 0.9)}, got)
	})

	t.Run("tie keeps earliest start", func(t *testing.T) {
		got := ResolveOverlaps([]Entity{ent(5, 15, 0.8), ent(0, 10, 0.8)})
		assert.Equal(t, []Entity{ent(0, 10, 0.8)}, got)
	})

	t.Run("disjoint spans are kept in start order", func(t *testing.T) {
		got := ResolveOverlaps([]Entity{ent(20, 25, 0.5), ent(0, 10, 0.4), ent(10, 20, 0.3)})
		assert.Equal(t, []Entity{ent(0, 10, 0.4), ent(10, 20, 0.3), ent(20, 25, 0.5)}, got)
	})

	t.Run("candidate spanning two accepted entities", func(t *testing.T) {
		got := ResolveOverlaps([]Entity{ent(0, 5, 0.5), ent(6, 10, 0.5), ent(3, 8, 0.9)})
		assert.Equal(t, []Entity{ent(3, 8, 0.9)}, got)
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Empty(t, ResolveOverlaps(nil))
	})

	t.Run("result never overlaps", func(t *testing.T) {
		var in []Entity
		for i := 0; i < 60; i++ {
			start := (i * 7) % 50
			in = append(in, ent(start, start+3+i%9, float64(i%10)/10))
		}
		got := ResolveOverlaps(in)
		for i := range got {
			for j := i + 1; j < len(got); j++ {
				assert.False(t, got[i].Overlaps(got[j]), "%v overlaps %v", got[i], got[j])
			}
		}
	})
}
