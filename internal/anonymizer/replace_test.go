package anonymizer

import (
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMask(t *testing.T) {
	engine := NewEngine(NewStaticDetector(MustCatalog(DefaultSpecs())), zap.NewNop())

	tests := []struct {
		name string
		text string
		want string
	}{
		{"dni keeps length", "DNI 12345678Z", "DNI ********X"},
		{"card keeps last four", "Pago con tarjeta 4532 0151 1283 0366", "Pago con tarjeta ****-****-****-0366"},
		{"phone with country code", "Llamar al +34 655 12 34 56", "Llamar al +34 *** ** ** **"},
		{"phone without country code", "movil 655123456", "movil *** ** ** **"},
		{"grouped iban", "cuenta ES91 2100 0418 4502 0005 1332", "cuenta ES91...1332"},
		{"other types use a tag", "CIF B12345678", "CIF <CIF>"},
		{"nothing to mask", "Compra semanal", "Compra semanal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := engine.AnonymizeText(context.Background(), tt.text, ReplaceMask)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMaskDNILength(t *testing.T) {
	got := Replacement(Entity{Type: EntityDNI, Text: "12345678Z"}, ReplaceMask)
	assert.Len(t, got, 9)
}

func TestReplaceAndHash(t *testing.T) {
	e := Entity{Type: EntityDNI, Text: "12345678Z"}

	assert.Equal(t, "<DNI>", Replacement(e, ReplaceTag))

	first := Replacement(e, ReplaceHash)
	assert.Regexp(t, regexp.MustCompile(`^<DNI_[0-9a-f]{8}>$`), first)
	assert.Equal(t, first, Replacement(e, ReplaceHash))
	assert.NotEqual(t, first, Replacement(Entity{Type: EntityDNI, Text: "00000000T"}, ReplaceHash))
	assert.NotContains(t, first, "12345678")
}

func TestApplyBackToFront(t *testing.T) {
	text := "a 12345678Z b 00000000T c"
	entities := []Entity{
		{Type: EntityDNI, Text: "12345678Z", Start: 2, End: 11},
		{Type: EntityDNI, Text: "00000000T", Start: 14, End: 23},
	}
	assert.Equal(t, "a <DNI> b <DNI> c", Apply(text, entities, ReplaceTag))
}

func TestParseReplaceMethod(t *testing.T) {
	m, err := ParseReplaceMethod("")
	require.NoError(t, err)
	assert.Equal(t, ReplaceMask, m)

	m, err = ParseReplaceMethod("HASH")
	require.NoError(t, err)
	assert.Equal(t, ReplaceHash, m)

	_, err = ParseReplaceMethod("encrypt")
	assert.Error(t, err)
}
