package anonymizer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func sampleRecords() []Record {
	return []Record{
		{"id": "t1", "date": "2025-01-22", "description": "Transferencia DNI 12345678Z", "amount": -45.5, "category": "transferencias"},
		{"id": "t2", "date": "2025-01-23", "concept": "Bizum", "notes": "movil 655123456", "amount": 100.25, "category": "ingresos"},
		{"id": "t3", "date": "2025-01-24", "description": "Compra supermercado", "amount": -23.1, "category": "alimentacion"},
	}
}

func sumAmounts(records []Record) float64 {
	var total float64
	for _, r := range records {
		total += r["amount"].(float64)
	}
	return total
}

func categories(records []Record) map[string]bool {
	out := make(map[string]bool)
	for _, r := range records {
		out[r["category"].(string)] = true
	}
	return out
}

func TestAnonymizeTransactionsPreservesFinancials(t *testing.T) {
	engine := NewEngine(NewStaticDetector(MustCatalog(DefaultSpecs())), zap.NewNop())
	original := sampleRecords()

	batch, err := engine.AnonymizeTransactions(context.Background(), original, ReplaceMask)

	require.NoError(t, err)
	require.Len(t, batch.Records, len(original))
	assert.Equal(t, sumAmounts(original), sumAmounts(batch.Records))
	assert.Equal(t, categories(original), categories(batch.Records))
	assert.Equal(t, 3, batch.Processed)
	assert.Zero(t, batch.Failed)

	assert.Equal(t, "Transferencia DNI ********X", batch.Records[0]["description"])
	assert.Equal(t, "Bizum", batch.Records[1]["concept"])
	assert.Equal(t, "movil *** ** ** **", batch.Records[1]["notes"])
	assert.Equal(t, "2025-01-24", batch.Records[2]["date"])

	// input records are not modified
	assert.Equal(t, "Transferencia DNI 12345678Z", original[0]["description"])
	assert.Equal(t, 1, batch.EntitiesByType[EntityDNI])
	assert.Equal(t, 1, batch.EntitiesByType[EntityPhone])
}

func TestAnonymizeTransactionsPartialFailure(t *testing.T) {
	engine := NewEngine(NewStaticDetector(MustCatalog(DefaultSpecs())), zap.NewNop())
	records := sampleRecords()
	records = append(records[:1], append([]Record{
		{"id": "bad", "description": 42, "amount": 10.0, "category": "otros"},
	}, records[1:]...)...)

	batch, err := engine.AnonymizeTransactions(context.Background(), records, ReplaceMask)

	require.NoError(t, err)
	assert.Equal(t, 3, batch.Processed)
	assert.Equal(t, 1, batch.Failed)
	assert.Equal(t, []string{"bad"}, batch.FailedIDs)
	require.Len(t, batch.Errors, 1)
	assert.Equal(t, 1, batch.Errors[0].Index)
	assert.Equal(t, "description", batch.Errors[0].Field)
	assert.True(t, errors.Is(batch.Errors[0], ErrMalformedInput))
	require.Len(t, batch.Records, 3)
	for _, r := range batch.Records {
		assert.NotEqual(t, "bad", r["id"])
	}
}

func TestAnonymizeTransactionsRecordWithoutID(t *testing.T) {
	engine := NewEngine(NewStaticDetector(MustCatalog(DefaultSpecs())), zap.NewNop())

	batch, err := engine.AnonymizeTransactions(context.Background(), []Record{
		{"description": "ok"},
		{"notes": []string{"not", "text"}},
		nil,
	}, ReplaceTag)

	require.NoError(t, err)
	assert.Equal(t, []string{"#1", "#2"}, batch.FailedIDs)
	assert.Equal(t, 1, batch.Processed)
}

func TestAnonymizeTransactionsCancelled(t *testing.T) {
	engine := NewEngine(NewStaticDetector(MustCatalog(DefaultSpecs())), zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	batch, err := engine.AnonymizeTransactions(ctx, sampleRecords(), ReplaceMask)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, batch.Processed)
}
