package etl

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/segmentio/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/raaihank/txn-sentinel/internal/anonymizer"
)

func newPipeline(workers int) *Pipeline {
	engine := anonymizer.NewEngine(
		anonymizer.NewStaticDetector(anonymizer.MustCatalog(anonymizer.DefaultSpecs())),
		zap.NewNop(),
	)
	return NewPipeline(engine, &Config{WorkerCount: workers, QueueSize: 2, ProgressReport: 2}, zap.NewNop())
}

func TestDetectFileFormat(t *testing.T) {
	tests := map[string]FileFormat{
		"tx.csv":           FormatCSV,
		"tx.CSV":           FormatCSV,
		"tx.parquet":       FormatParquet,
		"tx.json":          FormatJSON,
		"tx.jsonl":         FormatJSON,
		"export/tx.ndjson": FormatJSON,
		"tx":               FormatCSV,
	}
	for name, want := range tests {
		assert.Equal(t, want, DetectFileFormat(name), name)
	}
}

func TestProcessCSV(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "tx.csv")
	out := filepath.Join(dir, "tx.anon.csv")

	input := "id,date,description,amount,category\n" +
		"t1,2025-01-22,Transferencia DNI 12345678Z,-45.50,transferencias\n" +
		"t2,2025-01-23,Compra supermercado,-23.10,alimentacion\n" +
		"t3,2025-01-24,fila rota\n" +
		"t4,2025-01-25,Bizum movil 655123456,100.25,ingresos\n"
	require.NoError(t, os.WriteFile(in, []byte(input), 0o600))

	var (
		mu     sync.Mutex
		events []ProcessingStats
	)
	p := newPipeline(3)
	p.OnProgress(func(s ProcessingStats) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, s)
	})

	result, err := p.ProcessFile(context.Background(), in, out, anonymizer.ReplaceMask)
	require.NoError(t, err)

	assert.Equal(t, int64(4), result.TotalRecords)
	assert.Equal(t, int64(3), result.Processed)
	assert.Equal(t, int64(1), result.Failed)
	assert.Equal(t, []string{"t3"}, result.FailedIDs)
	assert.Equal(t, 1, result.EntitiesByType[anonymizer.EntityDNI])
	assert.Equal(t, 1, result.EntitiesByType[anonymizer.EntityPhone])
	assert.NotEmpty(t, result.RunID)
	mu.Lock()
	assert.NotEmpty(t, events)
	mu.Unlock()

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, rows, 4)
	assert.Equal(t, []string{"id", "date", "description", "amount", "category"}, rows[0])
	assert.Equal(t, []string{"t1", "2025-01-22", "Transferencia DNI ********X", "-45.50", "transferencias"}, rows[1])
	assert.Equal(t, []string{"t2", "2025-01-23", "Compra supermercado", "-23.10", "alimentacion"}, rows[2])
	assert.Equal(t, []string{"t4", "2025-01-25", "Bizum movil *** ** ** **", "100.25", "ingresos"}, rows[3])
}

func TestProcessJSONPreservesNumbers(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "tx.json")
	out := filepath.Join(dir, "tx.anon.json")

	input := `[
	  {"id": 1, "description": "Pago IBAN ES9121000418450200051332", "amount": -1250.10, "category": "vivienda"},
	  {"id": 2, "description": 7, "amount": 3.00},
	  {"id": 3, "concept": "Nómina", "notes": null, "amount": 2100.00, "category": "ingresos"}
	]`
	require.NoError(t, os.WriteFile(in, []byte(input), 0o600))

	result, err := newPipeline(2).ProcessFile(context.Background(), in, out, anonymizer.ReplaceTag)
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Processed)
	assert.Equal(t, []string{"2"}, result.FailedIDs)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "description")

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"amount": -1250.10`)
	assert.Contains(t, string(raw), `"amount": 2100.00`)
	assert.Contains(t, string(raw), `"description": "Pago IBAN <IBAN>"`)
	assert.Contains(t, string(raw), `"notes": null`)

	var records []map[string]any
	require.NoError(t, json.Unmarshal(raw, &records))
	assert.Len(t, records, 2)
}

func TestProcessJSONLines(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "tx.jsonl")
	out := filepath.Join(dir, "tx.anon.jsonl")

	input := `{"id":"a","description":"DNI 12345678Z","amount":1.5}
"not an object"
{"id":"b","description":"sin datos","amount":2}
`
	require.NoError(t, os.WriteFile(in, []byte(input), 0o600))

	result, err := newPipeline(1).ProcessFile(context.Background(), in, out, anonymizer.ReplaceMask)
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.TotalRecords)
	assert.Equal(t, int64(2), result.Processed)
	assert.Equal(t, int64(1), result.Failed)

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"description":"DNI ********X"`)
	assert.Contains(t, lines[1], `"amount":2`)
}

func TestProcessReportsSourceRowPositions(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "tx.json")
	out := filepath.Join(dir, "tx.anon.json")

	input := `["roto", {"description": 42}, {"id": "ok", "description": "hola"}]`
	require.NoError(t, os.WriteFile(in, []byte(input), 0o600))

	result, err := newPipeline(1).ProcessFile(context.Background(), in, out, anonymizer.ReplaceMask)
	require.NoError(t, err)

	assert.Equal(t, int64(3), result.TotalRecords)
	assert.Equal(t, int64(1), result.Processed)
	assert.Equal(t, int64(2), result.Failed)
	assert.ElementsMatch(t, []string{"#0", "#1"}, result.FailedIDs)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, strings.Join(result.Errors, "\n"), "record #1: ")
}

func TestProcessParquet(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "tx.parquet")
	out := filepath.Join(dir, "tx.anon.parquet")

	rows := []TransactionRow{
		{ID: "p1", Date: "2025-01-22", Description: "Recibo CIF B12345678", Amount: -60.5, Currency: "EUR", Category: "suministros"},
		{ID: "p2", Date: "2025-01-23", Concept: "Transferencia", Notes: "DNI 12345678Z", Amount: 800, Currency: "EUR", Category: "ingresos"},
	}
	writeParquetFile(t, in, rows)

	result, err := newPipeline(2).ProcessFile(context.Background(), in, out, anonymizer.ReplaceMask)
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Processed)

	got := readParquetFile(t, out)
	require.Len(t, got, 2)
	assert.Equal(t, "Recibo CIF <CIF>", got[0].Description)
	assert.Equal(t, "DNI ********X", got[1].Notes)
	assert.Equal(t, "Transferencia", got[1].Concept)
	for i := range rows {
		assert.Equal(t, rows[i].Amount, got[i].Amount)
		assert.Equal(t, rows[i].Category, got[i].Category)
		assert.Equal(t, rows[i].Date, got[i].Date)
		assert.Equal(t, rows[i].ID, got[i].ID)
	}
}

func TestProcessRecordsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	records := []anonymizer.Record{{"id": "x", "description": "DNI 12345678Z"}}
	out, result, err := newPipeline(2).ProcessRecords(ctx, records, anonymizer.ReplaceMask)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, result.Cancelled)
	assert.Empty(t, out)
}

func TestProcessRecordsKeepsOrder(t *testing.T) {
	var records []anonymizer.Record
	for i := 0; i < 50; i++ {
		records = append(records, anonymizer.Record{"id": i, "description": "DNI 12345678Z", "amount": float64(i)})
	}

	out, result, err := newPipeline(8).ProcessRecords(context.Background(), records, anonymizer.ReplaceMask)
	require.NoError(t, err)
	require.Len(t, out, 50)
	assert.Equal(t, int64(50), result.Processed)
	for i, rec := range out {
		assert.Equal(t, float64(i), rec["amount"])
		assert.Equal(t, "DNI ********X", rec["description"])
	}
}

func TestProcessFileMissingInput(t *testing.T) {
	_, err := newPipeline(1).ProcessFile(context.Background(), filepath.Join(t.TempDir(), "nope.csv"), "out.csv", anonymizer.ReplaceMask)
	assert.Error(t, err)
}

func writeParquetFile(t *testing.T, path string, rows []TransactionRow) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	w := parquet.NewWriter(f, parquet.SchemaOf(new(TransactionRow)))
	for i := range rows {
		require.NoError(t, w.Write(&rows[i]))
	}
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
}

func readParquetFile(t *testing.T, path string) []TransactionRow {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	r := parquet.NewReader(f)
	defer r.Close()
	var out []TransactionRow
	for {
		var row TransactionRow
		err := r.Read(&row)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		out = append(out, row)
	}
	return out
}
