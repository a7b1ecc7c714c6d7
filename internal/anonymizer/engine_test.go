package anonymizer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const scenarioText = "Transferencia de Juan Pérez DNI 12345678Z desde ES9121000418450200051332 a María García móvil 655123456 ref REF20250122ABC comercio ABC123456 CIF B12345678"

type fakeRecognizer struct {
	mu        sync.Mutex
	calls     int
	languages []string
	results   []RecognizerResult
	failFor   map[string]error
}

func (f *fakeRecognizer) Analyze(_ context.Context, _ string, language string) ([]RecognizerResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.languages = append(f.languages, language)
	if err, ok := f.failFor[language]; ok {
		return nil, err
	}
	return f.results, nil
}

type fakeAdjudicator struct {
	mu       sync.Mutex
	calls    int
	errs     []error
	decide   func(Entity) bool
	received [][]Entity
}

func (f *fakeAdjudicator) Validate(_ context.Context, _ string, candidates []Entity) ([]Verdict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.received = append(f.received, candidates)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	verdicts := make([]Verdict, 0, len(candidates))
	for _, c := range candidates {
		verdicts = append(verdicts, Verdict{Entity: c, Confirmed: f.decide(c)})
	}
	return verdicts, nil
}

type fakeRecorder struct {
	mu        sync.Mutex
	records   []ProcessingRecord
	uncertain []UncertainCase
}

func (f *fakeRecorder) Record(r ProcessingRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, r)
}

func (f *fakeRecorder) RecordUncertain(u UncertainCase) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uncertain = append(f.uncertain, u)
}

func policyCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := NewCatalog([]PatternSpec{{
		Type:           "POLICY",
		Regex:          `\bPOL\d{6}\b`,
		BaseConfidence: 0.3,
	}})
	require.NoError(t, err)
	return c
}

func newTestEngine(catalog *Catalog, opts ...Option) *Engine {
	return NewEngine(NewStaticDetector(catalog), zap.NewNop(), opts...)
}

func TestEngineScenario(t *testing.T) {
	engine := newTestEngine(MustCatalog(DefaultSpecs()))

	result := engine.Process(context.Background(), scenarioText)

	types := make(map[EntityType]bool)
	for _, e := range result.Entities {
		types[e.Type] = true
		assert.Equal(t, scenarioText[e.Start:e.End], e.Text)
	}
	assert.GreaterOrEqual(t, len(result.Entities), 5)
	for _, want := range []EntityType{EntityDNI, EntityIBAN, EntityPhone, EntityTransferRef, EntityMerchantCode, EntityCIF} {
		assert.True(t, types[want], "expected %s", want)
	}
	for i := range result.Entities {
		for j := i + 1; j < len(result.Entities); j++ {
			assert.False(t, result.Entities[i].Overlaps(result.Entities[j]))
		}
	}
	assert.InDelta(t, 5.45/6, result.Confidence, 1e-9)
	assert.Equal(t, MethodStatic, result.MethodUsed)
	assert.False(t, result.RequiresReview)

	masked, _ := engine.AnonymizeText(context.Background(), scenarioText, ReplaceMask)
	for _, leaked := range []string{"12345678Z", "ES9121000418450200051332", "655123456"} {
		assert.NotContains(t, masked, leaked)
	}
	assert.Equal(t,
		"Transferencia de Juan Pérez DNI ********X desde ES91...1332 a María García móvil *** ** ** ** <TRANSFER_REF> comercio <MERCHANT_CODE> CIF <CIF>",
		masked)
}

func TestEngineDeterministic(t *testing.T) {
	engine := newTestEngine(MustCatalog(DefaultSpecs()))

	first := engine.Process(context.Background(), scenarioText)
	for i := 0; i < 5; i++ {
		again := engine.Process(context.Background(), scenarioText)
		assert.Equal(t, first.Entities, again.Entities)
		assert.Equal(t, first.Confidence, again.Confidence)
	}
}

func TestEngineShortCircuit(t *testing.T) {
	recognizer := &fakeRecognizer{}
	adjudicator := &fakeAdjudicator{decide: func(Entity) bool { return true }}
	engine := newTestEngine(MustCatalog(DefaultSpecs()),
		WithStatistical(NewStatisticalDetector(recognizer, "es", zap.NewNop())),
		WithLLM(NewLLMTier(adjudicator, 0, zap.NewNop())),
	)

	result := engine.Process(context.Background(), scenarioText)

	assert.GreaterOrEqual(t, result.Confidence, 0.85)
	assert.Equal(t, 0, recognizer.calls)
	assert.Equal(t, 0, adjudicator.calls)
	assert.Equal(t, []Stage{StageStaticOnly, StageFinalized}, result.Stages)
}

func TestEngineStatisticalMerge(t *testing.T) {
	text := "Bizum de Juan Pérez por ABC123456"
	name := "Juan Pérez"
	start := strings.Index(text, name)

	recognizer := &fakeRecognizer{results: []RecognizerResult{
		{EntityType: "PERSON", Start: start, End: start + len(name), Score: 0.85},
		{EntityType: "PERSON", Start: 10, End: 500, Score: 0.9},
	}}
	adjudicator := &fakeAdjudicator{decide: func(Entity) bool { return true }}
	engine := newTestEngine(MustCatalog(DefaultSpecs()),
		WithStatistical(NewStatisticalDetector(recognizer, "es", zap.NewNop())),
		WithLLM(NewLLMTier(adjudicator, 0, zap.NewNop())),
	)

	result := engine.Process(context.Background(), text)

	require.Len(t, result.Entities, 2)
	assert.Equal(t, EntityType("PERSON"), result.Entities[0].Type)
	assert.Equal(t, name, result.Entities[0].Text)
	assert.Equal(t, MethodStatistical, result.Entities[0].Method)
	assert.Equal(t, EntityMerchantCode, result.Entities[1].Type)
	assert.InDelta(t, (0.85+0.7)/2, result.Confidence, 1e-9)
	assert.Equal(t, MethodStatistical, result.MethodUsed)
	assert.Equal(t, 1, recognizer.calls)
	assert.Equal(t, 0, adjudicator.calls)
}

func TestStatisticalLanguageFallback(t *testing.T) {
	recognizer := &fakeRecognizer{
		failFor: map[string]error{"ca": errors.New("unsupported language")},
		results: []RecognizerResult{{EntityType: "LOCATION", Start: 0, End: 6, Score: 0.7}},
	}
	detector := NewStatisticalDetector(recognizer, "es", zap.NewNop())

	entities, conf, err := detector.Detect(context.Background(), "Madrid centro", "ca")

	require.NoError(t, err)
	assert.Equal(t, []string{"ca", "es"}, recognizer.languages)
	require.Len(t, entities, 1)
	assert.Equal(t, "Madrid", entities[0].Text)
	assert.InDelta(t, 0.7, conf, 1e-9)
}

func TestEngineStatisticalUnavailable(t *testing.T) {
	recognizer := &fakeRecognizer{failFor: map[string]error{"es": errors.New("connection refused")}}
	engine := newTestEngine(MustCatalog(DefaultSpecs()),
		WithStatistical(NewStatisticalDetector(recognizer, "es", zap.NewNop())),
	)

	result := engine.Process(context.Background(), "pedido ABC123456")

	require.Len(t, result.Entities, 1)
	assert.Equal(t, MethodStatic, result.MethodUsed)
	assert.InDelta(t, 0.7, result.Confidence, 1e-9)
}

func TestEngineAdjudication(t *testing.T) {
	text := "Seguro POL123456 y POL654321"
	recorder := &fakeRecorder{}
	adjudicator := &fakeAdjudicator{decide: func(e Entity) bool { return e.Text == "POL123456" }}
	engine := newTestEngine(policyCatalog(t),
		WithLLM(NewLLMTier(adjudicator, 0, zap.NewNop())),
		WithRecorder(recorder),
	)

	result := engine.Process(context.Background(), text)

	require.Len(t, result.Entities, 1)
	assert.Equal(t, "POL123456", result.Entities[0].Text)
	assert.Equal(t, MethodLLMValidated, result.Entities[0].Method)
	assert.InDelta(t, 0.6, result.Entities[0].Confidence, 1e-9)
	assert.Equal(t, MethodLLMValidated, result.MethodUsed)
	assert.False(t, result.RequiresReview)
	assert.Equal(t, 1, adjudicator.calls)
	require.Len(t, adjudicator.received, 1)
	assert.Len(t, adjudicator.received[0], 2)
	assert.Len(t, recorder.records, 1)
	assert.Empty(t, recorder.uncertain)
}

func TestEngineAdjudicationOnlySendsUncertain(t *testing.T) {
	catalog, err := NewCatalog([]PatternSpec{
		{Type: "POLICY", Regex: `\bPOL\d{6}\b`, BaseConfidence: 0.1},
		{Type: "CLAIM", Regex: `\bCLM\d{6}\b`, BaseConfidence: 0.6},
	})
	require.NoError(t, err)
	adjudicator := &fakeAdjudicator{decide: func(Entity) bool { return true }}
	engine := newTestEngine(catalog, WithLLM(NewLLMTier(adjudicator, 0, zap.NewNop())))

	result := engine.Process(context.Background(), "POL123456 POL654321 CLM111111")

	require.Len(t, adjudicator.received, 1)
	for _, e := range adjudicator.received[0] {
		assert.Equal(t, EntityType("POLICY"), e.Type)
	}
	assert.Len(t, result.Entities, 3)
}

func TestEngineAdjudicatorRetry(t *testing.T) {
	t.Run("transient failure is retried once", func(t *testing.T) {
		adjudicator := &fakeAdjudicator{
			errs:   []error{ErrTransient},
			decide: func(Entity) bool { return true },
		}
		engine := newTestEngine(policyCatalog(t), WithLLM(NewLLMTier(adjudicator, 0, zap.NewNop())))

		result := engine.Process(context.Background(), "Seguro POL123456")

		assert.Equal(t, 2, adjudicator.calls)
		require.Len(t, result.Entities, 1)
		assert.InDelta(t, 0.6, result.Confidence, 1e-9)
	})

	t.Run("unavailable keeps existing confidence", func(t *testing.T) {
		recorder := &fakeRecorder{}
		adjudicator := &fakeAdjudicator{
			errs:   []error{ErrCollaboratorUnavailable},
			decide: func(Entity) bool { return true },
		}
		engine := newTestEngine(policyCatalog(t),
			WithLLM(NewLLMTier(adjudicator, 0, zap.NewNop())),
			WithRecorder(recorder),
		)

		result := engine.Process(context.Background(), "Seguro POL123456")

		assert.Equal(t, 1, adjudicator.calls)
		require.Len(t, result.Entities, 1)
		assert.Equal(t, MethodStatic, result.Entities[0].Method)
		assert.Equal(t, MethodStatic, result.MethodUsed)
		assert.Contains(t, result.Stages, StageLLMAdjudication)
		assert.InDelta(t, 0.3, result.Confidence, 1e-9)
		assert.True(t, result.RequiresReview)
		require.Len(t, recorder.uncertain, 1)
		assert.Equal(t, "Seguro POL123456", recorder.uncertain[0].Prefix)
	})
}

func TestEngineUncertainPrefixTruncated(t *testing.T) {
	recorder := &fakeRecorder{}
	engine := newTestEngine(policyCatalog(t), WithRecorder(recorder))
	text := "POL123456 " + strings.Repeat("ñ", 200)

	engine.Process(context.Background(), text)

	require.Len(t, recorder.uncertain, 1)
	assert.Equal(t, 100, len([]rune(recorder.uncertain[0].Prefix)))
	assert.Equal(t, []EntityType{"POLICY"}, recorder.uncertain[0].EntityTypes)
}

func TestEngineNoEntities(t *testing.T) {
	recorder := &fakeRecorder{}
	engine := newTestEngine(MustCatalog(DefaultSpecs()), WithRecorder(recorder))

	result := engine.Process(context.Background(), "Compra en supermercado")

	assert.Empty(t, result.Entities)
	assert.Zero(t, result.Confidence)
	assert.Equal(t, MethodStatic, result.MethodUsed)
	assert.True(t, result.RequiresReview)
	assert.Len(t, recorder.records, 1)
	require.Len(t, recorder.uncertain, 1)
	assert.Equal(t, "Compra en supermercado", recorder.uncertain[0].Prefix)
	assert.Empty(t, recorder.uncertain[0].EntityTypes)
	assert.Zero(t, recorder.uncertain[0].Confidence)
}

func TestEngineSetThresholds(t *testing.T) {
	recognizer := &fakeRecognizer{}
	engine := newTestEngine(MustCatalog(DefaultSpecs()),
		WithStatistical(NewStatisticalDetector(recognizer, "es", zap.NewNop())),
	)

	engine.SetThresholds(Thresholds{Confidence: 0.6, LLM: 0.5, Review: 0.5})
	engine.Process(context.Background(), "pedido ABC123456")
	assert.Equal(t, 0, recognizer.calls)

	engine.SetThresholds(DefaultThresholds())
	engine.Process(context.Background(), "pedido ABC123456")
	assert.Equal(t, 1, recognizer.calls)
}

func TestLearnedTemplates(t *testing.T) {
	catalog, errs := MustCatalog(DefaultSpecs()).WithLearned(map[string][]string{
		"ACCOUNT_ALIAS": {`[A-Z][A-Z]-\d\d\d\d`, `([`},
	}, 0.6)
	require.Len(t, errs, 1)
	assert.True(t, errors.Is(errs[0], ErrPattern))
	assert.Equal(t, 1, catalog.LearnedCount())

	entities, conf := NewStaticDetector(catalog).Detect("alias AB-1234 ok")

	require.Len(t, entities, 1)
	assert.Equal(t, EntityType("ACCOUNT_ALIAS"), entities[0].Type)
	assert.Equal(t, "AB-1234", entities[0].Text)
	assert.InDelta(t, 0.6, conf, 1e-9)
}
