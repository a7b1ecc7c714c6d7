package anonymizer

import (
	"context"
	"fmt"
	"strconv"
)

// TextFields are the only record fields the engine rewrites.
var TextFields = []string{"description", "concept", "notes"}

// Record is one transaction as produced by a bank extractor. Fields other
// than TextFields are copied through untouched.
type Record map[string]any

// ID returns the record identifier, falling back to its batch position.
func (r Record) ID(index int) string {
	switch v := r["id"].(type) {
	case string:
		if v != "" {
			return v
		}
	case fmt.Stringer:
		return v.String()
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return "#" + strconv.Itoa(index)
}

// RecordError reports a record that could not be anonymized.
type RecordError struct {
	Index int    `json:"index"`
	ID    string `json:"id"`
	Field string `json:"field,omitempty"`
	Err   error  `json:"-"`
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %s: %v", e.ID, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// BatchResult summarizes AnonymizeTransactions.
type BatchResult struct {
	Records        []Record           `json:"records"`
	Processed      int                `json:"processed"`
	Failed         int                `json:"failed"`
	FailedIDs      []string           `json:"failed_ids"`
	Errors         []*RecordError     `json:"errors,omitempty"`
	EntitiesByType map[EntityType]int `json:"entities_by_type"`
	ReviewCount    int                `json:"review_count"`
}

// AnonymizeRecord anonymizes the text fields of one record and returns a
// copy. A present text field that is not a string is ErrMalformedInput; a
// nil field is left as is.
func (e *Engine) AnonymizeRecord(ctx context.Context, rec Record, method ReplaceMethod) (Record, []*Result, error) {
	if rec == nil {
		return nil, nil, fmt.Errorf("%w: nil record", ErrMalformedInput)
	}

	for _, field := range TextFields {
		v, ok := rec[field]
		if !ok || v == nil {
			continue
		}
		if _, isString := v.(string); !isString {
			return nil, nil, &RecordError{Field: field,
				Err: fmt.Errorf("%w: field %q is %T, not a string", ErrMalformedInput, field, v)}
		}
	}

	out := make(Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}

	var results []*Result
	for _, field := range TextFields {
		text, ok := rec[field].(string)
		if !ok {
			continue
		}
		anonymized, result := e.AnonymizeText(ctx, text, method)
		out[field] = anonymized
		results = append(results, result)
	}
	return out, results, nil
}

// AnonymizeTransactions anonymizes a batch. Bad records are reported and
// omitted from Records; the rest are processed. Cancellation is checked
// between records and returns the partial result with ctx.Err().
func (e *Engine) AnonymizeTransactions(ctx context.Context, records []Record, method ReplaceMethod) (*BatchResult, error) {
	batch := &BatchResult{
		Records:        make([]Record, 0, len(records)),
		FailedIDs:      []string{},
		EntitiesByType: make(map[EntityType]int),
	}

	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return batch, err
		}

		out, results, err := e.AnonymizeRecord(ctx, rec, method)
		if err != nil {
			batch.fail(i, rec, err)
			continue
		}
		batch.add(out, results)
	}
	return batch, nil
}

func (b *BatchResult) add(rec Record, results []*Result) {
	b.Records = append(b.Records, rec)
	b.Processed++
	review := false
	for _, r := range results {
		for _, ent := range r.Entities {
			b.EntitiesByType[ent.Type]++
		}
		review = review || r.RequiresReview
	}
	if review {
		b.ReviewCount++
	}
}

func (b *BatchResult) fail(index int, rec Record, err error) {
	id := rec.ID(index)
	recErr, ok := err.(*RecordError)
	if !ok {
		recErr = &RecordError{Err: err}
	}
	recErr.Index = index
	recErr.ID = id

	b.Failed++
	b.FailedIDs = append(b.FailedIDs, id)
	b.Errors = append(b.Errors, recErr)
}
