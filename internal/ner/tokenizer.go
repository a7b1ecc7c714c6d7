package ner

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strings"
	"unicode"

	"github.com/raaihank/txn-sentinel/internal/anonymizer"
)

const (
	clsToken = "[CLS]"
	sepToken = "[SEP]"
	padToken = "[PAD]"
	unkToken = "[UNK]"
)

// token is one word of the input with its byte span.
type token struct {
	ID    int64
	Start int
	End   int
}

// Tokenizer is a word-level tokenizer for token-classification models.
type Tokenizer struct {
	vocab     map[string]int64
	maxLength int
}

// NewTokenizer builds a tokenizer from vocab, one token per line with the
// line number as id.
func NewTokenizer(vocab []string, maxLength int) *Tokenizer {
	if maxLength <= 2 {
		maxLength = 128
	}
	v := make(map[string]int64, len(vocab))
	for i, w := range vocab {
		if _, exists := v[w]; !exists {
			v[w] = int64(i)
		}
	}
	return &Tokenizer{vocab: v, maxLength: maxLength}
}

func (t *Tokenizer) id(word string) int64 {
	if id, ok := t.vocab[word]; ok {
		return id
	}
	return t.vocab[unkToken]
}

// Tokenize splits text into words and punctuation and wraps them in
// [CLS]/[SEP]. Words beyond the model length are dropped.
func (t *Tokenizer) Tokenize(text string) []token {
	tokens := []token{{ID: t.id(clsToken), Start: -1, End: -1}}

	start := -1
	flush := func(end int) {
		if start >= 0 && len(tokens) < t.maxLength-1 {
			tokens = append(tokens, token{ID: t.id(strings.ToLower(text[start:end])), Start: start, End: end})
		}
		start = -1
	}

	for i, r := range text {
		switch {
		case unicode.IsSpace(r):
			flush(i)
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush(i)
			start = i
			flush(i + len(string(r)))
		default:
			if start < 0 {
				start = i
			}
		}
	}
	flush(len(text))

	return append(tokens, token{ID: t.id(sepToken), Start: -1, End: -1})
}

// decodeBIO merges per-token label predictions into entity spans. Special
// tokens carry Start < 0 and are skipped.
func decodeBIO(tokens []token, labels []string, predicted []int, scores []float64, minScore float64) []anonymizer.RecognizerResult {
	var (
		out     []anonymizer.RecognizerResult
		current *anonymizer.RecognizerResult
		sum     float64
		count   int
	)
	closeSpan := func() {
		if current != nil {
			current.Score = sum / float64(count)
			if current.Score >= minScore {
				out = append(out, *current)
			}
		}
		current, sum, count = nil, 0, 0
	}

	for i, tok := range tokens {
		if tok.Start < 0 || i >= len(predicted) {
			continue
		}
		label := "O"
		if p := predicted[i]; p >= 0 && p < len(labels) {
			label = labels[p]
		}

		prefix, kind, _ := strings.Cut(label, "-")
		if label == "O" || kind == "" {
			closeSpan()
			continue
		}
		entityType := labelEntity(kind)

		if prefix == "I" && current != nil && current.EntityType == entityType {
			current.End = tok.End
			sum += scores[i]
			count++
			continue
		}
		closeSpan()
		current = &anonymizer.RecognizerResult{EntityType: entityType, Start: tok.Start, End: tok.End}
		sum, count = scores[i], 1
	}
	closeSpan()
	return out
}

func labelEntity(kind string) string {
	switch strings.ToUpper(kind) {
	case "PER":
		return "PERSON"
	case "LOC":
		return "LOCATION"
	case "ORG":
		return "ORGANIZATION"
	default:
		return strings.ToUpper(kind)
	}
}

// argmaxSoftmax returns the best label and its probability for each row of
// logits shaped [seq, numLabels].
func argmaxSoftmax(logits []float32, numLabels int) ([]int, []float64) {
	seq := len(logits) / numLabels
	best := make([]int, seq)
	probs := make([]float64, seq)
	for s := 0; s < seq; s++ {
		row := logits[s*numLabels : (s+1)*numLabels]
		maxIdx := 0
		for j := range row {
			if row[j] > row[maxIdx] {
				maxIdx = j
			}
		}
		var denom float64
		for j := range row {
			denom += math.Exp(float64(row[j] - row[maxIdx]))
		}
		best[s] = maxIdx
		probs[s] = 1 / denom
	}
	return best, probs
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return lines, nil
}
