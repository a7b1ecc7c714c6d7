package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/raaihank/txn-sentinel/internal/anonymizer"
)

type verdictItem struct {
	Index     int  `json:"index"`
	Confirmed bool `json:"confirmed"`
}

func buildPrompt(text string, candidates []anonymizer.Entity) string {
	var sb strings.Builder

	sb.WriteString("You review personal data detected in Spanish bank transaction text.\n")
	sb.WriteString("For each candidate decide whether it really is the identifier type given.\n\n")
	sb.WriteString("Transaction text:\n")
	sb.WriteString(text)
	sb.WriteString("\n\nCandidates:\n")
	for i, c := range candidates {
		fmt.Fprintf(&sb, "%d. type=%s value=%q\n", i, c.Type, c.Text)
	}
	sb.WriteString(`
Return ONLY a JSON array with one item per candidate:
[{"index": 0, "confirmed": true}]

Rules:
- "confirmed" is true only if the value is a real identifier of that type in context
- Amounts, dates and category names are never identifiers
- Return ONLY the JSON array, no other text.`)

	return sb.String()
}

// parseVerdicts extracts the JSON array from a model response. Items with an
// out-of-range index are ignored.
func parseVerdicts(resp string, candidates []anonymizer.Entity) ([]anonymizer.Verdict, error) {
	raw := strings.TrimSpace(resp)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("no JSON array in model response")
	}

	var items []verdictItem
	if err := json.Unmarshal([]byte(raw[start:end+1]), &items); err != nil {
		return nil, fmt.Errorf("verdict parse error: %w", err)
	}

	verdicts := make([]anonymizer.Verdict, 0, len(items))
	seen := make(map[int]bool, len(items))
	for _, item := range items {
		if item.Index < 0 || item.Index >= len(candidates) || seen[item.Index] {
			continue
		}
		seen[item.Index] = true
		verdicts = append(verdicts, anonymizer.Verdict{
			Entity:    candidates[item.Index],
			Confirmed: item.Confirmed,
		})
	}
	return verdicts, nil
}
