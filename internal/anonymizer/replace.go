package anonymizer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// ReplaceMethod selects how detected entities are substituted.
type ReplaceMethod string

const (
	ReplaceMask ReplaceMethod = "mask"
	ReplaceTag  ReplaceMethod = "replace"
	ReplaceHash ReplaceMethod = "hash"
)

const defaultRedacts = "<REDACTED>"

// ParseReplaceMethod validates a method name. Empty selects mask.
func ParseReplaceMethod(s string) (ReplaceMethod, error) {
	switch m := ReplaceMethod(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ReplaceMask, nil
	case ReplaceMask, ReplaceTag, ReplaceHash:
		return m, nil
	default:
		return "", fmt.Errorf("unknown replacement method %q (must be mask, replace, or hash)", s)
	}
}

// Replacement returns the substitute text for e under method.
func Replacement(e Entity, method ReplaceMethod) string {
	switch method {
	case ReplaceMask:
		return maskEntity(e)
	case ReplaceTag:
		return tag(e.Type)
	case ReplaceHash:
		sum := sha256.Sum256([]byte(e.Text))
		return fmt.Sprintf("<%s_%s>", e.Type, hex.EncodeToString(sum[:])[:8])
	default:
		return defaultRedacts
	}
}

func maskEntity(e Entity) string {
	switch e.Type {
	case EntityCreditCard:
		digits := stripSeparators(e.Text, " -\t")
		if len(digits) >= 4 {
			return "****-****-****-" + digits[len(digits)-4:]
		}
		return "****-****-****-****"
	case EntityDNI:
		return "********X"
	case EntityPhone:
		if strings.HasPrefix(strings.TrimSpace(e.Text), "+34") {
			return "+34 *** ** ** **"
		}
		return "*** ** ** **"
	case EntityIBAN:
		clean := stripSeparators(e.Text, " \t")
		if len(clean) >= 6 {
			return clean[:4] + "..." + clean[len(clean)-4:]
		}
		return "ES**...****"
	default:
		return tag(e.Type)
	}
}

func tag(t EntityType) string {
	return "<" + string(t) + ">"
}

// Apply substitutes every entity in text. Entities are applied from the
// highest start offset down so earlier offsets stay valid.
func Apply(text string, entities []Entity, method ReplaceMethod) string {
	if len(entities) == 0 {
		return text
	}

	ordered := make([]Entity, len(entities))
	copy(ordered, entities)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Start > ordered[j].Start
	})

	out := text
	for _, e := range ordered {
		if !e.Valid(len(out)) {
			continue
		}
		out = out[:e.Start] + Replacement(e, method) + out[e.End:]
	}
	return out
}
