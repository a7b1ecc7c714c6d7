package anonymizer

import (
	"fmt"
	"regexp"
	"sort"
)

// Validator checks the canonical form of a matched identifier.
type Validator func(string) bool

// PatternSpec is the uncompiled form of a catalog entry.
type PatternSpec struct {
	Type           EntityType
	Regex          string
	Context        []string
	BaseConfidence float64
	Validator      Validator
}

// PatternDefinition is a compiled catalog entry. Regex is case-insensitive.
type PatternDefinition struct {
	Type           EntityType
	Source         string
	Regex          *regexp.Regexp
	Context        []string
	BaseConfidence float64
	Validator      Validator

	keywords []*regexp.Regexp
}

// DefaultSpecs returns the built-in Spanish financial identifier patterns in
// scan order.
func DefaultSpecs() []PatternSpec {
	return []PatternSpec{
		{
			Type:           EntityDNI,
			Regex:          `\b\d{8}[A-HJ-NP-TV-Z]\b`,
			Context:        []string{"dni", "documento", "identidad", "nif"},
			BaseConfidence: 0.9,
			Validator:      ValidateDNI,
		},
		{
			Type:           EntityNIE,
			Regex:          `\b[XYZ]\d{7}[A-Z]\b`,
			Context:        []string{"nie", "extranjero", "residencia"},
			BaseConfidence: 0.9,
			Validator:      ValidateNIE,
		},
		{
			Type:           EntityCIF,
			Regex:          `\b[ABCDEFGHJKLMNPQRSUVW]\d{8}\b`,
			Context:        []string{"cif", "empresa", "sociedad", "fiscal"},
			BaseConfidence: 0.85,
		},
		{
			Type:           EntityIBAN,
			Regex:          `\bES\d{2}(?:(?:[\s-]?\d{4}){5}|\s?\d{4}\s?\d{4}\s?\d{2}\s?\d{10})\b`,
			Context:        []string{"iban", "cuenta", "bancaria", "transferencia"},
			BaseConfidence: 0.95,
			Validator:      ValidateIBAN,
		},
		{
			Type:           EntityCreditCard,
			Regex:          `\b(?:\d{4}[\s-]?){3}\d{4}\b`,
			Context:        []string{"tarjeta", "visa", "mastercard", "credito", "debito"},
			BaseConfidence: 0.85,
			Validator:      ValidateLuhn,
		},
		{
			Type:           EntityPhone,
			Regex:          `(?:\+34[\s-]?|\b0034[\s-]?|\b)[6789]\d{2}[\s-]?\d{2}[\s-]?\d{2}[\s-]?\d{2}\b`,
			Context:        []string{"telefono", "movil", "contacto", "whatsapp"},
			BaseConfidence: 0.8,
		},
		{
			Type:           EntityMerchantCode,
			Regex:          `\b[A-Z]{3}\d{6}\b`,
			Context:        []string{"comercio", "establecimiento", "merchant", "tpv"},
			BaseConfidence: 0.7,
		},
		{
			Type:           EntityTransferRef,
			Regex:          `\b(?:REF|ref)[:\s]?[A-Z0-9]{8,16}\b`,
			Context:        []string{"referencia", "transferencia", "operacion"},
			BaseConfidence: 0.75,
		},
	}
}

// Catalog is the immutable set of patterns scanned by the static tier.
type Catalog struct {
	defs    []PatternDefinition
	byType  map[EntityType]PatternDefinition
	learned []PatternDefinition
}

// NewCatalog compiles specs. A malformed regex is returned as ErrPattern.
func NewCatalog(specs []PatternSpec) (*Catalog, error) {
	c := &Catalog{
		defs:   make([]PatternDefinition, 0, len(specs)),
		byType: make(map[EntityType]PatternDefinition, len(specs)),
	}
	for _, spec := range specs {
		def, err := compileSpec(spec)
		if err != nil {
			return nil, err
		}
		if _, dup := c.byType[spec.Type]; dup {
			return nil, &Error{Kind: ErrPattern.Kind, Code: ErrPattern.Code,
				Message: fmt.Sprintf("duplicate pattern for entity type %s", spec.Type)}
		}
		c.defs = append(c.defs, def)
		c.byType[spec.Type] = def
	}
	return c, nil
}

// MustCatalog is like NewCatalog but panics on a malformed pattern.
func MustCatalog(specs []PatternSpec) *Catalog {
	c, err := NewCatalog(specs)
	if err != nil {
		panic(err)
	}
	return c
}

func compileSpec(spec PatternSpec) (PatternDefinition, error) {
	if spec.Type == "" {
		return PatternDefinition{}, &Error{Kind: ErrPattern.Kind, Code: ErrPattern.Code,
			Message: "pattern without entity type"}
	}
	if spec.BaseConfidence < 0 || spec.BaseConfidence > 1 {
		return PatternDefinition{}, &Error{Kind: ErrPattern.Kind, Code: ErrPattern.Code,
			Message: fmt.Sprintf("base confidence for %s out of range: %v", spec.Type, spec.BaseConfidence)}
	}
	re, err := regexp.Compile("(?i)" + spec.Regex)
	if err != nil {
		return PatternDefinition{}, &Error{Kind: ErrPattern.Kind, Code: ErrPattern.Code,
			Message: fmt.Sprintf("invalid regex for %s: %v", spec.Type, err)}
	}

	keywords := make([]*regexp.Regexp, 0, len(spec.Context))
	for _, word := range spec.Context {
		keywords = append(keywords, regexp.MustCompile("(?i)"+regexp.QuoteMeta(word)))
	}

	return PatternDefinition{
		Type:           spec.Type,
		Source:         spec.Regex,
		Regex:          re,
		Context:        append([]string(nil), spec.Context...),
		BaseConfidence: spec.BaseConfidence,
		Validator:      spec.Validator,
		keywords:       keywords,
	}, nil
}

// Patterns returns the built-in and extension definitions keyed by type.
func (c *Catalog) Patterns() map[EntityType]PatternDefinition {
	out := make(map[EntityType]PatternDefinition, len(c.byType))
	for k, v := range c.byType {
		out[k] = v
	}
	return out
}

// Definitions returns every definition in scan order, learned templates last.
func (c *Catalog) Definitions() []PatternDefinition {
	out := make([]PatternDefinition, 0, len(c.defs)+len(c.learned))
	out = append(out, c.defs...)
	return append(out, c.learned...)
}

// Lookup returns the primary definition for an entity type.
func (c *Catalog) Lookup(t EntityType) (PatternDefinition, bool) {
	def, ok := c.byType[t]
	return def, ok
}

// LearnedCount returns the number of compiled learned templates.
func (c *Catalog) LearnedCount() int {
	return len(c.learned)
}

// WithLearned returns a copy of the catalog that also scans the given learned
// templates at a fixed base confidence. Templates inherit context keywords
// and validator from the primary definition of their type. Templates that
// fail to compile are skipped and reported.
func (c *Catalog) WithLearned(learned map[string][]string, confidence float64) (*Catalog, []error) {
	next := &Catalog{defs: c.defs, byType: c.byType}

	types := make([]string, 0, len(learned))
	for t := range learned {
		types = append(types, t)
	}
	sort.Strings(types)

	var errs []error
	for _, t := range types {
		spec := PatternSpec{Type: EntityType(t), BaseConfidence: confidence}
		if primary, ok := c.byType[EntityType(t)]; ok {
			spec.Context = primary.Context
			spec.Validator = primary.Validator
		}
		for _, tmpl := range learned[t] {
			spec.Regex = `\b` + tmpl + `\b`
			def, err := compileSpec(spec)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			next.learned = append(next.learned, def)
		}
	}
	return next, errs
}
