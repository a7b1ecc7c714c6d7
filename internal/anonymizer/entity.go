package anonymizer

// EntityType tags a detected span. The set is open: catalog extensions and
// the statistical recognizer may report types not listed here.
type EntityType string

const (
	EntityDNI          EntityType = "DNI"
	EntityNIE          EntityType = "NIE"
	EntityCIF          EntityType = "CIF"
	EntityIBAN         EntityType = "IBAN"
	EntityCreditCard   EntityType = "CREDIT_CARD"
	EntityPhone        EntityType = "PHONE"
	EntityMerchantCode EntityType = "MERCHANT_CODE"
	EntityTransferRef  EntityType = "TRANSFER_REF"
)

// Method records which tier produced or last refined an entity.
type Method string

const (
	MethodStatic       Method = "static"
	MethodStatistical  Method = "statistical"
	MethodLLMValidated Method = "llm_validated"
)

// Entity is a detected span of sensitive text. Start and End are byte
// offsets into the source text, End exclusive.
type Entity struct {
	Type       EntityType `json:"entity_type"`
	Text       string     `json:"text"`
	Start      int        `json:"start"`
	End        int        `json:"end"`
	Confidence float64    `json:"confidence"`
	Method     Method     `json:"method"`
}

// Overlaps reports whether the two half-open spans intersect.
func (e Entity) Overlaps(other Entity) bool {
	return e.Start < other.End && e.End > other.Start
}

// Valid reports whether the span lies within a source of length n.
func (e Entity) Valid(n int) bool {
	return e.Start >= 0 && e.Start < e.End && e.End <= n
}

func meanConfidence(entities []Entity) float64 {
	if len(entities) == 0 {
		return 0
	}
	var sum float64
	for _, e := range entities {
		sum += e.Confidence
	}
	return sum / float64(len(entities))
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
