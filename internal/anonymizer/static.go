package anonymizer

// StaticDetector is the always-on regex tier.
type StaticDetector struct {
	catalog *Catalog
}

// NewStaticDetector creates a static tier over catalog.
func NewStaticDetector(catalog *Catalog) *StaticDetector {
	return &StaticDetector{catalog: catalog}
}

// Detect scans text with every catalog definition, scores each match, and
// resolves overlaps. It returns the entities and their mean confidence.
func (d *StaticDetector) Detect(text string) ([]Entity, float64) {
	var candidates []Entity
	for _, def := range d.catalog.Definitions() {
		for _, loc := range def.Regex.FindAllStringIndex(text, -1) {
			candidates = append(candidates, Entity{
				Type:       def.Type,
				Text:       text[loc[0]:loc[1]],
				Start:      loc[0],
				End:        loc[1],
				Confidence: Score(text, def, loc[0], loc[1]),
				Method:     MethodStatic,
			})
		}
	}

	entities := ResolveOverlaps(candidates)
	return entities, meanConfidence(entities)
}
