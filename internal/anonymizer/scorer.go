package anonymizer

const (
	nearContextDistance = 20
	farContextDistance  = 50

	nearContextBonus = 0.2
	farContextBonus  = 0.1
	validatorBonus   = 0.15
	validatorPenalty = -0.3
)

// Score computes the confidence of the match text[start:end] against def:
// base confidence, plus a context bonus from the first keyword found within
// range of the match, plus the validator bonus or penalty, clamped to [0,1].
func Score(text string, def PatternDefinition, start, end int) float64 {
	score := def.BaseConfidence + contextBonus(text, def, start)

	if def.Validator != nil {
		if def.Validator(text[start:end]) {
			score += validatorBonus
		} else {
			score += validatorPenalty
		}
	}

	return clamp(score)
}

// contextBonus only awards the first keyword, in catalog order, that has an
// occurrence closer than farContextDistance to the match start.
func contextBonus(text string, def PatternDefinition, start int) float64 {
	for _, kw := range def.keywords {
		distance := -1
		for _, loc := range kw.FindAllStringIndex(text, -1) {
			d := loc[0] - start
			if d < 0 {
				d = -d
			}
			if distance < 0 || d < distance {
				distance = d
			}
		}
		switch {
		case distance < 0:
			continue
		case distance < nearContextDistance:
			return nearContextBonus
		case distance < farContextDistance:
			return farContextBonus
		}
	}
	return 0
}
