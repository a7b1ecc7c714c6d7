package anonymizer

import "sort"

// ResolveOverlaps returns a non-overlapping subset of entities sorted by
// start. An overlapping candidate replaces the accepted entities it
// intersects only when its confidence is strictly higher than each of them;
// on ties the entity accepted first wins.
func ResolveOverlaps(entities []Entity) []Entity {
	if len(entities) == 0 {
		return []Entity{}
	}

	sorted := make([]Entity, len(entities))
	copy(sorted, entities)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start < sorted[j].Start
	})

	accepted := make([]Entity, 0, len(sorted))
	for _, candidate := range sorted {
		var clashes []int
		keep := true
		for i, existing := range accepted {
			if !candidate.Overlaps(existing) {
				continue
			}
			if candidate.Confidence <= existing.Confidence {
				keep = false
				break
			}
			clashes = append(clashes, i)
		}
		if !keep {
			continue
		}
		if len(clashes) > 0 {
			accepted = removeIndexes(accepted, clashes)
		}
		accepted = append(accepted, candidate)
	}

	sort.SliceStable(accepted, func(i, j int) bool {
		return accepted[i].Start < accepted[j].Start
	})
	return accepted
}

func removeIndexes(entities []Entity, idx []int) []Entity {
	drop := make(map[int]bool, len(idx))
	for _, i := range idx {
		drop[i] = true
	}
	out := entities[:0]
	for i, e := range entities {
		if !drop[i] {
			out = append(out, e)
		}
	}
	return out
}
