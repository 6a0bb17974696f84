package service

import (
	"math"
	"strings"
)

// Rank turns raw captions into at most maxTags tags. Captions are
// deduplicated case-insensitively in first-seen order and scored by
// position: 0.9 - 0.1*i plus a word-count bonus of words/10 capped at 0.1,
// floored at floor and rounded to three decimals. If the floor filter
// would drop every candidate, the first one is kept anyway.
func Rank(raw []string, maxTags int, floor float64) []Tag {
	if maxTags <= 0 {
		return []Tag{}
	}

	seen := make(map[string]struct{}, len(raw))
	candidates := make([]string, 0, len(raw))
	for _, c := range raw {
		text := normalizeTagText(c)
		if text == "" {
			continue
		}
		key := strings.ToLower(text)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		candidates = append(candidates, text)
	}
	if len(candidates) == 0 {
		return []Tag{}
	}

	scored := make([]Tag, len(candidates))
	for i, text := range candidates {
		scored[i] = Tag{Text: text, Confidence: confidence(i, text, floor)}
	}

	tags := make([]Tag, 0, min(len(scored), maxTags))
	for _, t := range scored {
		if t.Confidence >= floor {
			tags = append(tags, t)
		}
	}
	if len(tags) == 0 {
		tags = append(tags, scored[0])
	}
	if len(tags) > maxTags {
		tags = tags[:maxTags]
	}
	return tags
}

func confidence(index int, text string, floor float64) float64 {
	base := 0.9 - float64(index)*0.1
	bonus := math.Min(float64(len(strings.Fields(text)))/10, 0.1)
	c := math.Max(base+bonus, floor)
	c = math.Round(c*1000) / 1000
	return math.Min(math.Max(c, 0), 1)
}

// FallbackTag is the single tag reported when no caption survives.
func FallbackTag(floor float64) Tag {
	return Tag{Text: FallbackTagText, Confidence: floor}
}

func normalizeTagText(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > MaxTagLength {
		s = strings.TrimSpace(string(r[:MaxTagLength]))
	}
	return s
}
