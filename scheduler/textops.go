package scheduler

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/romanmihailow/tg-post-service/internal/clock"
)

// BlackboxTag marks a source post for visual distortion after paraphrase.
const BlackboxTag = "[BLACKBOX]"

// AppendFooter appends the destination handle unless the text already
// mentions it (case-insensitive).
func AppendFooter(text, handle string) string {
	normalized := strings.TrimSpace(text)
	if normalized == "" {
		return handle
	}
	if strings.Contains(strings.ToLower(normalized), strings.ToLower(handle)) {
		return normalized
	}
	return normalized + " " + handle
}

// StripBlackboxTag removes the marker from a text.
func StripBlackboxTag(text string) string {
	return strings.TrimSpace(strings.ReplaceAll(text, BlackboxTag, ""))
}

var blackboxWordRe = regexp.MustCompile(`[A-Za-zА-Яа-яЁё]+`)

// ApplyBlackbox distorts roughly ratio of the words of length >= minWordLen
// by flipping the case of distortMin..distortMax letters inside each chosen
// word. Chosen words block their immediate neighbors so distortions stay
// spread out. The output has the same length as the input.
func ApplyBlackbox(text string, ratio float64, minWordLen, distortMin, distortMax int, rnd clock.Rand) string {
	var matches [][]int
	for _, loc := range blackboxWordRe.FindAllStringIndex(text, -1) {
		if len([]rune(text[loc[0]:loc[1]])) >= minWordLen {
			matches = append(matches, loc)
		}
	}
	if len(matches) == 0 {
		return text
	}

	total := len(matches)
	target := int(float64(total) * ratio)
	if target < 1 {
		target = 1
	}

	order := make([]int, total)
	for i := range order {
		order[i] = i
	}
	rnd.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

	selected := map[int]bool{}
	blocked := map[int]bool{}
	for _, idx := range order {
		if blocked[idx] {
			continue
		}
		selected[idx] = true
		blocked[idx-1] = true
		blocked[idx+1] = true
		if len(selected) >= target {
			break
		}
	}
	if len(selected) == 0 {
		return text
	}

	var out strings.Builder
	out.Grow(len(text))
	last := 0
	for i, loc := range matches {
		out.WriteString(text[last:loc[0]])
		word := text[loc[0]:loc[1]]
		if selected[i] {
			out.WriteString(distortWord(word, distortMin, distortMax, rnd))
		} else {
			out.WriteString(word)
		}
		last = loc[1]
	}
	out.WriteString(text[last:])
	return out.String()
}

// distortWord flips the case of a few letters, keeping the rune count.
func distortWord(word string, distortMin, distortMax int, rnd clock.Rand) string {
	runes := []rune(word)
	var positions []int
	for i, r := range runes {
		if unicode.IsLetter(r) {
			positions = append(positions, i)
		}
	}
	if len(positions) < 2 {
		return word
	}

	count := len(positions) / 2
	if count < distortMin {
		count = distortMin
	}
	if count > distortMax {
		count = distortMax
	}
	rnd.Shuffle(len(positions), func(i, j int) { positions[i], positions[j] = positions[j], positions[i] })

	for _, idx := range positions[:count] {
		r := runes[idx]
		switch {
		case unicode.IsLower(r):
			runes[idx] = unicode.ToUpper(r)
		case unicode.IsUpper(r):
			runes[idx] = unicode.ToLower(r)
		}
	}
	return string(runes)
}
