package persona

import "regexp"

// The grammar fix rewrites first-person gender forms near the start of a
// generated reply (согласен↔согласна and friends). Only the first
// prefixChars runes are touched so quoted text later in the message is
// never corrupted.
const prefixChars = 80

// Go's \b is ASCII-only and never fires next to Cyrillic letters, so the
// word boundary is an explicit non-letter group re-inserted on replace.
func boundary(phrase string) *regexp.Regexp {
	return regexp.MustCompile(`(^|[^\p{L}])` + phrase + `([^\p{L}]|$)`)
}

type genderRule struct {
	re   *regexp.Regexp
	repl string
}

func rules(pairs [][2]string) []genderRule {
	out := make([]genderRule, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, genderRule{boundary(p[0]), "${1}" + p[1] + "${2}"})
	}
	return out
}

// Order matters: "не …" phrases before the bare words, capitalized forms
// alongside lowercase ones.
var femaleRules = rules([][2]string{
	{`не\s+согласен`, "не согласна"},
	{`Не\s+согласен`, "Не согласна"},
	{`не\s+уверен`, "не уверена"},
	{`Не\s+уверен`, "Не уверена"},
	{`не\s+удивлён`, "не удивлена"},
	{`Не\s+удивлён`, "Не удивлена"},
	{`согласен`, "согласна"},
	{`Согласен`, "Согласна"},
	{`уверен`, "уверена"},
	{`Уверен`, "Уверена"},
	{`удивлён`, "удивлена"},
	{`Удивлён`, "Удивлена"},
	{`готов`, "готова"},
	{`Готов`, "Готова"},
	{`прав`, "права"},
	{`Прав`, "Права"},
})

var maleRules = rules([][2]string{
	{`не\s+согласна`, "не согласен"},
	{`Не\s+согласна`, "Не согласен"},
	{`не\s+уверена`, "не уверен"},
	{`Не\s+уверена`, "Не уверен"},
	{`не\s+удивлена`, "не удивлён"},
	{`Не\s+удивлена`, "Не удивлён"},
	{`согласна`, "согласен"},
	{`Согласна`, "Согласен"},
	{`уверена`, "уверен"},
	{`Уверена`, "Уверен"},
	{`удивлена`, "удивлён"},
	{`Удивлена`, "Удивлён"},
	{`готова`, "готов"},
	{`Готова`, "Готов"},
	{`права`, "прав"},
	{`Права`, "Прав"},
})

func isBlank(s string) bool {
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return false
		}
	}
	return true
}

// FixGender rewrites gendered forms in the first 80 runes of text to match
// gender. Unknown or invalid gender is a no-op. Returns the possibly
// changed text and whether anything changed.
func FixGender(text, gender string) (string, bool) {
	if text == "" || isBlank(text) {
		return text, false
	}
	var table []genderRule
	switch gender {
	case GenderFemale:
		table = femaleRules
	case GenderMale:
		table = maleRules
	default:
		return text, false
	}

	runes := []rune(text)
	prefix, rest := text, ""
	if len(runes) > prefixChars {
		prefix, rest = string(runes[:prefixChars]), string(runes[prefixChars:])
	}
	fixed := prefix
	for _, rule := range table {
		fixed = rule.re.ReplaceAllString(fixed, rule.repl)
	}
	out := fixed + rest
	return out, out != text
}
