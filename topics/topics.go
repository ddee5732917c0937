// Package topics maps free text to a small set of topic tags using a fixed
// keyword lexicon. The extractor is deterministic and cheap; it feeds persona
// topic bias and the discussion recent-topics anti-repeat.
package topics

import "strings"

// maxTags bounds the extractor output.
const maxTags = 8

// lexicon maps lowercase substrings to a topic tag. Stems are used where the
// Russian morphology varies (экономик- covers экономика/экономики/экономике).
var lexicon = []struct {
	needle string
	tag    string
}{
	{"экономик", "economy"},
	{"инфляци", "economy"},
	{"ввп", "economy"},
	{"бюджет", "economy"},
	{"налог", "economy"},
	{"economy", "economy"},
	{"inflation", "economy"},

	{"курс рубля", "currency"},
	{"курс доллар", "currency"},
	{"валют", "currency"},
	{"рубл", "currency"},
	{"доллар", "currency"},
	{"евро", "currency"},

	{"нефт", "energy"},
	{"газпром", "energy"},
	{"газов", "energy"},
	{"энергетик", "energy"},
	{"бензин", "energy"},
	{"oil", "energy"},

	{"банк", "finance"},
	{"кредит", "finance"},
	{"ипотек", "finance"},
	{"ставк", "finance"},
	{"биржев", "finance"},
	{"акци", "finance"},
	{"инвест", "finance"},

	{"крипт", "crypto"},
	{"биткоин", "crypto"},
	{"bitcoin", "crypto"},
	{"блокчейн", "crypto"},

	{"политик", "politics"},
	{"выбор", "politics"},
	{"президент", "politics"},
	{"парламент", "politics"},
	{"госдум", "politics"},
	{"санкци", "politics"},
	{"politic", "politics"},

	{"война", "conflict"},
	{"военн", "conflict"},
	{"армия", "conflict"},
	{"армии", "conflict"},
	{"обстрел", "conflict"},
	{"фронт", "conflict"},

	{"технолог", "tech"},
	{"нейросет", "tech"},
	{"искусственн", "tech"},
	{"робот", "tech"},
	{"гаджет", "tech"},
	{"смартфон", "tech"},
	{"интернет", "tech"},
	{"кибер", "tech"},

	{"спорт", "sport"},
	{"футбол", "sport"},
	{"хоккей", "sport"},
	{"матч", "sport"},
	{"чемпионат", "sport"},
	{"олимпиад", "sport"},

	{"медицин", "health"},
	{"здоров", "health"},
	{"вирус", "health"},
	{"вакцин", "health"},
	{"болезн", "health"},
	{"врач", "health"},

	{"погод", "weather"},
	{"шторм", "weather"},
	{"ураган", "weather"},
	{"снегопад", "weather"},
	{"жара", "weather"},

	{"культур", "culture"},
	{"кино", "culture"},
	{"фильм", "culture"},
	{"музык", "culture"},
	{"концерт", "culture"},
	{"театр", "culture"},

	{"авто", "auto"},
	{"машин", "auto"},
	{"дорог", "auto"},
	{"дтп", "auto"},

	{"недвижимост", "realty"},
	{"квартир", "realty"},
	{"застройщик", "realty"},
	{"жиль", "realty"},

	{"образован", "education"},
	{"школ", "education"},
	{"универ", "education"},
	{"егэ", "education"},

	{"космос", "science"},
	{"космическ", "science"},
	{"учёные", "science"},
	{"ученые", "science"},
	{"исследован", "science"},
	{"наук", "science"},
}

// Extract returns up to 8 lowercase topic tags for text, in lexicon order,
// without duplicates. Empty or unmatched text yields an empty slice.
func Extract(text string) []string {
	if text == "" {
		return nil
	}
	lower := strings.ToLower(text)
	seen := make(map[string]struct{}, maxTags)
	tags := make([]string, 0, maxTags)
	for _, entry := range lexicon {
		if _, ok := seen[entry.tag]; ok {
			continue
		}
		if strings.Contains(lower, entry.needle) {
			seen[entry.tag] = struct{}{}
			tags = append(tags, entry.tag)
			if len(tags) == maxTags {
				break
			}
		}
	}
	return tags
}

// Overlap counts how many tags the two sets share, case-insensitive.
func Overlap(a, b []string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(a))
	for _, t := range a {
		set[strings.ToLower(t)] = struct{}{}
	}
	n := 0
	for _, t := range b {
		if _, ok := set[strings.ToLower(t)]; ok {
			n++
			delete(set, strings.ToLower(t))
		}
	}
	return n
}
