package dedup

import (
	"regexp"
	"strings"
)

// defaultAdKeywords is the built-in Russian keyword set for the ad
// heuristic. Entries are stems; a plain substring match is enough.
var defaultAdKeywords = []string{
	"реклама", "акция", "скидк", "промокод", "по ссылке", "оформ",
	"подписк", "подарок", "кэшбэк", "кешбек", "рассрочк", "кредит",
	"банк", "карта", "выгодн", "партнер", "бесплатн", "услови", "доход",
}

var (
	adURLRe      = regexp.MustCompile(`https?://|t\.me/|bit\.ly|tinyurl\.com`)
	adCurrencyRe = regexp.MustCompile(`\b\d+\s*(₽|руб|руб\.|р\.)`)
	adPercentRe  = regexp.MustCompile(`\b\d+%`)
	adUpToRe     = regexp.MustCompile(`\bдо\s+\d+\b`)
)

// IsAd scores text against the ad keyword set plus URL, currency, percent,
// and "up to N" patterns; text is an ad when score >= max(1, threshold).
// customKeywords, when non-empty, is a comma-separated list replacing the
// default keyword set.
func IsAd(text string, threshold int, customKeywords string) bool {
	lowered := strings.ToLower(text)
	keywords := defaultAdKeywords
	if customKeywords != "" {
		var parsed []string
		for _, item := range strings.Split(customKeywords, ",") {
			if item = strings.ToLower(strings.TrimSpace(item)); item != "" {
				parsed = append(parsed, item)
			}
		}
		if len(parsed) > 0 {
			keywords = parsed
		}
	}

	score := 0
	for _, kw := range keywords {
		if strings.Contains(lowered, kw) {
			score++
		}
	}
	if adURLRe.MatchString(lowered) {
		score += 2
	}
	if adCurrencyRe.MatchString(lowered) {
		score++
	}
	if adPercentRe.MatchString(lowered) {
		score++
	}
	if adUpToRe.MatchString(lowered) {
		score++
	}

	min := threshold
	if min < 1 {
		min = 1
	}
	return score >= min
}
