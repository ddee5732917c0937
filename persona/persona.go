// Package persona carries per-account presentation metadata (tone,
// verbosity, gender, style, topic interests) and builds the human-readable
// role instruction passed to the language model.
package persona

import (
	"fmt"
	"strings"
)

// Valid tones in chain-order rank. Analytical personas open a thread,
// emotional ones close it.
const (
	ToneNeutral    = "neutral"
	ToneAnalytical = "analytical"
	ToneEmotional  = "emotional"
	ToneIronic     = "ironic"
	ToneSkeptical  = "skeptical"
)

const (
	VerbosityShort  = "short"
	VerbosityMedium = "medium"
	VerbosityLong   = "long"
)

const (
	GenderMale    = "male"
	GenderFemale  = "female"
	GenderUnknown = "unknown"
)

var toneRanks = map[string]int{
	ToneAnalytical: 0,
	ToneNeutral:    1,
	ToneSkeptical:  2,
	ToneIronic:     3,
	ToneEmotional:  4,
}

// ToneRank returns the chain-ordering rank for a tone. Unknown tones sort
// with neutral.
func ToneRank(tone string) int {
	if r, ok := toneRanks[tone]; ok {
		return r
	}
	return toneRanks[ToneNeutral]
}

// ValidTone reports whether tone is one of the recognized values.
func ValidTone(tone string) bool {
	_, ok := toneRanks[tone]
	return ok
}

// ValidVerbosity reports whether v is one of the recognized values.
func ValidVerbosity(v string) bool {
	return v == VerbosityShort || v == VerbosityMedium || v == VerbosityLong
}

// Persona is the presentation profile of one bot account.
type Persona struct {
	AccountName       string
	Tone              string
	Verbosity         string
	StyleHint         string
	Topics            []string
	TopicPriority     int // 0..100
	OfftopicTolerance int // 0..100
}

// Meta is the structured persona payload handed to the reply generator
// alongside the role label.
type Meta struct {
	DisplayName       string   `json:"display_name"`
	Gender            string   `json:"gender"`
	Tone              string   `json:"tone"`
	Verbosity         string   `json:"verbosity"`
	Topics            []string `json:"topics"`
	TopicPriority     int      `json:"topic_priority"`
	OfftopicTolerance int      `json:"offtopic_tolerance"`
}

// profileOverride pins the human name and grammatical gender for an
// account. Kept process-wide so no schema change is needed for it.
type profileOverride struct {
	displayName string
	gender      string
}

var profileOverrides = map[string]profileOverride{
	"t9870202433": {"Мария Кузнецова", GenderFemale},
	"t9876002641": {"Виктория Сергеевна", GenderFemale},
	"t9174800805": {"Екатерина Волкова", GenderFemale},
	"t9174801182": {"Анна Романова", GenderFemale},
	"acc1":        {"Александр Грушевский", GenderMale},
	"t9876001411": {"Олег Синица", GenderMale},
	"t9174803110": {"Дмитрий Орлов", GenderMale},
	"t9014429801": {"Илья Морозов", GenderMale},
	"t9083516765": {"Николай Лебедев", GenderMale},
}

// Profile resolves the display name and gender for an account. Accounts
// without an override fall back to the account name and male grammar;
// an unparseable gender yields "unknown", which disables the grammar fix.
func Profile(accountName string) (displayName, gender string) {
	o, ok := profileOverrides[accountName]
	if !ok {
		return accountName, GenderMale
	}
	g := strings.ToLower(strings.TrimSpace(o.gender))
	if g != GenderMale && g != GenderFemale {
		g = GenderUnknown
	}
	return o.displayName, g
}

// RoleLabel builds the role instruction string and the structured meta for
// one account. Defaults: tone neutral, verbosity short.
func RoleLabel(p Persona) (string, Meta) {
	tone := p.Tone
	if tone == "" {
		tone = ToneNeutral
	}
	verbosity := p.Verbosity
	if verbosity == "" {
		verbosity = VerbosityShort
	}
	displayName, gender := Profile(p.AccountName)

	var grammar string
	if gender == GenderFemale {
		grammar = "пиши от первого лица в женском роде. " +
			"Всегда: согласна, не согласна, уверена, не уверена, удивлена, не удивлена, готова, права. " +
			"Никогда: согласен, уверен, удивлён, готов, прав. " +
			"Примеры вводных (разнообразь, не только эти): «Согласна…», «Не уверена…», «Мне кажется…», «Не совсем согласна…», «Похоже на то», «Тут есть нюанс», «Сомневаюсь», или начало сразу по делу."
	} else {
		grammar = "пиши согласен/не согласен, уверен/не уверен. " +
			"Разнообразь вводные (не только «Согласен», «Не уверен»): можно «Скорее всего», «Тут нюанс», «Похоже на то», или сразу по делу."
	}

	instructions := []string{
		fmt.Sprintf("Имя: %s. Пол: %s.", displayName, grammar),
	}
	if gender == GenderFemale {
		instructions = append(instructions, "Чаще формулируй через нюанс, уточнение или мягкую позицию.")
	} else {
		instructions = append(instructions, "Формулировки могут быть чуть более прямыми и уверенными, без смягчающих оборотов.")
	}
	switch tone {
	case ToneAnalytical:
		instructions = append(instructions, "тон: спокойный, взвешенный")
	case ToneEmotional:
		instructions = append(instructions, "тон: мягко эмоциональный")
	case ToneIronic:
		instructions = append(instructions, "тон: легкая ирония без сарказма")
	case ToneSkeptical:
		instructions = append(instructions, "тон: умеренный скепсис без агрессии")
	default:
		instructions = append(instructions, "тон: нейтральный")
	}
	switch verbosity {
	case VerbosityMedium:
		instructions = append(instructions, "длина: 1–2 предложения")
	case VerbosityLong:
		instructions = append(instructions, "длина: 2–3 предложения")
	default:
		instructions = append(instructions, "длина: 1 короткое предложение")
	}
	if p.StyleHint != "" {
		instructions = append(instructions, "стиль: "+p.StyleHint)
	}
	if len(p.Topics) > 0 {
		instructions = append(instructions, "темы: "+strings.Join(p.Topics, ", "))
	}
	instructions = append(instructions,
		"ограничения: без сленга, без эмодзи, без капса, без упоминания бота/ИИ; пунктуация естественная, не обязательно точка в конце; никогда не используй длинное тире (—).")

	meta := Meta{
		DisplayName:       displayName,
		Gender:            gender,
		Tone:              tone,
		Verbosity:         verbosity,
		Topics:            p.Topics,
		TopicPriority:     p.TopicPriority,
		OfftopicTolerance: p.OfftopicTolerance,
	}
	return strings.Join(instructions, " | "), meta
}
