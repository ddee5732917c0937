package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/romanmihailow/tg-post-service/internal/clock"
	"github.com/romanmihailow/tg-post-service/persona"
)

const describeImagePrompt = "Кратко опиши изображение (1–2 предложения) в нейтральном новостном стиле."

const generateImagePrefix = "Сгенерируй нейтральную новостную иллюстрацию по описанию. " +
	"Без логотипов, без текста на изображении, без копирования " +
	"уникального дизайна. Описание: "

// replyOpeningPool feeds variety into live replies; the model sees a fresh
// random sample on every request.
var replyOpeningPool = []string{
	"Согласен", "Согласна", "Не совсем согласен", "Не совсем согласна",
	"Не уверен", "Не уверена", "Мне кажется", "Честно говоря", "Если честно",
	"Скорее всего", "Ну тут спорно", "Тут есть нюанс", "Я бы уточнил", "Я бы уточнила",
	"Да, но", "Вроде да", "Хм", "Не факт", "Скорее нет", "Зависит",
	"С другой стороны", "Отчасти да", "Так и есть", "Логично", "Похоже на то",
	"Сомневаюсь", "Ну это звучит странно", "Как-то всё мутно", "Не выглядит убедительно",
	"Интересно", "Любопытно", "Тут другой момент", "Я бы поспорил", "Я бы поспорила",
	"Не думаю", "Вряд ли", "Возможно", "В какой-то степени", "Сложно сказать",
	"Обычно да", "Чаще всего", "Бывает по-разному", "Тут как посмотреть",
}

const replyOpeningSampleSize = 12

type questionGroup struct {
	name      string
	questions []string
}

// adminQuestionTaxonomy groups host-question phrasings by the kind of news
// being discussed.
var adminQuestionTaxonomy = []questionGroup{
	{"конфликты_геополитика_инциденты", []string{
		"Как вы думаете, кто за этим стоит?",
		"Кому это выгодно?",
		"Как вы думаете, что будет дальше?",
		"Как вы это восприняли?",
		"Что здесь важнее — факт или последствия?",
		"Какие у вас мысли по этому поводу?",
		"Это меняет ваше отношение к теме?",
	}},
	{"товары_цены_покупки_авто", []string{
		"Вы бы купили?",
		"Какая у вас машина или техника?",
		"Какую марку рассматриваете для покупки?",
		"Ожидаемо или неожиданно для вас?",
		"Насколько справедлива такая цена, по-вашему?",
		"Вы бы так поступили?",
		"Что здесь важнее — цена или качество?",
	}},
	{"природа_здоровье_экология_быт", []string{
		"Готовы ли вы к такому повороту?",
		"Как это повлияет на вас лично?",
		"Вы замечали подобное?",
		"Это вообще тренд или разовый кейс?",
		"Стоит ли этому удивляться?",
		"Как вы к этому относитесь?",
		"Как бы вы подготовились к такому?",
	}},
	{"культура_медиа_тренды", []string{
		"Как думаете, что это за тренд?",
		"Ваши мысли?",
		"Как вам такая история?",
		"Кто как к этому относится?",
		"Согласны с таким развитием или нет?",
		"Где тут подвох, по-вашему?",
		"Это ожидаемо или сюрприз?",
	}},
	{"экономика_общество_общее", []string{
		"Что вы об этом думаете?",
		"Как считаете, это действительно так?",
		"Что бы вы сделали на месте героя?",
		"Как бы вы объяснили такое?",
		"Насколько это типичная ситуация?",
		"Как бы вы отреагировали в такой ситуации?",
		"Ваши мысли?",
	}},
}

func buildSelectPrompt(candidates, recentTopics []string) string {
	var enumerated strings.Builder
	for i, text := range candidates {
		if i > 0 {
			enumerated.WriteByte('\n')
		}
		fmt.Fprintf(&enumerated, "%d. %s", i+1, text)
	}

	avoidHint := ""
	if len(recentTopics) > 0 {
		topics := recentTopics
		if len(topics) > 10 {
			topics = topics[:10]
		}
		avoidHint = "\nИзбегай тем, которые уже обсуждали недавно: " + strings.Join(topics, ", ") + ". " +
			"Выбирай максимально отличающуюся тему среди кандидатов.\n"
	}

	return "Выбери одну новость, которая лучше всего подходит для обсуждения.\n" +
		"Верни JSON строго такого вида: {\"index\": N}\n" +
		"Где N — номер новости в списке (1-based).\n" +
		avoidHint + "\n" +
		enumerated.String()
}

func buildDiscussionPrompt(newsText string, repliesCount int, roles, lastQuestions []string) string {
	rolesText := "- userbot"
	if len(roles) > 0 {
		lines := make([]string, len(roles))
		for i, role := range roles {
			lines[i] = "- " + role
		}
		rolesText = strings.Join(lines, "\n")
	}

	taxonomyLines := make([]string, 0, len(adminQuestionTaxonomy))
	for _, g := range adminQuestionTaxonomy {
		taxonomyLines = append(taxonomyLines, "- "+g.name+": "+strings.Join(g.questions, " | "))
	}
	taxonomyBlock := "Типы вопросов по смыслу новости (выбери группу и один из вариантов или свой в том же духе):\n" +
		strings.Join(taxonomyLines, "\n")

	avoidBlock := ""
	if len(lastQuestions) > 0 {
		recent := lastQuestions
		if len(recent) > 5 {
			recent = recent[:5]
		}
		quoted := make([]string, len(recent))
		for i, q := range recent {
			runes := []rune(q)
			if len(runes) > 60 {
				q = string(runes[:60]) + "…"
			}
			quoted[i] = "«" + q + "»"
		}
		avoidBlock = "\n\nПоследние 5 вопросов (НЕ повторяй эти формулировки, выбери другой тип/группу): " +
			strings.Join(quoted, " | ") + "\n\n"
	}

	questionVarietyHint := "Вопрос ведущего (поле question) обязательно должен состоять из двух частей: (1) кратко суть новости (1–2 предложения), " +
		"чтобы в чате было понятно, о чём речь; (2) вопрос к аудитории. " +
		"Подбирай формулировку под смысл: для конфликтов/инцидентов — «кто за этим?», «кому выгодно?»; " +
		"для товаров/цен — «вы бы купили?», «какая у вас машина?»; " +
		"для природы/здоровья — «готовы ли к такому?», «как повлияет на вас?»; " +
		"для культуры/трендов — «как вам история?», «согласны с развитием?». " +
		"Нельзя выводить в question только короткую фразу без контекста.\n\n" +
		taxonomyBlock + avoidBlock + "\n"

	return "Сгенерируй живое обсуждение новости для Telegram-чата.\n" +
		"Верни JSON строго вида:\n" +
		"{\"question\": \"...\", \"replies\": [\"...\", ...]}\n\n" +
		fmt.Sprintf("Количество ответов: %d\n\n", repliesCount) +
		questionVarietyHint +
		"Требования к стилю:\n" +
		"- В question всегда сначала изложи суть новости, затем задай вопрос к чату. Короткий вопрос без контекста (только «Как вы это восприняли?» и т.п.) запрещён.\n" +
		"- Диалог должен выглядеть как реальная беседа людей, а не как ответы на экзамене.\n" +
		"- Не использовать формулировки типа: «Это может», «Это может привести», «Это может повлиять».\n" +
		"- Избегать канцелярита и журналистского стиля.\n" +
		"- Ответы должны различаться по длине.\n" +
		"- Допускается лёгкое несогласие между участниками.\n" +
		"- Можно реагировать на предыдущие ответы (соглашаться, спорить, уточнять).\n" +
		"- Не повторять формулировки друг друга.\n" +
		"- Не использовать абстрактные конструкции вроде «общественное восприятие», «социальный эффект», «некоторые могут считать».\n" +
		"- Разнообразь вводные: не все ответы должны начинаться с «Согласна», «Не уверен», «Если честно», «Интересно». Используй разные начала: «Скорее всего», «Тут есть нюанс», «Ну тут спорно», «Логично», «С другой стороны», «Зависит», «Похоже на то», «Вряд ли», «Хм», или начинай сразу по делу.\n" +
		"- Не все участники должны быть аналитиками — допускается бытовой язык.\n" +
		"- Пунктуация: естественная. Не обязательно всегда ставить точку в конце. Запятые — где уместно. Никогда не используй длинное тире (—).\n\n" +
		"Роли участников (каждый строго следует своему стилю):\n" +
		rolesText + "\n\n" +
		"Новость:\n" +
		newsText
}

func sampleOpenings(rnd clock.Rand) []string {
	pool := make([]string, len(replyOpeningPool))
	copy(pool, replyOpeningPool)
	rnd.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	n := replyOpeningSampleSize
	if n > len(pool) {
		n = len(pool)
	}
	return pool[:n]
}

func lengthHintFor(verbosity string, rnd clock.Rand) string {
	r := rnd.Float()
	switch verbosity {
	case persona.VerbosityMedium:
		if r < 0.4 {
			return "Длина: одно предложение."
		}
		return "Длина: 1–2 предложения."
	case persona.VerbosityLong:
		if r < 0.15 {
			return "Длина: одно предложение."
		}
		if r < 0.70 {
			return "Длина: 1–2 предложения."
		}
		return "Длина: 2–3 предложения."
	default:
		if r < 0.7 {
			return "Длина: одно предложение."
		}
		return "Длина: 1–2 предложения."
	}
}

var replyPresets = []string{
	"Формат: одно короткое предложение. Чётко займи позицию: согласие или сомнение.",
	"Формат: 1–2 предложения. Добавь уточнение или нюанс: можно начать с «Тут есть нюанс», «Не совсем так», «Я бы уточнил» — затем кратко поясни. Без жёсткого конфликта.",
	"Формат: два предложения. Реагируй на сообщение и приведи один конкретный пример или последствие.",
	"Формат: 1–2 предложения. В конце задай короткий встречный вопрос по теме сообщения.",
	"Формат: ультра-короткая реплика — 5–10 слов. Живая реакция без пересказа и аналитики. По тону в духе: сомнение («Сомневаюсь, если честно»), удивление («Ну это звучит странно»), неясность («Как-то всё мутно»), скепсис («Не выглядит убедительно»). Без эмодзи, без вопроса по умолчанию, без «Это может».",
	"Формат: 1–2 предложения. Начни с мягкого несогласия или сомнения: «Не совсем согласен…», «Я бы поспорил…», «Не уверен, что всё так просто…», «Тут есть другой момент…» — затем одно короткое пояснение или один нюанс. Без агрессии, без морализаторства, без «Это может».",
}

// ultraShortPreset already fixes the length, so no separate length hint.
const ultraShortPreset = 4

var replyPresetWeights = []float64{22, 20, 18, 10, 15, 15}

// buildUserReplyPrompt assembles the live-reply prompt and returns it with
// the chosen preset index and length hint.
func buildUserReplyPrompt(req *UserReplyRequest, rnd clock.Rand) (string, int, string) {
	meta := req.Meta
	tone := persona.ToneNeutral
	verbosity := persona.VerbosityShort
	if meta != nil {
		if persona.ValidTone(meta.Tone) {
			tone = meta.Tone
		}
		if persona.ValidVerbosity(meta.Verbosity) {
			verbosity = meta.Verbosity
		}
	}

	var rules strings.Builder
	rules.WriteString("Ты участник живого Telegram-чата. Пиши как живой человек, не как эксперт и не как статья.\n\n" +
		"Обязательно:\n" +
		"- Выбери одну фразу или деталь из сообщения пользователя и отвечай именно на неё; не пересказывай весь вопрос.\n" +
		"- Не копируй формулировки пользователя дословно — перефразируй своими словами.\n" +
		"- Не начинай со слов: «Это может», «Это может привести», «Это может повлиять».\n" +
		"- Избегай канцелярита и журналистского тона.\n" +
		"- Иногда отвечай сразу по делу, не всегда с вводных («Скорее всего», «Честно говоря» и т.п.).\n" +
		"- Согласие, сомнение и лёгкое несогласие равнозначны — не злоупотребляй одним типом.\n" +
		"- Без ссылок, без призывов подписаться, без «я бот».\n" +
		"- Если уместно, оттолкнись от последнего сообщения в контексте: согласись, оспорь или уточни одной фразой.\n" +
		"- Иногда допустимо мягко не согласиться с предыдущим сообщением, если это уместно.\n" +
		"- Не обязательно поддерживать общий тон беседы — допускается лёгкий контраст или альтернативная точка зрения.\n" +
		"- Пунктуация: естественная. Не обязательно всегда ставить точку в конце. Запятые — где уместно, можно опускать. Никогда не используй длинное тире (—).\n")
	if tone == persona.ToneEmotional {
		rules.WriteString("- Допустима более резкая или эмоциональная формулировка, если это уместно.\n")
	}

	openings := sampleOpenings(rnd)
	quoted := make([]string, len(openings))
	for i, o := range openings {
		quoted[i] = "«" + o + "»"
	}
	rules.WriteString("Варианты начала реплики (выбери один или свой, не повторяй одни и те же подряд): " +
		strings.Join(quoted, ", ") + ". Можно начать сразу по делу без вводной.\n\n")

	lengthHint := lengthHintFor(verbosity, rnd)

	emotionalBoost := ""
	if tone == persona.ToneEmotional && rnd.Float() < 0.25 {
		emotionalBoost = "\nМожно использовать более живую или резкую интонацию."
	}
	contrastHint := ""
	if rnd.Float() < 0.20 {
		contrastHint = "\nМожно занять слегка отличающуюся позицию от предыдущего сообщения, если это логично."
	}

	presetIdx := clock.WeightedPick(rnd, replyPresetWeights)
	if presetIdx < 0 {
		presetIdx = 0
	}
	var presetBlock strings.Builder
	presetBlock.WriteString("Сейчас:\n" + replyPresets[presetIdx] + "\n")
	if presetIdx != ultraShortPreset {
		presetBlock.WriteString("\n" + lengthHint + "\n")
	}
	presetBlock.WriteString(emotionalBoost + contrastHint + "\n\n")

	var contextLines []string
	for _, text := range req.Context {
		if strings.TrimSpace(text) != "" {
			contextLines = append(contextLines, "- "+text)
		}
	}

	jsonBlock := ""
	answerLabel := "Ответ:"
	if req.ModelDrivenReaction && len(req.AllowedReactions) > 0 {
		allowed, _ := json.Marshal(req.AllowedReactions)
		nullPct := int(req.ReactionNullRate * 100)
		jsonBlock = "\n\nФОРМАТ ОТВЕТА — строго JSON:\n" +
			"{\"reply_text\":\"...\",\"reaction_emoji\":\"👍\"}\n" +
			"или {\"reply_text\":\"...\",\"reaction_emoji\":null}\n" +
			"- reply_text: 1–2 предложения по правилам выше, без эмодзи в тексте.\n" +
			fmt.Sprintf("- reaction_emoji: null примерно в %d%% случаев; иначе ОДИН эмодзи ТОЛЬКО из списка: %s\n", nullPct, allowed) +
			"- НЕ добавляй эмодзи в reply_text — они передаются отдельно.\n" +
			"- Если сообщение токсичное/конфликтное — предпочитай нейтральные (🤔/😅), избегай 🔥.\n"
		answerLabel = "Ответ (JSON):"
	}

	prompt := rules.String() +
		presetBlock.String() +
		"Твоя роль в этом чате:\n" + req.RoleLabel + "\n\n" +
		"Последние сообщения чата:\n" +
		strings.Join(contextLines, "\n") + "\n\n" +
		"Сообщение пользователя, на которое нужно ответить:\n" +
		req.SourceText + "\n\n" +
		jsonBlock + "\n" + answerLabel

	return prompt, presetIdx, lengthHint
}
