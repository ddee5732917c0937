// Package config loads and validates the typed service configuration:
// accounts, pipelines, dedup and blackbox settings, and reaction budgets.
// All values come from environment variables (viper keys), with JSON blobs
// for the account and pipeline lists.
package config

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Creds is one authenticated platform identity.
type Creds struct {
	APIID   int    `json:"apiId"`
	APIHash string `json:"apiHash"`
	Session string `json:"session"`
}

// OpenAISettings is a per-account provider override. Prices are USD per
// million tokens (text) and per generated 1024px image.
type OpenAISettings struct {
	APIKey            string  `json:"apiKey"`
	BaseURL           string  `json:"baseUrl"`
	TextModel         string  `json:"textModel"`
	ImageModel        string  `json:"imageModel"`
	InputPriceUSD     float64 `json:"inputPriceUsd"`
	OutputPriceUSD    float64 `json:"outputPriceUsd"`
	ImagePrice1024USD float64 `json:"imagePrice1024Usd"`
}

// Account is one configured platform account. Writer absent means the
// reader identity also writes.
type Account struct {
	Name                      string          `json:"name"`
	Reader                    Creds           `json:"reader"`
	Writer                    *Creds          `json:"writer"`
	Behavior                  int             `json:"behavior"`
	OpenAI                    *OpenAISettings `json:"openai"`
	DiscussionActivityPercent *int            `json:"discussionActivityPercent"`
	UserReplyActivityPercent  *int            `json:"userReplyActivityPercent"`
	SystemPromptChat          string          `json:"systemPromptChat"`
}

// WriterCreds returns the writing identity, falling back to the reader.
func (a *Account) WriterCreds() Creds {
	if a.Writer != nil {
		return *a.Writer
	}
	return a.Reader
}

// activityPercent clamps a configured activity level, defaulting to 50.
func activityPercent(value *int) int {
	if value == nil {
		return 50
	}
	if *value < 0 {
		return 0
	}
	if *value > 100 {
		return 100
	}
	return *value
}

// DiscussionActivity returns the clamped discussion activity percent.
func (a *Account) DiscussionActivity() int {
	return activityPercent(a.DiscussionActivityPercent)
}

// UserReplyActivity returns the clamped live-reply activity percent.
func (a *Account) UserReplyActivity() int {
	return activityPercent(a.UserReplyActivityPercent)
}

// Discussion carries the DISCUSSION-type pipeline extras.
type Discussion struct {
	TargetChat                  string `json:"targetChat"`
	SourcePipelineName          string `json:"sourcePipelineName"`
	KMin                        int    `json:"kMin"`
	KMax                        int    `json:"kMax"`
	ReplyToReplyProbability     int    `json:"replyToReplyProbability"`
	ActivityWindowsWeekdaysJSON string `json:"activityWindowsWeekdaysJson"`
	ActivityWindowsWeekendsJSON string `json:"activityWindowsWeekendsJson"`
	Timezone                    string `json:"timezone"`
	MinIntervalMinutes          int    `json:"minIntervalMinutes"`
	MaxIntervalMinutes          int    `json:"maxIntervalMinutes"`
	InactivityPauseMinutes      int    `json:"inactivityPauseMinutes"`
	MaxAutoRepliesPerChatPerDay int    `json:"maxAutoRepliesPerChatPerDay"`
	UserReplyMaxAgeMinutes      int    `json:"userReplyMaxAgeMinutes"`
}

// Pipeline is one configured pipeline definition.
type Pipeline struct {
	Name           string      `json:"name"`
	AccountName    string      `json:"accountName"`
	Enabled        bool        `json:"enabled"`
	Destination    string      `json:"destination"`
	Mode           string      `json:"mode"`
	Type           string      `json:"type"`
	IntervalSec    int         `json:"intervalSec"`
	BlackboxEveryN int         `json:"blackboxEveryN"`
	Sources        []string    `json:"sources"`
	Discussion     *Discussion `json:"discussion"`
}

// Dedup configures the publish-side similarity and ad filters.
type Dedup struct {
	Enabled             bool
	WindowSize          int
	BM25Threshold       float64
	AdFilterEnabled     bool
	AdFilterThreshold   int
	AdFilterKeywords    string
	FingerprintRingSize int
}

// Blackbox configures the visual distortion pass.
type Blackbox struct {
	MinWordLen int
	Ratio      float64
	DistortMin int
	DistortMax int
}

// Reactions is one reaction budget (channel posts or chat messages).
type Reactions struct {
	Enabled                   bool
	Probability               float64
	DailyLimitPerBot          int
	CooldownMinutes           int
	Emojis                    []string
	MaxReactionsPerPostPerDay int
	UseAllowedFromTelegram    bool
	AllowedSampleLimit        int
	MinBotsPerPost            int
}

// ChatReactions extends Reactions with the model-driven path for P2.
type ChatReactions struct {
	Reactions
	ModelDriven   bool
	ModelNullRate float64
}

// AdminReactions configures the single "admin eye" reaction on source posts.
type AdminReactions struct {
	Enabled           bool
	AccountName       string
	TargetEmoji       string
	FallbackEmoji     string
	SkipIfUnavailable bool
	Probability       float64
}

// Config is the validated service configuration.
type Config struct {
	Accounts  []Account
	Pipelines []Pipeline

	MinTextLength    int
	SleepMinSeconds  int
	SleepMaxSeconds  int
	OwnerChatID      int64
	ControlBotToken  string
	SystemPromptPath string

	Dedup          Dedup
	Blackbox       Blackbox
	PostReactions  Reactions
	ChatReactions  ChatReactions
	AdminReactions AdminReactions
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("MIN_TEXT_LENGTH", 100)
	v.SetDefault("SERVICE_SLEEP_MIN_SECONDS", 60)
	v.SetDefault("SERVICE_SLEEP_MAX_SECONDS", 180)

	v.SetDefault("DEDUP_ENABLED", true)
	v.SetDefault("DEDUP_WINDOW_SIZE", 30)
	v.SetDefault("DEDUP_BM25_THRESHOLD", 8.5)
	v.SetDefault("AD_FILTER_ENABLED", true)
	v.SetDefault("AD_FILTER_THRESHOLD", 3)
	v.SetDefault("AD_FILTER_KEYWORDS", "")
	v.SetDefault("DISCUSSION_FINGERPRINT_RING_SIZE", 10)

	v.SetDefault("BLACKBOX_MIN_WORD_LEN", 5)
	v.SetDefault("BLACKBOX_RATIO", 0.3)
	v.SetDefault("BLACKBOX_DISTORT_MIN", 2)
	v.SetDefault("BLACKBOX_DISTORT_MAX", 4)

	v.SetDefault("REACTIONS_ENABLED", false)
	v.SetDefault("REACTION_PROBABILITY", 0.5)
	v.SetDefault("REACTION_DAILY_LIMIT_PER_BOT", 20)
	v.SetDefault("REACTION_COOLDOWN_MINUTES", 30)
	v.SetDefault("REACTION_EMOJIS", `["👍","🔥","🤔","👀","✅","⚡","😎"]`)
	v.SetDefault("REACTION_MAX_REACTIONS_PER_POST_PER_DAY", 3)
	v.SetDefault("REACTION_USE_ALLOWED_FROM_TELEGRAM", true)
	v.SetDefault("REACTION_ALLOWED_SAMPLE_LIMIT", 12)
	v.SetDefault("REACTION_MIN_BOTS_PER_POST", 1)

	v.SetDefault("CHAT_REACTIONS_ENABLED", false)
	v.SetDefault("CHAT_REACTION_PROBABILITY", 0.35)
	v.SetDefault("CHAT_REACTION_DAILY_LIMIT_PER_BOT", 15)
	v.SetDefault("CHAT_REACTION_COOLDOWN_MINUTES", 45)
	v.SetDefault("CHAT_REACTION_EMOJIS", `["👍","🤔","👀"]`)
	v.SetDefault("CHAT_REACTION_MAX_REACTIONS_PER_POST_PER_DAY", 2)
	v.SetDefault("CHAT_REACTION_USE_ALLOWED_FROM_TELEGRAM", true)
	v.SetDefault("CHAT_REACTION_ALLOWED_SAMPLE_LIMIT", 12)
	v.SetDefault("CHAT_REACTION_MIN_BOTS_PER_POST", 1)
	v.SetDefault("CHAT_REACTIONS_MODEL_DRIVEN", false)
	v.SetDefault("CHAT_REACTIONS_MODEL_NULL_RATE", 0.65)

	v.SetDefault("ADMIN_REACTIONS_ENABLED", false)
	v.SetDefault("ADMIN_REACTIONS_ACCOUNT", "")
	v.SetDefault("ADMIN_REACTIONS_TARGET_EMOJI", "👀")
	v.SetDefault("ADMIN_REACTIONS_FALLBACK_EMOJI", "👍")
	v.SetDefault("ADMIN_REACTIONS_SKIP_IF_UNAVAILABLE", false)
	v.SetDefault("ADMIN_REACTIONS_PROBABILITY", 1.0)
}

// Load reads and validates the configuration from v. Missing credentials
// or malformed JSON are fatal.
func Load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	cfg := &Config{
		MinTextLength:    v.GetInt("MIN_TEXT_LENGTH"),
		SleepMinSeconds:  v.GetInt("SERVICE_SLEEP_MIN_SECONDS"),
		SleepMaxSeconds:  v.GetInt("SERVICE_SLEEP_MAX_SECONDS"),
		OwnerChatID:      v.GetInt64("OWNER_CHAT_ID"),
		ControlBotToken:  v.GetString("CONTROL_BOT_TOKEN"),
		SystemPromptPath: v.GetString("SYSTEM_PROMPT_PATH"),
		Dedup: Dedup{
			Enabled:             v.GetBool("DEDUP_ENABLED"),
			WindowSize:          v.GetInt("DEDUP_WINDOW_SIZE"),
			BM25Threshold:       v.GetFloat64("DEDUP_BM25_THRESHOLD"),
			AdFilterEnabled:     v.GetBool("AD_FILTER_ENABLED"),
			AdFilterThreshold:   v.GetInt("AD_FILTER_THRESHOLD"),
			AdFilterKeywords:    v.GetString("AD_FILTER_KEYWORDS"),
			FingerprintRingSize: v.GetInt("DISCUSSION_FINGERPRINT_RING_SIZE"),
		},
		Blackbox: Blackbox{
			MinWordLen: v.GetInt("BLACKBOX_MIN_WORD_LEN"),
			Ratio:      v.GetFloat64("BLACKBOX_RATIO"),
			DistortMin: v.GetInt("BLACKBOX_DISTORT_MIN"),
			DistortMax: v.GetInt("BLACKBOX_DISTORT_MAX"),
		},
		AdminReactions: AdminReactions{
			Enabled:           v.GetBool("ADMIN_REACTIONS_ENABLED"),
			AccountName:       v.GetString("ADMIN_REACTIONS_ACCOUNT"),
			TargetEmoji:       v.GetString("ADMIN_REACTIONS_TARGET_EMOJI"),
			FallbackEmoji:     v.GetString("ADMIN_REACTIONS_FALLBACK_EMOJI"),
			SkipIfUnavailable: v.GetBool("ADMIN_REACTIONS_SKIP_IF_UNAVAILABLE"),
			Probability:       v.GetFloat64("ADMIN_REACTIONS_PROBABILITY"),
		},
	}

	var err error
	cfg.PostReactions, err = loadReactions(v, "REACTIONS_ENABLED", "REACTION_")
	if err != nil {
		return nil, err
	}
	chat, err := loadReactions(v, "CHAT_REACTIONS_ENABLED", "CHAT_REACTION_")
	if err != nil {
		return nil, err
	}
	cfg.ChatReactions = ChatReactions{
		Reactions:     chat,
		ModelDriven:   v.GetBool("CHAT_REACTIONS_MODEL_DRIVEN"),
		ModelNullRate: v.GetFloat64("CHAT_REACTIONS_MODEL_NULL_RATE"),
	}

	if raw := v.GetString("ACCOUNTS_JSON"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &cfg.Accounts); err != nil {
			return nil, errors.Wrap(err, "ACCOUNTS_JSON is not valid JSON")
		}
	}
	if raw := v.GetString("PIPELINES_JSON"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &cfg.Pipelines); err != nil {
			return nil, errors.Wrap(err, "PIPELINES_JSON is not valid JSON")
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadReactions(v *viper.Viper, enabledKey, prefix string) (Reactions, error) {
	r := Reactions{
		Enabled:                   v.GetBool(enabledKey),
		Probability:               v.GetFloat64(prefix + "PROBABILITY"),
		DailyLimitPerBot:          v.GetInt(prefix + "DAILY_LIMIT_PER_BOT"),
		CooldownMinutes:           v.GetInt(prefix + "COOLDOWN_MINUTES"),
		MaxReactionsPerPostPerDay: v.GetInt(prefix + "MAX_REACTIONS_PER_POST_PER_DAY"),
		UseAllowedFromTelegram:    v.GetBool(prefix + "USE_ALLOWED_FROM_TELEGRAM"),
		AllowedSampleLimit:        v.GetInt(prefix + "ALLOWED_SAMPLE_LIMIT"),
		MinBotsPerPost:            v.GetInt(prefix + "MIN_BOTS_PER_POST"),
	}
	if raw := v.GetString(prefix + "EMOJIS"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &r.Emojis); err != nil {
			return r, errors.Wrapf(err, "%sEMOJIS is not a JSON list", prefix)
		}
	}
	return r, nil
}

func (c *Config) normalize() error {
	names := map[string]bool{}
	for i := range c.Accounts {
		a := &c.Accounts[i]
		if a.Name == "" {
			return errors.New("account without a name")
		}
		if names[a.Name] {
			return errors.Errorf("duplicate account name %s", a.Name)
		}
		names[a.Name] = true
		if a.Reader.APIID == 0 || a.Reader.APIHash == "" {
			return errors.Errorf("account %s: reader credentials required", a.Name)
		}
		if a.Behavior < 1 || a.Behavior > 5 {
			a.Behavior = 3
		}
	}

	pipeNames := map[string]bool{}
	for i := range c.Pipelines {
		p := &c.Pipelines[i]
		if p.Name == "" {
			return errors.New("pipeline without a name")
		}
		if pipeNames[p.Name] {
			return errors.Errorf("duplicate pipeline name %s", p.Name)
		}
		pipeNames[p.Name] = true
		if !names[p.AccountName] {
			return errors.Errorf("pipeline %s references unknown account %s", p.Name, p.AccountName)
		}

		p.Mode = strings.ToUpper(strings.TrimSpace(p.Mode))
		switch p.Mode {
		case "TEXT", "TEXT_IMAGE", "TEXT_MEDIA", "PLAGIAT":
		case "":
			p.Mode = "TEXT"
		default:
			return errors.Errorf("pipeline %s: unknown mode %q", p.Name, p.Mode)
		}
		p.Type = strings.ToUpper(strings.TrimSpace(p.Type))
		switch p.Type {
		case "STANDARD", "DISCUSSION":
		case "":
			p.Type = "STANDARD"
		default:
			return errors.Errorf("pipeline %s: unknown type %q", p.Name, p.Type)
		}
		if p.IntervalSec <= 0 {
			p.IntervalSec = 3600
		}

		if p.Type == "DISCUSSION" {
			if p.Discussion == nil {
				return errors.Errorf("pipeline %s: DISCUSSION requires discussion settings", p.Name)
			}
			d := p.Discussion
			if d.TargetChat == "" || d.SourcePipelineName == "" {
				return errors.Errorf("pipeline %s: targetChat and sourcePipelineName required", p.Name)
			}
			if d.KMin <= 0 {
				d.KMin = 5
			}
			if d.KMax <= 0 {
				d.KMax = 8
			}
			if d.KMin > d.KMax {
				return errors.Errorf("pipeline %s: kMin > kMax", p.Name)
			}
			if d.ReplyToReplyProbability <= 0 {
				d.ReplyToReplyProbability = 15
			}
			if d.Timezone == "" {
				d.Timezone = "Europe/Moscow"
			}
			if d.MinIntervalMinutes <= 0 {
				d.MinIntervalMinutes = 90
			}
			if d.MaxIntervalMinutes <= 0 {
				d.MaxIntervalMinutes = 180
			}
			if d.MinIntervalMinutes > d.MaxIntervalMinutes {
				return errors.Errorf("pipeline %s: minIntervalMinutes > maxIntervalMinutes", p.Name)
			}
			if d.InactivityPauseMinutes < 0 {
				return errors.Errorf("pipeline %s: inactivityPauseMinutes must be >= 0", p.Name)
			}
			if d.MaxAutoRepliesPerChatPerDay < 0 {
				return errors.Errorf("pipeline %s: maxAutoRepliesPerChatPerDay must be >= 0", p.Name)
			}
			if d.InactivityPauseMinutes == 0 {
				d.InactivityPauseMinutes = 60
			}
			if d.MaxAutoRepliesPerChatPerDay == 0 {
				d.MaxAutoRepliesPerChatPerDay = 30
			}
			if d.UserReplyMaxAgeMinutes <= 0 {
				d.UserReplyMaxAgeMinutes = 30
			}
		}
	}

	if c.SleepMinSeconds < 0 {
		c.SleepMinSeconds = 0
	}
	if c.SleepMaxSeconds < c.SleepMinSeconds {
		c.SleepMaxSeconds = c.SleepMinSeconds
	}
	if c.ChatReactions.ModelNullRate < 0 || c.ChatReactions.ModelNullRate > 1 {
		c.ChatReactions.ModelNullRate = 0.65
	}
	return nil
}

// AccountByName returns the named account or nil.
func (c *Config) AccountByName(name string) *Account {
	for i := range c.Accounts {
		if c.Accounts[i].Name == name {
			return &c.Accounts[i]
		}
	}
	return nil
}

// PipelineByName returns the named pipeline or nil.
func (c *Config) PipelineByName(name string) *Pipeline {
	for i := range c.Pipelines {
		if c.Pipelines[i].Name == name {
			return &c.Pipelines[i]
		}
	}
	return nil
}
