package topics

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "economy and currency",
			text: "Курс рубля снова падает, экономика в рецессии",
			want: []string{"economy", "currency"},
		},
		{
			name: "sports",
			text: "Вчерашний матч чемпионата закончился со счётом 2:1",
			want: []string{"sport"},
		},
		{
			name: "case insensitive",
			text: "ЭКОНОМИКА РОССИИ",
			want: []string{"economy"},
		},
		{
			name: "no topics",
			text: "привет как дела",
			want: nil,
		},
		{
			name: "empty",
			text: "",
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Extract(tt.text)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractDedupAndCap(t *testing.T) {
	// Many needles for the same tag produce the tag once.
	got := Extract("рубль доллар евро валюта")
	assert.Equal(t, []string{"currency"}, got)

	// A text hitting many tags is capped at 8.
	text := strings.Join([]string{
		"экономика", "рубль", "нефть", "банк", "криптовалюта",
		"политика", "война", "технологии", "спорт", "медицина",
	}, " ")
	got = Extract(text)
	assert.Len(t, got, 8)
}

func TestExtractLowercaseOutput(t *testing.T) {
	for _, tag := range Extract("Экономика, СПОРТ и ПОЛИТИКА") {
		assert.Equal(t, strings.ToLower(tag), tag)
	}
}

func TestOverlap(t *testing.T) {
	assert.Equal(t, 2, Overlap([]string{"economy", "sport", "tech"}, []string{"SPORT", "economy"}))
	assert.Equal(t, 0, Overlap(nil, []string{"economy"}))
	assert.Equal(t, 0, Overlap([]string{"economy"}, nil))
	assert.Equal(t, 1, Overlap([]string{"economy"}, []string{"economy", "economy"}))
}
