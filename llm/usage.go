package llm

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const usageHeader = "timestamp\ttext_model\tinput_tokens\toutput_tokens\ttotal_tokens\t" +
	"text_cost_usd\timage_model\timage_tokens\timage_count\timage_cost_usd\t" +
	"post_text\n"

// UsageRecord is one published post with its token and cost accounting.
type UsageRecord struct {
	Timestamp    time.Time
	TextModel    string
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	TextCostUSD  float64
	ImageModel   string
	ImageTokens  int
	ImageCount   int
	ImageCostUSD float64
	PostText     string
}

// UsageLog appends per-post usage lines to a TSV file, writing the header
// when the file is new or empty.
type UsageLog struct {
	mu   sync.Mutex
	path string
}

// NewUsageLog creates a usage log at path.
func NewUsageLog(path string) *UsageLog {
	return &UsageLog{path: path}
}

// sanitizeTSV keeps post text on one line inside the TSV.
func sanitizeTSV(s string) string {
	s = strings.ReplaceAll(s, "\t", " ")
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return s
}

// Append writes one record.
func (l *UsageLog) Append(rec UsageRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if dir := filepath.Dir(l.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "failed to create usage log directory")
		}
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(err, "failed to open usage log")
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		if _, err := f.WriteString(usageHeader); err != nil {
			return err
		}
	}

	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	line := fmt.Sprintf("%s\t%s\t%d\t%d\t%d\t%.6f\t%s\t%d\t%d\t%.6f\t%s\n",
		ts.Format("2006-01-02 15:04:05"),
		rec.TextModel, rec.InputTokens, rec.OutputTokens, rec.TotalTokens, rec.TextCostUSD,
		rec.ImageModel, rec.ImageTokens, rec.ImageCount, rec.ImageCostUSD,
		sanitizeTSV(rec.PostText))
	_, err = f.WriteString(line)
	return err
}

// EstimateTextCost prices a call from per-million-token rates.
func EstimateTextCost(inputTokens, outputTokens int, inputPrice, outputPrice float64) float64 {
	return float64(inputTokens)/1_000_000*inputPrice + float64(outputTokens)/1_000_000*outputPrice
}
