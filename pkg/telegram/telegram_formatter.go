package telegram

import (
	"fmt"
	"strings"
	"time"

	"golang-stock-pulse/internal/entity"
)

const dateLayout = "Mon, 02 Jan 2006 15:04 MST"

// FormatDegradedJobAlert reports a job that crossed its consecutive failure threshold.
func FormatDegradedJobAlert(at time.Time, jobType entity.JobType, failures int, errMsg string) string {
	return fmt.Sprintf(`📛 *[JOB DEGRADED]*
%s
🔧 %s
🔁 %d consecutive failures
⚠️ %s
`, at.UTC().Format(dateLayout), escape(string(jobType)), failures, escape(errMsg))
}

// FormatJobRecovered reports a degraded job that completed again.
func FormatJobRecovered(at time.Time, jobType entity.JobType) string {
	return fmt.Sprintf("✅ *[JOB RECOVERED]*\n%s\n🔧 %s\n", at.UTC().Format(dateLayout), escape(string(jobType)))
}

// FormatSignalSummary lists at most limit signals in the given order.
func FormatSignalSummary(at time.Time, signals []entity.SignalPrediction, limit int) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📊 *Daily signals* (%s)\n", at.UTC().Format("2006-01-02")))
	if len(signals) == 0 {
		sb.WriteString("No signal could be composed.\n")
		return sb.String()
	}
	if limit <= 0 || limit > len(signals) {
		limit = len(signals)
	}
	for _, s := range signals[:limit] {
		sb.WriteString(fmt.Sprintf("\n%s *%s* %.1f (%s, confidence %.0f%%)\n",
			signalEmoji(s.SignalType), escape(s.Ticker), s.ScreeningScore, s.SignalType, s.Confidence))
		sb.WriteString(fmt.Sprintf("💰 %.2f", s.CurrentPrice))
		if s.PredictedPrice1d != nil {
			sb.WriteString(fmt.Sprintf(" → %.2f (1d)", *s.PredictedPrice1d))
		}
		sb.WriteString("\n")
		for _, r := range s.PrimaryReasons {
			sb.WriteString(fmt.Sprintf("• %s\n", escape(r)))
		}
	}
	if rest := len(signals) - limit; rest > 0 {
		sb.WriteString(fmt.Sprintf("\n…and %d more\n", rest))
	}
	return sb.String()
}

func signalEmoji(t entity.SignalType) string {
	switch t {
	case entity.SignalBullish:
		return "🟢"
	case entity.SignalBearish:
		return "🔴"
	default:
		return "⚪"
	}
}

// escape neutralises legacy Markdown control characters.
func escape(s string) string {
	return strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[").Replace(s)
}
