package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kalambet/shopchat/internal/chat"
	"github.com/kalambet/shopchat/internal/search"
	"github.com/kalambet/shopchat/internal/session"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorDim    = "\033[2m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+msg))
}

// printMessage writes one conversation entry followed by its product cards.
func printMessage(w io.Writer, msg session.Message) {
	label := "bot"
	color := colorCyan
	if msg.Role == session.RoleUser {
		label, color = "you", colorBold
	}
	fmt.Fprintf(w, "%s %s\n", colorize(color, label+"›"), msg.Text)
	for _, s := range msg.Suggestions {
		fmt.Fprintf(w, "    %s\n", cardLine(s))
	}
}

func cardLine(s session.Suggestion) string {
	parts := []string{fmt.Sprintf("[%d] %s", s.ID, s.Name)}
	if s.Brand != "" {
		parts = append(parts, colorize(colorDim, s.Brand))
	}
	if s.Price != "" {
		parts = append(parts, s.Price)
	}
	if s.Rating > 0 {
		parts = append(parts, fmt.Sprintf("%.1f★", s.Rating))
	}
	if s.Sentiment != "" {
		parts = append(parts, colorize(sentimentColor(s.Sentiment), fmt.Sprintf("%.0f%% %s", s.PositivePercent, s.Sentiment)))
	}
	return "• " + strings.Join(parts, " · ")
}

func sentimentColor(label string) string {
	switch label {
	case "positive":
		return colorGreen
	case "neutral":
		return colorYellow
	default:
		return colorRed
	}
}

// printProducts writes a local search page as a numbered list.
func printProducts(w io.Writer, out search.Outcome) {
	if len(out.Items) == 0 {
		fmt.Fprintf(w, "no products match %q\n", out.Query)
		return
	}
	for i, p := range out.Items {
		line := fmt.Sprintf("%3d. [%d] %s", out.Skip+i+1, p.ID, p.Name)
		if p.Price != nil {
			line += " · " + chat.FormatPrice(*p.Price)
		}
		if p.AvgRating != nil {
			line += fmt.Sprintf(" · %.1f★", *p.AvgRating)
		}
		fmt.Fprintln(w, line)
	}
	total := out.ItemCount
	if out.TotalCount != nil {
		total = *out.TotalCount
	}
	fmt.Fprintln(w, colorize(colorDim, fmt.Sprintf("showing %d-%d of %d", out.Skip+1, out.Skip+len(out.Items), total)))
}
