package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kalambet/fcsentinel/internal/pipeline"
	"github.com/kalambet/fcsentinel/internal/risk"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
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

const rowFormat = "%-14s %-24s %-16s %6s  %-12s %s\n"

func printRowHeader(w io.Writer) {
	fmt.Fprintf(w, rowFormat, "FC", "NAME", "CITY", "SCORE", "STATUS", "CONTINGENCY")
}

// printRow writes one dashboard row. Padding is applied before color so
// the columns stay aligned.
func printRow(w io.Writer, row pipeline.Row) {
	status := fmt.Sprintf("%-12s", row.Status)
	switch risk.Status(row.Status) {
	case risk.HighRisk:
		status = colorize(colorRed, status)
	case risk.MediumRisk:
		status = colorize(colorYellow, status)
	case risk.LowRisk:
		status = colorize(colorGreen, status)
	}
	score := fmt.Sprintf("%.0f", row.RiskScore)
	summary := row.Summary
	if row.Outcome == pipeline.OutcomeError {
		score = "-"
		summary = colorize(colorRed, summary)
	}
	fmt.Fprintf(w, "%-14s %-24s %-16s %6s  %s %s\n",
		truncate(row.FCID, 14), truncate(row.FCName, 24), truncate(row.City, 16), score, status, summary)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n-1])) + "…"
}
