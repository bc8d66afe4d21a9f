package evidence

import (
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/fcsentinel/internal/storage"
)

// NoData marks a section that was fetched and came back empty.
const NoData = "(no data)"

// NotFetchedPrefix starts the marker of a section whose query failed.
const NotFetchedPrefix = "(not fetched: "

var sectionTitles = map[string]string{
	storage.CategoryWeather:   "Weather",
	storage.CategorySocial:    "Social Media",
	storage.CategoryNews:      "News",
	storage.CategoryLabor:     "Labor",
	storage.CategoryLogistics: "Logistics",
	InventorySection:          "Inventory (Sample Products)",
}

// SectionTitle is the human heading for a section key.
func SectionTitle(section string) string {
	if t, ok := sectionTitles[section]; ok {
		return t
	}
	return section
}

// RenderSection writes one bullet per record of category, or a marker for
// an empty or failed section.
func (b Bundle) RenderSection(sb *strings.Builder, category string) {
	recs := b.Section(category)
	if len(recs) == 0 && b.writeFailure(sb, category) {
		return
	}
	if len(recs) == 0 {
		sb.WriteString(NoData + "\n")
		return
	}
	for _, r := range recs {
		sb.WriteString(formatRecord(r))
		sb.WriteByte('\n')
	}
}

// RenderInventory writes one bullet per sampled inventory record, or a
// marker for an empty or failed sample.
func (b Bundle) RenderInventory(sb *strings.Builder) {
	if len(b.Inventory) == 0 {
		if !b.writeFailure(sb, InventorySection) {
			sb.WriteString(NoData + "\n")
		}
		return
	}
	for _, r := range b.Inventory {
		fmt.Fprintf(sb, "- SKU: %s, Category: %s, Description: %s, Quantity: %d, Emergency: %s\n",
			r.SKU, orUnknown(r.Category), orUnknown(r.Description), r.Quantity, titleBool(r.Emergency))
	}
}

func (b Bundle) writeFailure(sb *strings.Builder, section string) bool {
	reason, ok := b.Errors[section]
	if !ok {
		return false
	}
	sb.WriteString(NotFetchedPrefix + reason + ")\n")
	return true
}

func titleBool(v bool) string {
	if v {
		return "True"
	}
	return "False"
}

func formatRecord(r storage.EvidenceRecord) string {
	ts := r.Timestamp.UTC().Format(time.RFC3339)
	source := orUnknown(r.Source)
	switch r.Category {
	case storage.CategoryWeather:
		return fmt.Sprintf("- %s: %s, Temp %s, Conditions: %s", ts, orUnknown(r.Title), orUnknown(r.Signal), orUnknown(r.Detail))
	case storage.CategorySocial:
		return fmt.Sprintf("- %s (%s): %q (Sentiment: %s)", source, ts, text(r), orDefault(r.Signal, "Neutral"))
	case storage.CategoryNews:
		return fmt.Sprintf("- %s (%s): %q (Impact: %s)", source, ts, text(r), orUnknown(r.Signal))
	case storage.CategoryLabor:
		return fmt.Sprintf("- %s (%s): %q (Severity: %s)", source, ts, text(r), orUnknown(r.Signal))
	case storage.CategoryLogistics:
		return fmt.Sprintf("- %s (%s): %q (Disruption Level: %s)", source, ts, text(r), orUnknown(r.Signal))
	}
	return fmt.Sprintf("- %s (%s): %q", source, ts, text(r))
}

// text prefers the detail body and falls back to the title.
func text(r storage.EvidenceRecord) string {
	if r.Detail != "" {
		return r.Detail
	}
	return r.Title
}

func orUnknown(s string) string { return orDefault(s, "Unknown") }

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
