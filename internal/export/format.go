package export

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/justdata-platform/justdata/internal/model"
)

// printer renders counts and amounts with thousands separators for the
// human-facing formats. Machine formats (csv, json) keep raw numbers.
var printer = message.NewPrinter(language.English)

var titleCaser = cases.Title(language.English)

func formatCount(v int64) string { return printer.Sprintf("%d", v) }

func formatAmount(v float64) string { return printer.Sprintf("%.0f", v) }

func formatPct(v float64) string { return fmt.Sprintf("%.1f%%", v) }

func formatOptPct(v *float64) string {
	if v == nil {
		return ""
	}
	return formatPct(*v)
}

func formatOptFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 1, 64)
}

func yearsLabel(years []int) string {
	parts := make([]string, len(years))
	for i, y := range years {
		parts[i] = strconv.Itoa(y)
	}
	return strings.Join(parts, ", ")
}

// sectionOrder fixes the rendering order of the well-known narrative
// sections; table annotations and anything else follow alphabetically.
var sectionOrder = []model.NarrativeSection{
	model.SectionExecutiveSummary,
	model.SectionKeyFindings,
	model.SectionTrends,
	model.SectionBankStrategies,
	model.SectionCommunityImpact,
}

func orderedSections(narratives map[model.NarrativeSection]string) []model.NarrativeSection {
	var out []model.NarrativeSection
	seen := make(map[model.NarrativeSection]bool, len(narratives))
	for _, s := range sectionOrder {
		if _, ok := narratives[s]; ok {
			out = append(out, s)
			seen[s] = true
		}
	}
	var rest []model.NarrativeSection
	for s := range narratives {
		if !seen[s] {
			rest = append(rest, s)
		}
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })
	return append(out, rest...)
}

func sectionTitle(s model.NarrativeSection) string {
	name := strings.TrimPrefix(string(s), "table:")
	return titleCaser.String(strings.ReplaceAll(name, "-", " "))
}
