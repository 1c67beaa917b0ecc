package recipe

import (
	"os"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/justdata-platform/justdata/internal/model"
)

// override is the per-recipe tuning block of the overrides file. Absent
// fields keep the built-in value; a present-but-empty list replaces the
// built-in list (an empty narrative_sections disables narratives).
type override struct {
	NarrativeSections  []string `yaml:"narrative_sections"`
	Vintages           []string `yaml:"vintages"`
	Denominator        string   `yaml:"denominator"`
	ConcentrationBasis string   `yaml:"concentration_basis"`
	TopLenderN         *int     `yaml:"top_lender_n"`
	QueryTimeout       string   `yaml:"query_timeout"`
	ExportFormats      []string `yaml:"export_formats"`
}

// ApplyOverrides merges the YAML tuning file at path into the registry.
// Called once at startup; an unknown recipe name or malformed value fails
// loudly rather than silently running with built-ins.
func (r *Registry) ApplyOverrides(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrapf(err, "recipe: read overrides %s", path)
	}

	// The YAML has a top-level "recipes" key.
	var wrapper struct {
		Recipes map[string]override `yaml:"recipes"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return eris.Wrap(err, "recipe: parse overrides")
	}

	for name, ov := range wrapper.Recipes {
		rec, ok := r.recipes[name]
		if !ok {
			return eris.Errorf("recipe: overrides reference unknown app %q", name)
		}
		if err := applyOverride(&rec, ov); err != nil {
			return eris.Wrapf(err, "recipe: overrides for %q", name)
		}
		r.recipes[name] = rec
		zap.L().Info("recipe: applied overrides", zap.String("app", name))
	}
	return nil
}

func applyOverride(rec *Recipe, ov override) error {
	if ov.NarrativeSections != nil {
		sections := make([]model.NarrativeSection, 0, len(ov.NarrativeSections))
		for _, s := range ov.NarrativeSections {
			if s == "" {
				return eris.New("empty narrative section name")
			}
			sections = append(sections, model.NarrativeSection(s))
		}
		rec.NarrativeSections = sections
	}
	if ov.Vintages != nil {
		vintages := make([]model.Vintage, 0, len(ov.Vintages))
		for _, v := range ov.Vintages {
			vin := model.Vintage(v)
			if !vin.Valid() {
				return eris.Errorf("unknown vintage %q", v)
			}
			vintages = append(vintages, vin)
		}
		rec.Vintages = vintages
	}
	if ov.Denominator != "" {
		d := model.Denominator(ov.Denominator)
		if !d.Valid() {
			return eris.Errorf("unknown denominator %q", ov.Denominator)
		}
		rec.Denominator = d
	}
	if ov.ConcentrationBasis != "" {
		if ov.ConcentrationBasis != BasisAmount && ov.ConcentrationBasis != BasisCount {
			return eris.Errorf("unknown concentration basis %q", ov.ConcentrationBasis)
		}
		rec.ConcentrationBasis = ov.ConcentrationBasis
	}
	if ov.TopLenderN != nil {
		if *ov.TopLenderN <= 0 {
			return eris.Errorf("top_lender_n must be positive, got %d", *ov.TopLenderN)
		}
		rec.TopLenderN = *ov.TopLenderN
	}
	if ov.QueryTimeout != "" {
		d, err := time.ParseDuration(ov.QueryTimeout)
		if err != nil {
			return eris.Wrapf(err, "parse query_timeout %q", ov.QueryTimeout)
		}
		if d <= 0 {
			return eris.Errorf("query_timeout must be positive, got %s", d)
		}
		rec.QueryTimeout = d
	}
	if ov.ExportFormats != nil {
		if len(ov.ExportFormats) == 0 {
			return eris.New("export_formats cannot be empty")
		}
		for _, f := range ov.ExportFormats {
			switch f {
			case FormatExcel, FormatPDF, FormatCSV, FormatJSON, FormatZIP:
			default:
				return eris.Errorf("unknown export format %q", f)
			}
		}
		rec.ExportFormats = ov.ExportFormats
	}
	return nil
}
