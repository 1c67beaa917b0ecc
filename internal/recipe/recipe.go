// Package recipe composes the per-application analysis configurations. A
// recipe fixes the warehouse domain, the report tables the pipeline
// surfaces, the narrative sections requested, the census vintages joined,
// and the tuning knobs a deployment may override.
package recipe

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/justdata-platform/justdata/internal/model"
)

// Application names accepted in AnalysisRequest.App.
const (
	AppMortgage      = "mortgage"
	AppBranch        = "branch"
	AppSmallBusiness = "small-business"
	AppBankMerger    = "bank-merger"
	AppExplorer      = "explorer"
	AppBranchMap     = "branch-map"
)

// Report table names. Recipes list the tables they surface; the export
// writers use the same names for sheet and section titles.
const (
	TableSummary            = "summary"
	TableDemographic        = "byDemographic"
	TableIncomeNeighborhood = "byIncomeNeighborhood"
	TableLenders            = "byLender"
	TableLendersByYear      = "byLenderByYear"
	TableConcentration      = "concentration"
	TableTrends             = "trends"
	TablePeerComparison     = "peerComparison"
	TableBranches           = "branches"
)

// Concentration bases for the HHI computation.
const (
	BasisAmount = "amount"
	BasisCount  = "count"
)

// Download format names accepted by GET /download.
const (
	FormatExcel = "excel"
	FormatPDF   = "pdf"
	FormatCSV   = "csv"
	FormatJSON  = "json"
	FormatZIP   = "zip"
)

// Recipe is one application's composition: which query builder runs, which
// report surface the pipeline fills, and how shares and rankings are tuned.
// Recipes share all classification code; they differ only in configuration.
type Recipe struct {
	Name               string
	Domain             model.DataDomain
	Tables             []string
	NarrativeSections  []model.NarrativeSection
	Vintages           []model.Vintage
	Denominator        model.Denominator
	ConcentrationBasis string
	TopLenderN         int
	QueryTimeout       time.Duration
	ExportFormats      []string

	// TractBoundaries marks recipes whose report embeds census tract
	// rings (the branch-map surface).
	TractBoundaries bool
}

// HasTable reports whether the recipe surfaces the named report table.
func (r Recipe) HasTable(name string) bool {
	for _, t := range r.Tables {
		if t == name {
			return true
		}
	}
	return false
}

// SupportsFormat reports whether GET /download accepts the format for
// this recipe.
func (r Recipe) SupportsFormat(format string) bool {
	for _, f := range r.ExportFormats {
		if f == format {
			return true
		}
	}
	return false
}

// Registry maps application names to their recipes.
type Registry struct {
	recipes map[string]Recipe
	order   []string // insertion order for deterministic iteration
}

// NewRegistry creates a registry populated with the six applications.
func NewRegistry() *Registry {
	r := &Registry{recipes: make(map[string]Recipe)}

	allFormats := []string{FormatExcel, FormatPDF, FormatCSV, FormatJSON, FormatZIP}

	r.Register(Recipe{
		Name:   AppMortgage,
		Domain: model.DomainMortgage,
		Tables: []string{
			TableSummary, TableDemographic, TableIncomeNeighborhood,
			TableLenders, TableLendersByYear, TableConcentration,
			TableTrends, TablePeerComparison,
		},
		NarrativeSections: []model.NarrativeSection{
			model.SectionExecutiveSummary, model.SectionKeyFindings, model.SectionTrends,
		},
		Vintages:           model.AllVintages(),
		Denominator:        model.DenominatorGroupSum,
		ConcentrationBasis: BasisAmount,
		TopLenderN:         10,
		QueryTimeout:       10 * time.Minute,
		ExportFormats:      allFormats,
	})

	r.Register(Recipe{
		Name:   AppBranch,
		Domain: model.DomainBranch,
		Tables: []string{
			TableSummary, TableLenders, TableTrends, TableBranches,
		},
		NarrativeSections: []model.NarrativeSection{
			model.SectionExecutiveSummary, model.SectionCommunityImpact,
		},
		Vintages:           []model.Vintage{model.VintageLatestACS},
		Denominator:        model.DenominatorYearTotal,
		ConcentrationBasis: BasisCount,
		TopLenderN:         10,
		QueryTimeout:       5 * time.Minute,
		ExportFormats:      allFormats,
	})

	r.Register(Recipe{
		Name:   AppSmallBusiness,
		Domain: model.DomainSmallBusiness,
		Tables: []string{
			TableSummary, TableDemographic, TableIncomeNeighborhood,
			TableLenders, TableConcentration, TableTrends,
		},
		NarrativeSections: []model.NarrativeSection{
			model.SectionExecutiveSummary, model.SectionKeyFindings, model.SectionCommunityImpact,
		},
		Vintages:           []model.Vintage{model.Vintage2020Decennial, model.VintageLatestACS},
		Denominator:        model.DenominatorLoanSizeSum,
		ConcentrationBasis: BasisAmount,
		TopLenderN:         10,
		QueryTimeout:       10 * time.Minute,
		ExportFormats:      allFormats,
	})

	r.Register(Recipe{
		Name:   AppBankMerger,
		Domain: model.DomainMortgage,
		Tables: []string{
			TableSummary, TableLenders, TableLendersByYear,
			TableConcentration, TablePeerComparison, TableTrends,
		},
		NarrativeSections: []model.NarrativeSection{
			model.SectionExecutiveSummary, model.SectionBankStrategies,
		},
		Vintages:           []model.Vintage{model.VintageLatestACS},
		Denominator:        model.DenominatorYearTotal,
		ConcentrationBasis: BasisAmount,
		TopLenderN:         25,
		QueryTimeout:       10 * time.Minute,
		ExportFormats:      allFormats,
	})

	// The explorer serves interactive cross-filtering: every mortgage
	// table, no narratives, machine-readable formats only.
	r.Register(Recipe{
		Name:   AppExplorer,
		Domain: model.DomainMortgage,
		Tables: []string{
			TableSummary, TableDemographic, TableIncomeNeighborhood,
			TableLenders, TableLendersByYear, TableConcentration,
			TableTrends, TablePeerComparison,
		},
		Vintages:           []model.Vintage{model.VintageLatestACS},
		Denominator:        model.DenominatorYearTotal,
		ConcentrationBasis: BasisAmount,
		TopLenderN:         25,
		QueryTimeout:       3 * time.Minute,
		ExportFormats:      []string{FormatCSV, FormatJSON},
	})

	r.Register(Recipe{
		Name:   AppBranchMap,
		Domain: model.DomainBranch,
		Tables: []string{
			TableSummary, TableBranches,
		},
		Vintages:           []model.Vintage{model.VintageLatestACS},
		Denominator:        model.DenominatorYearTotal,
		ConcentrationBasis: BasisCount,
		TopLenderN:         10,
		QueryTimeout:       2 * time.Minute,
		ExportFormats:      []string{FormatJSON},
		TractBoundaries:    true,
	})

	return r
}

// Register adds a recipe to the registry, replacing any recipe with the
// same name.
func (r *Registry) Register(rec Recipe) {
	if _, ok := r.recipes[rec.Name]; !ok {
		r.order = append(r.order, rec.Name)
	}
	r.recipes[rec.Name] = rec
}

// ForApp returns the recipe for an application name.
func (r *Registry) ForApp(name string) (Recipe, error) {
	rec, ok := r.recipes[name]
	if !ok {
		return Recipe{}, eris.Errorf("recipe: unknown app %q", name)
	}
	return rec, nil
}

// All returns the recipes in registration order.
func (r *Registry) All() []Recipe {
	out := make([]Recipe, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.recipes[name])
	}
	return out
}

// Names returns the application names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
