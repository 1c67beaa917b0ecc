// Package narrative authors the AI prose sections of a report. The
// assembler digests the finalized tables into compact JSON, pairs each
// digest with a section instruction and a fixed style guide, and calls
// the provider chain. Narratives are attached after every table is final
// and never alter table data.
package narrative

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/justdata-platform/justdata/internal/model"
	"github.com/justdata-platform/justdata/pkg/ai"
)

const styleGuide = `You are the narrative writer for a lending analysis platform. Write in the third person about the data provided. State only what the tables support; never speculate about lender strategy, intent, or cause. Plain prose only: no headings, no bullet points, no recommendations. Amount figures are thousands of dollars.`

const executiveSummaryPrompt = `Write an executive summary of the analysis in two or three paragraphs: the geography and years covered, total volume and its trend, and how concentrated the market is.

DATA:
%s`

const keyFindingsPrompt = `Write the key findings in two or three paragraphs: which borrower groups account for the lending, how their shares compare with census population shares, and how lending splits across income levels and neighborhood types.

DATA:
%s`

const trendsPrompt = `Write one or two paragraphs describing the year-over-year movement of lending volume: growth or decline, the size of the change, and any reversal across the period.

DATA:
%s`

const bankStrategiesPrompt = `Write two paragraphs describing how activity is distributed across institutions: the leading lenders and their volumes, market concentration, and how the subject institution compares with its peer group when one is present.

DATA:
%s`

const communityImpactPrompt = `Write two paragraphs on community reach: lending to low- and moderate-income borrowers and tracts, activity across minority-share neighborhood quartiles against the census benchmarks, and branch presence when branch data is present.

DATA:
%s`

const tableAnnotationPrompt = `Write exactly two paragraphs describing the %s table: the first on what the table measures and its most prominent values, the second on the clearest pattern across its rows.

DATA:
%s`

// Generator produces prose for one prompt. *ai.Chain implements it.
type Generator interface {
	Generate(ctx context.Context, p ai.Prompt) (*ai.Result, error)
}

// Assembler builds section prompts from a finalized report and collects
// the generated prose.
type Assembler struct {
	gen     Generator
	printer *message.Printer
}

// NewAssembler wires an assembler to a generator.
func NewAssembler(gen Generator) *Assembler {
	return &Assembler{
		gen:     gen,
		printer: message.NewPrinter(language.English),
	}
}

// Section authors one narrative section. Failures come back as the
// chain's typed error; the caller decides whether they degrade or abort.
func (a *Assembler) Section(ctx context.Context, section model.NarrativeSection, r *model.Report) (string, error) {
	text, err := a.prompt(section, r)
	if err != nil {
		return "", err
	}
	res, err := a.gen.Generate(ctx, ai.Prompt{
		Section: string(section),
		System:  styleGuide,
		Text:    text,
	})
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// All authors every requested section in order, warn-and-continue per
// section. Failed sections are left out of the result map and recorded as
// warnings. onSection, when non-nil, fires before each section starts;
// the pipeline wires progress reporting through it. A cancelled context
// stops the walk since no further section can succeed.
func (a *Assembler) All(ctx context.Context, r *model.Report, sections []model.NarrativeSection, onSection func(model.NarrativeSection)) (map[model.NarrativeSection]string, []model.Warning) {
	out := make(map[model.NarrativeSection]string, len(sections))
	var warnings []model.Warning

	for _, section := range sections {
		if onSection != nil {
			onSection(section)
		}
		prose, err := a.Section(ctx, section, r)
		if err != nil {
			zap.L().Warn("narrative: section failed",
				zap.String("section", string(section)),
				zap.Error(err),
			)
			warnings = append(warnings, model.Warning{Code: model.WarnNarrativeFailed, Detail: string(section)})
			if ctx.Err() != nil {
				break
			}
			continue
		}
		out[section] = prose
	}
	return out, warnings
}

func (a *Assembler) prompt(section model.NarrativeSection, r *model.Report) (string, error) {
	if table, ok := strings.CutPrefix(string(section), "table:"); ok {
		digest, err := a.tableDigest(table, r)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf(tableAnnotationPrompt, table, digest), nil
	}

	switch section {
	case model.SectionExecutiveSummary:
		digest, err := marshalDigest(executiveSummaryDigest{
			Meta:          a.metaDigest(r),
			Years:         a.yearDigests(r),
			Trends:        a.trendDigests(r),
			Concentration: concentrationDigests(r),
		})
		if err != nil {
			return "", err
		}
		return fmt.Sprintf(executiveSummaryPrompt, digest), nil

	case model.SectionKeyFindings:
		digest, err := marshalDigest(keyFindingsDigest{
			Demographic: a.demographicDigests(r),
			Income:      a.incomeDigests(r),
			Census:      contextDigests(r),
		})
		if err != nil {
			return "", err
		}
		return fmt.Sprintf(keyFindingsPrompt, digest), nil

	case model.SectionTrends:
		digest, err := marshalDigest(trendsDigest{
			Years:  a.yearDigests(r),
			Trends: a.trendDigests(r),
		})
		if err != nil {
			return "", err
		}
		return fmt.Sprintf(trendsPrompt, digest), nil

	case model.SectionBankStrategies:
		digest, err := marshalDigest(bankStrategiesDigest{
			TopLenders:    a.lenderDigests(r),
			Concentration: concentrationDigests(r),
			Peer:          peerDigestFor(r),
		})
		if err != nil {
			return "", err
		}
		return fmt.Sprintf(bankStrategiesPrompt, digest), nil

	case model.SectionCommunityImpact:
		digest, err := marshalDigest(communityImpactDigest{
			Income:    a.incomeDigests(r),
			Quartiles: quartileDigestFor(r),
			Census:    contextDigests(r),
			Branches:  a.branchDigests(r),
		})
		if err != nil {
			return "", err
		}
		return fmt.Sprintf(communityImpactPrompt, digest), nil

	default:
		return "", eris.Errorf("narrative: unknown section %q", section)
	}
}
