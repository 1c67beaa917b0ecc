// Package demography is the single source of truth for the derived
// demographic classifications: race/ethnicity coalescing, income-level
// bucketing, majority-minority flags, and minority-tract quartiles. The
// query builders emit the same rules as SQL; everything computed in
// process goes through these functions.
package demography

import (
	"github.com/justdata-platform/justdata/internal/model"
)

// Ethnicity codes marking Hispanic or Latino, primary or subcategory.
func isHispanicCode(code int) bool {
	return code == 1 || (code >= 11 && code <= 14)
}

// Race codes 6 ("information not provided") and 7 ("not applicable") are
// withheld sentinels: they never classify and the coalesce skips them.
func isWithheldRace(code int) bool {
	return code == 6 || code == 7
}

// CoalesceRaceEthnicity derives the combined race/ethnicity tag from the
// applicant's ethnicity and race code slots. A zero code means the slot
// is empty (NULL in the warehouse).
//
// If any ethnicity slot carries a Hispanic code the result is Hispanic.
// Otherwise race slots 1..5 are scanned in order and the first usable
// code classifies the row; rows with no usable code are No Data.
func CoalesceRaceEthnicity(ethnicityCodes, raceCodes []int) model.RaceEthnicity {
	for _, code := range ethnicityCodes {
		if isHispanicCode(code) {
			return model.RaceHispanic
		}
	}
	for _, code := range raceCodes {
		if code == 0 || isWithheldRace(code) {
			continue
		}
		switch {
		case code == 1:
			return model.RaceNativeAmerican
		case code == 2 || (code >= 21 && code <= 27):
			return model.RaceAsian
		case code == 3:
			return model.RaceBlack
		case code == 4 || (code >= 41 && code <= 44):
			return model.RaceHPI
		case code == 5:
			return model.RaceWhite
		}
	}
	return model.RaceNoData
}

// IncomeBucketFromPct buckets an income percentage of the MSA median:
// ≤50 low, (50,80] moderate, (80,120] middle, >120 upper.
func IncomeBucketFromPct(pct float64) model.IncomeBucket {
	switch {
	case pct <= 50:
		return model.IncomeLow
	case pct <= 80:
		return model.IncomeModerate
	case pct <= 120:
		return model.IncomeMiddle
	default:
		return model.IncomeUpper
	}
}

// BorrowerIncomeBucket classifies a borrower. Applicant income is
// warehouse-native thousands of dollars; the MSA median family income is
// dollars. A missing income or a missing/zero median yields Unknown, and
// Unknown rows stay out of bucket totals and share denominators.
func BorrowerIncomeBucket(applicantIncomeThousands, msaMedianFamilyIncome *float64) model.IncomeBucket {
	if applicantIncomeThousands == nil || msaMedianFamilyIncome == nil || *msaMedianFamilyIncome <= 0 {
		return model.IncomeUnknown
	}
	pct := *applicantIncomeThousands * 1000 / *msaMedianFamilyIncome * 100
	return IncomeBucketFromPct(pct)
}

// TractIncomeBucket classifies a tract from its tract-to-MSA income
// percentage. A missing percentage yields Unknown.
func TractIncomeBucket(tractToMSAPct *float64) model.IncomeBucket {
	if tractToMSAPct == nil {
		return model.IncomeUnknown
	}
	return IncomeBucketFromPct(*tractToMSAPct)
}

// IsMMCT reports whether a tract is majority-minority: minority
// population percent ≥ 50. A missing percent is not majority-minority.
func IsMMCT(minorityPct *float64) bool {
	return minorityPct != nil && *minorityPct >= 50
}
