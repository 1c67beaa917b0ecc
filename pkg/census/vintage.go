package census

// vintageSpec maps one census edition onto its dataset path and variable
// names. The decennial editions have no tract income table; MedianIncome
// stays nil for them.
type vintageSpec struct {
	path         string
	total        string
	vars         map[string]string
	households   string
	medianIncome string
}

var vintageSpecs = map[Vintage]vintageSpec{
	Vintage2010: {
		path:  "2010/dec/sf1",
		total: "P005001",
		vars: map[string]string{
			KeyHispanic:       "P005010",
			KeyWhite:          "P005003",
			KeyBlack:          "P005004",
			KeyNativeAmerican: "P005005",
			KeyAsian:          "P005006",
			KeyHPI:            "P005007",
			KeyOther:          "P005008",
			KeyTwoOrMore:      "P005009",
		},
		households: "H001001",
	},
	Vintage2020: {
		path:  "2020/dec/pl",
		total: "P2_001N",
		vars: map[string]string{
			KeyHispanic:       "P2_002N",
			KeyWhite:          "P2_005N",
			KeyBlack:          "P2_006N",
			KeyNativeAmerican: "P2_007N",
			KeyAsian:          "P2_008N",
			KeyHPI:            "P2_009N",
			KeyOther:          "P2_010N",
			KeyTwoOrMore:      "P2_011N",
		},
		households: "H1_001N",
	},
	VintageACS: {
		path:  "2023/acs/acs5",
		total: "B03002_001E",
		vars: map[string]string{
			KeyHispanic:       "B03002_012E",
			KeyWhite:          "B03002_003E",
			KeyBlack:          "B03002_004E",
			KeyNativeAmerican: "B03002_005E",
			KeyAsian:          "B03002_006E",
			KeyHPI:            "B03002_007E",
			KeyOther:          "B03002_008E",
			KeyTwoOrMore:      "B03002_009E",
		},
		households:   "B11001_001E",
		medianIncome: "B19013_001E",
	},
}

// shareKeys returns the population keys in stable order.
func shareKeys() []string {
	return []string{
		KeyHispanic, KeyWhite, KeyBlack, KeyNativeAmerican,
		KeyAsian, KeyHPI, KeyOther, KeyTwoOrMore,
	}
}

// demographicVars lists the variables for a county demographics request,
// total first, then the share variables in key order.
func (s vintageSpec) demographicVars() []string {
	vars := []string{s.total}
	for _, k := range shareKeys() {
		vars = append(vars, s.vars[k])
	}
	return vars
}

// tractVars lists the variables for a tract distribution request.
func (s vintageSpec) tractVars() []string {
	vars := []string{s.households, s.total, s.vars[KeyWhite]}
	if s.medianIncome != "" {
		vars = append(vars, s.medianIncome)
	}
	return vars
}
