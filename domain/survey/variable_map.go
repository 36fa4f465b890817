package survey

import (
	"fmt"
	"strconv"
)

// CanonicalVariable declares one harmonized variable and its raw synonyms in
// priority order
type CanonicalVariable struct {
	Name       string    `yaml:"name"`
	Kind       FieldKind `yaml:"kind"`
	PerQuarter bool      `yaml:"per_quarter"`
	Synonyms   []string  `yaml:"synonyms"`
}

// VariableMap maps historically used raw names onto canonical names
type VariableMap struct {
	Variables []CanonicalVariable
	// Overrides replaces the synonym list of a canonical name for one wave,
	// keyed by WaveID.String()
	Overrides map[string]map[string][]string
}

// Validate checks that canonical names are unique and declare synonyms
func (m VariableMap) Validate() error {
	seen := make(map[string]bool, len(m.Variables))
	for _, v := range m.Variables {
		if v.Name == "" {
			return fmt.Errorf("canonical variable with empty name")
		}
		if seen[v.Name] {
			return fmt.Errorf("canonical variable %s declared twice", v.Name)
		}
		seen[v.Name] = true
		if len(v.Synonyms) == 0 {
			return fmt.Errorf("canonical variable %s has no synonyms", v.Name)
		}
		switch v.Kind {
		case FieldNumeric, FieldText, FieldDate:
		default:
			return fmt.Errorf("canonical variable %s has unknown kind %q", v.Name, v.Kind)
		}
	}
	return nil
}

// Lookup returns the canonical variable by name
func (m VariableMap) Lookup(name string) (CanonicalVariable, bool) {
	for _, v := range m.Variables {
		if v.Name == name {
			return v, true
		}
	}
	return CanonicalVariable{}, false
}

// SynonymsFor returns the raw candidates for a canonical field in a wave.
// Per-quarter variables in multi-quarter waves carry the quarter as suffix.
func (m VariableMap) SynonymsFor(v CanonicalVariable, wave WaveID, quarter int) []string {
	base := v.Synonyms
	if ov, ok := m.Overrides[wave.String()]; ok {
		if syn, ok := ov[v.Name]; ok && len(syn) > 0 {
			base = syn
		}
	}
	if quarter == 0 || wave.QuarterCount() == 1 {
		return base
	}
	out := make([]string, len(base))
	for i, s := range base {
		out[i] = s + strconv.Itoa(quarter)
	}
	return out
}

// DefaultVariableMap carries the names used across labour force survey
// releases
func DefaultVariableMap() VariableMap {
	return VariableMap{
		Variables: []CanonicalVariable{
			{Name: VarPersonID, Kind: FieldText, Synonyms: []string{"PERSID", "CASENO", "PERSID_ANON"}},
			{Name: VarAge, Kind: FieldNumeric, PerQuarter: true, Synonyms: []string{"AGE", "AGEEUL"}},
			{Name: VarSex, Kind: FieldNumeric, Synonyms: []string{"SEX"}},
			{Name: VarEmpStatus, Kind: FieldNumeric, PerQuarter: true, Synonyms: []string{"ILODEFR", "INECAC05"}},
			{Name: VarEthnicity, Kind: FieldNumeric, PerQuarter: true, Synonyms: []string{"ETHUKEUL", "ETHUK11", "ETHEWEUL"}},
			{Name: VarRegion, Kind: FieldNumeric, PerQuarter: true, Synonyms: []string{"GOVTOF", "GOVTOR", "URESMC"}},
			{Name: VarHiQual, Kind: FieldNumeric, PerQuarter: true, Synonyms: []string{"HIQUL22D", "HIQUL15D", "HIQUL11D", "HIQUAL8D"}},
			{Name: VarRefDate, Kind: FieldDate, PerQuarter: true, Synonyms: []string{"REFDTE", "REFWKD"}},
			{Name: VarWeight, Kind: FieldNumeric, Synonyms: []string{"LGWT22", "LGWT20", "LGWT18", "LGWT17", "LGWT"}},
		},
	}
}
