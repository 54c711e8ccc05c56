// Package languages holds the read-only language and target audience tables
// used to validate bundles and to label statistics.
package languages

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ekaya-translator/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-translator/pkg/models"
)

// AllTerritory is the territory suffix of a language that is not region specific
// (for example "es_ALL").
const AllTerritory = "ALL"

// Audience is a target audience group.
type Audience struct {
	Code string `yaml:"code" json:"code"`
	Name string `yaml:"name" json:"name"`
}

// DefaultAudiences are the age groups bundles can target.
var DefaultAudiences = []Audience{
	{Code: models.TargetAll, Name: "All ages"},
	{Code: "5-6", Name: "Ages 5-6"},
	{Code: "7-8", Name: "Ages 7-8"},
	{Code: "9-10", Name: "Ages 9-10"},
	{Code: "11-12", Name: "Ages 11-12"},
	{Code: "13-14", Name: "Ages 13-14"},
	{Code: "15-16", Name: "Ages 15-16"},
	{Code: "17-18", Name: "Ages 17-18"},
}

// Table resolves and validates language and audience codes. It is built once
// at startup and shared read-only.
type Table struct {
	names     map[string]string
	restrict  bool
	audiences []Audience
	byCode    map[string]Audience
}

// New builds a table with the default audiences that accepts any well-formed
// language code.
func New() *Table {
	t, _ := build(nil, false, DefaultAudiences)
	return t
}

// fileFormat is the YAML layout of a languages override file.
type fileFormat struct {
	// Languages maps codes to display names. When Restrict is true only these
	// codes are accepted.
	Languages map[string]string `yaml:"languages"`
	Restrict  bool              `yaml:"restrict"`
	Audiences []Audience        `yaml:"audiences"`
}

// LoadFile builds a table from a YAML override file. An empty path returns New().
func LoadFile(path string) (*Table, error) {
	if path == "" {
		return New(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read languages file: %w", err)
	}
	return Parse(data)
}

// Parse builds a table from YAML override content.
func Parse(data []byte) (*Table, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse languages file: %w", err)
	}
	audiences := f.Audiences
	if len(audiences) == 0 {
		audiences = DefaultAudiences
	}
	return build(f.Languages, f.Restrict, audiences)
}

func build(names map[string]string, restrict bool, audiences []Audience) (*Table, error) {
	t := &Table{
		names:    make(map[string]string, len(names)),
		restrict: restrict,
		byCode:   make(map[string]Audience, len(audiences)),
	}
	for code, name := range names {
		if _, err := parseCode(code); err != nil {
			return nil, fmt.Errorf("invalid language %q in languages file: %w", code, err)
		}
		t.names[code] = name
	}
	for _, a := range audiences {
		if a.Code == "" {
			return nil, fmt.Errorf("audience without code in languages file")
		}
		if _, dup := t.byCode[a.Code]; dup {
			return nil, fmt.Errorf("duplicate audience %q in languages file", a.Code)
		}
		t.byCode[a.Code] = a
		t.audiences = append(t.audiences, a)
	}
	return t, nil
}

// parseCode converts "es_ALL" or "es_ES" into a language tag.
func parseCode(code string) (language.Tag, error) {
	base, territory, found := strings.Cut(code, "_")
	if base == "" {
		return language.Und, fmt.Errorf("empty language")
	}
	b, err := language.ParseBase(base)
	if err != nil {
		return language.Und, err
	}
	if !found || territory == AllTerritory {
		return language.Compose(b)
	}
	r, err := language.ParseRegion(territory)
	if err != nil {
		return language.Und, err
	}
	return language.Compose(b, r)
}

// ValidateLanguage checks that code is a language bundles may use.
func (t *Table) ValidateLanguage(code string) error {
	if _, err := parseCode(code); err != nil {
		return &apperrors.ValidationError{Field: "language", Reason: fmt.Sprintf("%q is not a language code", code)}
	}
	if t.restrict {
		if _, ok := t.names[code]; !ok {
			return &apperrors.ValidationError{Field: "language", Reason: fmt.Sprintf("%q is not supported", code)}
		}
	}
	return nil
}

// ValidateAudience checks that code is a known target audience.
func (t *Table) ValidateAudience(code string) error {
	if _, ok := t.byCode[code]; !ok {
		return &apperrors.ValidationError{Field: "target_audience", Reason: fmt.Sprintf("%q is not a target audience", code)}
	}
	return nil
}

// LanguageName returns the English display name of a language code.
func (t *Table) LanguageName(code string) string {
	if name, ok := t.names[code]; ok {
		return name
	}
	tag, err := parseCode(code)
	if err != nil {
		return code
	}
	if name := display.English.Tags().Name(tag); name != "" {
		return name
	}
	return code
}

// AudienceName returns the display name of an audience code.
func (t *Table) AudienceName(code string) string {
	if a, ok := t.byCode[code]; ok {
		return a.Name
	}
	return code
}

// Audiences returns the audiences in table order.
func (t *Table) Audiences() []Audience {
	out := make([]Audience, len(t.audiences))
	copy(out, t.audiences)
	return out
}

// Languages returns the explicitly named language codes, sorted.
func (t *Table) Languages() []string {
	out := make([]string, 0, len(t.names))
	for code := range t.names {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}
