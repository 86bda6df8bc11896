package reference

import (
	"strings"
)

// DefaultCaseIDKey names the case id column when no header qualifies
const DefaultCaseIDKey = "case_id"

// Schema locates the case id column and the mask columns of a reference sheet
type Schema struct {
	// CaseIDColumn is the 0-based column index, or -1 when no header qualified
	CaseIDColumn int

	// CaseIDHeader is the matched header text, or DefaultCaseIDKey
	CaseIDHeader string

	// MaskColumns maps mask name to 0-based column index for resolved masks
	MaskColumns map[string]int
}

// HasCaseIDColumn reports whether a case id column was found
func (s Schema) HasCaseIDColumn() bool {
	return s.CaseIDColumn >= 0
}

// Column returns the column of maskName, if one was resolved
func (s Schema) Column(maskName string) (int, bool) {
	col, ok := s.MaskColumns[maskName]
	return col, ok
}

// Unresolved returns the mask names with no column, in input order
func (s Schema) Unresolved(maskNames []string) []string {
	var missing []string
	for _, name := range maskNames {
		if _, ok := s.MaskColumns[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// DiscoverSchema inspects the header row once. The case id column is the
// first header containing both "case" and "id", ignoring case. Masks are then
// resolved in two passes: a header equal to the mask name (ignoring case and
// surrounding space) wins, otherwise the first header containing the name.
// A column serves at most one mask and the case id column is never a mask
// column, so every resolved mask owns its cell.
func DiscoverSchema(headers []string, maskNames []string) Schema {
	schema := Schema{
		CaseIDColumn: -1,
		CaseIDHeader: DefaultCaseIDKey,
		MaskColumns:  make(map[string]int, len(maskNames)),
	}

	folded := make([]string, len(headers))
	for i, h := range headers {
		folded[i] = fold(strings.TrimSpace(h))
	}

	for i, h := range folded {
		if strings.Contains(h, "case") && strings.Contains(h, "id") {
			schema.CaseIDColumn = i
			schema.CaseIDHeader = headers[i]
			break
		}
	}

	claimed := make(map[int]bool, len(maskNames)+1)
	if schema.HasCaseIDColumn() {
		claimed[schema.CaseIDColumn] = true
	}
	resolve := func(match func(header, key string) bool) {
		for _, name := range maskNames {
			key := fold(strings.TrimSpace(name))
			if _, done := schema.MaskColumns[name]; done || key == "" {
				continue
			}
			for i, h := range folded {
				if claimed[i] || h == "" || !match(h, key) {
					continue
				}
				schema.MaskColumns[name] = i
				claimed[i] = true
				break
			}
		}
	}
	resolve(func(h, key string) bool { return h == key })
	resolve(strings.Contains)
	return schema
}
