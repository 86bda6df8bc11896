package reference

import (
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/cases"

	"maskaudit/internal/models"
)

var presenceTokens = map[string]float64{
	"o": 1, "y": 1, "yes": 1, "1": 1,
	"x": 0, "n": 0, "no": 0, "0": 0,
}

// Normalize maps a raw reference cell to a RefValue. It is total: known
// tokens map to 1 or 0, other numbers pass through, empty cells are Blank and
// anything else is Unparseable rather than guessed.
func Normalize(cell string) models.RefValue {
	text := strings.TrimSpace(cell)
	if text == "" {
		return models.RefValue{Kind: models.RefBlank}
	}
	if v, ok := presenceTokens[fold(text)]; ok {
		return models.RefValue{Kind: models.RefNumeric, Value: v}
	}
	if v, err := strconv.ParseFloat(text, 64); err == nil && !math.IsNaN(v) && !math.IsInf(v, 0) {
		return models.RefValue{Kind: models.RefNumeric, Value: v}
	}
	return models.RefValue{Kind: models.RefUnparseable, Raw: text}
}

// fold case-folds s for case-insensitive header and token matching
func fold(s string) string {
	return cases.Fold().String(s)
}
