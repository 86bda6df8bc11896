package report

import (
	"fmt"
	"path/filepath"

	"github.com/parquet-go/parquet-go"

	"maskaudit/internal/models"
)

// ConsistencyRow is the Parquet row of the Volume Comparison table
type ConsistencyRow struct {
	CaseID          string `parquet:"case_id"`
	MaskName        string `parquet:"mask_name"`
	DimensionsMatch bool   `parquet:"dimensions_match"`
	OriginMatch     bool   `parquet:"origin_match"`
}

// PresenceRow is one (case, mask) cell of the Mask Presence table. The wide
// sheet layout depends on the mask set, so Parquet stores it long.
type PresenceRow struct {
	CaseID   string `parquet:"case_id"`
	MaskName string `parquet:"mask_name"`
	Present  int32  `parquet:"present"`
}

// ImageRow is the Parquet row of the Image Info table
type ImageRow struct {
	CaseID   string  `parquet:"case_id"`
	DimX     int32   `parquet:"dim_x"`
	DimY     int32   `parquet:"dim_y"`
	DimZ     int32   `parquet:"dim_z"`
	OriginX  float64 `parquet:"origin_x"`
	OriginY  float64 `parquet:"origin_y"`
	OriginZ  float64 `parquet:"origin_z"`
	SpacingX float64 `parquet:"spacing_x"`
	SpacingY float64 `parquet:"spacing_y"`
	SpacingZ float64 `parquet:"spacing_z"`
}

// ComparisonRow is the Parquet row of the Mask Presence Comparison table.
// ReferenceValue is only meaningful when ReferenceStatus is "found" and
// ReferenceKind is "numeric".
type ComparisonRow struct {
	CaseID           string  `parquet:"case_id"`
	MaskName         string  `parquet:"mask_name"`
	PresenceInFolder int32   `parquet:"presence_in_folder"`
	ReferenceStatus  string  `parquet:"reference_status"`
	ReferenceKind    string  `parquet:"reference_kind"`
	ReferenceValue   float64 `parquet:"reference_value"`
	ReferenceText    string  `parquet:"reference_text"`
	Match            bool    `parquet:"match"`
}

// LoadErrorRow is the Parquet row of the Load Errors table
type LoadErrorRow struct {
	CaseID   string `parquet:"case_id"`
	MaskName string `parquet:"mask_name"`
	Error    string `parquet:"error"`
}

// Parquet file names, one per table
const (
	ParquetVolumeComparison = "volume_comparison.parquet"
	ParquetMaskPresence     = "mask_presence.parquet"
	ParquetImageInfo        = "image_info.parquet"
	ParquetComparison       = "mask_presence_comparison.parquet"
	ParquetLoadErrors       = "load_errors.parquet"
)

// WriteParquet writes every result table of d as a Parquet file in dir and
// returns the paths written.
func WriteParquet(dir string, d Data) ([]string, error) {
	var written []string
	write := func(name string, fn func(path string) error) error {
		path := filepath.Join(dir, name)
		if err := fn(path); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
		written = append(written, path)
		return nil
	}

	steps := []struct {
		name string
		fn   func(string) error
	}{
		{ParquetVolumeComparison, func(p string) error { return parquet.WriteFile(p, ConsistencyRows(d.Consistency)) }},
		{ParquetMaskPresence, func(p string) error { return parquet.WriteFile(p, PresenceRows(d.Presence, d.MaskNames)) }},
		{ParquetImageInfo, func(p string) error { return parquet.WriteFile(p, ImageRows(d.Volumes)) }},
		{ParquetComparison, func(p string) error { return parquet.WriteFile(p, ComparisonRows(d.Entries)) }},
		{ParquetLoadErrors, func(p string) error { return parquet.WriteFile(p, LoadErrorRows(d.Failures, d.Skipped)) }},
	}
	for _, step := range steps {
		if err := write(step.name, step.fn); err != nil {
			return written, err
		}
	}
	return written, nil
}

func ConsistencyRows(records []models.ConsistencyRecord) []ConsistencyRow {
	rows := make([]ConsistencyRow, len(records))
	for i, r := range records {
		rows[i] = ConsistencyRow{CaseID: r.CaseID, MaskName: r.MaskName, DimensionsMatch: r.DimsMatch, OriginMatch: r.OriginMatch}
	}
	return rows
}

func PresenceRows(records []models.MaskPresenceRecord, maskNames []string) []PresenceRow {
	rows := make([]PresenceRow, 0, len(records)*len(maskNames))
	for _, r := range records {
		for _, name := range maskNames {
			rows = append(rows, PresenceRow{CaseID: r.CaseID, MaskName: name, Present: int32(r.Presence[name])})
		}
	}
	return rows
}

func ImageRows(volumes []models.VolumeInfo) []ImageRow {
	rows := make([]ImageRow, len(volumes))
	for i, v := range volumes {
		rows[i] = ImageRow{
			CaseID: v.CaseID,
			DimX:   int32(v.Dimensions[0]), DimY: int32(v.Dimensions[1]), DimZ: int32(v.Dimensions[2]),
			OriginX: v.Origin[0], OriginY: v.Origin[1], OriginZ: v.Origin[2],
			SpacingX: v.Spacing[0], SpacingY: v.Spacing[1], SpacingZ: v.Spacing[2],
		}
	}
	return rows
}

func ComparisonRows(entries []models.ReconciliationEntry) []ComparisonRow {
	rows := make([]ComparisonRow, len(entries))
	for i, e := range entries {
		ref := e.PresenceInReference
		row := ComparisonRow{
			CaseID:           e.CaseID,
			MaskName:         e.MaskName,
			PresenceInFolder: int32(e.PresenceInData),
			ReferenceStatus:  statusName(ref.Status),
			ReferenceText:    ref.String(),
			Match:            e.Match,
		}
		if ref.Status == models.Found {
			row.ReferenceKind = kindName(ref.Value.Kind)
			row.ReferenceValue = ref.Value.Value
		}
		rows[i] = row
	}
	return rows
}

func LoadErrorRows(failures []models.CaseFailure, skipped []string) []LoadErrorRow {
	rows := make([]LoadErrorRow, 0, len(failures)+len(skipped))
	for _, f := range failures {
		row := LoadErrorRow{CaseID: f.CaseID, MaskName: f.MaskName}
		if f.Err != nil {
			row.Error = f.Err.Error()
		}
		rows = append(rows, row)
	}
	for _, id := range skipped {
		rows = append(rows, LoadErrorRow{CaseID: id, Error: "skipped: run cancelled"})
	}
	return rows
}

func statusName(s models.LookupStatus) string {
	switch s {
	case models.ColumnNotFound:
		return "column_not_found"
	case models.CaseNotFound:
		return "case_not_found"
	default:
		return "found"
	}
}

func kindName(k models.RefKind) string {
	switch k {
	case models.RefBlank:
		return "blank"
	case models.RefUnparseable:
		return "unparseable"
	default:
		return "numeric"
	}
}
