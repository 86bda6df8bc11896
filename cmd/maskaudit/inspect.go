package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"maskaudit/pkg/audit"
	"maskaudit/pkg/checks"
	"maskaudit/pkg/logging"
	"maskaudit/pkg/nifti"
	"maskaudit/pkg/report"
	"maskaudit/pkg/volume"
)

func newInspectCmd(a *app) *cobra.Command {
	var (
		against    string
		previewDir string
		axis       string
	)

	cmd := &cobra.Command{
		Use:   "inspect FILE...",
		Short: "Show the header and emptiness of NIfTI volumes",
		Long: `Inspect prints the shape, datatype, transform and emptiness of each volume.

With --against, each volume is also compared with the given image the way a run
compares masks with their case image. With --preview, the middle slice of each
volume along --axis is saved as a JPEG for a quick visual check.`,
		Example: `  maskaudit inspect masks/P001/*.nii.gz --against images/P001.nii.gz
  maskaudit inspect images/P001.nii.gz --preview ./preview --axis y`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.FromContext(cmd.Context())

			headers := []string{"File", "Shape", "Type", "Transform", "Origin", "Spacing", "Empty"}
			aligns := []report.Alignment{report.AlignLeft, report.AlignLeft, report.AlignLeft, report.AlignLeft, report.AlignLeft, report.AlignLeft, report.AlignRight}

			var ref *nifti.Volume
			if against != "" {
				v, err := nifti.Open(against)
				if err != nil {
					return fmt.Errorf("open image: %w", err)
				}
				defer v.Close()
				ref = v
				headers = append(headers, "Dims match", "Origin match")
				aligns = append(aligns, report.AlignRight, report.AlignRight)
			}

			var rows [][]string
			for _, path := range args {
				row, err := inspectVolume(cmd, path, a.cfg.Processing.SlabDepth, ref)
				if err != nil {
					logger.Warn().Err(err).Str("file", path).Msg("Cannot inspect volume")
					row = []string{path, "error: " + err.Error()}
				}
				rows = append(rows, row)

				if previewDir != "" && err == nil {
					saved, err := savePreview(path, previewDir, axis)
					if err != nil {
						logger.Warn().Err(err).Str("file", path).Msg("Cannot save preview")
						continue
					}
					logger.Info().Str("file", saved).Msg("Preview saved")
				}
			}

			fmt.Fprintln(cmd.OutOrStdout(), report.RenderTable(headers, rows, aligns))
			return nil
		},
	}

	cmd.Flags().StringVar(&against, "against", "", "image volume to compare each file with")
	cmd.Flags().StringVar(&previewDir, "preview", "", "directory to save a middle-slice JPEG of each volume")
	cmd.Flags().StringVar(&axis, "axis", "z", "preview slice axis: x, y or z")
	return cmd
}

func inspectVolume(cmd *cobra.Command, path string, slabDepth int, ref *nifti.Volume) ([]string, error) {
	v, err := nifti.Open(path)
	if err != nil {
		return nil, err
	}
	defer v.Close()

	affine := v.Affine()
	empty, err := checks.IsEmpty(cmd.Context(), v, slabDepth)
	if err != nil {
		return nil, err
	}

	row := []string{
		path,
		report.FormatShape(v.Shape()),
		v.Header.Datatype.String(),
		v.Header.TransformSource(),
		report.FormatVector(checks.Origin(affine)),
		report.FormatVector(checks.Spacing(affine)),
		strconv.FormatBool(empty),
	}
	if ref != nil {
		res := checks.Compare(ref.Shape(), ref.Affine(), v.Shape(), affine, checks.DefaultTolerance)
		row = append(row, strconv.FormatBool(res.DimsMatch), strconv.FormatBool(res.OriginMatch))
	}
	return row, nil
}

// savePreview writes the middle slice of path along axis into dir
func savePreview(path, dir, axis string) (string, error) {
	v, err := nifti.Open(path)
	if err != nil {
		return "", err
	}
	defer v.Close()

	shape := v.Shape()
	position := shape[2] / 2
	switch strings.ToLower(axis) {
	case "x":
		position = shape[0] / 2
	case "y":
		position = shape[1] / 2
	}

	img, err := volume.ExtractSlice(v, axis, position)
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s_%s_%03d.jpg", audit.Stem(path), strings.ToLower(axis), position)
	out := filepath.Join(dir, name)
	return out, volume.SaveSlice(img, out)
}
