package volume

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"
	"strings"
)

// ExtractSlice extracts a 2D slice of grid along axis ("x", "y" or "z") at
// position. Intensities are scaled so the largest absolute voxel in the slice
// maps to white. The grid is streamed one z-plane at a time.
func ExtractSlice(grid Grid, axis string, position int) (*image.Gray16, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}
	shape := grid.Shape()
	width, height, depth := shape[0], shape[1], shape[2]

	var (
		img   *image.Gray16
		vals  []float64
		place func(i int) (x, y int)
	)

	switch strings.ToLower(axis) {
	case "x":
		// YZ plane
		if position >= width {
			return nil, fmt.Errorf("position %d exceeds width %d", position, width)
		}
		img = image.NewGray16(image.Rect(0, 0, depth, height))
		vals = make([]float64, 0, height*depth)
		for z := 0; z < depth; z++ {
			plane, err := grid.ReadSlab(z, 1)
			if err != nil {
				return nil, err
			}
			for y := 0; y < height; y++ {
				vals = append(vals, plane[y*width+position])
			}
		}
		place = func(i int) (int, int) { return i / height, i % height }

	case "y":
		// XZ plane
		if position >= height {
			return nil, fmt.Errorf("position %d exceeds height %d", position, height)
		}
		img = image.NewGray16(image.Rect(0, 0, width, depth))
		vals = make([]float64, 0, width*depth)
		for z := 0; z < depth; z++ {
			plane, err := grid.ReadSlab(z, 1)
			if err != nil {
				return nil, err
			}
			vals = append(vals, plane[position*width:(position+1)*width]...)
		}
		place = func(i int) (int, int) { return i % width, i / width }

	case "z":
		// XY plane
		if position >= depth {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, depth)
		}
		img = image.NewGray16(image.Rect(0, 0, width, height))
		plane, err := grid.ReadSlab(position, 1)
		if err != nil {
			return nil, err
		}
		vals = plane
		place = func(i int) (int, int) { return i % width, i / width }

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	peak := 0.0
	for _, v := range vals {
		if !finite(v) {
			continue
		}
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	if peak == 0 {
		return img, nil
	}
	for i, v := range vals {
		// Non-finite voxels stay black
		if !finite(v) {
			continue
		}
		x, y := place(i)
		value := uint16(math.Min(65535, math.Abs(v)/peak*65535))
		img.SetGray16(x, y, color.Gray16{Y: value})
	}
	return img, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// SaveSlice saves an extracted slice as a JPEG image
func SaveSlice(img image.Image, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := jpeg.Encode(file, img, &jpeg.Options{Quality: 90}); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
