// Package checks holds the per-volume checks of an audit: mask emptiness and
// image/mask geometric consistency.
package checks

import (
	"context"
	"fmt"

	"maskaudit/pkg/volume"
)

// DefaultSlabDepth is the number of z-planes read per slab
const DefaultSlabDepth = 10

// IsEmpty reports whether every voxel of grid is zero. The grid is read in
// slabs of slabDepth z-planes so peak memory stays bounded, and the scan
// stops at the first slab holding a nonzero voxel. NaN counts as nonzero.
//
// ctx is checked between slabs; a cancelled scan returns ctx.Err().
func IsEmpty(ctx context.Context, grid volume.Grid, slabDepth int) (bool, error) {
	if slabDepth < 1 {
		slabDepth = DefaultSlabDepth
	}

	shape := grid.Shape()
	if shape[0] == 0 || shape[1] == 0 {
		return true, nil
	}

	depth := shape[2]
	for start := 0; start < depth; start += slabDepth {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		n := min(slabDepth, depth-start)
		slab, err := grid.ReadSlab(start, n)
		if err != nil {
			return false, fmt.Errorf("read slab %d-%d: %w", start, start+n, err)
		}
		for _, v := range slab {
			if v != 0 {
				return false, nil
			}
		}
	}
	return true, nil
}
