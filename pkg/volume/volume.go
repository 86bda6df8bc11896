// Package volume defines the lazily readable 3D voxel grid consumed by the
// audit checks, plus an in-memory implementation.
package volume

import (
	"gonum.org/v1/gonum/mat"
)

// Grid is a 3D voxel grid whose voxels are read on demand.
//
// Voxels are addressed x-fastest, so the planes of the third axis are the
// natural unit for bounded-memory reads.
type Grid interface {
	// Shape returns the voxel count along x, y and z
	Shape() [3]int

	// Affine returns the 4x4 voxel-to-world transform
	Affine() *mat.Dense

	// ReadSlab returns the voxels of z-planes [start, start+depth), x-fastest.
	// Implementations clamp depth at the end of the volume.
	ReadSlab(start, depth int) ([]float64, error)

	// Close releases any file handles held by the grid
	Close() error
}

// Source opens grids by path.
type Source interface {
	Open(path string) (Grid, error)
}
