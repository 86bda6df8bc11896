package checks

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/mat"
)

// DefaultTolerance is the absolute per-element tolerance used when comparing
// spatial transforms
const DefaultTolerance = 1e-5

// Result is the outcome of comparing one mask against its image
type Result struct {
	DimsMatch   bool
	OriginMatch bool
}

// Compare checks a mask's shape and transform against the image's. Shapes must
// be identical; transforms must agree element-wise within tol.
func Compare(imageShape [3]int, imageAffine mat.Matrix, maskShape [3]int, maskAffine mat.Matrix, tol float64) Result {
	return Result{
		DimsMatch:   imageShape == maskShape,
		OriginMatch: TransformsMatch(imageAffine, maskAffine, tol),
	}
}

// TransformsMatch reports whether a and b have the same size and every
// element differs by at most tol. Negative tol means DefaultTolerance.
func TransformsMatch(a, b mat.Matrix, tol float64) bool {
	if a == nil || b == nil {
		return false
	}
	if tol < 0 || math.IsNaN(tol) {
		tol = DefaultTolerance
	}

	ra, ca := a.Dims()
	rb, cb := b.Dims()
	if ra != rb || ca != cb {
		return false
	}
	for i := 0; i < ra; i++ {
		for j := 0; j < ca; j++ {
			if !scalar.EqualWithinAbs(a.At(i, j), b.At(i, j), tol) {
				return false
			}
		}
	}
	return true
}

// Spacing returns the voxel size along each axis: the Euclidean norm of each
// column of the transform's 3x3 linear part.
func Spacing(affine mat.Matrix) [3]float64 {
	var spacing [3]float64
	col := make([]float64, 3)
	for j := 0; j < 3; j++ {
		for i := 0; i < 3; i++ {
			col[i] = affine.At(i, j)
		}
		spacing[j] = floats.Norm(col, 2)
	}
	return spacing
}

// Origin returns the translation column of the transform
func Origin(affine mat.Matrix) [3]float64 {
	return [3]float64{affine.At(0, 3), affine.At(1, 3), affine.At(2, 3)}
}
