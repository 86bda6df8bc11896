// Package nifti reads and writes single-file NIfTI-1 volumes (.nii and .nii.gz).
//
// Only what the audit needs is decoded: the dimensions, the voxel datatype,
// intensity scaling and the spatial transform. Voxel data is streamed in
// z-plane slabs so a mask never has to be held in memory as a whole.
package nifti

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	headerSize = 348

	// dataOffset is where voxel data starts in files this package writes:
	// the header plus the 4-byte extension flag.
	dataOffset = 352
)

// Datatype is the NIfTI voxel type code
type Datatype int16

const (
	Uint8   Datatype = 2
	Int16   Datatype = 4
	Int32   Datatype = 8
	Float32 Datatype = 16
	Float64 Datatype = 64
	Int8    Datatype = 256
	Uint16  Datatype = 512
	Uint32  Datatype = 768
	Int64   Datatype = 1024
	Uint64  Datatype = 1280
)

// Size returns the number of bytes per voxel, or 0 for unsupported types
func (d Datatype) Size() int {
	switch d {
	case Uint8, Int8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Int64, Uint64, Float64:
		return 8
	default:
		return 0
	}
}

var datatypeNames = map[Datatype]string{
	Uint8: "uint8", Int16: "int16", Int32: "int32", Float32: "float32", Float64: "float64",
	Int8: "int8", Uint16: "uint16", Uint32: "uint32", Int64: "int64", Uint64: "uint64",
}

func (d Datatype) String() string {
	if name, ok := datatypeNames[d]; ok {
		return name
	}
	return fmt.Sprintf("datatype(%d)", int16(d))
}

// TransformSource names the header field Affine derives the transform from
func (h *Header) TransformSource() string {
	switch {
	case h.SformCode > 0:
		return "sform"
	case h.QformCode > 0:
		return "qform"
	default:
		return "pixdim"
	}
}

// ErrUnsupported is returned for valid files this package cannot decode
var ErrUnsupported = errors.New("unsupported nifti volume")

// Header holds the decoded NIfTI-1 header fields
type Header struct {
	Dim       [8]int16
	Datatype  Datatype
	Bitpix    int16
	Pixdim    [8]float32
	VoxOffset float32
	SclSlope  float32
	SclInter  float32
	QformCode int16
	SformCode int16
	Quatern   [3]float32
	Qoffset   [3]float32
	Srow      [3][4]float32
	Magic     [4]byte

	order binary.ByteOrder
}

// Shape returns the spatial dimensions. Missing axes count as 1.
func (h *Header) Shape() [3]int {
	shape := [3]int{1, 1, 1}
	n := int(h.Dim[0])
	for i := 0; i < 3 && i < n; i++ {
		shape[i] = int(h.Dim[i+1])
	}
	return shape
}

func decodeHeader(buf []byte) (*Header, error) {
	if len(buf) < headerSize {
		return nil, fmt.Errorf("short header: %d bytes", len(buf))
	}

	var order binary.ByteOrder
	switch {
	case binary.LittleEndian.Uint32(buf[0:4]) == headerSize:
		order = binary.LittleEndian
	case binary.BigEndian.Uint32(buf[0:4]) == headerSize:
		order = binary.BigEndian
	default:
		return nil, errors.New("not a nifti-1 file: bad sizeof_hdr")
	}

	h := &Header{order: order}
	copy(h.Magic[:], buf[344:348])
	switch {
	case bytes.Equal(h.Magic[:3], []byte("n+1")):
	case bytes.Equal(h.Magic[:3], []byte("ni1")):
		return nil, fmt.Errorf("%w: detached .hdr/.img pair", ErrUnsupported)
	default:
		return nil, fmt.Errorf("not a nifti-1 file: magic %q", h.Magic[:3])
	}

	i16 := func(off int) int16 { return int16(order.Uint16(buf[off:])) }
	f32 := func(off int) float32 { return math.Float32frombits(order.Uint32(buf[off:])) }

	for i := range h.Dim {
		h.Dim[i] = i16(40 + 2*i)
	}
	h.Datatype = Datatype(i16(70))
	h.Bitpix = i16(72)
	for i := range h.Pixdim {
		h.Pixdim[i] = f32(76 + 4*i)
	}
	h.VoxOffset = f32(108)
	h.SclSlope = f32(112)
	h.SclInter = f32(116)
	h.QformCode = i16(252)
	h.SformCode = i16(254)
	for i := 0; i < 3; i++ {
		h.Quatern[i] = f32(256 + 4*i)
		h.Qoffset[i] = f32(268 + 4*i)
	}
	for r := 0; r < 3; r++ {
		for c := 0; c < 4; c++ {
			h.Srow[r][c] = f32(280 + 16*r + 4*c)
		}
	}

	if h.Dim[0] < 1 || h.Dim[0] > 7 {
		return nil, fmt.Errorf("invalid dim[0] %d", h.Dim[0])
	}
	for i := 1; i <= int(h.Dim[0]); i++ {
		if h.Dim[i] < 0 {
			return nil, fmt.Errorf("negative dim[%d] %d", i, h.Dim[i])
		}
		if i > 3 && h.Dim[i] > 1 {
			return nil, fmt.Errorf("%w: %d-D volume with dim[%d]=%d", ErrUnsupported, h.Dim[0], i, h.Dim[i])
		}
	}
	if h.Datatype.Size() == 0 {
		return nil, fmt.Errorf("%w: datatype %d", ErrUnsupported, h.Datatype)
	}
	if h.VoxOffset < headerSize {
		h.VoxOffset = dataOffset
	}
	return h, nil
}

func (h *Header) encode() []byte {
	buf := make([]byte, dataOffset)
	order := h.order
	if order == nil {
		order = binary.LittleEndian
	}

	putI16 := func(off int, v int16) { order.PutUint16(buf[off:], uint16(v)) }
	putF32 := func(off int, v float32) { order.PutUint32(buf[off:], math.Float32bits(v)) }

	order.PutUint32(buf[0:], headerSize)
	for i, d := range h.Dim {
		putI16(40+2*i, d)
	}
	putI16(70, int16(h.Datatype))
	putI16(72, h.Bitpix)
	for i, p := range h.Pixdim {
		putF32(76+4*i, p)
	}
	putF32(108, h.VoxOffset)
	putF32(112, h.SclSlope)
	putF32(116, h.SclInter)
	putI16(252, h.QformCode)
	putI16(254, h.SformCode)
	for i := 0; i < 3; i++ {
		putF32(256+4*i, h.Quatern[i])
		putF32(268+4*i, h.Qoffset[i])
	}
	for r := 0; r < 3; r++ {
		for c := 0; c < 4; c++ {
			putF32(280+16*r+4*c, h.Srow[r][c])
		}
	}
	copy(buf[344:348], "n+1\x00")
	return buf
}

// Affine returns the voxel-to-world transform using the same precedence as
// nibabel: sform when set, then qform, then a centered base affine built
// from pixdim.
func (h *Header) Affine() *mat.Dense {
	switch {
	case h.SformCode > 0:
		return h.sformAffine()
	case h.QformCode > 0:
		return h.qformAffine()
	default:
		return h.baseAffine()
	}
}

func (h *Header) sformAffine() *mat.Dense {
	aff := mat.NewDense(4, 4, nil)
	for r := 0; r < 3; r++ {
		for c := 0; c < 4; c++ {
			aff.Set(r, c, float64(h.Srow[r][c]))
		}
	}
	aff.Set(3, 3, 1)
	return aff
}

func (h *Header) qformAffine() *mat.Dense {
	b, c, d := float64(h.Quatern[0]), float64(h.Quatern[1]), float64(h.Quatern[2])
	a := 1 - (b*b + c*c + d*d)
	if a < 1e-7 {
		// Rounding pushed the quaternion off the unit sphere; renormalize
		// the vector part and treat the rotation as 180 degrees.
		norm := math.Sqrt(b*b + c*c + d*d)
		if norm > 0 {
			b, c, d = b/norm, c/norm, d/norm
		}
		a = 0
	} else {
		a = math.Sqrt(a)
	}

	rot := mat.NewDense(3, 3, []float64{
		a*a + b*b - c*c - d*d, 2*b*c - 2*a*d, 2*b*d + 2*a*c,
		2*b*c + 2*a*d, a*a + c*c - b*b - d*d, 2*c*d - 2*a*b,
		2*b*d - 2*a*c, 2*c*d + 2*a*b, a*a + d*d - c*c - b*b,
	})

	qfac := float64(h.Pixdim[0])
	if qfac != -1 {
		qfac = 1
	}
	zooms := mat.NewDiagDense(3, []float64{
		float64(h.Pixdim[1]),
		float64(h.Pixdim[2]),
		float64(h.Pixdim[3]) * qfac,
	})

	var linear mat.Dense
	linear.Mul(rot, zooms)

	aff := mat.NewDense(4, 4, nil)
	for r := 0; r < 3; r++ {
		for col := 0; col < 3; col++ {
			aff.Set(r, col, linear.At(r, col))
		}
		aff.Set(r, 3, float64(h.Qoffset[r]))
	}
	aff.Set(3, 3, 1)
	return aff
}

func (h *Header) baseAffine() *mat.Dense {
	shape := h.Shape()
	zooms := [3]float64{-float64(h.Pixdim[1]), float64(h.Pixdim[2]), float64(h.Pixdim[3])}
	aff := mat.NewDense(4, 4, nil)
	for i := 0; i < 3; i++ {
		aff.Set(i, i, zooms[i])
		aff.Set(i, 3, -float64(shape[i]-1)/2*zooms[i])
	}
	aff.Set(3, 3, 1)
	return aff
}

// scaling returns the slope and intercept applied to raw voxels. A zero or
// NaN slope disables scaling.
func (h *Header) scaling() (slope, inter float64, ok bool) {
	slope = float64(h.SclSlope)
	if slope == 0 || math.IsNaN(slope) || math.IsInf(slope, 0) {
		return 1, 0, false
	}
	inter = float64(h.SclInter)
	if math.IsNaN(inter) || math.IsInf(inter, 0) {
		inter = 0
	}
	return slope, inter, true
}
