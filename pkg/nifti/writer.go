package nifti

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"

	"maskaudit/pkg/checks"
	"maskaudit/pkg/volume"
)

// WriteOptions controls how Write encodes voxels
type WriteOptions struct {
	Datatype Datatype

	// SclSlope and SclInter are stored verbatim; voxels are written raw.
	SclSlope float32
	SclInter float32

	BigEndian bool
}

// Write stores grid as a single-file NIfTI-1 volume with an sform taken from
// the grid's affine. Paths ending in .gz are gzip-compressed.
func Write(path string, grid *volume.Memory, opts WriteOptions) error {
	if opts.Datatype == 0 {
		opts.Datatype = Uint8
	}
	if opts.Datatype.Size() == 0 {
		return fmt.Errorf("%w: datatype %d", ErrUnsupported, opts.Datatype)
	}

	var order binary.ByteOrder = binary.LittleEndian
	if opts.BigEndian {
		order = binary.BigEndian
	}

	shape := grid.Shape()
	affine := grid.Affine()
	spacing := checks.Spacing(affine)

	h := &Header{
		Datatype:  opts.Datatype,
		Bitpix:    int16(opts.Datatype.Size() * 8),
		VoxOffset: dataOffset,
		SclSlope:  opts.SclSlope,
		SclInter:  opts.SclInter,
		SformCode: 1,
		order:     order,
	}
	h.Dim = [8]int16{3, int16(shape[0]), int16(shape[1]), int16(shape[2]), 1, 1, 1, 1}
	h.Pixdim = [8]float32{1, float32(spacing[0]), float32(spacing[1]), float32(spacing[2]), 1, 1, 1, 1}
	for r := 0; r < 3; r++ {
		for c := 0; c < 4; c++ {
			h.Srow[r][c] = float32(affine.At(r, c))
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer file.Close()

	var out io.Writer = file
	var gz *gzip.Writer
	if strings.HasSuffix(strings.ToLower(path), ".gz") {
		gz = gzip.NewWriter(file)
		out = gz
	}
	buffered := bufio.NewWriter(out)

	if _, err := buffered.Write(h.encode()); err != nil {
		return fmt.Errorf("write header of %s: %w", path, err)
	}
	if _, err := buffered.Write(encodeVoxels(grid.Data, opts.Datatype, order)); err != nil {
		return fmt.Errorf("write voxels of %s: %w", path, err)
	}
	if err := buffered.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", path, err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return fmt.Errorf("close gzip stream of %s: %w", path, err)
		}
	}
	return file.Close()
}

func encodeVoxels(voxels []float64, dt Datatype, order binary.ByteOrder) []byte {
	size := dt.Size()
	raw := make([]byte, len(voxels)*size)
	for i, v := range voxels {
		b := raw[i*size:]
		switch dt {
		case Uint8, Int8:
			b[0] = byte(int64(v))
		case Int16, Uint16:
			order.PutUint16(b, uint16(int64(v)))
		case Int32, Uint32:
			order.PutUint32(b, uint32(int64(v)))
		case Int64, Uint64:
			order.PutUint64(b, uint64(int64(v)))
		case Float32:
			order.PutUint32(b, math.Float32bits(float32(v)))
		case Float64:
			order.PutUint64(b, math.Float64bits(v))
		}
	}
	return raw
}
