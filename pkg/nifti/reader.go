package nifti

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/klauspost/compress/gzip"
	"gonum.org/v1/gonum/mat"

	"maskaudit/pkg/volume"
)

// Source opens NIfTI files from disk. It satisfies volume.Source.
type Source struct{}

// Open implements volume.Source
func (Source) Open(path string) (volume.Grid, error) {
	v, err := Open(path)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Volume is an open NIfTI file positioned for sequential slab reads
type Volume struct {
	Header *Header

	path   string
	file   *os.File
	gz     *gzip.Reader
	reader io.Reader

	// plane is the index of the next z-plane the stream will yield
	plane int
}

// Open parses the header of path and positions the stream at the first voxel.
// Gzip compression is detected from the file contents, not the extension.
func Open(path string) (*Volume, error) {
	v := &Volume{path: path}
	if err := v.open(); err != nil {
		return nil, err
	}

	buf := make([]byte, headerSize)
	if _, err := io.ReadFull(v.reader, buf); err != nil {
		v.Close()
		return nil, fmt.Errorf("read header of %s: %w", path, err)
	}
	header, err := decodeHeader(buf)
	if err != nil {
		v.Close()
		return nil, fmt.Errorf("decode header of %s: %w", path, err)
	}
	v.Header = header

	if err := v.skip(int64(header.VoxOffset) - headerSize); err != nil {
		v.Close()
		return nil, fmt.Errorf("seek to voxel data of %s: %w", path, err)
	}
	return v, nil
}

func (v *Volume) open() error {
	file, err := os.Open(v.path)
	if err != nil {
		return err
	}

	buffered := bufio.NewReader(file)
	magic, err := buffered.Peek(2)
	if err != nil {
		file.Close()
		return fmt.Errorf("read %s: %w", v.path, err)
	}

	v.file = file
	v.reader = buffered
	if magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(buffered)
		if err != nil {
			file.Close()
			return fmt.Errorf("open gzip stream of %s: %w", v.path, err)
		}
		v.gz = gz
		v.reader = bufio.NewReader(gz)
	}
	v.plane = 0
	return nil
}

// rewind reopens the file and skips back to the first voxel. Compressed
// streams cannot seek backwards, so this is the only way to re-read a plane.
func (v *Volume) rewind() error {
	v.closeStreams()
	if err := v.open(); err != nil {
		return err
	}
	return v.skip(int64(v.Header.VoxOffset))
}

func (v *Volume) skip(n int64) error {
	if n <= 0 {
		return nil
	}
	_, err := io.CopyN(io.Discard, v.reader, n)
	return err
}

// Shape implements volume.Grid
func (v *Volume) Shape() [3]int { return v.Header.Shape() }

// Affine implements volume.Grid
func (v *Volume) Affine() *mat.Dense { return v.Header.Affine() }

func (v *Volume) planeBytes() int64 {
	shape := v.Shape()
	return int64(shape[0]) * int64(shape[1]) * int64(v.Header.Datatype.Size())
}

// ReadSlab implements volume.Grid. Forward reads stream without reopening
// the file; reading an earlier plane rewinds.
func (v *Volume) ReadSlab(start, depth int) ([]float64, error) {
	planes := v.Shape()[2]
	if start < 0 || start >= planes {
		return nil, fmt.Errorf("slab start %d outside depth %d", start, planes)
	}
	if depth <= 0 {
		return nil, errors.New("slab depth must be positive")
	}
	if start+depth > planes {
		depth = planes - start
	}

	if start < v.plane {
		if err := v.rewind(); err != nil {
			return nil, fmt.Errorf("rewind %s: %w", v.path, err)
		}
	}
	if err := v.skip(int64(start-v.plane) * v.planeBytes()); err != nil {
		return nil, fmt.Errorf("skip to plane %d of %s: %w", start, v.path, err)
	}
	v.plane = start

	raw := make([]byte, int64(depth)*v.planeBytes())
	if _, err := io.ReadFull(v.reader, raw); err != nil {
		return nil, fmt.Errorf("read planes %d-%d of %s: %w", start, start+depth, v.path, err)
	}
	v.plane = start + depth

	voxels := decodeVoxels(raw, v.Header.Datatype, v.Header.order)
	if slope, inter, ok := v.Header.scaling(); ok {
		for i, val := range voxels {
			voxels[i] = val*slope + inter
		}
	}
	return voxels, nil
}

func (v *Volume) closeStreams() {
	if v.gz != nil {
		v.gz.Close()
		v.gz = nil
	}
	if v.file != nil {
		v.file.Close()
		v.file = nil
	}
}

// Close implements volume.Grid
func (v *Volume) Close() error {
	v.closeStreams()
	return nil
}

func decodeVoxels(raw []byte, dt Datatype, order binary.ByteOrder) []float64 {
	size := dt.Size()
	out := make([]float64, len(raw)/size)
	for i := range out {
		b := raw[i*size:]
		switch dt {
		case Uint8:
			out[i] = float64(b[0])
		case Int8:
			out[i] = float64(int8(b[0]))
		case Int16:
			out[i] = float64(int16(order.Uint16(b)))
		case Uint16:
			out[i] = float64(order.Uint16(b))
		case Int32:
			out[i] = float64(int32(order.Uint32(b)))
		case Uint32:
			out[i] = float64(order.Uint32(b))
		case Int64:
			out[i] = float64(int64(order.Uint64(b)))
		case Uint64:
			out[i] = float64(order.Uint64(b))
		case Float32:
			out[i] = float64(math.Float32frombits(order.Uint32(b)))
		case Float64:
			out[i] = math.Float64frombits(order.Uint64(b))
		}
	}
	return out
}
