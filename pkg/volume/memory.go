package volume

import (
	"fmt"
	"sync"

	"gonum.org/v1/gonum/mat"
)

// Memory is a Grid backed by a flat voxel slice.
type Memory struct {
	// Data holds the voxels x-fastest: index = z*width*height + y*width + x
	Data []float64

	width  int
	height int
	depth  int

	transform *mat.Dense
}

// NewMemory creates a zero-filled grid with the given shape. A nil affine
// means identity.
func NewMemory(shape [3]int, affine *mat.Dense) *Memory {
	if affine == nil {
		affine = Identity()
	}
	return &Memory{
		Data:      make([]float64, shape[0]*shape[1]*shape[2]),
		width:     shape[0],
		height:    shape[1],
		depth:     shape[2],
		transform: mat.DenseCopyOf(affine),
	}
}

// Identity returns a 4x4 identity affine
func Identity() *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
}

func (m *Memory) Shape() [3]int { return [3]int{m.width, m.height, m.depth} }

func (m *Memory) Affine() *mat.Dense { return mat.DenseCopyOf(m.transform) }

func (m *Memory) Close() error { return nil }

// Set assigns the voxel at (x, y, z)
func (m *Memory) Set(x, y, z int, value float64) {
	m.Data[m.index(x, y, z)] = value
}

// At returns the voxel at (x, y, z)
func (m *Memory) At(x, y, z int) float64 {
	return m.Data[m.index(x, y, z)]
}

func (m *Memory) index(x, y, z int) int {
	return z*m.width*m.height + y*m.width + x
}

// ReadSlab copies the requested z-planes out of the grid
func (m *Memory) ReadSlab(start, depth int) ([]float64, error) {
	if start < 0 || start >= m.depth {
		return nil, fmt.Errorf("slab start %d outside depth %d", start, m.depth)
	}
	if depth <= 0 {
		return nil, fmt.Errorf("slab depth must be positive")
	}
	if start+depth > m.depth {
		depth = m.depth - start
	}

	plane := m.width * m.height
	slab := make([]float64, plane*depth)
	copy(slab, m.Data[start*plane:(start+depth)*plane])
	return slab, nil
}

// MemorySource serves registered in-memory grids by path. Paths that were
// never registered fail to open, which makes it handy for exercising load
// failures.
type MemorySource struct {
	mu    sync.Mutex
	grids map[string]*Memory
	opens map[string]int
}

// NewMemorySource creates an empty source
func NewMemorySource() *MemorySource {
	return &MemorySource{
		grids: make(map[string]*Memory),
		opens: make(map[string]int),
	}
}

// Add registers grid under path
func (s *MemorySource) Add(path string, grid *Memory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grids[path] = grid
}

// Open returns the grid registered under path
func (s *MemorySource) Open(path string) (Grid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	grid, ok := s.grids[path]
	if !ok {
		return nil, fmt.Errorf("no volume registered at %s", path)
	}
	s.opens[path]++
	return grid, nil
}

// Opens returns how many times path was opened
func (s *MemorySource) Opens(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens[path]
}
