package volume

import (
	"image/jpeg"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestExtractSlice(t *testing.T) {
	width, height, depth := 4, 3, 5
	grid := NewMemory([3]int{width, height, depth}, nil)
	// Each z-plane holds its own value
	for z := 0; z < depth; z++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				grid.Set(x, y, z, float64(z))
			}
		}
	}

	img, err := ExtractSlice(grid, "z", 2)
	if err != nil {
		t.Fatalf("Failed to extract Z slice: %v", err)
	}
	if b := img.Bounds(); b.Dx() != width || b.Dy() != height {
		t.Fatalf("Z slice has bounds %v, want %dx%d", b, width, height)
	}
	if got := img.Gray16At(1, 1).Y; got != 65535 {
		t.Errorf("Uniform slice should scale to white, got %d", got)
	}

	img, err = ExtractSlice(grid, "x", 3)
	if err != nil {
		t.Fatalf("Failed to extract X slice: %v", err)
	}
	if b := img.Bounds(); b.Dx() != depth || b.Dy() != height {
		t.Fatalf("X slice has bounds %v, want %dx%d", b, depth, height)
	}
	// Column z of the YZ plane carries plane z's value scaled by the peak
	if img.Gray16At(0, 0).Y != 0 || img.Gray16At(depth-1, 0).Y != 65535 {
		t.Errorf("Unexpected X slice intensities: %d, %d", img.Gray16At(0, 0).Y, img.Gray16At(depth-1, 0).Y)
	}
	if got, want := img.Gray16At(2, 1).Y, uint16(65535/2); got != want {
		t.Errorf("X slice mid intensity = %d, want %d", got, want)
	}

	img, err = ExtractSlice(grid, "Y", 0)
	if err != nil {
		t.Fatalf("Failed to extract Y slice: %v", err)
	}
	if b := img.Bounds(); b.Dx() != width || b.Dy() != depth {
		t.Fatalf("Y slice has bounds %v, want %dx%d", b, width, depth)
	}
}

func TestExtractSliceErrors(t *testing.T) {
	grid := NewMemory([3]int{2, 2, 2}, nil)
	if _, err := ExtractSlice(grid, "w", 0); err == nil {
		t.Error("Expected error for invalid axis")
	}
	if _, err := ExtractSlice(grid, "z", 2); err == nil {
		t.Error("Expected error for position past the depth")
	}
	if _, err := ExtractSlice(grid, "x", -1); err == nil {
		t.Error("Expected error for negative position")
	}
}

func TestEmptySliceIsBlack(t *testing.T) {
	grid := NewMemory([3]int{2, 2, 2}, nil)
	img, err := ExtractSlice(grid, "z", 1)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range img.Pix {
		if p != 0 {
			t.Fatalf("Empty grid produced a non-black slice")
		}
	}
}

func TestNonFiniteVoxelsAreBlack(t *testing.T) {
	grid := NewMemory([3]int{3, 1, 1}, nil)
	grid.Set(0, 0, 0, math.NaN())
	grid.Set(1, 0, 0, math.Inf(1))
	grid.Set(2, 0, 0, 2)

	img, err := ExtractSlice(grid, "z", 0)
	if err != nil {
		t.Fatal(err)
	}
	if got := img.Gray16At(0, 0).Y; got != 0 {
		t.Errorf("NaN voxel rendered as %d, want 0", got)
	}
	if got := img.Gray16At(1, 0).Y; got != 0 {
		t.Errorf("Inf voxel rendered as %d, want 0", got)
	}
	if got := img.Gray16At(2, 0).Y; got != 65535 {
		t.Errorf("Peak voxel rendered as %d, want 65535", got)
	}
}

func TestSaveSlice(t *testing.T) {
	grid := NewMemory([3]int{8, 8, 2}, nil)
	grid.Set(3, 3, 1, 1)
	img, err := ExtractSlice(grid, "z", 1)
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "preview", "slice_z_001.jpg")
	if err := SaveSlice(img, path); err != nil {
		t.Fatalf("SaveSlice failed: %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()
	decoded, err := jpeg.Decode(file)
	if err != nil {
		t.Fatalf("Saved file is not a JPEG: %v", err)
	}
	if decoded.Bounds().Dx() != 8 {
		t.Errorf("Decoded width %d, want 8", decoded.Bounds().Dx())
	}
}
