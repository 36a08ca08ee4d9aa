package geometry

import (
	"fmt"
	"math/bits"
)

// Mask is a binary pixel grid marking a segmented object's footprint.
// Cells are packed row-major into 64-bit words; bits past Height*Width are always zero.
type Mask struct {
	Height int
	Width  int
	words  []uint64
}

// NewMask creates an all-false mask of the given size.
func NewMask(height, width int) *Mask {
	if height < 0 {
		height = 0
	}
	if width < 0 {
		width = 0
	}
	return &Mask{
		Height: height,
		Width:  width,
		words:  make([]uint64, (height*width+63)/64),
	}
}

// MaskFromBools builds a mask from a row-major slice of length height*width.
func MaskFromBools(height, width int, cells []bool) (*Mask, error) {
	if len(cells) != height*width {
		return nil, fmt.Errorf("mask cells length %d does not match %dx%d", len(cells), height, width)
	}
	m := NewMask(height, width)
	for i, v := range cells {
		if v {
			m.words[i/64] |= 1 << uint(i%64)
		}
	}
	return m, nil
}

// Set assigns the cell at row y, column x.
func (m *Mask) Set(y, x int, v bool) {
	i := y*m.Width + x
	if v {
		m.words[i/64] |= 1 << uint(i%64)
	} else {
		m.words[i/64] &^= 1 << uint(i%64)
	}
}

// At reports whether the cell at row y, column x is set.
func (m *Mask) At(y, x int) bool {
	i := y*m.Width + x
	return m.words[i/64]&(1<<uint(i%64)) != 0
}

// Area returns the number of set cells.
func (m *Mask) Area() int {
	if m == nil {
		return 0
	}
	n := 0
	for _, w := range m.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// Size returns the pixel count of the grid the mask covers.
func (m *Mask) Size() int {
	return m.Height * m.Width
}

// SameShape reports whether both masks cover grids of the same dimensions.
func (m *Mask) SameShape(o *Mask) bool {
	return m != nil && o != nil && m.Height == o.Height && m.Width == o.Width
}

// Equal reports whether both masks have the same shape and the same set cells.
func (m *Mask) Equal(o *Mask) bool {
	if !m.SameShape(o) {
		return false
	}
	for i := range m.words {
		if m.words[i] != o.words[i] {
			return false
		}
	}
	return true
}

// BBox is an axis-aligned box in pixel units, COCO style (x, y, width, height).
type BBox struct {
	X int
	Y int
	W int
	H int
}

// XYWH returns the box as the [x, y, w, h] array stored in annotation files.
func (b BBox) XYWH() [4]float64 {
	return [4]float64{float64(b.X), float64(b.Y), float64(b.W), float64(b.H)}
}

// BBox returns the tightest box around the set cells. An empty mask has a zero box.
func (m *Mask) BBox() BBox {
	minX, minY := m.Width, m.Height
	maxX, maxY := -1, -1
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			if !m.At(y, x) {
				continue
			}
			if x < minX {
				minX = x
			}
			if x > maxX {
				maxX = x
			}
			if y < minY {
				minY = y
			}
			if y > maxY {
				maxY = y
			}
		}
	}
	if maxX < 0 {
		return BBox{}
	}
	return BBox{X: minX, Y: minY, W: maxX - minX + 1, H: maxY - minY + 1}
}

// intersection returns |a ∩ b| for two masks of the same shape.
func intersection(a, b *Mask) int {
	n := 0
	for i := range a.words {
		n += bits.OnesCount64(a.words[i] & b.words[i])
	}
	return n
}
