package geometry

import (
	"fmt"
	"strings"
)

// RLE is the COCO compressed run-length encoding of a mask.
// Size is [height, width]; Counts holds alternating zero/one run lengths over the
// column-major pixel order, packed into the COCO ASCII form.
type RLE struct {
	Size   [2]int `json:"size"`
	Counts string `json:"counts"`
}

// Encode compresses a mask. Decode(Encode(m)) reproduces m exactly.
func Encode(m *Mask) RLE {
	return RLE{
		Size:   [2]int{m.Height, m.Width},
		Counts: countsToString(runLengths(m)),
	}
}

// MaxMaskPixels bounds the mask size Decode accepts, about a 16k x 16k image.
const MaxMaskPixels = 1 << 28

// Decode reconstructs the mask described by an RLE. The runs are checked against
// the size before any pixel storage is allocated.
func Decode(r RLE) (*Mask, error) {
	h, w := r.Size[0], r.Size[1]
	if h < 0 || w < 0 {
		return nil, fmt.Errorf("invalid rle size %dx%d", h, w)
	}
	if h > 0 && w > MaxMaskPixels/h {
		return nil, fmt.Errorf("rle size %dx%d exceeds %d pixels", h, w, MaxMaskPixels)
	}
	total := h * w
	counts, err := stringToCounts(r.Counts)
	if err != nil {
		return nil, err
	}

	pos := 0
	for _, c := range counts {
		if c < 0 {
			return nil, fmt.Errorf("invalid rle: negative run %d", c)
		}
		if c > total-pos {
			return nil, fmt.Errorf("invalid rle: runs exceed %dx%d", h, w)
		}
		pos += c
	}
	if pos != total {
		return nil, fmt.Errorf("invalid rle: runs cover %d of %d pixels", pos, total)
	}

	m := NewMask(h, w)
	pos = 0
	val := false
	for _, c := range counts {
		if val {
			for i := pos; i < pos+c; i++ {
				m.Set(i%h, i/h, true)
			}
		}
		pos += c
		val = !val
	}
	return m, nil
}

// runLengths walks the mask column by column. The first run always counts zeros.
func runLengths(m *Mask) []int {
	counts := make([]int, 0, 16)
	cur := false
	run := 0
	for x := 0; x < m.Width; x++ {
		for y := 0; y < m.Height; y++ {
			if m.At(y, x) != cur {
				counts = append(counts, run)
				run = 0
				cur = !cur
			}
			run++
		}
	}
	return append(counts, run)
}

// countsToString packs run lengths 5 bits per character, delta-coding every run
// after the second against the run two positions earlier.
func countsToString(counts []int) string {
	var b strings.Builder
	for i := range counts {
		x := int64(counts[i])
		if i > 2 {
			x -= int64(counts[i-2])
		}
		more := true
		for more {
			c := x & 0x1f
			x >>= 5
			if c&0x10 != 0 {
				more = x != -1
			} else {
				more = x != 0
			}
			if more {
				c |= 0x20
			}
			b.WriteByte(byte(c + 48))
		}
	}
	return b.String()
}

func stringToCounts(s string) ([]int, error) {
	counts := make([]int, 0, len(s)/2+1)
	p := 0
	for p < len(s) {
		var x int64
		k := 0
		more := true
		for more {
			if p >= len(s) {
				return nil, fmt.Errorf("invalid rle: truncated counts")
			}
			c := int64(s[p]) - 48
			if c < 0 || c > 63 {
				return nil, fmt.Errorf("invalid rle: unexpected character %q", s[p])
			}
			x |= (c & 0x1f) << (5 * k)
			more = c&0x20 != 0
			p++
			k++
			if !more && c&0x10 != 0 {
				x |= -1 << (5 * k)
			}
		}
		if len(counts) > 2 {
			x += int64(counts[len(counts)-2])
		}
		counts = append(counts, int(x))
	}
	return counts, nil
}
