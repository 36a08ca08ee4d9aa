package tensor

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Embeddings are stored as NumPy .npy v1.0 blobs so that projects stay readable by
// the Python tooling that produced earlier archives.

var npyMagic = []byte("\x93NUMPY")

// maxHeaderLen bounds the header dict; numpy writes well under 1 KiB.
const maxHeaderLen = 1 << 16

var (
	descrRe   = regexp.MustCompile(`'descr':\s*'([^']*)'`)
	fortranRe = regexp.MustCompile(`'fortran_order':\s*(True|False)`)
	shapeRe   = regexp.MustCompile(`'shape':\s*\(([^)]*)\)`)
)

// WriteNPY writes the embedding as a little-endian float32 .npy array.
// The output depends only on the embedding, so equal tensors produce equal bytes.
func WriteNPY(w io.Writer, e Embedding) error {
	if err := e.Validate(); err != nil {
		return err
	}

	dims := make([]string, len(e.Shape))
	for i, d := range e.Shape {
		dims[i] = strconv.Itoa(d)
	}
	shape := strings.Join(dims, ", ")
	if len(dims) == 1 {
		shape += ","
	}
	header := fmt.Sprintf("{'descr': '<f4', 'fortran_order': False, 'shape': (%s), }", shape)

	// magic(6) + version(2) + header length(2) + header, padded to 64 bytes with a trailing newline
	total := 10 + len(header) + 1
	if rem := total % 64; rem != 0 {
		header += strings.Repeat(" ", 64-rem)
	}
	header += "\n"

	bw := bufio.NewWriter(w)
	_, _ = bw.Write(npyMagic)
	_, _ = bw.Write([]byte{1, 0})
	if err := binary.Write(bw, binary.LittleEndian, uint16(len(header))); err != nil {
		return fmt.Errorf("failed to write npy header: %w", err)
	}
	_, _ = bw.WriteString(header)

	buf := make([]byte, 4)
	for _, v := range e.Data {
		binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
		if _, err := bw.Write(buf); err != nil {
			return fmt.Errorf("failed to write npy data: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to write npy data: %w", err)
	}
	return nil
}

// ReadNPY reads a C-ordered little-endian float32 or float64 .npy array.
// float64 data is narrowed to float32.
func ReadNPY(r io.Reader) (Embedding, error) {
	br := bufio.NewReader(r)

	prefix := make([]byte, 8)
	if _, err := io.ReadFull(br, prefix); err != nil {
		return Embedding{}, fmt.Errorf("failed to read npy magic: %w", err)
	}
	if !bytes.Equal(prefix[:6], npyMagic) {
		return Embedding{}, errors.New("not an npy file")
	}

	var headerLen int
	switch prefix[6] {
	case 1:
		var n uint16
		if err := binary.Read(br, binary.LittleEndian, &n); err != nil {
			return Embedding{}, fmt.Errorf("failed to read npy header length: %w", err)
		}
		headerLen = int(n)
	case 2, 3:
		var n uint32
		if err := binary.Read(br, binary.LittleEndian, &n); err != nil {
			return Embedding{}, fmt.Errorf("failed to read npy header length: %w", err)
		}
		headerLen = int(n)
	default:
		return Embedding{}, fmt.Errorf("unsupported npy version %d.%d", prefix[6], prefix[7])
	}

	if headerLen > maxHeaderLen {
		return Embedding{}, fmt.Errorf("npy header of %d bytes exceeds %d", headerLen, maxHeaderLen)
	}
	header := make([]byte, headerLen)
	if _, err := io.ReadFull(br, header); err != nil {
		return Embedding{}, fmt.Errorf("failed to read npy header: %w", err)
	}
	descr, shape, err := parseHeader(string(header))
	if err != nil {
		return Embedding{}, err
	}

	var size int
	switch descr {
	case "<f4":
		size = 4
	case "<f8":
		size = 8
	default:
		return Embedding{}, fmt.Errorf("unsupported npy dtype %q", descr)
	}

	n, err := CheckedElements(shape)
	if err != nil {
		return Embedding{}, err
	}
	raw := make([]byte, n*size)
	if _, err := io.ReadFull(br, raw); err != nil {
		return Embedding{}, fmt.Errorf("failed to read npy data: %w", err)
	}

	data := make([]float32, n)
	for i := range data {
		if size == 4 {
			data[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		} else {
			data[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:])))
		}
	}
	return Embedding{Shape: shape, Data: data}, nil
}

func parseHeader(h string) (string, []int, error) {
	m := descrRe.FindStringSubmatch(h)
	if m == nil {
		return "", nil, errors.New("npy header missing descr")
	}
	descr := m[1]

	if f := fortranRe.FindStringSubmatch(h); f != nil && f[1] == "True" {
		return "", nil, errors.New("fortran-ordered npy arrays are not supported")
	}

	s := shapeRe.FindStringSubmatch(h)
	if s == nil {
		return "", nil, errors.New("npy header missing shape")
	}
	shape := []int{}
	for _, part := range strings.Split(s[1], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := strconv.Atoi(strings.TrimSuffix(part, "L"))
		if err != nil || d < 0 {
			return "", nil, fmt.Errorf("invalid npy shape %q", s[1])
		}
		shape = append(shape, d)
	}
	return descr, shape, nil
}
