package stl

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

const headerSize = 80

// WriteSTL encodes triangles as binary STL: an 80 byte header, a little
// endian triangle count, then 50 bytes per facet
func WriteSTL(w io.Writer, triangles []Triangle) error {
	bw := bufio.NewWriter(w)

	header := make([]byte, headerSize)
	copy(header, "dicomrecon surface")
	if _, err := bw.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %v", err)
	}
	if err := binary.Write(bw, binary.LittleEndian, uint32(len(triangles))); err != nil {
		return fmt.Errorf("failed to write triangle count: %v", err)
	}

	var rec [50]byte
	for _, t := range triangles {
		off := 0
		for _, v := range [4][3]float32{t.Normal, t.Vertex1, t.Vertex2, t.Vertex3} {
			for _, c := range v {
				binary.LittleEndian.PutUint32(rec[off:], math.Float32bits(c))
				off += 4
			}
		}
		// attribute byte count stays zero
		if _, err := bw.Write(rec[:]); err != nil {
			return fmt.Errorf("failed to write triangle: %v", err)
		}
	}
	return bw.Flush()
}

// SaveToSTL writes triangles to a binary STL file
func SaveToSTL(filename string, triangles []Triangle) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create STL file: %v", err)
	}
	defer f.Close()

	if err := WriteSTL(f, triangles); err != nil {
		return err
	}
	return f.Close()
}

// ReadSTL decodes a binary STL stream
func ReadSTL(r io.Reader) ([]Triangle, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("failed to read header: %v", err)
	}
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("failed to read triangle count: %v", err)
	}

	out := make([]Triangle, 0, count)
	var rec [50]byte
	for i := uint32(0); i < count; i++ {
		if _, err := io.ReadFull(r, rec[:]); err != nil {
			return nil, fmt.Errorf("failed to read triangle %d: %v", i, err)
		}
		var vs [4][3]float32
		off := 0
		for j := range vs {
			for k := range vs[j] {
				vs[j][k] = math.Float32frombits(binary.LittleEndian.Uint32(rec[off:]))
				off += 4
			}
		}
		out = append(out, Triangle{Normal: vs[0], Vertex1: vs[1], Vertex2: vs[2], Vertex3: vs[3]})
	}
	return out, nil
}
