package mesh

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Topology is the static reference geometry of the FLAME head template:
// vertex positions, UV coordinates and the triangle lists indexing
// both. Loaded once, read-only afterwards.
type Topology struct {
	Vertices *mat.Dense
	UVCoords *mat.Dense
	Faces    [][3]int
	UVFaces  [][3]int
}

// LoadOBJ reads a plain-text face-geometry file. Only v, vt and f
// records are used; face indices are converted from the format's
// 1-based convention to 0-based. Malformed records fail with the
// offending line so the broken asset can be diagnosed.
func LoadOBJ(path string) (*Topology, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening topology file: %w", err)
	}
	defer f.Close()
	return ParseOBJ(f)
}

// ParseOBJ parses OBJ-format geometry from r.
func ParseOBJ(r io.Reader) (*Topology, error) {
	var (
		verts   []float64
		uvs     []float64
		faceIdx []int
		uvIdx   []int
	)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		tokens := strings.Fields(line)

		switch {
		case strings.HasPrefix(line, "v "):
			if len(tokens) < 4 {
				return nil, fmt.Errorf("vertex does not have 3 values: %q", line)
			}
			for _, tok := range tokens[1:4] {
				val, err := strconv.ParseFloat(tok, 64)
				if err != nil {
					return nil, fmt.Errorf("parsing vertex %q: %w", line, err)
				}
				verts = append(verts, val)
			}
		case strings.HasPrefix(line, "vt "):
			if len(tokens) < 3 {
				return nil, fmt.Errorf("texture coordinate does not have 2 values: %q", line)
			}
			for _, tok := range tokens[1:3] {
				val, err := strconv.ParseFloat(tok, 64)
				if err != nil {
					return nil, fmt.Errorf("parsing texture coordinate %q: %w", line, err)
				}
				uvs = append(uvs, val)
			}
		case strings.HasPrefix(line, "f "):
			for _, corner := range tokens[1:] {
				props := strings.Split(corner, "/")
				vi, err := strconv.Atoi(props[0])
				if err != nil {
					return nil, fmt.Errorf("parsing face %q: %w", line, err)
				}
				faceIdx = append(faceIdx, vi-1)
				if len(props) > 1 && props[1] != "" {
					ti, err := strconv.Atoi(props[1])
					if err != nil {
						return nil, fmt.Errorf("parsing face %q: %w", line, err)
					}
					uvIdx = append(uvIdx, ti-1)
				}
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading topology: %w", err)
	}

	if len(faceIdx)%3 != 0 {
		return nil, fmt.Errorf("face index count %d is not a multiple of 3", len(faceIdx))
	}
	if len(uvIdx)%3 != 0 {
		return nil, fmt.Errorf("uv face index count %d is not a multiple of 3", len(uvIdx))
	}

	top := &Topology{
		Faces:   groupTriples(faceIdx),
		UVFaces: groupTriples(uvIdx),
	}
	if len(verts) > 0 {
		top.Vertices = mat.NewDense(len(verts)/3, 3, verts)
	}
	if len(uvs) > 0 {
		top.UVCoords = mat.NewDense(len(uvs)/2, 2, uvs)
	}
	return top, nil
}

func groupTriples(idx []int) [][3]int {
	out := make([][3]int, len(idx)/3)
	for i := range out {
		out[i] = [3]int{idx[i*3], idx[i*3+1], idx[i*3+2]}
	}
	return out
}
