package mesh

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
	"gonum.org/v1/gonum/mat"
)

// ExportGLB writes vertices and triangles as a binary glTF file.
func ExportGLB(path string, v *mat.Dense, faces [][3]int) error {
	rows, _ := v.Dims()
	positions := make([][3]float32, rows)
	for i := 0; i < rows; i++ {
		positions[i] = [3]float32{
			float32(v.At(i, 0)),
			float32(v.At(i, 1)),
			float32(v.At(i, 2)),
		}
	}
	indices := make([]uint32, 0, len(faces)*3)
	for _, f := range faces {
		indices = append(indices, uint32(f[0]), uint32(f[1]), uint32(f[2]))
	}

	doc := gltf.NewDocument()
	posAcc := modeler.WritePosition(doc, positions)
	idxAcc := modeler.WriteIndices(doc, indices)
	doc.Meshes = append(doc.Meshes, &gltf.Mesh{
		Name: "face",
		Primitives: []*gltf.Primitive{{
			Indices:    gltf.Index(idxAcc),
			Attributes: map[string]int{gltf.POSITION: posAcc},
		}},
	})
	doc.Nodes = append(doc.Nodes, &gltf.Node{Name: "face", Mesh: gltf.Index(len(doc.Meshes) - 1)})
	doc.Scenes[0].Nodes = append(doc.Scenes[0].Nodes, len(doc.Nodes)-1)

	if err := gltf.SaveBinary(doc, path); err != nil {
		return fmt.Errorf("writing glb: %w", err)
	}
	return nil
}

// ExportOBJ writes vertices and triangles in the plain-text
// face-geometry format, 1-based indices.
func ExportOBJ(path string, v *mat.Dense, faces [][3]int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating obj file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	rows, _ := v.Dims()
	for i := 0; i < rows; i++ {
		fmt.Fprintf(w, "v %g %g %g\n", v.At(i, 0), v.At(i, 1), v.At(i, 2))
	}
	for _, face := range faces {
		fmt.Fprintf(w, "f %d %d %d\n", face[0]+1, face[1]+1, face[2]+1)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("writing obj file: %w", err)
	}
	return nil
}

// ExportAuto picks the export format from the file extension: .glb for
// binary glTF, anything else is written as OBJ.
func ExportAuto(path string, v *mat.Dense, faces [][3]int) error {
	if strings.HasSuffix(strings.ToLower(path), ".glb") {
		return ExportGLB(path, v, faces)
	}
	return ExportOBJ(path, v, faces)
}
