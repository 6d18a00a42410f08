package export

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/fourdrec/fourdrec/pkg/fourdframe"
)

// writeOBJ renders rec as a Wavefront OBJ. Frame records carry triangle
// soup, so faces are consecutive vertex triplets and vertex and UV indices
// coincide.
func writeOBJ(w io.Writer, rec *fourdframe.Record) error {
	bw := bufio.NewWriter(w)

	for i := 0; i+2 < len(rec.Positions); i += 3 {
		fmt.Fprintf(bw, "v %g %g %g\n", rec.Positions[i], rec.Positions[i+1], rec.Positions[i+2])
	}
	for i := 0; i+1 < len(rec.UVs); i += 2 {
		fmt.Fprintf(bw, "vt %g %g\n", rec.UVs[i], rec.UVs[i+1])
	}
	points := rec.PointCount()
	for i := 1; i+2 <= points; i += 3 {
		fmt.Fprintf(bw, "f %d/%d %d/%d %d/%d\n", i, i, i+1, i+1, i+2, i+2)
	}
	return bw.Flush()
}

// writeOBJFile writes one OBJ frame to path.
func writeOBJFile(path string, rec *fourdframe.Record) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := writeOBJ(f, rec); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
