package scancontext

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// SaveSCD writes d's ring x sector matrix as a whitespace-delimited,
// three-decimal text matrix (spec §6's scancontext/NNNNNN.scd format). The
// ring-key is recomputed from the matrix on load, so it is not persisted.
func SaveSCD(d *Descriptor, w io.Writer) error {
	bw := bufio.NewWriter(w)
	rows, cols := d.Matrix.Dims()
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			if c > 0 {
				if err := bw.WriteByte(' '); err != nil {
					return err
				}
			}
			if _, err := fmt.Fprintf(bw, "%.3f", d.Matrix.At(r, c)); err != nil {
				return err
			}
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// LoadSCD reads a descriptor matrix written by SaveSCD and recomputes its
// ring-key.
func LoadSCD(r io.Reader) (*Descriptor, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var rows [][]float64
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		row := make([]float64, len(fields))
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "parsing scd value %q", f)
			}
			row[i] = v
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, errors.New("empty scd file")
	}

	numRows := len(rows)
	numCols := len(rows[0])
	grid := mat.NewDense(numRows, numCols, nil)
	for r, row := range rows {
		if len(row) != numCols {
			return nil, errors.Errorf("ragged scd row %d: expected %d columns, got %d", r, numCols, len(row))
		}
		for c, v := range row {
			grid.Set(r, c, v)
		}
	}

	ringKey := make([]float64, numRows)
	for r := 0; r < numRows; r++ {
		row := mat.Row(nil, r, grid)
		var sum float64
		for _, v := range row {
			sum += v
		}
		ringKey[r] = sum / float64(numCols)
	}

	return &Descriptor{Matrix: grid, RingKey: ringKey}, nil
}
