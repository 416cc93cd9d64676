package pgo

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/viam-labs/map-stitch/spatialmath"
)

// Graph is the on-disk factor_graph.fg contents: one pose per vertex id and
// the edges relating them.
type Graph struct {
	Vertices map[int]spatialmath.Pose
	Edges    []Factor
}

// WriteFG writes g in the factor_graph.fg grammar (spec §6). Noises are
// written as standard deviations (the writer takes the square root of the
// in-memory variance).
func WriteFG(g *Graph, w io.Writer) error {
	bw := bufio.NewWriter(w)

	ids := make([]int, 0, len(g.Vertices))
	for id := range g.Vertices {
		ids = append(ids, id)
	}
	sortInts(ids)

	if _, err := fmt.Fprintf(bw, "VERTEX_SIZE: %d\n", len(ids)); err != nil {
		return err
	}
	for _, id := range ids {
		v := FromPose(g.Vertices[id])
		if _, err := fmt.Fprintf(bw, "VERTEX %d: %f %f %f %f %f %f\n",
			id, v[0], v[1], v[2], v[3], v[4], v[5]); err != nil {
			return err
		}
	}

	if _, err := fmt.Fprintf(bw, "EDGE_SIZE: %d\n", len(g.Edges)); err != nil {
		return err
	}
	for _, e := range g.Edges {
		if err := writeEdge(bw, e); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func writeEdge(w *bufio.Writer, e Factor) error {
	sigma := make([]float64, len(e.Noise))
	for i, variance := range e.Noise {
		sigma[i] = math.Sqrt(variance)
	}
	switch e.Kind {
	case Prior:
		_, err := fmt.Fprintf(w, "EDGE %d: %d %f %f %f %f %f %f %f %f %f %f %f %f\n",
			Prior, e.FromID,
			e.Value[0], e.Value[1], e.Value[2], e.Value[3], e.Value[4], e.Value[5],
			sigma[0], sigma[1], sigma[2], sigma[3], sigma[4], sigma[5])
		return err
	case Between, Loop:
		_, err := fmt.Fprintf(w, "EDGE %d: %d %d %f %f %f %f %f %f %f %f %f %f %f %f\n",
			e.Kind, e.FromID, e.ToID,
			e.Value[0], e.Value[1], e.Value[2], e.Value[3], e.Value[4], e.Value[5],
			sigma[0], sigma[1], sigma[2], sigma[3], sigma[4], sigma[5])
		return err
	case Gps:
		_, err := fmt.Fprintf(w, "EDGE %d: %d %f %f %f %f %f %f\n",
			Gps, e.FromID,
			e.Value[0], e.Value[1], e.Value[2],
			sigma[0], sigma[1], sigma[2])
		return err
	default:
		return errors.Errorf("unknown factor kind %d", e.Kind)
	}
}

func sortInts(ids []int) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j] < ids[j-1]; j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
}

// ReadFG parses a factor_graph.fg stream, squaring on-disk standard
// deviations back into in-memory variances.
func ReadFG(r io.Reader) (*Graph, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	g := &Graph{Vertices: map[int]spatialmath.Pose{}}

	nextLine := func() (string, bool) {
		if !sc.Scan() {
			return "", false
		}
		return strings.TrimSpace(sc.Text()), true
	}

	line, ok := nextLine()
	if !ok {
		return nil, errors.New("empty factor graph file")
	}
	numVertices, err := parseSizeLine(line, "VERTEX_SIZE:")
	if err != nil {
		return nil, err
	}

	for i := 0; i < numVertices; i++ {
		line, ok := nextLine()
		if !ok {
			return nil, errors.New("truncated factor graph file: expected VERTEX line")
		}
		id, vals, err := parseRecordLine(line, "VERTEX")
		if err != nil {
			return nil, err
		}
		if len(vals) != 6 {
			return nil, errors.Errorf("malformed VERTEX %d: expected 6 values, got %d", id, len(vals))
		}
		g.Vertices[id] = spatialmath.NewPoseFromEuler(vals[0], vals[1], vals[2], vals[3], vals[4], vals[5])
	}

	line, ok = nextLine()
	if !ok {
		return nil, errors.New("truncated factor graph file: expected EDGE_SIZE")
	}
	numEdges, err := parseSizeLine(line, "EDGE_SIZE:")
	if err != nil {
		return nil, err
	}

	for i := 0; i < numEdges; i++ {
		line, ok := nextLine()
		if !ok {
			return nil, errors.New("truncated factor graph file: expected EDGE line")
		}
		f, err := parseEdgeLine(line)
		if err != nil {
			return nil, err
		}
		g.Edges = append(g.Edges, f)
	}

	return g, nil
}

func parseSizeLine(line, prefix string) (int, error) {
	if !strings.HasPrefix(line, prefix) {
		return 0, errors.Errorf("expected %q, got %q", prefix, line)
	}
	n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, prefix)))
	if err != nil {
		return 0, errors.Wrapf(err, "parsing %q", line)
	}
	return n, nil
}

// parseRecordLine parses "VERTEX <id>: <v0> ... <vN>" into (id, values).
func parseRecordLine(line, tag string) (int, []float64, error) {
	if !strings.HasPrefix(line, tag+" ") {
		return 0, nil, errors.Errorf("expected %q record, got %q", tag, line)
	}
	rest := strings.TrimPrefix(line, tag+" ")
	parts := strings.SplitN(rest, ":", 2)
	if len(parts) != 2 {
		return 0, nil, errors.Errorf("malformed %q record %q", tag, line)
	}
	id, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, nil, errors.Wrapf(err, "parsing %q id", tag)
	}
	vals, err := parseFloats(parts[1])
	return id, vals, err
}

func parseFloats(s string) ([]float64, error) {
	fields := strings.Fields(s)
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing float %q", f)
		}
		out[i] = v
	}
	return out, nil
}

func parseEdgeLine(line string) (Factor, error) {
	if !strings.HasPrefix(line, "EDGE ") {
		return Factor{}, errors.Errorf("expected EDGE record, got %q", line)
	}
	rest := strings.TrimPrefix(line, "EDGE ")
	parts := strings.SplitN(rest, ":", 2)
	if len(parts) != 2 {
		return Factor{}, errors.Errorf("malformed EDGE record %q", line)
	}
	kindInt, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return Factor{}, errors.Wrap(err, "parsing edge kind")
	}
	kind := Kind(kindInt)
	fields, err := parseFloats(parts[1])
	if err != nil {
		return Factor{}, err
	}

	switch kind {
	case Prior:
		if len(fields) != 13 {
			return Factor{}, errors.Errorf("malformed Prior edge %q", line)
		}
		id := int(fields[0])
		return Factor{
			Kind: Prior, FromID: id, ToID: id,
			Value: Vector6{fields[1], fields[2], fields[3], fields[4], fields[5], fields[6]},
			Noise: squareAll(fields[7:13]),
		}, nil
	case Between, Loop:
		if len(fields) != 14 {
			return Factor{}, errors.Errorf("malformed Between/Loop edge %q", line)
		}
		return Factor{
			Kind: kind, FromID: int(fields[0]), ToID: int(fields[1]),
			Value: Vector6{fields[2], fields[3], fields[4], fields[5], fields[6], fields[7]},
			Noise: squareAll(fields[8:14]),
		}, nil
	case Gps:
		if len(fields) != 7 {
			return Factor{}, errors.Errorf("malformed Gps edge %q", line)
		}
		id := int(fields[0])
		return Factor{
			Kind: Gps, FromID: id, ToID: id,
			Value: Vector6{fields[1], fields[2], fields[3], 0, 0, 0},
			Noise: squareAll(fields[4:7]),
		}, nil
	default:
		return Factor{}, errors.Errorf("unknown factor kind %d in %q", kindInt, line)
	}
}

func squareAll(sigmas []float64) []float64 {
	out := make([]float64, len(sigmas))
	for i, s := range sigmas {
		out[i] = s * s
	}
	return out
}
