package pointcloud

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// PCDType selects the DATA section encoding ToPCD writes.
type PCDType int

// PCD encodings this package can write; binary_compressed is not supported.
const (
	PCDAscii PCDType = iota
	PCDBinary
)

// ToPCD writes pc as a PCD file, with a value field whenever any point
// carries one. This is the format keyframe/NNNNNN.pcd and submap snapshots
// are persisted in; trajectory.pcd has its own writer in package keyframe.
func ToPCD(pc PointCloud, out io.Writer, pcdType PCDType) error {
	hasValue := false
	pc.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		if d != nil && d.HasValue() {
			hasValue = true
			return false
		}
		return true
	})

	w := bufio.NewWriter(out)
	fmt.Fprint(w, "VERSION .7\n")
	if hasValue {
		fmt.Fprint(w, "FIELDS x y z v\n")
		fmt.Fprint(w, "SIZE 4 4 4 4\n")
		fmt.Fprint(w, "TYPE F F F I\n")
		fmt.Fprint(w, "COUNT 1 1 1 1\n")
	} else {
		fmt.Fprint(w, "FIELDS x y z\n")
		fmt.Fprint(w, "SIZE 4 4 4\n")
		fmt.Fprint(w, "TYPE F F F\n")
		fmt.Fprint(w, "COUNT 1 1 1\n")
	}
	fmt.Fprintf(w, "WIDTH %d\n", pc.Size())
	fmt.Fprint(w, "HEIGHT 1\n")
	fmt.Fprint(w, "VIEWPOINT 0 0 0 1 0 0 0\n")
	fmt.Fprintf(w, "POINTS %d\n", pc.Size())

	switch pcdType {
	case PCDAscii:
		fmt.Fprint(w, "DATA ascii\n")
		var iterErr error
		pc.Iterate(0, 0, func(p r3.Vector, d Data) bool {
			if hasValue {
				v := 0
				if d != nil && d.HasValue() {
					v = d.Value()
				}
				_, iterErr = fmt.Fprintf(w, "%f %f %f %d\n", p.X, p.Y, p.Z, v)
			} else {
				_, iterErr = fmt.Fprintf(w, "%f %f %f\n", p.X, p.Y, p.Z)
			}
			return iterErr == nil
		})
		if iterErr != nil {
			return iterErr
		}
	case PCDBinary:
		fmt.Fprint(w, "DATA binary\n")
		buf := make([]byte, 0, 16)
		var iterErr error
		pc.Iterate(0, 0, func(p r3.Vector, d Data) bool {
			buf = buf[:0]
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(p.X)))
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(p.Y)))
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(p.Z)))
			if hasValue {
				v := int32(0)
				if d != nil && d.HasValue() {
					v = int32(d.Value())
				}
				buf = binary.LittleEndian.AppendUint32(buf, uint32(v))
			}
			_, iterErr = w.Write(buf)
			return iterErr == nil
		})
		if iterErr != nil {
			return iterErr
		}
	default:
		return errors.Errorf("unsupported pcd type %d", pcdType)
	}
	return w.Flush()
}

// PCDMetaData is the parsed PCD header.
type PCDMetaData struct {
	HasValue bool
	Width    int
	Height   int
	Points   int
	Data     string
}

// GetPCDMetaData parses only the header of a PCD stream.
func GetPCDMetaData(r io.Reader) (*PCDMetaData, *bufio.Reader, error) {
	br := bufio.NewReader(r)
	meta := &PCDMetaData{}
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, nil, errors.Wrap(err, "reading pcd header")
		}
		line = strings.TrimSpace(line)
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "VERSION":
			if fields[1] != ".7" {
				return nil, nil, errors.Errorf("unsupported pcd version %q", fields[1])
			}
		case "FIELDS":
			meta.HasValue = len(fields) >= 5 && fields[4] == "v"
		case "WIDTH":
			meta.Width, _ = strconv.Atoi(fields[1])
		case "HEIGHT":
			meta.Height, _ = strconv.Atoi(fields[1])
		case "POINTS":
			meta.Points, _ = strconv.Atoi(fields[1])
		case "DATA":
			meta.Data = fields[1]
			return meta, br, nil
		}
	}
}

// ReadPCD parses a PCD stream written by ToPCD.
func ReadPCD(r io.Reader) (PointCloud, error) {
	meta, br, err := GetPCDMetaData(r)
	if err != nil {
		return nil, err
	}
	pc := NewWithPrealloc(meta.Points)
	switch meta.Data {
	case "ascii":
		for i := 0; i < meta.Points; i++ {
			line, err := br.ReadString('\n')
			if err != nil && err != io.EOF {
				return nil, errors.Wrap(err, "reading pcd ascii data")
			}
			fields := strings.Fields(line)
			if len(fields) < 3 {
				return nil, errors.Errorf("malformed pcd point line %q", line)
			}
			x, _ := strconv.ParseFloat(fields[0], 64)
			y, _ := strconv.ParseFloat(fields[1], 64)
			z, _ := strconv.ParseFloat(fields[2], 64)
			p := r3.Vector{X: x, Y: y, Z: z}
			var d Data
			if meta.HasValue && len(fields) >= 4 {
				v, _ := strconv.Atoi(fields[3])
				d = NewValueData(v)
			}
			if err := pc.Set(p, d); err != nil {
				return nil, err
			}
		}
	case "binary":
		recSize := 12
		if meta.HasValue {
			recSize = 16
		}
		buf := make([]byte, recSize)
		for i := 0; i < meta.Points; i++ {
			if _, err := io.ReadFull(br, buf); err != nil {
				return nil, errors.Wrap(err, "reading pcd binary data")
			}
			x := float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[0:4])))
			y := float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[4:8])))
			z := float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[8:12])))
			p := r3.Vector{X: x, Y: y, Z: z}
			var d Data
			if meta.HasValue {
				v := int32(binary.LittleEndian.Uint32(buf[12:16]))
				d = NewValueData(int(v))
			}
			if err := pc.Set(p, d); err != nil {
				return nil, err
			}
		}
	default:
		return nil, errors.Errorf("unsupported pcd data encoding %q", meta.Data)
	}
	return pc, nil
}
