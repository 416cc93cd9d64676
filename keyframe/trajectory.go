package keyframe

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// trajectory.pcd's eight fields, in order (spec §6): x, y, z, roll, pitch,
// yaw, time, intensity (the global id carried in place of a true LiDAR
// intensity, per SPEC_FULL §3's re-engineered Pose6D.ID).
const trajectoryFields = "x y z roll pitch yaw time intensity"

// writeTrajectory writes poses as a binary point cloud in the order given
// (Save passes them in ascending ID order), one record of 7 float32s plus
// an int32 id per pose.
func writeTrajectory(poses []Pose6D, w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprint(bw, "VERSION .7\n")
	fmt.Fprintf(bw, "FIELDS %s\n", trajectoryFields)
	fmt.Fprint(bw, "SIZE 4 4 4 4 4 4 4 4\n")
	fmt.Fprint(bw, "TYPE F F F F F F F I\n")
	fmt.Fprint(bw, "COUNT 1 1 1 1 1 1 1 1\n")
	fmt.Fprintf(bw, "WIDTH %d\n", len(poses))
	fmt.Fprint(bw, "HEIGHT 1\n")
	fmt.Fprint(bw, "VIEWPOINT 0 0 0 1 0 0 0\n")
	fmt.Fprintf(bw, "POINTS %d\n", len(poses))
	fmt.Fprint(bw, "DATA binary\n")

	buf := make([]byte, 32)
	for _, p := range poses {
		putF32(buf[0:4], p.X)
		putF32(buf[4:8], p.Y)
		putF32(buf[8:12], p.Z)
		putF32(buf[12:16], p.Roll)
		putF32(buf[16:20], p.Pitch)
		putF32(buf[20:24], p.Yaw)
		putF32(buf[24:28], p.Time)
		binary.LittleEndian.PutUint32(buf[28:32], uint32(int32(p.ID)))
		if _, err := bw.Write(buf); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func putF32(b []byte, v float64) {
	binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
}

func getF32(b []byte) float64 {
	return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
}

// readTrajectory parses a trajectory.pcd written by writeTrajectory.
func readTrajectory(r io.Reader) ([]Pose6D, error) {
	br := bufio.NewReader(r)
	numPoints := 0
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, errors.Wrap(err, "reading trajectory header")
		}
		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "POINTS":
			numPoints, _ = strconv.Atoi(fields[1])
		case "DATA":
			if fields[1] != "binary" {
				return nil, errors.Errorf("unsupported trajectory data encoding %q", fields[1])
			}
			goto data
		}
	}
data:
	poses := make([]Pose6D, numPoints)
	buf := make([]byte, 32)
	for i := 0; i < numPoints; i++ {
		if _, err := io.ReadFull(br, buf); err != nil {
			return nil, errors.Wrap(err, "reading trajectory pose record")
		}
		poses[i] = Pose6D{
			X: getF32(buf[0:4]), Y: getF32(buf[4:8]), Z: getF32(buf[8:12]),
			Roll: getF32(buf[12:16]), Pitch: getF32(buf[16:20]), Yaw: getF32(buf[20:24]),
			Time: getF32(buf[24:28]),
			ID:   int(int32(binary.LittleEndian.Uint32(buf[28:32]))),
		}
	}
	return poses, nil
}
