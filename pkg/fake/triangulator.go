package fake

import (
	"errors"

	"github.com/ltrt/ltrt/pkg/calibration"
	"github.com/ltrt/ltrt/pkg/types"
)

// MeanTriangulator averages each joint's image coordinates across cameras
// and reports the camera count as depth. It ignores the calibration.
type MeanTriangulator struct{}

// Triangulate implements interfaces.Triangulator
func (MeanTriangulator) Triangulate(combined types.CombinedArray, _ *calibration.Calibration) ([]types.Point3D, error) {
	if combined.CameraCount() == 0 {
		return nil, errors.New("no cameras to triangulate")
	}

	joints := combined.JointCount()
	out := make([]types.Point3D, joints)
	for j := 0; j < joints; j++ {
		n := 0
		for _, row := range combined.Points {
			if j >= len(row) {
				continue
			}
			out[j].X += row[j].X
			out[j].Y += row[j].Y
			n++
		}
		if n > 0 {
			out[j].X /= float64(n)
			out[j].Y /= float64(n)
		}
		out[j].Z = float64(n)
	}
	return out, nil
}
