// Package triangulate recovers 3D joint positions from calibrated 2D
// observations with the direct linear transform.
package triangulate

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/ltrt/ltrt/pkg/calibration"
	"github.com/ltrt/ltrt/pkg/types"
)

const (
	DefaultMinConfidence = 0.3
	DefaultMinCameras    = 2
)

// ErrNoCalibration is returned when triangulation is attempted without one
var ErrNoCalibration = errors.New("triangulation needs a calibration")

// DLT triangulates every joint independently. Observations below
// MinConfidence are ignored; joints seen by fewer than MinCameras cameras
// come back as NaN points so the joint axis stays aligned.
type DLT struct {
	MinConfidence float64
	MinCameras    int
}

// New creates a DLT triangulator with default gating
func New() *DLT {
	return &DLT{MinConfidence: DefaultMinConfidence, MinCameras: DefaultMinCameras}
}

// Triangulate implements interfaces.Triangulator
func (d *DLT) Triangulate(combined types.CombinedArray, cal *calibration.Calibration) ([]types.Point3D, error) {
	if cal == nil {
		return nil, ErrNoCalibration
	}
	minCameras := d.MinCameras
	if minCameras < 2 {
		minCameras = 2
	}

	projections := make([]*mat.Dense, combined.CameraCount())
	for i, id := range combined.CameraIDs {
		cam, err := cal.Camera(id)
		if err != nil {
			return nil, err
		}
		projections[i] = cam.Projection()
	}

	joints := combined.JointCount()
	out := make([]types.Point3D, joints)
	for j := 0; j < joints; j++ {
		var rows [][4]float64
		for c, p := range projections {
			if j >= len(combined.Points[c]) || confidence(combined, c, j) < d.MinConfidence {
				continue
			}
			pt := combined.Points[c][j]
			rows = append(rows, equationRow(p, pt.X, 0), equationRow(p, pt.Y, 1))
		}
		if len(rows)/2 < minCameras {
			out[j] = nanPoint()
			continue
		}

		point, err := solve(rows)
		if err != nil {
			return nil, fmt.Errorf("joint %d: %w", j, err)
		}
		out[j] = point
	}
	return out, nil
}

// equationRow builds coord*P[2] - P[axis]
func equationRow(p *mat.Dense, coord float64, axis int) [4]float64 {
	var row [4]float64
	for k := 0; k < 4; k++ {
		row[k] = coord*p.At(2, k) - p.At(axis, k)
	}
	return row
}

func solve(rows [][4]float64) (types.Point3D, error) {
	a := mat.NewDense(len(rows), 4, nil)
	for i, r := range rows {
		a.SetRow(i, r[:])
	}

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDFull); !ok {
		return types.Point3D{}, errors.New("svd did not converge")
	}
	var v mat.Dense
	svd.VTo(&v)

	w := v.At(3, 3)
	if math.Abs(w) < 1e-12 {
		return types.Point3D{}, errors.New("point at infinity")
	}
	return types.Point3D{X: v.At(0, 3) / w, Y: v.At(1, 3) / w, Z: v.At(2, 3) / w}, nil
}

func confidence(combined types.CombinedArray, camera, joint int) float64 {
	if camera >= len(combined.Confidences) || joint >= len(combined.Confidences[camera]) {
		return 1
	}
	return combined.Confidences[camera][joint]
}

func nanPoint() types.Point3D {
	return types.Point3D{X: math.NaN(), Y: math.NaN(), Z: math.NaN()}
}

// IsValid reports whether a triangulated point carries coordinates
func IsValid(p types.Point3D) bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsNaN(p.Z)
}

// ReprojectionError is the mean pixel distance between the observations and
// the points projected back through the calibration
func ReprojectionError(points []types.Point3D, combined types.CombinedArray, cal *calibration.Calibration) (float64, error) {
	var sum float64
	var n int
	for c, id := range combined.CameraIDs {
		cam, err := cal.Camera(id)
		if err != nil {
			return 0, err
		}
		for j, p := range points {
			if !IsValid(p) || j >= len(combined.Points[c]) {
				continue
			}
			px, ok := cam.Project(p)
			if !ok {
				continue
			}
			obs := combined.Points[c][j]
			sum += math.Hypot(px.X-obs.X, px.Y-obs.Y)
			n++
		}
	}
	if n == 0 {
		return 0, errors.New("no valid observations")
	}
	return sum / float64(n), nil
}
