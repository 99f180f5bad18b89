// Package calibration loads multi-camera calibrations in the anipose TOML
// layout and derives the projection matrices triangulation needs.
// A Calibration is immutable once loaded.
package calibration

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gonum.org/v1/gonum/mat"

	"github.com/ltrt/ltrt/pkg/types"
)

// ErrUnknownCamera is returned when a camera id has no calibration entry
var ErrUnknownCamera = errors.New("camera not in calibration")

// Metadata is the [metadata] table
type Metadata struct {
	Adjusted bool    `toml:"adjusted"`
	Error    float64 `toml:"error"`
}

// Camera holds the intrinsics and extrinsics of one camera
type Camera struct {
	ID          types.CameraID
	Name        string
	Size        [2]int
	Matrix      [3][3]float64 // intrinsics K
	Distortions []float64
	Rotation    [3]float64 // Rodrigues vector
	Translation [3]float64

	projection *mat.Dense // 3x4, K [R|t]
}

// Calibration is the full camera group
type Calibration struct {
	Path     string
	Metadata Metadata

	cameras []*Camera // sorted by ID
	byID    map[types.CameraID]*Camera
}

type cameraTOML struct {
	Name        string      `toml:"name"`
	Size        []int       `toml:"size"`
	Matrix      [][]float64 `toml:"matrix"`
	Distortions []float64   `toml:"distortions"`
	Rotation    []float64   `toml:"rotation"`
	Translation []float64   `toml:"translation"`
}

// Load reads and parses a calibration file
func Load(path string) (*Calibration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read calibration: %w", err)
	}

	cal, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse calibration %s: %w", path, err)
	}
	cal.Path = path
	return cal, nil
}

// Parse decodes calibration TOML. Every table other than [metadata] is a
// camera; its id comes from a trailing integer in the table name
// ("cam_0" -> 0), falling back to the table's position.
func Parse(data []byte) (*Calibration, error) {
	var raw map[string]toml.Primitive
	md, err := toml.Decode(string(data), &raw)
	if err != nil {
		return nil, err
	}

	cal := &Calibration{byID: make(map[types.CameraID]*Camera)}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	position := 0
	for _, key := range keys {
		if key == "metadata" {
			if err := md.PrimitiveDecode(raw[key], &cal.Metadata); err != nil {
				return nil, fmt.Errorf("metadata: %w", err)
			}
			continue
		}

		var ct cameraTOML
		if err := md.PrimitiveDecode(raw[key], &ct); err != nil {
			return nil, fmt.Errorf("camera %q: %w", key, err)
		}

		id, ok := parseCameraID(key)
		if !ok {
			id = types.CameraID(position)
		}
		position++

		cam, err := newCamera(id, key, ct)
		if err != nil {
			return nil, err
		}
		if _, dup := cal.byID[id]; dup {
			return nil, fmt.Errorf("camera %q: duplicate camera id %d", key, id)
		}
		cal.byID[id] = cam
		cal.cameras = append(cal.cameras, cam)
	}

	if len(cal.cameras) == 0 {
		return nil, errors.New("calibration contains no cameras")
	}

	sort.Slice(cal.cameras, func(i, j int) bool { return cal.cameras[i].ID < cal.cameras[j].ID })
	return cal, nil
}

func parseCameraID(key string) (types.CameraID, bool) {
	idx := strings.LastIndexAny(key, "_-")
	digits := key
	if idx >= 0 {
		digits = key[idx+1:]
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n < 0 {
		return 0, false
	}
	return types.CameraID(n), true
}

func newCamera(id types.CameraID, key string, ct cameraTOML) (*Camera, error) {
	if len(ct.Matrix) != 3 {
		return nil, fmt.Errorf("camera %q: matrix must be 3x3", key)
	}
	if len(ct.Rotation) != 3 || len(ct.Translation) != 3 {
		return nil, fmt.Errorf("camera %q: rotation and translation must have 3 components", key)
	}

	cam := &Camera{
		ID:          id,
		Name:        ct.Name,
		Distortions: ct.Distortions,
	}
	if cam.Name == "" {
		cam.Name = key
	}
	if len(ct.Size) == 2 {
		cam.Size = [2]int{ct.Size[0], ct.Size[1]}
	}
	for r := 0; r < 3; r++ {
		if len(ct.Matrix[r]) != 3 {
			return nil, fmt.Errorf("camera %q: matrix must be 3x3", key)
		}
		copy(cam.Matrix[r][:], ct.Matrix[r])
	}
	copy(cam.Rotation[:], ct.Rotation)
	copy(cam.Translation[:], ct.Translation)

	cam.projection = projectionMatrix(cam)
	return cam, nil
}

// Rodrigues converts a rotation vector into a 3x3 rotation matrix
func Rodrigues(rvec [3]float64) *mat.Dense {
	theta := math.Sqrt(rvec[0]*rvec[0] + rvec[1]*rvec[1] + rvec[2]*rvec[2])
	r := mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	if theta < 1e-12 {
		return r
	}

	kx, ky, kz := rvec[0]/theta, rvec[1]/theta, rvec[2]/theta
	k := mat.NewDense(3, 3, []float64{
		0, -kz, ky,
		kz, 0, -kx,
		-ky, kx, 0,
	})

	var k2 mat.Dense
	k2.Mul(k, k)

	var term mat.Dense
	term.Scale(math.Sin(theta), k)
	r.Add(r, &term)
	term.Scale(1-math.Cos(theta), &k2)
	r.Add(r, &term)
	return r
}

func projectionMatrix(cam *Camera) *mat.Dense {
	k := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			k.Set(i, j, cam.Matrix[i][j])
		}
	}

	rot := Rodrigues(cam.Rotation)
	rt := mat.NewDense(3, 4, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			rt.Set(i, j, rot.At(i, j))
		}
		rt.Set(i, 3, cam.Translation[i])
	}

	var p mat.Dense
	p.Mul(k, rt)
	return &p
}

// Projection returns a copy of the camera's 3x4 projection matrix
func (c *Camera) Projection() *mat.Dense {
	return mat.DenseCopyOf(c.projection)
}

// Project maps a world point to pixel coordinates, ignoring lens distortion.
// ok is false when the point is behind the camera.
func (c *Camera) Project(p types.Point3D) (types.Point2D, bool) {
	x := mat.NewVecDense(4, []float64{p.X, p.Y, p.Z, 1})
	var img mat.VecDense
	img.MulVec(c.projection, x)

	w := img.AtVec(2)
	if w <= 0 {
		return types.Point2D{}, false
	}
	return types.Point2D{X: img.AtVec(0) / w, Y: img.AtVec(1) / w}, true
}

// Cameras returns the calibrated cameras in id order
func (c *Calibration) Cameras() []*Camera {
	out := make([]*Camera, len(c.cameras))
	copy(out, c.cameras)
	return out
}

// CameraIDs returns the calibrated camera ids in order
func (c *Calibration) CameraIDs() []types.CameraID {
	ids := make([]types.CameraID, len(c.cameras))
	for i, cam := range c.cameras {
		ids[i] = cam.ID
	}
	return ids
}

// Camera looks up one camera
func (c *Calibration) Camera(id types.CameraID) (*Camera, error) {
	cam, ok := c.byID[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrUnknownCamera)
	}
	return cam, nil
}

// Covers checks that every id has a calibration entry
func (c *Calibration) Covers(ids []types.CameraID) error {
	for _, id := range ids {
		if _, err := c.Camera(id); err != nil {
			return err
		}
	}
	return nil
}
