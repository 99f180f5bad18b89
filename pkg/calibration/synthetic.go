package calibration

import (
	"fmt"
	"io"
	"math"

	"github.com/BurntSushi/toml"

	"github.com/ltrt/ltrt/pkg/types"
)

// Ring arranges cameras on an arc of the given radius, all looking at the
// world origin. Used by the synthetic source and `ltrt init`.
func Ring(ids []types.CameraID, radius float64) *Calibration {
	const spread = math.Pi / 2

	cal := &Calibration{byID: make(map[types.CameraID]*Camera)}
	sorted := types.SortCameraIDs(ids)
	for i, id := range sorted {
		theta := 0.0
		if len(sorted) > 1 {
			theta = -spread/2 + float64(i)*spread/float64(len(sorted)-1)
		}
		cam := &Camera{
			ID:          id,
			Name:        id.String(),
			Size:        [2]int{1280, 720},
			Matrix:      [3][3]float64{{800, 0, 640}, {0, 800, 360}, {0, 0, 1}},
			Distortions: []float64{0, 0, 0, 0, 0},
			Rotation:    [3]float64{0, theta, 0},
			Translation: [3]float64{0, 0, radius},
		}
		cam.projection = projectionMatrix(cam)
		cal.byID[id] = cam
		cal.cameras = append(cal.cameras, cam)
	}
	return cal
}

// Encode writes the calibration in the TOML layout Parse reads
func (c *Calibration) Encode(w io.Writer) error {
	doc := make(map[string]interface{}, len(c.cameras)+1)
	for _, cam := range c.cameras {
		matrix := make([][]float64, 3)
		for r := range matrix {
			matrix[r] = append([]float64(nil), cam.Matrix[r][:]...)
		}
		doc[cam.ID.String()] = cameraTOML{
			Name:        cam.Name,
			Size:        []int{cam.Size[0], cam.Size[1]},
			Matrix:      matrix,
			Distortions: cam.Distortions,
			Rotation:    cam.Rotation[:],
			Translation: cam.Translation[:],
		}
	}
	doc["metadata"] = c.Metadata

	if err := toml.NewEncoder(w).Encode(doc); err != nil {
		return fmt.Errorf("failed to encode calibration: %w", err)
	}
	return nil
}
