//go:build !gocv
// +build !gocv

package vision

import (
	"context"
	"image"

	"github.com/pkg/errors"

	"bolt-vision/internal/domain/entity"
)

// ONNXDetector детектор-заглушка (без OpenCV).
type ONNXDetector struct {
	InputSize      int
	ScoreThreshold float32
	NMSThreshold   float32
	Names          []string
}

// NewONNXDetector создаёт детектор-заглушку (без OpenCV).
func NewONNXDetector(modelPath string, names []string) (*ONNXDetector, error) {
	_ = modelPath
	return &ONNXDetector{
		InputSize:      640,
		ScoreThreshold: 0.25,
		NMSThreshold:   0.45,
		Names:          names,
	}, nil
}

// Detect возвращает ошибку, если сборка без тега gocv.
func (d *ONNXDetector) Detect(ctx context.Context, img *image.RGBA) ([]entity.Detection, error) {
	_ = ctx
	_ = img
	return nil, errors.New("gocv build tag is not enabled")
}

// Close ничего не делает.
func (d *ONNXDetector) Close() error {
	return nil
}
