//go:build !gocv
// +build !gocv

package camera

import (
	"image"

	"github.com/pkg/errors"

	"bolt-vision/internal/domain/entity"
)

// Webcam камера-заглушка (без OpenCV).
type Webcam struct {
	Index  int
	Width  int
	Height int
}

// NewWebcam создаёт камеру-заглушку.
func NewWebcam(index, width, height int) *Webcam {
	return &Webcam{Index: index, Width: width, Height: height}
}

// Open возвращает ошибку, если сборка без тега gocv.
func (w *Webcam) Open() error {
	return errors.Wrap(entity.ErrDeviceOpen, "gocv build tag is not enabled")
}

// Read возвращает ошибку, если сборка без тега gocv.
func (w *Webcam) Read() (*image.RGBA, error) {
	return nil, errors.New("gocv build tag is not enabled")
}

// Close ничего не делает.
func (w *Webcam) Close() error {
	return nil
}
