//go:build gocv
// +build gocv

package camera

import (
	"image"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"bolt-vision/internal/domain/entity"
)

// Webcam камера OpenCV по индексу устройства.
type Webcam struct {
	Index  int
	Width  int
	Height int

	capture *gocv.VideoCapture
	mat     gocv.Mat
}

// NewWebcam создаёт камеру по индексу; Width/Height 0 - разрешение устройства.
func NewWebcam(index, width, height int) *Webcam {
	return &Webcam{Index: index, Width: width, Height: height}
}

// Open открывает устройство.
func (w *Webcam) Open() error {
	capture, err := gocv.OpenVideoCapture(w.Index)
	if err != nil {
		return errors.Wrapf(entity.ErrDeviceOpen, "webcam %d: %v", w.Index, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return errors.Wrapf(entity.ErrDeviceOpen, "webcam %d is not opened", w.Index)
	}
	if w.Width > 0 && w.Height > 0 {
		capture.Set(gocv.VideoCaptureFrameWidth, float64(w.Width))
		capture.Set(gocv.VideoCaptureFrameHeight, float64(w.Height))
	}

	w.capture = capture
	w.mat = gocv.NewMat()
	return nil
}

// Read читает кадр и переводит его из BGR Mat в RGBA.
func (w *Webcam) Read() (*image.RGBA, error) {
	if w.capture == nil {
		return nil, errors.New("webcam is not opened")
	}
	if ok := w.capture.Read(&w.mat); !ok || w.mat.Empty() {
		return nil, errors.Errorf("webcam %d: frame grab failed", w.Index)
	}

	img, err := w.mat.ToImage()
	if err != nil {
		return nil, errors.Wrap(err, "convert frame")
	}
	return entity.ToRGBA(img), nil
}

// Close освобождает устройство.
func (w *Webcam) Close() error {
	if w.capture == nil {
		return nil
	}
	w.mat.Close()
	err := w.capture.Close()
	w.capture = nil
	return err
}
