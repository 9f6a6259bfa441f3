package storage

import (
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"bolt-vision/internal/domain/entity"
	"bolt-vision/internal/domain/port"
)

// DefaultJPEGQuality качество сохраняемых снимков.
const DefaultJPEGQuality = 95

// ImageStore сохраняет снимки в JPEG:
// исходные в captureDir как {VIN}_{время}.jpg,
// размеченные в outputDir как detected_{VIN}_{время}.jpg.
type ImageStore struct {
	captureDir string
	outputDir  string
	quality    int
}

// NewImageStore создаёт каталоги при необходимости.
func NewImageStore(captureDir, outputDir string) (*ImageStore, error) {
	for _, dir := range []string{captureDir, outputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create directory %s", dir)
		}
	}
	return &ImageStore{captureDir: captureDir, outputDir: outputDir, quality: DefaultJPEGQuality}, nil
}

// CapturedName имя файла исходного кадра.
func CapturedName(insp *entity.Inspection) string {
	return fmt.Sprintf("%s_%s.jpg", insp.VIN, insp.Stamp())
}

// DetectedName имя файла размеченного кадра.
func DetectedName(insp *entity.Inspection) string {
	return "detected_" + CapturedName(insp)
}

// SaveCaptured сохраняет исходный кадр инспекции.
func (s *ImageStore) SaveCaptured(insp *entity.Inspection) (string, error) {
	if insp.Frame.Empty() {
		return "", errors.New("inspection has no frame")
	}
	return s.save(insp.Frame.Image, filepath.Join(s.captureDir, CapturedName(insp)))
}

// SaveDetected сохраняет размеченный кадр.
func (s *ImageStore) SaveDetected(insp *entity.Inspection, annotated *image.RGBA) (string, error) {
	if annotated == nil {
		return "", errors.New("no annotated frame")
	}
	return s.save(annotated, filepath.Join(s.outputDir, DetectedName(insp)))
}

func (s *ImageStore) save(img image.Image, path string) (string, error) {
	if err := imaging.Save(img, path, imaging.JPEGQuality(s.quality)); err != nil {
		return "", errors.Wrapf(err, "save %s", path)
	}
	return path, nil
}

var _ port.ImageStore = (*ImageStore)(nil)
