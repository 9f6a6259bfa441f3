//go:build gocv
// +build gocv

package vision

import (
	"context"
	"image"
	"os"
	"sync"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"bolt-vision/internal/domain/entity"
	"bolt-vision/internal/domain/port"
)

// ONNXDetector YOLO-модель в формате ONNX через OpenCV DNN.
type ONNXDetector struct {
	InputSize      int
	ScoreThreshold float32
	NMSThreshold   float32
	Names          []string

	mu  sync.Mutex // gocv.Net не потокобезопасен
	net gocv.Net
}

// NewONNXDetector загружает модель; names - имена классов по индексу.
func NewONNXDetector(modelPath string, names []string) (*ONNXDetector, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, errors.Wrapf(err, "model file not found: %s", modelPath)
	}

	net := gocv.ReadNetFromONNX(modelPath)
	if net.Empty() {
		return nil, errors.Errorf("failed to load network from %s", modelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &ONNXDetector{
		InputSize:      640,
		ScoreThreshold: 0.25,
		NMSThreshold:   0.45,
		Names:          names,
		net:            net,
	}, nil
}

// Detect прогоняет кадр через сеть и возвращает детекции после NMS.
// Бизнес-порог уверенности применяет агрегатор.
func (d *ONNXDetector) Detect(ctx context.Context, img *image.RGBA) ([]entity.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, errors.Wrap(err, "convert frame to mat")
	}
	defer mat.Close()

	if mat.Empty() {
		return nil, errors.New("empty image")
	}

	blob := gocv.BlobFromImage(mat, 1.0/255.0, image.Pt(d.InputSize, d.InputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.mu.Lock()
	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	d.mu.Unlock()
	defer output.Close()

	return d.parse(output, mat.Cols(), mat.Rows())
}

// parse разбирает выход YOLOv8: [1, 4+классы, кандидаты], координаты cx,cy,w,h.
func (d *ONNXDetector) parse(output gocv.Mat, width, height int) ([]entity.Detection, error) {
	sizes := output.Size()
	if len(sizes) != 3 {
		return nil, errors.Errorf("unexpected output shape %v", sizes)
	}
	attrs, candidates := sizes[1], sizes[2]
	if attrs <= 4 {
		return nil, errors.Errorf("unexpected output shape %v", sizes)
	}

	rows := output.Reshape(1, attrs)
	defer rows.Close()
	table := gocv.NewMat()
	defer table.Close()
	gocv.Transpose(rows, &table)

	xFactor := float32(width) / float32(d.InputSize)
	yFactor := float32(height) / float32(d.InputSize)

	boxes := make([]image.Rectangle, 0, 64)
	scores := make([]float32, 0, 64)
	classes := make([]int, 0, 64)
	for i := 0; i < candidates; i++ {
		classID, score := 0, float32(0)
		for c := 4; c < attrs; c++ {
			if s := table.GetFloatAt(i, c); s > score {
				classID, score = c-4, s
			}
		}
		if score < d.ScoreThreshold {
			continue
		}

		cx, cy := table.GetFloatAt(i, 0), table.GetFloatAt(i, 1)
		w, h := table.GetFloatAt(i, 2), table.GetFloatAt(i, 3)
		boxes = append(boxes, image.Rect(
			int((cx-w/2)*xFactor), int((cy-h/2)*yFactor),
			int((cx+w/2)*xFactor), int((cy+h/2)*yFactor),
		))
		scores = append(scores, score)
		classes = append(classes, classID)
	}
	if len(boxes) == 0 {
		return []entity.Detection{}, nil
	}

	keep := gocv.NMSBoxes(boxes, scores, d.ScoreThreshold, d.NMSThreshold)
	detections := make([]entity.Detection, 0, len(keep))
	for _, idx := range keep {
		r := boxes[idx]
		detections = append(detections, entity.Detection{
			ClassID:    classes[idx],
			Class:      className(d.Names, classes[idx]),
			Confidence: float64(scores[idx]),
			Box:        entity.BoundingBox{X1: r.Min.X, Y1: r.Min.Y, X2: r.Max.X, Y2: r.Max.Y},
		})
	}
	return detections, nil
}

// Close освобождает сеть.
func (d *ONNXDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}

var _ port.Detector = (*ONNXDetector)(nil)
