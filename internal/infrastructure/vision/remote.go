package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"bolt-vision/internal/domain/entity"
	"bolt-vision/internal/domain/port"
)

// RemoteDetector модель на отдельном сервере инференса.
// Кадр уходит JPEG-ом, ответ: {"detections":[{"class_id","class","confidence","box":[x1,y1,x2,y2]}]}.
type RemoteDetector struct {
	url    string
	client *http.Client
}

// NewRemoteDetector создаёт клиента сервера инференса.
func NewRemoteDetector(url string, timeout time.Duration) *RemoteDetector {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RemoteDetector{url: url, client: &http.Client{Timeout: timeout}}
}

type remoteResponse struct {
	Detections []remoteDetection `json:"detections"`
}

type remoteDetection struct {
	ClassID    int       `json:"class_id"`
	Class      string    `json:"class"`
	Confidence *float64  `json:"confidence"`
	Box        []float64 `json:"box"`
}

// Detect отправляет кадр на сервер и разбирает ответ.
func (d *RemoteDetector) Detect(ctx context.Context, img *image.RGBA) ([]entity.Detection, error) {
	var body bytes.Buffer
	if err := imaging.Encode(&body, img, imaging.JPEG, imaging.JPEGQuality(95)); err != nil {
		return nil, errors.Wrap(err, "encode frame")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, &body)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "call inference server")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.Errorf("inference server returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var payload remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, errors.Wrap(err, "decode detections")
	}

	out := make([]entity.Detection, 0, len(payload.Detections))
	for _, rd := range payload.Detections {
		out = append(out, rd.toEntity())
	}
	return out, nil
}

// toEntity: отсутствующая уверенность или рамка дают детекцию, которую агрегатор пропустит.
func (rd remoteDetection) toEntity() entity.Detection {
	d := entity.Detection{ClassID: rd.ClassID, Class: rd.Class, Confidence: math.NaN()}
	if rd.Confidence != nil {
		d.Confidence = *rd.Confidence
	}
	if len(rd.Box) == 4 {
		d.Box = entity.BoundingBox{
			X1: int(math.Round(rd.Box[0])),
			Y1: int(math.Round(rd.Box[1])),
			X2: int(math.Round(rd.Box[2])),
			Y2: int(math.Round(rd.Box[3])),
		}
	}
	return d
}

var _ port.Detector = (*RemoteDetector)(nil)
