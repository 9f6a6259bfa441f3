// Package webhook отправляет результаты проверок во внешний API логирования.
package webhook

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"io"
	"net/http"
	"time"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"bolt-vision/internal/domain/entity"
	"bolt-vision/internal/domain/port"
)

const (
	// DefaultTimeout ожидание ответа API.
	DefaultTimeout = 15 * time.Second
	// TimeLayout формат поля timestamp.
	TimeLayout = "2006-01-02 15:04:05"

	maxImageSide = 640
	jpegQuality  = 50
)

// BoltCounts счётчики болтов в запросе.
type BoltCounts struct {
	Loose  int `json:"loose_bolts"`
	Fixed  int `json:"fixed_bolts"`
	NoBolt int `json:"no_bolts"`
}

// Payload тело запроса.
type Payload struct {
	VIN           string     `json:"vin_number"`
	Model         string     `json:"model_name"`
	Timestamp     string     `json:"timestamp"`
	Status        string     `json:"inspection_status"`
	Counts        BoltCounts `json:"bolt_counts"`
	CapturedImage string     `json:"captured_image_base64,omitempty"`
	DetectedImage string     `json:"detected_image_base64,omitempty"`
}

// Client POST-ит каждую проверку JSON-ом на url.
type Client struct {
	url      string
	http     *http.Client
	location *time.Location
	logger   *zap.SugaredLogger
}

// NewClient создаёт клиента. timeout <= 0 - DefaultTimeout.
func NewClient(url string, timeout time.Duration, location *time.Location, logger *zap.SugaredLogger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if location == nil {
		location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Client{
		url:      url,
		http:     &http.Client{Timeout: timeout},
		location: location,
		logger:   logger,
	}
}

// Name имя журнала.
func (c *Client) Name() string { return "external_api" }

// Record отправляет проверку. Ответ не 2xx - ошибка.
func (c *Client) Record(ctx context.Context, insp *entity.Inspection) error {
	payload, err := c.payload(insp)
	if err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "encode payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "post inspection")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return errors.Errorf("external api returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	c.logger.Debugw("inspection sent to external api", "vin", insp.VIN, "status", resp.StatusCode)
	return nil
}

func (c *Client) payload(insp *entity.Inspection) (Payload, error) {
	p := Payload{
		VIN:       insp.VIN,
		Model:     insp.Model,
		Timestamp: insp.DetectedAt.In(c.location).Format(TimeLayout),
		Status:    string(insp.Verdict),
		Counts: BoltCounts{
			Loose:  insp.Counts.Get(entity.ClassLoose),
			Fixed:  insp.Counts.Get(entity.ClassFixed),
			NoBolt: insp.Counts.Get(entity.ClassNoBolt),
		},
	}

	var err error
	if insp.CapturedPath != "" {
		if p.CapturedImage, err = encodeFile(insp.CapturedPath); err != nil {
			return p, err
		}
	} else if !insp.Frame.Empty() {
		if p.CapturedImage, err = encodeImage(insp.Frame.Image); err != nil {
			return p, err
		}
	}
	if insp.DetectedPath != "" {
		if p.DetectedImage, err = encodeFile(insp.DetectedPath); err != nil {
			return p, err
		}
	}
	return p, nil
}

func encodeFile(path string) (string, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return "", errors.Wrapf(err, "open %s", path)
	}
	return encodeImage(img)
}

// encodeImage уменьшает до 640x640 и кодирует JPEG в base64.
func encodeImage(img image.Image) (string, error) {
	var buf bytes.Buffer
	small := imaging.Fit(img, maxImageSide, maxImageSide, imaging.Lanczos)
	if err := imaging.Encode(&buf, small, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return "", errors.Wrap(err, "encode image")
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

var _ port.InspectionSink = (*Client)(nil)
