package app

import (
	"context"
	"fmt"
	"image"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"bolt-vision/internal/domain/entity"
	"bolt-vision/internal/domain/port"
)

// Stage шаг проверки, на котором произошла ошибка.
type Stage string

const (
	StageCapture Stage = "capture"
	StageDetect  Stage = "detect"
	StageLog     Stage = "log"
)

// StageError ошибка с указанием шага, чтобы оператор мог повторить только его.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Cause для errors.Cause из pkg/errors.
func (e *StageError) Cause() error { return e.Err }

// StageOf возвращает шаг ошибки, если он известен.
func StageOf(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}

func stageErr(stage Stage, err error) error {
	return &StageError{Stage: stage, Err: err}
}

// InspectionConfig параметры сервиса проверок.
type InspectionConfig struct {
	CaptureTimeout time.Duration
	Verdicts       entity.VerdictTable
	Clock          clock.Clock
	Logger         *zap.SugaredLogger
}

// InspectionService снимок, детекция, вердикт и запись в журналы.
type InspectionService struct {
	source     port.FrameSource
	detector   port.Detector
	aggregator port.Aggregator
	images     port.ImageStore
	sinks      []port.InspectionSink

	captureTimeout time.Duration
	verdicts       entity.VerdictTable
	clock          clock.Clock
	logger         *zap.SugaredLogger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewInspectionService создаёт сервис. source может быть nil, тогда
// доступен только Accept.
func NewInspectionService(
	source port.FrameSource,
	detector port.Detector,
	aggregator port.Aggregator,
	images port.ImageStore,
	sinks []port.InspectionSink,
	cfg InspectionConfig,
) *InspectionService {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	return &InspectionService{
		source:         source,
		detector:       detector,
		aggregator:     aggregator,
		images:         images,
		sinks:          sinks,
		captureTimeout: cfg.CaptureTimeout,
		verdicts:       cfg.Verdicts,
		clock:          cfg.Clock,
		logger:         cfg.Logger,
		inflight:       make(map[string]struct{}),
	}
}

// Capture снимает кадр со станционной камеры и сохраняет его.
func (s *InspectionService) Capture(ctx context.Context, vin, model string) (*entity.Inspection, error) {
	vin = strings.TrimSpace(vin)
	if err := entity.ValidateVIN(vin); err != nil {
		return nil, stageErr(StageCapture, errors.Wrapf(err, "%q", vin))
	}
	if s.source == nil {
		return nil, stageErr(StageCapture, errors.Wrap(entity.ErrNotInitialized, "station camera is not configured"))
	}

	frame, err := s.source.Capture(ctx, s.captureTimeout)
	if err != nil {
		return nil, stageErr(StageCapture, err)
	}
	return s.begin(vin, model, frame)
}

// Accept начинает проверку по присланному снимку, камера не используется.
func (s *InspectionService) Accept(ctx context.Context, vin, model string, img image.Image) (*entity.Inspection, error) {
	vin = strings.TrimSpace(vin)
	if err := entity.ValidateVIN(vin); err != nil {
		return nil, stageErr(StageCapture, errors.Wrapf(err, "%q", vin))
	}
	if err := ctx.Err(); err != nil {
		return nil, stageErr(StageCapture, err)
	}
	if img == nil || img.Bounds().Empty() {
		return nil, stageErr(StageCapture, entity.ErrNoFrame)
	}
	return s.begin(vin, model, entity.Frame{Image: entity.ToRGBA(img)})
}

func (s *InspectionService) begin(vin, model string, frame entity.Frame) (*entity.Inspection, error) {
	insp := &entity.Inspection{
		ID:         uuid.NewString(),
		VIN:        vin,
		Model:      strings.TrimSpace(model),
		CapturedAt: s.clock.Now(),
		Frame:      frame,
	}

	path, err := s.images.SaveCaptured(insp)
	if err != nil {
		return nil, stageErr(StageCapture, err)
	}
	insp.CapturedPath = path

	s.logger.Infow("frame captured", "inspection", insp.ID, "vin", vin, "model", insp.Model, "path", path)
	return insp, nil
}

// Detect прогоняет модель, считает болты, выносит вердикт и пишет
// результат во все журналы. Повторный вызов для той же проверки
// возвращает entity.ErrAlreadyLogged.
// Ошибка шага log не отменяет результат: проверка возвращается вместе с ней.
func (s *InspectionService) Detect(ctx context.Context, insp *entity.Inspection) (*entity.Inspection, error) {
	if insp == nil || insp.Frame.Empty() {
		return nil, stageErr(StageDetect, errors.New("no captured frame, capture first"))
	}
	if err := s.claim(insp); err != nil {
		return insp, stageErr(StageDetect, err)
	}
	defer s.release(insp)

	detections, err := s.detector.Detect(ctx, insp.Frame.Image)
	if err != nil {
		return insp, stageErr(StageDetect, errors.Wrap(err, "run detector"))
	}

	// Исходный кадр остаётся без разметки.
	annotated, counts := s.aggregator.Aggregate(entity.CloneRGBA(insp.Frame.Image), detections)

	path, err := s.images.SaveDetected(insp, annotated)
	if err != nil {
		return insp, stageErr(StageDetect, err)
	}

	insp.DetectedPath = path
	insp.Counts = counts
	insp.Verdict = s.verdicts.For(insp.Model).Evaluate(counts)
	insp.DetectedAt = s.clock.Now()

	s.logger.Infow("inspection finished",
		"inspection", insp.ID,
		"vin", insp.VIN,
		"detections", len(detections),
		"counts", counts,
		"verdict", insp.Verdict,
	)

	if err := s.record(ctx, insp); err != nil {
		return insp, stageErr(StageLog, err)
	}
	return insp, nil
}

// Inspect снимок и детекция одним вызовом.
func (s *InspectionService) Inspect(ctx context.Context, vin, model string) (*entity.Inspection, error) {
	insp, err := s.Capture(ctx, vin, model)
	if err != nil {
		return nil, err
	}
	return s.Detect(ctx, insp)
}

// claim не даёт записать одну проверку дважды, в том числе параллельно.
func (s *InspectionService) claim(insp *entity.Inspection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if insp.Finalized() {
		return entity.ErrAlreadyLogged
	}
	if _, busy := s.inflight[insp.ID]; busy {
		return entity.ErrAlreadyLogged
	}
	s.inflight[insp.ID] = struct{}{}
	return nil
}

func (s *InspectionService) release(insp *entity.Inspection) {
	s.mu.Lock()
	delete(s.inflight, insp.ID)
	s.mu.Unlock()
}

// record пишет во все журналы; сбой одного не мешает остальным.
func (s *InspectionService) record(ctx context.Context, insp *entity.Inspection) error {
	var result error
	for _, sink := range s.sinks {
		if err := sink.Record(ctx, insp); err != nil {
			s.logger.Warnw("inspection not recorded", "sink", sink.Name(), "inspection", insp.ID, "error", err)
			result = multierr.Append(result, errors.Wrap(err, sink.Name()))
		}
	}
	return result
}
