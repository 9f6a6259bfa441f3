package container

import (
	"context"
	"io"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"bolt-vision/config"
	"bolt-vision/internal/api"
	app "bolt-vision/internal/application"
	"bolt-vision/internal/domain/port"
	"bolt-vision/internal/infrastructure/camera"
	"bolt-vision/internal/infrastructure/storage"
	"bolt-vision/internal/infrastructure/vision"
	"bolt-vision/internal/infrastructure/webhook"
)

// Container собранная станция: камера, детектор, журналы и сервисы.
type Container struct {
	Source            *camera.Source
	Still             *camera.Still // nil для вебкамеры
	Journal           *storage.Journal
	Hub               *api.Hub
	OperatorService   *app.OperatorService
	InspectionService *app.InspectionService

	closers []io.Closer
	logger  *zap.SugaredLogger
}

// New собирает зависимости по конфигурации. Камера не запускается.
func New(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (c *Container, err error) {
	c = &Container{logger: logger}
	defer func() {
		if err != nil && c != nil {
			err = multierr.Append(err, c.Close())
			c = nil
		}
	}()

	location, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	var device port.CaptureDevice
	switch cfg.CameraBackend {
	case config.CameraStill:
		c.Still = camera.NewStill()
		device = c.Still
	default:
		device = camera.NewWebcam(cfg.CameraIndex, 0, 0)
	}
	c.Source = camera.NewSource(device, camera.Options{
		Name:     cfg.CameraBackend,
		Interval: cfg.CaptureInterval,
		Logger:   logger.Named("camera"),
	})

	detector, err := newDetector(cfg)
	if err != nil {
		return c, err
	}
	if closer, ok := detector.(io.Closer); ok {
		c.closers = append(c.closers, closer)
	}

	aggCfg := vision.DefaultAggregatorConfig()
	aggCfg.ConfidenceThreshold = cfg.ConfidenceThreshold
	aggCfg.ClassNames = vision.ClassNameMap(vision.ParseClassNames(cfg.ClassNames))
	aggregator, err := vision.NewAggregator(aggCfg, logger.Named("aggregator"))
	if err != nil {
		return c, err
	}

	images, err := storage.NewImageStore(cfg.CaptureDir, cfg.OutputDir)
	if err != nil {
		return c, err
	}

	workbook, err := storage.NewWorkbook(cfg.ExcelPath, location, logger.Named("workbook"))
	if err != nil {
		return c, err
	}

	c.Journal, err = storage.OpenJournal(ctx, cfg.JournalPath, logger.Named("journal"))
	if err != nil {
		return c, err
	}
	c.closers = append(c.closers, c.Journal)

	c.Hub = api.NewHub(logger.Named("hub"))

	sinks := []port.InspectionSink{workbook, c.Journal, c.Hub}
	if cfg.ExternalLoggingAPI != "" {
		sinks = append(sinks, webhook.NewClient(cfg.ExternalLoggingAPI, cfg.APITimeout, location, logger.Named("webhook")))
	} else {
		logger.Warnw("EXTERNAL_LOGGING_API is not set, inspections stay local")
	}

	c.OperatorService = app.NewOperatorService(storage.NewMemoryOperatorRepository())
	c.InspectionService = app.NewInspectionService(c.Source, detector, aggregator, images, sinks, app.InspectionConfig{
		CaptureTimeout: cfg.CaptureTimeout,
		Verdicts:       cfg.VerdictTable(),
		Clock:          clock.New(),
		Logger:         logger.Named("inspection"),
	})

	return c, nil
}

func newDetector(cfg *config.Config) (port.Detector, error) {
	switch cfg.Detector {
	case config.DetectorRemote:
		return vision.NewRemoteDetector(cfg.DetectorURL, cfg.APITimeout), nil
	default:
		d, err := vision.NewONNXDetector(cfg.ModelPath, vision.ParseClassNames(cfg.ClassNames))
		if err != nil {
			return nil, errors.Wrap(err, "load detection model")
		}
		return d, nil
	}
}

// Close останавливает камеру и освобождает ресурсы.
func (c *Container) Close() error {
	var err error
	if c.Source != nil {
		err = multierr.Append(err, c.Source.Stop())
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, c.closers[i].Close())
	}
	c.closers = nil
	return err
}
