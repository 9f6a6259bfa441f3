package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"bolt-vision/config"
	"bolt-vision/internal/api"
	"bolt-vision/internal/container"
	"bolt-vision/internal/domain/entity"
	"bolt-vision/internal/infrastructure/storage"
)

func main() {
	app := &cli.App{
		Name:  "bolt-vision",
		Usage: "bolt inspection station",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "start the camera, the display server and the operator bot",
				Action: runStation,
			},
			{
				Name:  "inspect",
				Usage: "capture and inspect one assembly",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "vin", Required: true, Usage: "vehicle VIN"},
					&cli.StringFlag{Name: "model", Required: true, Usage: "vehicle model"},
				},
				Action: inspectOnce,
			},
			{
				Name:  "history",
				Usage: "print logged inspections",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "vin", Usage: "only this VIN"},
					&cli.IntFlag{Name: "limit", Value: 20},
				},
				Action: printHistory,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setup() (*config.Config, *zap.SugaredLogger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, errors.Wrap(err, "load config")
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func newLogger(level string) (*zap.SugaredLogger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrapf(err, "LOG_LEVEL %q", level)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	zcfg.Encoding = "console"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := zcfg.Build()
	if err != nil {
		return nil, errors.Wrap(err, "build logger")
	}
	return logger.Sugar(), nil
}

func runStation(c *cli.Context) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.TelegramToken == "" {
		return errors.New("TELEGRAM_TOKEN is required")
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	station, err := container.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer station.Close()

	if err := station.Source.Start(ctx); err != nil {
		return errors.Wrap(err, "start camera")
	}

	bot, err := api.NewBot(cfg.TelegramToken, station.OperatorService, station.InspectionService, logger.Named("bot"))
	if err != nil {
		return err
	}

	var pusher api.FramePusher
	if station.Still != nil {
		pusher = station.Still
	}
	server := api.NewServer(cfg.HTTPAddr, station.Hub, pusher, station.Journal, logger.Named("http"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		station.Hub.Run(gctx)
		return nil
	})
	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error { return bot.Run(gctx) })

	logger.Infow("station is running", "camera", cfg.CameraBackend, "detector", cfg.Detector, "http", cfg.HTTPAddr)
	return g.Wait()
}

func inspectOnce(c *cli.Context) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.CameraBackend != config.CameraWebcam {
		return errors.New("inspect needs CAMERA_BACKEND=webcam")
	}

	ctx := c.Context
	station, err := container.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer station.Close()

	if err := station.Source.Start(ctx); err != nil {
		return errors.Wrap(err, "start camera")
	}

	insp, err := station.InspectionService.Inspect(ctx, c.String("vin"), c.String("model"))
	if insp != nil && insp.Finalized() {
		fmt.Println(api.FormatResult(insp))
		fmt.Println(insp.DetectedPath)
	}
	return err
}

func printHistory(c *cli.Context) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	journal, err := storage.OpenJournal(c.Context, cfg.JournalPath, logger.Named("journal"))
	if err != nil {
		return err
	}
	defer journal.Close()

	list, err := journal.List(c.Context, c.String("vin"), c.Int("limit"))
	if err != nil {
		return err
	}

	location, err := cfg.Location()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tVIN\tMODEL\tLOOSE\tFIXED\tNO BOLT\tSTATUS")
	for _, insp := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			insp.DetectedAt.In(location).Format(storage.WorkbookTimeLayout),
			insp.VIN, insp.Model,
			insp.Counts.Get(entity.ClassLoose), insp.Counts.Get(entity.ClassFixed), insp.Counts.Get(entity.ClassNoBolt),
			insp.Verdict,
		)
	}
	return w.Flush()
}
