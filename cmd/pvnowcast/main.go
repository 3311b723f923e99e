package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	httpapi "github.com/skycastml/pvnowcast/internal/api/http"
	"github.com/skycastml/pvnowcast/internal/config"
	"github.com/skycastml/pvnowcast/internal/cube"
	"github.com/skycastml/pvnowcast/internal/dataset"
	"github.com/skycastml/pvnowcast/internal/eval"
	"github.com/skycastml/pvnowcast/internal/ingest"
	"github.com/skycastml/pvnowcast/internal/logging"
	"github.com/skycastml/pvnowcast/internal/model"
	"github.com/skycastml/pvnowcast/internal/nowcast"
	"github.com/skycastml/pvnowcast/internal/pvdb"
	"github.com/skycastml/pvnowcast/internal/scheduler"
	"github.com/skycastml/pvnowcast/internal/sites"
	"github.com/skycastml/pvnowcast/internal/train"
)

const usage = `usage: pvnowcast <command>

commands:
  ingest    download the input files from their configured sources
  train     train the nowcasting network and write a checkpoint
  validate  score a checkpoint against the validation bundle
  serve     serve predictions and pv history over HTTP
`

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch os.Args[1] {
	case "ingest":
		err = runIngest(ctx, cfg)
	case "train":
		err = runTrain(ctx, cfg)
	case "validate":
		err = runValidate(cfg, os.Args[2:])
	case "serve":
		err = runServe(ctx, cfg)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logging.Fatal().Err(err).Msg("command failed")
	}
}

func runIngest(ctx context.Context, cfg *config.AppConfig) error {
	dl := ingest.New(&http.Client{Timeout: cfg.Ingest.HTTPTimeout})
	return dl.FetchAll(ctx, ingestSources(cfg))
}

func ingestSources(cfg *config.AppConfig) []ingest.Source {
	return []ingest.Source{
		{Name: "pv", URL: cfg.Ingest.PVURL, Dest: cfg.PVDatabasePath},
		{Name: "satellite", URL: cfg.Ingest.CubeURL, Dest: cfg.CubePath},
		{Name: "sites", URL: cfg.Ingest.SitesURL, Dest: cfg.SitesPath},
	}
}

// datasets bundles the three immutable inputs and the extractor over them.
type datasets struct {
	pv        *pvdb.SQLiteStore
	imagery   *cube.Cube
	table     *sites.Table
	extractor *dataset.Extractor
}

func (d *datasets) Close() {
	d.imagery.Close()
	d.pv.Close()
}

// openDatasets opens the input files. Open failures are fatal; there is no
// meaningful recovery without the source data.
func openDatasets(cfg *config.AppConfig) (*datasets, error) {
	pv, err := pvdb.OpenSQLite(cfg.PVDatabasePath)
	if err != nil {
		return nil, err
	}
	imagery, err := cube.Open(cfg.CubePath)
	if err != nil {
		pv.Close()
		return nil, err
	}
	frames, err := imagery.Field("data")
	if err != nil {
		pv.Close()
		imagery.Close()
		return nil, err
	}
	table, err := sites.Load(cfg.SitesPath)
	if err != nil {
		pv.Close()
		imagery.Close()
		return nil, err
	}

	return &datasets{
		pv:        pv,
		imagery:   imagery,
		table:     table,
		extractor: dataset.NewExtractor(pv, frames, table, cfg.ImagerySource, cfg.Window),
	}, nil
}

func runTrain(ctx context.Context, cfg *config.AppConfig) error {
	data, err := openDatasets(cfg)
	if err != nil {
		return err
	}
	defer data.Close()

	mcfg := model.DefaultConfig()
	mcfg.FeatureDim = cfg.Window.FeatureSteps
	mcfg.InputSteps = cfg.Window.FeatureSteps
	mcfg.CropSize = cfg.Window.CropSize
	mcfg.OutputDim = cfg.Window.TargetSteps

	net, err := model.New(mcfg)
	if err != nil {
		return err
	}

	anchors := dataset.AnchorRange{
		Start:    cfg.Training.StartDate,
		End:      cfg.Training.EndDate,
		DayStart: cfg.Training.DayStart,
		DayEnd:   cfg.Training.DayEnd,
		Interval: cfg.Training.StepInterval,
	}
	ds := dataset.New(data.extractor, anchors, nil)

	_, err = train.Run(ctx, net, ds, cfg.Training, cfg.CheckpointPath)
	return err
}

func runValidate(cfg *config.AppConfig, args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	stream := fs.Bool("stream", false, "write predictions to stdout as csv")
	fs.Parse(args)

	net, err := model.Load(cfg.CheckpointPath)
	if err != nil {
		return err
	}
	bundle, err := cube.Open(cfg.ValidationPath)
	if err != nil {
		return err
	}
	defer bundle.Close()

	ev := eval.New(net, cfg.Training.BatchSize)
	if *stream {
		return ev.StreamPredictions(bundle, os.Stdout)
	}

	mae, err := ev.Evaluate(bundle)
	if err != nil {
		return err
	}
	logging.Info().Float64("mae", mae).Msg("validation complete")
	fmt.Printf("MAE: %g\n", mae)
	return nil
}

func runServe(ctx context.Context, cfg *config.AppConfig) error {
	data, err := openDatasets(cfg)
	if err != nil {
		return err
	}
	defer data.Close()

	net, err := model.Load(cfg.CheckpointPath)
	if err != nil {
		logging.Warn().Err(err).Msg("no usable checkpoint yet; predictions unavailable until one is trained")
		net = nil
	}
	if net != nil {
		mcfg := net.Config()
		if mcfg.FeatureDim != cfg.Window.FeatureSteps ||
			mcfg.InputSteps != cfg.Window.FeatureSteps ||
			mcfg.CropSize != cfg.Window.CropSize ||
			mcfg.OutputDim != cfg.Window.TargetSteps {
			logging.Warn().
				Str("path", cfg.CheckpointPath).
				Msg("checkpoint geometry does not match the configured window; predictions unavailable")
			net = nil
		}
	}
	service := nowcast.NewService(data.pv, data.table, data.extractor, net)

	jobs := []scheduler.Job{{
		Name:     "reload-model",
		Interval: cfg.ReloadInterval,
		Run: func(context.Context) error {
			return service.ReloadModel(cfg.CheckpointPath)
		},
	}}
	if cfg.Ingest.Configured() {
		// Fresh files are renamed into place; open handles keep serving
		// the old data until the process restarts.
		dl := ingest.New(&http.Client{Timeout: cfg.Ingest.HTTPTimeout})
		jobs = append(jobs, scheduler.Job{
			Name:     "refresh-data",
			Interval: cfg.Ingest.RefreshInterval,
			Run: func(jobCtx context.Context) error {
				return dl.FetchAll(jobCtx, ingestSources(cfg))
			},
		})
	}
	sched := scheduler.New(jobs)
	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()

	app := fiber.New(fiber.Config{
		AppName:               "pvnowcast",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	app.Use(logger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "pvnowcast",
		})
	})

	httpapi.RegisterRoutes(app, service)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			logging.Error().Err(err).Msg("http server stopped")
		}
	}()
	logging.Info().Str("port", cfg.Port).Msg("serving")

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return app.ShutdownWithContext(shutdownCtx)
}
