package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"vehirec/internal/app"
	"vehirec/internal/config"
	"vehirec/internal/database"
	"vehirec/internal/domain"
	"vehirec/internal/logging"
	"vehirec/internal/models"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

const usage = `Usage: vehirec [--config path] <command> [flags]

Commands:
  seed                                  create tables and insert the demo dataset
  train [--ranker embedding|tree] [--report]
                                        fit the pipeline and train a ranker
  recommend --client <id> [--top N] [--export] [--json]
                                        print top-N vehicles for a client
  models                                list stored model versions
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type cli struct {
	cfg    *config.Config
	logger *zerolog.Logger
	stdout io.Writer
	stderr io.Writer
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("vehirec", flag.ContinueOnError)
	global.SetOutput(stderr)
	configPath := global.String("config", defaultConfigPath(), "path to config.yaml")
	global.Usage = func() { fmt.Fprint(stderr, usage) }
	if err := global.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	rest := global.Args()
	if len(rest) == 0 {
		fmt.Fprint(stdout, usage)
		return 0
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: load config: %v\n", err)
		return 1
	}

	logger, closer, err := newLogger(cfg, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: init logger: %v\n", err)
		return 1
	}
	if closer != nil {
		defer func() { _ = closer.Close() }()
	}

	c := &cli{cfg: cfg, logger: logger, stdout: stdout, stderr: stderr}

	switch rest[0] {
	case "seed":
		err = c.seed(ctx)
	case "train":
		err = c.train(ctx, rest[1:])
	case "recommend":
		err = c.recommend(ctx, rest[1:])
	case "models":
		err = c.models(ctx)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", rest[0], usage)
		return 2
	}

	return c.exitCode(err)
}

func defaultConfigPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "configs/config.yaml"
}

// newLogger sends logs to stderr so stdout stays machine readable,
// unless the config asks for a log file.
func newLogger(cfg *config.Config, stderr io.Writer) (*zerolog.Logger, io.Closer, error) {
	if strings.EqualFold(strings.TrimSpace(cfg.Logging.Output), "file") {
		return logging.New(cfg.Logging, cfg.App)
	}
	return logging.NewWithWriter(cfg.Logging, cfg.App, stderr), nil, nil
}

func (c *cli) exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage):
		return 2
	case errors.Is(err, domain.ErrModelNotFound):
		fmt.Fprintln(c.stderr, "No trained model found. Run `vehirec train` first.")
	case errors.Is(err, domain.ErrEmptyDataset):
		fmt.Fprintf(c.stderr, "Dataset is incomplete (%v). Run `vehirec seed` or import data first.\n", err)
	default:
		fmt.Fprintf(c.stderr, "Error: %v\n", err)
	}
	return 1
}

var errUsage = errors.New("usage")

func (c *cli) open(ctx context.Context) (*app.App, error) {
	return app.New(ctx, c.cfg, c.logger)
}

func (c *cli) seed(ctx context.Context) error {
	a, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	ds := database.DemoDataset()
	if err := a.DB.Seed(ctx, ds); err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "Seeded %d clients, %d vehicles, %d bookings into %s\n",
		len(ds.Clients), len(ds.Vehicles), len(ds.Bookings), c.cfg.Database.Path)
	return nil
}

func (c *cli) train(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("train", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	kind := fs.String("ranker", c.cfg.Recommender.Ranker, "ranker kind: embedding or tree")
	report := fs.Bool("report", false, "write the loss curve to an xlsx file")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	c.cfg.Recommender.Ranker = *kind
	if err := c.cfg.Validate(); err != nil {
		return err
	}

	a, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.Recommender.Train(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Model\t%s v%d\n", result.Meta.Name, result.Meta.Version)
	fmt.Fprintf(w, "Ranker\t%s\n", result.Meta.Ranker)
	fmt.Fprintf(w, "Run\t%s\n", result.Meta.RunID)
	fmt.Fprintf(w, "Examples\t%d\n", result.Meta.Examples)
	fmt.Fprintf(w, "Shortfall\t%d clients\n", result.Shortfall.Count())
	fmt.Fprintf(w, "Best epoch\t%d of %d (stopped early: %t)\n", result.Report.BestEpoch, len(result.Report.Curve), result.Report.StoppedEarly)
	fmt.Fprintf(w, "Train loss\t%.4f\n", result.Report.TrainLoss)
	fmt.Fprintf(w, "Validation loss\t%.4f\n", result.Report.ValidationLoss)
	fmt.Fprintf(w, "Duration\t%s\n", result.Report.Duration)
	if err := w.Flush(); err != nil {
		return err
	}

	if *report {
		path, err := a.Exporter.WriteTrainingReport(result.Meta.RunID, result.Report)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.stdout, "Training report written to %s\n", path)
	}
	return nil
}

func (c *cli) recommend(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("recommend", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	clientID := fs.Int64("client", 0, "client id (required)")
	top := fs.Int("top", c.cfg.Recommender.TopN, "number of vehicles to return")
	doExport := fs.Bool("export", false, "write an xlsx file (and mirror to Google Sheets if enabled)")
	asJSON := fs.Bool("json", false, "print JSON instead of a table")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	if *clientID == 0 {
		fmt.Fprint(c.stdout, usage)
		return nil
	}
	if *top < 1 || *top > models.MaxTopN {
		fmt.Fprintf(c.stderr, "--top must be in [1, %d]\n", models.MaxTopN)
		return errUsage
	}

	a, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	var (
		list *models.RecommendationList
		path string
	)
	if *doExport {
		list, path, err = a.Recommender.Export(ctx, *clientID, *top)
	} else {
		list, err = a.Recommender.Recommend(ctx, *clientID, *top)
	}
	if err != nil {
		return err
	}

	if a.Mirror != nil {
		// процесс сейчас завершится, зеркалим синхронно
		if n := a.Mirror.Drain(ctx); n > 0 {
			c.logger.Info().Int("lists", n).Msg("Mirrored to Google Sheets")
		}
	}

	if *asJSON {
		enc := json.NewEncoder(c.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}
	if err := printRecommendations(c.stdout, list); err != nil {
		return err
	}
	if path != "" {
		fmt.Fprintf(c.stdout, "Exported to %s\n", path)
	}
	return nil
}

func printRecommendations(out io.Writer, list *models.RecommendationList) error {
	header := fmt.Sprintf("Recommendations for client %d (%s ranker, model v%d)", list.ClientID, list.Ranker, list.ModelVersion)
	if list.ColdStart {
		header += ", no booking history"
	}
	fmt.Fprintln(out, header)

	if len(list.Items) == 0 {
		fmt.Fprintln(out, "No vehicles left to recommend.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tID\tNAME\tTYPE\tFEATURES\tSCORE")
	for _, rec := range list.Items {
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\t%.4f\n",
			rec.Rank, rec.Vehicle.ID, rec.Vehicle.Name, rec.Vehicle.Type, rec.Vehicle.Features, rec.Score)
	}
	return w.Flush()
}

func (c *cli) models(ctx context.Context) error {
	a, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	metas, err := a.Store.List(ctx, models.ModelName)
	if err != nil {
		return err
	}
	if len(metas) == 0 {
		return domain.ErrModelNotFound
	}

	w := tabwriter.NewWriter(c.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tRANKER\tTRAINED AT\tEXAMPLES\tVALIDATION LOSS\tSIZE")
	for _, m := range metas {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%.4f\t%d\n",
			m.Version, m.Ranker, m.TrainedAt.Format("2006-01-02 15:04:05"), m.Examples, m.ValidationLoss, m.SizeBytes)
	}
	return w.Flush()
}
