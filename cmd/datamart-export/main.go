package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/storage"
	"github.com/googleapis/google-cloud-go-testing/bigquery/bqiface"
	"github.com/googleapis/google-cloud-go-testing/storage/stiface"
	"github.com/joho/godotenv"
	"github.com/m-lab/datamart-export/config"
	"github.com/m-lab/datamart-export/exporter"
	"github.com/m-lab/datamart-export/output"
	"github.com/m-lab/datamart-export/pipeline"
	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/httpx"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"
	"github.com/m-lab/go/uploader"
)

const defaultQueryTimeout = 5 * time.Minute

var (
	project      string
	dataset      string
	outputDir    string
	bucket       string
	bucketPrefix string
	listenAddr   string
	failOnError  bool

	timeout    time.Duration
	tables     = flagx.StringArray{}
	configFile = flagx.File{}

	mainCtx, mainCancel = signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	osExit = os.Exit
)

func init() {
	flag.StringVar(&project, "project", config.DefaultProject, "GCP Project ID to use")
	flag.StringVar(&dataset, "dataset", config.DefaultDataset, "Dataset containing the data marts")
	flag.StringVar(&outputDir, "output.dir", config.DefaultOutputDir,
		"Local directory CSV files are written to")
	flag.Var(&tables, "table", "Table to export, can be repeated (default: all data marts)")
	flag.Var(&configFile, "config", "JSON configuration file")
	flag.DurationVar(&timeout, "query.timeout", defaultQueryTimeout,
		"Timeout for each table export")
	flag.StringVar(&bucket, "output.bucket", "",
		"If set, CSV files are also uploaded to this GCS bucket")
	flag.StringVar(&bucketPrefix, "output.prefix", "",
		"Object name prefix used with -output.bucket")
	flag.BoolVar(&failOnError, "fail-on-error", false,
		"Exit with a non-zero status if any table fails to export")
	flag.StringVar(&listenAddr, "listenaddr", "",
		"If set, serve /v0/export on this address instead of exporting once")
}

// buildConfig merges the built-in defaults, the configuration file and the
// flags explicitly set on the command line or through the environment, in
// increasing order of precedence.
func buildConfig(fs *flag.FlagSet) (config.Config, error) {
	c := config.Default()
	if err := c.Overlay(configFile.Get()); err != nil {
		return c, err
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "project":
			c.Project = project
		case "dataset":
			c.Dataset = dataset
		case "output.dir":
			c.OutputDir = outputDir
		case "table":
			c.Tables = []string(tables)
		}
	})
	return c, c.Validate()
}

func serve(ex *exporter.CSVExporter) {
	mux := http.NewServeMux()
	mux.Handle("/v0/export", pipeline.NewHandler(ex))

	s := &http.Server{
		Addr:    listenAddr,
		Handler: mux,
	}
	rtx.Must(httpx.ListenAndServeAsync(s), "Could not start HTTP server")
	defer s.Close()

	// Start Prometheus server for monitoring.
	promServer := prometheusx.MustServeMetrics()
	defer promServer.Close()

	// Keep serving until the context is canceled.
	<-mainCtx.Done()
}

// exitCode returns the process exit status for a completed run.
func exitCode(summary *exporter.Summary, failOnError bool) int {
	if failOnError && summary.Failed() > 0 {
		log.Printf("%d of %d exports failed", summary.Failed(), len(summary.Results))
		return 1
	}
	return 0
}

// run exports the configured tables, or serves the export endpoint, and
// returns the process exit status. Clients are closed before it returns.
func run(ctx context.Context, cfg config.Config) int {
	log.Printf("Connecting to BigQuery project: %s", cfg.Project)
	bqClient, err := bigquery.NewClient(ctx, cfg.Project)
	rtx.Must(err, "error initializing BQ client")
	defer bqClient.Close()

	local, err := output.NewLocalWriter(ctx, cfg.OutputDir)
	rtx.Must(err, "Cannot create output directory %s", cfg.OutputDir)
	var wr output.Writer = local
	if bucket != "" {
		gcsClient, err := storage.NewClient(ctx)
		rtx.Must(err, "error initializing GCS client")
		defer gcsClient.Close()
		up := uploader.New(stiface.AdaptClient(gcsClient), bucket)
		wr = output.Tee(local, output.NewGCSWriter(up, bucketPrefix))
	}

	ex := exporter.New(bqiface.AdaptClient(bqClient), cfg, wr, timeout)
	if listenAddr != "" {
		serve(ex)
		return 0
	}

	summary := ex.Run(ctx)
	summary.Render(os.Stdout)
	return exitCode(summary, failOnError)
}

func main() {
	flag.Parse()
	log.SetFlags(log.LUTC | log.Lshortfile | log.LstdFlags)
	if err := godotenv.Load(); err != nil {
		log.Print("No .env file found, using the process environment")
	}
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not parse env args")

	cfg, err := buildConfig(flag.CommandLine)
	rtx.Must(err, "Invalid configuration")

	code := run(mainCtx, cfg)
	mainCancel()
	osExit(code)
}
