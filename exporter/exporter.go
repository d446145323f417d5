package exporter

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/googleapis/google-cloud-go-testing/bigquery/bqiface"
	"github.com/m-lab/datamart-export/config"
	"github.com/m-lab/datamart-export/formatter"
	"github.com/m-lab/datamart-export/output"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"google.golang.org/api/iterator"
)

// maxReportedColumns is how many column names are printed per export.
const maxReportedColumns = 5

var (
	exportedRowsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "datamart_export_rows_total",
		Help: "Rows written to CSV, per table",
	}, []string{
		"table",
	})
	writtenBytesMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "datamart_export_written_bytes_total",
		Help: "Bytes of CSV written, per table",
	}, []string{
		"table",
	})
	exportErrorsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "datamart_export_errors_total",
		Help: "Failed exports, per table and failing step",
	}, []string{
		"table", "step",
	})
	exportDurationHistogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "datamart_export_duration_seconds",
		Help:    "Time to query and write a table, including failed exports",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	}, []string{
		"table",
	})
)

// Job is a single table export. Jobs are built once from the configuration
// and never modified.
type Job struct {
	// Table is the table name.
	Table string
	// Source is the fully qualified table name.
	Source string
	// FileName is the output file name, relative to the output directory.
	FileName string
	// Path is the output file path.
	Path string
}

// Result is the outcome of a Job.
type Result struct {
	Table    string
	Path     string
	Rows     int
	Columns  []string
	Bytes    int
	Duration time.Duration
	// Err is nil if the export succeeded.
	Err error
}

// stepError records which step of an export failed.
type stepError struct {
	step string
	err  error
}

func (e *stepError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.step, e.err)
}

func (e *stepError) Unwrap() error {
	return e.err
}

// CSVExporter exports BigQuery tables to CSV files.
type CSVExporter struct {
	bqClient bqiface.Client
	output   output.Writer
	format   *formatter.CSVFormatter
	config   config.Config
	timeout  time.Duration
}

// New generates a new CSVExporter. If timeout is positive, it bounds every
// single table export.
func New(bqClient bqiface.Client, c config.Config, wr output.Writer,
	timeout time.Duration) *CSVExporter {
	return &CSVExporter{
		bqClient: bqClient,
		output:   wr,
		format:   formatter.NewCSVFormatter(),
		config:   c,
		timeout:  timeout,
	}
}

// Jobs returns the export jobs for the configured tables, in order.
func (ex *CSVExporter) Jobs() []Job {
	jobs := make([]Job, 0, len(ex.config.Tables))
	for _, t := range ex.config.Tables {
		jobs = append(jobs, Job{
			Table:    t,
			Source:   ex.config.Source(t),
			FileName: config.FileName(t),
			Path:     ex.config.OutputPath(t),
		})
	}
	return jobs
}

// Run exports every configured table, one at a time. A failing table is
// logged and recorded in the returned Summary; it never stops the remaining
// exports.
func (ex *CSVExporter) Run(ctx context.Context) *Summary {
	summary := &Summary{}
	for _, j := range ex.Jobs() {
		log.Printf("Exporting %s...", j.Table)
		res := ex.Export(ctx, j)
		if res.Err != nil {
			log.Printf("Error exporting %s: %v", j.Table, res.Err)
		} else {
			log.Printf("Exported %d rows to %s", res.Rows, res.Path)
			log.Printf("Columns: %s", columnsSummary(res.Columns))
			log.Printf("File size: %.2f KB", float64(res.Bytes)/1024)
		}
		summary.Results = append(summary.Results, res)
	}
	log.Printf("Export complete! (%d succeeded, %d failed)",
		summary.Succeeded(), summary.Failed())
	dir, err := filepath.Abs(ex.config.OutputDir)
	if err != nil {
		dir = ex.config.OutputDir
	}
	log.Printf("CSV files saved to: %s", dir)
	return summary
}

// Export runs the query for the given job, reads the whole result into
// memory and writes it as CSV.
func (ex *CSVExporter) Export(ctx context.Context, j Job) Result {
	start := time.Now()
	res := Result{Table: j.Table, Path: j.Path}
	if ex.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ex.timeout)
		defer cancel()
	}

	err := ex.export(ctx, j, &res)
	res.Duration = time.Since(start)
	exportDurationHistogram.WithLabelValues(j.Table).Observe(res.Duration.Seconds())
	if err != nil {
		res.Err = err
		step := "unknown"
		if se, ok := err.(*stepError); ok {
			step = se.step
		}
		exportErrorsMetric.WithLabelValues(j.Table, step).Inc()
		return res
	}
	exportedRowsMetric.WithLabelValues(j.Table).Add(float64(res.Rows))
	writtenBytesMetric.WithLabelValues(j.Table).Add(float64(res.Bytes))
	return res
}

func (ex *CSVExporter) export(ctx context.Context, j Job, res *Result) error {
	q := ex.bqClient.Query(formatter.SelectAll(j.Source))
	it, err := q.Read(ctx)
	if err != nil {
		return &stepError{step: "query", err: err}
	}
	rs, err := readAll(it)
	if err != nil {
		return &stepError{step: "read", err: err}
	}
	content, err := ex.format.Marshal(rs)
	if err != nil {
		return &stepError{step: "marshal", err: err}
	}
	if err := ex.output.Write(ctx, j.FileName, content); err != nil {
		return &stepError{step: "write", err: err}
	}
	res.Rows = len(rs.Rows)
	res.Columns = rs.Columns
	res.Bytes = len(content)
	return nil
}

// readAll materializes every row returned by the iterator. Column names come
// from the iterator's schema, which is available once Next has been called.
func readAll(it bqiface.RowIterator) (*formatter.ResultSet, error) {
	var rows [][]bigquery.Value
	it.PageInfo().MaxSize = 100000
	for {
		var row []bigquery.Value
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return &formatter.ResultSet{
		Columns: formatter.ColumnNames(it.Schema()),
		Rows:    rows,
	}, nil
}

// columnsSummary lists the first column names, followed by "..." when some
// are omitted.
func columnsSummary(columns []string) string {
	if len(columns) <= maxReportedColumns {
		return strings.Join(columns, ", ")
	}
	return strings.Join(columns[:maxReportedColumns], ", ") + "..."
}
