package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
)

const (
	// DefaultProject is the GCP project hosting the data marts.
	DefaultProject = "dw-health-insurance-bipm"
	// DefaultDataset is the dataset containing the data marts.
	DefaultDataset = "raw_dataset_data_marts"
	// DefaultOutputDir is where CSV files are written.
	DefaultOutputDir = "data"
)

// DefaultTables is the list of data marts exported when none is configured.
var DefaultTables = []string{
	"dm_customer_360",
	"dm_health_by_demographics",
	"dm_insurance_profitability",
	"dm_sleep_health_analysis",
	"dm_data_quality_dashboard",
}

var (
	errMissingProject   = errors.New("missing project id")
	errMissingDataset   = errors.New("missing dataset id")
	errMissingOutputDir = errors.New("missing output directory")
	errNoTables         = errors.New("no tables to export")
	errInvalidTable     = errors.New("invalid table name")
	errDuplicateTable   = errors.New("duplicate table name")
)

var tableNameRegex = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Config is a configuration object for the data mart exporter.
type Config struct {
	// Project is the GCP project the dataset lives in.
	Project string `json:"project"`
	// Dataset is the dataset containing every exported table.
	Dataset string `json:"dataset"`
	// OutputDir is the local directory CSV files are written to.
	OutputDir string `json:"output_dir"`
	// Tables is the ordered list of tables to export.
	Tables []string `json:"tables"`
}

// Default returns the built-in configuration.
func Default() Config {
	tables := make([]string, len(DefaultTables))
	copy(tables, DefaultTables)
	return Config{
		Project:   DefaultProject,
		Dataset:   DefaultDataset,
		OutputDir: DefaultOutputDir,
		Tables:    tables,
	}
}

// Overlay applies the fields present in the JSON document to c. Fields
// missing from the document keep their current value.
func (c *Config) Overlay(content []byte) error {
	if len(content) == 0 {
		return nil
	}
	var fromFile Config
	if err := json.Unmarshal(content, &fromFile); err != nil {
		return fmt.Errorf("cannot parse configuration: %w", err)
	}
	if fromFile.Project != "" {
		c.Project = fromFile.Project
	}
	if fromFile.Dataset != "" {
		c.Dataset = fromFile.Dataset
	}
	if fromFile.OutputDir != "" {
		c.OutputDir = fromFile.OutputDir
	}
	if len(fromFile.Tables) > 0 {
		c.Tables = fromFile.Tables
	}
	return nil
}

// Validate checks that the configuration can produce non-colliding export
// jobs.
func (c Config) Validate() error {
	switch {
	case c.Project == "":
		return errMissingProject
	case c.Dataset == "":
		return errMissingDataset
	case c.OutputDir == "":
		return errMissingOutputDir
	case len(c.Tables) == 0:
		return errNoTables
	}
	seen := make(map[string]bool, len(c.Tables))
	for _, t := range c.Tables {
		if !tableNameRegex.MatchString(t) {
			return fmt.Errorf("%w: %q", errInvalidTable, t)
		}
		if seen[t] {
			return fmt.Errorf("%w: %q", errDuplicateTable, t)
		}
		seen[t] = true
	}
	return nil
}

// Source returns the fully qualified name of the given table.
func (c Config) Source(table string) string {
	return fmt.Sprintf("%s.%s.%s", c.Project, c.Dataset, table)
}

// FileName returns the name of the CSV file for the given table, relative to
// the output directory.
func FileName(table string) string {
	return table + ".csv"
}

// OutputPath returns the path of the CSV file for the given table.
func (c Config) OutputPath(table string) string {
	return filepath.Join(c.OutputDir, FileName(table))
}
