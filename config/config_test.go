package config

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"
)

func TestDefault(t *testing.T) {
	c := Default()
	if c.Project != DefaultProject || c.Dataset != DefaultDataset ||
		c.OutputDir != DefaultOutputDir {
		t.Errorf("Default() returned unexpected config: %+v", c)
	}
	if !reflect.DeepEqual(c.Tables, DefaultTables) {
		t.Errorf("Default() tables = %v, want %v", c.Tables, DefaultTables)
	}
	// Changing the returned config must not change the defaults.
	c.Tables[0] = "changed"
	if DefaultTables[0] == "changed" {
		t.Errorf("Default() shares its table list with DefaultTables")
	}
	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() returned err: %v", err)
	}
}

func TestConfig_Overlay(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    Config
		wantErr bool
	}{
		{
			name:    "empty",
			content: "",
			want:    Default(),
		},
		{
			name:    "partial",
			content: `{"dataset": "other", "tables": ["a", "b"]}`,
			want: Config{
				Project:   DefaultProject,
				Dataset:   "other",
				OutputDir: DefaultOutputDir,
				Tables:    []string{"a", "b"},
			},
		},
		{
			name:    "full",
			content: `{"project": "p", "dataset": "d", "output_dir": "out", "tables": ["t"]}`,
			want: Config{
				Project:   "p",
				Dataset:   "d",
				OutputDir: "out",
				Tables:    []string{"t"},
			},
		},
		{
			name:    "invalid-json",
			content: `{"project": `,
			want:    Default(),
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			err := c.Overlay([]byte(tt.content))
			if (err != nil) != tt.wantErr {
				t.Errorf("Config.Overlay() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !reflect.DeepEqual(c, tt.want) {
				t.Errorf("Config.Overlay() = %+v, want %+v", c, tt.want)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{
		Project:   "p",
		Dataset:   "d",
		OutputDir: "out",
		Tables:    []string{"a", "b-c", "D_1"},
	}
	withTables := func(tables ...string) Config {
		c := valid
		c.Tables = tables
		return c
	}
	tests := []struct {
		name    string
		config  Config
		wantErr error
	}{
		{
			name:   "ok",
			config: valid,
		},
		{
			name:    "missing-project",
			config:  Config{Dataset: "d", OutputDir: "o", Tables: []string{"a"}},
			wantErr: errMissingProject,
		},
		{
			name:    "missing-dataset",
			config:  Config{Project: "p", OutputDir: "o", Tables: []string{"a"}},
			wantErr: errMissingDataset,
		},
		{
			name:    "missing-output-dir",
			config:  Config{Project: "p", Dataset: "d", Tables: []string{"a"}},
			wantErr: errMissingOutputDir,
		},
		{
			name:    "no-tables",
			config:  withTables(),
			wantErr: errNoTables,
		},
		{
			name:    "duplicate-table",
			config:  withTables("a", "b", "a"),
			wantErr: errDuplicateTable,
		},
		{
			name:    "path-traversal",
			config:  withTables("../etc"),
			wantErr: errInvalidTable,
		},
		{
			name:    "backtick",
			config:  withTables("a` WHERE 1=1 --"),
			wantErr: errInvalidTable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Config.Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Source(t *testing.T) {
	c := Default()
	want := "dw-health-insurance-bipm.raw_dataset_data_marts.dm_customer_360"
	if got := c.Source("dm_customer_360"); got != want {
		t.Errorf("Config.Source() = %q, want %q", got, want)
	}
}

func TestConfig_OutputPath(t *testing.T) {
	c := Config{OutputDir: "out/dir"}
	want := filepath.Join("out", "dir", "dm_customer_360.csv")
	if got := c.OutputPath("dm_customer_360"); got != want {
		t.Errorf("Config.OutputPath() = %q, want %q", got, want)
	}
	// Distinct tables never share a path.
	if c.OutputPath("a") == c.OutputPath("b") {
		t.Errorf("Config.OutputPath() returned the same path for distinct tables")
	}
}
