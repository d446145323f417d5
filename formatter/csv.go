package formatter

import (
	"bytes"
	"encoding/base64"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
)

const timestampFormat = "2006-01-02 15:04:05.999999-07:00"

// ResultSet is a materialized query result.
type ResultSet struct {
	Columns []string
	Rows    [][]bigquery.Value
}

// ColumnNames returns the top-level field names of a BigQuery schema.
func ColumnNames(schema bigquery.Schema) []string {
	names := make([]string, 0, len(schema))
	for _, f := range schema {
		names = append(names, f.Name)
	}
	return names
}

// CSVFormatter encodes result sets as CSV with a header row.
type CSVFormatter struct{}

// NewCSVFormatter creates a new CSVFormatter.
func NewCSVFormatter() *CSVFormatter {
	return &CSVFormatter{}
}

// Marshal converts the result set to CSV. The first record holds the column
// names; every row must have exactly one value per column.
func (f *CSVFormatter) Marshal(rs *ResultSet) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	if err := w.Write(rs.Columns); err != nil {
		return nil, err
	}
	record := make([]string, len(rs.Columns))
	for i, row := range rs.Rows {
		if len(row) != len(rs.Columns) {
			return nil, fmt.Errorf("row %d has %d values, expected %d",
				i, len(row), len(rs.Columns))
		}
		for j, v := range row {
			s, err := FormatValue(v)
			if err != nil {
				return nil, fmt.Errorf("row %d, column %s: %w", i, rs.Columns[j], err)
			}
			record[j] = s
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// formatFloat uses plain decimal notation, switching to exponent notation
// for magnitudes where it would need more than about twenty digits.
func formatFloat(f float64) string {
	abs := math.Abs(f)
	if abs >= 1e21 || (abs != 0 && abs < 1e-6) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// FormatValue renders a single BigQuery value as a CSV field. NULL becomes an
// empty field. Repeated and nested values are rendered as JSON.
func FormatValue(v bigquery.Value) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case int:
		return strconv.Itoa(x), nil
	case float64:
		return formatFloat(x), nil
	case bool:
		return strconv.FormatBool(x), nil
	case []byte:
		return base64.StdEncoding.EncodeToString(x), nil
	case time.Time:
		return x.Format(timestampFormat), nil
	case civil.Date:
		return x.String(), nil
	case civil.Time:
		return x.String(), nil
	case civil.DateTime:
		return x.String(), nil
	case *big.Rat:
		if x == nil {
			return "", nil
		}
		return bigquery.NumericString(x), nil
	case []bigquery.Value, map[string]bigquery.Value:
		j, err := json.Marshal(x)
		if err != nil {
			return "", err
		}
		return string(j), nil
	default:
		return fmt.Sprint(x), nil
	}
}
