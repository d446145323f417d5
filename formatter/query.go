// Package formatter provides the export query and the CSV encoding used by
// the data mart exporter.
package formatter

import "fmt"

// SelectAll returns a query reading every column and row of the given fully
// qualified table. The name is quoted so that project ids containing dashes
// are accepted.
func SelectAll(source string) string {
	return fmt.Sprintf("SELECT * FROM `%s`", source)
}
