package exporter

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
)

// Summary collects the results of a Run, in job order.
type Summary struct {
	Results []Result
}

// Succeeded returns the number of successful exports.
func (s *Summary) Succeeded() int {
	return len(s.Results) - s.Failed()
}

// Failed returns the number of failed exports.
func (s *Summary) Failed() int {
	n := 0
	for _, r := range s.Results {
		if r.Err != nil {
			n++
		}
	}
	return n
}

// Render writes the summary as a table.
func (s *Summary) Render(w io.Writer) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Table", "Rows", "Columns", "Size (KB)", "Status"})
	table.SetAutoWrapText(false)
	for _, r := range s.Results {
		status := "ok"
		rows, cols, size := "-", "-", "-"
		if r.Err != nil {
			status = "error: " + r.Err.Error()
		} else {
			rows = strconv.Itoa(r.Rows)
			cols = strconv.Itoa(len(r.Columns))
			size = fmt.Sprintf("%.2f", float64(r.Bytes)/1024)
		}
		table.Append([]string{r.Table, rows, cols, size, status})
	}
	table.Render()
}
