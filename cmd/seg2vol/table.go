package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// column is one column of a report table; numeric columns align right
type column struct {
	name    string
	numeric bool
}

func textColumn(name string) column    { return column{name: name} }
func numericColumn(name string) column { return column{name: name, numeric: true} }

// reportTable collects the rows of one titled section of command output
type reportTable struct {
	title   string
	columns []column
	rows    []table.Row
}

func newReportTable(title string, columns ...column) *reportTable {
	return &reportTable{title: title, columns: columns}
}

// add appends a row, padding missing cells
func (t *reportTable) add(cells ...any) {
	row := make(table.Row, len(t.columns))
	copy(row, cells)
	for i := range row {
		if row[i] == nil {
			row[i] = ""
		}
	}
	t.rows = append(t.rows, row)
}

func (t *reportTable) empty() bool { return len(t.rows) == 0 }

func (t *reportTable) render() string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	if t.title != "" {
		tw.SetTitle("%s", t.title)
	}

	header := make(table.Row, len(t.columns))
	configs := make([]table.ColumnConfig, len(t.columns))
	for i, c := range t.columns {
		header[i] = c.name
		configs[i] = table.ColumnConfig{Number: i + 1, Align: text.AlignLeft, AlignHeader: text.AlignLeft}
		if c.numeric {
			configs[i].Align = text.AlignRight
		}
	}
	tw.AppendHeader(header)
	tw.AppendRows(t.rows)
	tw.SetColumnConfigs(configs)
	return tw.Render()
}
