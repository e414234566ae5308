package chunking

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/poiesic/conductor/core"
)

// Document metadata keys naming the sheets of a tabular document.
const (
	MetaSheetNames = "sheet_names"
	maxSamples     = 3
)

type table struct {
	name   string
	header []string
	rows   [][]string
}

// splitTabular parses raw as one or more CSV tables separated by blank lines.
// Each table yields a synthetic summary chunk followed by one chunk per row.
func (r *Router) splitTabular(raw string, docMeta map[string]string) ([]segment, error) {
	tables, err := parseTables(raw, sheetNames(docMeta))
	if err != nil {
		return nil, err
	}

	var segments []segment
	for _, t := range tables {
		segments = append(segments, segment{
			text:  summarize(t),
			start: -1,
			meta: map[string]string{
				core.MetaSynthetic: "true",
				core.MetaSheetName: t.name,
				"row_count":        strconv.Itoa(len(t.rows)),
				"column_count":     strconv.Itoa(len(t.header)),
			},
		})
		for i, row := range t.rows {
			segments = append(segments, segment{
				text:  rowText(t.header, row),
				start: -1,
				meta: map[string]string{
					core.MetaSheetName: t.name,
					core.MetaRowNumber: strconv.Itoa(i + 1),
				},
			})
		}
	}
	return segments, nil
}

func sheetNames(meta map[string]string) []string {
	if names, ok := meta[MetaSheetNames]; ok && strings.TrimSpace(names) != "" {
		parts := strings.Split(names, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	if name, ok := meta[core.MetaSheetName]; ok && strings.TrimSpace(name) != "" {
		return []string{strings.TrimSpace(name)}
	}
	return nil
}

func parseTables(raw string, names []string) ([]table, error) {
	var tables []table
	for i, block := range tableBlocks(raw) {
		reader := csv.NewReader(strings.NewReader(block))
		reader.FieldsPerRecord = -1
		reader.TrimLeadingSpace = true
		reader.LazyQuotes = true

		var records [][]string
		for {
			rec, err := reader.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("table %d: %w", i+1, err)
			}
			records = append(records, rec)
		}
		if len(records) == 0 {
			continue
		}

		name := fmt.Sprintf("Sheet%d", i+1)
		if i < len(names) && names[i] != "" {
			name = names[i]
		}
		header := make([]string, len(records[0]))
		for j, h := range records[0] {
			header[j] = strings.TrimSpace(h)
			if header[j] == "" {
				header[j] = fmt.Sprintf("column_%d", j+1)
			}
		}
		tables = append(tables, table{name: name, header: header, rows: records[1:]})
	}
	if len(tables) == 0 {
		return nil, fmt.Errorf("no tables found")
	}
	return tables, nil
}

// tableBlocks splits raw at blank lines.
func tableBlocks(raw string) []string {
	var blocks []string
	var current []string
	flush := func() {
		if len(current) > 0 {
			blocks = append(blocks, strings.Join(current, "\n"))
			current = nil
		}
	}
	for _, line := range strings.Split(raw, "\n") {
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		current = append(current, strings.TrimRight(line, "\r"))
	}
	flush()
	return blocks
}

func columnName(header []string, i int) string {
	if i < len(header) {
		return header[i]
	}
	return fmt.Sprintf("column_%d", i+1)
}

func rowText(header, row []string) string {
	var b strings.Builder
	for i, v := range row {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(columnName(header, i))
		b.WriteString(": ")
		b.WriteString(strings.TrimSpace(v))
	}
	return b.String()
}

// summarize describes a table's shape and, per column, its distinct value
// count with a few sample values.
func summarize(t table) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s has %d rows and %d columns. Columns: %s.",
		t.name, len(t.rows), len(t.header), strings.Join(t.header, ", "))

	for col, name := range t.header {
		seen := make(map[string]struct{})
		var samples []string
		for _, row := range t.rows {
			if col >= len(row) {
				continue
			}
			v := strings.TrimSpace(row[col])
			if v == "" {
				continue
			}
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			if len(samples) < maxSamples {
				samples = append(samples, v)
			}
		}
		fmt.Fprintf(&b, " %s: %d distinct values", name, len(seen))
		if len(samples) > 0 {
			fmt.Fprintf(&b, " (e.g. %s)", strings.Join(samples, ", "))
		}
		b.WriteString(".")
	}
	return b.String()
}
