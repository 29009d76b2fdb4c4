package sandbox

import (
	"database/sql"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"
)

type preview struct {
	columns []string
	rows    [][]string
	total   int64
}

// collectPreview drains rows, keeping the first limit rows as text.
func collectPreview(rows *sql.Rows, limit int) (*preview, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading columns: %w", err)
	}

	p := &preview{columns: cols}
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		p.total++
		if len(p.rows) >= limit {
			continue
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		row := make([]string, len(values))
		for i, v := range values {
			row[i] = truncate(formatCell(v), maxCellWidth)
		}
		p.rows = append(p.rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return p, nil
}

// String renders the preview as an aligned table.
func (p *preview) String() string {
	if len(p.columns) == 0 {
		return ""
	}

	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(p.columns, "\t"))

	seps := make([]string, len(p.columns))
	for i, c := range p.columns {
		seps[i] = strings.Repeat("-", max(len(c), 3))
	}
	fmt.Fprintln(w, strings.Join(seps, "\t"))

	for _, row := range p.rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	w.Flush()

	if hidden := p.total - int64(len(p.rows)); hidden > 0 {
		fmt.Fprintf(&b, "... %d more row%s\n", hidden, plural(hidden))
	}
	return b.String()
}

func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return cleanCell(string(x))
	case string:
		return cleanCell(x)
	case time.Time:
		return x.Format(time.RFC3339)
	default:
		return fmt.Sprint(x)
	}
}

func cleanCell(s string) string {
	return strings.NewReplacer("\t", " ", "\n", " ", "\r", " ").Replace(s)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
