package warehouse

import (
	"database/sql"
	"fmt"
	"time"

	"adsync/internal/schema"
	"adsync/pkg/records"
)

// ScanRows materializes a database/sql result set into records. Byte slices
// become strings and midnight timestamps become date strings, so key tuples
// read back from a table compare equal to the tuples that were loaded.
func ScanRows(rows *sql.Rows) ([]records.Record, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}
	var out []records.Record
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		rec := make(records.Record, len(cols))
		for i, col := range cols {
			rec[col] = normalizeSQLValue(vals[i])
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func normalizeSQLValue(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case time.Time:
		if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
			return t.Format(schema.DateLayout)
		}
		return t.Format(time.RFC3339)
	default:
		return v
	}
}
