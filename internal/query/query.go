// Package query implements C3: preparing, binding, stepping, and
// materialising the parameterised SQL queries a script hands over, per
// spec.md §4.3.
package query

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// ParamType enumerates the wire types a bound parameter may carry
// (spec.md §3 QueryBatch.parameters).
type ParamType int

const (
	ParamNull ParamType = iota
	ParamNumber
	ParamString
	ParamBlob
	ParamBoolean
)

// Param is one positional "?" binding.
type Param struct {
	Type  ParamType
	Value any
}

// CellType enumerates the type tag a result cell carries (spec.md §3
// Row cell).
type CellType int

const (
	CellNull CellType = iota
	CellNumber
	CellString
	CellBlob
)

// Cell is one (column_name, value, byte_size, type) tuple.
type Cell struct {
	Column string
	Value  string // stringified per spec.md §4.3 step 4; blobs keep raw bytes in Raw
	Raw    []byte // populated only when Type == CellBlob
	Size   int
	Type   CellType
}

// Row is an ordered sequence of cells sharing one column set.
type Row []Cell

// ResultSet is the ordered rows produced by one top-level statement.
type ResultSet []Row

// Batch is the object a script hands to Execute: the query text, its
// parameters, and — after Execute — the accumulated results (spec.md §3
// QueryBatch).
type Batch struct {
	QueryString   string
	Parameters    []Param
	Results       []ResultSet
	LastInsertID  string
}

// Execute runs batch.QueryString against db, synchronously, never
// returning an error to the caller: failures are logged and leave
// batch.Results empty, per spec.md §4.3 ("the function never throws back
// into the VM; instead it logs errors").
func Execute(db *sql.DB, logger *slog.Logger, batch *Batch) {
	if strings.TrimSpace(batch.QueryString) == "" {
		return
	}

	statements := splitStatements(batch.QueryString)
	paramIdx := 0

	for _, stmt := range statements {
		n := strings.Count(stmt, "?")
		stmtParams := batch.Parameters[paramIdx:min(paramIdx+n, len(batch.Parameters))]
		paramIdx += n

		args := make([]any, 0, len(stmtParams))
		for _, p := range stmtParams {
			args = append(args, bindArg(p))
		}

		rs, lastInsertID, err := runStatement(db, stmt, args)
		if err != nil {
			logger.Error("Query Error", "error", err.Error(), "query", stmt)
			batch.Results = nil
			return
		}
		if rs != nil {
			batch.Results = append(batch.Results, rs)
		}
		if lastInsertID != "" {
			batch.LastInsertID = lastInsertID
		}
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// runStatement prepares, binds, and steps one statement, returning its
// ResultSet: the rows it produced, or an empty ResultSet for a query with
// no rows and for statements like INSERT/UPDATE that return none.
func runStatement(db *sql.DB, stmt string, args []any) (ResultSet, string, error) {
	prepared, err := db.Prepare(stmt)
	if err != nil {
		return nil, "", fmt.Errorf("prepare: %w", err)
	}
	defer prepared.Close()

	rows, err := prepared.Query(args...)
	if err != nil {
		return nil, "", fmt.Errorf("step: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, "", fmt.Errorf("columns: %w", err)
	}

	var rs ResultSet
	if len(cols) > 0 {
		for rows.Next() {
			// Scan into interface{} targets so the sqlite driver's native
			// Go type (int64/float64/string/[]byte/nil) survives for
			// classify to inspect, instead of being coerced to text.
			values := make([]any, len(cols))
			dest := make([]any, len(cols))
			for i := range dest {
				dest[i] = &values[i]
			}
			if err := rows.Scan(dest...); err != nil {
				return nil, "", fmt.Errorf("scan: %w", err)
			}

			row := make(Row, len(cols))
			for i, col := range cols {
				row[i] = classify(col, values[i])
			}
			rs = append(rs, row)
		}
		if err := rows.Err(); err != nil {
			return nil, "", fmt.Errorf("rows: %w", err)
		}
	}

	// Release the statement's connection before asking for
	// last_insert_rowid(): a statement with no result columns is never
	// iterated, so its Rows would otherwise keep holding it.
	rows.Close()

	var lastInsertID string
	// Fetch last_insert_rowid() directly; database/sql's Result.LastInsertId
	// is unavailable here since we used Query, not Exec (needed to support
	// SELECTs and DML uniformly per statement).
	if row := db.QueryRow(`SELECT last_insert_rowid()`); row != nil {
		var id int64
		if err := row.Scan(&id); err == nil {
			lastInsertID = strconv.FormatInt(id, 10)
		}
	}

	if rs == nil {
		return ResultSet{}, lastInsertID, nil
	}
	return rs, lastInsertID, nil
}

// classify converts one scanned value into a Cell, per spec.md §4.3 step 4.
func classify(column string, v any) Cell {
	switch val := v.(type) {
	case nil:
		return Cell{Column: column, Type: CellNull, Size: 1}
	case int64:
		s := strconv.FormatInt(val, 10)
		return Cell{Column: column, Type: CellNumber, Value: s, Size: len(s)}
	case float64:
		s := strconv.FormatFloat(val, 'g', -1, 64)
		return Cell{Column: column, Type: CellNumber, Value: s, Size: len(s)}
	case []byte:
		return Cell{Column: column, Type: CellBlob, Raw: val, Size: len(val)}
	case string:
		return Cell{Column: column, Type: CellString, Value: val, Size: len(val)}
	case bool:
		s := "0"
		if val {
			s = "1"
		}
		return Cell{Column: column, Type: CellNumber, Value: s, Size: len(s)}
	default:
		s := fmt.Sprint(val)
		return Cell{Column: column, Type: CellString, Value: s, Size: len(s)}
	}
}

// bindArg converts a Param into the value database/sql should bind,
// per spec.md §4.3 step 3's per-type binding rules.
func bindArg(p Param) any {
	switch p.Type {
	case ParamNull:
		return nil
	case ParamString:
		s, _ := p.Value.(string)
		return s
	case ParamNumber:
		switch n := p.Value.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		case int64:
			return float64(n)
		case string:
			f, _ := strconv.ParseFloat(n, 64)
			return f
		default:
			return 0.0
		}
	case ParamBoolean:
		if b, _ := p.Value.(bool); b {
			return 1
		}
		return 0
	case ParamBlob:
		b, _ := p.Value.([]byte)
		return b
	default:
		return nil
	}
}

// splitStatements splits a query string on top-level ";" separators,
// ignoring semicolons inside single- or double-quoted string literals, so
// that one QueryBatch.query_string may contain several statements — each
// becomes its own ResultSet (spec.md §3: "results: ... one per top-level
// statement executed").
func splitStatements(q string) []string {
	var out []string
	var b strings.Builder
	inSingle, inDouble := false, false
	for i := 0; i < len(q); i++ {
		c := q[i]
		switch {
		case c == '\'' && !inDouble:
			inSingle = !inSingle
		case c == '"' && !inSingle:
			inDouble = !inDouble
		case c == ';' && !inSingle && !inDouble:
			if s := strings.TrimSpace(b.String()); s != "" {
				out = append(out, s)
			}
			b.Reset()
			continue
		}
		b.WriteByte(c)
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		out = append(out, s)
	}
	return out
}
