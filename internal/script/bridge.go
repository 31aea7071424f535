package script

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/bialet-dev/bialet/internal/query"
	"github.com/bialet-dev/bialet/internal/store"
)

// responseBridge is the Go-side backing store for the script-global
// "Response" object (spec.md §3 Response / §4.4 step 6). The driver reads
// its fields directly after running the script instead of round-tripping
// back through the VM.
type responseBridge struct {
	Status  int
	body    strings.Builder
	headers map[string]string
	order   []string
}

func newResponseBridge() *responseBridge {
	return &responseBridge{Status: 200, headers: map[string]string{}}
}

// Write appends to the response body (Response.write(...) in script code).
func (r *responseBridge) Write(s string) { r.body.WriteString(s) }

// SetHeader records a response header (Response.setHeader(key, value)).
func (r *responseBridge) SetHeader(key, value string) {
	if _, exists := r.headers[key]; !exists {
		r.order = append(r.order, key)
	}
	r.headers[key] = value
}

// File replaces the body with the file-sentinel marker (spec.md §4.5):
// byte 0x1A followed by a BIALET_FILES id (Response.file(id)).
func (r *responseBridge) File(id string) {
	r.body.Reset()
	r.body.WriteByte(0x1A)
	r.body.WriteString(id)
}

// Out returns the accumulated body (Response.out() — spec.md §4.4 step 6b).
func (r *responseBridge) Out() string { return r.body.String() }

// Headers serialises the recorded headers into the raw header-bytes block
// (spec.md §4.4 step 6d), one "Key: Value\r\n" per entry.
func (r *responseBridge) Headers() string {
	var b strings.Builder
	for _, k := range r.order {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(r.headers[k])
		b.WriteString("\r\n")
	}
	return b.String()
}

// requestBridge is the Go-side backing store for the script-global
// "Request" object (spec.md §3 RequestContext), built once by the driver
// before the user module runs — scripts only ever read it.
type requestBridge struct {
	Method          string
	Uri             string
	RawHead         string
	Body            string
	Route           string
	UploadedFileIDs []string
}

// dbBridge is the script-global "Db" object: the bridge between user code
// and the query executor (C3).
type dbBridge struct {
	conn   *sql.DB
	logger *slog.Logger
	lastID string
}

// Query runs sql with the given positional parameters and returns its
// result. spec.md §3 defines QueryBatch.results as "one per top-level
// statement executed", so a batch of several ";"-separated statements
// produces several ResultSets: the common single-statement case returns a
// JS-friendly array of row objects directly, while a multi-statement batch
// returns an array of those per-statement row arrays, in statement order, so
// a script never loses access to anything past the first statement's
// result. It never raises back into the script (spec.md §4.3): on error it
// logs and returns an empty array.
func (d *dbBridge) Query(sqlText string, params []any) any {
	batch := &query.Batch{QueryString: sqlText}
	for _, p := range params {
		batch.Parameters = append(batch.Parameters, toParam(p))
	}

	query.Execute(d.conn, d.logger, batch)
	d.lastID = batch.LastInsertID

	switch len(batch.Results) {
	case 0:
		return []map[string]any{}
	case 1:
		return rowsToJS(batch.Results[0])
	default:
		all := make([]any, len(batch.Results))
		for i, rs := range batch.Results {
			all[i] = rowsToJS(rs)
		}
		return all
	}
}

// LastInsertId returns the last_insert_rowid() captured by the most recent
// Query call, stringified (spec.md §3 QueryBatch.last_insert_id).
func (d *dbBridge) LastInsertId() string { return d.lastID }

func toParam(v any) query.Param {
	switch val := v.(type) {
	case nil:
		return query.Param{Type: query.ParamNull}
	case bool:
		return query.Param{Type: query.ParamBoolean, Value: val}
	case int64:
		return query.Param{Type: query.ParamNumber, Value: float64(val)}
	case float64:
		return query.Param{Type: query.ParamNumber, Value: val}
	case string:
		return query.Param{Type: query.ParamString, Value: val}
	case []byte:
		return query.Param{Type: query.ParamBlob, Value: val}
	default:
		return query.Param{Type: query.ParamString, Value: fmt.Sprint(val)}
	}
}

func rowsToJS(rs query.ResultSet) []map[string]any {
	out := make([]map[string]any, len(rs))
	for i, row := range rs {
		m := make(map[string]any, len(row))
		for _, cell := range row {
			switch cell.Type {
			case query.CellNull:
				m[cell.Column] = nil
			case query.CellNumber:
				f, _ := strconv.ParseFloat(cell.Value, 64)
				m[cell.Column] = f
			case query.CellBlob:
				m[cell.Column] = cell.Raw
			default:
				m[cell.Column] = cell.Value
			}
		}
		out[i] = m
	}
	return out
}

// logBridge backs the script-global "console" object: writes are
// persisted to BIALET_LOGS and echoed to the console (spec.md §3
// LogEntry, §4.6's "Log" tag).
type logBridge struct {
	store  *store.Store
	logger *slog.Logger
}

func (l *logBridge) Log(args ...any) {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = fmt.Sprint(a)
	}
	msg := strings.Join(parts, " ")
	if err := l.store.Log(msg); err != nil {
		l.logger.Error("Error", "error", err.Error())
	}
	l.logger.Info("Log", "message", msg)
}
