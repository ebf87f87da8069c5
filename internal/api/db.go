package api

import (
	"context"
	"database/sql"
	"regexp"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-voyages/internal/db"
)

// DBHandler exposes the staged ports and legs tables.
type DBHandler struct {
	store *db.Store
}

// NewDBHandler creates a new database handler. A nil store answers 503.
func NewDBHandler(store *db.Store) *DBHandler {
	return &DBHandler{store: store}
}

// RegisterRoutes registers database routes with Huma.
func (h *DBHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/tables", h.ListTables, huma.OperationTags("db"))
	huma.Post(api, "/api/v1/query", h.Query, huma.OperationTags("db"))
	huma.Get(api, "/api/v1/visits", h.Visits, huma.OperationTags("db"))
}

// TablesOutput is the response for listing tables.
type TablesOutput struct {
	Body struct {
		Tables []string `json:"tables" doc:"List of table names"`
	}
}

// ListTables returns all DuckDB tables.
func (h *DBHandler) ListTables(ctx context.Context, input *struct{}) (*TablesOutput, error) {
	conn, err := h.conn()
	if err != nil {
		return nil, err
	}

	rows, err := conn.QueryContext(ctx, "SHOW TABLES")
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to list tables", err)
	}
	defer rows.Close()

	out := &TablesOutput{}
	out.Body.Tables = []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err == nil {
			out.Body.Tables = append(out.Body.Tables, name)
		}
	}
	return out, nil
}

// QueryInput is the input for SQL queries.
type QueryInput struct {
	Body struct {
		Query string `json:"query" required:"true" doc:"Read-only SQL query to execute" example:"SELECT port_city, count(*) FROM legs GROUP BY 1"`
	}
}

// QueryOutput is the response for SQL queries.
type QueryOutput struct {
	Body struct {
		Columns []string         `json:"columns" doc:"Column names"`
		Rows    []map[string]any `json:"rows" doc:"Query results"`
		Count   int              `json:"count" doc:"Number of rows returned"`
	}
}

// Query executes a read-only SQL query against DuckDB.
func (h *DBHandler) Query(ctx context.Context, input *QueryInput) (*QueryOutput, error) {
	conn, err := h.conn()
	if err != nil {
		return nil, err
	}
	if !readOnly(input.Body.Query) {
		return nil, huma.Error400BadRequest("only SELECT, WITH, SHOW, DESCRIBE and SUMMARIZE queries are allowed")
	}

	rows, err := conn.QueryContext(ctx, input.Body.Query)
	if err != nil {
		return nil, huma.Error400BadRequest("Query failed: " + err.Error())
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to get columns", err)
	}

	out := &QueryOutput{}
	out.Body.Columns = columns
	out.Body.Rows = []map[string]any{}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			continue
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		out.Body.Rows = append(out.Body.Rows, row)
	}
	out.Body.Count = len(out.Body.Rows)
	return out, nil
}

// VisitsOutput reports resolved visit counts and unknown port names.
type VisitsOutput struct {
	Body struct {
		Visits     map[string]int `json:"visits" doc:"Legs per resolved port city"`
		Unresolved []string       `json:"unresolved" doc:"Leg port names missing from the ports table"`
	}
}

// Visits summarises the staged legs.
func (h *DBHandler) Visits(ctx context.Context, input *struct{}) (*VisitsOutput, error) {
	if _, err := h.conn(); err != nil {
		return nil, err
	}
	visits, err := h.store.VisitCounts(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to count visits", err)
	}
	unresolved, err := h.store.UnresolvedPorts(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to list unresolved ports", err)
	}
	out := &VisitsOutput{}
	out.Body.Visits = visits
	out.Body.Unresolved = unresolved
	if out.Body.Unresolved == nil {
		out.Body.Unresolved = []string{}
	}
	return out, nil
}

func (h *DBHandler) conn() (*sql.DB, error) {
	if h.store == nil || h.store.DB() == nil {
		return nil, huma.Error503ServiceUnavailable("Database not available")
	}
	return h.store.DB(), nil
}

// fileAccess matches table functions and quoted paths that read files.
var fileAccess = regexp.MustCompile(`(?i)\b(read_\w+|\w+_scan|glob|sniff_csv|parquet_\w+)\s*\(|\b(from|join)\s+'`)

func readOnly(query string) bool {
	q := strings.TrimSpace(query)
	if strings.Contains(strings.TrimRight(q, "; \n\t"), ";") || fileAccess.MatchString(q) {
		return false
	}
	fields := strings.Fields(q)
	if len(fields) == 0 {
		return false
	}
	switch strings.ToUpper(fields[0]) {
	case "SELECT", "WITH", "SHOW", "DESCRIBE", "SUMMARIZE":
		return true
	}
	return false
}
