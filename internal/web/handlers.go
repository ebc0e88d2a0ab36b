package web

import (
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/blacksamuraiiii/xiyan-web/internal/errs"
	"github.com/blacksamuraiiii/xiyan-web/internal/ingest"
	"github.com/blacksamuraiiii/xiyan-web/internal/logging"
	"github.com/blacksamuraiiii/xiyan-web/internal/materialize"
	"github.com/blacksamuraiiii/xiyan-web/internal/session"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	sess, err := s.registry.Connect(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": sess.ID})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	s.registry.Disconnect(r.Context(), chi.URLParam(r, "sessionID"))
	w.WriteHeader(http.StatusNoContent)
}

type importedTable struct {
	Name      string   `json:"name"`
	Columns   []string `json:"columns"`
	Attempted int      `json:"attempted"`
	Inserted  int      `json:"inserted"`
	Skipped   int      `json:"skipped"`
	Appended  bool     `json:"appended"`
	RowErrors []string `json:"row_errors,omitempty"`
}

type importResult struct {
	File   string          `json:"file"`
	Tables []importedTable `json:"tables,omitempty"`
	Error  string          `json:"error,omitempty"`
	Code   string          `json:"code,omitempty"`
}

// handleUpload imports every file in the multipart form. Files fail
// independently: a bad file reports its error while the others import.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	maxSize := s.cfg.Import.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)
	if err := r.ParseMultipartForm(maxSize); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "upload too large or malformed")
		return
	}

	form := r.MultipartForm
	if form == nil || len(form.File["file"]) == 0 {
		writeError(w, http.StatusBadRequest, "no file provided")
		return
	}
	opts := ingest.Options{Append: r.FormValue("append") == "true"}

	results := make([]importResult, 0, len(form.File["file"]))
	for _, header := range form.File["file"] {
		res := importResult{File: header.Filename}

		data, err := readUpload(header)
		if err != nil {
			res.Error = "unreadable file"
			results = append(results, res)
			continue
		}

		tables, err := s.importer.ImportFile(r.Context(), sess, header.Filename, data, opts)
		for _, pt := range tables {
			res.Tables = append(res.Tables, toImportedTable(pt))
		}
		if err != nil {
			res.Error = err.Error()
			res.Code = string(errs.KindOf(err))
		}
		results = append(results, res)
	}

	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func toImportedTable(pt materialize.PersistedTable) importedTable {
	return importedTable{
		Name:      pt.Name,
		Columns:   pt.Columns,
		Attempted: pt.Attempted,
		Inserted:  pt.Inserted,
		Skipped:   pt.Skipped,
		Appended:  pt.Appended,
		RowErrors: pt.RowErrors,
	}
}

func readUpload(header *multipart.FileHeader) ([]byte, error) {
	f, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (s *Server) handleTables(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	names := sess.Tables()
	conn := sess.AcquireConn()
	cols, err := conn.TableColumns(r.Context(), names)
	sess.ReleaseConn()
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	type tableInfo struct {
		Name    string   `json:"name"`
		Columns []string `json:"columns"`
		Types   []string `json:"types,omitempty"`
	}
	out := make([]tableInfo, 0, len(names))
	for _, name := range names {
		out = append(out, tableInfo{
			Name:    name,
			Columns: cols[name],
			Types:   sess.ColumnTypes(name),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": out})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": sess.History()})
}

type askRequest struct {
	Question string `json:"question"`
	Modify   bool   `json:"modify"`
}

type askResponse struct {
	SQL          string   `json:"sql"`
	Status       string   `json:"status"`
	Columns      []string `json:"columns,omitempty"`
	Rows         [][]any  `json:"rows,omitempty"`
	RowsAffected int64    `json:"rows_affected,omitempty"`
	Error        string   `json:"error,omitempty"`
	Code         string   `json:"code,omitempty"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Question == "" {
		writeError(w, http.StatusBadRequest, "body must be JSON with a question")
		return
	}

	q, err := s.pipeline.Ask(r.Context(), sess, req.Question, req.Modify)
	resp := askResponse{SQL: q.SQL, Status: string(q.Status)}
	if err != nil {
		resp.Error = err.Error()
		resp.Code = string(errs.KindOf(err))
		writeJSON(w, statusForKind(errs.KindOf(err)), resp)
		return
	}

	if q.Result != nil {
		resp.Columns = q.Result.Columns
		resp.Rows = q.Result.Rows
	}
	resp.RowsAffected = q.RowsAffected
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) lookupSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.registry.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown session")
		return nil, false
	}
	sess.Touch()
	return sess, true
}

/* ---------- responses ---------- */

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// respondError logs the technical error and maps its taxonomy kind onto an
// HTTP status.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	kind := errs.KindOf(err)
	status := statusForKind(kind)

	logging.FromContext(r.Context()).Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"code", string(kind),
		"error", err.Error(),
	)
	writeJSON(w, status, map[string]string{"error": err.Error(), "code": string(kind)})
}

func statusForKind(kind errs.Kind) int {
	switch kind {
	case errs.Decode:
		return http.StatusBadRequest
	case errs.Validation:
		return http.StatusUnprocessableEntity
	case errs.PoolExhausted:
		return http.StatusServiceUnavailable
	case errs.Extraction, errs.Generation:
		return http.StatusBadGateway
	case errs.Materialization, errs.Execution:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
