package web

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/blacksamuraiiii/xiyan-web/internal/capability"
	"github.com/blacksamuraiiii/xiyan-web/internal/config"
	"github.com/blacksamuraiiii/xiyan-web/internal/decode"
	"github.com/blacksamuraiiii/xiyan-web/internal/ingest"
	"github.com/blacksamuraiiii/xiyan-web/internal/materialize"
	"github.com/blacksamuraiiii/xiyan-web/internal/query"
	"github.com/blacksamuraiiii/xiyan-web/internal/session"
	"github.com/blacksamuraiiii/xiyan-web/internal/store"
	"github.com/blacksamuraiiii/xiyan-web/internal/store/sqlite"
)

type cannedGenerator struct{ sql string }

func (g *cannedGenerator) GenerateSQL(ctx context.Context, req capability.GenerateRequest) (string, error) {
	return g.sql, nil
}

func newTestServer(t *testing.T, gen capability.SQLGenerator) *Server {
	t.Helper()
	ctx := context.Background()

	st, err := sqlite.New(ctx, store.Config{Kind: "sqlite", DSN: "file:" + t.Name() + "?mode=memory&cache=shared"})
	if err != nil {
		t.Fatalf("sqlite.New: %v", err)
	}
	pool := session.NewPool(st, 2, time.Second)
	reg := session.NewRegistry(pool, time.Hour, nil)

	cfg := config.Config{}
	cfg.Import.MaxFileSize = 1 << 20

	im := &ingest.Importer{Decoder: &decode.Decoder{}, Materializer: &materialize.Materializer{}}
	return NewServer(cfg, reg, im, &query.Pipeline{Generator: gen})
}

func doJSON(t *testing.T, h http.Handler, method, path string, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var rdr *strings.Reader
	if body == "" {
		rdr = strings.NewReader("")
	} else {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("bad JSON response (%d): %s", rec.Code, rec.Body.String())
		}
	}
	return rec, out
}

func connect(t *testing.T, h http.Handler) string {
	t.Helper()
	rec, out := doJSON(t, h, http.MethodPost, "/api/sessions", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("connect status = %d: %s", rec.Code, rec.Body.String())
	}
	id, _ := out["session_id"].(string)
	if id == "" {
		t.Fatal("no session_id in response")
	}
	return id
}

func uploadCSV(t *testing.T, h http.Handler, sessionID, filename, content string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := fw.Write([]byte(content)); err != nil {
		t.Fatalf("write form: %v", err)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/sessions/"+sessionID+"/files", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAPI_UploadThenAsk(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, &cannedGenerator{sql: "SELECT city FROM people ORDER BY city"})
	h := srv.Handler()

	id := connect(t, h)

	rec := uploadCSV(t, h, id, "People.csv", "name,city\nalice,oslo\nbob,bergen\n")
	if rec.Code != http.StatusOK {
		t.Fatalf("upload status = %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"name":"people"`) {
		t.Fatalf("upload response: %s", rec.Body.String())
	}

	rec2, tables := doJSON(t, h, http.MethodGet, "/api/sessions/"+id+"/tables", "")
	if rec2.Code != http.StatusOK {
		t.Fatalf("tables status = %d", rec2.Code)
	}
	list, _ := tables["tables"].([]any)
	if len(list) != 1 {
		t.Fatalf("tables = %v", tables)
	}

	rec3, ans := doJSON(t, h, http.MethodPost, "/api/sessions/"+id+"/queries", `{"question":"which cities?"}`)
	if rec3.Code != http.StatusOK {
		t.Fatalf("ask status = %d: %s", rec3.Code, rec3.Body.String())
	}
	rows, _ := ans["rows"].([]any)
	if len(rows) != 2 {
		t.Fatalf("rows = %v", ans)
	}
	if ans["status"] != "succeeded" {
		t.Fatalf("status = %v", ans["status"])
	}
}

func TestAPI_RejectedSQLReturns422(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, &cannedGenerator{sql: "SELECT 1; SELECT 2"})
	h := srv.Handler()

	id := connect(t, h)
	if rec := uploadCSV(t, h, id, "t.csv", "a\n1\n"); rec.Code != http.StatusOK {
		t.Fatalf("upload status = %d", rec.Code)
	}

	rec, out := doJSON(t, h, http.MethodPost, "/api/sessions/"+id+"/queries", `{"question":"anything"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if out["code"] != "validation_error" {
		t.Fatalf("code = %v", out["code"])
	}
}

func TestAPI_UnknownSessionIs404(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, &cannedGenerator{sql: "SELECT 1"})
	h := srv.Handler()

	rec, _ := doJSON(t, h, http.MethodGet, "/api/sessions/nope/tables", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestAPI_DisconnectDropsSession(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, &cannedGenerator{sql: "SELECT 1"})
	h := srv.Handler()

	id := connect(t, h)
	rec, _ := doJSON(t, h, http.MethodDelete, "/api/sessions/"+id, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("disconnect status = %d", rec.Code)
	}
	rec2, _ := doJSON(t, h, http.MethodGet, "/api/sessions/"+id+"/tables", "")
	if rec2.Code != http.StatusNotFound {
		t.Fatalf("status after disconnect = %d", rec2.Code)
	}
}

func TestAPI_BadFileReportsPerFileError(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, &cannedGenerator{sql: "SELECT 1"})
	h := srv.Handler()

	id := connect(t, h)
	rec := uploadCSV(t, h, id, "empty.csv", "\n\n")
	if rec.Code != http.StatusOK {
		t.Fatalf("upload status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "decode_error") {
		t.Fatalf("missing decode error code: %s", rec.Body.String())
	}
}
