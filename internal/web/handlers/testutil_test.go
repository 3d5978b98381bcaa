package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/kozaktomas/tether/internal/database"
	"github.com/kozaktomas/tether/internal/database/memory"
	"github.com/kozaktomas/tether/internal/imagestore"
	"github.com/kozaktomas/tether/internal/reconcile"
)

// stubEmbedder maps image bytes to embeddings.
type stubEmbedder map[string][]float32

func (s stubEmbedder) ExtractEmbedding(_ context.Context, img []byte) ([]float32, error) {
	return s[string(img)], nil
}

type testEnv struct {
	engine   *reconcile.Engine
	store    *memory.Store
	embedder stubEmbedder
	reports  *ReportsHandler
	matches  *MatchesHandler
	children *ChildrenHandler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger, _ := test.NewNullLogger()
	store := memory.New()
	embedder := stubEmbedder{}
	engine, err := reconcile.New(reconcile.Options{
		Store:    store,
		Embedder: embedder,
		Images:   imagestore.NewMemory(),
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("reconcile.New: %v", err)
	}
	return &testEnv{
		engine:   engine,
		store:    store,
		embedder: embedder,
		reports:  NewReportsHandler(engine, logger),
		matches:  NewMatchesHandler(engine, logger),
		children: NewChildrenHandler(engine, logger),
	}
}

// photo returns a distinct PNG and registers its embedding.
func (env *testEnv) photo(t *testing.T, shade uint8, x float32) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 2, 2))
	for i := range img.Pix {
		img.Pix[i] = shade
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	emb := make([]float32, database.FaceEmbeddingDim)
	emb[0] = x
	env.embedder[buf.String()] = emb
	return buf.Bytes()
}

func parentForm() map[string]string {
	return map[string]string{
		"role":            "parent",
		"reporter_name":   "Jana Nováková",
		"reporter_email":  "jana@example.com",
		"reporter_phone":  "+420600111222",
		"child_name":      "Eliška",
		"child_age":       "6",
		"skin_complexion": "fair",
		"city":            "Brno",
		"birthmarks":      `["mole on cheek"]`,
	}
}

func volunteerForm() map[string]string {
	return map[string]string{
		"role":           "volunteer",
		"reporter_name":  "Petr",
		"reporter_phone": "+420600333444",
		"city":           "Olomouc",
		"address":        "Hlavní 5",
		"birthmarks":     `["Mole on cheek", "scar"]`,
	}
}

// multipartRequest builds a POST /reports request.
func multipartRequest(t *testing.T, fields map[string]string, file []byte) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			t.Fatalf("failed to write field: %v", err)
		}
	}
	if file != nil {
		part, err := writer.CreateFormFile("file", "photo.png")
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		part.Write(file)
	}
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reports", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func idRequest(method, path, id string) *http.Request {
	return requestWithChiParams(httptest.NewRequest(method, path, nil), map[string]string{"id": id})
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode %q: %v", rec.Body.String(), err)
	}
	return out
}

// submit posts a report and returns its ID.
func (env *testEnv) submit(t *testing.T, fields map[string]string, file []byte) map[string]any {
	t.Helper()
	rec := httptest.NewRecorder()
	env.reports.Create(rec, multipartRequest(t, fields, file))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	return decode(t, rec)
}
