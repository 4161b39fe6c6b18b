package api_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/carmarket/api/internal/auth"
	"github.com/carmarket/api/internal/handlers/api"
	"github.com/carmarket/api/internal/middleware"
	"github.com/carmarket/api/internal/services/car"
	"github.com/carmarket/api/internal/services/images"
	"github.com/carmarket/api/internal/services/part"
	"github.com/carmarket/api/internal/services/photos"
	"github.com/carmarket/api/internal/testutil"
)

var testDB *testutil.TestDB

var jwtMgr = auth.NewJWTManager("handler-test-secret-0123456789abcdef", time.Hour)

func TestMain(m *testing.M) {
	var code int
	defer func() { os.Exit(code) }()

	database, err := testutil.SetupTestDB()
	if err != nil {
		log.Fatalf("setting up test database: %v", err)
	}
	defer database.Close()
	testDB = database

	code = m.Run()
}

// testMaxBytes is the per-file upload limit of the test image service.
const testMaxBytes = 1 << 20

type env struct {
	handler http.Handler
	store   *testutil.MemStorage
}

func passThrough(next http.Handler) http.Handler { return next }

// newEnv wires every API handler against the test database and an
// in-memory store, with real bearer-token middleware.
func newEnv(t *testing.T) *env {
	t.Helper()

	store := testutil.NewMemStorage()
	reaper := photos.NewReaper(store, nil)
	authSvc := auth.NewService(testDB.Pool, jwtMgr, "carmarket-test", nil)
	protect := middleware.RequireAdmin(jwtMgr)

	mux := http.NewServeMux()
	api.NewHealthHandler(testDB.Pool, nil).RegisterRoutes(mux)
	api.NewAuthHandler(authSvc, nil).RegisterRoutes(mux, api.Guards{
		Admin:    protect,
		Optional: middleware.OptionalAdmin(jwtMgr),
		Throttle: passThrough,
	})
	api.NewAdminHandler(authSvc, nil).RegisterRoutes(mux, protect)
	api.NewCarHandler(car.NewService(testDB.Pool, reaper, nil), nil).RegisterRoutes(mux, protect)
	api.NewPartHandler(part.NewService(testDB.Pool, reaper, nil), nil).RegisterRoutes(mux, protect)
	imageSvc := images.NewService(store, images.Config{MaxBytes: testMaxBytes}, nil)
	api.NewImageHandler(imageSvc, testMaxBytes, nil).RegisterRoutes(mux, protect)

	return &env{handler: mux, store: store}
}

func tokenFor(t *testing.T, a testutil.Admin) string {
	t.Helper()
	token, err := jwtMgr.Generate(&auth.Admin{ID: a.ID, Email: a.Email, Role: a.Role})
	if err != nil {
		t.Fatalf("generating token: %v", err)
	}
	return token
}

// do sends a request with an optional JSON body and bearer token.
func (e *env) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encoding body: %v", err)
		}
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response %d: %v", rr.Code, err)
	}
	return v
}
