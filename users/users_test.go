package users

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomoncle/userhub/database"
	"github.com/tomoncle/userhub/utils"
)

func newTestRouter(t *testing.T) *mux.Router {
	t.Helper()
	utils.ConfigureLogOutput(io.Discard)
	t.Setenv("DATABASE_NAME", "")
	t.Setenv("DB_TYPE", "")

	ctx := context.Background()
	dm, err := database.Open(ctx, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dm.Disconnect() })

	res := NewResource(dm.GetDB())
	require.NoError(t, dm.SyncSchema(ctx, database.NewModelRegistry(res.Models()...), database.SyncOptions{Force: true}))

	router := mux.NewRouter()
	res.Mount(router)
	return router
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeUser(t *testing.T, rec *httptest.ResponseRecorder) User {
	t.Helper()
	var u User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &u))
	return u
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func TestCreateAndGetUser(t *testing.T) {
	router := newTestRouter(t)

	rec := do(t, router, http.MethodPost, "/api/users", `{"name":" Ada ","email":"Ada@Example.com"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeUser(t, rec)
	assert.NotZero(t, created.ID)
	assert.Equal(t, "Ada", created.Name)
	assert.Equal(t, "ada@example.com", created.Email)
	assert.False(t, created.CreatedAt.IsZero())
	assert.Equal(t, "/api/users/1", rec.Header().Get("Location"))
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")

	rec = do(t, router, http.MethodGet, "/api/users/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeUser(t, rec)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, created.Email, got.Email)
}

func TestCreateUserTrailingSlash(t *testing.T) {
	router := newTestRouter(t)

	rec := do(t, router, http.MethodPost, "/api/users/", `{"name":"Grace","email":"grace@example.com"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/users/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateUserValidation(t *testing.T) {
	router := newTestRouter(t)

	cases := []struct {
		name string
		body string
		want string
	}{
		{"missing name", `{"email":"a@example.com"}`, "name is required"},
		{"blank name", `{"name":"   ","email":"a@example.com"}`, "name is required"},
		{"bad email", `{"name":"a","email":"not-an-email"}`, "email must be a valid email address"},
		{"long name", `{"name":"` + strings.Repeat("x", 256) + `","email":"a@example.com"}`, "name must be at most 255 characters"},
		{"unknown field", `{"name":"a","email":"a@example.com","role":"admin"}`, "unknown field"},
		{"malformed", `{"name":`, "invalid request body"},
		{"trailing data", `{"name":"a","email":"a@example.com"}{}`, "single JSON object"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, router, http.MethodPost, "/api/users", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, errorMessage(t, rec), tc.want)
		})
	}
}

func TestCreateUserRequiresJSON(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/users", strings.NewReader("name=a"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestCreateDuplicateEmail(t *testing.T) {
	router := newTestRouter(t)

	rec := do(t, router, http.MethodPost, "/api/users", `{"name":"a","email":"dup@example.com"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/users", `{"name":"b","email":"DUP@example.com"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "email is already registered", errorMessage(t, rec))
}

func TestUpdateUser(t *testing.T) {
	router := newTestRouter(t)

	rec := do(t, router, http.MethodPost, "/api/users", `{"name":"a","email":"a@example.com"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeUser(t, rec)

	rec = do(t, router, http.MethodPut, "/api/users/1", `{"name":"renamed","email":"b@example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decodeUser(t, rec)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, "renamed", updated.Name)
	assert.Equal(t, "b@example.com", updated.Email)
	assert.False(t, updated.UpdatedAt.Before(created.UpdatedAt))

	rec = do(t, router, http.MethodPut, "/api/users/99", `{"name":"x","email":"x@example.com"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, http.MethodPut, "/api/users/1", `{"name":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Taking another user's email conflicts and leaves both rows unchanged.
	rec = do(t, router, http.MethodPost, "/api/users", `{"name":"c","email":"c@example.com"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = do(t, router, http.MethodPut, "/api/users/2", `{"name":"c","email":"B@example.com"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "email is already registered", errorMessage(t, rec))

	rec = do(t, router, http.MethodGet, "/api/users/2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "c@example.com", decodeUser(t, rec).Email)
}

func TestDeleteUser(t *testing.T) {
	router := newTestRouter(t)

	rec := do(t, router, http.MethodPost, "/api/users", `{"name":"a","email":"a@example.com"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, router, http.MethodDelete, "/api/users/1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = do(t, router, http.MethodDelete, "/api/users/1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/users/1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "user not found", errorMessage(t, rec))
}

func TestListUsers(t *testing.T) {
	router := newTestRouter(t)

	for _, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		rec := do(t, router, http.MethodPost, "/api/users", `{"name":"n","email":"`+email+`"}`)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	var page struct {
		Page     int    `json:"page"`
		PageSize int    `json:"pageSize"`
		Total    int    `json:"total"`
		Items    []User `json:"items"`
	}

	rec := do(t, router, http.MethodGet, "/api/users?page=2&pageSize=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 2, page.PageSize)
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "c@example.com", page.Items[0].Email)

	rec = do(t, router, http.MethodGet, "/api/users?email=B@example.com", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 1, page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "b@example.com", page.Items[0].Email)
}

func TestListUsersEmpty(t *testing.T) {
	router := newTestRouter(t)

	rec := do(t, router, http.MethodGet, "/api/users", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"page":1,"pageSize":10,"total":0,"items":[]}`, rec.Body.String())
}
