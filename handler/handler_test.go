package handler_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevemurr/shopping-list-server/handler"
	"github.com/stevemurr/shopping-list-server/schema"
	"github.com/stevemurr/shopping-list-server/store"
)

func setup(t *testing.T, mutate ...func(*store.Options)) (*httptest.Server, *store.DocumentStore) {
	t.Helper()
	opts := store.DefaultOptions()
	for _, m := range mutate {
		m(&opts)
	}
	s, err := store.NewDocumentStore(store.NewMemoryBackend(nil), opts)
	require.NoError(t, err)
	ts := httptest.NewServer(handler.New(s))
	t.Cleanup(ts.Close)
	return ts, s
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, r)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var v map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func decodeJSONArray(t *testing.T, resp *http.Response) []map[string]any {
	t.Helper()
	var v []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestRootAndHealth(t *testing.T) {
	ts, _ := setup(t)

	resp := do(t, http.MethodGet, ts.URL+"/", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Shopping List API is running!", decodeJSON(t, resp)["message"])

	resp = do(t, http.MethodGet, ts.URL+"/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", decodeJSON(t, resp)["status"])

	resp = do(t, http.MethodGet, ts.URL+"/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListLifecycle(t *testing.T) {
	ts, _ := setup(t)

	// POST /lists
	resp := do(t, http.MethodPost, ts.URL+"/lists", `{"name":"Groceries"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var list map[string]any
	require.NoError(t, json.Unmarshal(raw, &list))
	id, _ := list["id"].(string)
	require.Len(t, id, 8)
	assert.Contains(t, list, "shareCode")
	assert.Nil(t, list["shareCode"])
	assert.Equal(t, "Groceries", list["name"])
	assert.True(t, bytes.HasPrefix(raw, []byte(`{"id":"`+id+`","shareCode":null,"name":"Groceries"}`)))

	// GET /lists includes it
	resp = do(t, http.MethodGet, ts.URL+"/lists", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	lists := decodeJSONArray(t, resp)
	require.Len(t, lists, 1)
	assert.Equal(t, id, lists[0]["id"])

	// GET /lists/{id}
	resp = do(t, http.MethodGet, ts.URL+"/lists/"+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Groceries", decodeJSON(t, resp)["name"])

	// items of this list and of another one
	for _, body := range []string{
		`{"listId":"` + id + `","name":"Milk"}`,
		`{"listId":"` + id + `","name":"Bread"}`,
		`{"listId":"other","name":"Nails"}`,
	} {
		resp = do(t, http.MethodPost, ts.URL+"/items", body)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		item := decodeJSON(t, resp)
		assert.Equal(t, false, item["purchased"])
		assert.IsType(t, float64(0), item["createdAt"])
	}

	resp = do(t, http.MethodGet, ts.URL+"/items?listId="+id, "")
	items := decodeJSONArray(t, resp)
	require.Len(t, items, 2)
	assert.Equal(t, "Milk", items[0]["name"])
	assert.Equal(t, "Bread", items[1]["name"])

	// DELETE /lists/{id} cascades
	resp = do(t, http.MethodDelete, ts.URL+"/lists/"+id, "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Empty(t, body)

	resp = do(t, http.MethodGet, ts.URL+"/lists", "")
	assert.Empty(t, decodeJSONArray(t, resp))
	resp = do(t, http.MethodGet, ts.URL+"/items", "")
	items = decodeJSONArray(t, resp)
	require.Len(t, items, 1)
	assert.Equal(t, "Nails", items[0]["name"])
}

func TestUpdateMergesForPutAndPatch(t *testing.T) {
	ts, s := setup(t)
	u, err := s.Insert(store.Users, store.EntityFromMap(map[string]any{"email": "a@b.c", "name": "Ann"}))
	require.NoError(t, err)

	resp := do(t, http.MethodPut, ts.URL+"/users/"+u.ID(), `{"a":1}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = do(t, http.MethodPatch, ts.URL+"/users/"+u.ID(), `{"b":2}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got := decodeJSON(t, resp)
	assert.Equal(t, float64(1), got["a"])
	assert.Equal(t, float64(2), got["b"])
	assert.Equal(t, "a@b.c", got["email"])
	assert.Equal(t, "Ann", got["name"])
}

func TestNotFound(t *testing.T) {
	ts, _ := setup(t)

	tests := []struct {
		method, path, body, msg string
	}{
		{http.MethodPut, "/users/nope", `{"a":1}`, "User not found"},
		{http.MethodPatch, "/lists/nope", `{"a":1}`, "List not found"},
		{http.MethodDelete, "/items/nope", "", "Item not found"},
		{http.MethodDelete, "/lists/nope", "", "List not found"},
		{http.MethodGet, "/users/nope", "", "User not found"},
	}
	for _, tc := range tests {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			resp := do(t, tc.method, ts.URL+tc.path, tc.body)
			require.Equal(t, http.StatusNotFound, resp.StatusCode)
			assert.Equal(t, map[string]any{"error": tc.msg}, decodeJSON(t, resp))
		})
	}
}

func TestFilters(t *testing.T) {
	ts, s := setup(t)
	for _, email := range []string{"a@b.c", "x@y.z", "a@b.c"} {
		_, err := s.Insert(store.Users, store.EntityFromMap(map[string]any{"email": email}))
		require.NoError(t, err)
	}
	_, err := s.Insert(store.Lists, store.EntityFromMap(map[string]any{"userId": "u1"}))
	require.NoError(t, err)

	resp := do(t, http.MethodGet, ts.URL+"/users?email=a@b.c", "")
	assert.Len(t, decodeJSONArray(t, resp), 2)

	resp = do(t, http.MethodGet, ts.URL+"/users?email=A@b.c", "")
	assert.Empty(t, decodeJSONArray(t, resp))

	resp = do(t, http.MethodGet, ts.URL+"/lists?userId=u1", "")
	assert.Len(t, decodeJSONArray(t, resp), 1)

	resp = do(t, http.MethodGet, ts.URL+"/items?listId=none", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "[]\n", string(raw))
}

func TestCreateBodies(t *testing.T) {
	ts, _ := setup(t)

	resp := do(t, http.MethodPost, ts.URL+"/users", "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Len(t, decodeJSON(t, resp), 1)

	resp = do(t, http.MethodPost, ts.URL+"/users", `{"id":"mine","email":"a@b.c"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "mine", decodeJSON(t, resp)["id"])

	for _, body := range []string{`{bad`, `[1,2]`, `"text"`} {
		resp = do(t, http.MethodPost, ts.URL+"/users", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
}

func TestValidationRejects(t *testing.T) {
	ts, _ := setup(t, func(o *store.Options) {
		o.Validator = schema.NewRegistry(nil)
	})

	resp := do(t, http.MethodPost, ts.URL+"/items", `{"listId":"l1","purchased":"yes"}`)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, decodeJSON(t, resp)["error"], "purchased")

	resp = do(t, http.MethodPost, ts.URL+"/items", `{"listId":"l1"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestDumpDocument(t *testing.T) {
	ts, s := setup(t)
	_, err := s.Insert(store.Users, nil)
	require.NoError(t, err)

	resp := do(t, http.MethodGet, ts.URL+"/db", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	doc := decodeJSON(t, resp)
	assert.Len(t, doc["users"], 1)
	assert.Equal(t, []any{}, doc["lists"])
	assert.Equal(t, []any{}, doc["items"])
}

type brokenBackend struct{ store.Backend }

func (brokenBackend) Save(*store.Document) error { return errors.New("permission denied") }

func TestPersistenceFailureIsServerError(t *testing.T) {
	s, err := store.NewDocumentStore(brokenBackend{store.NewMemoryBackend(nil)}, store.DefaultOptions())
	require.NoError(t, err)
	ts := httptest.NewServer(handler.New(s))
	defer ts.Close()

	resp := do(t, http.MethodPost, ts.URL+"/lists", `{"name":"x"}`)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "failed to save data", decodeJSON(t, resp)["error"])

	resp = do(t, http.MethodGet, ts.URL+"/lists", "")
	assert.Empty(t, decodeJSONArray(t, resp))
}

func TestBodyLimit(t *testing.T) {
	s, err := store.NewDocumentStore(store.NewMemoryBackend(nil), store.DefaultOptions())
	require.NoError(t, err)
	h := handler.New(s)

	big := `{"name":"` + strings.Repeat("x", handler.MaxBodyBytes) + `"}`
	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodPost, "/items", strings.NewReader(big)),
		httptest.NewRequest(http.MethodPatch, "/items/missing", strings.NewReader(big)),
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code, req.Method)
	}
	assert.Empty(t, s.Snapshot().Items)

	fits := `{"name":"` + strings.Repeat("x", handler.MaxBodyBytes-20) + `"}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/items", strings.NewReader(fits)))
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestMethodsFollowRoutes(t *testing.T) {
	s, err := store.NewDocumentStore(store.NewMemoryBackend(nil), store.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}, handler.New(s).Methods())
}

func TestResponsesDoNotEscapeHTML(t *testing.T) {
	ts, _ := setup(t)

	resp := do(t, http.MethodPost, ts.URL+"/items", `{"name":"<a&b>"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"name":"<a&b>"`)

	resp = do(t, http.MethodGet, ts.URL+"/db", "")
	body, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"name":"<a&b>"`)
}
