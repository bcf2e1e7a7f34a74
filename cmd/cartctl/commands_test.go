package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type backend struct {
	m     sync.Mutex
	qty   int
	calls []string
}

func startBackend(t *testing.T, qty int) *backend {
	t.Helper()
	b := &backend{qty: qty}

	r := chi.NewRouter()
	r.Get("/api/v1/carrito/{cart_id}", func(w http.ResponseWriter, r *http.Request) {
		b.m.Lock()
		defer b.m.Unlock()
		lines := []map[string]any{}
		if b.qty > 0 {
			lines = append(lines, map[string]any{
				"id_producto": 1, "nombre_producto": "Taza", "precio_producto": "2.50",
				"stock_producto": 3, "cantidad": b.qty,
			})
		}
		_ = json.NewEncoder(w).Encode(lines)
	})
	r.Get("/api/v1/producto/{product_id}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id_producto":1,"nombre_producto":"Taza","precio_producto":"2.50","stock_producto":3}`))
	})
	mutate := func(w http.ResponseWriter, r *http.Request) {
		b.m.Lock()
		defer b.m.Unlock()
		b.calls = append(b.calls, r.Method+" "+chi.URLParam(r, "cart_id")+"/"+chi.URLParam(r, "product_id"))
		w.WriteHeader(http.StatusOK)
	}
	r.Post("/api/v1/aniade/{cart_id}/{product_id}", mutate)
	r.Patch("/api/v1/aniade/{cart_id}/{product_id}", mutate)
	r.Delete("/api/v1/carrito/producto/{cart_id}/{product_id}", mutate)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	t.Setenv("REMOTE_BASE_URL", srv.URL)
	return b
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestShow(t *testing.T) {
	startBackend(t, 2)

	out, err := execute(t, "show", "--cart", "c1")
	require.NoError(t, err)
	assert.Contains(t, out, "cart c1")
	assert.Contains(t, out, "Taza")
	assert.Contains(t, out, "items: 2")
	assert.Contains(t, out, "5.00")
}

func TestAdd(t *testing.T) {
	b := startBackend(t, 0)

	out, err := execute(t, "add", "1", "2", "--cart", "c1")
	require.NoError(t, err)
	assert.Contains(t, out, "status: confirmed")
	assert.Contains(t, out, "items: 2")
	assert.Equal(t, []string{"POST c1/1"}, b.calls)
}

func TestQty_CeilingIgnored(t *testing.T) {
	b := startBackend(t, 3)

	out, err := execute(t, "qty", "1", "1", "--cart", "c1")
	require.NoError(t, err)
	assert.Contains(t, out, "status: ignored")
	assert.Empty(t, b.calls)
}

func TestQty_DecrementToRemoval(t *testing.T) {
	b := startBackend(t, 1)

	out, err := execute(t, "qty", "--cart", "c1", "--", "1", "-1")
	require.NoError(t, err)
	assert.Contains(t, out, "items: 0")
	assert.Equal(t, []string{"DELETE c1/1"}, b.calls)
}

func TestRm(t *testing.T) {
	b := startBackend(t, 2)

	_, err := execute(t, "rm", "1", "--cart", "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"DELETE c1/1"}, b.calls)
}

func TestArgumentErrors(t *testing.T) {
	startBackend(t, 0)

	_, err := execute(t, "show")
	assert.ErrorContains(t, err, "one of --cart or --session is required")

	_, err = execute(t, "rm", "abc", "--cart", "c1")
	assert.ErrorContains(t, err, "invalid product id")

	_, err = execute(t, "add", "1", "x", "--cart", "c1")
	assert.ErrorContains(t, err, "invalid quantity")
}
