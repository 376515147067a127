package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/strata/pkg/adapters/memory"
	"github.com/aretw0/strata/pkg/domain"
	"github.com/aretw0/strata/pkg/observability"
	"github.com/aretw0/strata/pkg/workflow"
)

func newTestHandler(t *testing.T) (http.Handler, *observability.Metrics) {
	t.Helper()
	loader, err := memory.NewLoader(nil, workflow.Description{
		Name:    "Order",
		Version: 2,
		Activities: []workflow.ActivityDef{
			{ID: 0, Name: "Draft"},
			{ID: 1, Name: "Ship"},
		},
		Edges: []workflow.EdgeDef{{Source: 0, Target: 1}},
	})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	return NewHandler(&Server{Loader: loader, Gatherer: reg, Version: "1.2.3"}), metrics
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, path, nil)
	require.NoError(t, err)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestGetHealth(t *testing.T) {
	handler, _ := newTestHandler(t)
	rr := get(t, handler, "/health")

	assert.Equal(t, http.StatusOK, rr.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestGetInfo(t *testing.T) {
	handler, _ := newTestHandler(t)
	rr := get(t, handler, "/info")

	assert.Equal(t, http.StatusOK, rr.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "strata", resp["app"])
	assert.Equal(t, "1.2.3", resp["version"])
}

func TestWorkflows(t *testing.T) {
	handler, _ := newTestHandler(t)

	rr := get(t, handler, "/workflows/")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `["Order"]`, rr.Body.String())

	rr = get(t, handler, "/workflows/Order")
	assert.Equal(t, http.StatusOK, rr.Code)
	var desc workflow.Description
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &desc))
	assert.Equal(t, 2, desc.Version)
	assert.Len(t, desc.Activities, 2)

	rr = get(t, handler, "/workflows/Order/graph")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.HasPrefix(rr.Body.String(), "graph TD"))
	assert.Contains(t, rr.Body.String(), "am1_0 --> am1_1")

	rr = get(t, handler, "/workflows/Missing")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestMetrics(t *testing.T) {
	handler, metrics := newTestHandler(t)
	metrics.ObserveTransition("Review", 1, nil)

	rr := get(t, handler, "/metrics")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `strata_transitions_total{machine="Review",result="ok",transition="1"} 1`)
}

func TestSubscribeEvents_Unwatchable(t *testing.T) {
	handler, _ := newTestHandler(t)
	rr := get(t, handler, "/events")
	assert.Equal(t, http.StatusNotImplemented, rr.Code)
}

type watchingLoader struct {
	*memory.Loader
	ch chan string
}

func (w watchingLoader) Watch(ctx context.Context) (<-chan string, error) {
	return w.ch, nil
}

func TestSubscribeEvents_Streams(t *testing.T) {
	loader, err := memory.NewLoader(nil)
	require.NoError(t, err)
	ch := make(chan string, 1)
	ch <- "order.yaml"
	close(ch)

	handler := NewHandler(&Server{Loader: watchingLoader{Loader: loader, ch: ch}})
	rr := get(t, handler, "/events")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/event-stream", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Body.String(), "data: connected")
	assert.Contains(t, rr.Body.String(), "data: order.yaml")
}

type historyStub map[domain.ItemID][]domain.Event

func (h historyStub) Events(_ context.Context, item domain.ItemID, _ domain.TransactionKey) ([]domain.Event, error) {
	evs, ok := h[item]
	if !ok {
		return nil, domain.NotFound("item", string(item))
	}
	return evs, nil
}

func TestGetItemEvents(t *testing.T) {
	handler := NewHandler(&Server{Items: historyStub{
		"i1":    {{ID: 0, ItemID: "i1", StepPath: "workflow/Draft", TargetState: 1}},
		"fresh": nil,
	}})

	rr := get(t, handler, "/items/i1/events")
	assert.Equal(t, http.StatusOK, rr.Code)
	var events []domain.Event
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, "workflow/Draft", events[0].StepPath)

	rr = get(t, handler, "/items/fresh/events")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())

	rr = get(t, handler, "/items/missing/events")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestGetItemEvents_NoKernel(t *testing.T) {
	handler, _ := newTestHandler(t)
	rr := get(t, handler, "/items/i1/events")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
