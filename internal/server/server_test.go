package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-appraise/internal/appraisal"
	"github.com/ahrav/go-appraise/internal/consensus"
	"github.com/ahrav/go-appraise/internal/domain"
)

type fakeAppraiser struct {
	got    appraisal.Request
	report *consensus.Report
	err    error
}

func (f *fakeAppraiser) Appraise(_ context.Context, req appraisal.Request, _ ...consensus.RunOption) (*consensus.Report, error) {
	f.got = req
	return f.report, f.err
}

const body = `{
	"item": {
		"name": "Art Blocks",
		"token_id": "78000956",
		"token_address": "0xa7d8d9ef8d8ce8992df33d8b8cf4aebabd5bd270",
		"sales_history": [{"price_ethereum": 24.61, "price_usd": 61914.7812, "date": "2025-03-03 17:49:35"}]
	},
	"challenges": 2,
	"holdout": true
}`

func report() *consensus.Report {
	return &consensus.Report{
		RunID: "r",
		Result: domain.ConsensusResult{
			Price:       62000,
			Explanation: "steady",
			Models:      map[string]domain.ModelDetail{"a": {Weight: 1}},
		},
	}
}

func newServer(t *testing.T, svc Appraiser) *Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "llm_requests_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	s, err := New(svc, Config{Gatherer: reg})
	require.NoError(t, err)
	return s
}

func do(s *Server, method, path, payload string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestAppraise_OK(t *testing.T) {
	fake := &fakeAppraiser{report: report()}
	s := newServer(t, fake)

	rec := do(s, http.MethodPost, "/v1/appraisals", body, RequestIDHeader, "req-42")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))

	var resp AppraisalResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.InDelta(t, 62000, resp.Result.Price, 1e-9)
	assert.Equal(t, "steady", resp.Result.Explanation)

	require.NotNil(t, fake.got.Challenges)
	assert.Equal(t, 2, *fake.got.Challenges)
	assert.True(t, fake.got.Holdout)
	assert.Equal(t, "req-42", fake.got.RunID)
	assert.Equal(t, "78000956", fake.got.Item.TokenID)
}

func TestAppraise_Errors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		err     error
		report  *consensus.Report
		want    int
	}{
		{name: "malformed body", payload: `{"item":`, want: http.StatusBadRequest},
		{name: "invalid request", payload: body, err: fmt.Errorf("%w: no item", domain.ErrInvalidRequest), want: http.StatusBadRequest},
		{name: "configuration", payload: body, err: domain.ErrConfiguration, want: http.StatusInternalServerError},
		{name: "timeout with partial report", payload: body, err: context.DeadlineExceeded, report: report(), want: http.StatusGatewayTimeout},
		{name: "unexpected", payload: body, err: errors.New("boom"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newServer(t, &fakeAppraiser{report: tt.report, err: tt.err})
			rec := do(s, http.MethodPost, "/v1/appraisals", tt.payload)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			if tt.report == nil {
				var resp ErrorResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.NotEmpty(t, resp.Error)
				assert.NotEmpty(t, resp.RequestID)
			}
		})
	}
}

func TestHealthAndMetrics(t *testing.T) {
	s := newServer(t, &fakeAppraiser{})

	rec := do(s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = do(s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "llm_requests_total 1")
}

func TestNew_NilAppraiser(t *testing.T) {
	_, err := New(nil, Config{})
	assert.Error(t, err)
}

func TestCORS(t *testing.T) {
	s, err := New(&fakeAppraiser{}, Config{Gatherer: prometheus.NewRegistry(), AllowOrigins: []string{"http://localhost:3000"}})
	require.NoError(t, err)

	rec := do(s, http.MethodOptions, "/v1/appraisals", "",
		"Origin", "http://localhost:3000",
		"Access-Control-Request-Method", http.MethodPost)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}
