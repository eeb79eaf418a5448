package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalPath(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{input: "", want: "/"},
		{input: "/", want: "/"},
		{input: "/wallet/transactions", want: "/wallet/transactions"},
		{input: "/reply-requests/6f1c2a4e-8d0b-4a55-9b1e-0c7d2f3a9e10/start", want: "/reply-requests/:id/start"},
		{input: "/campaigns/42", want: "/campaigns/:id"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, canonicalPath(tc.input), tc.input)
	}
}

func TestRecorderCountsPostings(t *testing.T) {
	before := testutil.ToFloat64(ledgerPostings.WithLabelValues("DEPOSIT"))
	Recorder{}.RecordPosting("DEPOSIT", decimal.NewFromInt(5000))
	assert.Equal(t, before+1, testutil.ToFloat64(ledgerPostings.WithLabelValues("DEPOSIT")))
}

func TestInstrumentHandlerRecordsStatus(t *testing.T) {
	handler := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/health", "418"))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, before+1, testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/health", "418")))
}

func TestHandlerExposesRegistry(t *testing.T) {
	Recorder{}.RecordEscrowTransition("QUEUED")
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "fanpay_escrow_transitions_total"))
}
