package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vyrodovalexey/avaguard/internal/observability"
)

func TestRecovery(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		handler        http.HandlerFunc
		expectedStatus int
		expectedBody   string
		shouldPanic    bool
	}{
		{
			name: "no panic",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte(`{"status":"ok"}`))
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `{"status":"ok"}`,
		},
		{
			name: "panic with string",
			handler: func(http.ResponseWriter, *http.Request) {
				panic("boom")
			},
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   ErrInternalServerError,
			shouldPanic:    true,
		},
		{
			name: "panic with error",
			handler: func(http.ResponseWriter, *http.Request) {
				panic(assert.AnError)
			},
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   ErrInternalServerError,
			shouldPanic:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			core, logs := observer.New(zap.ErrorLevel)
			metrics := NewMetrics("test", prometheus.NewRegistry())

			handler := Recovery(observability.NewZapLogger(zap.New(core)), metrics)(tt.handler)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

			assert.Equal(t, tt.expectedStatus, rec.Code)
			assert.Equal(t, tt.expectedBody, rec.Body.String())

			if tt.shouldPanic {
				assert.Equal(t, ContentTypeJSON, rec.Header().Get(HeaderContentType))
				require.Equal(t, 1, logs.Len())
				entry := logs.All()[0]
				assert.Equal(t, "panic recovered", entry.Message)
				assert.Equal(t, "/boom", entry.ContextMap()["path"])
				assert.NotEmpty(t, entry.ContextMap()["stack"])
				assert.InDelta(t, 1, testutil.ToFloat64(metrics.panicsRecovered), 0)
			} else {
				assert.Zero(t, logs.Len())
				assert.InDelta(t, 0, testutil.ToFloat64(metrics.panicsRecovered), 0)
			}
		})
	}
}

func TestRecovery_ReraisesAbortHandler(t *testing.T) {
	t.Parallel()

	handler := Recovery(nil, nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}
