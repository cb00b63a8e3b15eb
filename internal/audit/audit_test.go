package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"push-dispatch/internal/common/logger"
	"push-dispatch/internal/models"
)

func newTestRecorder(t *testing.T, handler http.HandlerFunc) *Recorder {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{server.URL}})
	require.NoError(t, err)
	return NewRecorder(client, "deliveries-test", logger.NewNoOpLogger())
}

func TestRecordDeliveryIndexesSummary(t *testing.T) {
	var gotPath string
	var gotDoc deliveryDocument

	recorder := newTestRecorder(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotDoc))
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"result":"created"}`))
	})

	recorder.RecordDelivery(context.Background(), models.JobSummary{
		JobID:             "job-9",
		Locale:            "es",
		TotalTokens:       120,
		SuccessfulBatches: 2,
		InvalidTokenCount: 3,
	})

	assert.Equal(t, "/deliveries-test/_doc/job-9", gotPath)
	assert.Equal(t, "job-9", gotDoc.JobID)
	assert.Equal(t, 120, gotDoc.TotalTokens)
	assert.False(t, gotDoc.RecordedAt.IsZero())
}

func TestRecordDeliverySwallowsServerError(t *testing.T) {
	recorder := newTestRecorder(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"boom"}`))
	})

	// Must not panic or propagate anything.
	recorder.RecordDelivery(context.Background(), models.JobSummary{JobID: "job-1"})
}
