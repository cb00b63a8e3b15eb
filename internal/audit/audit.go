package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"push-dispatch/internal/common/logger"
	"push-dispatch/internal/models"
)

const defaultIndex = "push-deliveries"

// deliveryDocument is the indexed shape of one job's delivery summary.
type deliveryDocument struct {
	models.JobSummary
	RecordedAt time.Time `json:"recordedAt"`
}

// Recorder indexes delivery summaries into Elasticsearch. Indexing is
// best-effort: a failure is logged and dropped, it never feeds back into
// job processing.
type Recorder struct {
	client *elasticsearch.Client
	index  string
	logger logger.Logger
}

func NewRecorder(client *elasticsearch.Client, index string, log logger.Logger) *Recorder {
	if index == "" {
		index = defaultIndex
	}
	return &Recorder{
		client: client,
		index:  index,
		logger: log.WithFields(map[string]interface{}{"component": "audit"}),
	}
}

func (r *Recorder) RecordDelivery(ctx context.Context, summary models.JobSummary) {
	doc := deliveryDocument{
		JobSummary: summary,
		RecordedAt: time.Now().UTC(),
	}

	body, err := json.Marshal(doc)
	if err != nil {
		r.logger.WithError(err).Error("marshal delivery document", map[string]interface{}{
			"jobId": summary.JobID,
		})
		return
	}

	req := esapi.IndexRequest{
		Index:      r.index,
		DocumentID: summary.JobID,
		Body:       bytes.NewReader(body),
	}
	res, err := req.Do(ctx, r.client)
	if err != nil {
		r.logger.WithError(err).Error("index delivery document", map[string]interface{}{
			"jobId": summary.JobID,
			"index": r.index,
		})
		return
	}
	defer res.Body.Close()

	if res.IsError() {
		r.logger.WithError(fmt.Errorf("elasticsearch responded %s", res.Status())).Error(
			"index delivery document", map[string]interface{}{
				"jobId": summary.JobID,
				"index": r.index,
			})
		return
	}

	r.logger.Debug("delivery recorded", map[string]interface{}{
		"jobId": summary.JobID,
		"index": r.index,
	})
}
