package nats

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kirillkom/filings-rag/internal/core/domain"
)

type retrievalEventMessage struct {
	Question        string   `json:"question"`
	Ticker          string   `json:"ticker,omitempty"`
	FormType        string   `json:"form_type,omitempty"`
	Section         string   `json:"section,omitempty"`
	Expanded        bool     `json:"expanded"`
	QueriesExecuted int      `json:"queries_executed"`
	FailedQueries   int      `json:"failed_queries"`
	Strategies      []string `json:"strategies,omitempty"`
	ResultCount     int      `json:"result_count"`
	TopChunkIDs     []string `json:"top_chunk_ids,omitempty"`
	Status          string   `json:"status,omitempty"`
	DurationMS      float64  `json:"duration_ms"`
	Error           string   `json:"error,omitempty"`
	CompletedAt     string   `json:"completed_at"`
}

func encodeRetrievalEvent(event domain.RetrievalEvent) ([]byte, error) {
	strategies := make([]string, 0, len(event.Strategies))
	for _, s := range event.Strategies {
		strategies = append(strategies, string(s))
	}
	return json.Marshal(retrievalEventMessage{
		Question:        event.Question,
		Ticker:          event.Filter.Ticker,
		FormType:        string(event.Filter.FormType),
		Section:         event.Filter.Section,
		Expanded:        event.Expanded,
		QueriesExecuted: event.QueriesExecuted,
		FailedQueries:   event.FailedQueries,
		Strategies:      strategies,
		ResultCount:     event.ResultCount,
		TopChunkIDs:     event.TopChunkIDs,
		Status:          string(event.Status),
		DurationMS:      float64(event.Duration.Microseconds()) / 1000.0,
		Error:           event.Err,
		CompletedAt:     event.CompletedAt.UTC().Format(time.RFC3339Nano),
	})
}

// ObserveRetrieval publishes the event without retries. Publish only
// buffers, so the request path never waits on the broker.
func (q *Queue) ObserveRetrieval(ctx context.Context, event domain.RetrievalEvent) {
	data, err := encodeRetrievalEvent(event)
	if err != nil {
		q.logger.WarnContext(ctx, "retrieval_event_encode_failed", "error", err)
		return
	}
	if err := q.conn.Publish(q.eventSubject, data); err != nil {
		q.logger.WarnContext(ctx, "retrieval_event_publish_failed", "subject", q.eventSubject, "error", err)
	}
}
