package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/filings-rag/internal/core/domain"
	"github.com/kirillkom/filings-rag/internal/infrastructure/resilience"
)

const (
	DefaultChunkSubject = "filings.chunks"
	DefaultEventSubject = "retrieval.completed"
	DefaultQueueGroup   = "indexers"
)

// Queue carries chunk batches from the upstream pipeline to indexers and
// retrieval events from the API to whoever listens.
type Queue struct {
	conn         *nats.Conn
	chunkSubject string
	eventSubject string
	queueGroup   string
	executor     *resilience.Executor
	logger       *slog.Logger
}

type Options struct {
	ChunkSubject         string
	EventSubject         string
	QueueGroup           string
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	Logger               *slog.Logger
}

func New(url string, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(
		url,
		nats.Name("filings-rag"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	q := newQueue(conn, options, logger)
	return q, nil
}

func newQueue(conn *nats.Conn, options Options, logger *slog.Logger) *Queue {
	q := &Queue{
		conn:         conn,
		chunkSubject: options.ChunkSubject,
		eventSubject: options.EventSubject,
		queueGroup:   options.QueueGroup,
		executor:     options.ResilienceExecutor,
		logger:       logger,
	}
	if q.chunkSubject == "" {
		q.chunkSubject = DefaultChunkSubject
	}
	if q.eventSubject == "" {
		q.eventSubject = DefaultEventSubject
	}
	if q.queueGroup == "" {
		q.queueGroup = DefaultQueueGroup
	}
	return q
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) PublishChunkBatch(ctx context.Context, batch domain.ChunkBatch) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("marshal chunk batch: %w", err)
	}
	return q.publish(ctx, q.chunkSubject, data)
}

func (q *Queue) publish(ctx context.Context, subject string, data []byte) error {
	if limit := q.maxPayload(); limit > 0 && int64(len(data)) > limit {
		return domain.WrapError(domain.ErrInvalidInput, "nats publish",
			fmt.Errorf("payload of %d bytes exceeds server limit of %d: %w", len(data), limit, nats.ErrMaxPayload))
	}
	err := q.executor.Execute(ctx, "nats.publish", func(context.Context) error {
		if err := q.conn.Publish(subject, data); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}, classifyNATSError)
	return resilience.WrapTemporary("nats publish", err, classifyNATSError)
}

func (q *Queue) maxPayload() int64 {
	if q.conn == nil {
		return 0
	}
	return q.conn.MaxPayload()
}

// SubscribeChunkBatches blocks until ctx is done, then drains the subscription
// so in-flight batches finish before returning.
func (q *Queue) SubscribeChunkBatches(ctx context.Context, handler func(context.Context, domain.ChunkBatch) error) error {
	sub, err := q.conn.QueueSubscribe(q.chunkSubject, q.queueGroup, func(msg *nats.Msg) {
		q.handleChunkMessage(ctx, msg.Data, handler)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func (q *Queue) handleChunkMessage(ctx context.Context, data []byte, handler func(context.Context, domain.ChunkBatch) error) {
	if errors.Is(ctx.Err(), context.Canceled) {
		return
	}

	var batch domain.ChunkBatch
	if err := json.Unmarshal(data, &batch); err != nil {
		q.logger.ErrorContext(ctx, "chunk_batch_decode_failed", "subject", q.chunkSubject, "bytes", len(data), "error", err)
		return
	}

	handlerCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := handler(handlerCtx, batch); err != nil {
		q.logger.ErrorContext(ctx, "chunk_batch_handler_failed",
			"ticker", batch.Ticker,
			"filing_id", batch.FilingID,
			"chunks", len(batch.Chunks),
			"error", err,
		)
	}
}
