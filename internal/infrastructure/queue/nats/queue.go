package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/archive-qa/internal/core/domain"
	"github.com/kirillkom/archive-qa/internal/infrastructure/resilience"
)

const (
	DefaultSubject = "documents.index"
	DefaultGroup   = "index-workers"
)

// IndexHandler processes one decoded index event.
type IndexHandler func(context.Context, domain.IndexEvent) error

// Queue carries index synchronisation events over core NATS.
type Queue struct {
	conn     *nats.Conn
	subject  string
	group    string
	executor *resilience.Executor
}

type Options struct {
	Subject              string
	Group                string
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
}

func New(url string) (*Queue, error) {
	return NewWithOptions(url, Options{})
}

func NewWithOptions(url string, options Options) (*Queue, error) {
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

	conn, err := nats.Connect(
		url,
		nats.Name("archive-qa"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	subject := options.Subject
	if subject == "" {
		subject = DefaultSubject
	}
	group := options.Group
	if group == "" {
		group = DefaultGroup
	}
	return &Queue{
		conn:     conn,
		subject:  subject,
		group:    group,
		executor: options.ResilienceExecutor,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

// Connected reports whether the underlying connection is usable.
func (q *Queue) Connected() bool {
	return q.conn != nil && q.conn.IsConnected()
}

func (q *Queue) PublishIndexEvent(ctx context.Context, event domain.IndexEvent) error {
	payload, err := encodeEvent(event)
	if err != nil {
		return err
	}
	call := func(_ context.Context) error {
		if err := q.conn.Publish(q.subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	return wrapPublishError(err)
}

// SubscribeIndexEvents consumes events in the queue group until ctx is done,
// then drains the subscription.
func (q *Queue) SubscribeIndexEvents(ctx context.Context, handler func(context.Context, domain.IndexEvent) error) error {
	sub, err := q.conn.QueueSubscribe(q.subject, q.group, func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		attempt := deliveryAttempt(msg.Header)
		if err := dispatch(ctx, msg.Data, attempt, handler); redeliverable(err, attempt) {
			q.redeliver(ctx, msg.Data, attempt+1)
		}
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

// redeliver republishes a transiently failed event after a backoff.
func (q *Queue) redeliver(ctx context.Context, data []byte, attempt int) {
	delay := redeliveryBackoff(attempt - 1)
	slog.Warn("index_event_redelivery_scheduled", "attempt", attempt, "delay_ms", delay.Milliseconds())
	time.AfterFunc(delay, func() {
		if ctx.Err() != nil {
			return
		}
		msg := nats.NewMsg(q.subject)
		msg.Data = data
		msg.Header.Set(attemptHeader, strconv.Itoa(attempt))
		if err := q.conn.PublishMsg(msg); err != nil {
			slog.Error("index_event_redelivery_failed", "attempt", attempt, "error", err)
		}
	})
}

// dispatch decodes one payload and runs handler. Undecodable payloads and
// handler failures are logged and returned.
func dispatch(ctx context.Context, data []byte, attempt int, handler IndexHandler) error {
	event, err := decodeEvent(data)
	if err != nil {
		slog.Warn("index_event_invalid", "error", err, "payload_bytes", len(data))
		return err
	}

	handlerCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := handler(handlerCtx, event); err != nil {
		slog.Error("index_sync_failed",
			"document_id", event.DocumentID,
			"op", string(event.Operation),
			"attempt", attempt,
			"error", err,
		)
		return err
	}
	return nil
}

func encodeEvent(event domain.IndexEvent) ([]byte, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal index event: %w", err)
	}
	return payload, nil
}

func decodeEvent(data []byte) (domain.IndexEvent, error) {
	var event domain.IndexEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return domain.IndexEvent{}, domain.WrapError(domain.ErrInvalidInput, "decode index event", err)
	}
	if event.DocumentID <= 0 {
		return domain.IndexEvent{}, domain.WrapError(domain.ErrInvalidInput, "decode index event", fmt.Errorf("document_id must be positive"))
	}
	if event.Operation == "" {
		event.Operation = domain.IndexUpsert
	}
	return event, nil
}
