package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/notegen/internal/core/domain"
	"github.com/kirillkom/notegen/internal/infrastructure/resilience"
)

const workerQueueGroup = "note-workers"

type Queue struct {
	conn     *nats.Conn
	subject  string
	executor *resilience.Executor
	logger   *slog.Logger
}

func New(url, subject string) (*Queue, error) {
	return NewWithOptions(url, subject, Options{})
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	Logger               *slog.Logger
}

func NewWithOptions(url, subject string, options Options) (*Queue, error) {
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
		nats.Name("notegen"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", slog.Any("error", err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:     conn,
		subject:  subject,
		executor: options.ResilienceExecutor,
		logger:   logger,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) PublishNoteCommand(ctx context.Context, cmd domain.NoteCommand) error {
	if cmd.EnqueuedAt.IsZero() {
		cmd.EnqueuedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal note command: %w", err)
	}

	err = resilience.Run(ctx, q.executor, "nats.publish", func(context.Context) error {
		if err := q.conn.Publish(q.subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}, classifyNATSError)
	return resilience.WrapTemporary("publish note command", err, classifyNATSError)
}

// SubscribeNoteCommands blocks until ctx is done, then drains the
// subscription so in-flight handlers finish.
func (q *Queue) SubscribeNoteCommands(ctx context.Context, handler func(context.Context, domain.NoteCommand) error) error {
	sub, err := q.conn.QueueSubscribe(q.subject, workerQueueGroup, func(msg *nats.Msg) {
		dispatch(ctx, msg.Data, handler, q.logger)
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

func dispatch(ctx context.Context, data []byte, handler func(context.Context, domain.NoteCommand) error, logger *slog.Logger) {
	if ctx.Err() != nil {
		return
	}

	cmd, err := decodeCommand(data)
	if err != nil {
		logger.Error("note_command_invalid", slog.String("error", err.Error()))
		return
	}

	handlerCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := handler(handlerCtx, cmd); err != nil {
		logger.Error("note_command_failed",
			slog.String("note_id", cmd.NoteID),
			slog.String("action", string(cmd.Action)),
			slog.String("error", err.Error()),
		)
	}
}

// decodeCommand also accepts a bare note id, which is read as a process
// command.
func decodeCommand(data []byte) (domain.NoteCommand, error) {
	var cmd domain.NoteCommand
	if len(data) > 0 && data[0] == '{' {
		if err := json.Unmarshal(data, &cmd); err != nil {
			return domain.NoteCommand{}, fmt.Errorf("decode note command: %w", err)
		}
	} else {
		cmd.NoteID = string(data)
	}
	if cmd.NoteID == "" {
		return domain.NoteCommand{}, fmt.Errorf("decode note command: empty note id")
	}
	if cmd.Action == "" {
		cmd.Action = domain.ActionProcess
	}
	return cmd, nil
}
