package notifications

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"telecine/internal/config"
	"telecine/internal/logging"
	"telecine/internal/queue"
)

const pollBatchSize = 100

// Notifier tails the event log and fans significant events out through the
// configured Service. It runs outside the pipeline core: the workers and the
// recovery orchestrator only append events and never block on delivery.
type Notifier struct {
	cfg     *config.Config
	store   *queue.Store
	service Service
	logger  *slog.Logger
	cursor  int64
}

// NewNotifier constructs an event notifier over the given store.
func NewNotifier(cfg *config.Config, store *queue.Store, service Service, logger *slog.Logger) *Notifier {
	return &Notifier{
		cfg:     cfg,
		store:   store,
		service: service,
		logger:  logging.NewComponentLogger(logger, "notifications"),
	}
}

// Run polls the event log until the context is cancelled. The cursor starts
// at the current tail so a restart does not replay historical events.
func (n *Notifier) Run(ctx context.Context) error {
	if _, ok := n.service.(noopService); ok {
		<-ctx.Done()
		return ctx.Err()
	}

	cursor, err := n.store.LatestEventID(ctx)
	if err != nil {
		return err
	}
	n.cursor = cursor

	interval := time.Duration(n.cfg.Notifications.PollInterval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := n.Drain(ctx); err != nil {
				n.logger.Warn("event drain failed", logging.Error(err))
			}
		}
	}
}

// Drain delivers every event appended after the cursor. The cursor advances
// past events whose delivery fails; notifications are best-effort and never
// retried.
func (n *Notifier) Drain(ctx context.Context) error {
	for {
		events, err := n.store.EventsAfter(ctx, n.cursor, pollBatchSize)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}
		for _, event := range events {
			if err := n.dispatch(ctx, event); err != nil {
				n.logger.Warn("notification delivery failed",
					logging.Int64("event_id", event.ID),
					logging.String(logging.FieldEventType, event.EventType),
					logging.Error(err),
				)
			}
			n.cursor = event.ID
		}
		if len(events) < pollBatchSize {
			return nil
		}
	}
}

func (n *Notifier) dispatch(ctx context.Context, event *queue.Event) error {
	switch event.EventType {
	case queue.EventFileCompleted:
		if !n.cfg.Notifications.Completions {
			return nil
		}
		file, err := n.store.GetFile(ctx, event.FileID)
		if err != nil {
			return err
		}
		if file == nil {
			// The file was cleared between the append and the drain; the
			// notification has nothing left to describe.
			return nil
		}
		return n.service.NotifyFileCompleted(ctx, file.Filename, file.FinalPath)
	case queue.EventFileSkipped:
		if !n.cfg.Notifications.Completions {
			return nil
		}
		file, err := n.store.GetFile(ctx, event.FileID)
		if err != nil {
			return err
		}
		if file == nil {
			return nil
		}
		return n.service.NotifyFileSkipped(ctx, file.Filename)
	case queue.EventFileFailed:
		if !n.cfg.Notifications.Failures {
			return nil
		}
		file, err := n.store.GetFile(ctx, event.FileID)
		if err != nil {
			return err
		}
		if file == nil {
			return nil
		}
		var detail struct {
			Category string `json:"category"`
			Hint     string `json:"hint"`
		}
		decodePayload(event.Payload, &detail)
		return n.service.NotifyFileFailed(ctx, file.Filename, detail.Category, detail.Hint)
	case queue.EventRecoveryQueued:
		if !n.cfg.Notifications.Recovery {
			return nil
		}
		file, err := n.store.GetFile(ctx, event.FileID)
		if err != nil {
			return err
		}
		if file == nil {
			return nil
		}
		var detail struct {
			Category string `json:"category"`
			Attempt  int    `json:"attempt"`
		}
		decodePayload(event.Payload, &detail)
		return n.service.NotifyRecoveryQueued(ctx, file.Filename, detail.Category, detail.Attempt)
	case queue.EventRecoveryStatus:
		if !n.cfg.Notifications.Recovery {
			return nil
		}
		var detail struct {
			AwaitingFTP     int `json:"awaiting_ftp"`
			AwaitingBackoff int `json:"awaiting_backoff"`
			Unrecoverable   int `json:"unrecoverable"`
			Ready           int `json:"ready"`
		}
		decodePayload(event.Payload, &detail)
		return n.service.NotifyRecoveryStatus(ctx,
			detail.AwaitingFTP, detail.AwaitingBackoff, detail.Unrecoverable, detail.Ready)
	default:
		return nil
	}
}

// decodePayload tolerates missing or malformed payloads; the notification is
// still worth sending with whatever fields survived.
func decodePayload(payload string, into any) {
	if payload == "" {
		return
	}
	_ = json.Unmarshal([]byte(payload), into)
}
