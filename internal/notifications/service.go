package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"telecine/internal/config"
)

const userAgent = "Telecine-Go/0.1.0"

// Service defines the notification surface used by the event notifier.
type Service interface {
	NotifyFileCompleted(ctx context.Context, filename, finalPath string) error
	NotifyFileFailed(ctx context.Context, filename, category, hint string) error
	NotifyFileSkipped(ctx context.Context, filename string) error
	NotifyRecoveryQueued(ctx context.Context, filename, category string, attempt int) error
	NotifyRecoveryStatus(ctx context.Context, awaitingFTP, awaitingBackoff, unrecoverable, ready int) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) NotifyFileCompleted(ctx context.Context, filename, finalPath string) error {
	filename = strings.TrimSpace(filename)
	message := fmt.Sprintf("Ready in library: %s", filename)
	if finalPath = strings.TrimSpace(finalPath); finalPath != "" {
		message = fmt.Sprintf("%s\nFile: %s", message, finalPath)
	}
	data := payload{
		title:   "Telecine - Complete",
		message: message,
		tags:    []string{"telecine", "file", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyFileFailed(ctx context.Context, filename, category, hint string) error {
	filename = strings.TrimSpace(filename)
	category = strings.TrimSpace(category)
	if category == "" {
		category = "unknown"
	}
	message := fmt.Sprintf("Failed: %s (%s)", filename, category)
	if hint = strings.TrimSpace(hint); hint != "" {
		message = fmt.Sprintf("%s\n%s", message, hint)
	}
	data := payload{
		title:    "Telecine - Failed",
		message:  message,
		tags:     []string{"telecine", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyFileSkipped(ctx context.Context, filename string) error {
	filename = strings.TrimSpace(filename)
	data := payload{
		title:   "Telecine - Skipped",
		message: fmt.Sprintf("Empty placeholder skipped: %s", filename),
		tags:    []string{"telecine", "file", "skipped"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyRecoveryQueued(ctx context.Context, filename, category string, attempt int) error {
	filename = strings.TrimSpace(filename)
	data := payload{
		title:   "Telecine - Recovery",
		message: fmt.Sprintf("Retrying %s (%s, attempt %d)", filename, category, attempt),
		tags:    []string{"telecine", "recovery", "queued"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyRecoveryStatus(ctx context.Context, awaitingFTP, awaitingBackoff, unrecoverable, ready int) error {
	data := payload{
		title: "Telecine - Recovery Status",
		message: fmt.Sprintf("Failed files: %d awaiting FTP, %d in backoff, %d unrecoverable, %d ready",
			awaitingFTP, awaitingBackoff, unrecoverable, ready),
		tags:     []string{"telecine", "recovery", "status"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Telecine - Test",
		message:  "Notification system test",
		tags:     []string{"telecine", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyFileCompleted(context.Context, string, string) error          { return nil }
func (noopService) NotifyFileFailed(context.Context, string, string, string) error     { return nil }
func (noopService) NotifyFileSkipped(context.Context, string) error                    { return nil }
func (noopService) NotifyRecoveryQueued(context.Context, string, string, int) error    { return nil }
func (noopService) NotifyRecoveryStatus(context.Context, int, int, int, int) error     { return nil }
func (noopService) TestNotification(context.Context) error                             { return nil }
