package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"discarchive/internal/config"
)

const userAgent = "discarchive/1.0"

// Service defines the notification surface used by the daemon.
type Service interface {
	NotifyDaemonStarted(ctx context.Context, drives []string) error
	NotifyImageCommitted(ctx context.Context, image Image) error
	NotifyCycleFailed(ctx context.Context, devicePath, label, reason string) error
	TestNotification(ctx context.Context) error
}

// Image describes a committed image for the commit notification.
type Image struct {
	Path     string
	Label    string
	Device   string
	Bytes    int64
	CopyTime time.Duration
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: cfg.NotificationTimeout()},
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

func (n *ntfyService) NotifyDaemonStarted(ctx context.Context, drives []string) error {
	message := "No optical drives found"
	if len(drives) > 0 {
		message = fmt.Sprintf("Watching %d drive(s): %s", len(drives), strings.Join(drives, ", "))
	}
	return n.send(ctx, payload{
		title:    "discarchive - Started",
		message:  message,
		tags:     []string{"discarchive", "daemon", "started"},
		priority: "low",
	})
}

func (n *ntfyService) NotifyImageCommitted(ctx context.Context, image Image) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Saved %s", strings.TrimSpace(image.Path))
	if label := strings.TrimSpace(image.Label); label != "" {
		fmt.Fprintf(&b, "\nVolume: %s", label)
	}
	fmt.Fprintf(&b, "\nSize: %s", humanize.IBytes(uint64(max(image.Bytes, 0))))
	if image.CopyTime > 0 {
		rate := float64(image.Bytes) / image.CopyTime.Seconds()
		fmt.Fprintf(&b, " in %s (%s/s)", image.CopyTime.Round(time.Second), humanize.IBytes(uint64(rate)))
	}
	return n.send(ctx, payload{
		title:   "discarchive - Image Saved",
		message: b.String(),
		tags:    []string{"discarchive", "image", "saved"},
	})
}

func (n *ntfyService) NotifyCycleFailed(ctx context.Context, devicePath, label, reason string) error {
	subject := strings.TrimSpace(devicePath)
	if label = strings.TrimSpace(label); label != "" {
		subject = fmt.Sprintf("%s (%s)", label, subject)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unknown"
	}
	return n.send(ctx, payload{
		title:    "discarchive - Disc Failed",
		message:  fmt.Sprintf("%s: %s", subject, reason),
		tags:     []string{"discarchive", "error", "alert"},
		priority: "high",
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "discarchive - Test",
		message:  "Notification system test",
		tags:     []string{"discarchive", "test"},
		priority: "low",
	})
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

func (noopService) NotifyDaemonStarted(context.Context, []string) error             { return nil }
func (noopService) NotifyImageCommitted(context.Context, Image) error               { return nil }
func (noopService) NotifyCycleFailed(context.Context, string, string, string) error { return nil }
func (noopService) TestNotification(context.Context) error                          { return nil }
