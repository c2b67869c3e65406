package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"discarchive/internal/config"
	"discarchive/internal/notifications"
)

type captured struct {
	title    string
	tags     string
	priority string
	body     string
}

func captureServer(t *testing.T, status int) (*httptest.Server, <-chan captured) {
	t.Helper()
	requests := make(chan captured, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		requests <- captured{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			body:     string(body),
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte("nope"))
	}))
	t.Cleanup(srv.Close)
	return srv, requests
}

func newService(topic string) notifications.Service {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = topic
	return notifications.NewService(&cfg)
}

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	svc := newService("")
	if err := svc.NotifyCycleFailed(context.Background(), "/dev/sr0", "", "boom"); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		send           func(notifications.Service) error
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name: "image committed",
			send: func(s notifications.Service) error {
				return s.NotifyImageCommitted(context.Background(), notifications.Image{
					Path:     "/srv/discs/FOO.iso",
					Label:    "FOO",
					Bytes:    4 << 20,
					CopyTime: 2 * time.Second,
				})
			},
			expectTitle:   "discarchive - Image Saved",
			expectMessage: "Saved /srv/discs/FOO.iso\nVolume: FOO\nSize: 4.0 MiB in 2s (2.0 MiB/s)",
			expectTags:    "discarchive,image,saved",
		},
		{
			name: "cycle failed",
			send: func(s notifications.Service) error {
				return s.NotifyCycleFailed(context.Background(), "/dev/sr1", "BAR", "Error reading disk.")
			},
			expectTitle:    "discarchive - Disc Failed",
			expectMessage:  "BAR (/dev/sr1): Error reading disk.",
			expectTags:     "discarchive,error,alert",
			expectPriority: "high",
		},
		{
			name: "daemon started",
			send: func(s notifications.Service) error {
				return s.NotifyDaemonStarted(context.Background(), []string{"/dev/sr0", "/dev/sr1"})
			},
			expectTitle:    "discarchive - Started",
			expectMessage:  "Watching 2 drive(s): /dev/sr0, /dev/sr1",
			expectTags:     "discarchive,daemon,started",
			expectPriority: "low",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, requests := captureServer(t, http.StatusOK)
			if err := tt.send(newService(srv.URL)); err != nil {
				t.Fatalf("send: %v", err)
			}
			got := <-requests
			if got.title != tt.expectTitle || got.body != tt.expectMessage || got.tags != tt.expectTags || got.priority != tt.expectPriority {
				t.Fatalf("unexpected request %+v", got)
			}
		})
	}
}

func TestNtfyServiceReportsHTTPErrors(t *testing.T) {
	srv, _ := captureServer(t, http.StatusForbidden)
	err := newService(srv.URL).TestNotification(context.Background())
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected 403 error, got %v", err)
	}
}

func TestNtfyServiceHonoursContext(t *testing.T) {
	srv, _ := captureServer(t, http.StatusOK)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := newService(srv.URL).TestNotification(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
