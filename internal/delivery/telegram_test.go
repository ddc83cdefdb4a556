package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BMH-cyber/music/internal/domain"
)

func newTestTelegram(t *testing.T, handler http.HandlerFunc) *Telegram {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	tg, err := NewTelegram(TelegramConfig{Token: "123:abc", APIURL: srv.URL + "/", Client: srv.Client()})
	if err != nil {
		t.Fatalf("new telegram: %v", err)
	}
	return tg
}

func TestNewTelegramRequiresToken(t *testing.T) {
	if _, err := NewTelegram(TelegramConfig{Token: "  "}); err == nil {
		t.Fatalf("expected error for empty token")
	}
}

func TestTelegramNotify(t *testing.T) {
	var gotPath string
	var payload map[string]interface{}
	tg := newTestTelegram(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content type %q", r.Header.Get("Content-Type"))
		}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		_, _ = w.Write([]byte(`{"ok":true,"result":{}}`))
	})

	if err := tg.Notify(context.Background(), "42", "Downloading..."); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if gotPath != "/bot123:abc/sendMessage" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if payload["chat_id"] != "42" || payload["text"] != "Downloading..." {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestTelegramNotifyReportsAPIError(t *testing.T) {
	tg := newTestTelegram(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`))
	})

	err := tg.Notify(context.Background(), "42", "hi")
	var tgErr *TelegramError
	if !errors.As(err, &tgErr) {
		t.Fatalf("expected TelegramError, got %v", err)
	}
	if tgErr.StatusCode != http.StatusForbidden || !strings.Contains(tgErr.Description, "blocked") {
		t.Fatalf("unexpected error %+v", tgErr)
	}
}

func TestTelegramDeliverUploadsAudio(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aaaaaaaaaaa.mp3")
	if err := os.WriteFile(path, []byte("ID3-audio-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	artifact := domain.NewArtifact(dir, path, 15, "Band - Test Song")
	artifact.Duration = 215 * time.Second

	var fields map[string]string
	var fileName, fileBody string
	tg := newTestTelegram(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/sendAudio") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			return
		}
		fields = map[string]string{}
		for key, values := range r.MultipartForm.Value {
			fields[key] = values[0]
		}
		file, header, err := r.FormFile("audio")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		fileName, fileBody = header.Filename, string(data)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	if err := tg.Deliver(context.Background(), "42", artifact); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if fields["chat_id"] != "42" || fields["performer"] != "Band" || fields["title"] != "Test Song" || fields["duration"] != "215" {
		t.Fatalf("unexpected fields %v", fields)
	}
	if fileName != "aaaaaaaaaaa.mp3" || fileBody != "ID3-audio-bytes" {
		t.Fatalf("unexpected upload %q (%q)", fileName, fileBody)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("deliver must not remove the artifact: %v", err)
	}
}

func TestTelegramDeliverMissingFile(t *testing.T) {
	tg := newTestTelegram(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no request expected")
	})
	artifact := domain.NewArtifact("", filepath.Join(t.TempDir(), "missing.mp3"), 0, "x")
	if err := tg.Deliver(context.Background(), "42", artifact); err == nil {
		t.Fatalf("expected error")
	}
}

func TestSplitTitle(t *testing.T) {
	tests := []struct {
		raw, performer, title string
	}{
		{"Band - Test Song", "Band", "Test Song"},
		{"Band - Song - Live", "Band", "Song - Live"},
		{"Just A Title", "", "Just A Title"},
		{" - Dangling", "", "- Dangling"},
	}
	for _, tc := range tests {
		performer, title := splitTitle(tc.raw)
		if performer != tc.performer || title != tc.title {
			t.Fatalf("splitTitle(%q) = %q, %q", tc.raw, performer, title)
		}
	}
}
