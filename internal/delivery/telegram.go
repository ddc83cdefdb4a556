// Package delivery holds the outbound sinks a conversation's messages and
// audio files are sent through.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/BMH-cyber/music/internal/domain"
)

const (
	defaultTelegramAPI  = "https://api.telegram.org"
	maxTelegramText     = 4096
	telegramSendTimeout = 2 * time.Minute
)

type TelegramConfig struct {
	Token  string
	APIURL string
	Client *http.Client
}

// Telegram sends messages and audio through the Bot API. Conversation ids
// are chat ids.
type Telegram struct {
	token  string
	apiURL string
	client *http.Client
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

// TelegramError is a request the Bot API answered with ok=false.
type TelegramError struct {
	Method      string
	StatusCode  int
	Description string
}

func (e *TelegramError) Error() string {
	return fmt.Sprintf("telegram %s: status %d: %s", e.Method, e.StatusCode, e.Description)
}

func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("telegram bot token is required")
	}
	apiURL := strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	if apiURL == "" {
		apiURL = defaultTelegramAPI
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{
			Timeout:   telegramSendTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &Telegram{token: token, apiURL: apiURL, client: client}, nil
}

func (t *Telegram) Notify(ctx context.Context, conversationID, text string) error {
	if len(text) > maxTelegramText {
		text = text[:maxTelegramText-3] + "..."
	}
	body, err := json.Marshal(map[string]interface{}{
		"chat_id":                  conversationID,
		"text":                     text,
		"disable_web_page_preview": true,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.methodURL("sendMessage"), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return t.do(req, "sendMessage")
}

// Deliver uploads the artifact with sendAudio. The file is streamed from
// disk; the caller still owns and releases it.
func (t *Telegram) Deliver(ctx context.Context, conversationID string, artifact *domain.Artifact) error {
	if artifact == nil {
		return errors.New("artifact is required")
	}
	file, err := os.Open(artifact.Path)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer file.Close()

	performer, title := splitTitle(artifact.Title)
	fields := map[string]string{
		"chat_id": conversationID,
		"title":   title,
	}
	if performer != "" {
		fields["performer"] = performer
	}
	if seconds := int(artifact.Duration.Seconds()); seconds > 0 {
		fields["duration"] = strconv.Itoa(seconds)
	}

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeAudioForm(writer, fields, filepath.Base(artifact.Path), file))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.methodURL("sendAudio"), pr)
	if err != nil {
		pr.Close()
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	err = t.do(req, "sendAudio")
	pr.Close()
	return err
}

func writeAudioForm(writer *multipart.Writer, fields map[string]string, filename string, file io.Reader) error {
	for _, key := range []string{"chat_id", "title", "performer", "duration"} {
		value, ok := fields[key]
		if !ok {
			continue
		}
		if err := writer.WriteField(key, value); err != nil {
			return err
		}
	}
	part, err := writer.CreateFormFile("audio", filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, file); err != nil {
		return err
	}
	return writer.Close()
}

func (t *Telegram) methodURL(method string) string {
	return t.apiURL + "/bot" + t.token + "/" + method
}

func (t *Telegram) do(req *http.Request, method string) error {
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, redactToken(err, t.token))
	}
	defer resp.Body.Close()

	var payload telegramResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err := json.Unmarshal(raw, &payload); err != nil {
		return &TelegramError{Method: method, StatusCode: resp.StatusCode, Description: "invalid response body"}
	}
	if !payload.OK || resp.StatusCode != http.StatusOK {
		return &TelegramError{Method: method, StatusCode: resp.StatusCode, Description: payload.Description}
	}
	return nil
}

func redactToken(err error, token string) error {
	if token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), token, "<token>"))
}

// splitTitle turns "Artist - Title" into its parts.
func splitTitle(raw string) (performer, title string) {
	value := strings.TrimSpace(raw)
	if artist, song, ok := strings.Cut(value, " - "); ok && strings.TrimSpace(artist) != "" && strings.TrimSpace(song) != "" {
		return strings.TrimSpace(artist), strings.TrimSpace(song)
	}
	return "", value
}
