// Package transcriber is the HTTP client for the speech-to-text service.
package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/FreeBandoLano/echobot-sub000/pkg/retry"
)

// Client transcribes one captured audio file and returns the transcript text.
type Client interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

type httpClient struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewClient creates a transcriber client for a whisper-style HTTP endpoint.
func NewClient(baseURL string, logger *slog.Logger) Client {
	return &httpClient{
		baseURL: baseURL,
		// The call uploads the whole audio file and waits for inference;
		// long windows take minutes. The queue's per-task deadline is the
		// real bound, this is a safety net.
		client: &http.Client{Timeout: 30 * time.Minute},
		logger: logger,
	}
}

type transcribeResponse struct {
	Text string `json:"text"`
}

// Transcribe uploads the audio and returns the transcript text. Transient
// HTTP failures are retried in-process; the queue's durable retry covers
// everything beyond that.
func (c *httpClient) Transcribe(ctx context.Context, audioPath string) (string, error) {
	var text string
	err := retry.Do(ctx, retry.Config{
		Attempts: 2,
		Delay:    5 * time.Second,
		Notify: func(attempt int, err error) {
			c.logger.Warn("transcribe attempt failed",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
		},
	}, func() error {
		var err error
		text, err = c.transcribeOnce(ctx, audioPath)
		return err
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

func (c *httpClient) transcribeOnce(ctx context.Context, audioPath string) (string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return "", fmt.Errorf("open audio %s: %w", audioPath, err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return "", fmt.Errorf("build multipart: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("copy audio into request: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("build transcribe request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcribe call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("transcriber returned status %d", resp.StatusCode)
	}

	var out transcribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode transcriber response: %w", err)
	}
	if out.Text == "" {
		return "", fmt.Errorf("transcriber returned an empty transcript for %s", filepath.Base(audioPath))
	}
	return out.Text, nil
}
