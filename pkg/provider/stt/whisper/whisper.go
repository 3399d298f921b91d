// Package whisper implements [stt.Transcriber] on whisper.cpp, either through
// a running whisper.cpp server ([Client]) or in-process via cgo ([Native]).
//
// Both recognize a complete buffer per call. They back the buffered
// recognition engine, which decides when a buffer is worth sending.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/earshot/pkg/provider/stt"
)

const (
	defaultLanguage   = "en"
	defaultSampleRate = 16000
	defaultTimeout    = 30 * time.Second
)

var _ stt.Transcriber = (*Client)(nil)

// Option configures a [Client].
type Option func(*Client)

// WithModel names the model the server should use, for servers that host
// several. Empty leaves the choice to the server.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithLanguage sets the recognition language.
func WithLanguage(lang string) Option {
	return func(c *Client) { c.language = lang }
}

// WithHTTPClient replaces the default client, which has a 30s timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// Client talks to a whisper.cpp server's /inference endpoint.
type Client struct {
	serverURL string
	model     string
	language  string
	http      *http.Client
}

// New returns a Client for the server at serverURL, e.g.
// "http://localhost:8080".
func New(serverURL string, opts ...Option) (*Client, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: server url must not be empty")
	}
	c := &Client{
		serverURL: strings.TrimRight(serverURL, "/"),
		language:  defaultLanguage,
		http:      &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Transcribe uploads pcm as a WAV file and returns the recognized text as a
// final transcript.
func (c *Client) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (stt.Transcript, error) {
	if sampleRate <= 0 {
		sampleRate = defaultSampleRate
	}
	body, contentType, err := c.form(pcm, sampleRate)
	if err != nil {
		return stt.Transcript{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+"/inference", body)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: inference request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return stt.Transcript{}, fmt.Errorf("whisper: server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: decode response: %w", err)
	}
	return stt.Transcript{
		Text:     strings.TrimSpace(result.Text),
		IsFinal:  true,
		Duration: pcmDuration(pcm, sampleRate),
	}, nil
}

func (c *Client) form(pcm []byte, sampleRate int) (io.Reader, string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(encodeWAV(pcm, sampleRate)); err != nil {
		return nil, "", fmt.Errorf("whisper: write wav: %w", err)
	}
	fields := map[string]string{
		"response_format": "json",
		"language":        c.language,
		"model":           c.model,
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("whisper: write field %s: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("whisper: close form: %w", err)
	}
	return &body, mw.FormDataContentType(), nil
}

func pcmDuration(pcm []byte, sampleRate int) time.Duration {
	return time.Duration(len(pcm)/2) * time.Second / time.Duration(sampleRate)
}
