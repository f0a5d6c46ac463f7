package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const (
	requestIDHeader = "X-Sigma-Request-Id"

	maxErrorBodyBytes  = 4096
	maxClipBodyBytes   = 32 << 20
	maxFramesBodyBytes = 1 << 20
	maxReportBodyBytes = 64 << 20
)

// ClientConfig holds the backend address and per-call timeouts. Read timeouts
// bound the wait for response headers, not the upload itself.
type ClientConfig struct {
	BaseURL        string
	MaxTokens      int
	ConnectTimeout time.Duration
	ClipTimeout    time.Duration
	FramesTimeout  time.Duration
	ReportTimeout  time.Duration
	PingTimeout    time.Duration
}

// DefaultClientConfig returns production timeouts for baseURL.
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL:        baseURL,
		MaxTokens:      150,
		ConnectTimeout: 10 * time.Second,
		ClipTimeout:    600 * time.Second,
		FramesTimeout:  120 * time.Second,
		ReportTimeout:  300 * time.Second,
		PingTimeout:    5 * time.Second,
	}
}

// HTTPClient is the native client of the inference backend.
type HTTPClient struct {
	cfg    ClientConfig
	clip   *http.Client
	frames *http.Client
	report *http.Client
	ping   *http.Client
	logger *slog.Logger
}

// NewHTTPClient builds one http.Client per call family so each gets its own
// response timeout.
func NewHTTPClient(cfg ClientConfig, logger *slog.Logger) *HTTPClient {
	return &HTTPClient{
		cfg:    cfg,
		clip:   newHTTPClient(cfg.ConnectTimeout, cfg.ClipTimeout),
		frames: newHTTPClient(cfg.ConnectTimeout, cfg.FramesTimeout),
		report: newHTTPClient(cfg.ConnectTimeout, cfg.ReportTimeout),
		ping:   &http.Client{Timeout: cfg.PingTimeout},
		logger: logger,
	}
}

func newHTTPClient(connect, read time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: connect, KeepAlive: 30 * time.Second}
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			ResponseHeaderTimeout: read,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
		},
	}
}

// AnalyzeClip uploads the whole video to /analyze_video. The file is streamed,
// never buffered in memory.
func (c *HTTPClient) AnalyzeClip(ctx context.Context, videoPath string, params ClipParams) (*ClipResponse, error) {
	f, err := os.Open(videoPath)
	if err != nil {
		return nil, fmt.Errorf("open video: %w", err)
	}
	defer f.Close()

	q := url.Values{}
	q.Set("target_fps", strconv.Itoa(params.TargetFPS))
	q.Set("window_sec", strconv.FormatFloat(params.WindowSec, 'f', -1, 64))
	q.Set("frames_per_window", strconv.Itoa(params.FramesPerWindow))
	q.Set("max_highlights", strconv.Itoa(params.MaxHighlights))
	if params.Domain != "" {
		q.Set("domain", params.Domain)
	}
	endpoint := c.cfg.BaseURL + "/analyze_video?" + q.Encode()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeFilePart(mw, "file", f))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, pr)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	start := time.Now()
	body, err := c.do(ctx, c.clip, req, "analyze_video", maxClipBodyBytes)
	if err != nil {
		return nil, err
	}

	var out ClipResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: analyze_video: %v", ErrMalformedResponse, err)
	}

	c.logger.Info("clip analysis complete",
		"target_fps", params.TargetFPS,
		"window_sec", params.WindowSec,
		"has_event", out.HasEvent,
		"events", len(out.Events),
		"windows", len(out.Timeline),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return &out, nil
}

type generateRequest struct {
	Prompt    string   `json:"prompt"`
	ImagesB64 []string `json:"images_b64"`
	MaxTokens int      `json:"max_tokens"`
}

type generateResponse struct {
	Text *string `json:"text"`
}

// AnalyzeFrames sends base64 JPEG frames to /generate. Model output that is
// not a JSON verdict degrades to a no-event verdict instead of failing.
func (c *HTTPClient) AnalyzeFrames(ctx context.Context, images []string, prompt string) (*Verdict, error) {
	payload, err := json.Marshal(generateRequest{
		Prompt:    prompt,
		ImagesB64: images,
		MaxTokens: c.cfg.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal generate payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(ctx, c.frames, req, "generate", maxFramesBodyBytes)
	if err != nil {
		return nil, err
	}

	var out generateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: generate: %v", ErrMalformedResponse, err)
	}
	text := "{}"
	if out.Text != nil {
		text = *out.Text
	}

	v := verdictFromText(text)
	if v.Degraded {
		c.logger.Debug("frame verdict degraded", "frames", len(images))
	}
	return v, nil
}

// GenerateReport asks the backend to render analysisJSON. The video is
// attached when videoPath points at an existing file.
func (c *HTTPClient) GenerateReport(ctx context.Context, analysisJSON, videoPath, format string) ([]byte, error) {
	var video *os.File
	if videoPath != "" {
		if f, err := os.Open(videoPath); err == nil {
			video = f
			defer f.Close()
		}
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := mw.WriteField("analysis_json", analysisJSON)
		if err == nil && video != nil {
			err = writeFilePart(mw, "video", video)
		} else if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	endpoint := c.cfg.BaseURL + "/generate_report_from_json?" + url.Values{"return_format": {format}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, pr)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	return c.do(ctx, c.report, req, "generate_report_from_json", maxReportBodyBytes)
}

// Ping checks that the backend answers GET /health with a 2xx.
func (c *HTTPClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	_, err = c.do(ctx, c.ping, req, "health", maxErrorBodyBytes)
	return err
}

// do executes req and returns the response body of a 2xx reply.
func (c *HTTPClient) do(ctx context.Context, hc *http.Client, req *http.Request, op string, limit int64) ([]byte, error) {
	req.Header.Set(requestIDHeader, uuid.NewString())

	resp, err := hc.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s: %w", op, ctxErr)
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrBackendUnavailable, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		c.logger.Warn("inference request rejected",
			"op", op,
			"status", resp.StatusCode,
			"request_id", req.Header.Get(requestIDHeader),
		)
		return nil, &BackendError{Op: op, StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s: %w", op, ctxErr)
		}
		var netErr net.Error
		if errors.As(err, &netErr) {
			return nil, fmt.Errorf("%w: %s: %w", ErrBackendUnavailable, op, err)
		}
		return nil, fmt.Errorf("%s: read body: %w", op, err)
	}
	return body, nil
}

// writeFilePart writes f as a form file and closes the multipart writer.
func writeFilePart(mw *multipart.Writer, field string, f *os.File) error {
	name := filepath.Base(f.Name())
	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = "video/mp4"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, name))
	h.Set("Content-Type", contentType)

	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return err
	}
	return mw.Close()
}
