package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/clipflow/clipflow/internal/logging"
)

const (
	defaultClipsPath   = "/api/clips"
	defaultProcessPath = "/api/process"
	defaultTimeout     = 600 * time.Second

	// Clip listings may carry base64 thumbnails.
	maxListBytes  = 64 << 20
	maxReplyBytes = 1 << 20
	maxErrorBytes = 4096

	requestIDHeader = "X-Request-ID"
)

// Options configures an HTTPClient. Empty fields take the defaults the
// reference backend uses.
type Options struct {
	BaseURL     string
	ClipsPath   string
	ProcessPath string
	Timeout     time.Duration
}

// HTTPClient implements Client against a ClipFlow backend over HTTP and
// WebSocket.
type HTTPClient struct {
	baseURL     string
	clipsPath   string
	processPath string
	httpClient  *http.Client
	dialer      *websocket.Dialer
	logger      *slog.Logger
}

var _ Client = (*HTTPClient)(nil)

func NewHTTPClient(opts Options, logger *slog.Logger) *HTTPClient {
	if opts.ClipsPath == "" {
		opts.ClipsPath = defaultClipsPath
	}
	if opts.ProcessPath == "" {
		opts.ProcessPath = defaultProcessPath
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return &HTTPClient{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		clipsPath:   opts.ClipsPath,
		processPath: opts.ProcessPath,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 15 * time.Second,
		},
		logger: logging.WithComponent(logging.OrDiscard(logger), "backend"),
	}
}

// BaseURL returns the backend root without a trailing slash.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// ClipVideoURL returns the URL the backend serves a clip's video from.
func (c *HTTPClient) ClipVideoURL(id string) string {
	return c.baseURL + c.clipsPath + "/" + url.PathEscape(id) + "/video"
}

// OutputURL returns the URL a finished output can be downloaded from.
func (c *HTTPClient) OutputURL(filename string) string {
	return c.baseURL + c.clipsPath + "/output/" + url.PathEscape(filename)
}

func (c *HTTPClient) ListClips(ctx context.Context) ([]Clip, error) {
	var list ClipList
	if err := c.doJSON(ctx, "list clips", http.MethodGet, c.clipsPath+"/", nil, &list, maxListBytes); err != nil {
		return nil, err
	}
	if list.Clips == nil {
		list.Clips = []Clip{}
	}
	c.logger.Debug("listed clips", "count", len(list.Clips))
	return list.Clips, nil
}

// UploadClip streams r as the multipart field "file". The body is piped so
// large videos are never buffered in memory.
func (c *HTTPClient) UploadClip(ctx context.Context, filename string, r io.Reader) (*Clip, error) {
	const op = "upload clip"
	target := c.baseURL + c.clipsPath + "/upload"

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", filename)
		if err == nil {
			_, err = io.Copy(part, r)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, pr)
	if err != nil {
		pr.CloseWithError(err)
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	c.logger.Info("uploading clip", "url", target, "filename", filename)

	body, err := c.send(req, op, maxReplyBytes)
	if err != nil {
		return nil, err
	}

	var envelope UploadResponse
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Clip != nil && envelope.Clip.ID != "" {
		return envelope.Clip, nil
	}
	var clip Clip
	if err := json.Unmarshal(body, &clip); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", op, err)
	}
	if clip.ID == "" {
		return nil, fmt.Errorf("%s: response has no clip id", op)
	}
	return &clip, nil
}

func (c *HTTPClient) DeleteClip(ctx context.Context, id string) error {
	path := c.clipsPath + "/" + url.PathEscape(id)
	if err := c.doJSON(ctx, "delete clip", http.MethodDelete, path, nil, nil, maxReplyBytes); err != nil {
		return err
	}
	c.logger.Info("deleted clip", "clip_id", id)
	return nil
}

func (c *HTTPClient) Concatenate(ctx context.Context, req ConcatRequest) (*ConcatResult, error) {
	req.JobID = ""
	var result ConcatResult
	if err := c.doJSON(ctx, "concatenate", http.MethodPost, c.clipsPath+"/concatenate", req, &result, maxReplyBytes); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *HTTPClient) StartConcatenation(ctx context.Context, req ConcatRequest) (*ConcatAck, error) {
	var ack ConcatAck
	if err := c.doJSON(ctx, "start concatenation", http.MethodPost, c.processPath+"/concatenate", req, &ack, maxReplyBytes); err != nil {
		return nil, err
	}
	return &ack, nil
}

// SubscribeProgress opens the progress WebSocket. The connection is closed
// when ctx is done or Close is called, whichever happens first.
func (c *HTTPClient) SubscribeProgress(ctx context.Context, jobID string) (ProgressSubscription, error) {
	target, err := c.progressURL(jobID)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set(requestIDHeader, uuid.NewString())

	conn, resp, err := c.dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBytes))
			return nil, newRejectedError("subscribe progress", resp.StatusCode, body)
		}
		return nil, &TransportError{Op: "subscribe progress", URL: target, Err: err}
	}
	c.logger.Debug("progress stream opened", "url", target)
	return newWSSubscription(ctx, conn, target), nil
}

func (c *HTTPClient) progressURL(jobID string) (string, error) {
	u, err := url.Parse(c.baseURL + c.processPath + "/progress")
	if err != nil {
		return "", fmt.Errorf("parse progress url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	if jobID != "" {
		q := u.Query()
		q.Set("job_id", jobID)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (c *HTTPClient) ListOutputs(ctx context.Context) ([]Output, error) {
	var list OutputList
	if err := c.doJSON(ctx, "list outputs", http.MethodGet, c.processPath+"/outputs", nil, &list, maxListBytes); err != nil {
		return nil, err
	}
	if list.Outputs == nil {
		list.Outputs = []Output{}
	}
	return list.Outputs, nil
}

// DownloadOutput copies a finished output into w and returns the byte count.
func (c *HTTPClient) DownloadOutput(ctx context.Context, filename string, w io.Writer) (int64, error) {
	const op = "download output"
	target := c.OutputURL(filename)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set(requestIDHeader, uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, &TransportError{Op: op, URL: target, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBytes))
		return 0, newRejectedError(op, resp.StatusCode, body)
	}
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, &TransportError{Op: op, URL: target, Err: err}
	}
	c.logger.Info("downloaded output", "filename", filename, "bytes", n)
	return n, nil
}

func (c *HTTPClient) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.doJSON(ctx, "health", http.MethodGet, "/health", nil, &h, maxReplyBytes); err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *HTTPClient) doJSON(ctx context.Context, op, method, path string, in, out any, limit int64) error {
	target := c.baseURL + path

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", op, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	respBody, err := c.send(req, op, limit)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

// send performs req and returns the body of a 2xx response. Anything else
// becomes a RejectedError or, without a response, a TransportError.
func (c *HTTPClient) send(req *http.Request, op string, limit int64) ([]byte, error) {
	req.Header.Set(requestIDHeader, uuid.NewString())

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("backend request failed",
			"op", op,
			"url", req.URL.String(),
			"error", err,
		)
		return nil, &TransportError{Op: op, URL: req.URL.String(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBytes))
		rejected := newRejectedError(op, resp.StatusCode, body)
		c.logger.Warn("backend rejected request",
			"op", op,
			"status", resp.StatusCode,
			"detail", rejected.Detail,
		)
		return nil, rejected
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, &TransportError{Op: op, URL: req.URL.String(), Err: err}
	}
	c.logger.Debug("backend request completed",
		"op", op,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return body, nil
}

// wsSubscription adapts a gorilla connection to ProgressSubscription.
type wsSubscription struct {
	conn   *websocket.Conn
	url    string
	ctx    context.Context
	done   chan struct{}
	closed chan struct{}
	once   sync.Once
}

func newWSSubscription(ctx context.Context, conn *websocket.Conn, target string) *wsSubscription {
	s := &wsSubscription{
		conn:   conn,
		url:    target,
		ctx:    ctx,
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	go func() {
		select {
		case <-ctx.Done():
		case <-s.done:
		}
		_ = conn.Close()
		close(s.closed)
	}()
	return s
}

func (s *wsSubscription) Next() (ProgressEvent, error) {
	var ev ProgressEvent
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return ev, io.EOF
		}
		if ctxErr := s.ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return ev, &TransportError{Op: "read progress", URL: s.url, Err: err}
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, fmt.Errorf("decode progress event: %w", err)
	}
	return ev, nil
}

func (s *wsSubscription) Close() error {
	s.once.Do(func() { close(s.done) })
	<-s.closed
	return nil
}

// IsClosed reports whether err means the subscription ended, cleanly or not.
func IsClosed(err error) bool {
	return errors.Is(err, io.EOF) || IsTransport(err)
}
