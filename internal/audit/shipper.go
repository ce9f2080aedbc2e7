// Package audit implements the request-auditing pipeline: payload sanitization, action
// classification, fail-safe recording of activity and error records, critical error
// notification, and the query/export engine used by the admin log endpoints.
//
// Stored records can additionally be shipped to external destinations (a JSON-lines
// file or a webhook) through the Shipper interface, so a SIEM or log aggregator can
// consume them independently of the database.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/api-monitor/api-monitor/internal/db/models"
	"github.com/api-monitor/api-monitor/internal/telemetry"
)

// ShippedRecord is the wire form of a stored activity or error record
type ShippedRecord struct {
	Kind       string         `json:"kind"` // activity, error
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	UserID     string         `json:"user_id,omitempty"`
	Action     string         `json:"action,omitempty"`
	Method     string         `json:"method"`
	Path       string         `json:"path"`
	IPAddress  string         `json:"ip_address,omitempty"`
	UserAgent  string         `json:"user_agent,omitempty"`
	StatusCode int            `json:"status_code,omitempty"`
	Message    string         `json:"message,omitempty"`
	Extra      map[string]any `json:"extra,omitempty"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func shippedActivity(l *models.ActivityLog) *ShippedRecord {
	return &ShippedRecord{
		Kind:       telemetry.KindActivity,
		ID:         l.ID,
		Timestamp:  l.Timestamp,
		UserID:     deref(l.UserID),
		Action:     string(l.Action),
		Method:     l.Method,
		Path:       l.Path,
		IPAddress:  deref(l.IPAddress),
		UserAgent:  l.UserAgent,
		StatusCode: l.StatusCode,
		Extra:      l.Extra,
	}
}

// shippedError omits the stack trace, which stays server-side
func shippedError(l *models.ErrorLog) *ShippedRecord {
	r := &ShippedRecord{
		Kind:      telemetry.KindError,
		ID:        l.ID,
		Timestamp: l.Timestamp,
		UserID:    deref(l.UserID),
		Method:    l.Method,
		Path:      l.Endpoint,
		IPAddress: deref(l.IPAddress),
		UserAgent: l.UserAgent,
		Message:   l.Message,
	}
	if l.StatusCode != nil {
		r.StatusCode = *l.StatusCode
	}
	return r
}

// Shipper delivers stored records to an external destination
type Shipper interface {
	Ship(ctx context.Context, rec *ShippedRecord) error
	Close() error
}

// ShipperConfig selects and configures one shipper
type ShipperConfig struct {
	Type    string // webhook, file
	Webhook *WebhookShipperConfig
	File    *FileShipperConfig
}

// WebhookShipperConfig holds webhook shipper configuration
type WebhookShipperConfig struct {
	URL     string
	Headers map[string]string
	Timeout time.Duration
	// BatchSize is how many records to buffer before posting a JSON array (0 = post each record)
	BatchSize     int
	FlushInterval time.Duration
}

// FileShipperConfig holds file shipper configuration
type FileShipperConfig struct {
	Path       string
	MaxSizeMB  int // rotate once the file exceeds this size (0 = never)
	MaxBackups int
}

// MultiShipper fans each record out to every configured shipper
type MultiShipper struct {
	shippers []Shipper
	names    []string
	mu       sync.RWMutex
}

// NewMultiShipper builds the shippers described by configs
func NewMultiShipper(configs []ShipperConfig) (*MultiShipper, error) {
	ms := &MultiShipper{}

	for _, cfg := range configs {
		var shipper Shipper
		var err error

		switch cfg.Type {
		case "webhook":
			if cfg.Webhook == nil {
				return nil, fmt.Errorf("webhook config is required for webhook shipper")
			}
			shipper = NewWebhookShipper(cfg.Webhook)
		case "file":
			if cfg.File == nil {
				return nil, fmt.Errorf("file config is required for file shipper")
			}
			shipper, err = NewFileShipper(cfg.File)
		default:
			return nil, fmt.Errorf("unknown shipper type: %s", cfg.Type)
		}

		if err != nil {
			_ = ms.Close()
			return nil, fmt.Errorf("failed to create %s shipper: %w", cfg.Type, err)
		}

		ms.shippers = append(ms.shippers, shipper)
		ms.names = append(ms.names, cfg.Type)
	}

	return ms, nil
}

// Len reports how many shippers are configured
func (ms *MultiShipper) Len() int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.shippers)
}

// Ship sends rec to all shippers. One failing shipper does not stop the others;
// the last error is returned.
func (ms *MultiShipper) Ship(ctx context.Context, rec *ShippedRecord) error {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var lastErr error
	for i, shipper := range ms.shippers {
		if err := shipper.Ship(ctx, rec); err != nil {
			lastErr = err
			telemetry.RecordShipFailuresTotal.WithLabelValues(ms.names[i]).Inc()
			slog.Warn("record shipper failed", "shipper", ms.names[i], "record_id", rec.ID, "error", err)
		}
	}
	return lastErr
}

// Close closes all shippers
func (ms *MultiShipper) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var lastErr error
	for _, shipper := range ms.shippers {
		if err := shipper.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// WebhookShipper posts records to an HTTP endpoint, optionally in batches
type WebhookShipper struct {
	cfg       *WebhookShipperConfig
	client    *http.Client
	batchCh   chan *ShippedRecord
	batch     []*ShippedRecord
	batchMu   sync.Mutex
	closeCh   chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

// NewWebhookShipper creates a webhook shipper. With BatchSize > 0 a background
// goroutine buffers records until the batch fills or the flush interval elapses.
func NewWebhookShipper(cfg *WebhookShipperConfig) *WebhookShipper {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	ws := &WebhookShipper{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		batchCh: make(chan *ShippedRecord, 1000),
		closeCh: make(chan struct{}),
		doneCh:  make(chan struct{}),
	}

	if cfg.BatchSize > 0 {
		go ws.processBatches()
	} else {
		close(ws.doneCh)
	}

	return ws
}

func (ws *WebhookShipper) processBatches() {
	defer close(ws.doneCh)

	flushInterval := ws.cfg.FlushInterval
	if flushInterval == 0 {
		flushInterval = 5 * time.Second
	}

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case rec := <-ws.batchCh:
			ws.batchMu.Lock()
			ws.batch = append(ws.batch, rec)
			if len(ws.batch) >= ws.cfg.BatchSize {
				ws.flushBatch()
			}
			ws.batchMu.Unlock()
		case <-ticker.C:
			ws.batchMu.Lock()
			ws.flushBatch()
			ws.batchMu.Unlock()
		case <-ws.closeCh:
			ws.batchMu.Lock()
		drain:
			for {
				select {
				case rec := <-ws.batchCh:
					ws.batch = append(ws.batch, rec)
				default:
					break drain
				}
			}
			ws.flushBatch()
			ws.batchMu.Unlock()
			return
		}
	}
}

// flushBatch posts the buffered records. Callers hold batchMu.
func (ws *WebhookShipper) flushBatch() {
	if len(ws.batch) == 0 {
		return
	}

	data, err := json.Marshal(ws.batch)
	ws.batch = ws.batch[:0]
	if err != nil {
		slog.Warn("failed to marshal record batch", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), ws.cfg.Timeout)
	defer cancel()

	if err := ws.post(ctx, data); err != nil {
		telemetry.RecordShipFailuresTotal.WithLabelValues("webhook").Inc()
		slog.Warn("failed to send record batch", "error", err)
	}
}

// Ship queues rec when batching, falling back to a direct post if the queue is full
func (ws *WebhookShipper) Ship(ctx context.Context, rec *ShippedRecord) error {
	if ws.cfg.BatchSize > 0 {
		select {
		case ws.batchCh <- rec:
			return nil
		default:
		}
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	return ws.post(ctx, data)
}

func (ws *WebhookShipper) post(ctx context.Context, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ws.cfg.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range ws.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := ws.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Close stops the batch processor after flushing what is buffered
func (ws *WebhookShipper) Close() error {
	ws.closeOnce.Do(func() {
		close(ws.closeCh)
	})
	<-ws.doneCh
	return nil
}

// FileShipper appends records as JSON lines, rotating by size
type FileShipper struct {
	cfg  *FileShipperConfig
	file *os.File
	mu   sync.Mutex
}

// NewFileShipper opens (or creates) the target file for appending
func NewFileShipper(cfg *FileShipperConfig) (*FileShipper, error) {
	file, err := os.OpenFile(cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open record file: %w", err)
	}
	return &FileShipper{cfg: cfg, file: file}, nil
}

// Ship writes rec as one JSON line
func (fs *FileShipper) Ship(_ context.Context, rec *ShippedRecord) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.cfg.MaxSizeMB > 0 {
		info, err := fs.file.Stat()
		if err == nil && info.Size() > int64(fs.cfg.MaxSizeMB)*1024*1024 {
			if err := fs.rotate(); err != nil {
				return fmt.Errorf("failed to rotate record file: %w", err)
			}
		}
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	if _, err := fs.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return nil
}

// rotate shifts path.N to path.N+1, moves the live file to path.1 and reopens path
func (fs *FileShipper) rotate() error {
	if err := fs.file.Close(); err != nil {
		return err
	}

	for i := fs.cfg.MaxBackups - 1; i >= 1; i-- {
		_ = os.Rename(fmt.Sprintf("%s.%d", fs.cfg.Path, i), fmt.Sprintf("%s.%d", fs.cfg.Path, i+1))
	}
	_ = os.Rename(fs.cfg.Path, fs.cfg.Path+".1")
	if fs.cfg.MaxBackups > 0 {
		_ = os.Remove(fmt.Sprintf("%s.%d", fs.cfg.Path, fs.cfg.MaxBackups+1))
	}

	file, err := os.OpenFile(fs.cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	fs.file = file
	return nil
}

// Close closes the file
func (fs *FileShipper) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.file.Close()
}
