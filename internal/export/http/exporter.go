// Package http streams records as NDJSON to an HTTP collector.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	processor "github.com/ethpandaops/go-batch-processor"
	"github.com/sirupsen/logrus"
)

// StatusError is returned when the collector answers outside 2xx.
type StatusError struct {
	Code int
	// Body is the start of the response body, for diagnostics.
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status code: %d", e.Code)
	}

	return fmt.Sprintf("unexpected status code: %d: %s", e.Code, e.Body)
}

// maxErrorBody caps how much of a failed response is kept.
const maxErrorBody = 512

// Exporter POSTs batches of T as NDJSON. It implements
// processor.ItemExporter.
type Exporter[T any] struct {
	log        logrus.FieldLogger
	address    string
	headers    http.Header
	client     *http.Client
	compressor *Compressor
}

var _ processor.ItemExporter[any] = (*Exporter[any])(nil)

// NewExporter validates cfg after applying defaults.
func NewExporter[T any](log logrus.FieldLogger, cfg Config) (*Exporter[T], error) {
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	compressor, err := NewCompressor(cfg.Compression)
	if err != nil {
		return nil, err
	}

	headers := make(http.Header, len(cfg.Headers)+2)
	for k, v := range cfg.Headers {
		headers.Set(k, v)
	}

	// Content headers describe the payload and win over configured ones.
	headers.Set("Content-Type", "application/x-ndjson")

	if enc := compressor.ContentEncoding(); enc != "" {
		headers.Set("Content-Encoding", enc)
	}

	idle := cfg.Workers * 2

	return &Exporter[T]{
		log:     log.WithField("component", "http_exporter"),
		address: cfg.Address,
		headers: headers,
		client: &http.Client{
			Timeout: cfg.ExportTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        idle,
				MaxIdleConnsPerHost: idle,
				IdleConnTimeout:     90 * time.Second,
				DisableKeepAlives:   !cfg.IsKeepAlive(),
			},
		},
		compressor: compressor,
	}, nil
}

// ExportItems sends one batch. Nil items are skipped; an empty batch sends
// nothing.
func (e *Exporter[T]) ExportItems(ctx context.Context, items []*T) error {
	body, n, err := encodeNDJSON(items)
	if err != nil {
		return err
	}

	if n == 0 {
		return nil
	}

	payload, err := e.compressor.Compress(body)
	if err != nil {
		return err
	}

	if err := e.post(ctx, payload); err != nil {
		return err
	}

	e.log.WithFields(logrus.Fields{
		"items":      n,
		"bytes":      len(body),
		"compressed": len(payload),
	}).Debug("Exported batch via HTTP")

	return nil
}

func (e *Exporter[T]) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.address, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header = e.headers.Clone()

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)

		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	_, _ = io.Copy(io.Discard, resp.Body)

	return &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
}

// Shutdown releases the compressor.
func (e *Exporter[T]) Shutdown(_ context.Context) error {
	return e.compressor.Close()
}

func encodeNDJSON[T any](items []*T) ([]byte, int, error) {
	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	n := 0

	for _, item := range items {
		if item == nil {
			continue
		}

		if err := enc.Encode(item); err != nil {
			return nil, 0, fmt.Errorf("encoding item: %w", err)
		}

		n++
	}

	return buf.Bytes(), n, nil
}

// NewProcessor wraps an Exporter in a batching processor. Call Start on
// the result before writing.
func NewProcessor[T any](
	log logrus.FieldLogger,
	cfg Config,
	name string,
) (*processor.BatchItemProcessor[T], error) {
	exporter, err := NewExporter[T](log, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating exporter: %w", err)
	}

	// ApplyDefaults on a copy so the options match the exporter.
	cfg.ApplyDefaults()

	proc, err := processor.NewBatchItemProcessor[T](
		exporter,
		name,
		log,
		processor.WithMaxQueueSize(cfg.MaxQueueSize),
		processor.WithBatchTimeout(cfg.BatchTimeout),
		processor.WithExportTimeout(cfg.ExportTimeout),
		processor.WithMaxExportBatchSize(cfg.BatchSize),
		processor.WithWorkers(cfg.Workers),
	)
	if err != nil {
		return nil, fmt.Errorf("creating processor: %w", err)
	}

	return proc, nil
}
