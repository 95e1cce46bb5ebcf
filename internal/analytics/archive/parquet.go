// Package archive exports date ranges of the NDJSON event log into columnar
// Parquet files for offline analysis, and runs ad-hoc SQL over those exports
// through DuckDB. Exports are read-only over the source partitions: nothing
// is compacted, rewritten, or deleted.
package archive

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/sisuxi/sisu-slack-bot/internal/analytics/types"
)

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
	CompressionGzip
)

// ParseCompressionType parses a compression type string.
func ParseCompressionType(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "zstd":
		return CompressionZstd
	case "lz4":
		return CompressionLZ4
	case "gzip":
		return CompressionGzip
	default:
		return CompressionNone
	}
}

func getCompression(ct CompressionType) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionLZ4:
		return &parquet.Lz4Raw
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// EventRow is the flattened Parquet representation of an Event. Optional
// nested fields are spread into nullable-by-zero columns so the schema stays
// flat for SQL.
type EventRow struct {
	Timestamp    string `parquet:"timestamp,zstd"`
	EventID      string `parquet:"event_id,zstd"`
	User         string `parquet:"user,zstd"`
	Channel      string `parquet:"channel,zstd"`
	ChannelType  string `parquet:"channel_type,zstd"`
	Command      string `parquet:"command,zstd"`
	Query        string `parquet:"query,zstd"`
	ResponseTime int64  `parquet:"response_time_ms"`
	TokensInput  int64  `parquet:"tokens_input"`
	TokensOutput int64  `parquet:"tokens_output"`
	TokensTotal  int64  `parquet:"tokens_total"`
	HasError     bool   `parquet:"has_error"`
	ErrorType    string `parquet:"error_type,optional,zstd"`
	IsInThread   bool   `parquet:"is_in_thread"`
	BotMentioned bool   `parquet:"bot_mentioned"`
}

// EventToRow flattens an Event into its Parquet representation.
func EventToRow(e *types.Event) EventRow {
	row := EventRow{
		Timestamp:    e.Timestamp,
		EventID:      e.EventID,
		User:         e.User,
		Channel:      e.Channel,
		ChannelType:  e.ChannelType,
		Command:      e.Command,
		Query:        e.Query,
		ResponseTime: e.ResponseTime,
		IsInThread:   e.IsInThread,
		BotMentioned: e.BotMentioned,
	}
	if e.TokensUsed != nil {
		row.TokensInput = int64(e.TokensUsed.Input)
		row.TokensOutput = int64(e.TokensUsed.Output)
		row.TokensTotal = int64(e.TokensUsed.Total)
	}
	if e.ErrorStatus != nil {
		row.HasError = e.ErrorStatus.HasError
		row.ErrorType = e.ErrorStatus.ErrorType
	}
	return row
}

// Options configures an archive writer.
type Options struct {
	Compression CompressionType
}

// DefaultOptions returns the default archive options.
func DefaultOptions() Options {
	return Options{Compression: CompressionZstd}
}

// ErrWriterClosed is returned when writing to a closed writer.
var ErrWriterClosed = fmt.Errorf("archive writer is closed")

// Writer writes event rows to a Parquet file.
type Writer struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	writer   *parquet.GenericWriter[EventRow]
	rowCount int64
	closed   bool
}

// NewWriter creates a Parquet writer at path, creating parent directories
// as needed.
func NewWriter(path string, opts Options) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create archive file: %w", err)
	}

	writer := parquet.NewGenericWriter[EventRow](f,
		parquet.Compression(getCompression(opts.Compression)),
	)

	return &Writer{
		path:   path,
		file:   f,
		writer: writer,
	}, nil
}

// WriteEvents appends a batch of events to the archive.
func (w *Writer) WriteEvents(events []types.Event) error {
	if len(events) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}

	rows := make([]EventRow, len(events))
	for i := range events {
		rows[i] = EventToRow(&events[i])
	}

	n, err := w.writer.Write(rows)
	if err != nil {
		return fmt.Errorf("write rows: %w", err)
	}

	w.rowCount += int64(n)
	return nil
}

// Close flushes and closes the archive file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.writer.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("close writer: %w", err)
	}
	return w.file.Close()
}

// RowCount returns the number of rows written so far.
func (w *Writer) RowCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rowCount
}

// Path returns the archive file path.
func (w *Writer) Path() string {
	return w.path
}

// Reader reads event rows back from a Parquet archive.
type Reader struct {
	file   *os.File
	reader *parquet.GenericReader[EventRow]
}

// NewReader opens a Parquet archive for reading.
func NewReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	return &Reader{
		file:   f,
		reader: parquet.NewGenericReader[EventRow](f),
	}, nil
}

// ReadAll reads every row in the archive. A read failure is an error, never
// a silently shortened result.
func (r *Reader) ReadAll() ([]EventRow, error) {
	total := r.reader.NumRows()
	rows := make([]EventRow, 0, total)

	buf := make([]EventRow, 1024)
	for int64(len(rows)) < total {
		n, err := r.reader.Read(buf)
		rows = append(rows, buf[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read archive rows: %w", err)
		}
	}
	return rows, nil
}

// NumRows returns the row count recorded in the archive metadata.
func (r *Reader) NumRows() int64 {
	return r.reader.NumRows()
}

// Close closes the reader.
func (r *Reader) Close() error {
	if err := r.reader.Close(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}
