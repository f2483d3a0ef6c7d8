package streaming

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"
)

var (
	// ErrWriteTimeout means the client did not accept a chunk in time.
	ErrWriteTimeout = errors.New("write timeout exceeded")

	// ErrClientGone means the request context ended before the response did.
	ErrClientGone = errors.New("client disconnected")

	// ErrStreamCanceled means the writer was closed or exceeded MaxDuration.
	ErrStreamCanceled = errors.New("stream canceled")
)

// Config bounds a Writer.
type Config struct {
	// WriteTimeout bounds each chunk.
	WriteTimeout time.Duration
	// MaxDuration bounds the whole response (0 = unlimited).
	MaxDuration time.Duration
	// ChunkSize splits writes larger than it (0 = write as received).
	ChunkSize int
}

// DefaultConfig returns the limits used for serving uploads.
func DefaultConfig() Config {
	return Config{
		WriteTimeout: 30 * time.Second,
		ChunkSize:    64 * 1024,
	}
}

// Writer is an http.ResponseWriter whose writes time out.
type Writer struct {
	http.ResponseWriter

	ctx     context.Context
	cancel  context.CancelFunc
	config  Config
	flusher http.Flusher
	start   time.Time

	mu      sync.Mutex
	written int64
	err     error
}

// NewWriter wraps w. Close it when the response is done.
func NewWriter(ctx context.Context, w http.ResponseWriter, config Config) *Writer {
	ctx, cancel := context.WithCancel(ctx)
	sw := &Writer{
		ResponseWriter: w,
		ctx:            ctx,
		cancel:         cancel,
		config:         config,
		start:          time.Now(),
	}
	if f, ok := w.(http.Flusher); ok {
		sw.flusher = f
	}
	return sw
}

// Write sends p in chunks, failing on the first chunk that times out.
func (sw *Writer) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		if err := sw.check(); err != nil {
			return total, err
		}

		n := len(p)
		if sw.config.ChunkSize > 0 && n > sw.config.ChunkSize {
			n = sw.config.ChunkSize
		}

		written, err := sw.writeChunk(p[:n])
		total += written
		if err != nil {
			sw.fail(err)
			return total, err
		}
		p = p[n:]

		if sw.config.ChunkSize > 0 && sw.flusher != nil {
			sw.flusher.Flush()
		}
	}
	return total, nil
}

// check returns the error that stops further writes, if any.
func (sw *Writer) check() error {
	sw.mu.Lock()
	err := sw.err
	sw.mu.Unlock()
	if err != nil {
		return err
	}

	if sw.ctx.Err() != nil {
		err := sw.contextError()
		sw.fail(err)
		return err
	}
	if sw.config.MaxDuration > 0 && time.Since(sw.start) > sw.config.MaxDuration {
		sw.fail(ErrStreamCanceled)
		return ErrStreamCanceled
	}
	return nil
}

func (sw *Writer) writeChunk(p []byte) (int, error) {
	if sw.config.WriteTimeout <= 0 {
		n, err := sw.ResponseWriter.Write(p)
		sw.record(n)
		return n, err
	}

	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := sw.ResponseWriter.Write(p)
		done <- result{n, err}
	}()

	timer := time.NewTimer(sw.config.WriteTimeout)
	defer timer.Stop()

	select {
	case res := <-done:
		sw.record(res.n)
		return res.n, res.err
	case <-timer.C:
		sw.cancel()
		return 0, ErrWriteTimeout
	case <-sw.ctx.Done():
		return 0, sw.contextError()
	}
}

func (sw *Writer) record(n int) {
	sw.mu.Lock()
	sw.written += int64(n)
	sw.mu.Unlock()
}

func (sw *Writer) fail(err error) {
	sw.mu.Lock()
	if sw.err == nil {
		sw.err = err
	}
	sw.mu.Unlock()
}

func (sw *Writer) contextError() error {
	if errors.Is(sw.ctx.Err(), context.Canceled) {
		sw.mu.Lock()
		closed := errors.Is(sw.err, ErrStreamCanceled)
		sw.mu.Unlock()
		if !closed {
			return ErrClientGone
		}
	}
	return ErrStreamCanceled
}

// Flush forwards to the wrapped writer when it supports flushing.
func (sw *Writer) Flush() {
	if sw.flusher != nil {
		sw.flusher.Flush()
	}
}

// Close stops the writer. Later writes return ErrStreamCanceled.
func (sw *Writer) Close() error {
	sw.fail(ErrStreamCanceled)
	sw.cancel()
	return nil
}

// Err returns the error that ended the stream, or nil.
func (sw *Writer) Err() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.err
}

// Stats returns the bytes written and the time since the writer was created.
func (sw *Writer) Stats() (written int64, elapsed time.Duration) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.written, time.Since(sw.start)
}
