package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"

	"github.com/zwldarren/ai-hedge-fund-sub000/errors"
	"github.com/zwldarren/ai-hedge-fund-sub000/metric"
)

// frameSeparator delimits frames on the wire. A frame boundary may fall
// anywhere relative to chunk boundaries; the parser buffers across chunks.
var frameSeparator = []byte("\n\n")

var (
	eventPrefix = []byte("event:")
	dataPrefix  = []byte("data:")
)

// Handler receives each decoded frame in arrival order. It is invoked
// synchronously from Feed/Flush, so ordering within one stream is the
// wire ordering.
type Handler func(eventType string, data json.RawMessage)

// Parser reassembles framed events from an incrementally delivered byte
// stream. Feed it raw chunks as they arrive; complete frames are dispatched
// immediately, the trailing partial fragment is retained for the next chunk.
//
// Malformed frames (missing event/data line, invalid JSON) are logged,
// counted and skipped. They never abort the stream.
type Parser struct {
	handler Handler
	logger  *slog.Logger
	metrics *metric.Metrics

	buf []byte
}

// NewParser creates a parser that dispatches decoded frames to handler.
// logger and metrics may be nil.
func NewParser(handler Handler, logger *slog.Logger, metrics *metric.Metrics) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{
		handler: handler,
		logger:  logger,
		metrics: metrics,
	}
}

// Feed appends a raw chunk and dispatches any frames it completes.
func (p *Parser) Feed(chunk []byte) {
	p.buf = append(p.buf, chunk...)
	for {
		idx := bytes.Index(p.buf, frameSeparator)
		if idx < 0 {
			return
		}
		frame := p.buf[:idx]
		p.buf = p.buf[idx+len(frameSeparator):]
		p.dispatch(frame)
	}
}

// Flush dispatches a trailing frame that arrived without a final separator.
// Call it once at end of stream.
func (p *Parser) Flush() {
	frame := bytes.TrimSpace(p.buf)
	p.buf = nil
	if len(frame) > 0 {
		p.dispatch(frame)
	}
}

// Pending returns the number of buffered bytes awaiting a frame boundary.
func (p *Parser) Pending() int {
	return len(p.buf)
}

func (p *Parser) dispatch(frame []byte) {
	var eventType string
	var data []byte

	for _, line := range bytes.Split(frame, []byte("\n")) {
		line = bytes.TrimSuffix(line, []byte("\r"))
		switch {
		case eventType == "" && bytes.HasPrefix(line, eventPrefix):
			eventType = string(bytes.TrimSpace(line[len(eventPrefix):]))
		case data == nil && bytes.HasPrefix(line, dataPrefix):
			data = bytes.TrimSpace(line[len(dataPrefix):])
		}
	}

	if eventType == "" || data == nil {
		p.logger.Warn("Skipping malformed frame", "reason", "missing event or data line", "frame_bytes", len(frame))
		if p.metrics != nil {
			p.metrics.FramesMalformed.Inc()
		}
		return
	}

	if !json.Valid(data) {
		p.logger.Warn("Skipping malformed frame", "reason", "invalid JSON payload", "event", eventType)
		if p.metrics != nil {
			p.metrics.FramesMalformed.Inc()
		}
		return
	}

	if p.metrics != nil {
		p.metrics.FramesParsed.WithLabelValues(eventType).Inc()
	}
	p.handler(eventType, json.RawMessage(data))
}

// ReadBody pumps an open response body through the parser until EOF or
// context cancellation. Cancellation is a normal terminal path: the pump
// stops promptly and returns nil, never an error.
func ReadBody(ctx context.Context, r io.Reader, p *Parser) error {
	chunk := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := r.Read(chunk)
		if n > 0 {
			p.Feed(chunk[:n])
		}
		if err != nil {
			if err == io.EOF {
				p.Flush()
				return nil
			}
			// Cancelling the request context surfaces here as a read
			// error; treat it as a clean stop, not a transport failure.
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return errors.WrapTransient(err, "stream", "ReadBody", "read chunk")
		}
	}
}
