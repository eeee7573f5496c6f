package stream

import (
	"context"
	"io"
	"log/slog"

	"github.com/gorilla/websocket"

	"github.com/zwldarren/ai-hedge-fund-sub000/errors"
)

// WSSource consumes the run event stream over a websocket instead of a
// chunked HTTP body. Each text message carries one or more wire frames and
// is fed through the same Parser, so frame semantics are identical across
// transports.
type WSSource struct {
	url    string
	dialer *websocket.Dialer
	logger *slog.Logger
}

// NewWSSource creates a websocket stream source for the given URL.
func NewWSSource(url string, logger *slog.Logger) *WSSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSSource{
		url:    url,
		dialer: websocket.DefaultDialer,
		logger: logger,
	}
}

// Stream dials the websocket and pumps messages through the parser until
// the peer closes or ctx is cancelled. Cancellation returns nil.
func (s *WSSource) Stream(ctx context.Context, p *Parser) error {
	conn, resp, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return errors.WrapTransient(err, "stream", "Stream", "dial websocket")
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	defer func() { _ = conn.Close() }()

	// Closing the conn is the only way to unblock ReadMessage on cancel.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				p.Flush()
				return nil
			}
			return errors.WrapTransient(err, "stream", "Stream", "read message")
		}
		p.Feed(msg)
		p.Feed(frameSeparator)
	}
}

// WSOpener triggers runs over a websocket and adapts the message stream
// to the reader shape the run manager consumes. The run request goes out
// as the first message; every inbound message is one or more wire frames.
type WSOpener struct {
	url    string
	dialer *websocket.Dialer
	logger *slog.Logger
}

// NewWSOpener creates a websocket run opener for the given URL.
func NewWSOpener(url string, logger *slog.Logger) *WSOpener {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSOpener{
		url:    url,
		dialer: websocket.DefaultDialer,
		logger: logger,
	}
}

// OpenRun dials, sends the trigger request and returns a reader over the
// inbound frames. Closing the reader closes the connection.
func (o *WSOpener) OpenRun(ctx context.Context, req RunRequest) (io.ReadCloser, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	conn, resp, err := o.dialer.DialContext(ctx, o.url, nil)
	if err != nil {
		return nil, errors.WrapTransient(err, "stream", "OpenRun", "dial websocket")
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err := conn.WriteJSON(req); err != nil {
		_ = conn.Close()
		return nil, errors.WrapTransient(err, "stream", "OpenRun", "send run request")
	}

	pr, pw := io.Pipe()
	go func() {
		defer func() { _ = conn.Close() }()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					_ = pw.Close()
				} else {
					_ = pw.CloseWithError(err)
				}
				return
			}
			if _, err := pw.Write(append(msg, frameSeparator...)); err != nil {
				// Reader side closed; stop pumping
				return
			}
		}
	}()

	return &wsPipeReader{PipeReader: pr, conn: conn}, nil
}

// wsPipeReader closes the websocket along with the pipe so the pump
// goroutine unblocks.
type wsPipeReader struct {
	*io.PipeReader
	conn *websocket.Conn
}

func (r *wsPipeReader) Close() error {
	_ = r.conn.Close()
	return r.PipeReader.Close()
}
