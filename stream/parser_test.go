package stream

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedEvent struct {
	Type string
	Data string
}

func collect(events *[]capturedEvent) Handler {
	return func(eventType string, data json.RawMessage) {
		*events = append(*events, capturedEvent{Type: eventType, Data: string(data)})
	}
}

const sampleStream = "event: start\ndata: {}\n\n" +
	"event: progress\ndata: {\"agent\":\"a\",\"ticker\":\"AAPL\",\"status\":\"In progress\",\"timestamp\":\"t1\"}\n\n" +
	"event: progress\ndata: {\"agent\":\"a\",\"ticker\":\"AAPL\",\"status\":\"Done\",\"timestamp\":\"t2\"}\n\n" +
	"event: complete\ndata: {\"data\":{\"decisions\":{},\"analyst_signals\":{}}}\n\n"

// For any split of a valid frame sequence across chunk boundaries, the
// parser must yield the same ordered event list as a single-chunk feed.
func TestFeedReassemblyAcrossChunkBoundaries(t *testing.T) {
	var want []capturedEvent
	whole := NewParser(collect(&want), nil, nil)
	whole.Feed([]byte(sampleStream))
	whole.Flush()
	require.Len(t, want, 4)

	for size := 1; size <= len(sampleStream); size++ {
		var got []capturedEvent
		p := NewParser(collect(&got), nil, nil)
		for i := 0; i < len(sampleStream); i += size {
			end := i + size
			if end > len(sampleStream) {
				end = len(sampleStream)
			}
			p.Feed([]byte(sampleStream[i:end]))
		}
		p.Flush()
		assert.Equal(t, want, got, "chunk size %d", size)
	}
}

func TestFeedDispatchesInArrivalOrder(t *testing.T) {
	var got []capturedEvent
	p := NewParser(collect(&got), nil, nil)
	p.Feed([]byte(sampleStream))

	require.Len(t, got, 4)
	assert.Equal(t, "start", got[0].Type)
	assert.Equal(t, "progress", got[1].Type)
	assert.Equal(t, "progress", got[2].Type)
	assert.Equal(t, "complete", got[3].Type)
}

func TestMalformedFramesAreSkipped(t *testing.T) {
	tests := []struct {
		name   string
		frames string
		want   int
	}{
		{
			name:   "missing data line",
			frames: "event: progress\n\nevent: start\ndata: {}\n\n",
			want:   1,
		},
		{
			name:   "missing event line",
			frames: "data: {\"agent\":\"a\"}\n\nevent: start\ndata: {}\n\n",
			want:   1,
		},
		{
			name:   "invalid JSON payload",
			frames: "event: progress\ndata: {not json}\n\nevent: start\ndata: {}\n\n",
			want:   1,
		},
		{
			name:   "empty fragment between separators",
			frames: "\n\nevent: start\ndata: {}\n\n",
			want:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []capturedEvent
			p := NewParser(collect(&got), nil, nil)
			p.Feed([]byte(tt.frames))
			p.Flush()
			assert.Len(t, got, tt.want)
		})
	}
}

func TestFlushHandlesTrailingFrameWithoutSeparator(t *testing.T) {
	var got []capturedEvent
	p := NewParser(collect(&got), nil, nil)
	p.Feed([]byte("event: error\ndata: {\"message\":\"model quota exceeded\"}"))
	assert.Empty(t, got)

	p.Flush()
	require.Len(t, got, 1)
	assert.Equal(t, "error", got[0].Type)
	assert.Zero(t, p.Pending())
}

func TestParserToleratesCRLF(t *testing.T) {
	var got []capturedEvent
	p := NewParser(collect(&got), nil, nil)
	p.Feed([]byte("event: start\r\ndata: {}\n\n"))
	require.Len(t, got, 1)
	assert.Equal(t, "start", got[0].Type)
	assert.Equal(t, "{}", got[0].Data)
}

func TestReadBodyFlushesAtEOF(t *testing.T) {
	var got []capturedEvent
	p := NewParser(collect(&got), nil, nil)

	r := strings.NewReader("event: start\ndata: {}\n\nevent: error\ndata: {\"message\":\"x\"}")
	err := ReadBody(context.Background(), r, p)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

// blockingReader blocks until its context is cancelled, then fails the read
// the way an aborted HTTP body does.
type blockingReader struct {
	ctx context.Context
}

func (b *blockingReader) Read([]byte) (int, error) {
	<-b.ctx.Done()
	return 0, b.ctx.Err()
}

func TestReadBodyCancellationIsNotAnError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var got []capturedEvent
	p := NewParser(collect(&got), nil, nil)

	done := make(chan error, 1)
	go func() {
		done <- ReadBody(ctx, &blockingReader{ctx: ctx}, p)
	}()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("ReadBody did not stop after cancellation")
	}
	assert.Empty(t, got)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, io.ErrUnexpectedEOF
}

func TestReadBodyTransportFailureIsTransient(t *testing.T) {
	p := NewParser(func(string, json.RawMessage) {}, nil, nil)
	err := ReadBody(context.Background(), failingReader{}, p)
	require.Error(t, err)
}
