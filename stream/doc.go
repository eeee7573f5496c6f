// Package stream parses the inbound run event stream and triggers runs
// against the remote job API.
//
// # Wire format
//
// The stream is a sequence of text frames separated by a blank line, each
// frame carrying an "event:" line and a "data:" line with a JSON payload:
//
//	event: progress
//	data: {"agent":"warren_buffett","ticker":"AAPL","status":"In progress","timestamp":"2026-01-02T15:04:05Z"}
//
// Recognized event names are start, progress, complete and error. A frame
// boundary may fall anywhere relative to transport chunk boundaries; Parser
// buffers partial fragments across Feed calls and dispatches each complete
// frame exactly once, in arrival order. Malformed frames are skipped, never
// fatal.
//
// # Transports
//
// ReadBody pumps a chunked HTTP response body (the default transport,
// opened by Client.OpenRun); WSSource does the same over a websocket. Both
// treat context cancellation as a clean stop rather than an error, so
// stopping a run never trips error handling.
package stream
