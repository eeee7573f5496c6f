package stream

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeProgress(t *testing.T) {
	ev, err := DecodeProgress(json.RawMessage(
		`{"agent":"warren_buffett","ticker":"AAPL","status":"Done","timestamp":"2026-01-02T15:04:05Z","analysis":{"signal":"bullish"}}`))
	require.NoError(t, err)
	assert.Equal(t, "warren_buffett", ev.Agent)
	require.NotNil(t, ev.Ticker)
	assert.Equal(t, "AAPL", *ev.Ticker)
	assert.Equal(t, StatusDone, ev.Status)
	assert.Equal(t, "bullish", ev.Analysis["signal"])
}

func TestDecodeProgressNullTicker(t *testing.T) {
	ev, err := DecodeProgress(json.RawMessage(`{"agent":"risk_manager","ticker":null,"status":"In progress","timestamp":"t"}`))
	require.NoError(t, err)
	assert.Nil(t, ev.Ticker)
}

func TestDecodeProgressMissingAgent(t *testing.T) {
	_, err := DecodeProgress(json.RawMessage(`{"status":"Done","timestamp":"t"}`))
	require.Error(t, err)
}

func TestDecodeComplete(t *testing.T) {
	ev, err := DecodeComplete(json.RawMessage(
		`{"data":{"decisions":{"AAPL":{"action":"buy"}},"analyst_signals":{"warren_buffett":{}}}}`))
	require.NoError(t, err)
	assert.Contains(t, ev.Data.Decisions, "AAPL")
	assert.Contains(t, ev.Data.AnalystSignals, "warren_buffett")
}

func TestDecodeError(t *testing.T) {
	ev, err := DecodeError(json.RawMessage(`{"message":"backtest failed"}`))
	require.NoError(t, err)
	assert.Equal(t, "backtest failed", ev.Message)
}
