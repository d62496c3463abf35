package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeframe(t *testing.T) {
	tests := []struct {
		in       string
		want     Timeframe
		duration time.Duration
		label    string
	}{
		{"1m", Timeframe1m, time.Minute, "1m"},
		{"15m", Timeframe15m, 15 * time.Minute, "15m"},
		{"30m", Timeframe30m, 30 * time.Minute, "30m"},
		{"1h", Timeframe1h, time.Hour, "1hr"},
		{"6h", Timeframe6h, 6 * time.Hour, "6hr"},
		{"12h", Timeframe12h, 12 * time.Hour, "12hr"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			tf, err := ParseTimeframe(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, tf)
			assert.Equal(t, tt.in, tf.Token())
			assert.Equal(t, tt.duration, tf.Duration())
			assert.Equal(t, tt.label, tf.Label())
		})
	}
}

func TestParseTimeframe_Unknown(t *testing.T) {
	for _, in := range []string{"", "5m", "1H", "1d", " 1m"} {
		_, err := ParseTimeframe(in)
		assert.True(t, errors.Is(err, ErrUnknownTimeframe), "input %q", in)
	}
	assert.False(t, Timeframe("2h").Valid())
	assert.Zero(t, Timeframe("2h").Duration())
}

func TestTimeframes_ReturnsCopy(t *testing.T) {
	tfs := Timeframes()
	require.Len(t, tfs, 6)
	assert.Equal(t, Timeframe1m, tfs[0])
	assert.Equal(t, DefaultTimeframe, tfs[0])

	tfs[0] = Timeframe12h
	assert.Equal(t, Timeframe1m, Timeframes()[0])
}

func TestConnState(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "streaming", StateStreaming.String())
	assert.Equal(t, "unknown", ConnState(42).String())

	assert.True(t, StateConnecting.Active())
	assert.True(t, StateSubscribed.Active())
	assert.True(t, StateStreaming.Active())
	assert.False(t, StateIdle.Active())
	assert.False(t, StateDisconnected.Active())
	assert.False(t, StateFailed.Active())

	data, err := json.Marshal(map[string]ConnState{"state": StateFailed})
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"failed"}`, string(data))
}
