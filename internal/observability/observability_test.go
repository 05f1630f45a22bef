package observability

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/couchcryptid/obs-decoder-service/internal/config"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_JSONFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", "json")

	logger.Info("dropped")
	logger.Warn("kept", "code", "022043")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "kept", entry["msg"])
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "022043", entry["code"])
	assert.Equal(t, "obs-decoder", entry["service"])
}

func TestNewLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "debug", "TEXT")

	logger.Debug("subset faulted", "path", "S#0>306004")

	assert.Contains(t, buf.String(), "level=DEBUG")
	assert.Contains(t, buf.String(), "path=S#0>306004")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", parseLevel("debug").String())
	assert.Equal(t, "WARN", parseLevel("warning").String())
	assert.Equal(t, "ERROR", parseLevel("ERROR").String())
	assert.Equal(t, "INFO", parseLevel("bogus").String())
}

func TestNewLogger_WritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "decoder.log")
	cfg := &config.Config{
		LogLevel:      "info",
		LogFormat:     "json",
		LogFile:       path,
		LogMaxSizeMB:  1,
		LogMaxBackups: 1,
		LogMaxAgeDays: 1,
	}

	NewLogger(cfg).Info("rules loaded", "entries", 42)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"rules loaded"`)
	assert.Contains(t, string(data), `"entries":42`)
}

func TestMetricsForTesting_Independent(t *testing.T) {
	a := NewMetricsForTesting()
	b := NewMetricsForTesting()

	a.SubsetFaults.WithLabelValues("raise_triggered").Inc()
	a.SubsetsDecoded.Add(3)

	assert.InDelta(t, 1.0, testutil.ToFloat64(a.SubsetFaults.WithLabelValues("raise_triggered")), 0)
	assert.InDelta(t, 3.0, testutil.ToFloat64(a.SubsetsDecoded), 0)
	assert.InDelta(t, 0.0, testutil.ToFloat64(b.SubsetsDecoded), 0)
}
