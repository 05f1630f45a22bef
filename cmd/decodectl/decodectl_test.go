package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/couchcryptid/obs-decoder-service/internal/domain"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tableFile = filepath.Join("..", "..", "configs", "bufr_map.yaml")

func run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := NewRootCommand(strings.NewReader(stdin), &stdout, &stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestValidate_DefaultTable(t *testing.T) {
	out, _, err := run(t, "", "validate", "--rules", tableFile)
	require.NoError(t, err)
	assert.Contains(t, out, "entries, version ")
}

func TestValidate_ReportsIssues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("1011: {type: metadata}\n5001: {type: coordinates, name: Lat, apply_to: following}\n"), 0o600))

	_, _, err := run(t, "", "validate", "--rules", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "001011")
	assert.Contains(t, err.Error(), "005001")
	assert.Contains(t, err.Error(), "2 issue(s)")
	assert.Contains(t, err.Error(), "metadata rule requires a name")
}

func TestValidate_RulesFromEnv(t *testing.T) {
	t.Setenv("DECODECTL_RULES", tableFile)
	out, _, err := run(t, "", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, tableFile)
}

func TestValidate_NormalizePrintsCanonicalYAML(t *testing.T) {
	out, _, err := run(t, "", "validate", "--rules", tableFile, "--normalize")
	require.NoError(t, err)
	assert.Contains(t, out, "type: metadata")
	assert.Contains(t, out, "name: CallSign")
}

func TestResolve_ContextOverride(t *testing.T) {
	out, _, err := run(t, "", "resolve", "--rules", tableFile, "022043", "8080")
	require.NoError(t, err)
	assert.Contains(t, out, "022043\tvariables:Temperature/target")
	assert.Contains(t, out, "008080\traise")

	out, _, err = run(t, "", "resolve", "--rules", tableFile, "--context", "306005", "0-22-043", "99999")
	require.NoError(t, err)
	assert.Contains(t, out, "022043\tvariables:SeaSurfaceTemperature/target")
	assert.Contains(t, out, "099999\tno rule")
}

func TestResolve_InvalidCode(t *testing.T) {
	_, _, err := run(t, "", "resolve", "--rules", tableFile, "9-99-999")
	assert.Error(t, err)
}

const twoStreams = `{"id": "a", "tokens": [
  {"op": "message_start"}, {"op": "subset_start"},
  {"op": "value", "code": 1011, "value": "7KET"},
  {"op": "subset_end"}, {"op": "message_end"}]}
{"id": "b", "tokens": [
  {"op": "message_start"}, {"op": "subset_start"},
  {"op": "value", "code": 8080, "value": {"code": 0}},
  {"op": "subset_end"}, {"op": "message_end"}]}
`

func TestDecode_StdinStreams(t *testing.T) {
	out, _, err := run(t, twoStreams, "decode", "--rules", tableFile, "--at", "2024-04-26T15:10:00Z")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)

	var first, second domain.DecodedMessage
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))

	assert.Equal(t, "a", first.ID)
	require.Len(t, first.Records, 1)
	assert.Empty(t, first.Faults)
	assert.Equal(t, "2024-04-26T15:10:00Z", first.DecodedAt.Format("2006-01-02T15:04:05Z07:00"))

	assert.Equal(t, "b", second.ID)
	assert.Empty(t, second.Records)
	require.Len(t, second.Faults, 1)
	assert.Equal(t, "raise_triggered", second.Faults[0].Kind)
}

func TestDecode_StrictFailsOnFaults(t *testing.T) {
	_, _, err := run(t, twoStreams, "decode", "--rules", tableFile, "--strict")
	require.ErrorIs(t, err, errFaults)
}

func TestDecode_FileArgumentAndIdempotence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "streams.json")
	require.NoError(t, os.WriteFile(path, []byte(twoStreams), 0o600))

	first, _, err := run(t, "", "decode", "--rules", tableFile, "--at", "2024-04-26T15:10:00Z", path)
	require.NoError(t, err)
	second, _, err := run(t, "", "decode", "--rules", tableFile, "--at", "2024-04-26T15:10:00Z", path)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestDecode_InvalidInput(t *testing.T) {
	_, _, err := run(t, "not json", "decode", "--rules", tableFile)
	assert.Error(t, err)
}
