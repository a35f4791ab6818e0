package transcript

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTranscript = `{"type":"user","message":{"role":"user","content":"please fix the failing test"}}
{"type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","id":"t1","name":"Bash","input":{}}]}}
{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"The test is fixed."},{"type":"text","text":"All checks pass."}]}}
`

func TestParseFromBytes(t *testing.T) {
	lines, err := ParseFromBytes([]byte(sampleTranscript))
	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.Equal(t, TypeUser, lines[0].Type)
	assert.Equal(t, TypeAssistant, lines[1].Type)
}

func TestParseFromBytes_SkipsMalformedLines(t *testing.T) {
	content := "not json\n" + `{"type":"user","message":{"role":"user","content":"hi"}}` + "\n"
	lines, err := ParseFromBytes([]byte(content))
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, TypeUser, lines[0].Type)
}

func TestParseFromBytes_NoTrailingNewline(t *testing.T) {
	content := `{"type":"user","message":{"role":"user","content":"hi"}}`
	lines, err := ParseFromBytes([]byte(content))
	require.NoError(t, err)
	require.Len(t, lines, 1)
}

func TestParseFile_Missing(t *testing.T) {
	lines, err := ParseFile(filepath.Join(t.TempDir(), "nope.jsonl"))
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcript.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(sampleTranscript), 0o644))

	lines, err := ParseFile(path)
	require.NoError(t, err)
	assert.Len(t, lines, 3)
}

func TestLastAssistantText(t *testing.T) {
	lines, err := ParseFromBytes([]byte(sampleTranscript))
	require.NoError(t, err)
	assert.Equal(t, "The test is fixed.\n\nAll checks pass.", LastAssistantText(lines))
}

func TestLastAssistantText_SkipsToolOnlyMessages(t *testing.T) {
	content := `{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"earlier answer"}]}}
{"type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","id":"t1","name":"Bash","input":{}}]}}
`
	lines, err := ParseFromBytes([]byte(content))
	require.NoError(t, err)
	assert.Equal(t, "earlier answer", LastAssistantText(lines))
}

func TestLastAssistantText_Empty(t *testing.T) {
	assert.Equal(t, "", LastAssistantText(nil))
}

func TestExtractText_StringContent(t *testing.T) {
	assert.Equal(t, "plain string", ExtractText([]byte(`{"role":"user","content":"plain string"}`)))
}

func TestExtractText_Malformed(t *testing.T) {
	assert.Equal(t, "", ExtractText([]byte(`not json`)))
	assert.Equal(t, "", ExtractText([]byte(`{"role":"user","content":42}`)))
}
