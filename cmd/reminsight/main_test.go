package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadRows(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "rows.CSV")
	require.NoError(t, os.WriteFile(csvPath, []byte("a,b\n1,2\n3,\n"), 0o644))
	jsonPath := filepath.Join(dir, "rows.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"rows":[{"a":1}],"subject_id":"s-9"}`), 0o644))

	req, err := readRows(nil, csvPath, "")
	require.NoError(t, err)
	assert.Len(t, req.Rows, 2)
	assert.Equal(t, map[string]any{"a": "3"}, req.Rows[1])

	req, err = readRows(nil, jsonPath, "")
	require.NoError(t, err)
	assert.Len(t, req.Rows, 1)
	assert.Equal(t, "s-9", req.SubjectID)

	req, err = readRows(strings.NewReader(`[{"a":1},{"a":2}]`), "-", "json")
	require.NoError(t, err)
	assert.Len(t, req.Rows, 2)

	_, err = readRows(nil, jsonPath, "xml")
	assert.Error(t, err)
	_, err = readRows(nil, filepath.Join(dir, "missing.json"), "")
	assert.Error(t, err)
}

func TestPrintVersions(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printVersions(&buf, []string{"v1", "v2"}, "v1", false))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[2], "v2")
	assert.Contains(t, lines[2], "*")

	buf.Reset()
	require.NoError(t, printVersions(&buf, nil, "", false))
	assert.Contains(t, buf.String(), "no model versions found")

	buf.Reset()
	require.NoError(t, printVersions(&buf, []string{"v1"}, "", true))
	assert.Contains(t, buf.String(), `"latest": "v1"`)
}
