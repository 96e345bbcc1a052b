// ABOUTME: Tests for definition file parsing

package records

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestIsComment(t *testing.T) {
	for _, line := range []string{"", "   ", "# hash", "; semi", "// slashes", "  # indented"} {
		assert.True(t, IsComment(line), line)
	}
	for _, line := range []string{"admin", "a,b", "/single"} {
		assert.False(t, IsComment(line), line)
	}
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "app.roles", `# roles
admin, "Administrators, all of them"
; comment

user
// trailing
`)

	recs, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, []string{"admin", "Administrators, all of them"}, recs[0].Fields)
	assert.Equal(t, 2, recs[0].Line)
	assert.Equal(t, []string{"user"}, recs[1].Fields)
	assert.Equal(t, 5, recs[1].Line)
	assert.Equal(t, "", recs[1].Field(1))
}

func TestReadFile_BadCSV(t *testing.T) {
	path := writeFile(t, t.TempDir(), "bad.rules", "a,\"unterminated\n")

	_, err := ReadFile(path)
	var malformed *MalformedError
	require.True(t, errors.As(err, &malformed))
	assert.Equal(t, 1, malformed.Line)
}

func TestReadDir_SortedByName(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.users", "bob,2\n")
	writeFile(t, dir, "a.users", "alice,1\n")
	writeFile(t, dir, "ignored.roles", "admin\n")

	recs, err := ReadDir(dir, ".users")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "alice", recs[0].Field(0))
	assert.Equal(t, "bob", recs[1].Field(0))
}

func TestRecord_Malformed(t *testing.T) {
	r := Record{File: "x.users", Line: 3, Text: "a,b,c"}
	err := r.Malformed("2")
	assert.EqualError(t, err, `malformed row in x.users line 3 (want 2 fields): "a,b,c"`)
}
