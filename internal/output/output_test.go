package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_BufferHasNoColor(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf)

	w.Errorf("failed %d", 2)

	assert.Equal(t, "✗ failed 2\n", buf.String())
	assert.NotContains(t, buf.String(), "\033[")
}

func TestStatus_EmptyIconIndents(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).Status("", "detail")

	assert.Equal(t, "   detail\n", buf.String())
}

func TestSuccessAndWarning(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf)

	w.Successf("queued %s", "x")
	w.Warningf("retry %s", "y")

	assert.Equal(t, "✓ queued x\n! retry y\n", buf.String())
}

func TestKeyValue(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).KeyValue("documents", 12)

	assert.Equal(t, "  documents:       12\n", buf.String())
}

func TestTable_PadsColumns(t *testing.T) {
	// Given
	var buf bytes.Buffer
	w := New(&buf)

	// When
	w.Table([]string{"ID", "NAME"}, [][]string{
		{"9915:a#0", "Acme"},
		{"x", "Longer Name"},
	})

	// Then: each column starts at the same offset
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.Len(t, lines, 3)
	assert.Equal(t, "ID        NAME", lines[0])
	assert.Equal(t, "9915:a#0  Acme", lines[1])
	assert.Equal(t, "x         Longer Name", lines[2])
}
