package printx

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintTableAlignsColumns(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintTable(&buf, []string{"ID", "STATUS"}, [][]string{
		{"run_1", "passed"},
		{"run_0123456789", "failed"},
	}))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	col := strings.Index(lines[0], "STATUS")
	assert.Equal(t, col, strings.Index(lines[1], "passed"))
	assert.Equal(t, col, strings.Index(lines[2], "failed"))
}

func TestPrintStandardHeader(t *testing.T) {
	var buf bytes.Buffer
	PrintStandardHeader(&buf, "SUMMARY")
	assert.Equal(t, "\n"+strings.Repeat("-", barWidth)+"\nSUMMARY\n"+strings.Repeat("-", barWidth)+"\n", buf.String())
}
