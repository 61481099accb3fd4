package notiflog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Record
	}{
		{"kind and path", "DELETED|/a/b", R("DELETED", "/a/b")},
		{"extra fields", "MODIFIED|/a|old|new", Record{Kind: "MODIFIED", Path: "/a", Extra: []string{"old", "new"}}},
		{"empty path", "CREATED|", R("CREATED", "")},
		{"path with brackets", "DELETED|/if:interfaces/interface[name='eth0']", R("DELETED", "/if:interfaces/interface[name='eth0']")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLine(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseLine("DELETED")
	require.ErrorIs(t, err, ErrMalformed)
}

func TestParse(t *testing.T) {
	input := "DELETED|/a\r\n\nDELETED|/a/b\n   \nCREATED|/c|x\n"

	records, err := Parse(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, R("DELETED", "/a"), records[0])
	assert.Equal(t, R("DELETED", "/a/b"), records[1])
	assert.Equal(t, []string{"x"}, records[2].Extra)
}

func TestParse_NoTrailingNewline(t *testing.T) {
	records, err := Parse(strings.NewReader("DELETED|/a\nDELETED|/b"))
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestParse_MalformedLineNumber(t *testing.T) {
	_, err := Parse(strings.NewReader("DELETED|/a\n\ngarbage\n"))
	require.ErrorIs(t, err, ErrMalformed)
	assert.Contains(t, err.Error(), "line 3")
}

func TestReadLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log")
	require.NoError(t, os.WriteFile(path, []byte("DELETED|/a\nDELETED|/a/b\n"), 0o644))

	records, err := ReadLog(path)
	require.NoError(t, err)
	assert.Equal(t, []Record{R("DELETED", "/a"), R("DELETED", "/a/b")}, records)

	_, err = ReadLog(filepath.Join(t.TempDir(), "missing"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestCompare(t *testing.T) {
	expected := []Record{R("DELETED", "/a"), R("DELETED", "/a/b"), R("DELETED", "/a/c")}

	t.Run("equal", func(t *testing.T) {
		actual := []Record{R("DELETED", "/a"), R("DELETED", "/a/b"), {Kind: "DELETED", Path: "/a/c", Extra: []string{"ignored"}}}
		assert.NoError(t, Compare(expected, actual))
	})

	t.Run("length", func(t *testing.T) {
		err := Compare(expected, expected[:2])
		var mm *MismatchError
		require.ErrorAs(t, err, &mm)
		assert.Equal(t, -1, mm.Index)
		assert.Contains(t, err.Error(), "expected 3, got 2")
	})

	t.Run("kind differs", func(t *testing.T) {
		actual := []Record{R("DELETED", "/a"), R("CREATED", "/a/b"), R("DELETED", "/a/c")}
		var mm *MismatchError
		require.ErrorAs(t, Compare(expected, actual), &mm)
		assert.Equal(t, 1, mm.Index)
	})

	t.Run("order differs", func(t *testing.T) {
		actual := []Record{R("DELETED", "/a"), R("DELETED", "/a/c"), R("DELETED", "/a/b")}
		var mm *MismatchError
		require.ErrorAs(t, Compare(expected, actual), &mm)
		assert.Equal(t, 1, mm.Index)
		assert.Contains(t, mm.Detail(), "!   1")
	})

	t.Run("both empty", func(t *testing.T) {
		assert.NoError(t, Compare(nil, []Record{}))
	})
}

func TestIsSubsequence(t *testing.T) {
	super := []Record{R("D", "/a"), R("D", "/a/b"), R("D", "/a/b/c"), R("D", "/a/d")}

	assert.True(t, IsSubsequence(nil, super))
	assert.True(t, IsSubsequence(super, super))
	assert.True(t, IsSubsequence([]Record{R("D", "/a/b"), R("D", "/a/d")}, super))
	assert.False(t, IsSubsequence([]Record{R("D", "/a/d"), R("D", "/a/b")}, super), "order matters")
	assert.False(t, IsSubsequence([]Record{R("D", "/x")}, super))
	assert.False(t, IsSubsequence([]Record{R("D", "/a"), R("D", "/a")}, super), "each super record matches once")

	err := CheckSubsequence([]Record{R("D", "/a/b"), R("D", "/x")}, super)
	var mm *MismatchError
	require.ErrorAs(t, err, &mm)
	assert.Equal(t, 1, mm.Index)
}
