package ops

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefScanner(t *testing.T) {
	t.Run("finds ids anywhere in a stream", func(t *testing.T) {
		rs := newRefScanner([]string{"abc123-foo-1.0", "def456-bar-2.0"})

		_, err := rs.Write([]byte("prefix /opt/stela/store/abc123-foo-1.0/bin/foo suffix"))
		require.NoError(t, err)

		assert.True(t, rs.Has("abc123-foo-1.0"))
		assert.False(t, rs.Has("def456-bar-2.0"))

		assert.Equal(t, []string{"abc123-foo-1.0"}, rs.Found())
	})

	t.Run("finds an id split across writes", func(t *testing.T) {
		rs := newRefScanner([]string{"abc123-foo-1.0"})

		payload := []byte("linked against abc123-foo-1.0 here")

		for _, b := range payload {
			_, err := rs.Write([]byte{b})
			require.NoError(t, err)
		}

		assert.True(t, rs.Has("abc123-foo-1.0"))
	})

	t.Run("ids never match across a file boundary", func(t *testing.T) {
		rs := newRefScanner([]string{"abc123-foo-1.0"})

		_, err := rs.Write([]byte("ends with abc123-"))
		require.NoError(t, err)

		rs.NextFile()

		_, err = rs.Write([]byte("foo-1.0 starts here"))
		require.NoError(t, err)

		assert.False(t, rs.Has("abc123-foo-1.0"))
	})

	t.Run("done once every id was seen", func(t *testing.T) {
		rs := newRefScanner([]string{"aa", "bb"})

		assert.False(t, rs.Done())

		rs.Write([]byte("xxaaxx"))
		assert.False(t, rs.Done())

		rs.Write([]byte("xxbbxx"))
		assert.True(t, rs.Done())
	})

	t.Run("found ids come back sorted", func(t *testing.T) {
		rs := newRefScanner([]string{"zz-last", "aa-first", "mm-mid"})

		rs.Write([]byte("mm-mid zz-last aa-first"))

		assert.Equal(t, []string{"aa-first", "mm-mid", "zz-last"}, rs.Found())
	})
}
