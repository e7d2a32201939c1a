package util

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCopyContentIDMatchesContentID(t *testing.T) {
	payload := []byte("%PDF-1.4 some bytes")
	var dst bytes.Buffer
	id, n, err := CopyContentID(&dst, bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, int64(len(payload)), n)
	require.Equal(t, payload, dst.Bytes())
	require.Equal(t, ContentID(payload), id)
	require.Len(t, id, 64)
	require.NotEqual(t, ContentID([]byte("other")), id)
}

func TestSafeJoinStaysInRoot(t *testing.T) {
	root := filepath.Join("var", "uploads")
	require.Equal(t, filepath.Join(root, "abc.pdf"), SafeJoin(root, "abc.pdf"))
	got := SafeJoin(root, "../../etc/passwd.pdf")
	require.Equal(t, filepath.Join(root, "passwd.pdf"), got)
	require.False(t, strings.Contains(got, ".."))
}
