package memory

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObject(t *testing.T) {
	t.Parallel()

	s := NewBlobStore()
	uri, err := s.PutObject(context.Background(), "archives/job.zip", "application/zip", strings.NewReader("PK"))
	require.NoError(t, err)
	require.Equal(t, "memory://archives/job.zip", uri)

	data, ct, ok := s.Object("archives/job.zip")
	require.True(t, ok)
	require.Equal(t, "application/zip", ct)
	require.Equal(t, []byte("PK"), data)

	data[0] = 'X'
	again, _, _ := s.Object("archives/job.zip")
	require.Equal(t, []byte("PK"), again)
}

func TestBlobStoreRejectsEmptyKey(t *testing.T) {
	t.Parallel()

	_, err := NewBlobStore().PutObject(context.Background(), " ", "", bytes.NewReader(nil))
	require.Error(t, err)
}
