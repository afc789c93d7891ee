package cursor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = "2024-01-01T00:09:00+00:00"

// roundTrip checks the contract every backend shares.
func roundTrip(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := store.Read(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "fresh store must report no cursor")

	require.NoError(t, store.Write(ctx, "2024-01-01T00:00:00+00:00"))
	require.NoError(t, store.Write(ctx, sample))

	got, ok, err := store.Read(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, sample, got)
}

func TestFileStoreRoundTrip(t *testing.T) {
	roundTrip(t, NewFileStoreFs(afero.NewMemMapFs(), "state/nested/cursor.txt"))
}

func TestFileStoreEmptyFileIsAbsent(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "cursor.txt", []byte("  \n"), 0o644))

	_, ok, err := NewFileStoreFs(fs, "cursor.txt").Read(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStoreLeavesNoTempFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewFileStoreFs(fs, "cursor.txt")
	require.NoError(t, store.Write(context.Background(), sample))

	exists, err := afero.Exists(fs, "cursor.txt.tmp")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRedisStoreRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)

	store, err := NewRedisStore(RedisOptions{Addr: mr.Addr(), Key: "alertsync:cursor"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	roundTrip(t, store)

	raw, err := mr.Get("alertsync:cursor")
	require.NoError(t, err)
	assert.Equal(t, sample, raw)
}

func TestRedisStoreRequiresKey(t *testing.T) {
	_, err := NewRedisStore(RedisOptions{Addr: "127.0.0.1:6379"})
	assert.Error(t, err)
}

func TestRedisStoreConnectionError(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(RedisOptions{Addr: mr.Addr(), Key: "k"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	mr.SetError("LOADING")
	_, _, err = store.Read(context.Background())
	assert.Error(t, err)
}

type fakeBlob struct {
	data          []byte
	exists        bool
	containerGone bool
	downloadErr   error
	uploadErr     error
	uploads       int
	creates       int
}

func azErr(code bloberror.Code) error {
	return &azcore.ResponseError{ErrorCode: string(code), StatusCode: 404}
}

func (f *fakeBlob) download(context.Context) (io.ReadCloser, error) {
	if f.downloadErr != nil {
		return nil, f.downloadErr
	}
	if f.containerGone {
		return nil, azErr(bloberror.ContainerNotFound)
	}
	if !f.exists {
		return nil, azErr(bloberror.BlobNotFound)
	}
	return io.NopCloser(bytes.NewReader(f.data)), nil
}

func (f *fakeBlob) upload(_ context.Context, data []byte) error {
	f.uploads++
	if f.uploadErr != nil {
		return f.uploadErr
	}
	if f.containerGone {
		return azErr(bloberror.ContainerNotFound)
	}
	f.data = append([]byte(nil), data...)
	f.exists = true
	return nil
}

func (f *fakeBlob) createContainer(context.Context) error {
	f.creates++
	f.containerGone = false
	return nil
}

func TestBlobStoreRoundTrip(t *testing.T) {
	roundTrip(t, newBlobStore(&fakeBlob{}, "state/cursor", zerolog.Nop()))
}

func TestBlobStoreMissingContainerReadsAsAbsent(t *testing.T) {
	blob := &fakeBlob{containerGone: true}
	store := newBlobStore(blob, "state/cursor", zerolog.Nop())

	_, ok, err := store.Read(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Write(context.Background(), sample))
	assert.Equal(t, 1, blob.creates)
	assert.Equal(t, 2, blob.uploads)
	assert.Equal(t, sample, string(blob.data))
}

func TestBlobStorePropagatesErrors(t *testing.T) {
	boom := errors.New("403 AuthorizationPermissionMismatch")
	store := newBlobStore(&fakeBlob{downloadErr: boom, uploadErr: boom}, "state/cursor", zerolog.Nop())

	_, _, err := store.Read(context.Background())
	assert.ErrorIs(t, err, boom)

	err = store.Write(context.Background(), sample)
	assert.ErrorIs(t, err, boom)
}
