package assets

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"record-sync/core/record"
	"record-sync/core/storage/mocks"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const helloKey = "sha256/2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

func writeFile(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "photo.jpg")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestStager_Stage_Uploads(t *testing.T) {
	client := new(mocks.Client)
	s := NewStager(client, "assets", zap.NewNop())
	path := writeFile(t, "hello")

	client.On("StatObject", mock.Anything, "assets", helloKey, mock.Anything).
		Return(minio.ObjectInfo{}, minio.ErrorResponse{Code: "NoSuchKey"})
	client.On("PutObject", mock.Anything, "assets", helloKey, mock.Anything, int64(5), mock.Anything).
		Return(minio.UploadInfo{Key: helloKey}, nil)

	fields := map[string]record.Value{
		"title":   record.String("trip"),
		"photo":   record.File(path),
		"gallery": record.List(record.File(path), record.StoredAsset("sha256/old")),
	}
	staged, err := s.Stage(context.Background(), fields)
	require.NoError(t, err)

	a, ok := staged["photo"].AsAsset()
	require.True(t, ok)
	assert.Equal(t, helloKey, a.Key)
	assert.Equal(t, path, a.Path)
	assert.True(t, record.Equal(record.String("trip"), staged["title"]))

	items, _ := staged["gallery"].AsList()
	first, _ := items[0].AsAsset()
	second, _ := items[1].AsAsset()
	assert.Equal(t, helloKey, first.Key)
	assert.Equal(t, "sha256/old", second.Key)

	// The input map is left untouched.
	orig, _ := fields["photo"].AsAsset()
	assert.Empty(t, orig.Key)
	client.AssertExpectations(t)
}

func TestStager_Stage_SkipsExistingObject(t *testing.T) {
	client := new(mocks.Client)
	s := NewStager(client, "assets", zap.NewNop())
	path := writeFile(t, "hello")

	client.On("StatObject", mock.Anything, "assets", helloKey, mock.Anything).
		Return(minio.ObjectInfo{Key: helloKey}, nil)

	staged, err := s.Stage(context.Background(), map[string]record.Value{"photo": record.File(path)})
	require.NoError(t, err)
	a, _ := staged["photo"].AsAsset()
	assert.Equal(t, helloKey, a.Key)
	client.AssertNotCalled(t, "PutObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestStager_Stage_Errors(t *testing.T) {
	t.Run("Missing File", func(t *testing.T) {
		s := NewStager(new(mocks.Client), "assets", zap.NewNop())
		_, err := s.Stage(context.Background(), map[string]record.Value{"photo": record.File("/does/not/exist")})
		assert.Error(t, err)
	})

	t.Run("Stat Failure", func(t *testing.T) {
		client := new(mocks.Client)
		s := NewStager(client, "assets", zap.NewNop())
		client.On("StatObject", mock.Anything, "assets", helloKey, mock.Anything).
			Return(minio.ObjectInfo{}, errors.New("connection refused"))

		_, err := s.Stage(context.Background(), map[string]record.Value{"photo": record.File(writeFile(t, "hello"))})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection refused")
	})
}

func TestStager_Disabled(t *testing.T) {
	s := NewStager(nil, "assets", zap.NewNop())
	fields := map[string]record.Value{"photo": record.File("/tmp/x.jpg")}

	staged, err := s.Stage(context.Background(), fields)
	require.NoError(t, err)
	assert.Equal(t, fields, staged)
	assert.NoError(t, s.EnsureBucket(context.Background()))

	_, err = s.Open(context.Background(), record.Asset{Key: helloKey})
	assert.ErrorIs(t, err, ErrStorageDisabled)
}

func TestStager_EnsureBucket(t *testing.T) {
	client := new(mocks.Client)
	s := NewStager(client, "assets", zap.NewNop())

	client.On("BucketExists", mock.Anything, "assets").Return(false, nil).Once()
	client.On("MakeBucket", mock.Anything, "assets", mock.Anything).Return(nil).Once()
	require.NoError(t, s.EnsureBucket(context.Background()))

	client.On("BucketExists", mock.Anything, "assets").Return(true, nil).Once()
	require.NoError(t, s.EnsureBucket(context.Background()))
	client.AssertExpectations(t)
}

func TestStager_Open(t *testing.T) {
	client := new(mocks.Client)
	s := NewStager(client, "assets", zap.NewNop())

	client.On("GetObject", mock.Anything, "assets", helloKey, mock.Anything).
		Return(io.NopCloser(strings.NewReader("hello")), nil)

	rc, err := s.Open(context.Background(), record.Asset{Key: helloKey})
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, err = s.Open(context.Background(), record.Asset{Path: "/local/only"})
	assert.Error(t, err)
}
