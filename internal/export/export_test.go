package export

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDirExporter(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "in.c-main.orders.csv"), []byte("id,total\n1,10\n"), 0o600))

	exp, err := New(Config{Type: "dir", Dir: root})
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "out.csv")
	size, err := exp.Export(context.Background(), "in.c-main.orders", dest)
	require.NoError(t, err)
	require.Equal(t, int64(14), size)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, "id,total\n1,10\n", string(data))

	_, err = exp.Export(context.Background(), "missing", dest)
	require.ErrorIs(t, err, ErrTableNotFound)
}

func TestDirExporterCancelled(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "t.csv"), []byte("a\n"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&DirExporter{Root: root}).Export(ctx, "t", filepath.Join(t.TempDir(), "o.csv"))
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewExporter(t *testing.T) {
	_, err := New(Config{Type: "ftp"})
	require.Error(t, err)

	_, err = New(Config{Type: "dir"})
	require.Error(t, err)

	_, err = New(Config{Type: "minio", Bucket: "exports"})
	require.Error(t, err)

	exp, err := New(Config{Type: "minio", Endpoint: "localhost:9000", Bucket: "exports", Prefix: "tables/"})
	require.NoError(t, err)
	require.IsType(t, &MinioExporter{}, exp)
}
