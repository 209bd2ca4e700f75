package reclaim

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datachat-io/datachat/pkg/session"
)

func TestIndexReclaimer_DeletesDirectory(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "abc")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nested", "index.faiss"), []byte("vectors"), 0o600))

	r := NewIndexReclaimer(root)
	err := r.Reclaim(context.Background(), map[string]string{session.FieldIndexPath: dir})
	require.NoError(t, err)

	_, statErr := os.Stat(dir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestIndexReclaimer_DeletesSingleFile(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "abc.idx")
	require.NoError(t, os.WriteFile(file, []byte("vectors"), 0o600))

	r := NewIndexReclaimer(root)
	require.NoError(t, r.Reclaim(context.Background(), map[string]string{session.FieldIndexPath: file}))

	_, statErr := os.Stat(file)
	assert.True(t, os.IsNotExist(statErr))
}

func TestIndexReclaimer_AlreadyGoneIsSuccess(t *testing.T) {
	root := t.TempDir()
	r := NewIndexReclaimer(root)

	fields := map[string]string{session.FieldIndexPath: filepath.Join(root, "never-existed")}
	require.NoError(t, r.Reclaim(context.Background(), fields))
	require.NoError(t, r.Reclaim(context.Background(), fields), "idempotent across invocations")
}

func TestIndexReclaimer_NoFieldIsNoOp(t *testing.T) {
	r := NewIndexReclaimer(t.TempDir())

	err := r.Reclaim(context.Background(), map[string]string{session.FieldDatabaseID: "tmp_1"})
	require.NoError(t, err)
}

func TestIndexReclaimer_RefusesPathsOutsideRoot(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	victim := filepath.Join(outside, "precious")
	require.NoError(t, os.MkdirAll(victim, 0o750))

	r := NewIndexReclaimer(root)

	for _, path := range []string{
		victim,
		filepath.Join(root, "..", filepath.Base(outside), "precious"),
		root, // the root itself is never deletable
	} {
		err := r.Reclaim(context.Background(), map[string]string{session.FieldIndexPath: path})
		assert.Error(t, err, "path %q must be refused", path)
	}

	_, statErr := os.Stat(victim)
	assert.NoError(t, statErr, "nothing outside the root was touched")
}
