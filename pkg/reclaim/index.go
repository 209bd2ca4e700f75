package reclaim

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/datachat-io/datachat/pkg/session"
)

// IndexReclaimer deletes the per-session vector index named by the
// index_path field. Paths are confined to the configured root so a corrupted
// or hostile field map can never delete outside the vector store.
type IndexReclaimer struct {
	root string
}

// NewIndexReclaimer creates a reclaimer confined to root.
func NewIndexReclaimer(root string) *IndexReclaimer {
	return &IndexReclaimer{root: filepath.Clean(root)}
}

// Name identifies the reclaimer in logs.
func (*IndexReclaimer) Name() string {
	return "index"
}

// Reclaim removes the index path, directory or single file alike. A missing
// field or an already-deleted path is success.
func (r *IndexReclaimer) Reclaim(_ context.Context, fields map[string]string) error {
	path := fields[session.FieldIndexPath]
	if path == "" {
		return nil
	}

	// Strictly inside the root: deleting the root itself is also refused.
	clean := filepath.Clean(path)
	if !strings.HasPrefix(clean, r.root+string(filepath.Separator)) {
		return fmt.Errorf("refusing to delete index path %q outside %q", path, r.root)
	}

	// RemoveAll handles files and directories and succeeds on absent paths.
	if err := os.RemoveAll(clean); err != nil {
		return fmt.Errorf("deleting index path %s: %w", clean, err)
	}
	return nil
}

// Verify interface compliance.
var _ Reclaimer = (*IndexReclaimer)(nil)
