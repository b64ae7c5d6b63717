package artifact

import (
	"context"
	"errors"
	"io/fs"
)

// FSStore reads artifacts from a file system.
type FSStore struct {
	fsys   fs.FS
	layout Layout
}

// NewFSStore creates a store over fsys.
func NewFSStore(fsys fs.FS, layout Layout) *FSStore {
	return &FSStore{fsys: fsys, layout: layout}
}

// Fetch implements Store.
func (s *FSStore) Fetch(ctx context.Context, kind Kind, id string) ([]byte, error) {
	p, err := s.layout.Path(kind, id)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, transportErr(kind, id, err)
	}
	data, err := fs.ReadFile(s.fsys, p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, notFound(kind, id, err)
		}
		return nil, transportErr(kind, id, err)
	}
	return data, nil
}
