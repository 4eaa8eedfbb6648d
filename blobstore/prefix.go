package blobstore

import (
	"context"
	"path"
	"strings"
)

// PrefixStore scopes all names of an underlying Store below a fixed prefix.
// Partitions sharing one bucket each get their own PrefixStore.
type PrefixStore struct {
	inner  Store
	prefix string
}

var _ Store = (*PrefixStore)(nil)

// NewPrefixStore returns a Store that maps name to prefix/name on inner.
func NewPrefixStore(inner Store, prefix string) *PrefixStore {
	return &PrefixStore{inner: inner, prefix: strings.Trim(prefix, "/")}
}

func (s *PrefixStore) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

// Open opens a blob for reading.
func (s *PrefixStore) Open(ctx context.Context, name string) (Blob, error) {
	return s.inner.Open(ctx, s.key(name))
}

// Put writes a blob atomically.
func (s *PrefixStore) Put(ctx context.Context, name string, data []byte) error {
	return s.inner.Put(ctx, s.key(name), data)
}

// Delete removes a blob.
func (s *PrefixStore) Delete(ctx context.Context, name string) error {
	return s.inner.Delete(ctx, s.key(name))
}

// List returns names relative to the prefix.
func (s *PrefixStore) List(ctx context.Context, prefix string) ([]string, error) {
	if s.prefix == "" {
		return s.inner.List(ctx, prefix)
	}
	root := s.prefix + "/"
	names, err := s.inner.List(ctx, root+prefix)
	if err != nil {
		return nil, err
	}
	out := names[:0]
	for _, n := range names {
		out = append(out, strings.TrimPrefix(n, root))
	}
	return out, nil
}
