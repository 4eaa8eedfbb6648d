package rolling

import (
	"fmt"
	"maps"
	"time"
)

type record struct {
	UID       int64          `json:"uid"`
	Version   string         `json:"version"`
	IndexedAt int64          `json:"indexed_at"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// bucket holds the documents of one period. Sealed buckets are immutable.
type bucket struct {
	start      time.Time
	seq        int
	docs       map[int64]*record
	tombstones map[int64]struct{}
	maxVersion string

	// bytes is the reserved buffer memory of an active bucket.
	bytes int64
	meta  bucketMeta
}

func newBucket(start time.Time, seq int) *bucket {
	return &bucket{
		start:      start,
		seq:        seq,
		docs:       make(map[int64]*record),
		tombstones: make(map[int64]struct{}),
	}
}

func (b *bucket) empty() bool {
	return len(b.docs) == 0 && len(b.tombstones) == 0
}

func (b *bucket) name(c Compression) string {
	return fmt.Sprintf("bucket-%d-%d.seg%s", b.start.Unix(), b.seq, c.Ext())
}

// clone copies the maps so the copy is safe from later writes.
func (b *bucket) clone() *bucket {
	c := *b
	c.docs = maps.Clone(b.docs)
	c.tombstones = maps.Clone(b.tombstones)
	return &c
}

type lookup int

const (
	absent lookup = iota
	present
	deleted
)

func (b *bucket) lookup(uid int64) (*record, lookup) {
	if rec, ok := b.docs[uid]; ok {
		return rec, present
	}
	if _, ok := b.tombstones[uid]; ok {
		return nil, deleted
	}
	return nil, absent
}

// layers is a newest-first view over buckets.
type layers []*bucket

func (ls layers) get(uid int64) (*record, bool) {
	for _, b := range ls {
		rec, st := b.lookup(uid)
		switch st {
		case present:
			return rec, true
		case deleted:
			return nil, false
		}
	}
	return nil, false
}

// each visits every visible document once, newest version only.
func (ls layers) each(fn func(*record)) {
	seen := make(map[int64]struct{})
	for _, b := range ls {
		for uid := range b.tombstones {
			seen[uid] = struct{}{}
		}
		for uid, rec := range b.docs {
			if _, ok := seen[uid]; ok {
				continue
			}
			seen[uid] = struct{}{}
			fn(rec)
		}
	}
}

func (ls layers) count() int {
	n := 0
	ls.each(func(*record) { n++ })
	return n
}
