package rolling

import (
	"fmt"
	"sort"
	"time"
)

const currentName = "CURRENT"

// manifest lists the sealed segments of an engine.
type manifest struct {
	Seq     uint64       `json:"seq"`
	Version string       `json:"version"`
	Codec   string       `json:"codec"`
	Buckets []bucketMeta `json:"buckets"`
}

type bucketMeta struct {
	Name        string      `json:"name"`
	Start       int64       `json:"start"`
	Seq         int         `json:"seq"`
	Docs        int         `json:"docs"`
	Tombstones  int         `json:"tombstones"`
	MaxVersion  string      `json:"max_version"`
	Compression Compression `json:"compression"`
	Size        int64       `json:"size"`
}

func manifestName(seq uint64) string {
	return fmt.Sprintf("manifest-%d.json", seq)
}

// segment is the encoded content of a sealed bucket.
type segment struct {
	Start      int64     `json:"start"`
	Seq        int       `json:"seq"`
	MaxVersion string    `json:"max_version"`
	Docs       []*record `json:"docs"`
	Tombstones []int64   `json:"tombstones,omitempty"`
}

func toSegment(b *bucket) *segment {
	s := &segment{
		Start:      b.start.Unix(),
		Seq:        b.seq,
		MaxVersion: b.maxVersion,
		Docs:       make([]*record, 0, len(b.docs)),
	}
	for _, rec := range b.docs {
		s.Docs = append(s.Docs, rec)
	}
	sort.Slice(s.Docs, func(i, j int) bool { return s.Docs[i].UID < s.Docs[j].UID })
	for uid := range b.tombstones {
		s.Tombstones = append(s.Tombstones, uid)
	}
	sort.Slice(s.Tombstones, func(i, j int) bool { return s.Tombstones[i] < s.Tombstones[j] })
	return s
}

func fromSegment(s *segment, meta bucketMeta) *bucket {
	b := newBucket(time.Unix(s.Start, 0).UTC(), s.Seq)
	b.maxVersion = s.MaxVersion
	b.meta = meta
	for _, rec := range s.Docs {
		b.docs[rec.UID] = rec
	}
	for _, uid := range s.Tombstones {
		b.tombstones[uid] = struct{}{}
	}
	return b
}

// trim splits sealed buckets (oldest first) into those within the newest
// threshold periods and those to drop.
func trim(sealed []*bucket, threshold int) (keep, drop []*bucket) {
	periods := 0
	cut := 0
	for i := len(sealed) - 1; i >= 0; i-- {
		if i == len(sealed)-1 || !sealed[i].start.Equal(sealed[i+1].start) {
			periods++
		}
		if periods > threshold {
			cut = i + 1
			break
		}
	}
	return sealed[cut:], sealed[:cut]
}
