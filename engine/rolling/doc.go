// Package rolling implements a time-bucketed index engine.
//
// Incoming documents land in the active bucket for the current period
// (minute, hour or day). When the period changes, or when the node runs short
// of buffer memory, the active bucket is sealed: its documents are encoded,
// compressed and written to a blobstore.Store, and a new manifest is
// committed by rewriting the CURRENT pointer. Only the newest TrimThreshold
// periods are retained; older segments are deleted after the commit.
//
// Lookups consult buckets newest first, so a newer upsert or delete shadows
// older data.
package rolling
