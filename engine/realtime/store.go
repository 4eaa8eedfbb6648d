package realtime

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

var (
	docPrefix  = []byte("d/")
	versionKey = []byte("m/version")
	nextDocKey = []byte("m/nextdoc")
)

// record is the persisted form of a document.
type record struct {
	DocID     uint32         `json:"doc_id"`
	UID       int64          `json:"uid"`
	Version   string         `json:"version"`
	IndexedAt int64          `json:"indexed_at"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// docKey encodes uid so that keys sort by signed uid.
func docKey(uid int64) []byte {
	k := make([]byte, len(docPrefix)+8)
	copy(k, docPrefix)
	binary.BigEndian.PutUint64(k[len(docPrefix):], uint64(uid)^(1<<63))
	return k
}

func uint32Bytes(v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return b[:]
}

func openDB(dir string, o options, logger *slog.Logger) (*badger.DB, error) {
	var opts badger.Options
	if o.inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, err
		}
		opts = badger.DefaultOptions(dir)
	}

	opts = opts.WithSyncWrites(o.syncWrites).WithNumVersionsToKeep(1)
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger.With("component", "badger")})
	} else {
		opts = opts.WithLogger(nil)
	}

	return badger.Open(opts)
}

// badgerLogger adapts slog to badger.Logger.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// gcRunner runs periodic value-log garbage collection.
type gcRunner struct {
	db       *badger.DB
	interval time.Duration
	ratio    float64
	logger   *slog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func startGC(db *badger.DB, interval time.Duration, ratio float64, logger *slog.Logger) *gcRunner {
	r := &gcRunner{
		db:       db,
		interval: interval,
		ratio:    ratio,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *gcRunner) stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *gcRunner) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.collect()
		}
	}
}

// collect rewrites value-log files until badger reports nothing left to do.
func (r *gcRunner) collect() {
	rewrites := 0
	for {
		select {
		case <-r.stopCh:
			return
		default:
		}
		err := r.db.RunValueLogGC(r.ratio)
		if err == nil {
			rewrites++
			continue
		}
		if !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrRejected) {
			r.logger.Warn("value log gc failed", "error", err)
		}
		break
	}
	if rewrites > 0 {
		r.logger.Debug("value log gc completed", "rewrites", rewrites)
	}
}
