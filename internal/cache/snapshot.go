package cache

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"sort"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/precache/precache/pkg/errors"
	"github.com/precache/precache/pkg/types"
)

// snapshotVersion is bumped whenever the serialized layout changes.
// Restore rejects snapshots written by an unknown version.
const snapshotVersion = 1

// historyKeep bounds how many historical snapshots the badger store retains.
const historyKeep = 8

// Key layout in the badger store. The latest snapshot lives under a fixed
// single-byte key; history entries append a big-endian sequence number so
// iteration order is chronological.
var (
	keyLatest     = []byte{0x01}
	prefixHistory = []byte{0x02}
)

// PatternSnapshot is the serializable form of a PatternTable's learned state.
// Derived state (per-page totals, memoized predictions) is not included; it
// is rebuilt on restore.
type PatternSnapshot struct {
	Version          int                     `json:"version"`
	CreatedAt        time.Time               `json:"created_at"`
	Transitions      []types.TransitionCount `json:"transitions"`
	TotalTransitions int64                   `json:"total_transitions"`
	TotalUpdates     int64                   `json:"total_updates"`
}

// Snapshot captures the table's learned transitions. Transitions are emitted
// in ascending (from, to) order so two snapshots of the same state are
// byte-identical.
func (t *PatternTable) Snapshot() *PatternSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	transitions := make([]types.TransitionCount, 0, len(t.counts))
	for tr, c := range t.counts {
		transitions = append(transitions, types.TransitionCount{From: tr.from, To: tr.to, Count: c})
	}
	sort.Slice(transitions, func(i, j int) bool {
		if transitions[i].From != transitions[j].From {
			return transitions[i].From < transitions[j].From
		}
		return transitions[i].To < transitions[j].To
	})

	return &PatternSnapshot{
		Version:          snapshotVersion,
		CreatedAt:        time.Now().UTC(),
		Transitions:      transitions,
		TotalTransitions: t.totalTransitions,
		TotalUpdates:     t.totalUpdates,
	}
}

// Restore replaces the table's learned state with the snapshot's. Totals are
// recomputed from the transitions rather than trusted from the snapshot, and
// entries that would not survive validation on the write path (invalid pages,
// self-transitions, non-positive counts) are dropped. The learning toggle and
// prediction statistics are untouched.
func (t *PatternTable) Restore(snap *PatternSnapshot) error {
	if snap == nil {
		return errors.NewError(errors.ErrCodeSnapshotCorrupt, "nil snapshot")
	}
	if snap.Version != snapshotVersion {
		return errors.NewErrorf(errors.ErrCodeSnapshotCorrupt,
			"unsupported snapshot version %d", snap.Version)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.counts = make(map[transition]int64, len(snap.Transitions))
	for _, tc := range snap.Transitions {
		if !tc.From.Valid() || !tc.To.Valid() || tc.From == tc.To || tc.Count <= 0 {
			continue
		}
		t.counts[transition{tc.From, tc.To}] += tc.Count
	}
	t.recomputeTotalsLocked()
	t.memo = make(map[types.PageID][]types.PageID)
	t.totalUpdates = snap.TotalUpdates
	return nil
}

// SnapshotStore persists pattern snapshots across restarts.
type SnapshotStore interface {
	// Save persists snap as the latest snapshot.
	Save(ctx context.Context, snap *PatternSnapshot) error

	// Load returns the most recent snapshot, or an error carrying
	// ErrCodeSnapshotNotFound when none has been saved.
	Load(ctx context.Context) (*PatternSnapshot, error)

	Close() error
}

// BadgerSnapshotStore keeps snapshots in an embedded badger database. Every
// save overwrites the latest-snapshot key and appends a history entry; history
// beyond historyKeep entries is pruned in the same transaction.
type BadgerSnapshotStore struct {
	db *badger.DB
}

// OpenBadgerSnapshotStore opens (creating if needed) the snapshot database at
// path.
func OpenBadgerSnapshotStore(path string) (*BadgerSnapshotStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.NewErrorf(errors.ErrCodeSnapshotIO, "open snapshot store at %s", path).
			WithComponent("snapshot").WithCause(err)
	}
	return &BadgerSnapshotStore{db: db}, nil
}

// Save persists snap as the latest snapshot and appends it to the history.
func (s *BadgerSnapshotStore) Save(ctx context.Context, snap *PatternSnapshot) error {
	if err := ctx.Err(); err != nil {
		return errors.NewError(errors.ErrCodeSnapshotIO, "save snapshot").
			WithComponent("snapshot").WithOperation("save").WithCause(err)
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return errors.NewError(errors.ErrCodeSnapshotIO, "marshal snapshot").
			WithComponent("snapshot").WithOperation("save").WithCause(err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(keyLatest, data); err != nil {
			return err
		}

		seqs, err := historySeqsLocked(txn)
		if err != nil {
			return err
		}

		next := uint64(1)
		if n := len(seqs); n > 0 {
			next = seqs[n-1] + 1
		}
		if err := txn.Set(historyKey(next), data); err != nil {
			return err
		}

		// Prune oldest history entries past the retention bound.
		seqs = append(seqs, next)
		for len(seqs) > historyKeep {
			if err := txn.Delete(historyKey(seqs[0])); err != nil {
				return err
			}
			seqs = seqs[1:]
		}
		return nil
	})
	if err != nil {
		return errors.NewError(errors.ErrCodeSnapshotIO, "write snapshot").
			WithComponent("snapshot").WithOperation("save").WithCause(err)
	}
	return nil
}

// Load returns the most recently saved snapshot.
func (s *BadgerSnapshotStore) Load(ctx context.Context) (*PatternSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewError(errors.ErrCodeSnapshotIO, "load snapshot").
			WithComponent("snapshot").WithOperation("load").WithCause(err)
	}

	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyLatest)
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, errors.NewError(errors.ErrCodeSnapshotNotFound, "no snapshot saved").
			WithComponent("snapshot").WithOperation("load")
	}
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeSnapshotIO, "read snapshot").
			WithComponent("snapshot").WithOperation("load").WithCause(err)
	}

	var snap PatternSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, errors.NewError(errors.ErrCodeSnapshotCorrupt, "decode snapshot").
			WithComponent("snapshot").WithOperation("load").WithCause(err)
	}
	return &snap, nil
}

// History returns the retained historical snapshots, oldest first.
func (s *BadgerSnapshotStore) History(ctx context.Context) ([]*PatternSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewError(errors.ErrCodeSnapshotIO, "read snapshot history").
			WithComponent("snapshot").WithOperation("history").WithCause(err)
	}

	var snaps []*PatternSnapshot
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixHistory
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			data, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var snap PatternSnapshot
			if err := json.Unmarshal(data, &snap); err != nil {
				return err
			}
			snaps = append(snaps, &snap)
		}
		return nil
	})
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeSnapshotIO, "read snapshot history").
			WithComponent("snapshot").WithOperation("history").WithCause(err)
	}
	return snaps, nil
}

// Close releases the underlying database.
func (s *BadgerSnapshotStore) Close() error {
	return s.db.Close()
}

func historyKey(seq uint64) []byte {
	key := make([]byte, 1+8)
	key[0] = prefixHistory[0]
	binary.BigEndian.PutUint64(key[1:], seq)
	return key
}

// historySeqsLocked lists the sequence numbers present in the history,
// ascending. Caller provides the transaction.
func historySeqsLocked(txn *badger.Txn) ([]uint64, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefixHistory
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var seqs []uint64
	for it.Rewind(); it.Valid(); it.Next() {
		key := it.Item().Key()
		if len(key) != 1+8 {
			continue
		}
		seqs = append(seqs, binary.BigEndian.Uint64(key[1:]))
	}
	return seqs, nil
}
