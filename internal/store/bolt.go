package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"psila-go/internal/security"
)

var (
	bucketMeta     = []byte("meta")
	bucketKeys     = []byte("keys")
	bucketSessions = []byte("sessions")
	bucketCaptures = []byte("captures")

	keyIdentity     = []byte("identity")
	keyFrameCounter = []byte("frame_counter")
)

var (
	captureEnc cbor.EncMode
	captureDec cbor.DecMode
)

func init() {
	var err error
	captureEnc, err = cbor.EncOptions{
		Sort: cbor.SortCanonical,
		Time: cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("store: capture encoder: %v", err))
	}
	captureDec, err = cbor.DecOptions{DupMapKey: cbor.DupMapKeyQuiet}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("store: capture decoder: %v", err))
	}
}

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates a BoltDB database.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketMeta, bucketKeys, bucketSessions, bucketCaptures} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func bucket(tx *bolt.Tx, name []byte) (*bolt.Bucket, error) {
	b := tx.Bucket(name)
	if b == nil {
		return nil, fmt.Errorf("bucket %q not found", name)
	}
	return b, nil
}

func (s *BoltStore) SaveIdentity(id *Identity) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := bucket(tx, bucketMeta)
		if err != nil {
			return err
		}
		data, err := json.Marshal(id)
		if err != nil {
			return err
		}
		return b.Put(keyIdentity, data)
	})
}

func (s *BoltStore) GetIdentity() (*Identity, error) {
	var id Identity
	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := bucket(tx, bucketMeta)
		if err != nil {
			return err
		}
		data := b.Get(keyIdentity)
		if data == nil {
			return fmt.Errorf("identity: %w", ErrNotFound)
		}
		return json.Unmarshal(data, &id)
	})
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func (s *BoltStore) SaveKey(name string, key security.Key) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := bucket(tx, bucketKeys)
		if err != nil {
			return err
		}
		return b.Put([]byte(name), key[:])
	})
}

func (s *BoltStore) DeleteKey(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := bucket(tx, bucketKeys)
		if err != nil {
			return err
		}
		if b.Get([]byte(name)) == nil {
			return fmt.Errorf("key %q: %w", name, ErrNotFound)
		}
		return b.Delete([]byte(name))
	})
}

// ListKeys returns the stored keys ordered by name.
func (s *BoltStore) ListKeys() ([]security.NamedKey, error) {
	var keys []security.NamedKey
	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := bucket(tx, bucketKeys)
		if err != nil {
			return err
		}
		return b.ForEach(func(k, v []byte) error {
			if len(v) != len(security.Key{}) {
				return fmt.Errorf("key %q: stored length %d", k, len(v))
			}
			var key security.Key
			copy(key[:], v)
			keys = append(keys, security.NamedKey{Name: string(k), Key: key})
			return nil
		})
	})
	return keys, err
}

// CreateSession starts a capture session with a fresh id.
func (s *BoltStore) CreateSession(port string, channel uint8) (*Session, error) {
	sess := &Session{
		ID:        uuid.New().String(),
		Port:      port,
		Channel:   channel,
		StartedAt: time.Now().UTC(),
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := bucket(tx, bucketSessions)
		if err != nil {
			return err
		}
		data, err := json.Marshal(sess)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(sess.ID), data); err != nil {
			return err
		}
		captures, err := bucket(tx, bucketCaptures)
		if err != nil {
			return err
		}
		_, err = captures.CreateBucketIfNotExists([]byte(sess.ID))
		return err
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// ListSessions returns every session, oldest first.
func (s *BoltStore) ListSessions() ([]*Session, error) {
	var sessions []*Session
	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := bucket(tx, bucketSessions)
		if err != nil {
			return err
		}
		sessions = make([]*Session, 0, b.Stats().KeyN)
		return b.ForEach(func(k, v []byte) error {
			var sess Session
			if err := json.Unmarshal(v, &sess); err != nil {
				return err
			}
			sessions = append(sessions, &sess)
			return nil
		})
	})
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].StartedAt.Before(sessions[j].StartedAt) })
	return sessions, err
}

func captureBucket(tx *bolt.Tx, session string) (*bolt.Bucket, error) {
	captures, err := bucket(tx, bucketCaptures)
	if err != nil {
		return nil, err
	}
	b := captures.Bucket([]byte(session))
	if b == nil {
		return nil, fmt.Errorf("session %s: %w", session, ErrNotFound)
	}
	return b, nil
}

// AppendCapture stores c in its session and assigns c.Seq.
func (s *BoltStore) AppendCapture(c *Capture) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := captureBucket(tx, c.Session)
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		c.Seq = seq
		data, err := captureEnc.Marshal(c)
		if err != nil {
			return fmt.Errorf("encode capture: %w", err)
		}
		return b.Put(binary.BigEndian.AppendUint64(nil, seq), data)
	})
}

// ListCaptures returns up to limit of the newest captures of session,
// oldest first. A limit of 0 returns all of them.
func (s *BoltStore) ListCaptures(session string, limit int) ([]*Capture, error) {
	var captures []*Capture
	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := captureBucket(tx, session)
		if err != nil {
			return err
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(captures) == limit {
				break
			}
			var capture Capture
			if err := captureDec.Unmarshal(v, &capture); err != nil {
				return fmt.Errorf("decode capture %x: %w", k, err)
			}
			captures = append(captures, &capture)
		}
		return nil
	})
	for i, j := 0, len(captures)-1; i < j; i, j = i+1, j-1 {
		captures[i], captures[j] = captures[j], captures[i]
	}
	return captures, err
}

// PruneCaptures deletes all but the newest keep captures of session and
// returns how many were removed.
func (s *BoltStore) PruneCaptures(session string, keep int) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := captureBucket(tx, session)
		if err != nil {
			return err
		}
		excess := b.Stats().KeyN - keep
		var stale [][]byte
		c := b.Cursor()
		for k, _ := c.First(); k != nil && len(stale) < excess; k, _ = c.Next() {
			stale = append(stale, append([]byte(nil), k...))
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

// LoadFrameCounter returns the saved counter reservation, 0 if none.
func (s *BoltStore) LoadFrameCounter() (uint32, error) {
	var v uint32
	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := bucket(tx, bucketMeta)
		if err != nil {
			return err
		}
		data := b.Get(keyFrameCounter)
		if data == nil {
			return nil
		}
		if len(data) != 4 {
			return fmt.Errorf("frame counter: stored length %d", len(data))
		}
		v = binary.BigEndian.Uint32(data)
		return nil
	})
	return v, err
}

func (s *BoltStore) SaveFrameCounter(v uint32) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := bucket(tx, bucketMeta)
		if err != nil {
			return err
		}
		return b.Put(keyFrameCounter, binary.BigEndian.AppendUint32(nil, v))
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
