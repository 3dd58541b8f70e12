// Package ledger keeps a BBolt-backed history of every certificate a trust
// chain has created.
package ledger

import (
	"context"
	"crypto/x509"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/jmcleod/localtrust/internal/uuid"
	"github.com/jmcleod/localtrust/pki"
	"github.com/jmcleod/localtrust/trustchain"
)

// ErrNotFound is returned by Latest when no entry of the requested kind exists.
var ErrNotFound = errors.New("ledger entry not found")

var issuancesBucket = []byte("issuances")

// Entry records one created certificate.
type Entry struct {
	ID                string    `json:"id"`
	Kind              string    `json:"kind"`
	Serial            string    `json:"serial"`
	Subject           string    `json:"subject"`
	Issuer            string    `json:"issuer"`
	NotBefore         time.Time `json:"not_before"`
	NotAfter          time.Time `json:"not_after"`
	FingerprintSHA256 string    `json:"fingerprint_sha256"`
	Persisted         bool      `json:"persisted"`
	CreatedAt         time.Time `json:"created_at"`
}

// EntryFor builds an Entry describing cert.
func EntryFor(kind string, cert *x509.Certificate, persisted bool) Entry {
	s := pki.Describe(cert)
	return Entry{
		Kind:              kind,
		Serial:            s.SerialNumber,
		Subject:           s.Subject,
		Issuer:            s.Issuer,
		NotBefore:         s.NotBefore,
		NotAfter:          s.NotAfter,
		FingerprintSHA256: s.FingerprintSHA256,
		Persisted:         persisted,
	}
}

// Ledger is an append-only list of entries ordered by insertion.
type Ledger struct {
	db  *bbolt.DB
	now func() time.Time
}

var _ trustchain.Recorder = (*Ledger)(nil)

// New returns a Ledger backed by the given BBolt database.
func New(db *bbolt.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// Open opens, creating if needed, the ledger database at path.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return New(db), nil
}

// Close closes the underlying BBolt database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Record appends e. A missing ID or CreatedAt is filled in.
func (l *Ledger) Record(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.ID == "" {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.now().UTC()
	}

	return l.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(issuancesBucket)
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return b.Put(sequenceKey(seq), data)
	})
}

// RecordIssuance implements trustchain.Recorder.
func (l *Ledger) RecordIssuance(kind string, cert *x509.Certificate, persisted bool) error {
	return l.Record(context.Background(), EntryFor(kind, cert, persisted))
}

// List returns every entry, oldest first.
func (l *Ledger) List(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var entries []Entry
	err := l.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(issuancesBucket)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decoding entry %d: %w", binary.BigEndian.Uint64(k), err)
			}
			entries = append(entries, e)
			return nil
		})
	})
	return entries, err
}

// Latest returns the most recent entry of the given kind.
func (l *Ledger) Latest(ctx context.Context, kind string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	var found Entry
	err := l.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(issuancesBucket)
		if b == nil {
			return fmt.Errorf("%s: %w", kind, ErrNotFound)
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decoding entry %d: %w", binary.BigEndian.Uint64(k), err)
			}
			if e.Kind == kind {
				found = e
				return nil
			}
		}
		return fmt.Errorf("%s: %w", kind, ErrNotFound)
	})
	if err != nil {
		return Entry{}, err
	}
	return found, nil
}

func sequenceKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
