// Package state persists the blog session (access token, refresh token and
// cached user record) in a local bbolt file, optionally sealed with a
// passphrase-derived key.
package state

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/alexjbarnes/blog-client/blogapi"
	apperrors "github.com/alexjbarnes/blog-client/internal/errors"
	bolt "go.etcd.io/bbolt"
	bolterrors "go.etcd.io/bbolt/errors"
)

const (
	// stateDirPerm is the permission mode for the state directory (~/.blog-client/).
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

var (
	appBucket         = []byte("app")
	credentialsBucket = []byte("credentials")

	saltKey     = []byte("salt")
	keyCheckKey = []byte("key_check")
)

var _ blogapi.CredentialStore = (*State)(nil)

// State wraps a bbolt database holding the session credentials. It
// satisfies blogapi.CredentialStore.
type State struct {
	db     *bolt.DB
	sealer *sealer
}

type options struct {
	passphrase string
}

// Option configures LoadAt.
type Option func(*options)

// WithPassphrase encrypts every stored value with a key derived from
// passphrase. The same passphrase must be given on every open.
func WithPassphrase(passphrase string) Option {
	return func(o *options) { o.passphrase = passphrase }
}

// DefaultPath returns ~/.blog-client/state.db.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(home, ".blog-client", "state.db"), nil
}

// LoadAt opens the state database at path, creating it if it does not
// exist.
func LoadAt(path string, opts ...Option) (*State, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	s := &State{db: db}

	err = db.Update(func(tx *bolt.Tx) error {
		app, err := tx.CreateBucketIfNotExists(appBucket)
		if err != nil {
			return err
		}

		creds, err := tx.CreateBucketIfNotExists(credentialsBucket)
		if err != nil {
			return err
		}

		return s.initSealer(app, creds, o.passphrase)
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return s, nil
}

// initSealer sets up encryption. A database that was first written with a
// passphrase can only be opened with that passphrase, and a plaintext
// session is never silently reinterpreted as ciphertext.
func (s *State) initSealer(app, creds *bolt.Bucket, passphrase string) error {
	check := app.Get(keyCheckKey)

	if passphrase == "" {
		if check != nil {
			return apperrors.ErrWrongCredentialsKey
		}

		return nil
	}

	if check == nil && creds.Stats().KeyN > 0 {
		return apperrors.ErrWrongCredentialsKey
	}

	salt := app.Get(saltKey)
	if salt == nil {
		var err error
		if salt, err = newSalt(); err != nil {
			return err
		}

		if err := app.Put(saltKey, salt); err != nil {
			return err
		}
	}

	sl, err := newSealer(passphrase, salt)
	if err != nil {
		return err
	}

	if check == nil {
		sealed, err := sl.seal([]byte(keyCheckPlaintext))
		if err != nil {
			return err
		}

		if err := app.Put(keyCheckKey, sealed); err != nil {
			return err
		}
	} else if plain, err := sl.open(check); err != nil || string(plain) != keyCheckPlaintext {
		return apperrors.ErrWrongCredentialsKey
	}

	s.sealer = sl

	return nil
}

// Encrypted reports whether values are sealed at rest.
func (s *State) Encrypted() bool {
	return s.sealer != nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

func (s *State) decode(v []byte) (string, error) {
	if v == nil {
		return "", nil
	}

	if s.sealer == nil {
		return string(v), nil
	}

	plain, err := s.sealer.open(v)
	if err != nil {
		return "", err
	}

	return string(plain), nil
}

func (s *State) encode(value string) ([]byte, error) {
	if s.sealer == nil {
		return []byte(value), nil
	}

	return s.sealer.seal([]byte(value))
}

// Get returns the stored value for key, or "" when it is absent.
func (s *State) Get(key string) (string, error) {
	var value string

	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		value, err = s.decode(tx.Bucket(credentialsBucket).Get([]byte(key)))

		return err
	})

	return value, wrapClosed(err)
}

// Set stores value under key.
func (s *State) Set(key, value string) error {
	data, err := s.encode(value)
	if err != nil {
		return err
	}

	return wrapClosed(s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(credentialsBucket).Put([]byte(key), data)
	}))
}

// Delete removes keys in a single transaction. Absent keys are ignored.
func (s *State) Delete(keys ...string) error {
	return wrapClosed(s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(credentialsBucket)
		for _, k := range keys {
			if err := b.Delete([]byte(k)); err != nil {
				return err
			}
		}

		return nil
	}))
}

// CompareAndSwap writes newValue only if the current value (with "" for an
// absent key) equals oldValue. bbolt serialises writers, so the compare and
// the write are atomic.
func (s *State) CompareAndSwap(key, oldValue, newValue string) (bool, error) {
	data, err := s.encode(newValue)
	if err != nil {
		return false, err
	}

	swapped := false

	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(credentialsBucket)

		current, err := s.decode(b.Get([]byte(key)))
		if err != nil {
			return err
		}

		if current != oldValue {
			return nil
		}

		swapped = true

		return b.Put([]byte(key), data)
	})

	return swapped, wrapClosed(err)
}

// Keys returns the keys currently stored, in byte order.
func (s *State) Keys() ([]string, error) {
	var keys []string

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(credentialsBucket).ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})

	return keys, wrapClosed(err)
}

func wrapClosed(err error) error {
	if errors.Is(err, bolterrors.ErrDatabaseNotOpen) {
		return apperrors.ErrStoreClosed
	}

	return err
}
