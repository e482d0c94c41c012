package cert

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio/v2"
)

// Well-known file names used by [NewFileStore].
const (
	RootFileName = "ca_cert.pem"
	CertFileName = "cert.pem"
	KeyFileName  = "key.pem"
)

// Store persists the root of trust and the identity.
//
// Load and LoadRoot return an error wrapping [ErrNotFound] if nothing has
// been saved, and [ErrCorrupt] if what was saved does not parse or does not
// belong together. Save and SaveRoot fully replace the previous value.
type Store interface {
	Load() (Identity, error)
	Save(Identity) error
	LoadRoot() (Root, error)
	SaveRoot(Root) error
}

// FileStore is a [Store] keeping PEM files at fixed paths.
//
// Each file is replaced atomically by renaming a synced temporary file
// from the same directory over it. The identity spans two files: Save
// prepares both before renaming either, and restores the previous key if
// the certificate cannot be put in place, so a failed Save leaves the
// previously saved identity loadable.
type FileStore struct {
	RootFile string
	CertFile string
	KeyFile  string
}

// NewFileStore returns a FileStore using the well-known file names in dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{
		RootFile: filepath.Join(dir, RootFileName),
		CertFile: filepath.Join(dir, CertFileName),
		KeyFile:  filepath.Join(dir, KeyFileName),
	}
}

// Load reads and validates the identity.
func (s *FileStore) Load() (Identity, error) {
	certificate, err := readFile(s.CertFile)
	if err != nil {
		return Identity{}, err
	}
	key, err := readFile(s.KeyFile)
	if err != nil {
		return Identity{}, err
	}
	id := Identity{Certificate: certificate, PrivateKey: key}
	if err := id.Validate(); err != nil {
		return Identity{}, fmt.Errorf("%q, %q: %w", s.CertFile, s.KeyFile, err)
	}
	return id, nil
}

// Save validates and writes the identity. The key is put in place first;
// the certificate follows. A crash between the two renames leaves a pair
// Load rejects with [ErrCorrupt].
func (s *FileStore) Save(id Identity) error {
	if err := id.Validate(); err != nil {
		return err
	}
	key, err := newPendingFile(s.KeyFile, id.PrivateKey, 0o600)
	if err != nil {
		return err
	}
	defer key.Cleanup() //nolint:errcheck
	certificate, err := newPendingFile(s.CertFile, id.Certificate, 0o644)
	if err != nil {
		return err
	}
	defer certificate.Cleanup() //nolint:errcheck

	previousKey, err := os.ReadFile(s.KeyFile) //nolint:gosec // G304: Potential file inclusion via variable
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: cannot read %q: %w", ErrFilesystem, s.KeyFile, err)
	}
	hadKey := err == nil
	if err := key.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("%w: cannot rename into %q: %w", ErrFilesystem, s.KeyFile, err)
	}
	if err := certificate.CloseAtomicallyReplace(); err != nil {
		err = fmt.Errorf("%w: cannot rename into %q: %w", ErrFilesystem, s.CertFile, err)
		return errors.Join(err, s.restoreKey(previousKey, hadKey))
	}
	return nil
}

// restoreKey puts back the key that matches the certificate on disk.
func (s *FileStore) restoreKey(previous []byte, existed bool) error {
	if !existed {
		if err := os.Remove(s.KeyFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: cannot remove %q: %w", ErrFilesystem, s.KeyFile, err)
		}
		return nil
	}
	if err := writeFileAtomic(s.KeyFile, previous, 0o600); err != nil {
		return fmt.Errorf("cannot restore previous key: %w", err)
	}
	return nil
}

// LoadRoot reads and validates the root certificate.
func (s *FileStore) LoadRoot() (Root, error) {
	b, err := readFile(s.RootFile)
	if err != nil {
		return Root{}, err
	}
	root := Root{Certificate: b}
	if _, err := root.Parse(); err != nil {
		return Root{}, fmt.Errorf("%q: %w", s.RootFile, err)
	}
	return root, nil
}

// SaveRoot validates and writes the root certificate.
func (s *FileStore) SaveRoot(root Root) error {
	if _, err := root.Parse(); err != nil {
		return err
	}
	return writeFileAtomic(s.RootFile, root.Certificate, 0o644) //nolint:gosec // certificates are public.
}

func readFile(name string) ([]byte, error) {
	b, err := os.ReadFile(name) //nolint:gosec // G304: Potential file inclusion via variable
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: cannot read %q: %w", ErrFilesystem, name, err)
	}
	return b, nil
}

// newPendingFile creates the parent directory of name and writes data to
// a temporary file in it, ready to be renamed over name.
func newPendingFile(name string, data []byte, perm os.FileMode) (*renameio.PendingFile, error) {
	dir := filepath.Dir(name)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("%w: cannot create directory %q: %w", ErrFilesystem, dir, err)
	}
	file, err := renameio.NewPendingFile(name, renameio.WithTempDir(dir), renameio.WithPermissions(perm))
	if err != nil {
		return nil, fmt.Errorf("%w: cannot create temporary file for %q: %w", ErrFilesystem, name, err)
	}
	if _, err := file.Write(data); err != nil {
		_ = file.Cleanup()
		return nil, fmt.Errorf("%w: cannot write %q: %w", ErrFilesystem, name, err)
	}
	return file, nil
}

// writeFileAtomic replaces a single file.
func writeFileAtomic(name string, data []byte, perm os.FileMode) error {
	file, err := newPendingFile(name, data, perm)
	if err != nil {
		return err
	}
	defer file.Cleanup() //nolint:errcheck
	if err := file.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("%w: cannot rename into %q: %w", ErrFilesystem, name, err)
	}
	return nil
}

// MemStore is an in-memory [Store]. The zero value is empty and ready to
// use.
type MemStore struct {
	mutex    sync.Mutex
	identity *Identity
	root     *Root
}

// Load returns the saved identity.
func (s *MemStore) Load() (Identity, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.identity == nil {
		return Identity{}, fmt.Errorf("%w: no identity in memory", ErrNotFound)
	}
	return *s.identity, nil
}

// Save validates and keeps the identity.
func (s *MemStore) Save(id Identity) error {
	if err := id.Validate(); err != nil {
		return err
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.identity = &id
	return nil
}

// LoadRoot returns the saved root.
func (s *MemStore) LoadRoot() (Root, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.root == nil {
		return Root{}, fmt.Errorf("%w: no root in memory", ErrNotFound)
	}
	return *s.root, nil
}

// SaveRoot validates and keeps the root.
func (s *MemStore) SaveRoot(root Root) error {
	if _, err := root.Parse(); err != nil {
		return err
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.root = &root
	return nil
}
