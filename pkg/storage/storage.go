// Package storage persists enrolled identities as one directory per person
// holding the sample images and an embedding blob. Blobs can be encrypted at
// rest using NaCl secretbox.
package storage

import (
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/5h4kun1/esp32-face-recognition-lock/pkg/logging"
	"github.com/5h4kun1/esp32-face-recognition-lock/pkg/recognition"
)

const (
	handlePrefix  = "person_"
	namePrefix    = "Person_"
	plainBlobName = "embeddings.bin"
	sealBlobName  = "embeddings.enc"
)

// Identity is an enrolled person with the embeddings captured at enrollment.
type Identity struct {
	Handle     string
	Name       string
	Embeddings []recognition.Embedding
	EnrolledAt time.Time
}

// ErrStorageAccess is returned when storage cannot be accessed.
var ErrStorageAccess = errors.New("failed to access storage")

// ErrEncryption is returned when encryption/decryption fails.
var ErrEncryption = errors.New("encryption error")

// ErrEmptyIdentity is returned when saving an identity without embeddings.
var ErrEmptyIdentity = errors.New("identity has no embeddings")

// ErrInvalidHandle is returned for handles not of the form person_<n>.
var ErrInvalidHandle = errors.New("invalid identity handle")

// FileStore keeps identities under a root directory, one namespace
// (person_<n>) per identity. Handles are never reused.
type FileStore struct {
	root              string
	encryptionEnabled bool
	encryptionKey     [KeySize]byte
	log               *logrus.Entry

	mu   sync.Mutex
	next int
}

// NewFileStore opens the store at root, creating it when missing. The
// handle counter resumes after the highest namespace on disk.
func NewFileStore(root string, encryptionEnabled bool) (*FileStore, error) {
	fs := &FileStore{
		root:              root,
		encryptionEnabled: encryptionEnabled,
		log:               logging.Component("storage"),
	}

	if encryptionEnabled {
		fs.encryptionKey = deriveKey()
	}

	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageAccess, err)
	}

	highest, err := fs.highestHandle()
	if err != nil {
		return nil, err
	}
	fs.next = highest + 1

	fs.log.WithFields(logging.Fields{"root": root, "next": fs.next}).Debug("identity store opened")
	return fs, nil
}

// Root returns the store directory.
func (fs *FileStore) Root() string {
	return fs.root
}

// HandleFor returns the namespace name for identity number n.
func HandleFor(n int) string {
	return handlePrefix + strconv.Itoa(n)
}

// NameFor returns the display name for identity number n.
func NameFor(n int) string {
	return namePrefix + strconv.Itoa(n)
}

// parseHandle extracts n from person_<n>.
func parseHandle(handle string) (int, bool) {
	if !strings.HasPrefix(handle, handlePrefix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(handle, handlePrefix))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func (fs *FileStore) highestHandle() (int, error) {
	entries, err := os.ReadDir(fs.root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrStorageAccess, err)
	}

	highest := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if n, ok := parseHandle(e.Name()); ok && n > highest {
			highest = n
		}
	}
	return highest, nil
}

func (fs *FileStore) blobName() string {
	if fs.encryptionEnabled {
		return sealBlobName
	}
	return plainBlobName
}

func (fs *FileStore) namespace(handle string) (string, error) {
	if _, ok := parseHandle(handle); !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidHandle, handle)
	}
	return filepath.Join(fs.root, handle), nil
}

// Reserve allocates the next handle and creates its namespace.
func (fs *FileStore) Reserve() (handle, name string, err error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := os.MkdirAll(fs.root, 0700); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrStorageAccess, err)
	}

	for {
		n := fs.next
		fs.next++

		dir := filepath.Join(fs.root, HandleFor(n))
		if err := os.Mkdir(dir, 0700); err != nil {
			if os.IsExist(err) {
				continue
			}
			return "", "", fmt.Errorf("%w: %v", ErrStorageAccess, err)
		}

		fs.log.WithField("handle", HandleFor(n)).Debug("namespace reserved")
		return HandleFor(n), NameFor(n), nil
	}
}

// SaveSample writes img as <uuid>.jpg into the namespace of handle and
// returns the file path.
func (fs *FileStore) SaveSample(handle string, img image.Image) (string, error) {
	dir, err := fs.namespace(handle)
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, uuid.NewString()+".jpg")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return "", fmt.Errorf("failed to create sample: %w", err)
	}

	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 90}); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("failed to encode sample: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to write sample: %w", err)
	}
	return path, nil
}

// Save persists the embeddings of id. The blob is written to a temporary
// file and renamed into place, so readers never see a partial identity.
func (fs *FileStore) Save(id Identity) error {
	if len(id.Embeddings) == 0 {
		return ErrEmptyIdentity
	}

	dir, err := fs.namespace(id.Handle)
	if err != nil {
		return err
	}

	data, err := EncodeEmbeddings(id.Embeddings)
	if err != nil {
		return fmt.Errorf("failed to encode embeddings: %w", err)
	}

	if fs.encryptionEnabled {
		data, err = seal(data, &fs.encryptionKey)
		if err != nil {
			return fmt.Errorf("failed to encrypt embeddings: %w", err)
		}
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageAccess, err)
	}

	tmp, err := os.CreateTemp(dir, ".embeddings-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write embeddings: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to sync embeddings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close embeddings: %w", err)
	}

	if err := os.Rename(tmpPath, filepath.Join(dir, fs.blobName())); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to commit embeddings: %w", err)
	}

	fs.log.WithFields(logging.Fields{"handle": id.Handle, "embeddings": len(id.Embeddings)}).Info("identity saved")
	return nil
}

// LoadAll returns every identity with a complete blob, ordered by handle
// number. Namespaces without a blob or with an unreadable one are skipped.
func (fs *FileStore) LoadAll() ([]Identity, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	entries, err := os.ReadDir(fs.root)
	if err != nil {
		if os.IsNotExist(err) {
			return []Identity{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageAccess, err)
	}

	type numbered struct {
		n  int
		id Identity
	}
	var found []numbered

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		n, ok := parseHandle(e.Name())
		if !ok {
			continue
		}

		id, err := fs.load(e.Name(), n)
		if err != nil {
			if !os.IsNotExist(err) {
				fs.log.WithError(err).WithField("handle", e.Name()).Warn("skipping unreadable identity")
			}
			continue
		}
		found = append(found, numbered{n: n, id: id})
	}

	sort.Slice(found, func(i, j int) bool { return found[i].n < found[j].n })

	identities := make([]Identity, len(found))
	for i, f := range found {
		identities[i] = f.id
	}
	return identities, nil
}

func (fs *FileStore) load(handle string, n int) (Identity, error) {
	path := filepath.Join(fs.root, handle, fs.blobName())

	info, err := os.Stat(path)
	if err != nil {
		return Identity{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Identity{}, err
	}

	if fs.encryptionEnabled {
		data, err = open(data, &fs.encryptionKey)
		if err != nil {
			return Identity{}, fmt.Errorf("failed to decrypt embeddings: %w", err)
		}
	}

	embeddings, err := DecodeEmbeddings(data)
	if err != nil {
		return Identity{}, err
	}

	return Identity{
		Handle:     handle,
		Name:       NameFor(n),
		Embeddings: embeddings,
		EnrolledAt: info.ModTime(),
	}, nil
}

// Entries flattens all identities into one labelled embedding list, in
// store order.
func (fs *FileStore) Entries() ([]recognition.Entry, error) {
	identities, err := fs.LoadAll()
	if err != nil {
		return nil, err
	}

	var entries []recognition.Entry
	for _, id := range identities {
		for _, e := range id.Embeddings {
			entries = append(entries, recognition.Entry{Handle: id.Handle, Name: id.Name, Embedding: e})
		}
	}
	return entries, nil
}

// Count returns the number of complete identities.
func (fs *FileStore) Count() int {
	identities, err := fs.LoadAll()
	if err != nil {
		fs.log.WithError(err).Warn("failed to count identities")
		return 0
	}
	return len(identities)
}

// Discard removes the namespace of handle and everything in it.
func (fs *FileStore) Discard(handle string) error {
	dir, err := fs.namespace(handle)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to discard %s: %w", handle, err)
	}
	fs.log.WithField("handle", handle).Debug("namespace discarded")
	return nil
}

// ResetAll removes every identity and recreates an empty root. It succeeds
// when the root does not exist. The handle counter keeps counting.
func (fs *FileStore) ResetAll() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := os.RemoveAll(fs.root); err != nil {
		return fmt.Errorf("failed to reset store: %w", err)
	}
	if err := os.MkdirAll(fs.root, 0700); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageAccess, err)
	}

	fs.log.Info("identity store reset")
	return nil
}
