// Package backup keeps immutable snapshots of a document store taken before
// a migration. Each backup is one CBOR file holding the original bytes and
// their SHA-256 checksum, named after a time-ordered ULID label.
package backup

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/mesh-intelligence/boardstore/internal/fsutil"
	"github.com/mesh-intelligence/boardstore/pkg/types"
)

// File naming.
const (
	LabelPrefix = "backup-"
	FileExt     = ".cbor"
)

// FormatVersion is written into every envelope.
const FormatVersion = 1

// Backup errors.
var (
	ErrChecksum     = errors.New("backup checksum mismatch")
	ErrInvalidLabel = errors.New("invalid backup label")
	ErrFormat       = errors.New("unsupported backup format")
)

// Backup is a stored snapshot. Data is nil in listings.
type Backup struct {
	Format        int       `cbor:"format" json:"format"`
	Label         string    `cbor:"label" json:"label"`
	CreatedAt     time.Time `cbor:"createdAt" json:"createdAt"`
	Reason        string    `cbor:"reason" json:"reason"`
	SourceVersion string    `cbor:"sourceVersion" json:"sourceVersion"`
	Size          int       `cbor:"size" json:"size"`
	Checksum      string    `cbor:"checksum" json:"checksum"`
	Data          []byte    `cbor:"data,omitempty" json:"-"`
}

// header is the envelope without its payload, used for listings.
type header struct {
	Format        int       `cbor:"format"`
	Label         string    `cbor:"label"`
	CreatedAt     time.Time `cbor:"createdAt"`
	Reason        string    `cbor:"reason"`
	SourceVersion string    `cbor:"sourceVersion"`
	Size          int       `cbor:"size"`
	Checksum      string    `cbor:"checksum"`
}

var encMode cbor.EncMode

func init() {
	opts := cbor.CanonicalEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	em, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("backup: cbor encoder: %v", err))
	}
	encMode = em
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now for labels and age checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store manages the backups of one data directory.
type Store struct {
	dir    string
	policy types.BackupConfig
	now    func() time.Time
	log    zerolog.Logger

	mu      sync.Mutex
	entropy io.Reader
}

// Open returns a store keeping backups in dir, creating it if needed.
func Open(dir string, policy types.BackupConfig, log zerolog.Logger, opts ...Option) (*Store, error) {
	if policy.MaxCount < 0 || policy.MaxAge < 0 {
		return nil, types.ErrRetentionInvalid
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating backup directory: %w", err)
	}
	s := &Store{
		dir:     dir,
		policy:  policy,
		now:     func() time.Time { return time.Now().UTC() },
		log:     log.With().Str("component", "backup").Logger(),
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir returns the backup directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(label string) (string, error) {
	if _, err := parseLabel(label); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, label+FileExt), nil
}

func parseLabel(label string) (ulid.ULID, error) {
	raw, ok := strings.CutPrefix(label, LabelPrefix)
	if !ok {
		return ulid.ULID{}, fmt.Errorf("%q: %w", label, ErrInvalidLabel)
	}
	id, err := ulid.ParseStrict(raw)
	if err != nil {
		return ulid.ULID{}, fmt.Errorf("%q: %w", label, ErrInvalidLabel)
	}
	return id, nil
}

// LabelTime returns the creation time encoded in a label.
func LabelTime(label string) (time.Time, error) {
	id, err := parseLabel(label)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(id.Time()).UTC(), nil
}

func (s *Store) newLabel(now time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := ulid.New(ulid.Timestamp(now), s.entropy)
	if err != nil {
		return "", fmt.Errorf("generating backup label: %w", err)
	}
	return LabelPrefix + id.String(), nil
}

// Save stores raw as a new backup and then applies the retention policy.
// The new backup is always kept.
func (s *Store) Save(raw []byte, reason, sourceVersion string) (*Backup, error) {
	now := s.now()
	label, err := s.newLabel(now)
	if err != nil {
		return nil, err
	}
	b := &Backup{
		Format:        FormatVersion,
		Label:         label,
		CreatedAt:     now,
		Reason:        reason,
		SourceVersion: sourceVersion,
		Size:          len(raw),
		Checksum:      checksum(raw),
		Data:          slices.Clone(raw),
	}
	data, err := encMode.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("encoding backup: %w", err)
	}
	path, err := s.path(label)
	if err != nil {
		return nil, err
	}
	if err := fsutil.WriteFile(path, data, 0o600); err != nil {
		return nil, fmt.Errorf("writing backup: %w", err)
	}
	s.log.Info().
		Str("label", label).
		Str("reason", reason).
		Str("sourceVersion", sourceVersion).
		Int("bytes", len(raw)).
		Msg("backup saved")

	if _, err := s.Prune(); err != nil {
		s.log.Warn().Err(err).Msg("pruning backups")
	}
	return b, nil
}

// Load reads a backup and verifies its checksum.
func (s *Store) Load(label string) (*Backup, error) {
	path, err := s.path(label)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &types.NotFoundError{Kind: "backup", ID: label}
	}
	if err != nil {
		return nil, fmt.Errorf("reading backup: %w", err)
	}
	var b Backup
	if err := cbor.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decoding backup %s: %w", label, err)
	}
	if b.Format != FormatVersion {
		return nil, fmt.Errorf("backup %s has format %d: %w", label, b.Format, ErrFormat)
	}
	if b.Label != label || len(b.Data) != b.Size || checksum(b.Data) != b.Checksum {
		return nil, fmt.Errorf("backup %s: %w", label, ErrChecksum)
	}
	return &b, nil
}

// List returns every backup without its payload, newest first. Files that
// cannot be decoded are skipped with a warning.
func (s *Store) List() ([]*Backup, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading backup directory: %w", err)
	}
	var out []*Backup
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, LabelPrefix) || !strings.HasSuffix(name, FileExt) {
			continue
		}
		label := strings.TrimSuffix(name, FileExt)
		if _, err := parseLabel(label); err != nil {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			return nil, fmt.Errorf("reading backup %s: %w", label, err)
		}
		var h header
		if err := cbor.Unmarshal(data, &h); err != nil {
			s.log.Warn().Err(err).Str("label", label).Msg("skipping unreadable backup")
			continue
		}
		out = append(out, &Backup{
			Format:        h.Format,
			Label:         label,
			CreatedAt:     h.CreatedAt,
			Reason:        h.Reason,
			SourceVersion: h.SourceVersion,
			Size:          h.Size,
			Checksum:      h.Checksum,
		})
	}
	// Labels sort by creation time.
	slices.SortFunc(out, func(a, b *Backup) int { return strings.Compare(b.Label, a.Label) })
	return out, nil
}

// Latest returns the newest backup with its payload.
func (s *Store) Latest() (*Backup, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, &types.NotFoundError{Kind: "backup", ID: "latest"}
	}
	return s.Load(all[0].Label)
}

// Discard deletes a backup.
func (s *Store) Discard(label string) error {
	path, err := s.path(label)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &types.NotFoundError{Kind: "backup", ID: label}
		}
		return fmt.Errorf("removing backup: %w", err)
	}
	s.log.Info().Str("label", label).Msg("backup discarded")
	return nil
}

// Consume loads a backup and then discards it. The backup is kept when it
// fails verification.
func (s *Store) Consume(label string) (*Backup, error) {
	b, err := s.Load(label)
	if err != nil {
		return nil, err
	}
	if err := s.Discard(label); err != nil {
		return nil, err
	}
	return b, nil
}

// Prune applies the retention policy: at most MaxCount backups, none older
// than MaxAge. The newest backup is never removed. Returns the removed
// labels.
func (s *Store) Prune() ([]string, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	var cutoff time.Time
	if s.policy.MaxAge > 0 {
		cutoff = s.now().Add(-s.policy.MaxAge)
	}
	var removed []string
	for i, b := range all {
		if i == 0 {
			continue
		}
		tooMany := s.policy.MaxCount > 0 && i >= s.policy.MaxCount
		tooOld := false
		if !cutoff.IsZero() {
			created, err := LabelTime(b.Label)
			if err != nil {
				continue
			}
			tooOld = created.Before(cutoff)
		}
		if !tooMany && !tooOld {
			continue
		}
		if err := s.Discard(b.Label); err != nil {
			return removed, err
		}
		removed = append(removed, b.Label)
	}
	if len(removed) > 0 {
		s.log.Info().Int("removed", len(removed)).Msg("backups pruned")
	}
	return removed, nil
}
