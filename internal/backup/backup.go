// Package backup writes and reads point-in-time archives of the
// conversation history. An archive is the JSON export, compressed with
// zstd or lz4, optionally encrypted to age recipients, and accompanied by
// a BLAKE3 digest file.
package backup

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"filippo.io/age"
	"github.com/zeebo/blake3"

	"github.com/flemzord/fanyi/internal/memory"
)

const (
	filePrefix      = "history-"
	timestampLayout = "20060102T150405Z"
	digestSuffix    = ".blake3"
	ageSuffix       = ".age"
)

// Exporter is the history surface a backup snapshots.
type Exporter interface {
	Export() memory.Export
}

// Options configures a Writer.
type Options struct {
	// Dir receives the archives. Created if missing.
	Dir string

	// Codec is the compression codec. Empty means zstd.
	Codec Codec

	// Keep is how many archives to retain. 0 keeps every archive.
	Keep int

	// Recipients are age X25519 public keys (age1...). Archives are
	// encrypted when at least one is given.
	Recipients []string

	Logger *slog.Logger
}

// Writer produces backup archives.
type Writer struct {
	dir        string
	codec      Codec
	keep       int
	recipients []age.Recipient
	logger     *slog.Logger
	now        func() time.Time
}

// NewWriter validates opts and returns a Writer.
func NewWriter(opts Options) (*Writer, error) {
	if opts.Dir == "" {
		return nil, errors.New("backup: directory is required")
	}
	codec, err := ParseCodec(string(opts.Codec))
	if err != nil {
		return nil, err
	}
	if opts.Keep < 0 {
		return nil, fmt.Errorf("backup: keep must be non-negative, got %d", opts.Keep)
	}

	recipients := make([]age.Recipient, 0, len(opts.Recipients))
	for _, key := range opts.Recipients {
		r, err := age.ParseX25519Recipient(key)
		if err != nil {
			return nil, fmt.Errorf("backup: parsing recipient %q: %w", key, err)
		}
		recipients = append(recipients, r)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Writer{
		dir:        opts.Dir,
		codec:      codec,
		keep:       opts.Keep,
		recipients: recipients,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// Dir returns the archive directory.
func (w *Writer) Dir() string { return w.dir }

// Write snapshots src into a new archive and prunes old ones. It returns
// the archive path.
func (w *Writer) Write(ctx context.Context, src Exporter) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	payload, err := json.Marshal(src.Export())
	if err != nil {
		return "", fmt.Errorf("backup: marshal export: %w", err)
	}

	if err := os.MkdirAll(w.dir, 0o700); err != nil {
		return "", fmt.Errorf("backup: create directory: %w", err)
	}

	name := filePrefix + w.now().UTC().Format(timestampLayout) + ".json." + w.codec.Extension()
	if len(w.recipients) > 0 {
		name += ageSuffix
	}
	path := filepath.Join(w.dir, name)

	digest, err := w.writeArchive(path, payload)
	if err != nil {
		return "", err
	}

	line := hex.EncodeToString(digest) + "  " + name + "\n"
	if err := os.WriteFile(path+digestSuffix, []byte(line), 0o600); err != nil {
		return "", fmt.Errorf("backup: write digest: %w", err)
	}

	w.logger.Info("backup written",
		"path", path,
		"bytes", len(payload),
		"codec", string(w.codec),
		"encrypted", len(w.recipients) > 0,
	)

	if err := w.prune(); err != nil {
		w.logger.Warn("backup prune failed", "error", err)
	}
	return path, nil
}

// writeArchive streams payload through compression and optional
// encryption into a temp file, then renames it into place. It returns the
// BLAKE3 digest of the file contents.
func (w *Writer) writeArchive(path string, payload []byte) (_ []byte, err error) {
	tmp, err := os.CreateTemp(w.dir, ".backup-*")
	if err != nil {
		return nil, fmt.Errorf("backup: create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	hasher := blake3.New()
	var sink io.Writer = io.MultiWriter(tmp, hasher)

	var encrypter io.WriteCloser
	if len(w.recipients) > 0 {
		encrypter, err = age.Encrypt(sink, w.recipients...)
		if err != nil {
			return nil, fmt.Errorf("backup: creating age encryptor: %w", err)
		}
		sink = encrypter
	}

	comp, err := w.codec.compressor(sink)
	if err != nil {
		return nil, err
	}
	if _, err = comp.Write(payload); err != nil {
		return nil, fmt.Errorf("backup: compress: %w", err)
	}
	if err = comp.Close(); err != nil {
		return nil, fmt.Errorf("backup: finalize compression: %w", err)
	}
	if encrypter != nil {
		if err = encrypter.Close(); err != nil {
			return nil, fmt.Errorf("backup: finalize encryption: %w", err)
		}
	}

	if err = tmp.Sync(); err != nil {
		return nil, fmt.Errorf("backup: sync: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return nil, fmt.Errorf("backup: close: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return nil, fmt.Errorf("backup: rename: %w", err)
	}
	return hasher.Sum(nil), nil
}

// prune removes the oldest archives beyond the retention count.
func (w *Writer) prune() error {
	if w.keep == 0 {
		return nil
	}
	archives, err := List(w.dir)
	if err != nil {
		return err
	}
	if len(archives) <= w.keep {
		return nil
	}

	var errs []error
	for _, path := range archives[:len(archives)-w.keep] {
		if err := os.Remove(path); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := os.Remove(path + digestSuffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
		w.logger.Debug("backup pruned", "path", path)
	}
	return errors.Join(errs...)
}

// List returns the archive paths in dir, oldest first.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("backup: list %s: %w", dir, err)
	}

	var paths []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || strings.HasSuffix(name, digestSuffix) {
			continue
		}
		paths = append(paths, filepath.Join(dir, name))
	}
	slices.Sort(paths)
	return paths, nil
}
