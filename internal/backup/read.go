package backup

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
	"github.com/zeebo/blake3"
)

// ErrDigestMismatch indicates an archive whose contents do not match its
// digest file.
var ErrDigestMismatch = errors.New("backup: digest mismatch")

// ErrNoIdentity indicates an encrypted archive read without identities.
var ErrNoIdentity = errors.New("backup: archive is encrypted but no identity was given")

// maxArchiveSize bounds how much of an archive Read loads.
const maxArchiveSize = 64 * 1024 * 1024

// Read reverses the archive pipeline and returns the JSON export. When a
// digest file sits next to the archive it is verified first. Encrypted
// archives need at least one matching identity.
func Read(path string, identities ...age.Identity) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("backup: read %s: %w", path, err)
	}
	if err := verifyDigest(path, raw); err != nil {
		return nil, err
	}

	name := filepath.Base(path)
	var src io.Reader = bytes.NewReader(raw)
	if strings.HasSuffix(name, ageSuffix) {
		if len(identities) == 0 {
			return nil, ErrNoIdentity
		}
		dec, err := age.Decrypt(src, identities...)
		if err != nil {
			return nil, fmt.Errorf("backup: decrypt: %w", err)
		}
		src = dec
		name = strings.TrimSuffix(name, ageSuffix)
	}

	codec, ok := codecForExtension(strings.TrimPrefix(filepath.Ext(name), "."))
	if !ok {
		return nil, fmt.Errorf("backup: unknown archive extension in %q", filepath.Base(path))
	}
	rc, err := codec.decompressor(src)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	out, err := io.ReadAll(io.LimitReader(rc, maxArchiveSize))
	if err != nil {
		return nil, fmt.Errorf("backup: decompress: %w", err)
	}
	return out, nil
}

// verifyDigest checks raw against the sibling digest file, if any.
func verifyDigest(path string, raw []byte) error {
	line, err := os.ReadFile(path + digestSuffix)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("backup: read digest: %w", err)
	}
	fields := strings.Fields(string(line))
	if len(fields) == 0 {
		return fmt.Errorf("%w: empty digest file", ErrDigestMismatch)
	}
	want, err := hex.DecodeString(fields[0])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDigestMismatch, err)
	}
	got := blake3.Sum256(raw)
	if !bytes.Equal(got[:], want) {
		return ErrDigestMismatch
	}
	return nil
}

// ParseIdentities reads age identities (AGE-SECRET-KEY-1...) from an
// identity file.
func ParseIdentities(path string) ([]age.Identity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("backup: open identities: %w", err)
	}
	defer func() { _ = f.Close() }()

	ids, err := age.ParseIdentities(f)
	if err != nil {
		return nil, fmt.Errorf("backup: parse identities: %w", err)
	}
	return ids, nil
}
