// Package media converts chat images to and from the data URL form carried
// in the "media" field of a send frame, and stores received images on disk.
package media

import (
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/psds-microservice/support-chat/internal/errs"
)

// EncodeDataURL reads an image (at most maxBytes) and returns it as
// "data:<mime>;base64,<payload>".
func EncodeDataURL(r io.Reader, maxBytes int64) (string, error) {
	raw, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	if int64(len(raw)) > maxBytes {
		return "", errs.ErrMediaTooLarge
	}
	mt := mimetype.Detect(raw)
	if !isImage(mt) {
		return "", fmt.Errorf("%w: %s", errs.ErrNotImage, mt.String())
	}
	return "data:" + mt.String() + ";base64," + base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeDataURL parses a base64 data URL and checks that the payload really
// is an image. The declared type is ignored in favour of the sniffed one.
func DecodeDataURL(s string) ([]byte, *mimetype.MIME, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return nil, nil, fmt.Errorf("media: not a data URL")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return nil, nil, fmt.Errorf("media: data URL is not base64")
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("media: decode base64: %w", err)
	}
	mt := mimetype.Detect(raw)
	if !isImage(mt) {
		return nil, nil, fmt.Errorf("%w: %s", errs.ErrNotImage, mt.String())
	}
	return raw, mt, nil
}

func isImage(mt *mimetype.MIME) bool {
	return strings.HasPrefix(mt.String(), "image/")
}

// Store writes decoded chat images under Dir and hands back their public path.
type Store struct {
	Dir       string
	URLPrefix string
	MaxBytes  int64
}

// NewStore returns a store rooted at dir whose files are served under urlPrefix.
func NewStore(dir, urlPrefix string, maxBytes int64) *Store {
	return &Store{Dir: dir, URLPrefix: urlPrefix, MaxBytes: maxBytes}
}

// SaveDataURL decodes a data URL sent by userID and returns the public URL of
// the stored file.
func (s *Store) SaveDataURL(dataURL string, userID uint64) (string, error) {
	raw, mt, err := DecodeDataURL(dataURL)
	if err != nil {
		return "", err
	}
	if s.MaxBytes > 0 && int64(len(raw)) > s.MaxBytes {
		return "", errs.ErrMediaTooLarge
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("media: create dir: %w", err)
	}
	name := fmt.Sprintf("%d_%s%s", userID, uuid.NewString(), mt.Extension())
	if err := os.WriteFile(filepath.Join(s.Dir, name), raw, 0o644); err != nil {
		return "", fmt.Errorf("media: write file: %w", err)
	}
	return path.Join(s.URLPrefix, name), nil
}
