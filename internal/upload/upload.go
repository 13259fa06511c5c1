// Package upload validates and stores user supplied images under a single
// directory. All file access goes through an os.Root, so names can never
// resolve outside the upload directory.
package upload

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // register decoder for DecodeConfig
	_ "image/png"  // register decoder for DecodeConfig
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultMaxBytes is the largest accepted image.
	DefaultMaxBytes int64 = 5 << 20

	// MaxDimension bounds width and height to refuse decompression bombs.
	MaxDimension = 10000

	// DefaultPublicURLBase is where the API serves stored files.
	DefaultPublicURLBase = "/api/v1/uploads"

	// CacheControl is sent with every served file. Stored names are never reused.
	CacheControl = "public, max-age=31536000, immutable"
)

var (
	ErrTooLarge          = errors.New("image exceeds the size limit")
	ErrUnsupportedType   = errors.New("image type not allowed")
	ErrInvalidDimensions = errors.New("invalid image dimensions")
	ErrInvalidPath       = errors.New("invalid upload path")
	ErrNotFound          = errors.New("upload not found")
)

// contentTypes maps served extensions to their media type.
var contentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
}

// extensions maps an accepted media type to the extension it is stored with.
var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// maxCreateAttempts bounds the retries on a name collision.
const maxCreateAttempts = 100

var unsafeStem = regexp.MustCompile(`[^a-z0-9_-]+`)

// Config configures a Store.
type Config struct {
	Dir           string
	PublicURLBase string
	MaxBytes      int64
}

// Store writes and reads images in one directory.
type Store struct {
	root     *os.Root
	urlBase  string
	maxBytes int64
	now      func() time.Time
}

// Image describes a stored upload.
type Image struct {
	FileName    string `json:"fileName"`
	StoragePath string `json:"storagePath"` // relative to the upload directory
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
}

// Open creates the upload directory if needed and opens it as a root.
func Open(cfg Config) (*Store, error) {
	if cfg.Dir == "" {
		return nil, errors.New("upload directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}

	root, err := os.OpenRoot(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open upload directory: %w", err)
	}

	urlBase := strings.TrimRight(cfg.PublicURLBase, "/")
	if urlBase == "" {
		urlBase = DefaultPublicURLBase
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	return &Store{root: root, urlBase: urlBase, maxBytes: maxBytes, now: time.Now}, nil
}

// Close releases the directory handle.
func (s *Store) Close() error {
	return s.root.Close()
}

// MaxBytes returns the size limit for a single image.
func (s *Store) MaxBytes() int64 {
	return s.maxBytes
}

// Save validates the image read from r and stores it as
// <prefix>-<id>-<unix millis><ext>.
func (s *Store) Save(prefix, id string, r io.Reader) (*Image, error) {
	data, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, ErrTooLarge
	}

	contentType, err := Validate(data)
	if err != nil {
		return nil, err
	}

	f, name, err := s.create(prefix, id, extensions[contentType])
	if err != nil {
		return nil, err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = s.root.Remove(name)
		return nil, fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		_ = s.root.Remove(name)
		return nil, fmt.Errorf("failed to close %s: %w", name, err)
	}

	log.Debug().Str("file", name).Int("bytes", len(data)).Msg("Stored upload")

	return &Image{
		FileName:    name,
		StoragePath: name,
		URL:         s.urlBase + "/" + name,
		ContentType: contentType,
	}, nil
}

// create opens a new file named after the current time, moving to the next
// millisecond while the name is taken.
func (s *Store) create(prefix, id, ext string) (*os.File, string, error) {
	ts := s.now().UnixMilli()
	for attempt := int64(0); ; attempt++ {
		name := fmt.Sprintf("%s-%s-%d%s", stem(prefix), stem(id), ts+attempt, ext)
		f, err := s.root.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, name, nil
		}
		if !errors.Is(err, fs.ErrExist) || attempt >= maxCreateAttempts {
			return nil, "", fmt.Errorf("failed to create %s: %w", name, err)
		}
	}
}

// File is an opened upload ready to be served.
type File struct {
	*os.File
	Path        string
	ContentType string
	ModTime     time.Time
}

// Open opens a stored file for reading. Paths containing ".." or "~" fail
// with ErrInvalidPath and unknown extensions with ErrUnsupportedType.
func (s *Store) Open(name string) (*File, error) {
	clean, err := checkPath(name)
	if err != nil {
		return nil, err
	}

	contentType, ok := contentTypes[strings.ToLower(path.Ext(clean))]
	if !ok {
		return nil, ErrUnsupportedType
	}

	f, err := s.root.Open(clean)
	if err != nil {
		return nil, notFound(err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat %s: %w", clean, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, ErrNotFound
	}

	return &File{File: f, Path: clean, ContentType: contentType, ModTime: info.ModTime()}, nil
}

// Remove deletes a stored file. Missing files return ErrNotFound.
func (s *Store) Remove(name string) error {
	clean, err := checkPath(name)
	if err != nil {
		return err
	}
	if err := s.root.Remove(clean); err != nil {
		return notFound(err)
	}
	return nil
}

// RemoveQuietly deletes a replaced or orphaned file, logging failures.
func (s *Store) RemoveQuietly(name string) {
	if name == "" {
		return
	}
	if err := s.Remove(name); err != nil && !errors.Is(err, ErrNotFound) {
		log.Warn().Err(err).Str("file", name).Msg("Failed to remove upload")
	}
}

func checkPath(name string) (string, error) {
	if name == "" || strings.Contains(name, "..") || strings.Contains(name, "~") {
		return "", ErrInvalidPath
	}
	clean := path.Clean(strings.TrimLeft(name, "/"))
	if clean == "." || !fs.ValidPath(clean) {
		return "", ErrInvalidPath
	}
	return clean, nil
}

func notFound(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	return err
}

func stem(s string) string {
	v := strings.Trim(unsafeStem.ReplaceAllString(strings.ToLower(s), "-"), "-")
	if v == "" {
		return "image"
	}
	return v
}

// Validate checks the magic bytes and dimensions of data and returns its
// media type. Only JPEG, PNG and WebP are accepted.
func Validate(data []byte) (string, error) {
	contentType := http.DetectContentType(data)
	if _, ok := extensions[contentType]; !ok {
		return "", ErrUnsupportedType
	}

	var width, height int
	if contentType == "image/webp" {
		w, h, err := webpSize(data)
		if err != nil {
			return "", err
		}
		width, height = w, h
	} else {
		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return "", ErrInvalidDimensions
		}
		width, height = cfg.Width, cfg.Height
	}

	if width <= 0 || height <= 0 || width > MaxDimension || height > MaxDimension {
		return "", ErrInvalidDimensions
	}
	return contentType, nil
}

// webpSize reads the canvas size from the first chunk of a WebP file.
func webpSize(data []byte) (int, int, error) {
	if len(data) < 30 {
		return 0, 0, ErrInvalidDimensions
	}

	chunk := data[12:30]
	switch string(chunk[:4]) {
	case "VP8 ":
		// frame tag (3 bytes) and start code 9d 01 2a precede the size
		if !bytes.Equal(chunk[11:14], []byte{0x9d, 0x01, 0x2a}) {
			return 0, 0, ErrInvalidDimensions
		}
		w := int(binary.LittleEndian.Uint16(chunk[14:16]) & 0x3fff)
		h := int(binary.LittleEndian.Uint16(chunk[16:18]) & 0x3fff)
		return w, h, nil
	case "VP8L":
		if chunk[8] != 0x2f {
			return 0, 0, ErrInvalidDimensions
		}
		bits := binary.LittleEndian.Uint32(chunk[9:13])
		return int(bits&0x3fff) + 1, int((bits>>14)&0x3fff) + 1, nil
	case "VP8X":
		w := int(chunk[12]) | int(chunk[13])<<8 | int(chunk[14])<<16
		h := int(chunk[15]) | int(chunk[16])<<8 | int(chunk[17])<<16
		return w + 1, h + 1, nil
	default:
		return 0, 0, ErrInvalidDimensions
	}
}
