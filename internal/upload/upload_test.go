package upload

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h)), nil))
	return buf.Bytes()
}

// webpLossless builds the header of a VP8L WebP image of the given size.
func webpLossless(w, h int) []byte {
	bits := uint32(w-1) | uint32(h-1)<<14
	payload := []byte{0x2f, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	binary.LittleEndian.PutUint32(payload[1:5], bits)

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(4+8+len(payload)))
	buf.WriteString("WEBPVP8L")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(payload)))
	buf.Write(payload)
	return buf.Bytes()
}

// webpExtended builds the header of a VP8X WebP image of the given size.
func webpExtended(w, h int) []byte {
	payload := make([]byte, 10)
	payload[4], payload[5], payload[6] = byte(w-1), byte((w-1)>>8), byte((w-1)>>16)
	payload[7], payload[8], payload[9] = byte(h-1), byte((h-1)>>8), byte((h-1)>>16)

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(4+8+len(payload)))
	buf.WriteString("WEBPVP8X")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(payload)))
	buf.Write(payload)
	return buf.Bytes()
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		want    string
		wantErr error
	}{
		{name: "png", data: pngBytes(t, 4, 3), want: "image/png"},
		{name: "jpeg", data: jpegBytes(t, 8, 8), want: "image/jpeg"},
		{name: "webp lossless", data: webpLossless(640, 480), want: "image/webp"},
		{name: "webp extended", data: webpExtended(1200, 800), want: "image/webp"},
		{name: "webp too wide", data: webpExtended(MaxDimension+1, 10), wantErr: ErrInvalidDimensions},
		{name: "gif", data: []byte("GIF89a\x01\x00\x01\x00\x00\x00\x00"), wantErr: ErrUnsupportedType},
		{name: "text", data: []byte("<html>not an image</html>"), wantErr: ErrUnsupportedType},
		{name: "truncated png", data: pngBytes(t, 4, 4)[:20], wantErr: ErrInvalidDimensions},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Validate(tt.data)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func newTestStore(t *testing.T, maxBytes int64) (*Store, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "uploads")
	st, err := Open(Config{Dir: dir, MaxBytes: maxBytes})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	st.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return st, dir
}

func TestStoreSaveAndOpen(t *testing.T) {
	st, dir := newTestStore(t, 0)
	data := pngBytes(t, 2, 2)

	img, err := st.Save("Recipe", "recipe-0192 ABC", bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, "recipe-recipe-0192-abc-1700000000000.png", img.FileName)
	require.Equal(t, DefaultPublicURLBase+"/"+img.FileName, img.URL)
	require.Equal(t, "image/png", img.ContentType)

	onDisk, err := os.ReadFile(filepath.Join(dir, img.StoragePath))
	require.NoError(t, err)
	require.Equal(t, data, onDisk)

	f, err := st.Open(img.StoragePath)
	require.NoError(t, err)
	defer f.Close()
	require.Equal(t, "image/png", f.ContentType)
	served, err := io.ReadAll(f)
	require.NoError(t, err)
	require.Equal(t, data, served)

	// a name taken in the same millisecond moves to the next one
	again, err := st.Save("Recipe", "recipe-0192 ABC", bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, "recipe-recipe-0192-abc-1700000000001.png", again.FileName)
}

func TestStoreSaveRejects(t *testing.T) {
	st, dir := newTestStore(t, 64)

	_, err := st.Save("avatar", "u1", bytes.NewReader(bytes.Repeat([]byte{0x89}, 65)))
	require.ErrorIs(t, err, ErrTooLarge)

	_, err = st.Save("avatar", "u1", strings.NewReader("plain text"))
	require.ErrorIs(t, err, ErrUnsupportedType)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestStoreOpenRejects(t *testing.T) {
	st, dir := newTestStore(t, 0)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(dir), "secret.png"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "folder.png"), 0o755))

	tests := []struct {
		name    string
		path    string
		wantErr error
	}{
		{name: "parent traversal", path: "../secret.png", wantErr: ErrInvalidPath},
		{name: "tilde", path: "~root/secret.png", wantErr: ErrInvalidPath},
		{name: "empty", path: "", wantErr: ErrInvalidPath},
		{name: "unknown extension", path: "notes.txt", wantErr: ErrUnsupportedType},
		{name: "missing file", path: "missing.png", wantErr: ErrNotFound},
		{name: "directory", path: "folder.png", wantErr: ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := st.Open(tt.path)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestStoreRemove(t *testing.T) {
	st, dir := newTestStore(t, 0)

	img, err := st.Save("avatar", "u1", bytes.NewReader(jpegBytes(t, 4, 4)))
	require.NoError(t, err)

	require.NoError(t, st.Remove(img.StoragePath))
	_, err = os.Stat(filepath.Join(dir, img.StoragePath))
	require.ErrorIs(t, err, os.ErrNotExist)

	require.ErrorIs(t, st.Remove(img.StoragePath), ErrNotFound)
	require.ErrorIs(t, st.Remove("../outside.png"), ErrInvalidPath)

	// quiet removal ignores missing files
	st.RemoveQuietly(img.StoragePath)
	st.RemoveQuietly("")
}
