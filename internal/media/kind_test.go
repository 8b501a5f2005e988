package media

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

var opaque = []byte{0x00, 0x01, 0x02, 0xfe, 0xff}

func TestResolveMIME_Explicit(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "x.png", opaque)
	assert.Equal(t, "video/quicktime", ResolveMIME("video/quicktime", path))
}

func TestResolveMIME_Sniffed(t *testing.T) {
	dir := t.TempDir()
	jpeg := append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, make([]byte, 32)...)
	path := writeFile(t, dir, "photo.bin", jpeg)
	assert.Equal(t, "image/jpeg", ResolveMIME("", path))

	ogg := append([]byte("OggS\x00"), make([]byte, 32)...)
	path = writeFile(t, dir, "voice.bin", ogg)
	assert.Equal(t, "audio/ogg", ResolveMIME("", path))
}

func TestResolveMIME_ExtensionFallback(t *testing.T) {
	dir := t.TempDir()
	tests := map[string]string{
		"a.jpg":  "image/jpeg",
		"a.JPEG": "image/jpeg",
		"a.png":  "image/png",
		"a.mp4":  "video/mp4",
		"a.ogg":  "audio/ogg",
		"a.mp3":  "audio/mpeg",
		"a.wav":  "audio/x-wav",
		"a.webm": "audio/webm",
		"a.xyz":  "application/octet-stream",
	}
	for name, want := range tests {
		path := writeFile(t, dir, name, opaque)
		assert.Equal(t, want, ResolveMIME("", path), name)
	}
}

func TestResolveMIME_MissingFileUsesExtension(t *testing.T) {
	assert.Equal(t, "audio/mpeg", ResolveMIME("", "/nonexistent/track.mp3"))
}

func TestKind_MIMEType(t *testing.T) {
	assert.Equal(t, "image/jpeg", Photo.MIMEType(""))
	assert.Equal(t, "audio/ogg", Voice.MIMEType("audio/opus"))
	assert.Equal(t, "video/mp4", Video.MIMEType(""))
	assert.Equal(t, "video/webm", Video.MIMEType("video/webm"))
	assert.Equal(t, "audio/mpeg", Audio.MIMEType("audio/mpeg"))
	assert.Equal(t, "", Document.MIMEType(""))
}

func TestKind_FileName(t *testing.T) {
	tests := []struct {
		kind     Kind
		declared string
		name     string
		want     string
	}{
		{Photo, "", "", "photo_42.jpg"},
		{Video, "video/mp4", "", "video_42.mp4"},
		{Voice, "audio/ogg", "", "voice_42.ogg"},
		{Audio, "audio/mpeg", "song.mp3", "audio_42.mp3"},
		{Audio, "audio/x-wav", "", "audio_42.wav"},
		{Audio, "audio/webm", "", "audio_42.webm"},
		{Audio, "", "", "audio_42.ogg"},
		{Document, "image/jpeg", "", "doc_42.jpg"},
		{Document, "image/gif", "", "doc_42.png"},
		{Document, "video/quicktime", "", "doc_42.mp4"},
		{Document, "audio/ogg", "", "doc_42.ogg"},
		{Document, "application/pdf", "report.PDF", "doc_42.pdf"},
		{Document, "", "noext", "doc_42"},
		{Document, "", "../../etc/pa ss.w d", "doc_42"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.kind.FileName(42, tt.declared, tt.name))
	}
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "doc", Document.String())
	assert.Equal(t, "unknown", Kind(0).String())
}
