package media

import (
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

const octetStream = "application/octet-stream"

// Kind is the closed set of attachment variants a chat message can carry.
type Kind int

const (
	Photo Kind = iota + 1
	Video
	Voice
	Audio
	Document
)

func (k Kind) String() string {
	switch k {
	case Photo:
		return "photo"
	case Video:
		return "video"
	case Voice:
		return "voice"
	case Audio:
		return "audio"
	case Document:
		return "doc"
	}
	return "unknown"
}

// MIMEType returns the type to upload an attachment of this kind with.
// An empty result leaves detection to ResolveMIME.
func (k Kind) MIMEType(declared string) string {
	declared = strings.TrimSpace(declared)
	switch k {
	case Photo:
		return "image/jpeg"
	case Voice:
		return "audio/ogg"
	case Video:
		if declared != "" {
			return declared
		}
		return "video/mp4"
	}
	return declared
}

var audioExtensions = map[string]string{
	"audio/ogg":   ".ogg",
	"audio/mpeg":  ".mp3",
	"audio/x-wav": ".wav",
	"audio/webm":  ".webm",
}

// Extension picks the local file extension, dot included, for a download.
func (k Kind) Extension(declared, fileName string) string {
	switch k {
	case Photo:
		return ".jpg"
	case Video:
		return ".mp4"
	case Voice:
		return ".ogg"
	case Audio:
		if ext, ok := audioExtensions[declared]; ok {
			return ext
		}
		return ".ogg"
	case Document:
		switch {
		case declared == "image/jpeg":
			return ".jpg"
		case strings.HasPrefix(declared, "image/"):
			return ".png"
		case strings.HasPrefix(declared, "video/"):
			return ".mp4"
		}
		if ext, ok := audioExtensions[declared]; ok {
			return ext
		}
		return safeExt(fileName)
	}
	return ""
}

// FileName is the collision-free download name {kind}_{message-id}{ext}.
func (k Kind) FileName(messageID int64, declared, fileName string) string {
	return fmt.Sprintf("%s_%d%s", k, messageID, k.Extension(declared, fileName))
}

func safeExt(name string) string {
	ext := filepath.Ext(filepath.Base(name))
	if len(ext) < 2 || len(ext) > 10 {
		return ""
	}
	for _, r := range ext[1:] {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return ""
		}
	}
	return strings.ToLower(ext)
}

var extensionTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".mp4":  "video/mp4",
	".ogg":  "audio/ogg",
	".mp3":  "audio/mpeg",
	".wav":  "audio/x-wav",
	".webm": "audio/webm",
}

// Sniffed types the model API knows under a different name.
var sniffAliases = map[string]string{
	"application/ogg": "audio/ogg",
	"audio/wave":      "audio/x-wav",
}

// ResolveMIME chooses a MIME type: explicit, then content sniffing, then
// the extension table, then application/octet-stream.
func ResolveMIME(explicit, path string) string {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		return explicit
	}
	if sniffed := sniff(path); sniffed != "" {
		return sniffed
	}
	if byExt, ok := extensionTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return byExt
	}
	return octetStream
}

func sniff(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	buf := make([]byte, 512)
	n, _ := f.Read(buf)
	if n == 0 {
		return ""
	}
	detected, _, err := mime.ParseMediaType(http.DetectContentType(buf[:n]))
	if err != nil || detected == octetStream {
		return ""
	}
	if alias, ok := sniffAliases[detected]; ok {
		return alias
	}
	return detected
}
