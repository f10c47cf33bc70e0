package bill

import (
	"path/filepath"
	"strings"
)

// ErrBadExtension is the message shown next to the file input when the
// receipt is not an accepted image
const ErrBadExtension = "Mauvaise extension d'image, veuillez fournir une image sous le formet png, jpg ou jpeg."

var allowedExtensions = map[string]bool{
	"png":  true,
	"jpg":  true,
	"jpeg": true,
}

// BaseName returns what follows the last path separator of a file input
// value. Browsers report "C:\fakepath\name.png" so both separators count.
func BaseName(rawPath string) string {
	if i := strings.LastIndexAny(rawPath, `\/`); i >= 0 {
		return rawPath[i+1:]
	}
	return rawPath
}

// Extension returns the lower-cased extension of name without the dot
func Extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

// AllowedAttachment reports whether name carries a png, jpg or jpeg
// extension, case-insensitively
func AllowedAttachment(name string) bool {
	return allowedExtensions[Extension(name)]
}

// ContentType guesses the MIME type of an accepted receipt from its name
func ContentType(name string) string {
	switch Extension(name) {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	default:
		return "application/octet-stream"
	}
}
