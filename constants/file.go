package constants

import "strings"

// AllowedExtensions holds the file extensions accepted for raw text ingestion.
var AllowedExtensions = map[string]struct{}{
	"txt":  {},
	"text": {},
	"md":   {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// MaxDocumentNameLength bounds sanitized document basenames.
const MaxDocumentNameLength = 200
