package ingest

import (
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/doc-enricher/constants"
)

// AllowedExt checks if a file extension is in the allowed set (txt/text/md).
func AllowedExt(ext string) bool {
	ext = constants.NormalizeExt(ext)
	_, ok := constants.AllowedExtensions[ext]
	return ok
}

// IsHidden checks if a file or directory is hidden (starts with '.').
func IsHidden(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".") && base != "." && base != ".."
}

// DocumentName derives the document basename from a file path: directory
// and extension are dropped.
func DocumentName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
