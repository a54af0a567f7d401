package constants

import (
	"path/filepath"
	"strings"
)

// FileKind groups ingestible files by the extraction strategy they need.
type FileKind string

const (
	FileKindPDF         FileKind = "pdf"
	FileKindSpreadsheet FileKind = "spreadsheet"
)

// AllowedExtensions holds the default allowed file extensions for ingestion.
var AllowedExtensions = map[string]struct{}{
	"pdf":  {},
	"xlsx": {},
	"xlsm": {},
	"csv":  {},
}

var spreadsheetExts = map[string]struct{}{
	"xlsx": {},
	"xlsm": {},
	"csv":  {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// KindForPath maps a file path to its FileKind by extension.
// The second return is false for unsupported extensions.
func KindForPath(path string) (FileKind, bool) {
	ext := NormalizeExt(filepath.Ext(path))
	if ext == "pdf" {
		return FileKindPDF, true
	}
	if _, ok := spreadsheetExts[ext]; ok {
		return FileKindSpreadsheet, true
	}
	return "", false
}
