// Package fileutil provides file and path utility functions.
package fileutil

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// Permission constants for staged and engine-owned files.
const (
	DirPermissions  = 0o750 // rwxr-x---
	FilePermissions = 0o640 // rw-r-----
)

// MaxNameRunes caps sanitized file names. The unique prefix added by the
// staging store keeps long names distinct after truncation.
const MaxNameRunes = 100

// fallbackName replaces names that sanitize to nothing.
const fallbackName = "upload"

// SanitizeName reduces a client-supplied filename to a safe single path
// component: directories are stripped, runes other than letters, digits,
// '.', '-' and '_' become '_', and leading dots are removed so the result is
// never hidden or a relative reference. The extension always survives: a
// name that is only an extension (".docx") becomes "upload.docx".
func SanitizeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	if name == "." || name == "/" {
		return fallbackName
	}

	runes := []rune(name)
	for i, r := range runes {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '.' && r != '-' && r != '_' {
			runes[i] = '_'
		}
	}
	if len(runes) > MaxNameRunes {
		// Keep the extension: engines dispatch on it.
		ext := []rune(filepath.Ext(string(runes)))
		if len(ext) >= MaxNameRunes {
			ext = nil
		}
		runes = append(runes[:MaxNameRunes-len(ext)], ext...)
	}

	ext := filepath.Ext(string(runes))
	out := strings.TrimLeft(string(runes), ".")
	if strings.Trim(out, "_") == "" {
		return fallbackName
	}
	if filepath.Ext(out) != ext {
		return fallbackName + ext
	}
	return out
}

// FileExists returns true if the path exists and is a regular file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// DirExists returns true if the path exists and is a directory.
func DirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// CheckWritableDir creates dir if needed and verifies a file can be written in it.
func CheckWritableDir(dir string) error {
	if err := os.MkdirAll(dir, DirPermissions); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	f, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return fmt.Errorf("directory not writable: %w", err)
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

// CopyFile copies src to dst, creating or truncating dst.
func CopyFile(src, dst string) (err error) {
	in, err := os.Open(src) // #nosec G304 -- engine-owned staged path
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, FilePermissions) // #nosec G304 -- engine-owned path
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	_, err = io.Copy(out, in)
	return err
}

// RemoveIfExists deletes path, treating a missing file as success.
func RemoveIfExists(path string) error {
	err := os.Remove(path)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// HasPrefix reports whether the first bytes of path match sig.
// Short or unreadable files return false.
func HasPrefix(path string, sig []byte) bool {
	f, err := os.Open(path) // #nosec G304 -- engine-owned staged path
	if err != nil {
		return false
	}
	defer f.Close()

	buf := make([]byte, len(sig))
	if _, err := io.ReadFull(f, buf); err != nil {
		return false
	}
	return string(buf) == string(sig)
}
