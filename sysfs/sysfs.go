// Package sysfs provides typed access to individual sysfs attributes.
//
// Every read and write goes through an FS value whose Root can be pointed
// at a fake tree in tests. Failures are classified into a small set of
// sentinel errors so callers can distinguish "this knob does not exist on
// this machine" from "we are not allowed to touch it".
package sysfs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

var (
	// ErrNotPresent means the attribute file does not exist.
	ErrNotPresent = errors.New("sysfs: attribute not present")

	// ErrUnsupported means the kernel exposes the file but does not
	// support the operation, or the file is missing on a write path.
	ErrUnsupported = errors.New("sysfs: operation unsupported")

	// ErrPermission means the write was denied (EACCES/EPERM).
	ErrPermission = errors.New("sysfs: permission denied")

	// ErrInvalidValue means the kernel rejected the written value.
	ErrInvalidValue = errors.New("sysfs: invalid value")
)

// FS reads and writes sysfs attributes below Root. The zero value is not
// usable; construct with New.
type FS struct {
	// Root is prepended to every path. "/" on a real system.
	Root string
}

// New returns an FS rooted at the real filesystem.
func New() FS {
	return FS{Root: "/"}
}

func (fs FS) path(parts ...string) string {
	return filepath.Join(append([]string{fs.Root}, parts...)...)
}

// Path returns the absolute path of an attribute below Root.
func (fs FS) Path(parts ...string) string {
	return fs.path(parts...)
}

// Exists reports whether the given path exists below Root.
func (fs FS) Exists(parts ...string) bool {
	_, err := os.Stat(fs.path(parts...))
	return err == nil
}

// ReadDir lists the entries of a directory below Root. A missing directory
// returns ErrNotPresent.
func (fs FS) ReadDir(parts ...string) ([]os.DirEntry, error) {
	entries, err := os.ReadDir(fs.path(parts...))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotPresent, fs.path(parts...))
		}
		return nil, err
	}
	return entries, nil
}

// ReadLine reads a single-line attribute, trimmed of whitespace.
func (fs FS) ReadLine(parts ...string) (string, error) {
	p := fs.path(parts...)
	data, err := os.ReadFile(p)
	if err != nil {
		return "", classifyRead(p, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// ReadInt64 reads an attribute and parses it as a base-10 integer.
func (fs FS) ReadInt64(parts ...string) (int64, error) {
	line, err := fs.ReadLine(parts...)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(line, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("sysfs: parse %s: %w", fs.path(parts...), err)
	}
	return n, nil
}

// ReadWords reads an attribute and splits it on whitespace. Used for
// "available" lists such as scaling_available_governors.
func (fs FS) ReadWords(parts ...string) ([]string, error) {
	line, err := fs.ReadLine(parts...)
	if err != nil {
		return nil, err
	}
	return strings.Fields(line), nil
}

// WriteLine writes a whole-line value to an attribute. The write is a
// single open-truncate-write; the kernel sees the full line atomically.
func (fs FS) WriteLine(value string, parts ...string) error {
	p := fs.path(parts...)
	if err := os.WriteFile(p, []byte(value), 0o644); err != nil {
		return classifyWrite(p, err)
	}
	return nil
}

func classifyRead(path string, err error) error {
	switch {
	case os.IsNotExist(err):
		return fmt.Errorf("%w: %s", ErrNotPresent, path)
	case errors.Is(err, unix.EOPNOTSUPP), errors.Is(err, unix.ENOTSUP):
		return fmt.Errorf("%w: read %s", ErrUnsupported, path)
	case os.IsPermission(err):
		return fmt.Errorf("%w: read %s", ErrPermission, path)
	default:
		return fmt.Errorf("sysfs: read %s: %w", path, err)
	}
}

func classifyWrite(path string, err error) error {
	switch {
	case os.IsNotExist(err), errors.Is(err, unix.EOPNOTSUPP), errors.Is(err, unix.ENOTSUP):
		return fmt.Errorf("%w: write %s", ErrUnsupported, path)
	case os.IsPermission(err):
		return fmt.Errorf("%w: write %s", ErrPermission, path)
	case errors.Is(err, unix.EINVAL):
		return fmt.Errorf("%w: write %s", ErrInvalidValue, path)
	default:
		return fmt.Errorf("sysfs: write %s: %w", path, err)
	}
}
