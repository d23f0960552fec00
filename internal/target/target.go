// Package target reads and writes the patched executable byte for byte.
package target

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// MaxSize is a safety limit on the size of a target (512 MiB). Compiled
// executables are in the low hundreds of MiB.
const MaxSize = 512 << 20

var (
	// ErrTooLarge is returned for targets above MaxSize.
	ErrTooLarge = errors.New("target too large")
	// ErrDirectory is returned when the target path is a directory.
	ErrDirectory = errors.New("target is a directory")
)

// Kind of a target buffer.
type Kind int

const (
	// KindScript is JavaScript text, the npm cli.js.
	KindScript Kind = iota
	// KindELF is a Linux compiled executable.
	KindELF
	// KindMachO is a macOS compiled executable.
	KindMachO
	// KindPE is a Windows compiled executable.
	KindPE
)

// Compiled reports whether k is a compiled executable rather than text.
func (k Kind) Compiled() bool {
	return k != KindScript
}

func (k Kind) String() string {
	switch k {
	case KindELF:
		return "elf"
	case KindMachO:
		return "mach-o"
	case KindPE:
		return "pe"
	default:
		return "script"
	}
}

type magic struct {
	kind Kind
	sig  []byte
}

// magics are checked in order at offset 0.
var magics = []magic{ //nolint:gochecknoglobals // table
	{KindELF, []byte{0x7f, 'E', 'L', 'F'}},
	{KindPE, []byte{'M', 'Z'}},
	{KindMachO, []byte{0xcf, 0xfa, 0xed, 0xfe}},
	{KindMachO, []byte{0xce, 0xfa, 0xed, 0xfe}},
	{KindMachO, []byte{0xfe, 0xed, 0xfa, 0xcf}},
	{KindMachO, []byte{0xfe, 0xed, 0xfa, 0xce}},
	{KindMachO, []byte{0xca, 0xfe, 0xba, 0xbe}},
}

// Detect classifies buf by its magic bytes. Anything unknown is treated
// as script text.
func Detect(buf []byte) Kind {
	for _, m := range magics {
		if bytes.HasPrefix(buf, m.sig) {
			return m.kind
		}
	}
	return KindScript
}

// Read returns the exact bytes of the file at path.
func Read(path string) ([]byte, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("read target: %w", err)
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrDirectory, path)
	}
	if fi.Size() > MaxSize {
		return nil, fmt.Errorf("%w: %d bytes, max %d", ErrTooLarge, fi.Size(), MaxSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read target: %w", err)
	}
	return data, nil
}

// WriteAtomic replaces path with data through a temporary file in the
// same directory. When path is a symlink the file it points to is
// replaced and the link kept. The mode of an existing file is kept; new
// files get perm.
func WriteAtomic(path string, data []byte, perm os.FileMode) error {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	}
	if fi, err := os.Stat(path); err == nil {
		perm = fi.Mode().Perm()
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("write target: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write target: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write target: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("write target: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		cleanup()
		return fmt.Errorf("write target: %w", err)
	}
	if err := replace(tmpPath, path); err != nil {
		cleanup()
		return fmt.Errorf("write target: %w", err)
	}
	_ = syncDir(dir)
	return nil
}
