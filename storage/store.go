// Package storage streams upload parts into files directly under a root
// directory.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mohammadanang/scan-receiver/domain"
	"github.com/mohammadanang/scan-receiver/logging"
	"github.com/spf13/afero"
)

// ChunkSize bounds how much of a part is held in memory at once.
const ChunkSize = 32 * 1024

// ErrInvalidName is returned for names that are not a single path element.
var ErrInvalidName = errors.New("invalid file name")

type Store struct {
	fs     afero.Fs
	root   string
	logger *slog.Logger
}

// New wraps fs. root is only used to report where files ended up.
func New(fs afero.Fs, root string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{fs: fs, root: root, logger: logger}
}

// NewDisk returns a Store confined to root on the local filesystem. The
// root must already exist and be a directory.
func NewDisk(root string, logger *slog.Logger) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root %s: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("checking root %s: %w", abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", abs)
	}
	return New(afero.NewBasePathFs(afero.NewOsFs(), abs), abs, logger), nil
}

func (s *Store) Root() string {
	return s.root
}

func (s *Store) Fs() afero.Fs {
	return s.fs
}

// Write creates name exclusively and copies src into it chunk by chunk.
// Unless every byte is written and the file closed cleanly, the file is
// removed before returning. Write failures come back as KindWrite upload
// errors; failures reading src are returned unchanged.
func (s *Store) Write(ctx context.Context, name string, src io.Reader) (domain.StoredFile, error) {
	file := domain.StoredFile{
		Name:   name,
		Path:   filepath.Join(s.root, name),
		Status: domain.StatusTruncated,
	}
	if err := checkName(name); err != nil {
		return file, domain.NewError(domain.KindWrite, 0, err)
	}

	f, err := s.fs.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return file, domain.NewError(domain.KindWrite, 0, fmt.Errorf("creating file (%s): %w", file.Path, err))
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		_ = f.Close()
		if rmErr := s.fs.Remove(name); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			s.logger.Warn("failed to remove partial file", "path", file.Path, "error", rmErr)
			return
		}
		s.logger.Debug("removed partial file", "path", file.Path, "written", file.Size)
	}()

	buf := make([]byte, ChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return file, err
		}

		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := f.Write(buf[:nr])
			file.Size += int64(nw)
			if werr == nil && nw != nr {
				werr = io.ErrShortWrite
			}
			if werr != nil {
				return file, domain.NewError(domain.KindWrite, 0, fmt.Errorf("writing file (%s): %w", file.Path, werr))
			}
			s.logger.Log(ctx, logging.LevelTrace, "wrote chunk", "path", file.Path, "len", nw)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return file, rerr
		}
	}

	if err := f.Close(); err != nil {
		return file, domain.NewError(domain.KindWrite, 0, fmt.Errorf("closing file (%s): %w", file.Path, err))
	}
	committed = true
	file.Status = domain.StatusComplete

	s.logger.Info("stored file", "path", file.Path, "size", humanize.IBytes(uint64(file.Size)))
	return file, nil
}

func checkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
