package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/mohammadanang/scan-receiver/domain"
	"github.com/mohammadanang/scan-receiver/sanitize"
	"github.com/mohammadanang/scan-receiver/storage"
)

// DefaultMaxFieldSize caps how much of a non-file form field is drained.
const DefaultMaxFieldSize = 1 << 20

type Options struct {
	// Field, when set, restricts storage to file parts with this form name.
	Field string
	// DefaultExt is used for names synthesized for unnamed files.
	DefaultExt string
	// MaxFileSize limits a single stored file; zero means unlimited.
	MaxFileSize int64
	// MaxFieldSize limits non-file fields; zero selects DefaultMaxFieldSize.
	MaxFieldSize int64
}

type Engine struct {
	store  *storage.Store
	opts   Options
	logger *slog.Logger
}

func NewEngine(store *storage.Store, opts Options, logger *slog.Logger) *Engine {
	if opts.MaxFieldSize <= 0 {
		opts.MaxFieldSize = DefaultMaxFieldSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, opts: opts, logger: logger}
}

// Ingest reads body part by part, storing every accepted file part as it
// streams in. It stops at the first failure; files already stored by then
// are kept and reported alongside the error.
func (e *Engine) Ingest(ctx context.Context, body io.Reader, boundary, requestID string) domain.UploadOutcome {
	var out domain.UploadOutcome
	logger := e.logger.With("request_id", requestID)

	mr, err := NewReader(body, boundary)
	if err != nil {
		out.Err = domain.AsUploadError(err, 0)
		return out
	}
	namer := sanitize.NewNamer(requestID, e.opts.DefaultExt)

	for {
		if err := ctx.Err(); err != nil {
			out.Err = domain.AsUploadError(err, mr.PartIndex())
			return out
		}

		part, err := mr.NextPart()
		if err == io.EOF {
			logger.Debug("upload complete", "parts", mr.PartIndex(), "stored", out.Count())
			return out
		}
		if err != nil {
			out.Err = domain.AsUploadError(err, mr.PartIndex())
			return out
		}

		logger.Debug("part",
			"index", part.Index,
			"field", part.FieldName,
			"filename", part.FileName,
			"content_type", part.ContentType)

		if !e.accepts(part) {
			limit := e.opts.MaxFieldSize
			if part.IsFile() {
				limit = e.opts.MaxFileSize
			}
			if _, err := io.Copy(io.Discard, limitPart(part, limit)); err != nil {
				out.Err = domain.AsUploadError(err, part.Index)
				return out
			}
			logger.Debug("ignored part", "index", part.Index, "field", part.FieldName)
			continue
		}

		name := namer.Name(part.FileName)
		file, err := e.store.Write(ctx, name, limitPart(part, e.opts.MaxFileSize))
		if err != nil {
			out.Err = domain.AsUploadError(err, part.Index)
			logger.Warn("discarded part",
				"index", part.Index,
				"name", name,
				"written", file.Size,
				"kind", out.Err.Kind)
			return out
		}
		out.Files = append(out.Files, file)
	}
}

func (e *Engine) accepts(part *Part) bool {
	if !part.IsFile() {
		return false
	}
	return e.opts.Field == "" || part.FieldName == e.opts.Field
}

// limitPart fails with a parse error once part yields more than limit
// bytes. A non-positive limit disables the check.
func limitPart(part *Part, limit int64) io.Reader {
	if limit <= 0 {
		return part
	}
	return &limitedPart{part: part, limit: limit, remaining: limit}
}

type limitedPart struct {
	part      *Part
	limit     int64
	remaining int64
}

func (l *limitedPart) Read(p []byte) (int, error) {
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}
	n, err := l.part.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return 0, domain.NewError(domain.KindParse, l.part.Index,
			fmt.Errorf("part exceeds %s limit", humanize.IBytes(uint64(l.limit))))
	}
	return n, err
}
