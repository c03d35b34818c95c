// Package ingest parses streamed multipart bodies and stores their file
// parts as they arrive.
package ingest

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/textproto"
	"strings"

	"github.com/mohammadanang/scan-receiver/domain"
)

const (
	bufferSize       = 64 * 1024
	maxBoundaryLen   = 70
	maxHeaderBytes   = 16 * 1024
	maxHeaderLines   = 64
	maxPreambleBytes = 64 * 1024
)

type state int

const (
	stateAwaitingBoundary state = iota
	stateReadingHeaders
	stateReadingBody
	stateNextPart
	stateEnd
	stateError
)

func (s state) String() string {
	switch s {
	case stateAwaitingBoundary:
		return "awaiting-boundary"
	case stateReadingHeaders:
		return "reading-headers"
	case stateReadingBody:
		return "reading-body"
	case stateNextPart:
		return "next-part"
	case stateEnd:
		return "end"
	case stateError:
		return "error"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Part is one multipart section. Its body is only readable until the next
// call to NextPart.
type Part struct {
	Index       int
	FieldName   string
	FileName    string
	ContentType string
	Header      textproto.MIMEHeader

	r *Reader
}

// IsFile reports whether the part carried a filename parameter.
func (p *Part) IsFile() bool {
	return p.FileName != ""
}

func (p *Part) Read(b []byte) (int, error) {
	if p.r.part != p {
		return 0, io.EOF
	}
	return p.r.readBody(b)
}

// Reader walks a multipart body one part at a time, pulling from the
// underlying stream only as far as the current part requires. Memory use is
// bounded by its buffer regardless of part size.
type Reader struct {
	br           *bufio.Reader
	dashBoundary []byte
	delim        []byte

	state state
	err   error
	part  *Part
	parts int
	eof   bool
}

// ValidateBoundary checks a boundary parameter against RFC 2046 limits.
func ValidateBoundary(boundary string) error {
	switch {
	case boundary == "":
		return errors.New("missing multipart boundary")
	case len(boundary) > maxBoundaryLen:
		return fmt.Errorf("multipart boundary longer than %d bytes", maxBoundaryLen)
	case strings.ContainsAny(boundary, "\r\n"):
		return errors.New("multipart boundary contains line breaks")
	}
	return nil
}

func NewReader(r io.Reader, boundary string) (*Reader, error) {
	if err := ValidateBoundary(boundary); err != nil {
		return nil, domain.NewError(domain.KindValidation, 0, err)
	}
	return &Reader{
		br:           bufio.NewReaderSize(r, bufferSize),
		dashBoundary: []byte("--" + boundary),
		delim:        []byte("\n--" + boundary),
	}, nil
}

// PartIndex is the 1-based index of the part most recently started.
func (r *Reader) PartIndex() int {
	return r.parts
}

// NextPart discards whatever is left of the current part and returns the
// next one. It returns io.EOF after the closing boundary. Any other error
// is an *domain.UploadError and is sticky.
func (r *Reader) NextPart() (*Part, error) {
	for {
		switch r.state {
		case stateAwaitingBoundary:
			if err := r.skipPreamble(); err != nil {
				return nil, r.fail(err)
			}
		case stateReadingBody:
			if _, err := io.Copy(io.Discard, r.part); err != nil {
				return nil, r.fail(err)
			}
		case stateNextPart:
			if err := r.readDelimiter(); err != nil {
				return nil, r.fail(err)
			}
		case stateReadingHeaders:
			part, err := r.readPartHeaders()
			if err != nil {
				return nil, r.fail(err)
			}
			r.part = part
			r.state = stateReadingBody
			return part, nil
		case stateEnd:
			r.part = nil
			return nil, io.EOF
		case stateError:
			return nil, r.err
		}
	}
}

func (r *Reader) fail(err error) error {
	if r.state == stateError {
		return r.err
	}
	r.state = stateError
	r.part = nil
	r.err = domain.AsUploadError(err, r.parts)
	return r.err
}

func (r *Reader) parseError(format string, args ...any) error {
	return domain.NewError(domain.KindParse, r.parts, fmt.Errorf(format, args...))
}

// boundaryLine reports whether line is an opening or closing boundary.
// Trailing whitespace is allowed after the boundary.
func (r *Reader) boundaryLine(line []byte) (isBoundary, isClose bool) {
	line = bytes.TrimRight(line, " \t\r\n")
	rest, ok := bytes.CutPrefix(line, r.dashBoundary)
	if !ok {
		return false, false
	}
	switch string(rest) {
	case "":
		return true, false
	case "--":
		return true, true
	}
	return false, false
}

func (r *Reader) skipPreamble() error {
	skipped := 0
	midLine := false
	for {
		line, err := r.br.ReadSlice('\n')
		skipped += len(line)
		if skipped > maxPreambleBytes+len(r.dashBoundary)+4 {
			return r.parseError("no boundary within first %d bytes", maxPreambleBytes)
		}
		switch {
		case err == nil:
		case errors.Is(err, bufio.ErrBufferFull):
			midLine = true
			continue
		case err == io.EOF:
			if !midLine {
				if ok, closing := r.boundaryLine(line); ok {
					if closing {
						r.state = stateEnd
						return nil
					}
					return r.parseError("stream ended after boundary")
				}
			}
			return r.parseError("stream ended before the first boundary")
		default:
			return err
		}

		if !midLine {
			if ok, closing := r.boundaryLine(line); ok {
				if closing {
					r.state = stateEnd
				} else {
					r.state = stateReadingHeaders
				}
				return nil
			}
		}
		midLine = false
	}
}

// readDelimiter consumes the line break ending the previous body and the
// boundary line that follows it.
func (r *Reader) readDelimiter() error {
	if _, err := r.readLine(2); err != nil {
		return err
	}
	line, err := r.br.ReadSlice('\n')
	switch {
	case err == nil:
	case err == io.EOF:
		// A closing boundary may end the stream without a final line break.
	case errors.Is(err, bufio.ErrBufferFull):
		return r.parseError("boundary line too long")
	default:
		return err
	}

	ok, closing := r.boundaryLine(line)
	switch {
	case !ok:
		return r.parseError("malformed boundary line")
	case closing:
		r.state = stateEnd
	case err == io.EOF:
		return r.parseError("stream ended after boundary")
	default:
		r.state = stateReadingHeaders
	}
	return nil
}

func (r *Reader) readLine(limit int) ([]byte, error) {
	line, err := r.br.ReadSlice('\n')
	switch {
	case err == nil:
	case errors.Is(err, bufio.ErrBufferFull):
		return nil, r.parseError("line longer than %d bytes", r.br.Size())
	case err == io.EOF:
		return nil, r.parseError("unexpected end of stream")
	default:
		return nil, err
	}
	if len(line) > limit {
		return nil, r.parseError("line exceeds %d bytes", limit)
	}
	return line, nil
}

func (r *Reader) readPartHeaders() (*Part, error) {
	r.parts++
	header := make(textproto.MIMEHeader)

	total, lines := 0, 0
	var lastKey string
	for {
		raw, err := r.readLine(maxHeaderBytes - total)
		if err != nil {
			return nil, err
		}
		total += len(raw)

		line := strings.TrimRight(string(raw), "\r\n")
		if line == "" {
			break
		}
		lines++
		if lines > maxHeaderLines {
			return nil, r.parseError("more than %d header lines", maxHeaderLines)
		}

		if line[0] == ' ' || line[0] == '\t' {
			if lastKey == "" {
				return nil, r.parseError("header continuation without a header")
			}
			values := header[lastKey]
			values[len(values)-1] += " " + strings.TrimSpace(line)
			continue
		}

		key, value, ok := strings.Cut(line, ":")
		key = strings.TrimSpace(key)
		if !ok || key == "" || strings.ContainsAny(key, " \t") {
			return nil, r.parseError("malformed header line %q", truncateForError(line))
		}
		lastKey = textproto.CanonicalMIMEHeaderKey(key)
		header.Add(lastKey, strings.TrimSpace(value))
	}

	part := &Part{
		Index:       r.parts,
		ContentType: header.Get("Content-Type"),
		Header:      header,
		r:           r,
	}
	if cd := header.Get("Content-Disposition"); cd != "" {
		disposition, params, err := mime.ParseMediaType(cd)
		if err != nil && !errors.Is(err, mime.ErrInvalidMediaParameter) {
			return nil, r.parseError("bad Content-Disposition: %v", err)
		}
		if disposition == "form-data" || disposition == "attachment" || disposition == "inline" {
			part.FieldName = params["name"]
			part.FileName = params["filename"]
		}
	}
	return part, nil
}

func truncateForError(s string) string {
	if len(s) > 64 {
		return s[:64] + "..."
	}
	return s
}

type tail int

const (
	tailDelimiter tail = iota
	tailMore
	tailNotDelimiter
)

// classifyTail decides whether the bytes after a "\n--boundary" match make
// it a real delimiter: it must be followed by "--" or by optional
// whitespace and a line break.
func classifyTail(b []byte) tail {
	if len(b) == 0 {
		return tailMore
	}
	if b[0] == '-' {
		switch {
		case len(b) == 1:
			return tailMore
		case b[1] == '-':
			return tailDelimiter
		}
		return tailNotDelimiter
	}
	rest := bytes.TrimLeft(b, " \t")
	switch {
	case len(rest) == 0:
		return tailMore
	case rest[0] == '\n':
		return tailDelimiter
	case rest[0] == '\r':
		if len(rest) == 1 {
			return tailMore
		}
		if rest[1] == '\n' {
			return tailDelimiter
		}
	}
	return tailNotDelimiter
}

// scanBody returns how many leading bytes of buf are definitely part body
// and whether buf starts with the delimiter ending it.
func (r *Reader) scanBody(buf []byte) (int, bool) {
	from := 0
	for {
		i := bytes.Index(buf[from:], r.delim)
		if i < 0 {
			break
		}
		i += from
		end := i
		if end > 0 && buf[end-1] == '\r' {
			end--
		}

		kind := classifyTail(buf[i+len(r.delim):])
		if kind == tailMore && r.eof {
			kind = tailNotDelimiter
		}
		switch kind {
		case tailDelimiter:
			return end, end == 0
		case tailMore:
			return end, false
		}
		from = i + 1
	}

	// Hold back enough bytes to recognize a delimiter split across reads.
	n := len(buf) - len(r.delim) - 1
	if r.eof {
		n = len(buf)
	}
	if n < from {
		// Bytes before a rejected match are safe even when the hold-back
		// window would otherwise cover them.
		n = min(from, len(buf))
	}
	return max(n, 0), false
}

func (r *Reader) readBody(b []byte) (int, error) {
	switch r.state {
	case stateReadingBody:
	case stateError:
		return 0, r.err
	default:
		return 0, io.EOF
	}
	if len(b) == 0 {
		return 0, nil
	}

	for {
		buf, _ := r.br.Peek(r.br.Buffered())
		n, found := r.scanBody(buf)
		if n > 0 {
			n = copy(b, buf[:n])
			_, _ = r.br.Discard(n)
			return n, nil
		}
		if found {
			r.state = stateNextPart
			return 0, io.EOF
		}
		if r.eof {
			return 0, r.fail(domain.NewError(domain.KindDisconnect, r.parts,
				errors.New("stream ended inside part body")))
		}

		if _, err := r.br.Peek(len(buf) + 1); err != nil {
			switch {
			case err == io.EOF:
				r.eof = true
			case errors.Is(err, bufio.ErrBufferFull):
				return 0, r.fail(r.parseError("boundary line too long"))
			default:
				return 0, r.fail(err)
			}
		}
	}
}
