package emdn

import (
	"bufio"
	"bytes"
	"compress/zlib"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ulikunitz/xz"
	"github.com/xyproto/unzip"
)

// DefaultURI is the public firehose endpoint.
const DefaultURI = "tcp://firehose.elite-market-data.net:9500"

// Firehose reads market quotes from a feed source until drained,
// cancelled, or a record limit is hit.
type Firehose struct {
	uri string
	src source

	// Debug >0 logs skipped envelopes to Logf.
	Debug int
	Logf  func(format string, args ...any)
}

type source interface {
	// next returns the next raw envelope payload, io.EOF when drained.
	next() ([]byte, error)
	// unblock arranges for a pending next() to return once ctx is done.
	// The returned stop func releases the watcher.
	unblock(ctx context.Context) (stop func())
	io.Closer
}

// Open connects to a feed URI: tcp://host:port for the live stream,
// file://path (or a bare path) for a capture file. Captures may be
// .xz-compressed or a .zip archive of capture files.
func Open(uri string) (*Firehose, error) {
	if uri == "" {
		uri = DefaultURI
	}

	f := &Firehose{uri: uri, Logf: func(string, ...any) {}}

	switch {
	case strings.HasPrefix(uri, "tcp://"):
		conn, err := net.Dial("tcp", strings.TrimPrefix(uri, "tcp://"))
		if err != nil {
			return nil, fmt.Errorf("connect firehose %s: %w", uri, err)
		}
		f.src = &streamSource{conn: conn, r: bufio.NewReader(conn)}
	default:
		path := strings.TrimPrefix(uri, "file://")
		src, err := openCapture(path)
		if err != nil {
			return nil, err
		}
		f.src = src
	}
	return f, nil
}

// URI reports the resolved feed address.
func (f *Firehose) URI() string { return f.uri }

func (f *Firehose) Close() error {
	return f.src.Close()
}

// DrinkOptions bound a single Drink call.
type DrinkOptions struct {
	Records int           // stop after this many records; 0 is unlimited
	Timeout time.Duration // stop after this long; 0 is unlimited
}

// Drink decodes records and hands them to fn until the source drains,
// the limits are reached, or ctx is cancelled. It reports whether the
// source is exhausted; hitting a timeout or record limit is not an
// error. An error from fn aborts the drink and is returned as-is.
func (f *Firehose) Drink(ctx context.Context, opts DrinkOptions, fn func(Record) error) (exhausted bool, err error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	stop := f.src.unblock(ctx)
	defer stop()

	remaining := opts.Records
	for {
		if ctx.Err() != nil {
			return false, nil
		}

		payload, err := f.src.next()
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			return true, nil
		case isDeadline(err):
			return false, nil
		default:
			// A cancelled ctx forcibly closes stream reads.
			if ctx.Err() != nil {
				return false, nil
			}
			return false, fmt.Errorf("read firehose: %w", err)
		}

		rec, err := DecodeEnvelope(payload)
		if err != nil {
			if f.Debug > 0 {
				f.Logf("# skipping bad envelope: %v", err)
			}
			continue
		}
		if rec == nil {
			if f.Debug > 1 {
				f.Logf("# ignoring non-marketquote envelope")
			}
			continue
		}

		if err := fn(*rec); err != nil {
			return false, err
		}

		if opts.Records > 0 {
			remaining--
			if remaining == 0 {
				return false, nil
			}
		}
	}
}

func isDeadline(err error) bool {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	return errors.Is(err, os.ErrDeadlineExceeded)
}

// streamSource reads the live feed: frames of a 4-byte big-endian
// length followed by a zlib-compressed JSON envelope.
type streamSource struct {
	conn net.Conn
	r    *bufio.Reader
}

func (s *streamSource) next() ([]byte, error) {
	var size uint32
	if err := binary.Read(s.r, binary.BigEndian, &size); err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, io.EOF
	}

	compressed := make([]byte, size)
	if _, err := io.ReadFull(s.r, compressed); err != nil {
		return nil, err
	}

	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("inflate frame: %w", err)
	}
	defer zr.Close()

	return io.ReadAll(zr)
}

func (s *streamSource) unblock(ctx context.Context) (stop func()) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			s.conn.SetReadDeadline(time.Now())
		case <-done:
		}
	}()
	if deadline, ok := ctx.Deadline(); ok {
		s.conn.SetReadDeadline(deadline)
	} else {
		s.conn.SetReadDeadline(time.Time{})
	}
	return func() { close(done) }
}

func (s *streamSource) Close() error {
	return s.conn.Close()
}

// captureSource replays newline-delimited JSON envelopes from capture
// files.
type captureSource struct {
	scanner *bufio.Scanner
	closers []io.Closer
	tempDir string // extracted archive contents; removed on Close
}

func openCapture(path string) (*captureSource, error) {
	var readers []io.Reader
	var closers []io.Closer
	var tempDir string

	fail := func() {
		for _, c := range closers {
			c.Close()
		}
		if tempDir != "" {
			os.RemoveAll(tempDir)
		}
	}

	paths := []string{path}
	if strings.HasSuffix(path, ".zip") {
		extracted, dir, err := extractArchive(path)
		if err != nil {
			return nil, err
		}
		paths, tempDir = extracted, dir
	}

	for _, p := range paths {
		fh, err := os.Open(p)
		if err != nil {
			fail()
			return nil, fmt.Errorf("open capture %s: %w", p, err)
		}
		closers = append(closers, fh)

		var r io.Reader = fh
		if strings.HasSuffix(p, ".xz") {
			xr, err := xz.NewReader(bufio.NewReader(fh))
			if err != nil {
				fail()
				return nil, fmt.Errorf("open xz capture %s: %w", p, err)
			}
			r = xr
		}
		readers = append(readers, r)
	}

	scanner := bufio.NewScanner(io.MultiReader(readers...))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	return &captureSource{scanner: scanner, closers: closers, tempDir: tempDir}, nil
}

// extractArchive unpacks a zip of capture files to a temp directory and
// returns the extracted paths in name order plus the directory, which
// the caller owns and must remove.
func extractArchive(path string) ([]string, string, error) {
	dir, err := os.MkdirTemp("", "emdn-capture-")
	if err != nil {
		return nil, "", err
	}
	if err := unzip.Extract(path, dir); err != nil {
		os.RemoveAll(dir)
		return nil, "", fmt.Errorf("extract capture archive %s: %w", path, err)
	}

	var paths []string
	err = filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		os.RemoveAll(dir)
		return nil, "", fmt.Errorf("scan extracted archive: %w", err)
	}
	if len(paths) == 0 {
		os.RemoveAll(dir)
		return nil, "", fmt.Errorf("capture archive %s is empty", path)
	}
	sort.Strings(paths)
	return paths, dir, nil
}

func (s *captureSource) next() ([]byte, error) {
	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		out := make([]byte, len(line))
		copy(out, line)
		return out, nil
	}
	if err := s.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (s *captureSource) unblock(ctx context.Context) (stop func()) {
	// File reads do not block; Drink polls ctx between records.
	return func() {}
}

func (s *captureSource) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	if s.tempDir != "" {
		if err := os.RemoveAll(s.tempDir); err != nil && first == nil {
			first = err
		}
		s.tempDir = ""
	}
	return first
}
