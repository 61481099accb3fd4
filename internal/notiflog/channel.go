package notiflog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// DefaultMaxBytes bounds how much a channel buffers or reads.
const DefaultMaxBytes = 4 << 20

// ErrOverflow indicates the producer wrote more than the channel accepts.
var ErrOverflow = errors.New("notiflog: channel exceeded its size limit")

// Kind selects a Channel implementation.
type Kind string

const (
	KindFile Kind = "file"
	KindPipe Kind = "pipe"
)

// Channel is the path through which a subscriber process delivers records.
// The lifecycle is: construct, pass Arg and ExtraFiles to the process,
// call Started once it runs, read with Records, then Close.
type Channel interface {
	// Arg is the location handed to the producer on its command line.
	Arg() string

	// ExtraFiles are inherited by the producer, starting at fd 3.
	ExtraFiles() []*os.File

	// Started tells the channel the producer has been started.
	Started()

	// Records returns everything delivered so far.
	Records() ([]Record, error)

	// Wait is called once the producer has exited. It blocks until the
	// producer's output has been fully collected, or ctx ends. Before Wait,
	// Records holds back an unterminated last line.
	Wait(ctx context.Context) error

	// Close releases the channel. Records must not be called afterwards.
	Close() error
}

// Open creates a channel of the given kind. dir is used by file channels
// and defaults to the system temp directory.
func Open(kind Kind, dir string, maxBytes int64) (Channel, error) {
	switch kind {
	case KindFile, "":
		return NewFileChannel(dir, maxBytes), nil
	case KindPipe:
		return NewPipeChannel(maxBytes)
	default:
		return nil, fmt.Errorf("notiflog: unknown channel kind %q", kind)
	}
}

// FileChannel is a log file with a name unique to this channel.
type FileChannel struct {
	path     string
	maxBytes int64
	complete atomic.Bool
}

// NewFileChannel allocates (but does not create) a uniquely named log
// file in dir.
func NewFileChannel(dir string, maxBytes int64) *FileChannel {
	if dir == "" {
		dir = os.TempDir()
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &FileChannel{
		path:     filepath.Join(dir, "notifications-"+uuid.NewString()+".log"),
		maxBytes: maxBytes,
	}
}

func (c *FileChannel) Arg() string             { return c.path }
func (c *FileChannel) ExtraFiles() []*os.File { return nil }
func (c *FileChannel) Started()                {}

// Wait marks the file complete. Nothing is buffered, so it does not block.
func (c *FileChannel) Wait(ctx context.Context) error {
	c.complete.Store(true)
	return ctx.Err()
}

// Records reads the file. A file the producer has not created yet holds
// no records. While the producer runs, a trailing partial line is held back.
func (c *FileChannel) Records() ([]Record, error) {
	info, err := os.Stat(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat log: %w", err)
	}
	if info.Size() > c.maxBytes {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrOverflow, c.path, info.Size(), c.maxBytes)
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	if int64(len(data)) > c.maxBytes {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrOverflow, c.path, len(data), c.maxBytes)
	}
	if !c.complete.Load() {
		data = completeLines(data)
	}
	records, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.path, err)
	}
	return records, nil
}

// Close removes the file.
func (c *FileChannel) Close() error {
	if err := os.Remove(c.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove log: %w", err)
	}
	return nil
}

// PipeChannel delivers records over a pipe inherited by the producer as
// fd 3. The read end is drained continuously so a chatty producer never
// blocks; bytes beyond maxBytes are discarded and reported as ErrOverflow.
type PipeChannel struct {
	r, w     *os.File
	maxBytes int64

	mu       sync.Mutex
	buf      bytes.Buffer
	overflow bool
	eof      bool
	readErr  error

	once    sync.Once
	started atomic.Bool
	drained chan struct{}
}

// NewPipeChannel creates the pipe.
func NewPipeChannel(maxBytes int64) (*PipeChannel, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create pipe: %w", err)
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &PipeChannel{r: r, w: w, maxBytes: maxBytes, drained: make(chan struct{})}, nil
}

func (c *PipeChannel) Arg() string             { return "/dev/fd/3" }
func (c *PipeChannel) ExtraFiles() []*os.File { return []*os.File{c.w} }

// Started closes the parent's write end, so EOF arrives once the producer
// exits, and begins draining.
func (c *PipeChannel) Started() {
	c.once.Do(func() {
		_ = c.w.Close()
		c.started.Store(true)
		go c.drain()
	})
}

func (c *PipeChannel) drain() {
	defer close(c.drained)
	chunk := make([]byte, 32*1024)
	for {
		n, err := c.r.Read(chunk)
		if n > 0 {
			c.mu.Lock()
			room := c.maxBytes - int64(c.buf.Len())
			if int64(n) > room {
				c.overflow = true
				if room > 0 {
					c.buf.Write(chunk[:room])
				}
			} else {
				c.buf.Write(chunk[:n])
			}
			c.mu.Unlock()
		}
		if err != nil {
			c.mu.Lock()
			c.eof = true
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				c.readErr = err
			}
			c.mu.Unlock()
			return
		}
	}
}

// Wait blocks until the drain goroutine has seen EOF. It returns at once
// if the channel was never started.
func (c *PipeChannel) Wait(ctx context.Context) error {
	if !c.started.Load() {
		return nil
	}
	select {
	case <-c.drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Records parses what has been drained. Until the producer closes its end
// a trailing partial line is held back.
func (c *PipeChannel) Records() ([]Record, error) {
	c.mu.Lock()
	data := append([]byte(nil), c.buf.Bytes()...)
	overflow, eof, readErr := c.overflow, c.eof, c.readErr
	c.mu.Unlock()

	if overflow {
		return nil, fmt.Errorf("%w: pipe limit %d bytes", ErrOverflow, c.maxBytes)
	}
	if readErr != nil {
		return nil, fmt.Errorf("read pipe: %w", readErr)
	}
	if !eof {
		data = completeLines(data)
	}
	return Parse(bytes.NewReader(data))
}

// completeLines cuts data after its last newline.
func completeLines(data []byte) []byte {
	if i := bytes.LastIndexByte(data, '\n'); i >= 0 {
		return data[:i+1]
	}
	return nil
}

// Close closes both ends and waits for the drain goroutine.
func (c *PipeChannel) Close() error {
	c.once.Do(func() { _ = c.w.Close() })
	err := c.r.Close()
	if c.started.Load() {
		<-c.drained
	}
	if err != nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("close pipe: %w", err)
	}
	return nil
}
