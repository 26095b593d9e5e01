// Package job reads a print job from the media volume line by line,
// tracking the byte offset of every command so a job can be resumed at an
// exact position.
package job

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var ErrNoFile = errors.New("job: no file selected")

// Job is an open job file
type Job struct {
	path   string
	file   *os.File
	reader *bufio.Reader
	offset uint64 // offset of the next unread byte
	size   uint64

	started time.Time
	base    time.Duration // elapsed time carried over from before a resume
	paused  bool
	pauseAt time.Time
}

// Open opens path on the media volume at root. A leading "/" names the
// volume root, and ".." never leaves it.
func Open(root, path string) (*Job, error) {
	full := filepath.Join(root, filepath.Clean(string(filepath.Separator)+filepath.FromSlash(path)))
	f, err := os.Open(full)
	if err != nil {
		return nil, fmt.Errorf("open job %s: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat job %s: %w", path, err)
	}
	return &Job{
		path:   path,
		file:   f,
		reader: bufio.NewReader(f),
		size:   uint64(fi.Size()),
	}, nil
}

// Path returns the path the job was opened with
func (j *Job) Path() string {
	return j.path
}

// Size returns the file size in bytes
func (j *Job) Size() uint64 {
	return j.size
}

// Offset returns the offset of the next line to be read
func (j *Job) Offset() uint64 {
	return j.offset
}

// Seek positions the job at offset
func (j *Job) Seek(offset uint64) error {
	if offset > j.size {
		return fmt.Errorf("seek job %s: offset %d beyond size %d", j.path, offset, j.size)
	}
	if _, err := j.file.Seek(int64(offset), io.SeekStart); err != nil {
		return fmt.Errorf("seek job %s: %w", j.path, err)
	}
	j.reader.Reset(j.file)
	j.offset = offset
	return nil
}

// Next returns the next line without its terminator, and the offsets of
// its first byte and of the byte after it. It returns io.EOF at the end of
// the file.
func (j *Job) Next() (line string, start, next uint64, err error) {
	raw, err := j.reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && raw != "") {
		return "", j.offset, j.offset, err
	}
	start = j.offset
	j.offset += uint64(len(raw))
	return strings.TrimRight(raw, "\r\n"), start, j.offset, nil
}

// Start begins timing the job with elapsed already spent
func (j *Job) Start(now time.Time, elapsed time.Duration) {
	j.started = now
	j.base = elapsed
	j.paused = false
}

// Pause stops the elapsed timer
func (j *Job) Pause(now time.Time) {
	if !j.paused {
		j.paused = true
		j.pauseAt = now
	}
}

// Unpause restarts the elapsed timer
func (j *Job) Unpause(now time.Time) {
	if j.paused {
		j.paused = false
		j.started = j.started.Add(now.Sub(j.pauseAt))
	}
}

// Paused reports whether the job is paused
func (j *Job) Paused() bool {
	return j.paused
}

// Elapsed returns the total print time at now
func (j *Job) Elapsed(now time.Time) time.Duration {
	if j.started.IsZero() {
		return j.base
	}
	end := now
	if j.paused {
		end = j.pauseAt
	}
	return j.base + end.Sub(j.started)
}

// Close closes the file
func (j *Job) Close() error {
	return j.file.Close()
}
