package output

import (
	"context"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/m-lab/go/uploader"
)

// Writer saves files to GCS or locally.
type Writer interface {
	Write(ctx context.Context, path string, content []byte) error
}

// GCSWriter provides Write operations to a GCS bucket.
type GCSWriter struct {
	up     *uploader.Uploader
	prefix string
}

// NewGCSWriter creates a new GCSWriter from the given uploader.Uploader.
// Every object name is prefixed with prefix, if not empty.
func NewGCSWriter(up *uploader.Uploader, prefix string) *GCSWriter {
	return &GCSWriter{up: up, prefix: prefix}
}

// Write creates a new object at path containing content.
func (u *GCSWriter) Write(ctx context.Context, p string, content []byte) error {
	_, err := u.up.Upload(ctx, path.Join(u.prefix, p), content)
	return err
}

// LocalWriter provides Write operations to a local directory.
type LocalWriter struct {
	dir  string
	c    *sync.Cond
	safe bool
}

// NewLocalWriter creates a new LocalWriter for the given output directory.
// The directory is created if it does not exist. Existing content is left
// untouched.
func NewLocalWriter(ctx context.Context, dir string) (*LocalWriter, error) {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, err
	}
	lu := &LocalWriter{dir: dir, c: sync.NewCond(&sync.Mutex{}), safe: true}
	go lu.monitorDir(ctx)
	return lu, nil
}

// Dir returns the output directory.
func (lu *LocalWriter) Dir() string {
	return lu.dir
}

// monitorDir is meant to run as a goroutine in the background to gate writes to
// the monitored output directory.
func (lu *LocalWriter) monitorDir(ctx context.Context) {
	for ctx.Err() == nil {
		time.Sleep(time.Second)

		stat := syscall.Statfs_t{}
		err := syscall.Statfs(lu.dir, &stat)
		if err != nil {
			log.Printf("Reading statsfs failed with error: %v", err)
			// Stop gating writes.
			lu.c.L.Lock()
			lu.safe = true
			lu.c.Broadcast()
			lu.c.L.Unlock()
			return
		}

		lu.c.L.Lock()
		if float64(stat.Ffree)/float64(stat.Files) < 0.1 || float64(stat.Bfree)/float64(stat.Blocks) < 0.1 {
			// Not safe to write.
			lu.safe = false
		} else {
			// Safe to write.
			lu.safe = true
			lu.c.Broadcast()
		}
		lu.c.L.Unlock()
	}
}

// waitUntilSafeToWrite blocks until the monitored filesystem has enough free
// space or ctx is done, whichever comes first.
func (lu *LocalWriter) waitUntilSafeToWrite(ctx context.Context) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			lu.c.L.Lock()
			lu.c.Broadcast()
			lu.c.L.Unlock()
		case <-stop:
		}
	}()

	lu.c.L.Lock()
	defer lu.c.L.Unlock()
	for !lu.safe {
		if ctx.Err() != nil {
			return fmt.Errorf("not enough free space in %s: %w", lu.dir, ctx.Err())
		}
		lu.c.Wait()
	}
	return nil
}

// Write creates or replaces the file at path containing content.
func (lu *LocalWriter) Write(ctx context.Context, path string, content []byte) error {
	p := filepath.Join(lu.dir, path)
	d := filepath.Dir(p) // path may include additional directory elements.
	err := os.MkdirAll(d, os.ModePerm)
	if err != nil {
		return err
	}
	if err := lu.waitUntilSafeToWrite(ctx); err != nil {
		return err
	}
	return os.WriteFile(p, content, 0664)
}

type tee []Writer

// Tee returns a Writer writing the same content to every writer, in order.
// It stops at the first error.
func Tee(writers ...Writer) Writer {
	return tee(writers)
}

func (t tee) Write(ctx context.Context, path string, content []byte) error {
	for _, w := range t {
		if err := w.Write(ctx, path, content); err != nil {
			return err
		}
	}
	return nil
}
