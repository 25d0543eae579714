package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/voice-call-lab/internal/logging"
)

// PhrasePrefix holds cached phrase audio, which the cleaner never removes.
const PhrasePrefix = "phrases/"

// DiskStore keeps audio under a local directory served at BaseURL.
type DiskStore struct {
	Dir     string
	BaseURL string
}

func NewDiskStore(dir, publicBaseURL string) (*DiskStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("missing audio dir")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &DiskStore{Dir: dir, BaseURL: strings.TrimRight(publicBaseURL, "/") + "/audio"}, nil
}

func (d *DiskStore) path(key string) (string, error) {
	clean := path.Clean("/" + key)
	if clean == "/" || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(d.Dir, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}

func (d *DiskStore) Upload(ctx context.Context, key string, data []byte) (string, error) {
	p, err := d.path(key)
	if err != nil {
		return "", err
	}
	if err := SaveFileAtomic(p, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", key, err)
	}
	logging.Debugw("storage: saved audio", "path", p, "bytes", len(data))
	return d.URL(key), nil
}

func (d *DiskStore) Exists(ctx context.Context, key string) (bool, error) {
	p, err := d.path(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (d *DiskStore) URL(key string) string { return d.BaseURL + "/" + key }

// Handler serves stored audio; mount it under /audio/.
func (d *DiskStore) Handler() http.Handler {
	return http.StripPrefix("/audio/", http.FileServer(http.Dir(d.Dir)))
}

// SaveFileAtomic publishes data at path via a uniquely named temp file in
// the same directory, so concurrent writers of one key never share a temp.
// The last rename wins.
func SaveFileAtomic(path string, data []byte, mode os.FileMode) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	_, err = f.Write(data)
	if err == nil {
		err = f.Chmod(mode)
	}
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Clean removes reply audio older than retention. Cached phrases stay.
func (d *DiskStore) Clean(retention time.Duration) (int, error) {
	cutoff := time.Now().Add(-retention)
	removed := 0
	err := filepath.WalkDir(d.Dir, func(p string, e fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, _ := filepath.Rel(d.Dir, p)
		if e.IsDir() {
			if filepath.ToSlash(rel)+"/" == PhrasePrefix {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			return nil
		}
		if os.Remove(p) == nil {
			removed++
		}
		return nil
	})
	return removed, err
}

// StartCleaner runs Clean every interval until ctx is done. Caller must call
// wg.Add(1) first; the goroutine calls wg.Done on exit.
func (d *DiskStore) StartCleaner(ctx context.Context, wg *sync.WaitGroup, retention, interval time.Duration) {
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := d.Clean(retention)
				if err != nil {
					logging.Debugw("storage: cleanup failed", "err", err)
					continue
				}
				if n > 0 {
					logging.Infow("storage: removed expired audio", "files", n)
				}
			}
		}
	}()
}
