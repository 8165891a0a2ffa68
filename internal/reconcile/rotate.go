package reconcile

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// RotateCompress gzip-compresses every day's log file strictly before today
// whose full byte range has already been committed by every consumer in
// consumerIDs, then removes the uncompressed original. Compressed files keep
// the day's name with a ".gz" suffix so a reader can tell compressed history
// apart from the live, still-growing file at a glance.
//
// This is an out-of-band retention operation: spec.md leaves retention
// unspecified for the core, so nothing in the Gateway or Ingest Log calls it.
func (r *Reconciler) RotateCompress(ctx context.Context, today string, consumerIDs []string) (int, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return 0, fmt.Errorf("reconcile: read dir: %w", err)
	}

	compressed := 0
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "ingest_") || !strings.HasSuffix(name, ".ndjson") {
			continue
		}
		day := strings.TrimSuffix(strings.TrimPrefix(name, "ingest_"), ".ndjson")
		if day >= today {
			continue
		}

		path := filepath.Join(r.root, name)
		fullyCommitted, err := r.allConsumersPastEOF(ctx, path, day, consumerIDs)
		if err != nil {
			return compressed, err
		}
		if !fullyCommitted {
			continue
		}

		if err := gzipFile(path, path+".gz"); err != nil {
			return compressed, fmt.Errorf("reconcile: compress %q: %w", name, err)
		}
		if err := os.Remove(path); err != nil {
			return compressed, fmt.Errorf("reconcile: remove %q: %w", name, err)
		}
		compressed++
	}
	return compressed, nil
}

func (r *Reconciler) allConsumersPastEOF(ctx context.Context, path, day string, consumerIDs []string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, fmt.Errorf("reconcile: stat %q: %w", path, err)
	}
	eof := info.Size()

	for _, consumerID := range consumerIDs {
		offset, found, err := r.metastore.OffsetGet(ctx, consumerID, day)
		if err != nil {
			return false, fmt.Errorf("reconcile: offset get: %w", err)
		}
		if !found || offset < eof {
			return false, nil
		}
	}
	return true, nil
}

func gzipFile(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.CreateTemp(filepath.Dir(dstPath), filepath.Base(dstPath)+".tmp")
	if err != nil {
		return err
	}
	tmpPath := dst.Name()

	gw := gzip.NewWriter(dst)
	if _, err := io.Copy(gw, src); err != nil {
		gw.Close()
		dst.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := gw.Close(); err != nil {
		dst.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := dst.Sync(); err != nil {
		dst.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, dstPath)
}
