package storage

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"sync"

	"golang.org/x/sync/semaphore"
)

// BatchDownloader downloads many objects in parallel into a local directory,
// mirroring their object paths below it.
type BatchDownloader struct {
	storage     ObjectStorage
	concurrency int
	destDir     string
}

// BatchResult contains the outcome of a batch download.
type BatchResult struct {
	// LocalPaths maps object path to local path for each successful download
	LocalPaths map[string]string
	// Errors maps object path to the download error
	Errors map[string]error
}

// NewBatchDownloader creates a new batch downloader.
// concurrency <= 0 downloads one object at a time.
func NewBatchDownloader(storage ObjectStorage, concurrency int, destDir string) *BatchDownloader {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &BatchDownloader{
		storage:     storage,
		concurrency: concurrency,
		destDir:     destDir,
	}
}

// Download fetches all objects. Per-object failures are reported in
// BatchResult.Errors; the returned error is only set when ctx is cancelled.
func (b *BatchDownloader) Download(ctx context.Context, objectPaths []string) (*BatchResult, error) {
	result := &BatchResult{
		LocalPaths: make(map[string]string, len(objectPaths)),
		Errors:     make(map[string]error),
	}

	sem := semaphore.NewWeighted(int64(b.concurrency))
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, p := range objectPaths {
		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return nil, fmt.Errorf("batch download cancelled: %w", err)
		}

		wg.Add(1)
		go func(objectPath string) {
			defer sem.Release(1)
			defer wg.Done()

			local := b.LocalPath(objectPath)
			err := b.storage.Download(ctx, objectPath, local)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors[objectPath] = err
				return
			}
			result.LocalPaths[objectPath] = local
		}(p)
	}

	wg.Wait()
	return result, nil
}

// LocalPath returns where an object is downloaded to.
func (b *BatchDownloader) LocalPath(objectPath string) string {
	return filepath.Join(b.destDir, filepath.FromSlash(path.Clean("/"+objectPath)))
}
