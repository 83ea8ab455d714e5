package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/andresuchdata/stockrecon/internal/config"
	"github.com/andresuchdata/stockrecon/internal/ingest"
)

// Fetcher downloads warehouse snapshot exports from object storage into the
// local warehouse folders the loader reads.
type Fetcher struct {
	client ObjectStorage
	log    zerolog.Logger
}

func NewFetcher(client ObjectStorage, log zerolog.Logger) *Fetcher {
	return &Fetcher{client: client, log: log.With().Str("component", "fetch").Logger()}
}

// Fetch downloads every snapshot object of every source that has a prefix.
// Objects nested below the prefix are skipped since the loader reads one
// folder level.
func (f *Fetcher) Fetch(ctx context.Context, sources []config.WarehouseSource) ([]string, error) {
	started := time.Now()
	var paths []string
	for _, src := range sources {
		if src.Prefix == "" {
			f.log.Debug().Str("warehouse", src.Name).Msg("no storage prefix, skipped")
			continue
		}
		downloaded, err := f.fetchSource(ctx, src)
		if err != nil {
			return paths, err
		}
		paths = append(paths, downloaded...)
	}
	f.log.Info().Int("files", len(paths)).Dur("elapsed", time.Since(started)).Msg("snapshots fetched")
	return paths, nil
}

func (f *Fetcher) fetchSource(ctx context.Context, src config.WarehouseSource) ([]string, error) {
	if err := os.MkdirAll(src.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to ensure download dir %s: %w", src.Dir, err)
	}

	listPrefix := strings.TrimSuffix(strings.TrimSpace(src.Prefix), "/") + "/"
	objects, err := f.client.ListObjects(ctx, listPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list objects for prefix %s: %w", listPrefix, err)
	}

	var localPaths []string
	for _, obj := range objects {
		rel := objectRelativePath(src.Prefix, obj.Key)
		if strings.Contains(rel, "/") || !ingest.IsSnapshotFile(path.Base(rel)) {
			continue
		}
		localPath := filepath.Join(src.Dir, rel)
		if err := f.client.DownloadObject(ctx, obj.Key, localPath); err != nil {
			return nil, err
		}
		localPaths = append(localPaths, localPath)
	}

	if len(localPaths) == 0 {
		f.log.Warn().Str("warehouse", src.Name).Str("prefix", src.Prefix).Msg("no snapshot objects found")
	}
	sort.Strings(localPaths)
	return localPaths, nil
}

// FetchObject downloads one object, named relative to prefix or by full key,
// into destDir.
func (f *Fetcher) FetchObject(ctx context.Context, prefix, name, destDir string) (string, error) {
	key := resolveObjectKey(prefix, name)
	localPath := filepath.Join(destDir, path.Base(key))
	if err := f.client.DownloadObject(ctx, key, localPath); err != nil {
		return "", err
	}
	return localPath, nil
}

func resolveObjectKey(prefix, override string) string {
	if override == "" {
		return strings.TrimSpace(prefix)
	}
	if prefix == "" {
		return strings.TrimPrefix(override, "/")
	}

	prefixTrimmed := strings.TrimSuffix(strings.TrimSpace(prefix), "/")
	overrideTrimmed := strings.TrimPrefix(strings.TrimSpace(override), "/")

	if strings.HasPrefix(overrideTrimmed, prefixTrimmed+"/") {
		return overrideTrimmed
	}
	return fmt.Sprintf("%s/%s", prefixTrimmed, overrideTrimmed)
}

func objectRelativePath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	prefixTrimmed := strings.TrimSuffix(strings.TrimSpace(prefix), "/")
	rel := strings.TrimPrefix(key, prefixTrimmed+"/")
	if rel == "" {
		return path.Base(key)
	}
	return rel
}
