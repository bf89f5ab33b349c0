// Cartographus Sync - offline-capable CMS replication engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus-sync

package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"golang.org/x/time/rate"

	"github.com/tomtom215/cartographus-sync/internal/config"
	"github.com/tomtom215/cartographus-sync/internal/logging"
	"github.com/tomtom215/cartographus-sync/internal/metrics"
	"github.com/tomtom215/cartographus-sync/internal/wire"
)

// Outcome is the result of mirroring a single object.
type Outcome string

const (
	OutcomeCopied Outcome = "copied"
	OutcomeSkip   Outcome = "skip"
	OutcomeFailed Outcome = "failed"
)

// Mirror holds the master (read-only from the replica's perspective) and
// local (read-write) object store clients and mirrors objects between
// them on demand.
type Mirror struct {
	master     *minio.Client
	local      *minio.Client
	masterCfg  config.ObjectStoreConfig
	localCfg   config.ObjectStoreConfig
	uploadPath string
	limiter    *rate.Limiter
	sem        chan struct{}
	maxDepth   int
}

// New builds a Mirror from configuration. Either client may legitimately
// be nil-backed if its endpoint is empty — callers on the master side
// never need a "local" distinct from their own store, and standalone
// replicas without media sync configured pass an empty MediaConfig.
func New(cfg config.MediaConfig) (*Mirror, error) {
	master, err := newClient(cfg.Master)
	if err != nil {
		return nil, fmt.Errorf("build master object store client: %w", err)
	}
	local, err := newClient(cfg.Local)
	if err != nil {
		return nil, fmt.Errorf("build local object store client: %w", err)
	}
	maxFiles := cfg.MaxFilesPerSync
	if maxFiles <= 0 {
		maxFiles = 20
	}
	rateLimit := cfg.RateLimitPerSec
	if rateLimit <= 0 {
		rateLimit = 10
	}
	return &Mirror{
		master:     master,
		local:      local,
		masterCfg:  cfg.Master,
		localCfg:   cfg.Local,
		uploadPath: cfg.UploadPathPrefix,
		limiter:    rate.NewLimiter(rate.Limit(rateLimit), maxFiles),
		sem:        make(chan struct{}, maxFiles),
		maxDepth:   defaultMaxWalkDepth,
	}, nil
}

func newClient(cfg config.ObjectStoreConfig) (*minio.Client, error) {
	if cfg.Endpoint == "" {
		return nil, nil
	}
	return minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
}

// EnsureLocalBucket creates the local bucket if it does not already exist.
func (m *Mirror) EnsureLocalBucket(ctx context.Context) error {
	if m.local == nil {
		return nil
	}
	exists, err := m.local.BucketExists(ctx, m.localCfg.Bucket)
	if err != nil {
		return fmt.Errorf("check local bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := m.local.MakeBucket(ctx, m.localCfg.Bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create local bucket: %w", err)
	}
	return nil
}

// SyncObject copies one object from master storage to local storage if it
// is not already present locally.
func (m *Mirror) SyncObject(ctx context.Context, path string) (Outcome, error) {
	if m.master == nil || m.local == nil {
		return OutcomeSkip, nil
	}
	if err := m.limiter.Wait(ctx); err != nil {
		return OutcomeFailed, err
	}
	select {
	case m.sem <- struct{}{}:
		defer func() { <-m.sem }()
	case <-ctx.Done():
		return OutcomeFailed, ctx.Err()
	}

	localPath := mapPath(path, m.uploadPath, MasterToLocal)
	if _, err := m.local.StatObject(ctx, m.localCfg.Bucket, localPath, minio.StatObjectOptions{}); err == nil {
		return OutcomeSkip, nil
	}

	obj, err := m.master.GetObject(ctx, m.masterCfg.Bucket, path, minio.GetObjectOptions{})
	if err != nil {
		metrics.MediaObjectsCopied.WithLabelValues("pull", "failed").Inc()
		return OutcomeFailed, fmt.Errorf("get master object %s: %w", path, err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		metrics.MediaObjectsCopied.WithLabelValues("pull", "failed").Inc()
		return OutcomeFailed, fmt.Errorf("stat master object %s: %w", path, err)
	}

	if _, err := m.local.PutObject(ctx, m.localCfg.Bucket, localPath, obj, info.Size, minio.PutObjectOptions{
		ContentType: info.ContentType,
	}); err != nil {
		metrics.MediaObjectsCopied.WithLabelValues("pull", "failed").Inc()
		return OutcomeFailed, fmt.Errorf("put local object %s: %w", localPath, err)
	}
	metrics.MediaObjectsCopied.WithLabelValues("pull", "copied").Inc()
	return OutcomeCopied, nil
}

// pushObject is SyncObject's mirror image: copy a local object to master
// storage if master does not already have it.
func (m *Mirror) pushObject(ctx context.Context, path string) (Outcome, error) {
	if m.master == nil || m.local == nil {
		return OutcomeSkip, nil
	}
	if err := m.limiter.Wait(ctx); err != nil {
		return OutcomeFailed, err
	}
	select {
	case m.sem <- struct{}{}:
		defer func() { <-m.sem }()
	case <-ctx.Done():
		return OutcomeFailed, ctx.Err()
	}

	masterPath := mapPath(path, m.uploadPath, LocalToMaster)
	if _, err := m.master.StatObject(ctx, m.masterCfg.Bucket, masterPath, minio.StatObjectOptions{}); err == nil {
		return OutcomeSkip, nil
	}

	obj, err := m.local.GetObject(ctx, m.localCfg.Bucket, path, minio.GetObjectOptions{})
	if err != nil {
		metrics.MediaObjectsCopied.WithLabelValues("push", "failed").Inc()
		return OutcomeFailed, fmt.Errorf("get local object %s: %w", path, err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		metrics.MediaObjectsCopied.WithLabelValues("push", "failed").Inc()
		return OutcomeFailed, fmt.Errorf("stat local object %s: %w", path, err)
	}

	if _, err := m.master.PutObject(ctx, m.masterCfg.Bucket, masterPath, obj, info.Size, minio.PutObjectOptions{
		ContentType: info.ContentType,
	}); err != nil {
		metrics.MediaObjectsCopied.WithLabelValues("push", "failed").Inc()
		return OutcomeFailed, fmt.Errorf("put master object %s: %w", masterPath, err)
	}
	metrics.MediaObjectsCopied.WithLabelValues("push", "copied").Inc()
	return OutcomeCopied, nil
}

// ExtractObjectPaths walks data collecting every string matching the
// base URL prefix and returns the derived object paths.
func (m *Mirror) ExtractObjectPaths(data json.RawMessage, base string) []string {
	v, err := decodeAny(data)
	if err != nil || v == nil {
		return nil
	}
	urls := collectStrings(v, m.maxDepth, func(s string) bool {
		_, ok := objectPathFromURL(s, base)
		return ok
	})
	paths := make([]string, 0, len(urls))
	for _, u := range urls {
		p, _ := objectPathFromURL(u, base)
		paths = append(paths, p)
	}
	return paths
}

// RewriteURLs returns a deep copy of data with every occurrence of
// fromBase replaced by toBase in string leaves. RewriteURLs(RewriteURLs(x,
// A, B), B, A) == x holds because only exact-prefix matches are rewritten
// and the walk never revisits a string twice in one pass.
func (m *Mirror) RewriteURLs(data json.RawMessage, fromBase, toBase string) json.RawMessage {
	v, err := decodeAny(data)
	if err != nil || v == nil {
		return data
	}
	rewritten := walkStrings(v, m.maxDepth, func(s string) string {
		if rest, ok := objectPathFromURL(s, fromBase); ok {
			return toBase + "/" + rest
		}
		return s
	})
	out, err := encodeAny(rewritten)
	if err != nil {
		return data
	}
	return out
}

// SyncContentMedia implements the replica-receive path: for every object
// under the master's base URL referenced in data, mirror it locally and
// rewrite the payload to the local base URL. Per-object failures are
// logged and skipped — they never fail the overall apply.
func (m *Mirror) SyncContentMedia(ctx context.Context, data json.RawMessage) json.RawMessage {
	if m.master == nil || m.local == nil || len(data) == 0 {
		return data
	}
	paths := m.ExtractObjectPaths(data, m.masterCfg.BaseURL)
	for _, p := range paths {
		if _, err := m.SyncObject(ctx, p); err != nil {
			logging.Warn().Err(err).Str("path", p).Msg("media mirror: failed to sync object for replica apply")
		}
	}
	return m.RewriteURLs(data, m.masterCfg.BaseURL, m.localCfg.BaseURL)
}

// PrepareForPush implements the replica-push path: push any not-yet-present
// local object to master and emit FileRecords describing them.
func (m *Mirror) PrepareForPush(ctx context.Context, data json.RawMessage) (json.RawMessage, []wire.FileRecord, error) {
	if m.local == nil || len(data) == 0 {
		return data, nil, nil
	}
	paths := m.ExtractObjectPaths(data, m.localCfg.BaseURL)
	var records []wire.FileRecord
	for _, p := range paths {
		outcome, err := m.pushObject(ctx, p)
		if err != nil {
			logging.Warn().Err(err).Str("path", p).Msg("media mirror: failed to push object")
			continue
		}
		if outcome == OutcomeSkip && m.local == nil {
			continue
		}
		info, err := m.local.StatObject(ctx, m.localCfg.Bucket, p, minio.StatObjectOptions{})
		if err != nil {
			continue
		}
		records = append(records, wire.FileRecord{
			ID:   p,
			Name: p,
			Hash: objectHash(info),
			Size: info.Size,
			MIME: info.ContentType,
			URL:  m.localCfg.BaseURL + "/" + p,
		})
	}
	rewritten := m.RewriteURLs(data, m.localCfg.BaseURL, m.masterCfg.BaseURL)
	return rewritten, records, nil
}

func objectHash(info minio.ObjectInfo) string {
	if info.ETag != "" {
		return info.ETag
	}
	h := sha256.Sum256([]byte(info.Key))
	return hex.EncodeToString(h[:])
}
