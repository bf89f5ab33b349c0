// Cartographus Sync - offline-capable CMS replication engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus-sync

package syncengine

import (
	"context"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tomtom215/cartographus-sync/internal/logging"
	"github.com/tomtom215/cartographus-sync/internal/media"
	"github.com/tomtom215/cartographus-sync/internal/store"
	"github.com/tomtom215/cartographus-sync/internal/wire"
)

// loopFlagKey scopes the loop-prevention flag to a single in-flight apply
// instead of a process-wide boolean: the bus consumer wraps every apply's
// context with WithPeerOrigin before calling the resolver, so concurrent
// applies on different goroutines never see each other's flag.
type loopFlagKey struct{}

// WithPeerOrigin marks ctx as carrying a change that originated from a
// peer (consumer-applied), so the interceptor that fires as a side effect
// of the resulting CMS write knows not to re-propagate it.
func WithPeerOrigin(ctx context.Context) context.Context {
	return context.WithValue(ctx, loopFlagKey{}, true)
}

// originatedFromPeer reports whether ctx was marked by WithPeerOrigin.
func originatedFromPeer(ctx context.Context) bool {
	v, _ := ctx.Value(loopFlagKey{}).(bool)
	return v
}

// sensitiveFieldSubstrings are matched case-insensitively against JSON
// object keys; a match causes the field to be dropped from the outbound
// payload before it ever reaches the bus.
var sensitiveFieldSubstrings = []string{"password", "token", "secret", "api key", "apikey"}

// Pusher is the subset of the bus producer the interceptor needs on the
// master side: publish immediately if connected, otherwise the caller
// falls back to the broadcast queue.
type Pusher interface {
	IsConnected() bool
	SendToShips(ctx context.Context, topic string, msg *wire.SyncMessage) error
}

// DebounceFunc schedules (or refreshes) a debounced push; the bootstrap
// wires this to a real debounce.Debouncer, tests can pass a plain closure.
type DebounceFunc func()

// Mode is which side of the replication topology this process runs as.
type Mode string

const (
	ModeMaster  Mode = "master"
	ModeReplica Mode = "replica"
)

// Interceptor implements §4.L: the document-operation middleware hook that
// turns a successful local CMS write into outbound sync bookkeeping. It is
// invoked by the host application (or the cms.Store reference adapter)
// after every create/update/delete/publish, never before — the spec
// requires the sync hook to never be able to fail the underlying write, so
// Intercept always recovers and logs instead of returning an error to the
// caller's caller.
type Interceptor struct {
	db             *store.DB
	mode           Mode
	shipID         string
	contentTypes   map[string]struct{} // empty means "all content types eligible"
	pusher         Pusher              // used in master mode only; IsConnected is checked per write
	shipTopic      string
	debouncedPush  DebounceFunc
}

// InterceptorConfig configures an Interceptor.
type InterceptorConfig struct {
	Mode          Mode
	ShipID        string
	ContentTypes  []string
	Pusher        Pusher
	ShipTopic     string
	DebouncedPush DebounceFunc
}

// NewInterceptor builds an Interceptor from cfg.
func NewInterceptor(db *store.DB, cfg InterceptorConfig) *Interceptor {
	allow := make(map[string]struct{}, len(cfg.ContentTypes))
	for _, ct := range cfg.ContentTypes {
		allow[ct] = struct{}{}
	}
	return &Interceptor{
		db:            db,
		mode:          cfg.Mode,
		shipID:        cfg.ShipID,
		contentTypes:  allow,
		pusher:        cfg.Pusher,
		shipTopic:     cfg.ShipTopic,
		debouncedPush: cfg.DebouncedPush,
	}
}

// OpResult is what the host CMS hands the interceptor after a write: the
// operation kind, the affected documentId(s), and the resulting payload.
// IsBulk is set for array/count results, which step 3 of §4.L skips except
// for single-documentId deletes.
type OpResult struct {
	Operation   wire.Operation
	ContentType string
	DocumentID  string
	Data        json.RawMessage
	IsBulk      bool
}

// Intercept runs the seven steps of §4.L. It never returns an error to the
// caller — the underlying CMS write has already succeeded by the time this
// runs, and a sync-hook failure must not be visible to CMS callers. All
// failures are logged and swallowed.
func (ic *Interceptor) Intercept(ctx context.Context, res OpResult) {
	defer func() {
		if r := recover(); r != nil {
			logging.Debug().Interface("panic", r).Str("contentType", res.ContentType).
				Msg("lifecycle interceptor recovered from panic")
		}
	}()

	// Step 1: allow-list.
	if len(ic.contentTypes) > 0 {
		if _, ok := ic.contentTypes[res.ContentType]; !ok {
			return
		}
	}

	// Step 2: resolve documentId — already done by the caller for deletes
	// (res.DocumentID comes from the operation parameters), otherwise from
	// the returned entity; nothing further to do here besides requiring it.
	if res.DocumentID == "" {
		logging.Debug().Str("contentType", res.ContentType).
			Msg("lifecycle interceptor: no documentId resolved, skipping")
		return
	}

	// Step 3: skip bulk results except single-documentId deletes.
	if res.IsBulk && res.Operation != wire.OpDelete {
		return
	}

	// Step 4: loop prevention.
	if originatedFromPeer(ctx) {
		return
	}

	// Step 5: redact sensitive fields.
	data := redact(res.Data)

	if err := ic.handle(ctx, res, data); err != nil {
		logging.Debug().Err(err).Str("contentType", res.ContentType).Str("documentId", res.DocumentID).
			Msg("lifecycle interceptor failed, CMS write unaffected")
	}
}

func (ic *Interceptor) handle(ctx context.Context, res OpResult, data json.RawMessage) error {
	switch ic.mode {
	case ModeReplica:
		return ic.handleReplica(ctx, res, data)
	default:
		return ic.handleMaster(ctx, res, data)
	}
}

// handleReplica implements step 6: bump version, enqueue outbound, trigger
// a debounced push.
func (ic *Interceptor) handleReplica(ctx context.Context, res OpResult, data json.RawMessage) error {
	version, err := ic.db.Metadata().IncrementVersion(ctx, res.ContentType, res.DocumentID, ic.shipID)
	if err != nil {
		return err
	}
	if res.Operation == wire.OpDelete {
		if err := ic.db.Metadata().Delete(ctx, res.ContentType, res.DocumentID); err != nil {
			return err
		}
		data = nil
	}
	if err := ic.db.Queue(store.QueueReplicaOutbound).Enqueue(ctx, &store.QueueEntry{
		ShipID:       ic.shipID,
		ContentType:  res.ContentType,
		ContentID:    res.DocumentID,
		Operation:    res.Operation,
		LocalVersion: version,
		Data:         data,
	}); err != nil {
		return err
	}
	if ic.debouncedPush != nil {
		ic.debouncedPush()
	}
	return nil
}

// handleMaster implements step 7: audit log, then publish immediately if
// connected, else fall back to the master broadcast queue.
func (ic *Interceptor) handleMaster(ctx context.Context, res OpResult, data json.RawMessage) error {
	version, err := ic.db.Metadata().IncrementVersion(ctx, res.ContentType, res.DocumentID, "master")
	if err != nil {
		return err
	}
	logging.Info().Str("contentType", res.ContentType).Str("documentId", res.DocumentID).
		Str("operation", string(res.Operation)).Uint64("version", version).Msg("master content edit")

	if res.Operation == wire.OpDelete {
		data = nil
	}
	msg := wire.NewMessage("master", res.Operation, res.ContentType, res.DocumentID, version, data)

	if ic.pusher != nil && ic.pusher.IsConnected() {
		if err := ic.pusher.SendToShips(ctx, ic.shipTopic, msg); err == nil {
			return nil
		}
		logging.Debug().Str("documentId", res.DocumentID).Msg("immediate publish failed, falling back to broadcast queue")
	}

	return ic.db.Queue(store.QueueMasterBroadcast).Enqueue(ctx, &store.QueueEntry{
		ShipID:       "master",
		ContentType:  res.ContentType,
		ContentID:    res.DocumentID,
		Operation:    res.Operation,
		LocalVersion: version,
		Data:         data,
	})
}

// redact drops any object key whose name contains one of
// sensitiveFieldSubstrings, case-insensitively, at any nesting depth —
// reusing the same bounded structural walker media uses for URL
// rewriting, since a sensitive field nested under e.g. "author" is just as
// real a leak as a top-level one.
func redact(data json.RawMessage) json.RawMessage {
	return media.DropKeys(data, func(key string) bool {
		lower := strings.ToLower(key)
		for _, substr := range sensitiveFieldSubstrings {
			if strings.Contains(lower, substr) {
				return true
			}
		}
		return false
	})
}
