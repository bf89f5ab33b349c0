// Cartographus Sync - offline-capable CMS replication engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus-sync

// Package wire defines the JSON envelope exchanged on the message bus
// between master and replicas, and its marshal/unmarshal helpers.
package wire

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

// SchemaVersion is bumped whenever a breaking change is made to the
// SyncMessage shape. Consumers reject envelopes from a newer major
// version they don't understand.
const SchemaVersion = 1

// Operation is the change kind a SyncMessage describes.
type Operation string

const (
	OpCreate  Operation = "create"
	OpUpdate  Operation = "update"
	OpDelete  Operation = "delete"
	OpPublish Operation = "publish"
)

// SyncMessage is the wire envelope exchanged on master-updates and
// ship-updates. Its shape is fixed by the receiving side's schema
// expectations; fields are never removed across a SchemaVersion, only
// added as optional.
type SyncMessage struct {
	SchemaVersion int             `json:"schemaVersion"`
	MessageID     string          `json:"messageId" validate:"required"`
	ShipID        string          `json:"shipId" validate:"required"`
	Timestamp     time.Time       `json:"timestamp" validate:"required"`
	Operation     Operation       `json:"operation" validate:"required,oneof=create update delete publish"`
	ContentType   string          `json:"contentType" validate:"required"`
	ContentID     string          `json:"contentId" validate:"required"`
	Version       uint64          `json:"version"`
	Data          json.RawMessage `json:"data,omitempty"`
	Locale        *string         `json:"locale,omitempty"`
	FileRecords   []FileRecord    `json:"fileRecords,omitempty"`
}

// FileRecord describes one media object's metadata, carried alongside a
// SyncMessage when the changed entity references uploaded media. Hash is
// the primary dedup key on the receiving side.
type FileRecord struct {
	ID               string                 `json:"id"`
	DocumentID       string                 `json:"documentId,omitempty"`
	Name             string                 `json:"name"`
	Hash             string                 `json:"hash" validate:"required"`
	Ext              string                 `json:"ext,omitempty"`
	MIME             string                 `json:"mime,omitempty"`
	Size             int64                  `json:"size"`
	URL              string                 `json:"url"`
	PreviewURL       string                 `json:"previewUrl,omitempty"`
	Width            int                    `json:"width,omitempty"`
	Height           int                    `json:"height,omitempty"`
	Formats          map[string]FileFormat  `json:"formats,omitempty"`
	Provider         string                 `json:"provider,omitempty"`
	ProviderMetadata map[string]interface{} `json:"provider_metadata,omitempty"`
	FolderPath       string                 `json:"folderPath,omitempty"`
	AlternativeText  string                 `json:"alternativeText,omitempty"`
	Caption          string                 `json:"caption,omitempty"`
}

// FileFormat describes one rendition of a FileRecord (e.g. "thumbnail",
// "small").
type FileFormat struct {
	URL    string `json:"url"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	Size   int64  `json:"size,omitempty"`
}

// NewMessage builds a SyncMessage with the current schema version and a
// generated message id in the "<shipId>-<ms-timestamp>-<contentId>" form
// the spec's wire format names.
func NewMessage(shipID string, op Operation, contentType, contentID string, version uint64, data json.RawMessage) *SyncMessage {
	now := time.Now().UTC()
	return &SyncMessage{
		SchemaVersion: SchemaVersion,
		MessageID:     fmt.Sprintf("%s-%d-%s", shipID, now.UnixMilli(), contentID),
		ShipID:        shipID,
		Timestamp:     now,
		Operation:     op,
		ContentType:   contentType,
		ContentID:     contentID,
		Version:       version,
		Data:          data,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the envelope against the required-field/enum rules
// spec'd for SyncMessage, and the delete-has-no-data invariant the
// struct tags can't express.
func (m *SyncMessage) Validate() error {
	if err := validate.Struct(m); err != nil {
		return err
	}
	if m.SchemaVersion > SchemaVersion {
		return fmt.Errorf("unsupported schema version %d (newest understood is %d)", m.SchemaVersion, SchemaVersion)
	}
	if m.Operation == OpDelete && len(m.Data) > 0 {
		return fmt.Errorf("delete operation must not carry data")
	}
	return nil
}

// Marshal validates then serializes m using the fast goccy/go-json codec.
func Marshal(m *SyncMessage) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sync message: %w", err)
	}
	return json.Marshal(m)
}

// Unmarshal deserializes and validates a SyncMessage from raw bytes.
func Unmarshal(b []byte) (*SyncMessage, error) {
	var m SyncMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("unmarshal sync message: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sync message: %w", err)
	}
	return &m, nil
}

// Topic returns the bus subject a message of this kind is published to.
func (m *SyncMessage) Topic(masterTopic, shipTopic string) string {
	if m.ShipID == "master" {
		return masterTopic
	}
	return shipTopic
}
