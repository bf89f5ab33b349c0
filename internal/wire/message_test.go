// Cartographus Sync - offline-capable CMS replication engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus-sync

package wire

import (
	"testing"

	"github.com/goccy/go-json"
)

func TestNewMessage_DefaultsAndID(t *testing.T) {
	data := json.RawMessage(`{"title":"hello"}`)
	m := NewMessage("ship-1", OpUpdate, "article", "42", 3, data)

	if m.SchemaVersion != SchemaVersion {
		t.Errorf("SchemaVersion = %d, want %d", m.SchemaVersion, SchemaVersion)
	}
	if m.ShipID != "ship-1" {
		t.Errorf("ShipID = %q", m.ShipID)
	}
	if m.MessageID == "" {
		t.Error("MessageID should not be empty")
	}
	if err := m.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	m := NewMessage("master", OpCreate, "page", "p-1", 1, json.RawMessage(`{"slug":"about"}`))

	b, err := Marshal(m)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	got, err := Unmarshal(b)
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got.MessageID != m.MessageID || got.ContentID != m.ContentID {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, m)
	}
}

func TestValidate_RejectsMissingRequiredFields(t *testing.T) {
	m := &SyncMessage{}
	if err := m.Validate(); err == nil {
		t.Error("expected validation error for empty message")
	}
}

func TestValidate_RejectsDeleteWithData(t *testing.T) {
	m := NewMessage("ship-1", OpDelete, "article", "42", 0, json.RawMessage(`{"x":1}`))
	if err := m.Validate(); err == nil {
		t.Error("expected validation error for delete with data")
	}
}

func TestValidate_RejectsUnknownOperation(t *testing.T) {
	m := NewMessage("ship-1", Operation("rename"), "article", "42", 1, nil)
	if err := m.Validate(); err == nil {
		t.Error("expected validation error for unknown operation")
	}
}

func TestTopic_MasterVsShip(t *testing.T) {
	masterMsg := NewMessage("master", OpUpdate, "article", "1", 2, nil)
	shipMsg := NewMessage("ship-1", OpUpdate, "article", "1", 2, nil)

	if got := masterMsg.Topic("master-updates", "ship-updates"); got != "master-updates" {
		t.Errorf("master topic = %q", got)
	}
	if got := shipMsg.Topic("master-updates", "ship-updates"); got != "ship-updates" {
		t.Errorf("ship topic = %q", got)
	}
}
