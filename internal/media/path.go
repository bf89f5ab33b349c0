// Cartographus Sync - offline-capable CMS replication engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus-sync

package media

import "strings"

// Direction is which way an object path is being mapped across the
// configured uploadPath prefix.
type Direction int

const (
	// MasterToLocal strips the configured prefix: master paths carry it,
	// local object keys don't need to.
	MasterToLocal Direction = iota
	// LocalToMaster restores the prefix when pushing a local object up.
	LocalToMaster
)

// mapPath applies the configured uploadPath prefix in the given direction.
// It is idempotent: stripping a path that doesn't carry the prefix, or
// restoring one that already does, is a no-op.
func mapPath(path, prefix string, dir Direction) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return path
	}
	trimmedPath := strings.TrimPrefix(path, "/")
	switch dir {
	case MasterToLocal:
		if strings.HasPrefix(trimmedPath, prefix+"/") {
			return strings.TrimPrefix(trimmedPath, prefix+"/")
		}
		return trimmedPath
	case LocalToMaster:
		if strings.HasPrefix(trimmedPath, prefix+"/") {
			return trimmedPath
		}
		return prefix + "/" + trimmedPath
	default:
		return trimmedPath
	}
}

// objectPathFromURL derives the object key under base from a full URL,
// e.g. objectPathFromURL("https://master/files/a/b.png", "https://master/files") == "a/b.png".
func objectPathFromURL(url, base string) (string, bool) {
	base = strings.TrimSuffix(base, "/")
	if !strings.HasPrefix(url, base+"/") {
		return "", false
	}
	return strings.TrimPrefix(url, base+"/"), true
}
