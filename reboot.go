package oobd

import (
	"github.com/edgefleet/oobd/internal/storage"
)

// DetectReboot decides which pending Reboot operations a boot-id change
// proves complete.
//
// A device reports its current boot id on every poll. When the stored
// id is non-empty and the reported one differs, the device rebooted
// since we last saw it: every Reboot operation the device had already
// acknowledged (status past Created) is therefore done. Operations
// still in Created were never seen by the device, so a reboot from
// some other cause does not complete them.
//
// The second return value reports whether the stored boot id should be
// updated to reportedBootID.
func DetectReboot(storedBootID, reportedBootID string, ops []*storage.Operation) ([]*storage.Operation, bool) {
	if reportedBootID == "" || reportedBootID == storedBootID {
		return nil, false
	}
	if storedBootID == "" {
		// First sighting: baseline only, nothing to complete.
		return nil, true
	}

	var completed []*storage.Operation
	for _, op := range ops {
		if op.Name == NameReboot && op.Status != StatusCreated && !IsTerminal(op.Status) {
			completed = append(completed, op)
		}
	}
	return completed, true
}
