package oobd

import (
	"testing"

	"github.com/edgefleet/oobd/internal/storage"
	"github.com/edgefleet/oobd/pkg/oid"
)

func op(name, status string) *storage.Operation {
	return &storage.Operation{ID: oid.New(), Name: name, Status: status}
}

func TestDetectRebootCompletesAcknowledgedReboots(t *testing.T) {
	ops := []*storage.Operation{
		op(NameReboot, StatusPending),
		op(NameReboot, StatusInProgress),
		op(NameReboot, StatusCreated),
		op(NameRestartServices, StatusPending),
	}
	completed, update := DetectReboot("boot-old", "boot-new", ops)
	if !update {
		t.Fatal("boot id change should trigger an update")
	}
	if len(completed) != 2 {
		t.Fatalf("expected 2 completed reboots, got %d", len(completed))
	}
	for _, c := range completed {
		if c.Name != NameReboot || c.Status == StatusCreated {
			t.Fatalf("wrong operation completed: %+v", c)
		}
	}
}

func TestDetectRebootSameBootIDIsNoop(t *testing.T) {
	ops := []*storage.Operation{op(NameReboot, StatusPending)}
	completed, update := DetectReboot("boot-1", "boot-1", ops)
	if update || completed != nil {
		t.Fatal("unchanged boot id should be a no-op")
	}
}

func TestDetectRebootMissingHeaderIsNoop(t *testing.T) {
	completed, update := DetectReboot("boot-1", "", nil)
	if update || completed != nil {
		t.Fatal("missing boot id should be a no-op")
	}
}

func TestDetectRebootFirstSightingBaselinesOnly(t *testing.T) {
	ops := []*storage.Operation{op(NameReboot, StatusPending)}
	completed, update := DetectReboot("", "boot-1", ops)
	if !update {
		t.Fatal("first sighting should store the boot id")
	}
	if len(completed) != 0 {
		t.Fatal("first sighting must not complete anything")
	}
}

func TestDetectRebootSkipsCreatedOperations(t *testing.T) {
	// A reboot the device never acknowledged could have any cause.
	ops := []*storage.Operation{op(NameReboot, StatusCreated)}
	completed, update := DetectReboot("boot-old", "boot-new", ops)
	if !update {
		t.Fatal("boot id change should still be recorded")
	}
	if len(completed) != 0 {
		t.Fatal("Created reboot must not be auto-completed")
	}
}
