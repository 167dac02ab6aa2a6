package memory

import (
	"errors"
	"testing"

	"kvmbridge/internal/core/domain"
)

func TestLatestBeforeFirstSnapshot(t *testing.T) {
	repo := NewMemorySnapshotRepository()

	if _, err := repo.Latest(); !errors.Is(err, domain.ErrNoSnapshot) {
		t.Errorf("Latest() error = %v, want ErrNoSnapshot", err)
	}
}

func TestSetAndLatest(t *testing.T) {
	repo := NewMemorySnapshotRepository()
	repo.Set(domain.Snapshot{Device: domain.DeviceInfo{IP: "10.0.0.5"}})

	snap, err := repo.Latest()
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if snap.Device.IP != "10.0.0.5" {
		t.Errorf("Device.IP = %q, want 10.0.0.5", snap.Device.IP)
	}
}

func TestErrorDoesNotEvictSnapshot(t *testing.T) {
	repo := NewMemorySnapshotRepository().(*MemorySnapshotRepository)
	repo.Set(domain.Snapshot{Device: domain.DeviceInfo{IP: "10.0.0.5"}})

	refreshErr := errors.New("refresh cycle failed")
	repo.SetError(refreshErr)

	snap, err := repo.Latest()
	if err != nil {
		t.Fatalf("Latest() error = %v, want stale snapshot", err)
	}
	if snap.Device.IP != "10.0.0.5" {
		t.Errorf("Device.IP = %q, want 10.0.0.5", snap.Device.IP)
	}
	if repo.LastError() != refreshErr {
		t.Errorf("LastError() = %v, want %v", repo.LastError(), refreshErr)
	}

	// A subsequent success clears the error.
	repo.Set(domain.Snapshot{})
	if repo.LastError() != nil {
		t.Errorf("LastError() = %v after Set, want nil", repo.LastError())
	}
}

func TestErrorBeforeFirstSnapshotSurfaces(t *testing.T) {
	repo := NewMemorySnapshotRepository()
	refreshErr := errors.New("authentication failed")
	repo.SetError(refreshErr)

	if _, err := repo.Latest(); !errors.Is(err, refreshErr) {
		t.Errorf("Latest() error = %v, want %v", err, refreshErr)
	}
}
