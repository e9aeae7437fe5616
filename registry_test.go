package collective

import (
	"testing"

	"github.com/creastat/collective/core"
)

// nopChannel is a registrable channel that never resolves anything
type nopChannel struct{}

func (nopChannel) Resolve(msg *core.Message) core.Transaction {
	return nil
}

func TestRegistryRejectsReservedIds(t *testing.T) {
	r := NewRegistry()
	for id := 0; id < ReservedChannels; id++ {
		if err := r.Register(id, nopChannel{}); err == nil {
			t.Errorf("expected registration of reserved id %d to fail", id)
		}
	}
	if err := r.Register(ReservedChannels, nopChannel{}); err != nil {
		t.Fatalf("registration of first free id failed: %v", err)
	}
}

func TestRegistryRoundTrip(t *testing.T) {
	r := NewRegistry()
	id := ReservedChannels + 2

	if r.Has(id) {
		t.Fatal("empty registry claims to hold a channel")
	}
	if err := r.Register(id, nopChannel{}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if !r.Has(id) {
		t.Fatal("registered id not found")
	}

	r.Unregister(id)
	if r.Has(id) {
		t.Fatal("unregistered id still found")
	}
}

// TestRegistryUnregisterUnknownId verifies that releasing ids the registry
// never saw is a no-op
func TestRegistryUnregisterUnknownId(t *testing.T) {
	r := NewRegistry()
	r.Unregister(ReservedChannels)
	r.Unregister(-1)
	r.Unregister(1 << 20)
}

// TestRegistryGrowsTable verifies sparse registration far beyond the
// current table size
func TestRegistryGrowsTable(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(4096, nopChannel{}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if !r.Has(4096) {
		t.Fatal("sparse id not found")
	}
	if r.Has(4095) {
		t.Fatal("neighboring id should be empty")
	}
}
