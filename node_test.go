package collective

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/mock"

	"github.com/creastat/collective/core"
)

// MockTransport scripts transport failures
type MockTransport struct{ mock.Mock }

func (m *MockTransport) Send(msg *core.Message) error {
	return m.Called(msg).Error(0)
}

func (m *MockTransport) Flush() error {
	return m.Called().Error(0)
}

func leafView(t *testing.T) *TreeView {
	t.Helper()
	tree, err := NewKaryTree(2, 1)
	if err != nil {
		t.Fatalf("building tree failed: %v", err)
	}
	view, err := tree.View(1)
	if err != nil {
		t.Fatalf("view failed: %v", err)
	}
	return view
}

// TestNodeAccessors tests rank passthrough and the registry default
func TestNodeAccessors(t *testing.T) {
	node := NewNode(NodeConfig{
		Topology:  leafView(t),
		Transport: &MockTransport{},
	})

	if node.Rank() != 1 {
		t.Errorf("rank = %d, want 1", node.Rank())
	}
	if node.Size() != 2 {
		t.Errorf("size = %d, want 2", node.Size())
	}
	if node.Registry() == nil {
		t.Fatal("node has no registry")
	}

	if err := node.Register(ReservedChannels, nopChannel{}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if !node.Registry().Has(ReservedChannels) {
		t.Error("registered channel not found")
	}
	node.Unregister(ReservedChannels)
	if node.Registry().Has(ReservedChannels) {
		t.Error("unregistered channel still found")
	}
}

// TestNodeFlushFailureAbortsBarrier tests that a failing flush surfaces
// before the barrier registers anything
func TestNodeFlushFailureAbortsBarrier(t *testing.T) {
	transport := new(MockTransport)
	transport.On("Flush").Return(errors.New("socket gone"))

	node := NewNode(NodeConfig{
		Topology:  leafView(t),
		Transport: transport,
	})

	err := node.Barrier(12)
	if err == nil {
		t.Fatal("expected flush failure to abort the barrier")
	}
	if node.Registry().Has(12) {
		t.Error("channel registered despite aborted entry")
	}
	transport.AssertNotCalled(t, "Send", mock.Anything)
	transport.AssertExpectations(t)
}

// TestNodeSendFailureUnwindsRegistration tests that a leaf whose readiness
// report fails comes out of barrier entry with the id released
func TestNodeSendFailureUnwindsRegistration(t *testing.T) {
	transport := new(MockTransport)
	transport.On("Flush").Return(nil)
	transport.On("Send", mock.Anything).Return(errors.New("peer down"))

	node := NewNode(NodeConfig{
		Topology:  leafView(t),
		Transport: transport,
	})

	err := node.Barrier(12)
	if err == nil {
		t.Fatal("expected send failure to abort the barrier")
	}
	if node.Registry().Has(12) {
		t.Error("channel still registered after failed entry")
	}
	transport.AssertExpectations(t)
}

// TestNodeDispatchUnregisteredChannel tests the failure policy path for
// traffic nobody asked for
func TestNodeDispatchUnregisteredChannel(t *testing.T) {
	var policyErr error
	node := NewNode(NodeConfig{
		Topology:  leafView(t),
		Transport: &MockTransport{},
		OnViolation: func(err error) {
			policyErr = err
		},
	})

	err := node.Dispatch(core.NewMessage(3, 42, nil))
	var unregistered *core.UnregisteredChannelError
	if !errors.As(err, &unregistered) {
		t.Fatalf("expected UnregisteredChannelError, got %T: %v", err, err)
	}
	if policyErr == nil {
		t.Fatal("violation policy not invoked")
	}
	if got := policyErr.Error(); got != "message from 3 for unregistered channel 42" {
		t.Errorf("diagnostic = %q", got)
	}
}

// TestNodeDispatchCountsViolations tests the violation counter for both
// fatal error kinds
func TestNodeDispatchCountsViolations(t *testing.T) {
	g := newScriptGroup(t, traceTree(t))
	const id = 12

	// Unregistered traffic
	_ = g.nodes[2].Dispatch(core.NewMessage(0, id, nil))
	// Invalid sender for a live barrier
	g.openBarrier(t, 0, id)
	_ = g.nodes[0].Dispatch(core.NewMessage(3, id, nil))

	if got := g.metrics.Violations.Value(); got != 2 {
		t.Errorf("Violations = %d, want 2", got)
	}
	if got := len(g.violationLog()); got != 2 {
		t.Errorf("policy saw %d errors, want 2", got)
	}
}
