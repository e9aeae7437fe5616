package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/creastat/collective/core"
)

// recordingDispatcher funnels dispatched messages to a channel
type recordingDispatcher struct {
	msgs chan *core.Message
}

func newRecordingDispatcher() *recordingDispatcher {
	return &recordingDispatcher{msgs: make(chan *core.Message, 64)}
}

func (d *recordingDispatcher) Dispatch(msg *core.Message) error {
	d.msgs <- msg
	return nil
}

func (d *recordingDispatcher) next(t *testing.T) *core.Message {
	t.Helper()
	select {
	case msg := <-d.msgs:
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message dispatched")
		return nil
	}
}

// startMesh assembles and starts a mesh with a recorder per rank
func startMesh(t *testing.T, size int) (*Mesh, []*recordingDispatcher) {
	t.Helper()
	mesh := NewMesh(MeshConfig{Size: size})
	recorders := make([]*recordingDispatcher, size)
	for rank := 0; rank < size; rank++ {
		recorders[rank] = newRecordingDispatcher()
		if err := mesh.Attach(rank, recorders[rank]); err != nil {
			t.Fatalf("attach rank %d failed: %v", rank, err)
		}
	}
	if err := mesh.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	t.Cleanup(mesh.Close)
	return mesh, recorders
}

// TestMeshDeliversWithSenderPeer tests that a delivered message names its
// sender, not its original destination
func TestMeshDeliversWithSenderPeer(t *testing.T) {
	mesh, recorders := startMesh(t, 2)

	endpoint, err := mesh.Endpoint(0)
	if err != nil {
		t.Fatalf("endpoint failed: %v", err)
	}
	if err := endpoint.Send(core.NewMessage(1, 42, []byte("ping"))); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	msg := recorders[1].next(t)
	if msg.Peer != 0 {
		t.Errorf("peer = %d, want sender 0", msg.Peer)
	}
	if msg.Channel != 42 {
		t.Errorf("channel = %d, want 42", msg.Channel)
	}
	if string(msg.Payload) != "ping" {
		t.Errorf("payload = %q, want ping", msg.Payload)
	}
}

// TestMeshPerSenderOrdering tests that one sender's messages arrive in
// send order
func TestMeshPerSenderOrdering(t *testing.T) {
	mesh, recorders := startMesh(t, 2)

	endpoint, err := mesh.Endpoint(0)
	if err != nil {
		t.Fatalf("endpoint failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		if err := endpoint.Send(core.NewMessage(1, 100+i, nil)); err != nil {
			t.Fatalf("send %d failed: %v", i, err)
		}
	}

	for i := 0; i < 10; i++ {
		if msg := recorders[1].next(t); msg.Channel != 100+i {
			t.Fatalf("message %d arrived on channel %d, want %d", i, msg.Channel, 100+i)
		}
	}
}

// TestMeshFlush tests that flush completes while traffic is in flight and
// everything queued before it still arrives
func TestMeshFlush(t *testing.T) {
	mesh, recorders := startMesh(t, 2)

	endpoint, err := mesh.Endpoint(0)
	if err != nil {
		t.Fatalf("endpoint failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := endpoint.Send(core.NewMessage(1, 100+i, nil)); err != nil {
			t.Fatalf("send %d failed: %v", i, err)
		}
	}
	if err := endpoint.Flush(); err != nil {
		t.Fatalf("flush failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		recorders[1].next(t)
	}
}

// TestMeshRankValidation tests endpoint and peer range checks
func TestMeshRankValidation(t *testing.T) {
	mesh := NewMesh(MeshConfig{Size: 2})

	if _, err := mesh.Endpoint(-1); err == nil {
		t.Error("expected error for negative rank")
	}
	if _, err := mesh.Endpoint(2); err == nil {
		t.Error("expected error for rank beyond mesh")
	}

	endpoint, err := mesh.Endpoint(0)
	if err != nil {
		t.Fatalf("endpoint failed: %v", err)
	}
	if err := endpoint.Send(core.NewMessage(5, 42, nil)); err == nil {
		t.Error("expected error for peer beyond mesh")
	}
}

// TestMeshLifecycle tests the attach and start ordering rules
func TestMeshLifecycle(t *testing.T) {
	mesh := NewMesh(MeshConfig{Size: 2})

	if err := mesh.Attach(2, newRecordingDispatcher()); err == nil {
		t.Error("expected error attaching out of range rank")
	}

	if err := mesh.Attach(0, newRecordingDispatcher()); err != nil {
		t.Fatalf("attach failed: %v", err)
	}
	if err := mesh.Start(context.Background()); err == nil {
		t.Fatal("expected error starting with rank 1 unattached")
	}

	if err := mesh.Attach(1, newRecordingDispatcher()); err != nil {
		t.Fatalf("attach failed: %v", err)
	}
	if err := mesh.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer mesh.Close()

	if err := mesh.Start(context.Background()); err == nil {
		t.Error("expected error on second start")
	}
	if err := mesh.Attach(0, newRecordingDispatcher()); err == nil {
		t.Error("expected error attaching after start")
	}
}

// TestMeshCloseReleasesFlush tests that flush cannot hang on a closed mesh
func TestMeshCloseReleasesFlush(t *testing.T) {
	mesh, _ := startMesh(t, 2)
	mesh.Close()

	endpoint, err := mesh.Endpoint(0)
	if err != nil {
		t.Fatalf("endpoint failed: %v", err)
	}
	if err := endpoint.Flush(); err == nil {
		t.Error("expected error flushing a closed mesh")
	}
}

// flakyDispatcher fails a fixed number of dispatches before recording
type flakyDispatcher struct {
	fails int
	msgs  chan *core.Message
}

func (d *flakyDispatcher) Dispatch(msg *core.Message) error {
	if d.fails > 0 {
		d.fails--
		return errors.New("not ready")
	}
	d.msgs <- msg
	return nil
}

// TestMeshPumpSurvivesDispatchErrors tests that a dispatch error does not
// stop delivery of later messages
func TestMeshPumpSurvivesDispatchErrors(t *testing.T) {
	mesh := NewMesh(MeshConfig{Size: 2})
	flaky := &flakyDispatcher{fails: 1, msgs: make(chan *core.Message, 4)}
	if err := mesh.Attach(0, newRecordingDispatcher()); err != nil {
		t.Fatalf("attach failed: %v", err)
	}
	if err := mesh.Attach(1, flaky); err != nil {
		t.Fatalf("attach failed: %v", err)
	}
	if err := mesh.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer mesh.Close()

	endpoint, err := mesh.Endpoint(0)
	if err != nil {
		t.Fatalf("endpoint failed: %v", err)
	}
	if err := endpoint.Send(core.NewMessage(1, 100, nil)); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if err := endpoint.Send(core.NewMessage(1, 101, nil)); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	select {
	case msg := <-flaky.msgs:
		if msg.Channel != 101 {
			t.Errorf("survivor arrived on channel %d, want 101", msg.Channel)
		}
	case <-time.After(time.Second):
		t.Fatal("pump stopped after dispatch error")
	}
}
