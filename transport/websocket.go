package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/creastat/collective/core"
	"github.com/creastat/collective/protocol"
	"github.com/creastat/collective/telemetry"
)

// WebSocketConfig holds the configuration for a WebSocket transport
type WebSocketConfig struct {
	// Rank is this process's rank; Size is the group size
	Rank int
	Size int

	// MeshID is the shared group identity checked during the handshake.
	// Every rank must carry the same value
	MeshID string

	// ListenAddr is the address accepting links from higher ranks. The
	// default binds an ephemeral local port
	ListenAddr string

	// Codec frames messages for the wire; both ends of every link must use
	// the same settings. Defaults to the package default codec
	Codec *protocol.FrameCodec

	// BufferSize is the per-link outbound queue capacity
	BufferSize int

	// RetryInterval paces redials while a lower rank is still coming up
	RetryInterval time.Duration

	// Logger defaults to a no-op logger
	Logger telemetry.Logger
}

// WebSocketTransport connects a group of processes with a full mesh of
// WebSocket links: every rank listens, and each pair is linked once by the
// higher rank dialing the lower. A hello exchange on every new link checks
// that both ends carry the same mesh id and proves which rank is calling.
//
// Outbound messages queue per link and a writer goroutine drains each queue
// in order; inbound frames are decoded by per-link readers and handed to
// the attached dispatcher. Readers hold off until the whole group is
// linked, so traffic sent by an early peer waits in the link buffer rather
// than reaching a dispatcher that is not ready
type WebSocketTransport struct {
	config WebSocketConfig
	logger telemetry.Logger
	codec  *protocol.FrameCodec

	dispatcher core.Dispatcher
	upgrader   websocket.Upgrader
	listener   net.Listener
	server     *http.Server

	outboxes []chan wsFrame

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	links     []*wsLink
	linkCount int
	linksUp   chan struct{}
	started   bool
}

// wsLink is one established connection to a peer rank
type wsLink struct {
	peer int
	conn *websocket.Conn
}

// wsFrame is one outbound queue entry: encoded bytes to write or a flush
// token to release
type wsFrame struct {
	data    []byte
	flushed chan struct{}
}

// NewWebSocketTransport creates a transport for one rank of a group
func NewWebSocketTransport(config WebSocketConfig) *WebSocketTransport {
	if config.ListenAddr == "" {
		config.ListenAddr = "127.0.0.1:0"
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 64
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = 100 * time.Millisecond
	}
	codec := config.Codec
	if codec == nil {
		codec = protocol.DefaultCodec()
	}
	logger := config.Logger
	if logger == nil {
		logger = telemetry.Nop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	outboxes := make([]chan wsFrame, config.Size)
	for peer := range outboxes {
		if peer == config.Rank {
			continue
		}
		outboxes[peer] = make(chan wsFrame, config.BufferSize)
	}

	t := &WebSocketTransport{
		config:   config,
		logger:   logger.WithModule("websocket"),
		codec:    codec,
		outboxes: outboxes,
		ctx:      ctx,
		cancel:   cancel,
		links:    make([]*wsLink, config.Size),
		linksUp:  make(chan struct{}),
	}
	if config.Size <= 1 {
		close(t.linksUp)
	}
	return t
}

// Attach binds inbound traffic to a dispatcher. Must be called before
// Start
func (t *WebSocketTransport) Attach(dispatcher core.Dispatcher) {
	t.dispatcher = dispatcher
}

// Listen binds the listen address and begins accepting links from higher
// ranks. The actual address is available from Addr afterwards
func (t *WebSocketTransport) Listen() error {
	if t.config.MeshID == "" {
		return fmt.Errorf("mesh id required")
	}

	listener, err := net.Listen("tcp", t.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", t.config.ListenAddr, err)
	}
	t.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/collective", t.handleUpgrade)
	t.server = &http.Server{Handler: mux}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		if err := t.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Error("listener failed", telemetry.Err(err))
		}
	}()

	t.logger.Info("listening",
		telemetry.Int("rank", t.config.Rank),
		telemetry.String("addr", listener.Addr().String()))
	return nil
}

// Addr returns the bound listen address, empty before Listen
func (t *WebSocketTransport) Addr() string {
	if t.listener == nil {
		return ""
	}
	return t.listener.Addr().String()
}

// PeerURL builds the link URL for a rank's listen address
func PeerURL(addr string) string {
	return "ws://" + addr + "/collective"
}

// Start dials every lower rank at its URL, waits until every higher rank
// has dialed in, then launches the per-link writer and reader loops.
// peers[r] is rank r's link URL; entries for this rank and higher ranks
// are ignored. When Start returns the whole group is linked
func (t *WebSocketTransport) Start(ctx context.Context, peers []string) error {
	if t.dispatcher == nil {
		return fmt.Errorf("no dispatcher attached")
	}
	if t.config.MeshID == "" {
		return fmt.Errorf("mesh id required")
	}
	if t.config.Rank > 0 && len(peers) < t.config.Rank {
		return fmt.Errorf("need urls for ranks 0..%d, got %d", t.config.Rank-1, len(peers))
	}

	for peer := 0; peer < t.config.Rank; peer++ {
		conn, err := t.dial(ctx, peers[peer], peer)
		if err != nil {
			return err
		}
		if err := t.addLink(peer, conn); err != nil {
			conn.Close()
			return err
		}
	}

	select {
	case <-t.linksUp:
	case <-ctx.Done():
		return fmt.Errorf("waiting for higher ranks: %w", ctx.Err())
	case <-t.ctx.Done():
		return fmt.Errorf("transport closed")
	}

	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return fmt.Errorf("transport already started")
	}
	t.started = true
	for _, link := range t.links {
		if link == nil {
			continue
		}
		t.wg.Add(2)
		go t.runWriter(link)
		go t.runReader(link)
	}
	t.mu.Unlock()

	t.logger.Info("group linked",
		telemetry.Int("rank", t.config.Rank),
		telemetry.Int("size", t.config.Size))
	return nil
}

// Close tears down every link and the listener and waits for all transport
// goroutines to exit
func (t *WebSocketTransport) Close() {
	t.cancel()
	t.mu.Lock()
	for _, link := range t.links {
		if link != nil {
			link.conn.Close()
		}
	}
	t.mu.Unlock()
	if t.server != nil {
		t.server.Close()
	}
	t.wg.Wait()
}

// Send queues one message for its destination link
func (t *WebSocketTransport) Send(msg *core.Message) error {
	if msg.Peer < 0 || msg.Peer >= t.config.Size || msg.Peer == t.config.Rank {
		return fmt.Errorf("peer %d is not a linkable rank for rank %d of %d", msg.Peer, t.config.Rank, t.config.Size)
	}
	data, err := t.codec.Encode(protocol.FrameFromMessage(msg, t.config.Rank))
	if err != nil {
		return err
	}
	select {
	case t.outboxes[msg.Peer] <- wsFrame{data: data}:
		return nil
	case <-t.ctx.Done():
		return fmt.Errorf("transport closed")
	}
}

// Flush blocks until every message queued before the call has been written
// to its link
func (t *WebSocketTransport) Flush() error {
	tokens := make([]chan struct{}, 0, t.config.Size)
	for peer, outbox := range t.outboxes {
		if peer == t.config.Rank {
			continue
		}
		flushed := make(chan struct{})
		select {
		case outbox <- wsFrame{flushed: flushed}:
			tokens = append(tokens, flushed)
		case <-t.ctx.Done():
			return fmt.Errorf("transport closed")
		}
	}
	for _, flushed := range tokens {
		select {
		case <-flushed:
		case <-t.ctx.Done():
			return fmt.Errorf("transport closed")
		}
	}
	return nil
}

// dial connects to one lower rank, retrying while the peer is still coming
// up, and runs the hello exchange
func (t *WebSocketTransport) dial(ctx context.Context, url string, peer int) (*websocket.Conn, error) {
	hello, err := t.codec.Encode(protocol.NewHelloFrame(t.config.MeshID, t.config.Rank))
	if err != nil {
		return nil, err
	}

	for {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err == nil {
			reply, err := t.exchangeHello(conn, hello)
			if err != nil {
				conn.Close()
				return nil, fmt.Errorf("handshake with rank %d at %s: %w", peer, url, err)
			}
			if reply.Mesh != t.config.MeshID || reply.Rank != peer {
				conn.Close()
				return nil, fmt.Errorf("peer at %s is not rank %d of this group", url, peer)
			}
			return conn, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("dialing rank %d at %s: %w", peer, url, ctx.Err())
		case <-t.ctx.Done():
			return nil, fmt.Errorf("transport closed")
		case <-time.After(t.config.RetryInterval):
		}
	}
}

// exchangeHello sends our hello and decodes the peer's
func (t *WebSocketTransport) exchangeHello(conn *websocket.Conn, hello []byte) (*protocol.Frame, error) {
	if err := conn.WriteMessage(websocket.BinaryMessage, hello); err != nil {
		return nil, err
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	reply, err := t.codec.Decode(data)
	if err != nil {
		return nil, err
	}
	if reply.Kind != protocol.FrameHello {
		return nil, fmt.Errorf("expected hello, got %s", reply.Kind)
	}
	return reply, nil
}

// handleUpgrade accepts one link from a higher rank
func (t *WebSocketTransport) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Error("upgrade failed", telemetry.Err(err))
		return
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return
	}
	hello, err := t.codec.Decode(data)
	if err != nil || hello.Kind != protocol.FrameHello {
		t.logger.Warn("rejected link without hello")
		conn.Close()
		return
	}
	if hello.Mesh != t.config.MeshID {
		t.logger.Warn("rejected link from another group", telemetry.String("mesh", hello.Mesh))
		conn.Close()
		return
	}
	peer := hello.Rank
	if peer <= t.config.Rank || peer >= t.config.Size {
		t.logger.Warn("rejected link with bad rank", telemetry.Int("peer", peer))
		conn.Close()
		return
	}

	reply, err := t.codec.Encode(protocol.NewHelloFrame(t.config.MeshID, t.config.Rank))
	if err != nil {
		conn.Close()
		return
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, reply); err != nil {
		conn.Close()
		return
	}

	if err := t.addLink(peer, conn); err != nil {
		t.logger.Warn("rejected link", telemetry.Int("peer", peer), telemetry.Err(err))
		conn.Close()
	}
}

// addLink records an established link and releases Start once every peer
// is connected
func (t *WebSocketTransport) addLink(peer int, conn *websocket.Conn) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.links[peer] != nil {
		return fmt.Errorf("rank %d already linked", peer)
	}
	t.links[peer] = &wsLink{peer: peer, conn: conn}
	t.linkCount++
	t.logger.Debug("link established", telemetry.Int("peer", peer))
	if t.linkCount == t.config.Size-1 {
		close(t.linksUp)
	}
	return nil
}

// runWriter drains one link's outbox in order. A write failure kills the
// transport: a barrier group cannot survive a lost link
func (t *WebSocketTransport) runWriter(link *wsLink) {
	defer t.wg.Done()

	for {
		select {
		case <-t.ctx.Done():
			return
		case frame := <-t.outboxes[link.peer]:
			if frame.flushed != nil {
				close(frame.flushed)
				continue
			}
			if err := link.conn.WriteMessage(websocket.BinaryMessage, frame.data); err != nil {
				t.logger.Error("link write failed", telemetry.Int("peer", link.peer), telemetry.Err(err))
				t.cancel()
				return
			}
		}
	}
}

// runReader decodes inbound frames from one link and hands data frames to
// the dispatcher
func (t *WebSocketTransport) runReader(link *wsLink) {
	defer t.wg.Done()

	for {
		_, data, err := link.conn.ReadMessage()
		if err != nil {
			select {
			case <-t.ctx.Done():
			default:
				t.logger.Error("link read failed", telemetry.Int("peer", link.peer), telemetry.Err(err))
				t.cancel()
			}
			return
		}

		frame, err := t.codec.Decode(data)
		if err != nil {
			t.logger.Error("bad frame", telemetry.Int("peer", link.peer), telemetry.Err(err))
			continue
		}
		if frame.Kind != protocol.FrameData {
			t.logger.Warn("unexpected frame kind", telemetry.String("kind", string(frame.Kind)), telemetry.Int("peer", link.peer))
			continue
		}

		msg, err := protocol.MessageFromFrame(frame)
		if err != nil {
			t.logger.Error("bad frame", telemetry.Int("peer", link.peer), telemetry.Err(err))
			continue
		}
		if err := t.dispatcher.Dispatch(msg); err != nil {
			t.logger.Error("dispatch failed",
				telemetry.Int("peer", msg.Peer),
				telemetry.Int("channel", msg.Channel),
				telemetry.Err(err))
		}
	}
}
