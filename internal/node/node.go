package node

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"flood_mesh/internal/action"
	"flood_mesh/internal/config"
	"flood_mesh/internal/dataType"
	"flood_mesh/internal/peer"
	"flood_mesh/internal/wire"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Node is the per-process mesh member. Everything below the channel fields
// is owned by the run goroutine; other goroutines only see the channels and
// the snapshot.
type Node[M any] struct {
	cfg    config.NodeConfig
	addr   string
	logger *zap.Logger

	listener   net.Listener
	accepted   chan net.Conn
	cmds       chan Command
	inbound    chan peer.Inbound[M]
	dead       chan *peer.Peer[M]
	deliveries chan Delivery[M]
	quit       chan struct{}
	done       chan struct{}

	peers     map[string]*peer.Peer[M]
	seen      *dataType.SeenCache
	admission *action.Admission
	bans      *dataType.BanList
	traffic   *dataType.TrafficCounter
	rateLimit int64
	peerOpts  peer.Options
	snapshot  *dataType.NodeSnapshot

	wg        sync.WaitGroup
	peerLoops sync.WaitGroup
	startOnce sync.Once
}

func withDefaults(cfg config.NodeConfig) config.NodeConfig {
	def := config.DefaultNodeConfig(cfg.Name, cfg.ListenAddr)
	if cfg.Admission == "" {
		cfg.Admission = def.Admission
	}
	if cfg.SeenCacheSize <= 0 {
		cfg.SeenCacheSize = def.SeenCacheSize
	}
	if cfg.CommandBuffer <= 0 {
		cfg.CommandBuffer = def.CommandBuffer
	}
	if cfg.InboundBuffer <= 0 {
		cfg.InboundBuffer = def.InboundBuffer
	}
	if cfg.DeliveryBuffer <= 0 {
		cfg.DeliveryBuffer = def.DeliveryBuffer
	}
	if cfg.EventLogSize <= 0 {
		cfg.EventLogSize = def.EventLogSize
	}
	return cfg
}

// New binds the listening socket. The node does nothing until Start.
func New[M any](cfg config.NodeConfig, logger *zap.Logger) (*Node[M], error) {
	cfg = withDefaults(cfg)
	if logger == nil {
		logger = zap.NewNop()
	}

	seen, err := dataType.NewSeenCache(cfg.SeenCacheSize)
	if err != nil {
		return nil, fmt.Errorf("seen cache: %w", err)
	}
	bans := dataType.NewBanList()
	admission, err := action.NewAdmission(cfg.Admission, cfg.KnownPeers, bans)
	if err != nil {
		return nil, err
	}

	n := &Node[M]{
		cfg:        cfg,
		accepted:   make(chan net.Conn),
		cmds:       make(chan Command, cfg.CommandBuffer),
		inbound:    make(chan peer.Inbound[M], cfg.InboundBuffer),
		dead:       make(chan *peer.Peer[M]),
		deliveries: make(chan Delivery[M], cfg.DeliveryBuffer),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		peers:      make(map[string]*peer.Peer[M]),
		seen:       seen,
		admission:  admission,
		bans:       bans,
		peerOpts: peer.Options{
			Codec:        wire.Codec{MaxFrameSize: cfg.MaxFrameSize, Compress: cfg.Compress},
			WriteTimeout: cfg.WriteTimeout,
		},
	}

	limit, window, ok, err := cfg.RateLimit()
	if err != nil {
		return nil, fmt.Errorf("peer_rate_limit: %w", err)
	}
	if ok {
		n.traffic = dataType.NewTrafficCounter(16, window)
		n.rateLimit = int64(limit)
	}

	n.listener, err = net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.ListenAddr, err)
	}
	n.addr = cfg.AdvertiseAddr
	if n.addr == "" {
		n.addr = n.listener.Addr().String()
	}
	n.logger = logger.With(zap.String("addr", n.addr))
	n.snapshot = dataType.NewNodeSnapshot(n.addr, cfg.EventLogSize)
	n.logger.Info("listening", zap.String("listen", n.listener.Addr().String()), zap.String("admission", admission.Policy()))
	return n, nil
}

// Addr is the address this node puts into seen sets and packet senders.
func (n *Node[M]) Addr() string {
	return n.addr
}

// Start launches the node loop and returns the handle used to drive it.
// Calling Start more than once returns handles to the same loop.
func (n *Node[M]) Start() *Handle[M] {
	n.startOnce.Do(func() {
		n.wg.Add(2)
		go n.acceptLoop()
		go func() {
			defer n.wg.Done()
			dataType.StartBanListGC(n.bans, n.quit)
		}()
		go n.run()
	})
	return n.handle()
}

func (n *Node[M]) handle() *Handle[M] {
	return &Handle[M]{
		addr:       n.addr,
		cmds:       n.cmds,
		deliveries: n.deliveries,
		done:       n.done,
		snapshot:   n.snapshot,
		logger:     n.logger,
	}
}

func (n *Node[M]) acceptLoop() {
	defer n.wg.Done()
	defer close(n.accepted)
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				n.logger.Error("accept failed, no longer accepting peers", zap.Error(err))
			}
			return
		}
		select {
		case n.accepted <- conn:
		case <-n.quit:
			_ = conn.Close()
			return
		}
	}
}

func (n *Node[M]) run() {
	defer n.shutdown()

	var heartbeat <-chan time.Time
	if n.cfg.HeartbeatInterval > 0 {
		ticker := time.NewTicker(n.cfg.HeartbeatInterval)
		defer ticker.Stop()
		heartbeat = ticker.C
	}
	var gc <-chan time.Time
	if n.traffic != nil {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		gc = ticker.C
	}

	accepted := n.accepted
	for {
		select {
		case conn, ok := <-accepted:
			if !ok {
				accepted = nil
				continue
			}
			n.admit(conn)
		case cmd, ok := <-n.cmds:
			if !ok {
				n.logger.Error("command channel closed, terminating")
				return
			}
			if n.handleCommand(cmd) {
				return
			}
		case in := <-n.inbound:
			n.handleInbound(in)
		case p := <-n.dead:
			n.evictIfCurrent(p, "receive loop ended")
		case <-heartbeat:
			n.sendHeartbeats()
		case <-gc:
			n.traffic.GC()
		}
	}
}

// shutdown closes the listener and every peer, then waits for the
// goroutines the node started before closing the delivery channel.
func (n *Node[M]) shutdown() {
	close(n.quit)
	if err := n.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		n.logger.Warn("closing listener", zap.Error(err))
	}
	for key, p := range n.peers {
		_ = p.Close()
		delete(n.peers, key)
	}
	n.peerLoops.Wait()
	n.wg.Wait()

	n.snapshot.SetPeers(nil)
	n.snapshot.MarkTerminated()
	n.snapshot.Logf("terminated")
	n.logger.Info("node terminated")
	drainCommands[M](n.cmds, n.logger)
	close(n.deliveries)
	close(n.done)
	// A sender that enqueued just before done closed drains again itself.
	drainCommands[M](n.cmds, n.logger)
}

func (n *Node[M]) handleCommand(cmd Command) (stop bool) {
	switch c := cmd.(type) {
	case Die:
		n.logger.Info("node terminating")
		return true
	case Broadcast[M]:
		n.originate(c.Message)
	case AddPeer:
		n.addPeer(c.Conn, c.Addr, false)
	default:
		n.logger.Warn("unknown command", zap.String("type", fmt.Sprintf("%T", cmd)))
	}
	return false
}

func (n *Node[M]) admit(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	decision := n.admission.Check(remote)
	if decision.Get() != action.Admit {
		n.logger.Info("inbound connection rejected", zap.String("peer", remote), zap.String("reason", decision.Reason()))
		n.snapshot.Update(func(c *dataType.Counters) { c.Rejected++ })
		n.snapshot.Logf("rejected %s: %s", remote, decision.Reason())
		_ = conn.Close()
		return
	}
	n.addPeer(conn, remote, true)
}

func (n *Node[M]) addPeer(conn net.Conn, key string, inbound bool) {
	if _, exists := n.peers[key]; exists {
		n.logger.Warn("already connected, dropping new connection", zap.String("peer", key))
		_ = conn.Close()
		return
	}
	opts := n.peerOpts
	opts.Inbound = inbound
	p := peer.New[M](conn, key, opts, n.inbound, n.dead, n.quit, n.logger)
	n.peerLoops.Add(1)
	go func() {
		<-p.Exited()
		n.peerLoops.Done()
	}()
	n.peers[key] = p
	n.publishPeers()
	n.snapshot.Update(func(c *dataType.Counters) { c.Admitted++ })
	n.snapshot.Logf("peer %s added", key)
	n.logger.Info("peer added", zap.String("peer", key), zap.Bool("inbound", inbound), zap.Int("peers", len(n.peers)))
}

func (n *Node[M]) evict(key, reason string) {
	p, ok := n.peers[key]
	if !ok {
		return
	}
	_ = p.Close()
	delete(n.peers, key)
	n.publishPeers()
	n.snapshot.Update(func(c *dataType.Counters) { c.Evictions++ })
	n.snapshot.Logf("peer %s evicted: %s", key, reason)
	n.logger.Warn("peer evicted", zap.String("peer", key), zap.String("reason", reason))
}

// evictIfCurrent ignores notices from peers that were already replaced or removed.
func (n *Node[M]) evictIfCurrent(p *peer.Peer[M], reason string) {
	if cur, ok := n.peers[p.Addr()]; ok && cur == p {
		n.evict(p.Addr(), reason)
	}
}

func (n *Node[M]) publishPeers() {
	keys := make([]string, 0, len(n.peers))
	for k := range n.peers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	n.snapshot.SetPeers(keys)
}

func (n *Node[M]) originate(msg M) {
	pkt := dataType.NewPacket(n.addr, dataType.Broadcast(dataType.NewAddrSet(n.addr), 0), dataType.MessagePayload(msg))
	n.seen.Add(pkt.ID)
	n.snapshot.Update(func(c *dataType.Counters) { c.Originated++ })
	n.snapshot.Logf("broadcasting %v", msg)
	n.logger.Info("broadcasting", zap.Stringer("id", pkt.ID), zap.Any("message", msg))
	n.flood(pkt)
}

func (n *Node[M]) handleInbound(in peer.Inbound[M]) {
	pkt := in.Packet
	// Remote seen sets are not trusted to be sorted.
	pkt.Op.Seen = dataType.NewAddrSet(pkt.Op.Seen...)

	if n.traffic != nil && n.traffic.Add(in.From, 1) > n.rateLimit {
		n.rateLimited(in.From)
		return
	}

	if pkt.Payload.Kind == dataType.PayloadHeartbeat {
		return
	}
	if n.seen.Contains(pkt.ID) {
		n.snapshot.Update(func(c *dataType.Counters) { c.Duplicates++ })
		return
	}
	n.seen.Add(pkt.ID)

	switch pkt.Op.Kind {
	case dataType.OpBroadcast:
		if pkt.Op.Seen.Contains(n.addr) {
			n.snapshot.Update(func(c *dataType.Counters) { c.Duplicates++ })
			return
		}
		if pkt.Payload.Kind != dataType.PayloadMessage {
			n.logger.Warn("unknown payload kind", zap.String("peer", in.From), zap.Stringer("kind", pkt.Payload.Kind))
			return
		}
		n.logger.Debug("got message", zap.Stringer("id", pkt.ID), zap.String("origin", pkt.Sender), zap.Uint16("hops", pkt.Op.Hops), zap.Any("message", pkt.Payload.Message))
		fwd := pkt.Forwarded(n.addr)
		n.deliver(Delivery[M]{Message: pkt.Payload.Message, Origin: pkt.Sender})
		n.flood(fwd)
	case dataType.OpDirected:
		// Reserved: no routing exists for directed packets yet.
		n.logger.Warn("directed packet dropped", zap.Stringer("id", pkt.ID), zap.String("target", pkt.Op.Target))
	default:
		n.logger.Warn("unknown operation", zap.String("peer", in.From), zap.Stringer("op", pkt.Op.Kind))
	}
}

func (n *Node[M]) deliver(d Delivery[M]) {
	select {
	case n.deliveries <- d:
		n.snapshot.Update(func(c *dataType.Counters) { c.Delivered++ })
		n.snapshot.Logf("got %v from %s", d.Message, d.Origin)
	default:
		n.snapshot.Update(func(c *dataType.Counters) { c.Dropped++ })
		n.logger.Warn("delivery channel full, message dropped", zap.String("origin", d.Origin))
	}
}

// flood sends pkt to every peer not already in its seen set and returns the
// per-peer send errors. A failure never stops the fan-out.
func (n *Node[M]) flood(pkt *dataType.Packet[M]) map[string]error {
	errs := make(map[string]error)
	var sent uint64
	for key, p := range n.peers {
		if pkt.Op.Seen.Contains(key) {
			continue
		}
		err := p.Send(pkt)
		failures := p.RecordSendResult(err)
		if err == nil {
			sent++
			continue
		}
		errs[key] = err
		if n.cfg.MaxSendFailures > 0 && failures >= n.cfg.MaxSendFailures {
			n.evict(key, fmt.Sprintf("%d consecutive send failures", failures))
		}
	}

	isMessage := pkt.Payload.Kind == dataType.PayloadMessage
	n.snapshot.Update(func(c *dataType.Counters) {
		if isMessage {
			c.Forwarded += sent
		}
		c.SendErrors += uint64(len(errs))
	})
	if len(errs) > 0 {
		var combined error
		for key, err := range errs {
			combined = multierr.Append(combined, fmt.Errorf("%s: %w", key, err))
		}
		n.logger.Warn("send failed", zap.Stringer("id", pkt.ID), zap.Int("failed", len(errs)), zap.Error(combined))
	}
	return errs
}

func (n *Node[M]) sendHeartbeats() {
	n.flood(dataType.NewPacket(n.addr, dataType.Broadcast(nil, 0), dataType.HeartbeatPayload[M]()))
}

func (n *Node[M]) rateLimited(key string) {
	n.snapshot.Update(func(c *dataType.Counters) { c.RateLimited++ })
	p, ok := n.peers[key]
	if !ok {
		return
	}
	n.traffic.Reset(key)
	// Only accepted connections carry the sender's own host. A dialed key
	// is the neighbor's listen address, which other nodes may share.
	if p.Inbound() && n.cfg.BanDuration > 0 {
		if host, err := action.HostOf(key); err == nil {
			n.bans.Ban(host, n.cfg.BanDuration)
		}
	}
	n.evict(key, "inbound rate limit exceeded")
}
