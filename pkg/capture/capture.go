// Package capture implements the packet-capture engine: it owns the
// packet-source handle, demuxes link/IP/TCP layers down to a TCP payload,
// hands that payload to pkg/decoder, and publishes the resulting events to
// the shared pkg/queue.Queue feeding the stats collector.
//
// Shutdown is bounded by breaking the packet source's blocking read via
// Handle.Close(), the idiom this package models on a raw-socket capture
// loop that used a stopCh/done/sync.Once shutdown instead -- here the
// pcap handle's own breakloop facility plays that role.
package capture

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"github.com/sirupsen/logrus"

	"github.com/opsviz/mctop/pkg/decoder"
	"github.com/opsviz/mctop/pkg/lifecycle"
	"github.com/opsviz/mctop/pkg/queue"
)

const (
	snapLen = 65536
	promisc = true
	// readTimeout bounds how long a single ReadPacketData call can block,
	// so the capture loop periodically rechecks the lifecycle state even
	// on an idle interface.
	readTimeout = 200 * time.Millisecond

	// maxConsecutiveReadFailures escalates a string of transient read
	// errors (e.g. an unplugged NIC) into a fatal condition instead of
	// looping forever on a broken interface.
	maxConsecutiveReadFailures = 10
)

// Engine is the capture engine. One Engine owns exactly one pcap handle and
// one capture goroutine for the lifetime of a Start/Shutdown cycle.
type Engine struct {
	log           *logrus.Entry
	device        string
	serverPort    uint16
	countRequests bool
	q             *queue.Queue

	tracker   *lifecycle.Tracker
	wg        sync.WaitGroup
	handle    *pcap.Handle
	closeOnce sync.Once

	// fatal is closed by captureLoop when it exits on its own after
	// escalating repeated read failures, as opposed to exiting because
	// Shutdown was called. The controller selects on Fatal() to learn about
	// this and initiate teardown instead of waiting forever on a signal.
	fatal chan struct{}

	decodeFailures uint64
}

// New returns an Engine that will capture on device, recognizing serverPort
// as the memcache side of the connection, publishing decoded events to q.
func New(device string, serverPort uint16, countRequests bool, q *queue.Queue, log *logrus.Entry) *Engine {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Engine{
		log:           log.WithField("component", "capture"),
		device:        device,
		serverPort:    serverPort,
		countRequests: countRequests,
		q:             q,
		tracker:       lifecycle.NewTracker(),
		fatal:         make(chan struct{}),
	}
}

// Start opens the packet source, installs a kernel-side BPF prefilter, and
// spawns the capture goroutine. Source-open failure is fatal and is
// reported to the caller before Start returns; Start never transitions to
// Running in that case. Calling Start more than once is a no-op, logged as
// a warning.
func (e *Engine) Start() error {
	if e.tracker.Current() != lifecycle.New {
		e.log.Warn("capture: Start called more than once, ignoring")
		return nil
	}

	handle, err := pcap.OpenLive(e.device, snapLen, promisc, readTimeout)
	if err != nil {
		return fmt.Errorf("capture: opening %s: %w", e.device, err)
	}

	switch handle.LinkType() {
	case layers.LinkTypeEthernet, layers.LinkTypeLinuxSLL:
		// Supported. LinuxSLL ("cooked capture") is what you get capturing
		// on "any" rather than a specific NIC.
	default:
		handle.Close()
		return fmt.Errorf("capture: unsupported link type %v on %s", handle.LinkType(), e.device)
	}

	filter := fmt.Sprintf("tcp port %d", e.serverPort)
	if err := handle.SetBPFFilter(filter); err != nil {
		handle.Close()
		return fmt.Errorf("capture: installing bpf filter %q: %w", filter, err)
	}

	e.handle = handle
	if !e.tracker.CheckAndSet(lifecycle.New, lifecycle.Running) {
		handle.Close()
		return fmt.Errorf("capture: lifecycle state changed concurrently during Start")
	}

	e.wg.Add(1)
	go e.captureLoop()

	e.log.WithFields(logrus.Fields{"device": e.device, "filter": filter}).Info("capture started")
	return nil
}

// Shutdown requests the capture goroutine stop, breaks its blocking read,
// and joins it. Safe to call even if the goroutine already exited on its
// own (e.g. after escalating read failures). Calling Shutdown before Start
// is a no-op, logged as a warning.
func (e *Engine) Shutdown() {
	if e.tracker.Current() == lifecycle.New {
		e.log.Warn("capture: Shutdown called before Start, ignoring")
		return
	}
	if e.tracker.CheckAndSet(lifecycle.Running, lifecycle.Stopping) {
		e.closeHandle()
	}
	e.wg.Wait()
	e.tracker.CheckAndSet(lifecycle.Stopping, lifecycle.Terminated)
	e.log.Info("capture stopped")
}

// DecodeFailures returns the number of packets that failed to decode past
// the link/network/transport layers. Approximate; read without a lock.
func (e *Engine) DecodeFailures() uint64 {
	return e.decodeFailures
}

// Fatal returns a channel that is closed if the capture loop terminates on
// its own after escalating repeated packet-source read failures, rather
// than in response to Shutdown. A caller observing it closed should treat
// the engine's terminal state as fatal and drive shutdown of the rest of
// the pipeline instead of waiting on it to keep producing events.
func (e *Engine) Fatal() <-chan struct{} {
	return e.fatal
}

func (e *Engine) closeHandle() {
	e.closeOnce.Do(func() {
		if e.handle != nil {
			e.handle.Close()
		}
	})
}

// captureLoop pulls frames in a tight loop until shutdown, or until
// repeated read failures escalate to a fatal condition. The packet-source
// handle is released via closeHandle on every exit path, normal or fatal.
func (e *Engine) captureLoop() {
	defer e.wg.Done()
	defer e.closeHandle()

	var consecutiveReadFailures int
	for e.tracker.Current() == lifecycle.Running {
		data, ci, err := e.handle.ReadPacketData()
		if err != nil {
			if e.tracker.Current() != lifecycle.Running {
				// Shutdown called handle.Close(), which is what unblocked us.
				return
			}
			if err == pcap.NextErrorTimeoutExpired {
				continue
			}
			consecutiveReadFailures++
			e.log.WithError(err).Warn("capture: packet-source read failed")
			if consecutiveReadFailures >= maxConsecutiveReadFailures {
				e.log.WithError(err).Error("capture: too many consecutive read failures, stopping capture")
				e.tracker.CheckAndSet(lifecycle.Running, lifecycle.Stopping)
				close(e.fatal)
				return
			}
			continue
		}
		consecutiveReadFailures = 0
		e.handlePacket(data, ci)
	}
}

// handlePacket demuxes one captured frame down to its TCP payload and
// forwards it to the decoder. Decode failures (bad layer framing) are
// counted and logged at trace level only, never propagated: a single
// malformed packet must never interrupt capture.
func (e *Engine) handlePacket(data []byte, _ gopacket.CaptureInfo) {
	// NoCopy is safe here: pcap.Handle.ReadPacketData returns a freshly
	// allocated buffer per call, not a reused one.
	packet := gopacket.NewPacket(data, e.handle.LinkType(), gopacket.NoCopy)

	if errLayer := packet.ErrorLayer(); errLayer != nil {
		e.decodeFailures++
		e.log.WithError(errLayer.Error()).Trace("capture: decode failure")
		return
	}

	netLayer := packet.NetworkLayer()
	if netLayer == nil {
		return
	}
	if isFragmented(packet, netLayer) {
		// Reassembling fragmented datagrams is a non-goal.
		return
	}

	tcp, ok := packet.TransportLayer().(*layers.TCP)
	if !ok || tcp == nil {
		return
	}
	// tcp.Payload was sliced by gopacket's TCP decoder using the header's
	// data-offset field; zero-length payloads (pure ACKs etc.) carry no
	// protocol events.
	if len(tcp.Payload) == 0 {
		return
	}

	events := decoder.Decode(tcp.Payload, uint16(tcp.SrcPort), uint16(tcp.DstPort), e.serverPort, e.countRequests)
	for _, ev := range events {
		if !e.q.Produce(ev) {
			e.log.Trace("capture: event queue full, dropping event")
		}
	}
}

// isFragmented reports whether netLayer belongs to a fragmented datagram.
// IPv4 fragmentation is visible on the header itself; IPv6 fragmentation is
// carried in a separate extension header that gopacket surfaces as its own
// layer when present.
func isFragmented(packet gopacket.Packet, netLayer gopacket.NetworkLayer) bool {
	if ip4, ok := netLayer.(*layers.IPv4); ok {
		return ip4.FragOffset != 0 || ip4.Flags&layers.IPv4MoreFragments != 0
	}
	return packet.Layer(layers.LayerTypeIPv6Fragment) != nil
}
