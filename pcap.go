package netscen

// pcap.go is the default TraceSink: one pcap file per bound link, written by a
// background goroutine so the event loop never waits on disk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// DefaultSnapLen captures whole frames of the largest payload allowed
const DefaultSnapLen uint16 = 65535

// pcapEpoch is the wall-clock instant virtual time zero is written as
var pcapEpoch = time.Unix(0, 0).UTC()

// LinkTypeOf returns the pcap link type frames of a link are written with
func LinkTypeOf(kind LinkKind) layers.LinkType {
	if kind == PointToPoint {
		return layers.LinkTypePPP
	}
	return layers.LinkTypeEthernet
}

// EncodeFrame serializes f as it appears on a link of the given kind:
// Ethernet II for segments, PPP for point-to-point links, IPv4 and UDP inside
func EncodeFrame(kind LinkKind, f *Frame) ([]byte, error) {
	if !f.Src.Addr().Is4() || !f.Dst.Addr().Is4() {
		return nil, fmt.Errorf("frame addresses %s -> %s are not IPv4", f.Src, f.Dst)
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      f.TTL,
		Id:       f.ID,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    f.Src.Addr().AsSlice(),
		DstIP:    f.Dst.Addr().AsSlice(),
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(f.Src.Port()),
		DstPort: layers.UDPPort(f.Dst.Port()),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}

	var link gopacket.SerializableLayer
	if kind == PointToPoint {
		link = &layers.PPP{PPPType: layers.PPPTypeIPv4}
	} else {
		link = &layers.Ethernet{SrcMAC: f.SrcMAC, DstMAC: f.DstMAC, EthernetType: layers.EthernetTypeIPv4}
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	payload := gopacket.Payload(make([]byte, f.Payload))
	if err := gopacket.SerializeLayers(buf, opts, link, ip, udp, payload); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// pcapSnapshot is a packet snapshot.
type pcapSnapshot struct {
	// at is the virtual time the packet was seen.
	at time.Duration

	// data is the data inside the snapshot.
	data []byte

	// length is the original length.
	length int
}

// PcapTraceOption configures a PcapTrace.
type PcapTraceOption func(tr *PcapTrace)

// PcapTraceOptionBuffer sets how many packets may wait for the writer.
func PcapTraceOptionBuffer(count int) PcapTraceOption {
	return func(tr *PcapTrace) {
		tr.snaps = make(chan pcapSnapshot, count)
	}
}

// PcapTraceOptionDropWhenFull drops packets instead of waiting when the buffer is full.
func PcapTraceOptionDropWhenFull() PcapTraceOption {
	return func(tr *PcapTrace) {
		tr.dropWhenFull = true
	}
}

// PcapTrace is an open pcap trace of one link.
type PcapTrace struct {
	// cancel allows to cancel the background goroutine.
	cancel context.CancelFunc

	// done is closed when the background goroutine returns.
	done chan struct{}

	// dropped is the number of packets dropped.
	dropped atomic.Uint64

	// dropWhenFull selects dropping over waiting on a full buffer.
	dropWhenFull bool

	// errch contains the error returned by the background goroutine.
	errch chan error

	// kind is the medium of the traced link.
	kind LinkKind

	// snaps contains the pending snapshots.
	snaps chan pcapSnapshot

	// once provides "once" semantics for Close.
	once sync.Once

	// snapSize is the number of bytes to capture.
	snapSize uint16

	// wc is the open writer we're using.
	wc io.WriteCloser
}

// NewPcapTrace creates a new [*PcapTrace] writing frames of a kind link to wc.
func NewPcapTrace(wc io.WriteCloser, kind LinkKind, snapSize uint16, options ...PcapTraceOption) *PcapTrace {
	// Initialize the trace struct
	ctx, cancel := context.WithCancel(context.Background())
	const manyPackets = 4096
	tr := &PcapTrace{
		cancel:   cancel,
		done:     make(chan struct{}),
		errch:    make(chan error, 1),
		kind:     kind,
		snaps:    make(chan pcapSnapshot, manyPackets),
		snapSize: snapSize,
		wc:       wc,
	}
	for _, option := range options {
		option(tr)
	}

	// Start the worker and return
	go tr.saveLoop(ctx)
	return tr
}

// Record encodes f and queues it with virtual timestamp at.
func (tr *PcapTrace) Record(at time.Duration, f *Frame) {
	packet, err := EncodeFrame(tr.kind, f)
	if err != nil {
		tr.dropped.Add(1)
		return
	}
	tr.Dump(at, packet)
}

// Dump queues the given raw frame with virtual timestamp at.
func (tr *PcapTrace) Dump(at time.Duration, packet []byte) {
	snapSize := min(len(packet), int(tr.snapSize))
	packetSnap := make([]byte, snapSize)
	copy(packetSnap, packet)
	snap := pcapSnapshot{at: at, length: len(packet), data: packetSnap}

	if tr.dropWhenFull {
		select {
		case tr.snaps <- snap:
		default:
			tr.dropped.Add(1)
		}
		return
	}

	// a writer that gave up will never drain the buffer
	select {
	case tr.snaps <- snap:
	case <-tr.done:
		tr.dropped.Add(1)
	}
}

// Dropped returns the number of packets dropped.
//
// Packets are dropped when they cannot be encoded, when the writer has failed,
// or, with PcapTraceOptionDropWhenFull, when the internal buffer is full.
func (tr *PcapTrace) Dropped() uint64 {
	return tr.dropped.Load()
}

// saveLoop is the loop that dumps packets
func (tr *PcapTrace) saveLoop(ctx context.Context) {
	defer close(tr.done)

	// Write the PCAP header
	w := pcapgo.NewWriter(tr.wc)
	if err := w.WriteFileHeader(uint32(tr.snapSize), LinkTypeOf(tr.kind)); err != nil {
		tr.errch <- err
		return
	}

	// Loop until we're done and write each entry.
	//
	// Make sure we drain the buffer on exit.
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case snap := <-tr.snaps:
					if err := tr.savePacket(w, snap); err != nil {
						tr.errch <- err
						return
					}
				default:
					tr.errch <- nil
					return
				}
			}

		case snap := <-tr.snaps:
			if err := tr.savePacket(w, snap); err != nil {
				tr.errch <- err
				return
			}
		}
	}
}

func (tr *PcapTrace) savePacket(w *pcapgo.Writer, pinfo pcapSnapshot) error {
	ci := gopacket.CaptureInfo{
		Timestamp:      pcapEpoch.Add(pinfo.at),
		CaptureLength:  len(pinfo.data),
		Length:         pinfo.length,
		InterfaceIndex: 0,
	}
	return w.WritePacket(ci, pinfo.data)
}

// Close interrupts the background goroutine and waits for it to join
// before closing the packet capture file.
func (tr *PcapTrace) Close() (err error) {
	tr.once.Do(func() {
		// notify the background goroutine to terminate
		tr.cancel()

		// wait for the goroutine to terminate
		err1 := <-tr.errch

		// close the open capture file
		err2 := tr.wc.Close()

		// assemble a common error (nil on success)
		err = errors.Join(err1, err2)
	})
	return
}

// PcapSink writes each bound link to <Dir>/<prefix>-<link>.pcap
type PcapSink struct {
	Dir     string
	SnapLen uint16

	// Create opens the named file, os.Create when nil
	Create func(name string) (io.WriteCloser, error)

	files []string
}

// NewPcapSink is a constructor
func NewPcapSink(dir string) *PcapSink {
	return &PcapSink{Dir: dir, SnapLen: DefaultSnapLen}
}

// FileName returns the file a link traced under prefix is written to
func (ps *PcapSink) FileName(link *Link, prefix string) string {
	return filepath.Join(ps.Dir, prefix+"-"+link.Name+".pcap")
}

// AttachTrace opens the capture file of link and starts its writer
func (ps *PcapSink) AttachTrace(link *Link, prefix string) (FrameRecorder, error) {
	if prefix == "" || strings.ContainsAny(prefix, `/\`) {
		return nil, fmt.Errorf("capture prefix %q is empty or contains a path separator", prefix)
	}
	name := ps.FileName(link, prefix)

	create := ps.Create
	if create == nil {
		create = func(name string) (io.WriteCloser, error) { return os.Create(name) }
	}
	wc, err := create(name)
	if err != nil {
		return nil, err
	}

	snapLen := ps.SnapLen
	if snapLen == 0 {
		snapLen = DefaultSnapLen
	}
	ps.files = append(ps.files, name)
	return NewPcapTrace(wc, link.Kind, snapLen), nil
}

// Files returns the names of the files opened so far, in attach order
func (ps *PcapSink) Files() []string {
	return ps.files
}
