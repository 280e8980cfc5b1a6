package netscen

import (
	"bytes"
	"errors"
	"io"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bassosimone/iotest"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func testFrame() *Frame {
	return &Frame{
		SrcMAC:  macFromIndex(0),
		DstMAC:  macFromIndex(2),
		Src:     netip.MustParseAddrPort("192.168.2.1:50000"),
		Dst:     netip.MustParseAddrPort("192.168.3.2:9"),
		TTL:     63,
		ID:      7,
		Payload: 1024,
	}
}

// bufferCloser collects what is written to it
type bufferCloser struct {
	bytes.Buffer
	closed bool
}

func (bc *bufferCloser) Close() error {
	bc.closed = true
	return nil
}

func TestEncodeFrameEthernet(t *testing.T) {
	data, err := EncodeFrame(Segment, testFrame())
	require.NoError(t, err)
	assert.Len(t, data, ethernetHeaderLen+ipv4HeaderLen+udpHeaderLen+1024)

	pkt := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.Default)
	eth, ok := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	require.True(t, ok)
	assert.Equal(t, "00:00:00:00:00:01", eth.SrcMAC.String())
	assert.Equal(t, "00:00:00:00:00:03", eth.DstMAC.String())

	ip, ok := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	require.True(t, ok)
	assert.Equal(t, "192.168.2.1", ip.SrcIP.String())
	assert.Equal(t, "192.168.3.2", ip.DstIP.String())
	assert.Equal(t, uint8(63), ip.TTL)
	assert.Equal(t, uint16(7), ip.Id)
	assert.Equal(t, uint16(ipv4HeaderLen+udpHeaderLen+1024), ip.Length)

	udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
	require.True(t, ok)
	assert.Equal(t, layers.UDPPort(50000), udp.SrcPort)
	assert.Equal(t, layers.UDPPort(9), udp.DstPort)
	assert.Len(t, udp.Payload, 1024)
}

func TestEncodeFramePPP(t *testing.T) {
	data, err := EncodeFrame(PointToPoint, testFrame())
	require.NoError(t, err)
	assert.Len(t, data, pppHeaderLen+ipv4HeaderLen+udpHeaderLen+1024)

	pkt := gopacket.NewPacket(data, layers.LayerTypePPP, gopacket.Default)
	require.NotNil(t, pkt.Layer(layers.LayerTypeIPv4))
	require.NotNil(t, pkt.Layer(layers.LayerTypeUDP))
}

func TestEncodeFrameRejectsIPv6(t *testing.T) {
	f := testFrame()
	f.Dst = netip.MustParseAddrPort("[fd00::1]:9")
	_, err := EncodeFrame(Segment, f)
	assert.Error(t, err)
}

func TestPcapTraceWritesVirtualTime(t *testing.T) {
	defer goleak.VerifyNone(t)

	wc := &bufferCloser{}
	trace := NewPcapTrace(wc, Segment, DefaultSnapLen)
	trace.Record(1500*time.Millisecond, testFrame())
	trace.Record(2*time.Second, testFrame())
	require.NoError(t, trace.Close())
	assert.True(t, wc.closed)
	assert.Equal(t, uint64(0), trace.Dropped())

	// a second close is a no-op
	require.NoError(t, trace.Close())

	r, err := pcapgo.NewReader(&wc.Buffer)
	require.NoError(t, err)
	assert.Equal(t, layers.LinkTypeEthernet, r.LinkType())

	data, ci, err := r.ReadPacketData()
	require.NoError(t, err)
	assert.True(t, pcapEpoch.Add(1500*time.Millisecond).Equal(ci.Timestamp))
	assert.Equal(t, len(data), ci.Length)

	_, ci, err = r.ReadPacketData()
	require.NoError(t, err)
	assert.True(t, pcapEpoch.Add(2*time.Second).Equal(ci.Timestamp))

	_, _, err = r.ReadPacketData()
	assert.ErrorIs(t, err, io.EOF)
}

func TestPcapTraceSnapLen(t *testing.T) {
	defer goleak.VerifyNone(t)

	wc := &bufferCloser{}
	trace := NewPcapTrace(wc, PointToPoint, 64)
	trace.Record(0, testFrame())
	require.NoError(t, trace.Close())

	r, err := pcapgo.NewReader(&wc.Buffer)
	require.NoError(t, err)
	assert.Equal(t, layers.LinkTypePPP, r.LinkType())
	data, ci, err := r.ReadPacketData()
	require.NoError(t, err)
	assert.Len(t, data, 64)
	assert.Equal(t, pppHeaderLen+ipv4HeaderLen+udpHeaderLen+1024, ci.Length)
}

func TestPcapTraceCloseHeaderWriteError(t *testing.T) {
	defer goleak.VerifyNone(t)

	writeErr := errors.New("mocked write error")
	closeErr := errors.New("mocked close error")
	wc := &iotest.FuncWriteCloser{
		WriteFunc: func([]byte) (int, error) {
			return 0, writeErr
		},
		CloseFunc: func() error {
			return closeErr
		},
	}
	trace := NewPcapTrace(wc, Segment, DefaultSnapLen)
	err := trace.Close()
	require.Error(t, err)
	assert.True(t, errors.Is(err, writeErr))
	assert.True(t, errors.Is(err, closeErr))
}

func TestPcapTraceDroppedWhenBufferFull(t *testing.T) {
	defer goleak.VerifyNone(t)

	gate := make(chan struct{})
	wc := &iotest.FuncWriteCloser{
		WriteFunc: func(b []byte) (int, error) {
			<-gate
			return len(b), nil
		},
		CloseFunc: func() error {
			return nil
		},
	}
	trace := NewPcapTrace(wc, Segment, DefaultSnapLen, PcapTraceOptionBuffer(1), PcapTraceOptionDropWhenFull())
	trace.Dump(0, []byte{0x00})
	trace.Dump(0, []byte{0x01})
	assert.Equal(t, uint64(1), trace.Dropped())
	close(gate)
	require.NoError(t, trace.Close())
}

func TestPcapTraceWriterFailureDoesNotBlock(t *testing.T) {
	defer goleak.VerifyNone(t)

	// the header goes through, the first packet fails
	writeErr := errors.New("mocked write error")
	var countWrites atomic.Uint32
	wc := &iotest.FuncWriteCloser{
		WriteFunc: func(b []byte) (int, error) {
			if countWrites.Add(1) == 1 {
				return len(b), nil
			}
			return 0, writeErr
		},
		CloseFunc: func() error {
			return nil
		},
	}
	trace := NewPcapTrace(wc, Segment, DefaultSnapLen, PcapTraceOptionBuffer(1))

	// once the writer gives up these must not wait forever
	for range 8 {
		trace.Record(0, testFrame())
	}
	err := trace.Close()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), writeErr.Error()))
	assert.Greater(t, trace.Dropped(), uint64(0))
}

func TestPcapSinkFiles(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	sink := NewPcapSink(dir)
	topo := referenceTopology(t)

	rec, err := sink.AttachTrace(topo.SegmentA(), SegmentAPrefix)
	require.NoError(t, err)
	rec.Record(time.Second, testFrame())
	require.NoError(t, rec.Close())

	name := filepath.Join(dir, "lan_1-segment-a.pcap")
	assert.Equal(t, []string{name}, sink.Files())
	fp, err := os.Open(name)
	require.NoError(t, err)
	defer fp.Close()
	r, err := pcapgo.NewReader(fp)
	require.NoError(t, err)
	_, _, err = r.ReadPacketData()
	require.NoError(t, err)
}

func TestPcapSinkRejects(t *testing.T) {
	sink := NewPcapSink(t.TempDir())
	link := referenceTopology(t).SegmentB()

	for _, prefix := range []string{"", "a/b", `a\b`} {
		_, err := sink.AttachTrace(link, prefix)
		assert.Error(t, err, prefix)
	}

	createErr := errors.New("mocked create error")
	sink.Create = func(string) (io.WriteCloser, error) { return nil, createErr }
	_, err := sink.AttachTrace(link, SegmentBPrefix)
	assert.ErrorIs(t, err, createErr)
	assert.Empty(t, sink.Files())
}
