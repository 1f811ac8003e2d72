// Package capture reads pcap and pcapng files and extracts the encrypted
// payload of every IPsec ESP packet.
package capture

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// ErrUnknownFormat is returned when the file starts with neither a pcap nor
// a pcapng magic number.
var ErrUnknownFormat = errors.New("capture: unknown capture file format")

// Format identifies the container format of a capture.
type Format int

const (
	FormatPcap Format = iota
	FormatPcapNG
)

func (f Format) String() string {
	if f == FormatPcapNG {
		return "pcapng"
	}
	return "pcap"
}

const pcapngMagic uint32 = 0x0A0D0D0A

var pcapMagics = map[uint32]bool{
	0xA1B2C3D4: true, // microseconds
	0xA1B23C4D: true, // nanoseconds
}

// Verdict tells what happened to one frame.
type Verdict int

const (
	Accepted Verdict = iota
	Filtered
	NoESP
	Empty
)

// String returns the metrics label of v.
func (v Verdict) String() string {
	switch v {
	case Accepted:
		return "accepted"
	case Filtered:
		return "filtered"
	case NoESP:
		return "no_esp"
	default:
		return "empty"
	}
}

// Packet is one ESP packet. Index counts every frame in the file from zero,
// including frames that were not ESP.
type Packet struct {
	Index     int
	Timestamp time.Time
	SrcIP     string
	DstIP     string
	SPI       uint32
	Seq       uint32
	Payload   []byte
}

// FlowKey identifies the security association a packet belongs to.
type FlowKey struct {
	SPI   uint32
	SrcIP string
	DstIP string
}

// Flow returns the packet's flow key.
func (p Packet) Flow() FlowKey {
	return FlowKey{SPI: p.SPI, SrcIP: p.SrcIP, DstIP: p.DstIP}
}

// String renders the key as "src -> dst spi=0x...".
func (k FlowKey) String() string {
	return fmt.Sprintf("%s -> %s spi=0x%08x", k.SrcIP, k.DstIP, k.SPI)
}

type packetSource interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// Stats counts frames by verdict.
type Stats struct {
	Frames   int
	Accepted int
	Filtered int
	NoESP    int
	Empty    int

	// Truncated is set when the capture ends in the middle of a frame.
	Truncated bool
}

// Reader iterates over the frames of a capture.
type Reader struct {
	src    packetSource
	format Format
	filter Filter
	index  int
	stats  Stats
	closer io.Closer
}

// NewReader detects the format of r from its magic number and prepares to
// read frames from it.
func NewReader(r io.Reader, filter Filter) (*Reader, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("capture: read magic: %w", err)
	}

	var (
		src    packetSource
		format Format
	)
	switch {
	case binary.BigEndian.Uint32(head) == pcapngMagic:
		format = FormatPcapNG
		src, err = pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	case pcapMagics[binary.BigEndian.Uint32(head)] || pcapMagics[binary.LittleEndian.Uint32(head)]:
		format = FormatPcap
		src, err = pcapgo.NewReader(br)
	default:
		return nil, fmt.Errorf("%w: magic %x", ErrUnknownFormat, head)
	}
	if err != nil {
		return nil, fmt.Errorf("capture: open %s: %w", format, err)
	}
	return &Reader{src: src, format: format, filter: filter}, nil
}

// Open opens the capture at path. Close releases the file.
func Open(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	r, err := NewReader(f, filter)
	if err != nil {
		if cerr := f.Close(); cerr != nil {
			log.Printf("capture: close %s: %v", path, cerr)
		}
		return nil, err
	}
	r.closer = f
	return r, nil
}

// Close closes the underlying file when the Reader was created by Open.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// Format returns the detected container format.
func (r *Reader) Format() Format {
	return r.format
}

// Stats returns the counters for the frames read so far.
func (r *Reader) Stats() Stats {
	return r.stats
}

// Next reads the next frame. The Packet is populated for every ESP frame,
// including filtered and empty ones; the verdict says whether it should be
// tested. At the end of the capture Next returns io.EOF.
func (r *Reader) Next() (Packet, Verdict, error) {
	data, ci, err := r.src.ReadPacketData()
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			if !r.stats.Truncated {
				log.Printf("capture: warning: capture truncated after %d frames: %v", r.stats.Frames, err)
			}
			r.stats.Truncated = true
			return Packet{}, NoESP, io.EOF
		}
		if errors.Is(err, io.EOF) {
			return Packet{}, NoESP, io.EOF
		}
		return Packet{}, NoESP, fmt.Errorf("capture: frame %d: %w", r.index, err)
	}

	pkt := Packet{Index: r.index, Timestamp: ci.Timestamp}
	r.index++
	r.stats.Frames++

	verdict := r.dissect(data, &pkt)
	switch verdict {
	case Accepted:
		r.stats.Accepted++
	case Filtered:
		r.stats.Filtered++
	case NoESP:
		r.stats.NoESP++
	default:
		r.stats.Empty++
	}
	return pkt, verdict, nil
}

func (r *Reader) dissect(data []byte, pkt *Packet) Verdict {
	decoded := gopacket.NewPacket(data, r.src.LinkType(), gopacket.DecodeOptions{Lazy: true, NoCopy: true})

	switch ip := decoded.NetworkLayer().(type) {
	case *layers.IPv4:
		pkt.SrcIP, pkt.DstIP = ip.SrcIP.String(), ip.DstIP.String()
	case *layers.IPv6:
		pkt.SrcIP, pkt.DstIP = ip.SrcIP.String(), ip.DstIP.String()
	default:
		return NoESP
	}

	esp, ok := decoded.Layer(layers.LayerTypeIPSecESP).(*layers.IPSecESP)
	if !ok {
		return NoESP
	}
	pkt.SPI = esp.SPI
	pkt.Seq = esp.Seq
	pkt.Payload = esp.Encrypted

	if !r.filter.Accept(pkt.SrcIP, pkt.DstIP) {
		return Filtered
	}
	if len(pkt.Payload) == 0 {
		return Empty
	}
	return Accepted
}
