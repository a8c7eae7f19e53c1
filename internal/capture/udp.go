package capture

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image/jpeg"
	"net"
	"sync/atomic"
	"time"

	"github.com/asenyeroao-ct/Eventuri-MAKCU-LatencyScope/internal/frame"
	"github.com/asenyeroao-ct/Eventuri-MAKCU-LatencyScope/internal/logger"
)

// Datagram layout of the Motion-JPEG stream: an 8-byte header followed by a
// JPEG slice. Frames larger than one datagram are split into chunks that
// share a frame id.
//
//	offset 0: magic "LSMJ"
//	offset 4: frame id, uint16 big-endian (wraps)
//	offset 6: chunk index, uint8
//	offset 7: chunk count, uint8
const (
	udpHeaderSize    = 8
	udpMaxChunks     = 255
	udpReadBufferLen = 65535
)

var udpMagic = []byte("LSMJ")

// UDPSource receives a chunked Motion-JPEG stream over UDP and decodes it
// into RGB frames. Frames arrive already demultiplexed; this adapter only
// reassembles, decodes and timestamps them.
type UDPSource struct {
	addr    string
	conn    *net.UDPConn
	mailbox Mailbox
	closed  atomic.Bool

	badFrames atomic.Uint64
}

// NewUDPSource creates a source listening on ip:port.
func NewUDPSource(ip string, port int) *UDPSource {
	return &UDPSource{addr: fmt.Sprintf("%s:%d", ip, port)}
}

// Name implements Source.
func (s *UDPSource) Name() string { return "udp-mjpeg" }

// Start binds the socket and launches the receive loop.
func (s *UDPSource) Start() error {
	udpAddr, err := net.ResolveUDPAddr("udp", s.addr)
	if err != nil {
		return fmt.Errorf("%w: resolve %s: %v", ErrSourceUnavailable, s.addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("%w: listen %s: %v", ErrSourceUnavailable, s.addr, err)
	}
	if err := conn.SetReadBuffer(4 << 20); err != nil {
		logger.WithComponent("udp-source").Warn().Err(err).Msg("Failed to grow socket read buffer")
	}
	s.conn = conn

	logger.WithComponent("udp-source").Info().
		Str("addr", s.addr).
		Msg("UDP MJPEG source listening")

	go s.receiveLoop()
	return nil
}

// receiveLoop reassembles datagrams into JPEG frames, decodes them and
// deposits the result in the mailbox. Runs until the socket closes.
func (s *UDPSource) receiveLoop() {
	log := logger.WithComponent("udp-source")
	asm := newAssembler()
	buf := make([]byte, udpReadBufferLen)

	for {
		n, _, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			// Socket closed (shutdown) or a fatal transport error;
			// either way the source is done.
			s.closed.Store(true)
			log.Info().Err(err).Msg("UDP receive loop ended")
			return
		}
		arrival := time.Now()

		payload, ok := asm.feed(buf[:n])
		if !ok {
			continue
		}

		f, err := decodeJPEGFrame(payload, arrival)
		if err != nil {
			s.badFrames.Add(1)
			log.Debug().Err(err).Msg("Dropping undecodable frame")
			continue
		}
		s.mailbox.Put(f)
	}
}

// NextFrame implements Source.
func (s *UDPSource) NextFrame() (*frame.Frame, error) {
	if f := s.mailbox.Take(); f != nil {
		return f, nil
	}
	if s.closed.Load() {
		return nil, ErrSourceClosed
	}
	return nil, ErrNoFrame
}

// Stop closes the socket, which terminates the receive loop promptly.
func (s *UDPSource) Stop() error {
	s.closed.Store(true)
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// Drops returns how many assembled frames were overwritten unconsumed.
func (s *UDPSource) Drops() uint64 { return s.mailbox.Drops() }

// assembler reassembles chunked datagrams into complete JPEG payloads.
// Chunks of an older frame are discarded as soon as a newer frame id shows
// up; incomplete frames are never delivered.
type assembler struct {
	frameID  uint16
	active   bool
	chunks   [][]byte
	received int
}

func newAssembler() *assembler {
	return &assembler{}
}

// feed consumes one datagram and returns a complete JPEG payload when the
// final missing chunk of the current frame arrives.
func (a *assembler) feed(dgram []byte) ([]byte, bool) {
	if len(dgram) <= udpHeaderSize || !bytes.Equal(dgram[:4], udpMagic) {
		return nil, false
	}
	frameID := binary.BigEndian.Uint16(dgram[4:6])
	index := int(dgram[6])
	count := int(dgram[7])
	if count == 0 || count > udpMaxChunks || index >= count {
		return nil, false
	}

	if !a.active || frameID != a.frameID || count != len(a.chunks) {
		// New frame id: whatever was pending is stale.
		a.frameID = frameID
		a.active = true
		a.chunks = make([][]byte, count)
		a.received = 0
	}

	if a.chunks[index] == nil {
		a.received++
	}
	chunk := make([]byte, len(dgram)-udpHeaderSize)
	copy(chunk, dgram[udpHeaderSize:])
	a.chunks[index] = chunk

	if a.received < len(a.chunks) {
		return nil, false
	}

	payload := bytes.Join(a.chunks, nil)
	a.active = false
	a.chunks = nil
	return payload, true
}

// decodeJPEGFrame decodes a JPEG payload into an RGB24 frame stamped with
// the arrival time of its last datagram.
func decodeJPEGFrame(payload []byte, arrival time.Time) (*frame.Frame, error) {
	img, err := jpeg.Decode(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("jpeg decode: %w", err)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	data := make([]byte, w*h*3)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			i := (y*w + x) * 3
			data[i] = uint8(r >> 8)
			data[i+1] = uint8(g >> 8)
			data[i+2] = uint8(b >> 8)
		}
	}

	return &frame.Frame{
		Data:      data,
		Width:     w,
		Height:    h,
		Stride:    w * 3,
		Format:    frame.RGB24,
		Timestamp: arrival,
	}, nil
}
