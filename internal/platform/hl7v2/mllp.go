package hl7v2

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// MLLPStartBlock is the MLLP start-of-message byte (VT).
	MLLPStartBlock = 0x0B

	// MLLPEndBlock is the MLLP end-of-message byte (FS).
	MLLPEndBlock = 0x1C

	// MLLPCarriageReturn is the trailing CR after the end block.
	MLLPCarriageReturn = 0x0D

	mllpMaxMessageSize = 1 << 20
	mllpReadTimeout    = 30 * time.Second
	mllpWriteTimeout   = 10 * time.Second
)

// ACK codes written in MSA-1.
const (
	AckAccept = "AA"
	AckError  = "AE"
)

// FrameHandler processes every message carried by one MLLP frame. A nil
// return acknowledges them with AA; an error acknowledges them with AE and
// the error text.
type FrameHandler func(ctx context.Context, msgs []*Message) error

// MLLPServer listens for HL7v2 messages over MLLP/TCP.
type MLLPServer struct {
	addr     string
	handler  FrameHandler
	logger   zerolog.Logger
	listener net.Listener
	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewMLLPServer creates a server that will listen on addr and dispatch each
// received frame to handler.
func NewMLLPServer(addr string, handler FrameHandler, logger zerolog.Logger) *MLLPServer {
	return &MLLPServer{
		addr:    addr,
		handler: handler,
		logger:  logger.With().Str("component", "mllp").Logger(),
		conns:   make(map[net.Conn]struct{}),
		done:    make(chan struct{}),
	}
}

// Start begins listening. The accept loop runs in a background goroutine.
func (s *MLLPServer) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("mllp: failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop()
	}()
	return nil
}

// Stop closes the listener and every open connection, then waits for the
// connection goroutines to exit.
func (s *MLLPServer) Stop() error {
	close(s.done)

	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}

	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

// Addr returns the bound address, which differs from the configured one when
// listening on port 0.
func (s *MLLPServer) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

func (s *MLLPServer) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			s.logger.Error().Err(err).Msg("accept failed")
			return
		}

		s.trackConn(conn, true)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.trackConn(conn, false)
			defer conn.Close()
			s.handleConnection(conn)
		}()
	}
}

func (s *MLLPServer) trackConn(conn net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

func (s *MLLPServer) handleConnection(conn net.Conn) {
	buf := make([]byte, 0, 4096)
	readBuf := make([]byte, 4096)

	for {
		select {
		case <-s.done:
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(mllpReadTimeout))
		n, err := conn.Read(readBuf)
		if n > 0 {
			buf = append(buf, readBuf[:n]...)
			if len(buf) > mllpMaxMessageSize {
				s.logger.Warn().Str("remote", conn.RemoteAddr().String()).Msg("frame exceeds max size, closing connection")
				return
			}
			for {
				frame, rest, found := UnframeMessage(buf)
				if !found {
					break
				}
				buf = rest
				s.processFrame(conn, frame)
			}
		}

		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() && len(buf) > 0 {
				continue
			}
			return
		}
	}
}

// processFrame parses the messages in one frame, runs the handler and writes
// one ACK per message.
func (s *MLLPServer) processFrame(conn net.Conn, frame []byte) {
	msgs, err := ParseBatch(frame)
	if err != nil {
		s.logger.Warn().Err(err).Msg("discarding unparseable frame")
		return
	}

	code, text := AckAccept, ""
	if err := s.handler(context.Background(), msgs); err != nil {
		code, text = AckError, err.Error()
		s.logger.Warn().Err(err).Int("messages", len(msgs)).Msg("frame rejected")
	}

	var out []byte
	for _, msg := range msgs {
		out = append(out, FrameMessage(SerializeMessage(GenerateACK(msg, code, text)))...)
	}
	conn.SetWriteDeadline(time.Now().Add(mllpWriteTimeout))
	if _, err := conn.Write(out); err != nil {
		s.logger.Error().Err(err).Msg("ack write failed")
	}
}

// FrameMessage wraps raw HL7v2 bytes in MLLP framing:
//
//	<0x0B> + message + <0x1C><0x0D>
func FrameMessage(data []byte) []byte {
	frame := make([]byte, 0, len(data)+3)
	frame = append(frame, MLLPStartBlock)
	frame = append(frame, data...)
	frame = append(frame, MLLPEndBlock, MLLPCarriageReturn)
	return frame
}

// UnframeMessage extracts the first complete MLLP frame from data. It
// returns the payload, the bytes after the frame, and whether a complete
// frame was found.
func UnframeMessage(data []byte) (message []byte, rest []byte, found bool) {
	start := bytes.IndexByte(data, MLLPStartBlock)
	if start == -1 {
		return nil, data, false
	}
	end := bytes.Index(data[start+1:], []byte{MLLPEndBlock, MLLPCarriageReturn})
	if end == -1 {
		return nil, data, false
	}
	end += start + 1
	return data[start+1 : end], data[end+2:], true
}

// StripFraming returns the concatenated payloads of every MLLP frame in data,
// separated by \r. Data without a start block is returned unchanged.
func StripFraming(data []byte) []byte {
	if bytes.IndexByte(data, MLLPStartBlock) == -1 {
		return data
	}
	var payloads [][]byte
	for {
		msg, rest, found := UnframeMessage(data)
		if !found {
			break
		}
		payloads = append(payloads, msg)
		data = rest
	}
	return bytes.Join(payloads, []byte{'\r'})
}

// GenerateACK builds an ACK for incoming. ackCode is AA or AE; text, when
// set, is carried in MSA-3. Sender and receiver are swapped and MSA-2 echoes
// the original control ID.
func GenerateACK(incoming *Message, ackCode, text string) *Message {
	trigger := incoming.Trigger()

	now := time.Now().UTC()
	timestamp := now.Format("20060102150405")
	controlID := "ACK" + now.Format("20060102150405.000")

	ack := &Message{
		Type:         "ACK^" + trigger,
		ControlID:    controlID,
		Version:      incoming.Version,
		Timestamp:    now,
		SendingApp:   incoming.ReceivingApp,
		SendingFac:   incoming.ReceivingFac,
		ReceivingApp: incoming.SendingApp,
		ReceivingFac: incoming.SendingFac,
	}

	field := func(v string) Field { return Field{Value: v, Components: []string{v}} }
	msh := Segment{
		Name: "MSH",
		Fields: []Field{
			field("|"),
			field("^~\\&"),
			field(ack.SendingApp),
			field(ack.SendingFac),
			field(ack.ReceivingApp),
			field(ack.ReceivingFac),
			field(timestamp),
			field(""),
			{Value: ack.Type, Components: []string{"ACK", trigger}},
			field(controlID),
			field("P"),
			field(incoming.Version),
		},
	}
	msa := Segment{
		Name:   "MSA",
		Fields: []Field{field(ackCode), field(incoming.ControlID)},
	}
	if text != "" {
		msa.Fields = append(msa.Fields, field(escapeText(text)))
	}

	ack.Segments = []Segment{msh, msa}
	return ack
}

// escapeText keeps free text from breaking the segment structure.
func escapeText(s string) string {
	r := strings.NewReplacer(
		"\\", "\\E\\",
		"|", "\\F\\",
		"^", "\\S\\",
		"~", "\\R\\",
		"&", "\\T\\",
		"\r", " ",
		"\n", " ",
	)
	return r.Replace(s)
}

// SerializeMessage renders msg as raw HL7v2 with \r segment separators.
func SerializeMessage(msg *Message) []byte {
	segments := make([]string, 0, len(msg.Segments))
	for _, seg := range msg.Segments {
		segments = append(segments, serializeSegment(seg))
	}
	return []byte(strings.Join(segments, "\r"))
}

func serializeSegment(seg Segment) string {
	if seg.Name == "MSH" {
		if len(seg.Fields) < 2 {
			return "MSH|"
		}
		parts := make([]string, 0, len(seg.Fields)-1)
		for _, f := range seg.Fields[1:] {
			parts = append(parts, f.Value)
		}
		return "MSH|" + strings.Join(parts, "|")
	}

	parts := make([]string, len(seg.Fields))
	for i, f := range seg.Fields {
		parts[i] = f.Value
	}
	return seg.Name + "|" + strings.Join(parts, "|")
}
