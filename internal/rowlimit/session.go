package rowlimit

import (
	"encoding/binary"
	"log"
	"sync"

	"github.com/pentve/rowcap/internal/mysqlproto"
)

// Phase is one state of the row-limit transducer's per-session state
// machine, driven entirely by server-to-client packet opcodes.
type Phase int

const (
	ExpectingResponse Phase = iota
	ExpectingFields
	ExpectingRows
	ExpectingNothing
	Ignoring
)

func (p Phase) String() string {
	switch p {
	case ExpectingResponse:
		return "ExpectingResponse"
	case ExpectingFields:
		return "ExpectingFields"
	case ExpectingRows:
		return "ExpectingRows"
	case ExpectingNothing:
		return "ExpectingNothing"
	case Ignoring:
		return "Ignoring"
	default:
		return "Phase(?)"
	}
}

// MySQL command-packet opcodes this filter resets state on.
const (
	comQuery       byte = 0x03
	comStmtExecute byte = 0x17
)

// Response packet opcode indicators.
const (
	opOK          byte = 0x00
	opErr         byte = 0xFF
	opLocalInfile byte = 0xFB
	opEOF         byte = 0xFE
)

// serverMoreResultsExist is the EOF status-flag bit signalling another
// result set follows in the same response.
const serverMoreResultsExist uint16 = 0x0008

// syntheticOK is the exact 11-byte OK packet substituted for a discarded
// result set: header (payload length 7, sequence 1), OK marker, zero
// affected-rows and last-insert-id leints, status flags 0x0002
// (SERVER_STATUS_AUTOCOMMIT), zero warnings.
var syntheticOK = []byte{0x07, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x02, 0x00, 0x00, 0x00}

// Session is the per-connection state for the row-limit transducer. It is
// safe for concurrent use: a relay built on two goroutines (one per
// direction) will call OnRequest and OnReply from different goroutines, so
// Session serializes its own mutation internally.
type Session struct {
	cfg Config

	mu            sync.Mutex
	phase         Phase
	pending       []byte
	cursor        int
	nTotalFields  uint64
	nFieldsSeen   uint64
	nRows         uint32
	inLargePacket bool
	discard       bool

	outcome      Outcome
	outcomeReady bool
}

// Outcome summarizes the decision finalize reached for the most recently
// completed result set: how many rows it saw, how many bytes the forwarded
// (or would-be forwarded) response occupied, and whether it was discarded in
// favor of the synthetic OK packet. It exists purely for callers that want to
// report on filter behavior (e.g. publishing an operational event) without
// threading that concern through the Filter interface itself.
type Outcome struct {
	Rows      uint32
	Bytes     int
	Discarded bool
}

// NewSession creates a session in ExpectingResponse phase with zeroed
// counters.
func NewSession(cfg Config) *Session {
	return &Session{cfg: cfg, phase: ExpectingResponse}
}

// reset restores the session to (ExpectingResponse, pending=nil, counters=0,
// discard=false), matching the lifecycle on every QUERY/STMT_EXECUTE client
// request. Callers must hold s.mu.
func (s *Session) reset() {
	s.phase = ExpectingResponse
	s.pending = nil
	s.cursor = 0
	s.nTotalFields = 0
	s.nFieldsSeen = 0
	s.nRows = 0
	s.inLargePacket = false
	s.discard = false
}

// OnRequest inspects the first opcode byte of a client request packet and
// updates session phase accordingly. The packet is always returned
// unmodified: this filter never alters the client-to-server direction.
func (s *Session) OnRequest(packet []byte) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	var opcode byte
	if len(packet) > mysqlproto.HeaderLen {
		opcode = packet[mysqlproto.HeaderLen]
	}
	switch opcode {
	case comQuery, comStmtExecute:
		s.reset()
	default:
		s.phase = Ignoring
		s.pending = nil
		s.cursor = 0
	}
	return packet
}

// OnReply appends chunk to the session's pending buffer, drives the state
// machine across as many complete framed packets as are available, and
// returns the bytes that should be forwarded to the client for whatever
// decisions were reached during this call. A nil, empty result means the
// transducer is still waiting for more bytes to complete a framed packet or
// a pending decision; that is not an error.
func (s *Session) OnReply(chunk []byte) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []byte

	if (s.phase == Ignoring || s.phase == ExpectingNothing) && len(s.pending) == 0 {
		// Pure pass-through: nothing buffered, nothing to decode. Data after
		// a finished response is a protocol anomaly, but still forwarded.
		if s.phase == ExpectingNothing && len(chunk) > 0 {
			log.Printf("rowlimit: %d bytes received after response completed, forwarding as-is", len(chunk))
		}
		return chunk
	}

	s.pending = append(s.pending, chunk...)

	if s.phase != Ignoring && !s.discard && len(s.pending) > int(s.cfg.MaxResultsetSize) {
		s.discard = true
		s.debugf(DebugDiscarding, "rowlimit: byte-size guard tripped, pending=%d max=%d", len(s.pending), s.cfg.MaxResultsetSize)
	}

dispatch:
	for {
		if s.phase == Ignoring || s.phase == ExpectingNothing {
			out = append(out, s.pending[s.cursor:]...)
			s.pending = nil
			s.cursor = 0
			break
		}

		hdr, payload, _, err := mysqlproto.SplitPacket(s.pending[s.cursor:])
		if err == mysqlproto.ErrNeedMore {
			break
		}
		if err != nil {
			out = append(out, s.forwardAllAndIgnore()...)
			break
		}
		packetLen := mysqlproto.HeaderLen + hdr.PayloadLen

		switch s.phase {
		case ExpectingResponse:
			opcode := firstByte(payload)
			switch {
			case opcode == opOK || opcode == opErr:
				s.cursor += packetLen
				out = append(out, s.finalize(ExpectingNothing, Ignoring)...)
			case opcode == opLocalInfile:
				s.cursor += packetLen
				out = append(out, s.forward(Ignoring)...)
			default:
				n, _, lerr := mysqlproto.LenEncInt(payload)
				if lerr != nil {
					out = append(out, s.forwardAllAndIgnore()...)
					break dispatch
				}
				s.nTotalFields = n
				s.nFieldsSeen = 0
				s.cursor += packetLen
				s.phase = ExpectingFields
			}

		case ExpectingFields:
			opcode := firstByte(payload)
			s.cursor += packetLen
			if opcode == opEOF {
				s.phase = ExpectingRows
			} else {
				s.nFieldsSeen++
				if s.nFieldsSeen > s.nTotalFields {
					out = append(out, s.forwardAllAndIgnore()...)
					break dispatch
				}
			}

		case ExpectingRows:
			if hdr.PayloadLen == mysqlproto.MaxPayloadLen {
				s.inLargePacket = true
				s.cursor += packetLen
				// The logical packet continues; its terminator frame is
				// still in flight.
				break dispatch
			}
			if s.inLargePacket {
				// Any non-maximum frame terminates the logical row,
				// whatever its size. Count the row once and do not
				// reinterpret its leading byte as an opcode; it is
				// mid-row data.
				s.inLargePacket = false
				s.cursor += packetLen
				s.bumpRows()
				continue
			}

			opcode := firstByte(payload)
			switch {
			case opcode == opErr:
				s.cursor += packetLen
				out = append(out, s.finalize(ExpectingNothing, ExpectingNothing)...)
			case opcode == opEOF && hdr.PayloadLen < 9:
				s.cursor += packetLen
				if len(payload) >= 5 && binary.LittleEndian.Uint16(payload[3:5])&serverMoreResultsExist != 0 {
					s.phase = ExpectingResponse
				} else {
					out = append(out, s.finalize(ExpectingNothing, ExpectingNothing)...)
				}
			default:
				s.cursor += packetLen
				s.bumpRows()
			}

		default:
			// Unreachable: Ignoring/ExpectingNothing handled above.
			break dispatch
		}
	}

	return out
}

// Close releases the session's buffered state. It is safe to call multiple
// times.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
	s.cursor = 0
}

func (s *Session) bumpRows() {
	s.nRows++
	if s.nRows > s.cfg.MaxResultsetRows {
		if !s.discard {
			s.debugf(DebugDiscarding, "rowlimit: row-count guard tripped, n_rows=%d max=%d", s.nRows, s.cfg.MaxResultsetRows)
		}
		s.discard = true
	}
}

// finalize closes out the current response (or result set, in the
// multi-result-set case), emitting either the accumulated buffer or the
// synthetic OK packet depending on discard, and moves to the given phase.
func (s *Session) finalize(phaseIfDiscard, phaseIfForward Phase) []byte {
	var emitted []byte
	if s.discard {
		s.debugf(DebugDecisions, "rowlimit: substituting synthetic OK for discarded result set")
		emitted = append(emitted, syntheticOK...)
		s.phase = phaseIfDiscard
	} else {
		emitted = append(emitted, s.pending[:s.cursor]...)
		s.phase = phaseIfForward
	}
	s.outcome = Outcome{Rows: s.nRows, Bytes: s.cursor, Discarded: s.discard}
	s.outcomeReady = true

	s.pending = s.pending[s.cursor:]
	s.cursor = 0
	s.nTotalFields = 0
	s.nFieldsSeen = 0
	s.nRows = 0
	s.inLargePacket = false
	s.discard = false
	return emitted
}

// TakeOutcome returns the Outcome recorded by the most recent finalize call
// and clears it, so a caller polling after every OnReply only ever observes
// each completed result set's outcome once. The second return is false if no
// outcome is pending (finalize hasn't run since the last TakeOutcome, or at
// all).
func (s *Session) TakeOutcome() (Outcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.outcomeReady {
		return Outcome{}, false
	}
	s.outcomeReady = false
	return s.outcome, true
}

// forward emits the buffered bytes unchanged (no discard decision applies,
// e.g. LOCAL INFILE requests) and moves to the given phase.
func (s *Session) forward(phase Phase) []byte {
	emitted := append([]byte(nil), s.pending[:s.cursor]...)
	s.phase = phase
	s.pending = s.pending[s.cursor:]
	s.cursor = 0
	return emitted
}

// forwardAllAndIgnore is the fallback for malformed input or a state-machine
// invariant violation: forward everything buffered so far and enter
// Ignoring until the next client request resets state.
func (s *Session) forwardAllAndIgnore() []byte {
	log.Printf("rowlimit: unexpected packet in phase %s, forwarding buffered bytes and ignoring until next request", s.phase)
	emitted := append([]byte(nil), s.pending...)
	s.phase = Ignoring
	s.pending = nil
	s.cursor = 0
	return emitted
}

func (s *Session) debugf(bit uint32, format string, args ...any) {
	if s.cfg.DebugFlags&bit != 0 {
		log.Printf(format, args...)
	}
}

func firstByte(payload []byte) byte {
	if len(payload) == 0 {
		return 0
	}
	return payload[0]
}
