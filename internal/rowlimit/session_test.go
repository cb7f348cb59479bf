package rowlimit

import (
	"bytes"
	"testing"

	"github.com/pentve/rowcap/internal/mysqlproto"
)

func packet(seq byte, payload []byte) []byte {
	n := len(payload)
	return append([]byte{byte(n), byte(n >> 8), byte(n >> 16), seq}, payload...)
}

func colDefPacket(seq byte) []byte {
	return packet(seq, []byte{0x03, 'd', 'e', 'f'})
}

func eofPacket(seq byte, statusFlags uint16) []byte {
	return packet(seq, []byte{opEOF, 0x00, 0x00, byte(statusFlags), byte(statusFlags >> 8)})
}

func rowPacket(seq byte, n int) []byte {
	payload := make([]byte, n)
	for i := range payload {
		payload[i] = 'x'
	}
	// Avoid an accidental opErr/opEOF/opLocalInfile marker as first byte.
	payload[0] = 'r'
	return packet(seq, payload)
}

// resultSet builds a complete SELECT response: column-count leint, nCols
// column-definition packets, EOF, nRows row packets of rowSize bytes each,
// a final EOF (carrying statusFlags), all sequenced starting at seq.
func resultSet(seq byte, nCols, nRows, rowSize int, statusFlags uint16) []byte {
	var buf bytes.Buffer
	buf.Write(packet(seq, []byte{byte(nCols)}))
	seq++
	for i := 0; i < nCols; i++ {
		buf.Write(colDefPacket(seq))
		seq++
	}
	buf.Write(eofPacket(seq, 0))
	seq++
	for i := 0; i < nRows; i++ {
		buf.Write(rowPacket(seq, rowSize))
		seq++
	}
	buf.Write(eofPacket(seq, statusFlags))
	return buf.Bytes()
}

func okPacket(seq byte) []byte {
	return packet(seq, []byte{opOK, 0x00, 0x00, 0x02, 0x00, 0x00, 0x00})
}

func newTestSession(maxRows, maxSize uint32) *Session {
	return NewSession(Config{MaxResultsetRows: maxRows, MaxResultsetSize: maxSize})
}

func selectQuery() []byte {
	return packet(0, append([]byte{comQuery}, []byte("SELECT 1")...))
}

func TestForwardsUnderLimitResultSet(t *testing.T) {
	s := newTestSession(10, 1<<20)
	s.OnRequest(selectQuery())

	resp := resultSet(1, 2, 3, 8, 0)
	out := s.OnReply(resp)

	if !bytes.Equal(out, resp) {
		t.Errorf("expected full result set forwarded unchanged, got %d bytes vs %d", len(out), len(resp))
	}
	oc, ok := s.TakeOutcome()
	if !ok {
		t.Fatal("expected an outcome to be ready")
	}
	if oc.Discarded {
		t.Error("expected Discarded=false for under-limit result set")
	}
	if oc.Rows != 3 {
		t.Errorf("Rows = %d, want 3", oc.Rows)
	}
}

func TestDiscardsOverRowLimit(t *testing.T) {
	s := newTestSession(2, 1<<20)
	s.OnRequest(selectQuery())

	resp := resultSet(1, 1, 3, 8, 0)
	out := s.OnReply(resp)

	if !bytes.Equal(out, syntheticOK) {
		t.Errorf("expected synthetic OK, got %x", out)
	}
	oc, ok := s.TakeOutcome()
	if !ok || !oc.Discarded {
		t.Errorf("expected Discarded=true outcome, got %+v ok=%v", oc, ok)
	}
	if oc.Rows != 3 {
		t.Errorf("Rows = %d, want 3", oc.Rows)
	}
}

func TestExactlyMaxRowsIsForwarded(t *testing.T) {
	s := newTestSession(3, 1<<20)
	s.OnRequest(selectQuery())

	resp := resultSet(1, 1, 3, 8, 0)
	out := s.OnReply(resp)

	if !bytes.Equal(out, resp) {
		t.Error("expected exactly max rows to be forwarded, not discarded")
	}
	oc, _ := s.TakeOutcome()
	if oc.Discarded {
		t.Error("exactly MaxResultsetRows rows must not trigger discard (strict greater-than)")
	}
}

func TestDiscardsOverByteLimit(t *testing.T) {
	s := newTestSession(100, 40)
	s.OnRequest(selectQuery())

	resp := resultSet(1, 1, 2, 30, 0)
	out := s.OnReply(resp)

	if !bytes.Equal(out, syntheticOK) {
		t.Errorf("expected synthetic OK for byte-limit discard, got %x", out)
	}
	oc, _ := s.TakeOutcome()
	if !oc.Discarded {
		t.Error("expected Discarded=true for over-byte-limit result set")
	}
}

func TestEmptyResultSetForwarded(t *testing.T) {
	s := newTestSession(10, 1<<20)
	s.OnRequest(selectQuery())

	resp := resultSet(1, 1, 0, 8, 0)
	out := s.OnReply(resp)

	if !bytes.Equal(out, resp) {
		t.Error("expected empty result set forwarded unchanged")
	}
	oc, _ := s.TakeOutcome()
	if oc.Rows != 0 || oc.Discarded {
		t.Errorf("outcome = %+v, want zero rows, not discarded", oc)
	}
}

func TestMultiResultSetOnlyFinalizesAtLast(t *testing.T) {
	s := newTestSession(10, 1<<20)
	s.OnRequest(selectQuery())

	first := resultSet(1, 1, 1, 8, serverMoreResultsExist)
	out := s.OnReply(first)
	if len(out) != 0 {
		t.Errorf("expected no output after a non-final result set, got %d bytes", len(out))
	}
	if _, ok := s.TakeOutcome(); ok {
		t.Error("expected no outcome before the final result set in a multi-result-set response")
	}

	second := resultSet(first[len(first)-1]+1, 1, 2, 8, 0)
	out = s.OnReply(second)
	want := append(append([]byte{}, first...), second...)
	if !bytes.Equal(out, want) {
		t.Error("expected both result sets forwarded once the final one completes")
	}
	oc, ok := s.TakeOutcome()
	if !ok {
		t.Fatal("expected outcome after final result set")
	}
	// Row counting is not reset between result sets within one multi-result
	// response: the limit applies to the response as a whole, only reset by
	// the next client request.
	if oc.Rows != 3 {
		t.Errorf("Rows = %d, want 3 (cumulative across both result sets)", oc.Rows)
	}
}

func TestByteAtATimeDeliveryMatchesOneShot(t *testing.T) {
	resp := resultSet(1, 2, 4, 12, 0)

	oneShot := newTestSession(10, 1<<20)
	oneShot.OnRequest(selectQuery())
	wantOut := oneShot.OnReply(resp)

	trickle := newTestSession(10, 1<<20)
	trickle.OnRequest(selectQuery())
	var gotOut []byte
	for i := range resp {
		gotOut = append(gotOut, trickle.OnReply(resp[i:i+1])...)
	}
	if !bytes.Equal(gotOut, wantOut) {
		t.Errorf("byte-at-a-time delivery produced different output than one-shot delivery")
	}
}

func TestLargeRowSpanningTwoFramesCountsAsOneRow(t *testing.T) {
	s := newTestSession(10, ^uint32(0))
	s.OnRequest(selectQuery())

	var buf bytes.Buffer
	buf.Write(packet(1, []byte{0x01}))
	buf.Write(colDefPacket(2))
	buf.Write(eofPacket(3, 0))

	first := make([]byte, mysqlproto.MaxPayloadLen)
	first[0] = 'r'
	buf.Write(packet(4, first))

	var tail bytes.Buffer
	tail.Write(packet(5, []byte{'r', 'e', 's', 't'}))
	tail.Write(eofPacket(6, 0))

	// The large packet's terminator is only guaranteed to arrive in a
	// subsequent chunk, so the transducer must stop processing once it
	// sees the MaxPayloadLen-sized fragment rather than assume the
	// terminator is already buffered.
	out := s.OnReply(buf.Bytes())
	if len(out) != 0 {
		t.Errorf("expected no output before the large packet's terminator arrives, got %d bytes", len(out))
	}
	out = append(out, s.OnReply(tail.Bytes())...)

	want := append(append([]byte{}, buf.Bytes()...), tail.Bytes()...)
	if !bytes.Equal(out, want) {
		t.Error("expected large spanning row forwarded unchanged")
	}
	oc, ok := s.TakeOutcome()
	if !ok {
		t.Fatal("expected an outcome")
	}
	if oc.Rows != 1 {
		t.Errorf("Rows = %d, want 1 (split across two frames)", oc.Rows)
	}
}

func TestLargeRowWithWideTerminatorCountsAsOneRow(t *testing.T) {
	s := newTestSession(10, ^uint32(0))
	s.OnRequest(selectQuery())

	var buf bytes.Buffer
	buf.Write(packet(1, []byte{0x01}))
	buf.Write(colDefPacket(2))
	buf.Write(eofPacket(3, 0))

	first := make([]byte, mysqlproto.MaxPayloadLen)
	first[0] = 'r'
	buf.Write(packet(4, first))

	// Terminator fragment carrying the row's remaining 50 bytes: larger
	// than an EOF packet, so it must still clear the continuation state
	// or the real EOF that follows is swallowed as another row.
	tail := rowPacket(5, 50)

	out := s.OnReply(buf.Bytes())
	out = append(out, s.OnReply(tail)...)
	if len(out) != 0 {
		t.Errorf("expected no output before the terminating EOF, got %d bytes", len(out))
	}

	final := eofPacket(6, 0)
	out = append(out, s.OnReply(final)...)

	want := append(append([]byte{}, buf.Bytes()...), tail...)
	want = append(want, final...)
	if !bytes.Equal(out, want) {
		t.Error("expected large spanning row and terminating EOF forwarded unchanged")
	}
	oc, ok := s.TakeOutcome()
	if !ok {
		t.Fatal("expected the terminating EOF to finalize the response")
	}
	if oc.Rows != 1 {
		t.Errorf("Rows = %d, want 1 (one logical row split across two frames)", oc.Rows)
	}
	if oc.Discarded {
		t.Error("expected Discarded=false")
	}
}

func TestOKResponseIsNotCounted(t *testing.T) {
	s := newTestSession(10, 1<<20)
	s.OnRequest(packet(0, append([]byte{comQuery}, []byte("UPDATE t SET x=1")...)))

	resp := okPacket(1)
	out := s.OnReply(resp)
	if !bytes.Equal(out, resp) {
		t.Error("expected OK packet forwarded unchanged")
	}
	oc, ok := s.TakeOutcome()
	if !ok {
		t.Fatal("expected an outcome for an OK response")
	}
	if oc.Rows != 0 {
		t.Errorf("Rows = %d, want 0 for an OK response", oc.Rows)
	}
}
