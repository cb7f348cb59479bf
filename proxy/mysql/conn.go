package mysql

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/pentve/rowcap/internal/cache"
	"github.com/pentve/rowcap/internal/classifier"
	"github.com/pentve/rowcap/internal/events"
	"github.com/pentve/rowcap/internal/fingerprint"
	"github.com/pentve/rowcap/internal/mysqlproto"
	"github.com/pentve/rowcap/internal/rowlimit"
)

// MySQL command bytes this relay inspects on the client-to-server side.
const (
	comQuery  byte = 0x03
	comInitDB byte = 0x02
)

// Response packet type indicators (first byte of payload).
const (
	opOK  byte = 0x00
	opErr byte = 0xFF
)

// Capability flags this relay reads or rewrites during the handshake. SSL
// and DEPRECATE_EOF are stripped from the negotiation: encrypted traffic
// cannot be filtered at all, and deprecate-EOF framing removes the EOF
// packets the response state machine keys on.
const (
	capClientConnectWithDB    uint32 = 1 << 3
	capClientSSL              uint32 = 1 << 11
	capClientSecureConnection uint32 = 1 << 15
	capClientDeprecateEOF     uint32 = 1 << 24
)

// conn manages the bidirectional relay and row-limit filtering for a single
// MySQL connection. The handshake/auth phase is relayed with only the
// capability bits above rewritten; filtering starts with the first command
// packet.
type conn struct {
	clientConn   net.Conn
	upstreamConn net.Conn

	sessionID string
	session   *rowlimit.Session
	classify  classifier.Classifier
	cacheAdp  *cache.Adapter
	events    chan<- events.Event

	defaultDB string // touched only by the client-to-upstream goroutine

	mu                  sync.Mutex
	pendingQuery        string
	pendingKey          cache.Key
	pendingHasKey       bool
	pendingCacheOutcome events.CacheOutcome
}

func newConn(clientConn, upstreamConn net.Conn, cfg rowlimit.Config, classify classifier.Classifier, cacheAdp *cache.Adapter, evCh chan<- events.Event) *conn {
	return &conn{
		clientConn:   clientConn,
		upstreamConn: upstreamConn,
		sessionID:    newSessionID(),
		session:      rowlimit.NewSession(cfg),
		classify:     classify,
		cacheAdp:     cacheAdp,
		events:       evCh,
	}
}

// ---------------- packet I/O ----------------

func readPacket(r io.Reader) ([]byte, error) {
	var hdr [mysqlproto.HeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("mysql: read packet header: %w", err)
	}
	h, err := mysqlproto.ReadHeader(hdr[:])
	if err != nil {
		return nil, fmt.Errorf("mysql: decode packet header: %w", err)
	}
	pkt := make([]byte, mysqlproto.HeaderLen+h.PayloadLen)
	copy(pkt, hdr[:])
	if h.PayloadLen > 0 {
		if _, err := io.ReadFull(r, pkt[mysqlproto.HeaderLen:]); err != nil {
			return nil, fmt.Errorf("mysql: read packet payload: %w", err)
		}
	}
	return pkt, nil
}

func writePacket(dst net.Conn, pkt []byte) error {
	if _, err := dst.Write(pkt); err != nil {
		return fmt.Errorf("mysql: write packet: %w", err)
	}
	return nil
}

func payloadByte(pkt []byte) byte {
	if len(pkt) <= mysqlproto.HeaderLen {
		return 0
	}
	return pkt[mysqlproto.HeaderLen]
}

// ---------------- handshake ----------------

// relayStartup relays the handshake/auth phase, stripping CLIENT_SSL and
// CLIENT_DEPRECATE_EOF from the negotiation and best-effort recording the
// client's initial default database (if any) for use in fingerprinting
// bare table references.
func (c *conn) relayStartup() error {
	greeting, err := readPacket(c.upstreamConn)
	if err != nil {
		return fmt.Errorf("mysql: read greeting: %w", err)
	}
	clearServerCapabilityBits(greeting, capClientSSL|capClientDeprecateEOF)
	if err := writePacket(c.clientConn, greeting); err != nil {
		return fmt.Errorf("mysql: send greeting: %w", err)
	}

	resp, err := readPacket(c.clientConn)
	if err != nil {
		return fmt.Errorf("mysql: read handshake response: %w", err)
	}
	clearClientCapabilityBits(resp, capClientDeprecateEOF)
	c.defaultDB = parseInitialSchema(resp)
	if err := writePacket(c.upstreamConn, resp); err != nil {
		return fmt.Errorf("mysql: send handshake response: %w", err)
	}

	for {
		pkt, err := readPacket(c.upstreamConn)
		if err != nil {
			return fmt.Errorf("mysql: read auth: %w", err)
		}
		if err := writePacket(c.clientConn, pkt); err != nil {
			return fmt.Errorf("mysql: send auth: %w", err)
		}

		switch payloadByte(pkt) {
		case opOK:
			return nil
		case opErr:
			return errors.New("mysql: auth error from upstream")
		case 0x01: // AuthMoreData
			payload := pkt[mysqlproto.HeaderLen:]
			if len(payload) >= 2 && payload[1] == 0x03 {
				// caching_sha2_password fast-auth success; OK follows.
				continue
			}
		}

		clientResp, err := readPacket(c.clientConn)
		if err != nil {
			return fmt.Errorf("mysql: read auth client response: %w", err)
		}
		if err := writePacket(c.upstreamConn, clientResp); err != nil {
			return fmt.Errorf("mysql: send auth client response: %w", err)
		}
	}
}

// clearServerCapabilityBits clears the given capability bits in a server
// greeting packet. The greeting (HandshakeV10) carries a variable-length
// NUL-terminated server version string, so the capability flag offsets are
// located relative to its terminator:
//
//	payload[1..NUL]  server version (NUL-terminated)
//	+0  connection_id    (4 bytes)
//	+4  auth_data_1      (8 bytes)
//	+12 filler           (1 byte)
//	+13 cap_flags_lower  (2 bytes)
//	+15 charset          (1 byte)
//	+16 status_flags     (2 bytes)
//	+18 cap_flags_upper  (2 bytes)
func clearServerCapabilityBits(pkt []byte, bits uint32) {
	if len(pkt) <= mysqlproto.HeaderLen {
		return
	}
	payload := pkt[mysqlproto.HeaderLen:]
	nulIdx := bytes.IndexByte(payload[1:], 0x00)
	if nulIdx < 0 {
		return
	}
	base := 1 + nulIdx + 1 // past protocol_version byte + version string + NUL

	lowerOff := base + 13
	if lowerOff+2 > len(payload) {
		return
	}
	lower := binary.LittleEndian.Uint16(payload[lowerOff : lowerOff+2])
	lower &^= uint16(bits & 0xFFFF)
	binary.LittleEndian.PutUint16(payload[lowerOff:lowerOff+2], lower)

	upperOff := base + 18
	if upperOff+2 > len(payload) {
		return
	}
	upper := binary.LittleEndian.Uint16(payload[upperOff : upperOff+2])
	upper &^= uint16(bits >> 16)
	binary.LittleEndian.PutUint16(payload[upperOff:upperOff+2], upper)
}

// clearClientCapabilityBits clears the given capability bits in a client
// handshake response, where the flags are the first 4 payload bytes.
func clearClientCapabilityBits(pkt []byte, bits uint32) {
	if len(pkt) < mysqlproto.HeaderLen+4 {
		return
	}
	payload := pkt[mysqlproto.HeaderLen:]
	caps := binary.LittleEndian.Uint32(payload[0:4])
	caps &^= bits
	binary.LittleEndian.PutUint32(payload[0:4], caps)
}

// parseInitialSchema best-effort extracts the database name from a
// HandshakeResponse41 payload, returning "" if the capability flag is unset
// or the layout can't be parsed. Never panics: any indexing failure yields
// "", falling back to per-query COM_INIT_DB/default-db tracking instead.
func parseInitialSchema(pkt []byte) string {
	if len(pkt) <= mysqlproto.HeaderLen+32 {
		return ""
	}
	payload := pkt[mysqlproto.HeaderLen:]
	clientFlags := binary.LittleEndian.Uint32(payload[0:4])

	off := 32
	nulIdx := bytes.IndexByte(payload[off:], 0)
	if nulIdx < 0 {
		return ""
	}
	off += nulIdx + 1 // past NUL-terminated username

	if clientFlags&capClientSecureConnection != 0 {
		if off >= len(payload) {
			return ""
		}
		authLen := int(payload[off])
		off += 1 + authLen
	} else {
		idx := bytes.IndexByte(payload[off:], 0)
		if idx < 0 {
			return ""
		}
		off += idx + 1
	}

	if clientFlags&capClientConnectWithDB == 0 {
		return ""
	}
	if off >= len(payload) {
		return ""
	}
	nulIdx = bytes.IndexByte(payload[off:], 0)
	if nulIdx < 0 {
		return ""
	}
	return string(payload[off : off+nulIdx])
}

// ---------------- relay ----------------

func (c *conn) relay(ctx context.Context) error {
	defer c.session.Close()

	if err := c.relayStartup(); err != nil {
		return fmt.Errorf("mysql: startup: %w", err)
	}

	errCh := make(chan error, 2)
	go func() { errCh <- c.relayClientToUpstream(ctx) }()
	go func() { errCh <- c.relayUpstreamToClient(ctx) }()

	err := <-errCh
	_ = c.clientConn.Close()
	_ = c.upstreamConn.Close()
	<-errCh

	return err
}

func (c *conn) relayClientToUpstream(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return fmt.Errorf("mysql: client relay: %w", ctx.Err())
		}

		pkt, err := readPacket(c.clientConn)
		if err != nil {
			if isClosedErr(err) {
				return nil
			}
			return fmt.Errorf("mysql: receive from client: %w", err)
		}

		c.captureRequest(ctx, pkt)
		out := c.session.OnRequest(pkt)

		if err := writePacket(c.upstreamConn, out); err != nil {
			if isClosedErr(err) {
				return nil
			}
			return fmt.Errorf("mysql: send to upstream: %w", err)
		}
	}
}

func (c *conn) relayUpstreamToClient(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return fmt.Errorf("mysql: upstream relay: %w", ctx.Err())
		}

		pkt, err := readPacket(c.upstreamConn)
		if err != nil {
			if isClosedErr(err) {
				return nil
			}
			return fmt.Errorf("mysql: receive from upstream: %w", err)
		}

		out := c.session.OnReply(pkt)
		if len(out) > 0 {
			if err := writePacket(c.clientConn, out); err != nil {
				if isClosedErr(err) {
					return nil
				}
				return fmt.Errorf("mysql: send to client: %w", err)
			}
		}

		if outcome, ok := c.session.TakeOutcome(); ok {
			c.publishEvent(outcome)
		}
	}
}

// captureRequest records the query text for the response this request will
// produce, and — if a classifier and cache adapter are wired in — derives a
// fingerprint key and performs a speculative cache lookup purely for
// observability. It never alters the relay's data path.
func (c *conn) captureRequest(ctx context.Context, pkt []byte) {
	if len(pkt) <= mysqlproto.HeaderLen {
		return
	}
	payload := pkt[mysqlproto.HeaderLen:]
	cmd := payload[0]

	switch cmd {
	case comInitDB:
		c.defaultDB = string(payload[1:])

	case comQuery:
		query := payload[1:]

		c.mu.Lock()
		c.pendingQuery = string(query)
		c.mu.Unlock()

		if c.classify == nil {
			return
		}
		tables := c.classify.Tables(query)
		key := fingerprint.Derive(c.defaultDB, query, tables)

		var outcome events.CacheOutcome
		if c.cacheAdp != nil {
			_, result, err := c.cacheAdp.Get(ctx, key, 0)
			switch {
			case err != nil:
				outcome = events.CacheOutcomeError
			case result&cache.ResultOK != 0:
				outcome = events.CacheOutcomeHit
			case result&cache.ResultStale != 0:
				outcome = events.CacheOutcomeSoftStale
			default:
				outcome = events.CacheOutcomeMiss
			}
		}

		c.mu.Lock()
		c.pendingKey = key
		c.pendingHasKey = true
		c.pendingCacheOutcome = outcome
		c.mu.Unlock()
	}
}

func (c *conn) publishEvent(outcome rowlimit.Outcome) {
	c.mu.Lock()
	query := c.pendingQuery
	key := c.pendingKey
	hasKey := c.pendingHasKey
	cacheOutcome := c.pendingCacheOutcome
	c.pendingQuery = ""
	c.pendingHasKey = false
	c.pendingCacheOutcome = ""
	c.mu.Unlock()

	decision := events.DecisionForward
	if outcome.Discarded {
		decision = events.DecisionSyntheticOK
	}

	ev := events.Event{
		SessionID:    c.sessionID,
		Decision:     decision,
		Rows:         int(outcome.Rows),
		Bytes:        outcome.Bytes,
		CacheOutcome: cacheOutcome,
		Query:        query,
		Timestamp:    time.Now(),
	}
	if hasKey {
		ev.FingerprintKey = hex.EncodeToString(key[:])
	}

	select {
	case c.events <- ev:
	default:
	}
}

func isClosedErr(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return netErr.Err.Error() == "use of closed network connection"
	}
	return strings.Contains(err.Error(), "closed")
}
