package rowlimit

// Filter is the capability interface a proxy relay calls into; a *Session
// satisfies it directly.
type Filter interface {
	// OnRequest is called once per client-to-server packet. It returns the
	// packet to forward downstream (always the input, unmodified) after
	// updating session phase.
	OnRequest(packet []byte) []byte
	// OnReply is called once per server-to-client chunk. It returns the
	// bytes to forward to the client for any decisions reached during this
	// call; an empty result means more bytes are needed before a decision
	// can be made.
	OnReply(chunk []byte) []byte
	// Close releases any buffered session state.
	Close()
}

var _ Filter = (*Session)(nil)
