// Package mysql relays a MySQL/MariaDB wire-protocol connection between a
// client and an upstream server, running each response through a
// rowlimit.Session and publishing an events.Event for every completed
// response to a COM_QUERY or COM_STMT_EXECUTE request. Apart from clearing
// the CLIENT_SSL and CLIENT_DEPRECATE_EOF capability bits during the
// handshake, the relay does not rewrite traffic: the only substitution it
// makes is the transducer's synthetic OK for an over-limit result set.
package mysql

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/pentve/rowcap/internal/cache"
	"github.com/pentve/rowcap/internal/classifier"
	"github.com/pentve/rowcap/internal/events"
	"github.com/pentve/rowcap/internal/rowlimit"
)

// Proxy listens for client connections and relays each one to a single
// upstream MySQL/MariaDB server, applying the row-limit filter to every
// response.
type Proxy struct {
	listen   string
	upstream string
	cfg      rowlimit.Config
	classify classifier.Classifier
	cacheAdp *cache.Adapter

	ln net.Listener

	eventsCh chan events.Event

	wg sync.WaitGroup

	closeOnce sync.Once
	closed    chan struct{}
}

// Option configures optional Proxy behavior.
type Option func(*Proxy)

// WithClassifier wires a query classifier used to derive a fingerprint cache
// key for each COM_QUERY request. Without one, no speculative cache lookups
// are performed.
func WithClassifier(c classifier.Classifier) Option {
	return func(p *Proxy) { p.classify = c }
}

// WithCache wires a cache adapter consulted (never served from) for every
// COM_QUERY request whose tables resolve to a fingerprint key. Without one,
// no cache lookups are performed.
func WithCache(a *cache.Adapter) Option {
	return func(p *Proxy) { p.cacheAdp = a }
}

// New creates a Proxy that will listen on listen and relay to upstream once
// ListenAndServe is called.
func New(listen, upstream string, cfg rowlimit.Config, opts ...Option) *Proxy {
	p := &Proxy{
		listen:   listen,
		upstream: upstream,
		cfg:      cfg,
		eventsCh: make(chan events.Event, 256),
		closed:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Events returns the channel Proxy publishes one events.Event to per
// completed COM_QUERY or COM_STMT_EXECUTE response. Publishing does not
// block: an event is dropped when the channel is full. The channel is closed
// once Close has drained all in-flight connections.
func (p *Proxy) Events() <-chan events.Event {
	return p.eventsCh
}

// ListenAndServe accepts connections on p's listen address until ctx is
// canceled or Close is called, relaying each to the upstream address.
func (p *Proxy) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", p.listen)
	if err != nil {
		return fmt.Errorf("mysql: listen %s: %w", p.listen, err)
	}
	p.ln = ln

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		clientConn, err := ln.Accept()
		if err != nil {
			select {
			case <-p.closed:
				return nil
			case <-ctx.Done():
				return nil
			default:
			}
			return fmt.Errorf("mysql: accept: %w", err)
		}

		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.handle(ctx, clientConn)
		}()
	}
}

func (p *Proxy) handle(ctx context.Context, clientConn net.Conn) {
	upstreamConn, err := net.Dial("tcp", p.upstream)
	if err != nil {
		_ = clientConn.Close()
		return
	}

	c := newConn(clientConn, upstreamConn, p.cfg, p.classify, p.cacheAdp, p.eventsCh)
	_ = c.relay(ctx)
}

// Close stops accepting new connections and waits for in-flight connections
// to finish relaying before closing the Events channel.
func (p *Proxy) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.closed)
		if p.ln != nil {
			err = p.ln.Close()
		}
		p.wg.Wait()
		close(p.eventsCh)
	})
	return err
}

func newSessionID() string {
	return uuid.New().String()
}
