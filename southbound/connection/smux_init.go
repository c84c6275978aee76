package connection

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/xtaci/smux"

	"qoerouting/southbound"
)

const maxLineSize = 1 << 20

func DefaultSmuxConfig() *smux.Config {
	return &smux.Config{
		Version:           1,
		KeepAliveInterval: 5 * time.Second,
		KeepAliveTimeout:  30 * time.Second,
		MaxFrameSize:      32768,
		MaxReceiveBuffer:  4194304,
		MaxStreamBuffer:   131072,
	}
}

// Server accepts switch agents over smux. Each stream carries one switch:
// the first line must be a hello naming the DPID, every later line is an
// event envelope.
type Server struct {
	config *smux.Config
	events chan<- *southbound.Event

	mu       sync.RWMutex
	sessions map[string]*smux.Session
	switches map[uint64]*StreamSwitch
}

func NewServer(events chan<- *southbound.Event, config *smux.Config) *Server {
	if config == nil {
		config = DefaultSmuxConfig()
	}
	return &Server{
		config:   config,
		events:   events,
		sessions: make(map[string]*smux.Session),
		switches: make(map[uint64]*StreamSwitch),
	}
}

// Serve accepts connections until ctx is cancelled or the listener fails.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept failed: %w", err)
		}
		go func() {
			if err := s.ServeConn(ctx, conn); err != nil {
				log.Warnf("Server.Serve: remote=%s, err=%v", conn.RemoteAddr(), err)
			}
		}()
	}
}

// ServeConn runs one smux session until it closes.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) error {
	session, err := smux.Server(conn, s.config)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smux server init failed: %w", err)
	}

	remote := conn.RemoteAddr().String()
	s.addSession(remote, session)
	defer s.removeSession(remote, session)

	go func() {
		select {
		case <-ctx.Done():
			session.Close()
		case <-session.CloseChan():
		}
	}()

	for {
		stream, err := session.AcceptStream()
		if err != nil {
			if errors.Is(err, io.EOF) || session.IsClosed() {
				return nil
			}
			return fmt.Errorf("accept stream failed: %w", err)
		}
		go s.handleStream(ctx, stream)
	}
}

func (s *Server) handleStream(ctx context.Context, stream *smux.Stream) {
	defer stream.Close()

	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	if !scanner.Scan() {
		log.Warnf("Server.handleStream: stream=%d closed before hello", stream.ID())
		return
	}
	hello, err := decodeHello(scanner.Bytes())
	if err != nil {
		log.Warnf("Server.handleStream: stream=%d, err=%v", stream.ID(), err)
		return
	}

	sw := newStreamSwitch(hello.DPID, stream)
	s.mu.Lock()
	s.switches[sw.dpid] = sw
	s.mu.Unlock()

	log.Infof("Server.handleStream: switch connected, dpid=%d, stream=%d", sw.dpid, stream.ID())
	s.emit(ctx, &southbound.Event{Kind: southbound.EventSwitchConnected, DPID: sw.dpid, Switch: sw})

	for scanner.Scan() {
		ev, err := decodeEvent(sw.dpid, scanner.Bytes(), time.Now())
		if err != nil {
			log.Warnf("Server.handleStream: dpid=%d, skipping line, err=%v", sw.dpid, err)
			continue
		}
		if !s.emit(ctx, ev) {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		log.Warnf("Server.handleStream: dpid=%d, read err=%v", sw.dpid, err)
	}

	s.mu.Lock()
	if s.switches[sw.dpid] == sw {
		delete(s.switches, sw.dpid)
	}
	s.mu.Unlock()

	log.Infof("Server.handleStream: switch disconnected, dpid=%d", sw.dpid)
	s.emit(ctx, &southbound.Event{Kind: southbound.EventSwitchDisconnected, DPID: sw.dpid, Switch: sw})
}

func (s *Server) emit(ctx context.Context, ev *southbound.Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Server) addSession(remote string, session *smux.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.sessions[remote]; ok && !old.IsClosed() {
		old.Close()
	}
	s.sessions[remote] = session
	log.Infof("Server.addSession: remote=%s", remote)
}

func (s *Server) removeSession(remote string, session *smux.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions[remote] == session {
		delete(s.sessions, remote)
	}
	if !session.IsClosed() {
		session.Close()
	}
	log.Infof("Server.removeSession: remote=%s", remote)
}

// Switch returns the live stream for dpid, if connected.
func (s *Server) Switch(dpid uint64) (*StreamSwitch, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sw, ok := s.switches[dpid]
	return sw, ok
}

func (s *Server) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Close tears down every session; their streams report disconnects.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for remote, session := range s.sessions {
		if !session.IsClosed() {
			session.Close()
		}
		delete(s.sessions, remote)
	}
	log.Infof("Server.Close: all sessions closed")
}

func decodeHello(line []byte) (*Hello, error) {
	ev, err := decodeEnvelope(line)
	if err != nil {
		return nil, err
	}
	if ev.Type != TypeHello {
		return nil, fmt.Errorf("expected hello, got %q", ev.Type)
	}
	var hello Hello
	if err := unmarshalPayload(ev, &hello); err != nil {
		return nil, err
	}
	if hello.DPID == 0 {
		return nil, fmt.Errorf("hello without dpid")
	}
	return &hello, nil
}
