// Package tcpserver is the local command endpoint: a single-client TCP server
// that carries framed JSON commands and answers each with a framed response.
//
// Socket waits are bounded (accept 1 s, read 100 ms) and the handler re-posts
// itself between waits, so the module keeps draining its mailbox while idle.
package tcpserver

import (
	"errors"
	"net"
	"os"
	"time"

	"github.com/solatis/aadnode/internal/command"
	"github.com/solatis/aadnode/internal/events"
)

const (
	stateDisabled = iota
	stateIdle
	stateWaitConnection
	stateWorking
)

const (
	acceptWait = time.Second
	readWait   = 100 * time.Millisecond
	writeWait  = time.Second
)

// Commands answers one command document.
type Commands interface {
	Parse(doc []byte) command.Response
}

// Server is the TCP_SERVER module.
type Server struct {
	mod      *events.Module
	addr     string
	commands Commands

	listener   *net.TCPListener
	conn       net.Conn
	decoder    Decoder
	readBuf    []byte
	ethernetUp bool
}

// New creates the server module listening on addr once the link is up.
func New(router *events.Router, addr string, commands Commands) *Server {
	s := &Server{
		mod:      events.NewModule(events.TCPServer, events.SmallMailbox, router),
		addr:     addr,
		commands: commands,
		readBuf:  make([]byte, 512),
	}
	common := []events.Handler{
		events.On(events.TCPServerEthernetConnected, s.onEthernetConnected),
		events.On(events.TCPServerEthernetDisconnected, s.onEthernetDisconnected),
		events.On(events.TCPServerCloseSocket, s.onCloseSocket),
		events.On(events.DeinitReq, s.onDeinit),
	}
	s.mod.SetStates([]events.State{
		stateDisabled: {Name: "DISABLED", Handlers: []events.Handler{
			events.On(events.InitReq, s.onInit),
		}},
		stateIdle: {Name: "IDLE", Handlers: append([]events.Handler{
			events.On(events.TCPServerPrepareSocket, s.onPrepareSocket),
		}, common...)},
		stateWaitConnection: {Name: "WAIT_CONNECTION", Handlers: append([]events.Handler{
			events.On(events.TCPServerWaitConnection, s.onWaitConnection),
		}, common...)},
		stateWorking: {Name: "WORKING", Handlers: append([]events.Handler{
			events.On(events.TCPServerWaitClientData, s.onWaitClientData),
		}, common...)},
	})
	return s
}

// Module exposes the underlying module for the runner.
func (s *Server) Module() *events.Module {
	return s.mod
}

// Addr returns the bound listen address, or nil when not listening. Only safe
// from the module goroutine or while the module is not running.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) onInit(ev *events.Event) {
	s.mod.SendValue(ev.Src, events.InitRes, true)
	s.mod.ChangeState(stateIdle)
}

func (s *Server) onEthernetConnected(*events.Event) {
	s.ethernetUp = true
	if s.mod.State() == stateIdle {
		s.mod.Self(events.TCPServerPrepareSocket)
	}
}

func (s *Server) onEthernetDisconnected(*events.Event) {
	s.ethernetUp = false
	s.mod.Self(events.TCPServerCloseSocket)
}

func (s *Server) onPrepareSocket(*events.Event) {
	if s.listener != nil {
		return
	}
	laddr, err := net.ResolveTCPAddr("tcp", s.addr)
	if err != nil {
		s.mod.Log().Error().Err(err).Str("addr", s.addr).Msg("Invalid listen address")
		return
	}
	ln, err := net.ListenTCP("tcp", laddr)
	if err != nil {
		s.mod.Log().Error().Err(err).Str("addr", s.addr).Msg("Unable to listen")
		return
	}
	s.listener = ln
	s.mod.Log().Info().Str("addr", ln.Addr().String()).Msg("Socket listening")
	s.mod.ChangeState(stateWaitConnection)
	s.mod.Self(events.TCPServerWaitConnection)
}

func (s *Server) onWaitConnection(*events.Event) {
	if err := s.listener.SetDeadline(time.Now().Add(acceptWait)); err != nil {
		s.mod.Log().Error().Err(err).Msg("Unable to set accept deadline")
	}
	conn, err := s.listener.AcceptTCP()
	if err != nil {
		if isTimeout(err) {
			s.mod.Self(events.TCPServerWaitConnection)
			return
		}
		s.mod.Log().Error().Err(err).Msg("Unable to accept connection")
		s.mod.Self(events.TCPServerCloseSocket)
		return
	}

	s.mod.Log().Info().Str("remote", conn.RemoteAddr().String()).Msg("Client connected")
	s.conn = conn
	s.decoder.Reset()
	s.mod.SendValue(events.NetworkManager, events.NetworkManagerTCPServerClientStatus, true)
	s.mod.ChangeState(stateWorking)
	s.mod.Self(events.TCPServerWaitClientData)
}

func (s *Server) onWaitClientData(*events.Event) {
	if err := s.conn.SetReadDeadline(time.Now().Add(readWait)); err != nil {
		s.mod.Log().Error().Err(err).Msg("Unable to set read deadline")
	}
	n, err := s.conn.Read(s.readBuf)
	if n > 0 {
		s.decoder.Feed(s.readBuf[:n])
		if !s.answerFrames() {
			s.mod.Self(events.TCPServerCloseSocket)
			return
		}
	}
	if err != nil && !isTimeout(err) {
		s.mod.Log().Info().Err(err).Msg("Client closed connection")
		s.mod.Self(events.TCPServerCloseSocket)
		return
	}
	s.mod.Self(events.TCPServerWaitClientData)
}

// answerFrames runs every complete frame through the command parser. Returns
// false when the connection can no longer be written.
func (s *Server) answerFrames() bool {
	for {
		payload, ok := s.decoder.Next()
		if !ok {
			return true
		}
		s.mod.Log().Debug().Int("len", len(payload)).Msg("Command received")
		resp := s.commands.Parse(payload).Marshal()
		frame, err := EncodeFrame(resp)
		if err != nil {
			s.mod.Log().Error().Err(err).Msg("Response does not fit a frame")
			continue
		}
		if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			s.mod.Log().Error().Err(err).Msg("Unable to set write deadline")
		}
		if _, err := s.conn.Write(frame); err != nil {
			s.mod.Log().Error().Err(err).Msg("Unable to send response")
			return false
		}
	}
}

func (s *Server) onCloseSocket(*events.Event) {
	s.closeSockets()
	if s.mod.State() == stateWorking {
		s.mod.SendValue(events.NetworkManager, events.NetworkManagerTCPServerClientStatus, false)
	}
	if s.ethernetUp {
		s.mod.Self(events.TCPServerPrepareSocket)
	}
	if s.mod.State() != stateIdle {
		s.mod.ChangeState(stateIdle)
	}
}

func (s *Server) onDeinit(*events.Event) {
	s.closeSockets()
	s.ethernetUp = false
	s.mod.ChangeState(stateDisabled)
}

func (s *Server) closeSockets() {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	if s.listener != nil {
		s.listener.Close()
		s.listener = nil
	}
	s.decoder.Reset()
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
