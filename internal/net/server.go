package net

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Config holds the transport listener settings.
type Config struct {
	BindAddress  string
	WSPath       string
	OutQueueSize int
	ReadLimit    int64
	WriteTimeout time.Duration
}

// Server accepts HTTP connections and upgrades them to WebSocket sessions
// at a fixed path. Each upgraded connection gets a Session with its own
// read and write pumps; lifecycle and frames go to the ConnHandler.
type Server struct {
	cfg      Config
	handler  ConnHandler
	upgrader websocket.Upgrader
	httpSrv  *http.Server
	listener net.Listener
	nextID   atomic.Uint64
	closed   atomic.Bool
	log      *zap.Logger
}

func NewServer(cfg Config, handler ConnHandler, log *zap.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		handler: handler,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// 允許所有來源（客戶端非瀏覽器，無同源需求）
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.WSPath, s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	s.httpSrv = &http.Server{Handler: mux}
	return s
}

// Start binds the listen socket and begins serving. It returns once the
// server is listening, or with the bind error.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.BindAddress)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.BindAddress, err)
	}
	s.listener = ln
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("HTTP 服務異常結束", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the listener's address. Only valid after Start.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Shutdown stops accepting new connections. Already-upgraded sessions are
// hijacked from the HTTP server and must be closed by the session manager.
// Safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.log.Warn("HTTP 關閉逾時", zap.Error(err))
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.closed.Load() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("WebSocket 升級失敗", zap.Error(err))
		return
	}

	id := s.nextID.Add(1)
	sess := NewSession(conn, id, s.cfg.OutQueueSize, s.cfg.WriteTimeout, s.log)
	s.log.Info(fmt.Sprintf("玩家連線  session=%d  ip=%s", id, sess.IP))

	s.handler.HandleOpen(sess)
	go sess.writeLoop()
	sess.readLoop(s.handler, s.cfg.ReadLimit) // read pump owns this goroutine
}
