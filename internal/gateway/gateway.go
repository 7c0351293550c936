// Package gateway is the Connection Pump (spec.md §4.7): on accept it loads
// every room for the user into a Context Buffer, sends the init frame, then
// runs the receiver and sender as two cooperating goroutines sharing the
// buffer's work queue, grounded on the gorilla/websocket read/write pump
// split in go-mizu-mizu's blueprints/chat/app/web/ws/connection.go.
package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"convgateway/internal/commands"
	"convgateway/internal/llm"
	"convgateway/internal/relstore"
	"convgateway/internal/retrieval"
	"convgateway/internal/store"
	"convgateway/internal/vectorstore"
)

const (
	queueSize          = 64
	readLimitBytes     = 8 << 20
	writeWait          = 10 * time.Second
	pongWait           = 60 * time.Second
	pingPeriod         = (pongWait * 9) / 10
	chunkSizeRemote    = 2
	chunkSizeLocal     = 1
)

// Upgrader wraps gorilla/websocket's handshake; the server's CheckOrigin is
// injected so deployments can tighten it without touching the pump.
type Upgrader struct {
	websocket.Upgrader
}

// Server holds every dependency the Connection Pump needs to activate a
// client's rooms and run a turn to completion.
type Server struct {
	Upgrader Upgrader

	RelStore  relstore.Store
	Store     store.Store
	Models    store.ModelRegistry
	Vectors   vectorstore.Store
	Retrieval *retrieval.Guard
	Commands  *commands.Registry
	Dispatch  *llm.Dispatcher
	FileParse FileParser

	ChunkSizeRemote int
	ChunkSizeLocal  int
}

// FileParser is the narrow contract gateway needs from the file-parsing
// external collaborator (spec.md §4.7, §1 Non-goals); internal/docparse
// supplies the production plain-text implementation.
type FileParser interface {
	Parse(ctx context.Context, filename string, data []byte) (string, error)
}

// New builds a Server with spec.md §4.6's default chunk sizes.
func New(relStore relstore.Store, st store.Store, models store.ModelRegistry, vectors vectorstore.Store, guard *retrieval.Guard, cmds *commands.Registry, dispatch *llm.Dispatcher, fileParse FileParser) *Server {
	return &Server{
		Upgrader:        Upgrader{websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096}},
		RelStore:        relStore,
		Store:           st,
		Models:          models,
		Vectors:         vectors,
		Retrieval:       guard,
		Commands:        cmds,
		Dispatch:        dispatch,
		FileParse:       fileParse,
		ChunkSizeRemote: chunkSizeRemote,
		ChunkSizeLocal:  chunkSizeLocal,
	}
}

// ServeWS upgrades the HTTP request to a websocket and runs one connection's
// pump to completion. userID is produced by the accept handshake, which is
// external to the core (spec.md §4.7).
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := s.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("gateway: websocket upgrade failed")
		return
	}

	c, err := s.activate(r.Context(), conn, userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("gateway: startup failed, closing")
		sendTerminalError(conn, err)
		conn.Close()
		return
	}

	c.Run()
}
