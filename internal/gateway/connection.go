package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"convgateway/internal/commands"
	"convgateway/internal/contextbuf"
	"convgateway/internal/gwerrors"
	"convgateway/internal/messages"
	"convgateway/internal/protocol"
	"convgateway/internal/store"
	"convgateway/internal/streamsender"
)

// Connection is one accepted client's running pump: the loaded Buffer, the
// websocket, and every per-connection collaborator the sender needs to
// resolve a queue item (spec.md §4.7).
type Connection struct {
	srv    *Server
	conn   *websocket.Conn
	userID string

	buf     *contextbuf.Buffer
	manager *messages.Manager

	searchByRoom map[string]string // room_id -> relstore.Room.Search, for retrieval activation

	writeMu sync.Mutex
}

// activate runs spec.md §4.7's Startup: load the user's room set from the
// relational store, fetch every room context from the Conversation Store
// concurrently, sort most-recent-first, build the Buffer, and send the init
// frame.
func (s *Server) activate(ctx context.Context, conn *websocket.Conn, userID string) (*Connection, error) {
	roomIDs, err := s.RelStore.ListRooms(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: list rooms: %v", gwerrors.ErrConnectivity, err)
	}

	type loaded struct {
		ctx    store.UserGptContext
		search string
	}
	results := make([]loaded, len(roomIDs))
	errs := make([]error, len(roomIDs))

	var wg sync.WaitGroup
	for i, roomID := range roomIDs {
		wg.Add(1)
		go func(i int, roomID string) {
			defer wg.Done()
			c, err := s.Store.Read(ctx, userID, roomID)
			if err != nil {
				errs[i] = fmt.Errorf("%w: read room %s: %v", gwerrors.ErrConnectivity, roomID, err)
				return
			}
			room, err := s.RelStore.GetRoom(ctx, roomID)
			search := ""
			if err == nil {
				search = room.Search
			}
			results[i] = loaded{ctx: c, search: search}
		}(i, roomID)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].ctx.Profile.CreatedAt.After(results[j].ctx.Profile.CreatedAt)
	})

	contexts := make([]*store.UserGptContext, len(results))
	searchByRoom := make(map[string]string, len(results))
	for i := range results {
		c := results[i].ctx
		contexts[i] = &c
		searchByRoom[c.Profile.RoomID] = results[i].search
	}

	c := &Connection{
		srv:          s,
		conn:         conn,
		userID:       userID,
		buf:          contextbuf.New(userID, contexts, queueSize),
		manager:      messages.New(s.Store, messages.NewClock()),
		searchByRoom: searchByRoom,
	}

	if s.Retrieval != nil && len(contexts) > 0 {
		current := contexts[0]
		if _, err := s.Retrieval.EnsureIngested(ctx, current.Profile.RoomID, searchByRoom[current.Profile.RoomID]); err != nil {
			log.Warn().Err(err).Str("room_id", current.Profile.RoomID).Msg("gateway: retrieval ingestion failed, continuing")
		}
	}

	if err := c.sendInit(true); err != nil {
		return nil, fmt.Errorf("%w: send init frame: %v", gwerrors.ErrConnectivity, err)
	}
	return c, nil
}

// Send implements protocol.Sender, serializing concurrent writers (the
// sender goroutine and the ping ticker) over the single websocket
// connection, the same discipline as go-mizu-mizu's writePump.
func (c *Connection) Send(frame protocol.ServerFrame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(frame)
}

func (c *Connection) sendInit(includeRoomIDs bool) error {
	room := c.buf.CurrentContext()
	var chats []protocol.HistoryProjection
	var roomIDs []int64
	if room != nil {
		chats = projectTranscript(room)
	}
	if includeRoomIDs {
		for _, id := range c.buf.RoomIDs() {
			n, err := strconv.ParseInt(id, 10, 64)
			if err != nil {
				continue
			}
			roomIDs = append(roomIDs, n)
		}
	}
	payload := protocol.InitPayload{PreviousChats: chats, ChatroomIDs: roomIDs, InitCallback: true}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg := string(body)
	chatroomID, _ := strconv.ParseInt(c.buf.CurrentRoomID(), 10, 64)
	return c.Send(protocol.ServerFrame{Msg: &msg, Finish: false, ChatroomID: chatroomID, IsUser: false, Init: true})
}

// projectTranscript interleaves user/assistant/system histories by
// timestamp order for the init frame (spec.md §4.7: "the current room's
// serialized transcript").
func projectTranscript(c *store.UserGptContext) []protocol.HistoryProjection {
	all := make([]store.MessageHistory, 0, len(c.UserLog)+len(c.AssistantLog)+len(c.SystemLog))
	all = append(all, c.UserLog...)
	all = append(all, c.AssistantLog...)
	all = append(all, c.SystemLog...)
	sort.SliceStable(all, func(i, j int) bool { return all[i].Timestamp < all[j].Timestamp })

	out := make([]protocol.HistoryProjection, 0, len(all))
	for _, h := range all {
		var modelName *string
		if h.ModelName != "" {
			modelName = &h.ModelName
		}
		out = append(out, protocol.HistoryProjection{
			Role:      string(h.Role),
			Content:   h.Content,
			Tokens:    h.Tokens,
			IsUser:    h.IsUser,
			Timestamp: h.Timestamp,
			ModelName: modelName,
		})
	}
	return out
}

func sendTerminalError(conn *websocket.Conn, err error) {
	msg := err.Error()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteJSON(protocol.ServerFrame{Msg: &msg, Finish: true, IsUser: false})
}

// Run starts the receiver and sender tasks plus a keepalive pinger, and
// blocks until both exit (spec.md §4.7 Steady state).
func (c *Connection) Run() {
	defer c.conn.Close()

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); c.receive(done) }()
	go func() { defer wg.Done(); c.serve(done) }()
	go c.keepalive(done)
	wg.Wait()
}

// keepalive pings the client on pingPeriod so the pong handler installed in
// receive() keeps pushing out the read deadline, the same ticker the
// teacher's go-mizu-mizu grounding file runs alongside its writePump.
func (c *Connection) keepalive(done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// invocation builds a command Invocation bound to this connection's static
// collaborators and the context current at dispatch time.
func (c *Connection) invocation(ctx *store.UserGptContext) *commands.Invocation {
	return &commands.Invocation{
		Context: ctx,
		Socket:  c,
		Buffer:  c.buf,
		Manager: c.manager,
		Vectors: c.srv.Vectors,
		Models:  c.srv.Models,
	}
}

// generate runs the Generation Dispatcher over ctx and streams the result
// through a fresh Streaming Sender bound to the current room/model
// (spec.md §4.5, §4.6).
func (c *Connection) generate(ctx context.Context, gc *store.UserGptContext) error {
	isLocal := gc.Model.Local != nil
	chunkSize := c.srv.ChunkSizeRemote
	if isLocal {
		chunkSize = c.srv.ChunkSizeLocal
	}
	chatroomID, _ := strconv.ParseInt(gc.Profile.RoomID, 10, 64)
	sender := streamsender.New(c, chatroomID, gc.Model.Name(), chunkSize, c.buf)

	if err := sender.Open(); err != nil {
		return err
	}
	genErr := c.srv.Dispatch.Generate(ctx, gc, c.userID, c.buf, sender)
	if genErr != nil {
		if errors.Is(genErr, gwerrors.ErrCancellation) {
			return sender.Interrupted()
		}
		_ = sender.Finish()
		return genErr
	}
	if err := sender.Finish(); err != nil {
		return err
	}
	return sender.Err()
}
