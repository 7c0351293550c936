package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"convgateway/internal/commands"
	"convgateway/internal/contextbuf"
	"convgateway/internal/gwerrors"
	"convgateway/internal/protocol"
	"convgateway/internal/store"
	"convgateway/internal/vectorstore"
)

// receive is the Receiver task (spec.md §4.7): decodes each incoming frame
// as text-JSON, binary upload, or the control string "stop", enqueueing
// ClientMessage/StatusText work items onto the shared buffer queue.
func (c *Connection) receive(done chan struct{}) {
	defer func() {
		// Wake a sender blocked on buf.Take() so it notices done is closed;
		// the queue has no other way to be interrupted from outside.
		c.buf.Put(contextbuf.WorkItem{})
		close(done)
	}()

	c.conn.SetReadLimit(readLimitBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	var pendingFilename string

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Str("user_id", c.userID).Msg("gateway: read error")
			}
			return
		}

		switch kind {
		case websocket.BinaryMessage:
			c.handleUpload(pendingFilename, data)
			pendingFilename = ""

		case websocket.TextMessage:
			if string(data) == "stop" {
				c.buf.SignalCancel()
				continue
			}
			var frame protocol.ClientFrame
			if err := json.Unmarshal(data, &frame); err != nil {
				c.buf.SignalCancel()
				continue
			}
			if frame.Filename != nil {
				pendingFilename = *frame.Filename
				continue
			}
			if frame.Msg == nil || frame.ChatroomID == nil {
				c.buf.SignalCancel()
				continue
			}
			c.buf.Put(contextbuf.WorkItem{ClientMessage: &contextbuf.ClientMessage{
				Msg:        *frame.Msg,
				ChatroomID: strconv.FormatInt(*frame.ChatroomID, 10),
			}})
		}
	}
}

// handleUpload runs the upload half of spec.md §4.7's receiver contract:
// parse the bytes with the external file-parser, chunk/embed into the
// vector store, then enqueue a plain-text status announcement.
func (c *Connection) handleUpload(filename string, data []byte) {
	ctx := context.Background()
	status := c.ingestUpload(ctx, filename, data)
	c.buf.Put(contextbuf.WorkItem{StatusText: status})
}

func (c *Connection) ingestUpload(ctx context.Context, filename string, data []byte) string {
	if filename == "" {
		return "upload failed: no filename was announced before the binary frame"
	}
	if c.srv.FileParse == nil {
		return "upload failed: no file parser configured"
	}
	text, err := c.srv.FileParse.Parse(ctx, filename, data)
	if err != nil {
		return "upload failed for " + filename + ": " + err.Error()
	}
	chunks := vectorstore.Chunk(text, vectorstore.ChunkOptions{})
	if len(chunks) == 0 {
		return "upload of " + filename + " produced no embeddable text"
	}
	if err := c.srv.Vectors.AddTexts(ctx, chunks, map[string]string{"source": filename}); err != nil {
		return "upload embedding failed for " + filename + ": " + err.Error()
	}
	return "embedded " + filename + " (" + strconv.Itoa(len(chunks)) + " chunks)"
}

// serve is the Sender task (spec.md §4.7): drains the shared queue one item
// at a time, dispatching to a room switch, the command handler, or the
// Message Manager plus Generation Dispatcher.
func (c *Connection) serve(done chan struct{}) {
	defer func() {
		select {
		case <-done:
		default:
			c.conn.Close()
		}
	}()

	ctx := context.Background()
	for {
		select {
		case <-done:
			return
		default:
		}

		item := c.buf.Take()

		if item.StatusText != "" {
			c.sendStatus(item.StatusText)
			continue
		}
		if item.ClientMessage == nil {
			// Either a genuine no-op or the receiver's shutdown wake-up;
			// the done check at the top of the loop decides which.
			continue
		}
		if err := c.handleTurn(ctx, *item.ClientMessage); err != nil {
			log.Warn().Err(err).Str("user_id", c.userID).Msg("gateway: turn failed")
			// Budget and protocol failures (including an unknown room
			// reference) are reported as a single text frame and the
			// connection continues; only a connectivity failure is fatal
			// (spec.md §7).
			if errors.Is(err, gwerrors.ErrConnectivity) {
				_ = c.sendTextError(err)
				return
			}
		}
	}
}

func (c *Connection) sendStatus(text string) {
	chatroomID, _ := strconv.ParseInt(c.buf.CurrentRoomID(), 10, 64)
	_ = c.Send(protocol.ServerFrame{Msg: &text, Finish: true, ChatroomID: chatroomID, IsUser: false})
}

// handleTurn implements the Sender's per-item contract (spec.md §4.7): a
// room switch, a slash-command, or a plain turn fed through the Message
// Manager and Generation Dispatcher.
func (c *Connection) handleTurn(ctx context.Context, msg contextbuf.ClientMessage) error {
	if msg.ChatroomID != c.buf.CurrentRoomID() {
		idx := c.buf.FindIndex(msg.ChatroomID)
		if idx < 0 {
			return c.sendTextError(fmt.Errorf("%w: unknown room %s", gwerrors.ErrProtocol, msg.ChatroomID))
		}
		c.buf.SwitchTo(idx)
		if c.srv.Retrieval != nil {
			if room := c.buf.CurrentContext(); room != nil {
				if _, err := c.srv.Retrieval.EnsureIngested(ctx, room.Profile.RoomID, c.searchByRoom[room.Profile.RoomID]); err != nil {
					log.Warn().Err(err).Str("room_id", room.Profile.RoomID).Msg("gateway: retrieval ingestion failed, continuing")
				}
			}
		}
		return c.sendInit(false)
	}

	if len(msg.Msg) > 0 && msg.Msg[0] == '/' {
		inv := c.invocation(c.buf.CurrentContext())
		res, err := c.srv.Commands.Dispatch(ctx, msg.Msg, inv)
		if err != nil {
			return c.sendTextError(err)
		}
		return c.applyCommandResult(ctx, res)
	}

	return c.handleUserTurn(ctx, msg.Msg)
}

// sendTextError reports a command-binding or protocol failure as a single
// text frame; the connection continues (spec.md §7).
func (c *Connection) sendTextError(err error) error {
	msg := err.Error()
	chatroomID, _ := strconv.ParseInt(c.buf.CurrentRoomID(), 10, 64)
	return c.Send(protocol.ServerFrame{Msg: &msg, Finish: true, ChatroomID: chatroomID, IsUser: false})
}

// applyCommandResult disposes of a command's Result per its ResponseType
// (spec.md §4.4).
func (c *Connection) applyCommandResult(ctx context.Context, res commands.Result) error {
	gc := c.buf.CurrentContext()
	switch res.Type {
	case commands.SendAndStop:
		return c.sendTextError(textError(res.Payload))
	case commands.SendAndContinueAsUser:
		if err := c.sendTextError(textError(res.Payload)); err != nil {
			return err
		}
		return c.handleUserTurn(ctx, res.Payload)
	case commands.HandleUser:
		return c.handleUserTurn(ctx, res.Payload)
	case commands.HandleGPT:
		return c.generate(ctx, gc)
	case commands.HandleBoth:
		if _, err := c.manager.Append(ctx, gc, store.RoleUser, res.Payload, ""); err != nil {
			return err
		}
		return c.generate(ctx, gc)
	case commands.Nothing:
		return nil
	default:
		return nil
	}
}

// textError lets a command's plain-text payload reuse the single-text-frame
// error path (spec.md §4.4's "send-and-stop" sends payload as the frame).
type textError string

func (e textError) Error() string { return string(e) }

// handleUserTurn appends the message as user history via the Message
// Manager, enforcing the Budget invariant (spec.md §7 scenario 3), then
// invokes the Generation Dispatcher.
func (c *Connection) handleUserTurn(ctx context.Context, text string) error {
	gc := c.buf.CurrentContext()
	if gc == nil {
		return gwerrors.ErrProtocol
	}

	tokens, err := gc.Model.Tok().Count(text)
	if err != nil {
		return err
	}
	budget := gc.Model.Budget()
	if tokens > budget.MaxTokensPerRequest {
		return c.sendTextError(textError(
			"Message too long: " + strconv.Itoa(tokens) + " tokens exceeds the " + strconv.Itoa(budget.MaxTokensPerRequest) + " token limit",
		))
	}

	if _, err := c.manager.Append(ctx, gc, store.RoleUser, text, ""); err != nil {
		return err
	}
	return c.generate(ctx, gc)
}
