// Package streamsender is the Streaming Sender (spec.md §4.6): coalesces
// generated deltas into chunked frames, respects a mid-stream cancellation,
// and emits the terminal frame.
package streamsender

import (
	"strings"

	"convgateway/internal/contextbuf"
	"convgateway/internal/gwerrors"
	"convgateway/internal/protocol"
)

// DefaultChunkSize returns spec.md §4.6's default chunk_size: 2 for remote
// models, 1 for local.
func DefaultChunkSize(isLocal bool) int {
	if isLocal {
		return 1
	}
	return 2
}

// Sender drains a delta stream, emitting an opening frame, coalesced
// mid-stream frames, and a terminal frame (spec.md §4.6).
type Sender struct {
	Socket     protocol.Sender
	ChatroomID int64
	ModelName  string
	ChunkSize  int
	Buffer     *contextbuf.Buffer

	pending strings.Builder
	count   int
	sendErr error
}

// New builds a Sender bound to one turn's destination room and model.
func New(socket protocol.Sender, chatroomID int64, modelName string, chunkSize int, buf *contextbuf.Buffer) *Sender {
	if chunkSize <= 0 {
		chunkSize = 1
	}
	return &Sender{Socket: socket, ChatroomID: chatroomID, ModelName: modelName, ChunkSize: chunkSize, Buffer: buf}
}

// Open emits the opening frame (spec.md §4.6: "{msg: null, finish: false,
// is_user: false, model_name}").
func (s *Sender) Open() error {
	model := s.ModelName
	return s.Socket.Send(protocol.ServerFrame{
		Msg:        nil,
		Finish:     false,
		ChatroomID: s.ChatroomID,
		IsUser:     false,
		ModelName:  &model,
	})
}

// OnDelta implements llm.Sink: it coalesces every ChunkSize deltas into one
// frame, or drops the delta if the buffer's cancel flag is set. It only
// peeks the flag - clearing it belongs to the producer loop driving the
// turn, which is the sole place that must observe the cancellation and pop
// the user history (spec.md §5).
func (s *Sender) OnDelta(text string) {
	if s.Buffer != nil && s.Buffer.IsCancelled() {
		return
	}
	s.pending.WriteString(text)
	s.count++
	if s.count >= s.ChunkSize {
		s.flush()
	}
}

// Err returns the first error encountered sending a mid-stream frame, if
// any (OnDelta has no error return since it implements llm.Sink).
func (s *Sender) Err() error { return s.sendErr }

func (s *Sender) flush() {
	msg := s.pending.String()
	if err := s.Socket.Send(protocol.ServerFrame{
		Msg:        &msg,
		Finish:     false,
		ChatroomID: s.ChatroomID,
		IsUser:     false,
		ModelName:  &s.ModelName,
	}); err != nil && s.sendErr == nil {
		s.sendErr = err
	}
	s.pending.Reset()
	s.count = 0
}

// Finish emits the terminal frame with whatever remains coalesced (spec.md
// §4.6: "On natural end it emits {msg: tail, finish: true}").
func (s *Sender) Finish() error {
	msg := s.pending.String()
	err := s.Socket.Send(protocol.ServerFrame{
		Msg:        &msg,
		Finish:     true,
		ChatroomID: s.ChatroomID,
		IsUser:     false,
		ModelName:  &s.ModelName,
	})
	s.pending.Reset()
	s.count = 0
	return err
}

// Interrupted emits the terminal frame with whatever was accumulated so far
// and reports the interruption (spec.md §4.6: "On cancellation it emits
// {msg: tail-so-far, finish: true} then raises an interrupted condition").
func (s *Sender) Interrupted() error {
	if err := s.Finish(); err != nil {
		return err
	}
	return gwerrors.ErrCancellation
}
