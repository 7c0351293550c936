package streamsender

import (
	"testing"

	"convgateway/internal/contextbuf"
	"convgateway/internal/protocol"
	"convgateway/internal/store"
)

type recordingSocket struct{ frames []protocol.ServerFrame }

func (s *recordingSocket) Send(f protocol.ServerFrame) error {
	s.frames = append(s.frames, f)
	return nil
}

func TestOpenEmitsNilMsgFrame(t *testing.T) {
	sock := &recordingSocket{}
	s := New(sock, 12, "gpt-test", 2, nil)
	if err := s.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	if len(sock.frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(sock.frames))
	}
	f := sock.frames[0]
	if f.Msg != nil || f.Finish || f.IsUser || f.ModelName == nil || *f.ModelName != "gpt-test" {
		t.Fatalf("unexpected opening frame: %+v", f)
	}
}

func TestCoalescesByChunkSize(t *testing.T) {
	sock := &recordingSocket{}
	s := New(sock, 1, "m", 2, nil)
	s.OnDelta("a")
	if len(sock.frames) != 0 {
		t.Fatalf("expected no frame before chunk_size reached")
	}
	s.OnDelta("b")
	if len(sock.frames) != 1 || *sock.frames[0].Msg != "ab" {
		t.Fatalf("expected one coalesced frame \"ab\", got %+v", sock.frames)
	}
	if err := s.Finish(); err != nil {
		t.Fatalf("finish: %v", err)
	}
	last := sock.frames[len(sock.frames)-1]
	if !last.Finish || *last.Msg != "" {
		t.Fatalf("expected empty-tail terminal frame, got %+v", last)
	}
}

func TestInterruptedSendsTerminalFrameAndReportsCancellation(t *testing.T) {
	sock := &recordingSocket{}
	s := New(sock, 1, "m", 5, nil)
	s.OnDelta("partial")
	err := s.Interrupted()
	if err == nil {
		t.Fatalf("expected interrupted error")
	}
	last := sock.frames[len(sock.frames)-1]
	if !last.Finish || *last.Msg != "partial" {
		t.Fatalf("expected terminal frame with accumulated tail, got %+v", last)
	}
}

func TestOnDeltaStopsBufferingOnCancelFlag(t *testing.T) {
	c := &store.UserGptContext{}
	buf := contextbuf.New("u1", []*store.UserGptContext{c}, 1)
	buf.SignalCancel()
	sock := &recordingSocket{}
	s := New(sock, 1, "m", 10, buf)
	s.OnDelta("should not be buffered")
	if err := s.Finish(); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if *sock.frames[len(sock.frames)-1].Msg != "" {
		t.Fatalf("expected delta after cancel flag to be dropped")
	}
}
