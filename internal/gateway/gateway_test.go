package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"convgateway/internal/commands"
	"convgateway/internal/contextbuf"
	"convgateway/internal/llm"
	"convgateway/internal/protocol"
	"convgateway/internal/relstore"
	"convgateway/internal/store"
	"convgateway/internal/tokenizer"
)

// fakeRelStore is an in-memory relstore.Store for the pump tests.
type fakeRelStore struct {
	rooms map[string][]string // userID -> roomIDs
}

func (f *fakeRelStore) ListRooms(ctx context.Context, userID string) ([]string, error) {
	return f.rooms[userID], nil
}

func (f *fakeRelStore) GetRoom(ctx context.Context, roomID string) (relstore.Room, error) {
	return relstore.Room{ID: roomID, Title: roomID}, nil
}

// fakeConvStore is an in-memory store.Store keyed by (userID, roomID).
type fakeConvStore struct {
	mu    sync.Mutex
	ctxs  map[string]store.UserGptContext
	model store.LLMModel
}

func newFakeConvStore(model store.LLMModel) *fakeConvStore {
	return &fakeConvStore{ctxs: map[string]store.UserGptContext{}, model: model}
}

func (f *fakeConvStore) key(userID, roomID string) string { return userID + "/" + roomID }

func (f *fakeConvStore) seed(userID, roomID string, createdAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := store.Default(userID, roomID, f.model)
	c.Profile.CreatedAt = createdAt
	f.ctxs[f.key(userID, roomID)] = c
}

func (f *fakeConvStore) Read(ctx context.Context, userID, roomID string) (store.UserGptContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.ctxs[f.key(userID, roomID)]; ok {
		return c, nil
	}
	c := store.Default(userID, roomID, f.model)
	f.ctxs[f.key(userID, roomID)] = c
	return c, nil
}

func (f *fakeConvStore) Create(ctx context.Context, c store.UserGptContext, mode store.PutMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctxs[f.key(c.Profile.UserID, c.Profile.RoomID)] = c
	return nil
}

func (f *fakeConvStore) UpdateProfileAndModel(ctx context.Context, c store.UserGptContext) error {
	return nil
}

func (f *fakeConvStore) Append(ctx context.Context, userID, roomID string, role store.Role, h store.MessageHistory) error {
	return nil
}

func (f *fakeConvStore) PopLeft(ctx context.Context, userID, roomID string, role store.Role, n int) ([]store.MessageHistory, error) {
	return nil, nil
}

func (f *fakeConvStore) PopRight(ctx context.Context, userID, roomID string, role store.Role, n int) ([]store.MessageHistory, error) {
	return nil, nil
}

func (f *fakeConvStore) SetAt(ctx context.Context, userID, roomID string, role store.Role, index int, h store.MessageHistory) error {
	return nil
}

func (f *fakeConvStore) ClearRole(ctx context.Context, userID, roomID string, role store.Role) error {
	return nil
}

// fakeModels is a trivial store.ModelRegistry resolving a single model.
type fakeModels struct{ model store.LLMModel }

func (f fakeModels) Resolve(name string) (store.LLMModel, bool) {
	if name == f.model.Name() {
		return f.model, true
	}
	return store.LLMModel{}, false
}

func (f fakeModels) Default() store.LLMModel { return f.model }

// fakeProducer is an llm.Producer that emits a fixed reply then completes.
type fakeProducer struct{ reply string }

func (p fakeProducer) Stream(ctx context.Context, c *store.UserGptContext, userID string, buf *contextbuf.Buffer, sink llm.Sink) error {
	sink.OnDelta(p.reply)
	return nil
}

func testModel(maxPerRequest int) store.LLMModel {
	return store.LLMModel{Remote: &store.RemoteChatModel{
		Name:                "test-model",
		MaxTotalTokens:      100000,
		MaxTokensPerRequest: maxPerRequest,
		TokenMargin:         0,
		Tokenizer:           tokenizer.NewHeuristic(),
	}}
}

// harness wires a Server behind an httptest server and dials one client.
type harness struct {
	t    *testing.T
	ts   *httptest.Server
	conn *websocket.Conn
}

func newHarness(t *testing.T, relStore relstore.Store, convStore store.Store, model store.LLMModel) *harness {
	t.Helper()
	models := fakeModels{model: model}
	srv := New(relStore, convStore, models, nil, nil, commands.NewRegistry(), llm.New(fakeProducer{reply: "hi there"}, nil), nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		srv.ServeWS(w, r, "u1")
	})
	ts := httptest.NewServer(mux)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v (resp %v)", err, resp)
	}
	return &harness{t: t, ts: ts, conn: conn}
}

func (h *harness) close() {
	h.conn.Close()
	h.ts.Close()
}

func (h *harness) readFrame(timeout time.Duration) *protocol.ServerFrame {
	h.t.Helper()
	h.conn.SetReadDeadline(time.Now().Add(timeout))
	var f protocol.ServerFrame
	if err := h.conn.ReadJSON(&f); err != nil {
		h.t.Fatalf("read frame: %v", err)
	}
	return &f
}

func (h *harness) send(msg string, chatroomID int64) {
	h.t.Helper()
	body, _ := json.Marshal(protocol.ClientFrame{Msg: &msg, ChatroomID: &chatroomID})
	if err := h.conn.WriteMessage(websocket.TextMessage, body); err != nil {
		h.t.Fatalf("write: %v", err)
	}
}

func TestActivateSendsInitFrameWithRoomIDs(t *testing.T) {
	rel := &fakeRelStore{rooms: map[string][]string{"u1": {"7"}}}
	conv := newFakeConvStore(testModel(1000))
	conv.seed("u1", "7", time.Now())

	h := newHarness(t, rel, conv, testModel(1000))
	defer h.close()

	f := h.readFrame(5 * time.Second)
	if !f.Init {
		t.Fatalf("expected init frame, got %+v", f)
	}
	if f.ChatroomID != 7 {
		t.Fatalf("expected chatroom_id 7, got %d", f.ChatroomID)
	}
}

func TestActivateSortsMostRecentRoomFirst(t *testing.T) {
	rel := &fakeRelStore{rooms: map[string][]string{"u1": {"7", "11"}}}
	conv := newFakeConvStore(testModel(1000))
	conv.seed("u1", "7", time.Now().Add(-time.Hour))
	conv.seed("u1", "11", time.Now())

	h := newHarness(t, rel, conv, testModel(1000))
	defer h.close()

	f := h.readFrame(5 * time.Second)
	if f.ChatroomID != 11 {
		t.Fatalf("expected most-recent room 11 current, got %d", f.ChatroomID)
	}
}

func TestRoomSwitchSendsInitFrame(t *testing.T) {
	rel := &fakeRelStore{rooms: map[string][]string{"u1": {"7", "11"}}}
	conv := newFakeConvStore(testModel(1000))
	conv.seed("u1", "7", time.Now())
	conv.seed("u1", "11", time.Now().Add(-time.Hour))

	h := newHarness(t, rel, conv, testModel(1000))
	defer h.close()

	h.readFrame(5 * time.Second) // startup init, current room 7

	h.send("", 11)
	f := h.readFrame(5 * time.Second)
	if !f.Init || f.ChatroomID != 11 {
		t.Fatalf("expected init frame for room 11, got %+v", f)
	}
}

func TestUnknownRoomSwitchReportsErrorAndContinues(t *testing.T) {
	rel := &fakeRelStore{rooms: map[string][]string{"u1": {"7"}}}
	conv := newFakeConvStore(testModel(1000))
	conv.seed("u1", "7", time.Now())

	h := newHarness(t, rel, conv, testModel(1000))
	defer h.close()

	h.readFrame(5 * time.Second) // startup init

	h.send("hello", 999)
	f := h.readFrame(5 * time.Second)
	if f.Init {
		t.Fatalf("expected a text error frame, got an init frame")
	}
	if f.Msg == nil || !strings.Contains(*f.Msg, "unknown room") {
		t.Fatalf("expected unknown room error, got %+v", f)
	}

	// The connection must still be alive: a valid turn on the real room works.
	h.send("/ping", 7)
	f = h.readFrame(5 * time.Second)
	if f.Msg == nil || *f.Msg != "pong" {
		t.Fatalf("expected pong after recovering from protocol error, got %+v", f)
	}
}

func TestSlashCommandSendAndStop(t *testing.T) {
	rel := &fakeRelStore{rooms: map[string][]string{"u1": {"7"}}}
	conv := newFakeConvStore(testModel(1000))
	conv.seed("u1", "7", time.Now())

	h := newHarness(t, rel, conv, testModel(1000))
	defer h.close()

	h.readFrame(5 * time.Second) // startup init

	h.send("/ping", 7)
	f := h.readFrame(5 * time.Second)
	if f.Msg == nil || *f.Msg != "pong" {
		t.Fatalf("expected pong, got %+v", f)
	}
	if !f.Finish {
		t.Fatalf("expected a terminal text frame for a send-and-stop command")
	}
}

func TestPlainTurnGeneratesReply(t *testing.T) {
	rel := &fakeRelStore{rooms: map[string][]string{"u1": {"7"}}}
	conv := newFakeConvStore(testModel(1000))
	conv.seed("u1", "7", time.Now())

	h := newHarness(t, rel, conv, testModel(1000))
	defer h.close()

	h.readFrame(5 * time.Second) // startup init

	h.send("hello there", 7)

	// streamsender.Open() emits an opening nil-msg frame first.
	opening := h.readFrame(5 * time.Second)
	if opening.Msg != nil {
		t.Fatalf("expected nil-msg opening frame, got %+v", opening)
	}

	final := h.readFrame(5 * time.Second)
	if final.Msg == nil || !strings.Contains(*final.Msg, "hi there") {
		t.Fatalf("expected the producer's reply to be delivered, got %+v", final)
	}
}

func TestMessageTooLongSendsBudgetError(t *testing.T) {
	rel := &fakeRelStore{rooms: map[string][]string{"u1": {"7"}}}
	tinyModel := testModel(1) // one token budget per request
	conv := newFakeConvStore(tinyModel)
	conv.seed("u1", "7", time.Now())

	h := newHarness(t, rel, conv, tinyModel)
	defer h.close()

	h.readFrame(5 * time.Second) // startup init

	h.send("this message is definitely longer than one token", 7)
	f := h.readFrame(5 * time.Second)
	if f.Msg == nil || !strings.Contains(*f.Msg, "Message too long") {
		t.Fatalf("expected a budget error frame, got %+v", f)
	}
}
