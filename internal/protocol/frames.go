// Package protocol is the upstream client duplex framing contract (spec.md
// §6): the JSON shapes exchanged over the client socket, shared by the
// command handler, the streaming sender, and the connection pump so none of
// them need to import each other.
package protocol

// ClientFrame is the decoded JSON body of a client->server text frame.
type ClientFrame struct {
	Msg        *string `json:"msg,omitempty"`
	ChatroomID *int64  `json:"chatroom_id,omitempty"`
	Filename   *string `json:"filename,omitempty"`
}

// ServerFrame is one server->client frame (spec.md §6).
type ServerFrame struct {
	Msg        *string `json:"msg"`
	Finish     bool    `json:"finish"`
	ChatroomID int64   `json:"chatroom_id"`
	IsUser     bool    `json:"is_user"`
	Init       bool    `json:"init"`
	ModelName  *string `json:"model_name"`
}

// HistoryProjection is one entry of an init frame's previous_chats array.
type HistoryProjection struct {
	Role      string  `json:"role"`
	Content   string  `json:"content"`
	Tokens    int     `json:"tokens"`
	IsUser    bool    `json:"is_user"`
	Timestamp int64   `json:"timestamp"`
	ModelName *string `json:"model_name,omitempty"`
}

// InitPayload is JSON-encoded into an init ServerFrame's Msg field.
type InitPayload struct {
	PreviousChats []HistoryProjection `json:"previous_chats"`
	ChatroomIDs   []int64             `json:"chatroom_ids"`
	InitCallback  bool                `json:"init_callback"`
}

// Sender is the narrow outbound-socket capability commands and the
// streaming sender need; the connection pump's websocket wrapper satisfies
// it, and tests use an in-memory recorder.
type Sender interface {
	Send(frame ServerFrame) error
}
