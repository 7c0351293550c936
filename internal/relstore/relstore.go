// Package relstore is the relational store external collaborator (spec.md
// §1 Non-goals, §6): list_rooms(user_id) -> [room_id], get_room(room_id) ->
// {title, search}. The core only depends on this interface; connectivity
// failures are surfaced as a typed error the gateway translates to a
// terminal frame.
package relstore

import (
	"context"
	"errors"
)

// ErrUnreachable is the typed connectivity error spec.md §6 requires:
// "must raise a typed connectivity error that the core translates to a
// terminal frame."
var ErrUnreachable = errors.New("relational store unreachable")

// Room is a room's metadata row, outside the core's ownership.
type Room struct {
	ID     string
	Title  string
	Search string // the search-corpus identifier used for retrieval (§6)
}

// Store is the relational-store contract.
type Store interface {
	ListRooms(ctx context.Context, userID string) ([]string, error)
	GetRoom(ctx context.Context, roomID string) (Room, error)
}
