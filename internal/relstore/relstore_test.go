package relstore

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryStoreListAndGetRooms(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Seed("u1", Room{ID: "r1", Title: "General", Search: "corpus-r1"})
	s.Seed("u1", Room{ID: "r2", Title: "Support", Search: "corpus-r2"})
	s.Seed("u2", Room{ID: "r3", Title: "Other user", Search: "corpus-r3"})

	ids, err := s.ListRooms(ctx, "u1")
	if err != nil {
		t.Fatalf("list rooms: %v", err)
	}
	if len(ids) != 2 || ids[0] != "r1" || ids[1] != "r2" {
		t.Fatalf("unexpected room ids: %v", ids)
	}

	room, err := s.GetRoom(ctx, "r2")
	if err != nil {
		t.Fatalf("get room: %v", err)
	}
	if room.Title != "Support" || room.Search != "corpus-r2" {
		t.Fatalf("unexpected room: %+v", room)
	}
}

func TestMemoryStoreGetRoomMissingIsUnreachable(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.GetRoom(context.Background(), "nonexistent")
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("expected ErrUnreachable, got %v", err)
	}
}

func TestMemoryStoreListRoomsUnknownUserIsEmpty(t *testing.T) {
	s := NewMemoryStore()
	ids, err := s.ListRooms(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("list rooms: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected no rooms, got %v", ids)
	}
}
