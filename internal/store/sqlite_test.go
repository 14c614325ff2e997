package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/eldtechnologies/staffchat/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Close)
	return s
}

func directRoom(a, b string) *models.ChatRoom {
	return &models.ChatRoom{
		Type:         models.RoomTypeDirect,
		Participants: []models.Participant{{UserID: a}, {UserID: b}},
	}
}

func TestCreateRoomDirectUnique(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.CreateRoom(ctx, directRoom("alice", "bob")); err != nil {
		t.Fatal(err)
	}
	err := s.CreateRoom(ctx, directRoom("bob", "alice"))
	if !errors.Is(err, ErrDirectRoomExists) {
		t.Fatalf("expected ErrDirectRoomExists, got %v", err)
	}

	room, err := s.FindDirectRoom(ctx, "bob", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if room == nil || len(room.Participants) != 2 {
		t.Fatalf("expected direct room with 2 participants, got %+v", room)
	}
}

func TestGetRoomMissing(t *testing.T) {
	s := newTestStore(t)
	room, err := s.GetRoom(context.Background(), "nope")
	if err != nil {
		t.Fatal(err)
	}
	if room != nil {
		t.Fatalf("expected nil room, got %+v", room)
	}
}

func TestAppendMessageOrderingAndTouch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	frozen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return frozen }

	room := directRoom("alice", "bob")
	if err := s.CreateRoom(ctx, room); err != nil {
		t.Fatal(err)
	}

	var last models.ChatMessage
	for i := 0; i < 5; i++ {
		sender := "alice"
		msg := &models.ChatMessage{RoomID: room.ID, SenderID: &sender, Content: "hi"}
		if err := s.AppendMessage(ctx, msg); err != nil {
			t.Fatal(err)
		}
		if i > 0 && !last.Before(*msg) {
			t.Fatalf("message %d not after previous: %v vs %v", i, msg.CreatedAt, last.CreatedAt)
		}
		last = *msg
	}

	got, err := s.GetRoom(ctx, room.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.UpdatedAt.Equal(last.CreatedAt) {
		t.Errorf("expected updated_at %v, got %v", last.CreatedAt, got.UpdatedAt)
	}
	if !got.HasActivity() || !got.LastMessageAt.Equal(last.CreatedAt) {
		t.Errorf("expected last_message_at %v, got %v", last.CreatedAt, got.LastMessageAt)
	}
}

func TestTouchRoomLeavesLastMessageAt(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	room := &models.ChatRoom{Type: models.RoomTypeGroup, Participants: []models.Participant{{UserID: "a"}, {UserID: "b"}}}
	if err := s.CreateRoom(ctx, room); err != nil {
		t.Fatal(err)
	}
	if err := s.TouchRoom(ctx, room.ID, room.UpdatedAt.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetRoom(ctx, room.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.LastMessageAt != nil {
		t.Errorf("expected no last_message_at after touch, got %v", got.LastMessageAt)
	}

	rooms, err := s.ListRoomsForUser(ctx, "a", RoomCursor{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(rooms) != 1 || rooms[0].HasActivity() {
		t.Errorf("expected one room without activity, got %+v", rooms)
	}
}

func TestAppendMessageRoomMissing(t *testing.T) {
	s := newTestStore(t)
	err := s.AppendMessage(context.Background(), &models.ChatMessage{RoomID: "ghost", Content: "x"})
	if !errors.Is(err, ErrRoomMissing) {
		t.Fatalf("expected ErrRoomMissing, got %v", err)
	}
}

func TestListMessagesSince(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	room := directRoom("alice", "bob")
	if err := s.CreateRoom(ctx, room); err != nil {
		t.Fatal(err)
	}
	var sent []models.ChatMessage
	for _, content := range []string{"one", "two", "three"} {
		msg := &models.ChatMessage{RoomID: room.ID, Content: content}
		if err := s.AppendMessage(ctx, msg); err != nil {
			t.Fatal(err)
		}
		sent = append(sent, *msg)
	}

	tests := []struct {
		name    string
		sinceID string
		want    []string
	}{
		{"all", "", []string{"one", "two", "three"}},
		{"after first", sent[0].ID, []string{"two", "three"}},
		{"after last", sent[2].ID, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListMessages(ctx, room.ID, tt.sinceID, 0)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d messages, got %d", len(tt.want), len(got))
			}
			for i := range got {
				if got[i].Content != tt.want[i] {
					t.Errorf("message %d: expected %q, got %q", i, tt.want[i], got[i].Content)
				}
			}
		})
	}

	t.Run("deleted since message", func(t *testing.T) {
		if err := s.DeleteMessage(ctx, sent[1].ID); err != nil {
			t.Fatal(err)
		}
		got, err := s.ListMessages(ctx, room.ID, sent[1].ID, 0)
		if err != nil {
			t.Fatal(err)
		}
		// Falls back to the timestamp in the ULID, so "three" must be present.
		found := false
		for _, m := range got {
			if m.ID == sent[1].ID {
				t.Fatal("deleted message returned")
			}
			if m.ID == sent[2].ID {
				found = true
			}
		}
		if !found {
			t.Fatal("expected later message after deleted cursor")
		}
	})
}

func TestDeleteMessageKeepsUpdatedAt(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	room := directRoom("alice", "bob")
	if err := s.CreateRoom(ctx, room); err != nil {
		t.Fatal(err)
	}
	msg := &models.ChatMessage{RoomID: room.ID, Content: "oops"}
	if err := s.AppendMessage(ctx, msg); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteMessage(ctx, msg.ID); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetRoom(ctx, room.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.UpdatedAt.Equal(msg.CreatedAt) {
		t.Errorf("updated_at rewound: expected %v, got %v", msg.CreatedAt, got.UpdatedAt)
	}
	if m, _ := s.GetMessage(ctx, msg.ID); m != nil {
		t.Error("message still present after delete")
	}
}

func TestMarkReadNeverRegresses(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	room := directRoom("alice", "bob")
	if err := s.CreateRoom(ctx, room); err != nil {
		t.Fatal(err)
	}

	later := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	earlier := later.Add(-time.Hour)

	if ok, err := s.MarkRead(ctx, room.ID, "alice", later); err != nil || !ok {
		t.Fatalf("MarkRead: ok=%v err=%v", ok, err)
	}
	if _, err := s.MarkRead(ctx, room.ID, "alice", earlier); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.MarkRead(ctx, room.ID, "mallory", later); ok {
		t.Error("expected MarkRead to report false for non-participant")
	}

	got, err := s.GetRoom(ctx, room.ID)
	if err != nil {
		t.Fatal(err)
	}
	p := got.Participant("alice")
	if p == nil || p.LastReadAt == nil || !p.LastReadAt.Equal(later) {
		t.Fatalf("expected last_read_at %v, got %+v", later, p)
	}
	if got.Participant("bob").LastReadAt != nil {
		t.Error("bob's watermark should be untouched")
	}
}

func TestDeleteRoomCascades(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	room := directRoom("alice", "bob")
	if err := s.CreateRoom(ctx, room); err != nil {
		t.Fatal(err)
	}
	msg := &models.ChatMessage{RoomID: room.ID, Content: "bye"}
	if err := s.AppendMessage(ctx, msg); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteRoom(ctx, room.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteRoom(ctx, room.ID); !errors.Is(err, ErrRoomMissing) {
		t.Fatalf("expected ErrRoomMissing on second delete, got %v", err)
	}
	if m, _ := s.GetMessage(ctx, msg.ID); m != nil {
		t.Error("message survived room delete")
	}
	if ok, _ := s.IsParticipant(ctx, room.ID, "alice"); ok {
		t.Error("participant survived room delete")
	}
	// The pair can start over.
	if err := s.CreateRoom(ctx, directRoom("alice", "bob")); err != nil {
		t.Fatalf("recreate after delete: %v", err)
	}
}

func TestListRoomsForUserCursor(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var want []string
	for i, peer := range []string{"bob", "carol", "dave"} {
		room := directRoom("alice", peer)
		room.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := s.CreateRoom(ctx, room); err != nil {
			t.Fatal(err)
		}
		want = append([]string{room.ID}, want...)
	}
	if err := s.CreateRoom(ctx, directRoom("bob", "carol")); err != nil {
		t.Fatal(err)
	}

	first, err := s.ListRoomsForUser(ctx, "alice", RoomCursor{}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 2 || first[0].ID != want[0] || first[1].ID != want[1] {
		t.Fatalf("unexpected first page: %+v", first)
	}

	cursor := RoomCursor{UpdatedAt: first[1].UpdatedAt, ID: first[1].ID}
	parsed, err := ParseRoomCursor(cursor.Encode())
	if err != nil {
		t.Fatal(err)
	}
	rest, err := s.ListRoomsForUser(ctx, "alice", parsed, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 1 || rest[0].ID != want[2] {
		t.Fatalf("unexpected second page: %+v", rest)
	}
	if len(rest[0].Participants) != 2 {
		t.Errorf("expected participants loaded, got %d", len(rest[0].Participants))
	}
}

func TestParseRoomCursorInvalid(t *testing.T) {
	for _, in := range []string{"!!!", "bm9waXBl", "YWJjfA"} {
		if _, err := ParseRoomCursor(in); err == nil {
			t.Errorf("expected error for %q", in)
		}
	}
}

func TestNextMessageTime(t *testing.T) {
	last := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"clock ahead", last.Add(time.Second), last.Add(time.Second)},
		{"clock equal", last, last.Add(time.Microsecond)},
		{"clock behind", last.Add(-time.Second), last.Add(time.Microsecond)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := nextMessageTime(tt.now, last); !got.Equal(tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}
