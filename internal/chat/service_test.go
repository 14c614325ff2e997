package chat

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/staffchat/internal/directory"
	"github.com/eldtechnologies/staffchat/internal/models"
	"github.com/eldtechnologies/staffchat/internal/store"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.Event
	fail   int // fail this many calls before succeeding
	calls  int
}

func (p *recordingPublisher) Publish(_ context.Context, ev models.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.fail > 0 {
		p.fail--
		return errors.New("relay unavailable")
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) kinds() []models.EventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.EventKind, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Kind
	}
	return out
}

func (p *recordingPublisher) count(kind models.EventKind) int {
	n := 0
	for _, k := range p.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

var staff = []models.User{
	{ID: "alice", FirstName: "Alice", LastName: "Arden", Role: models.RoleAdmin},
	{ID: "bob", FirstName: "Bob", LastName: "Brandt", Role: models.RoleGuide},
	{ID: "carol", FirstName: "Carol", LastName: "Cho", Role: models.RoleCoordinator},
	{ID: "dan", FirstName: "Dan", LastName: "Dorsey", Role: models.RoleSecurity},
	{ID: "vic", FirstName: "Vic", LastName: "Visitor", Role: models.RoleVisitor},
}

func newTestService(t *testing.T) (*Service, *recordingPublisher, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(st.Close)

	pub := &recordingPublisher{}
	svc := NewService(st, directory.NewStatic(staff), pub, zerolog.Nop())
	svc.retry = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return svc, pub, st
}

func TestResolveDirectIdempotentAndSymmetric(t *testing.T) {
	ctx := context.Background()
	svc, pub, _ := newTestService(t)

	first, created, err := svc.ResolveDirect(ctx, "alice", "bob")
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Fatal("expected first resolve to create")
	}

	again, created, err := svc.ResolveDirect(ctx, "alice", "bob")
	if err != nil {
		t.Fatal(err)
	}
	reverse, createdReverse, err := svc.ResolveDirect(ctx, "bob", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if created || createdReverse {
		t.Error("expected later resolves to reuse the room")
	}
	if again.ID != first.ID || reverse.ID != first.ID {
		t.Fatalf("expected one room, got %s %s %s", first.ID, again.ID, reverse.ID)
	}
	if len(first.Participants) != 2 || first.Type != models.RoomTypeDirect || first.Name != nil {
		t.Fatalf("unexpected direct room shape: %+v", first)
	}
	if n := pub.count(models.EventRoomCreated); n != 1 {
		t.Errorf("expected 1 room_created event, got %d", n)
	}
}

func TestResolveDirectErrors(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	tests := []struct {
		name string
		a, b string
		want error
	}{
		{"self", "alice", "alice", ErrValidation},
		{"empty", "alice", "", ErrValidation},
		{"unknown target", "alice", "zed", ErrNotFound},
		{"unknown requester", "zed", "alice", ErrNotFound},
		{"visitor target", "alice", "vic", ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.ResolveDirect(ctx, tt.a, tt.b)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestResolveDirectConcurrent(t *testing.T) {
	ctx := context.Background()
	svc, pub, st := newTestService(t)

	const workers = 8
	var wg sync.WaitGroup
	ids := make([]string, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := "alice", "bob"
			if i%2 == 1 {
				a, b = b, a
			}
			room, _, err := svc.ResolveDirect(ctx, a, b)
			errs[i] = err
			if room != nil {
				ids[i] = room.ID
			}
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("worker %d: %v", i, err)
		}
		if ids[i] != ids[0] {
			t.Fatalf("worker %d got room %s, want %s", i, ids[i], ids[0])
		}
	}

	rooms, err := st.ListRoomsForUser(ctx, "alice", store.RoomCursor{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(rooms) != 1 {
		t.Fatalf("expected exactly 1 direct room, got %d", len(rooms))
	}
	if n := pub.count(models.EventRoomCreated); n != 1 {
		t.Errorf("expected 1 room_created event, got %d", n)
	}
}

func TestCreateGroupRoom(t *testing.T) {
	ctx := context.Background()
	svc, pub, _ := newTestService(t)

	tests := []struct {
		name    string
		room    string
		members []string
		want    error
	}{
		{"blank name", "  ", []string{"bob"}, ErrValidation},
		{"only creator", "Ops", []string{"alice", ""}, ErrValidation},
		{"too long", strings.Repeat("x", MaxRoomNameLength+1), []string{"bob"}, ErrValidation},
		{"unknown member", "Ops", []string{"bob", "zed"}, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateGroupRoom(ctx, "alice", tt.room, tt.members)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	room, err := svc.CreateGroupRoom(ctx, "alice", " Night shift ", []string{"bob", "carol", "bob"})
	if err != nil {
		t.Fatal(err)
	}
	if room.Name == nil || *room.Name != "Night shift" {
		t.Errorf("unexpected name: %v", room.Name)
	}
	if len(room.Participants) != 3 || !room.HasParticipant("alice") {
		t.Errorf("unexpected participants: %+v", room.Participants)
	}
	if room.HasActivity() {
		t.Error("new room should have no activity")
	}
	if n := pub.count(models.EventRoomCreated); n != 1 {
		t.Errorf("expected 1 room_created event, got %d", n)
	}
}

func TestAppendMessage(t *testing.T) {
	ctx := context.Background()
	svc, pub, st := newTestService(t)

	room, _, err := svc.ResolveDirect(ctx, "alice", "bob")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		roomID  string
		sender  string
		content string
		want    error
	}{
		{"blank", room.ID, "alice", " \n\t", ErrValidation},
		{"too long", room.ID, "alice", strings.Repeat("a", MaxContentLength+1), ErrValidation},
		{"unknown room", "ghost", "alice", "hi", ErrNotFound},
		{"non participant", room.ID, "carol", "hi", ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.AppendMessage(ctx, tt.roomID, tt.sender, tt.content)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	msgs, err := st.ListMessages(ctx, room.ID, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Fatalf("rejected posts must not insert, found %d messages", len(msgs))
	}

	before, _ := st.GetRoom(ctx, room.ID)
	msg, err := svc.AppendMessage(ctx, room.ID, "alice", "  hello bob  ")
	if err != nil {
		t.Fatal(err)
	}
	if msg.Content != "hello bob" || msg.MessageType != models.MessageTypeText {
		t.Errorf("unexpected message: %+v", msg)
	}
	after, _ := st.GetRoom(ctx, room.ID)
	if !after.UpdatedAt.After(before.UpdatedAt) {
		t.Errorf("expected updated_at to advance: %v -> %v", before.UpdatedAt, after.UpdatedAt)
	}

	if n := pub.count(models.EventMessageInserted); n != 1 {
		t.Fatalf("expected 1 message_inserted event, got %d", n)
	}
	ev := pub.events[len(pub.events)-1]
	if ev.RoomID != room.ID || ev.MessageID != msg.ID || !ev.AddressedTo("bob") || ev.AddressedTo("carol") {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestAppendMessageSurvivesPublishFailure(t *testing.T) {
	ctx := context.Background()
	svc, pub, st := newTestService(t)

	room, _, err := svc.ResolveDirect(ctx, "alice", "bob")
	if err != nil {
		t.Fatal(err)
	}

	pub.fail = 100
	pub.calls = 0
	msg, err := svc.AppendMessage(ctx, room.ID, "alice", "still delivered by polling")
	if err != nil {
		t.Fatalf("append must not fail on publish error: %v", err)
	}
	if pub.calls != publishRetries+1 {
		t.Errorf("expected %d publish attempts, got %d", publishRetries+1, pub.calls)
	}
	if got, _ := st.GetMessage(ctx, msg.ID); got == nil {
		t.Error("message not persisted")
	}

	// A transient failure is retried.
	pub.fail = 1
	if _, err := svc.AppendMessage(ctx, room.ID, "bob", "second"); err != nil {
		t.Fatal(err)
	}
	if n := pub.count(models.EventMessageInserted); n != 1 {
		t.Errorf("expected retried event to be published once, got %d", n)
	}
}

func TestListMessages(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	frozen := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return frozen }

	room, err := svc.CreateGroupRoom(ctx, "alice", "Dispatch", []string{"bob", "carol"})
	if err != nil {
		t.Fatal(err)
	}
	var sent []*models.ChatMessage
	for _, p := range []struct{ from, text string }{
		{"alice", "one"}, {"bob", "two"}, {"carol", "three"}, {"alice", "four"},
	} {
		m, err := svc.AppendMessage(ctx, room.ID, p.from, p.text)
		if err != nil {
			t.Fatal(err)
		}
		sent = append(sent, m)
	}

	all, err := svc.ListMessages(ctx, room.ID, "bob", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if !all[i-1].Before(all[i].ChatMessage) {
			t.Errorf("messages %d and %d out of order", i-1, i)
		}
	}
	if all[1].SenderName != "Bob Brandt" {
		t.Errorf("expected sender name, got %q", all[1].SenderName)
	}

	since, err := svc.ListMessages(ctx, room.ID, "bob", sent[1].ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(since) != 2 || since[0].ID != sent[2].ID || since[1].ID != sent[3].ID {
		t.Fatalf("unexpected since result: %+v", since)
	}

	limited, err := svc.ListMessages(ctx, room.ID, "bob", "", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 || limited[0].ID != sent[0].ID {
		t.Fatalf("unexpected limited result: %+v", limited)
	}

	if _, err := svc.ListMessages(ctx, room.ID, "dan", "", 0); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
	if _, err := svc.ListMessages(ctx, "ghost", "bob", "", 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteMessage(t *testing.T) {
	ctx := context.Background()
	svc, pub, st := newTestService(t)

	room, _, err := svc.ResolveDirect(ctx, "alice", "bob")
	if err != nil {
		t.Fatal(err)
	}
	msg, err := svc.AppendMessage(ctx, room.ID, "alice", "typo")
	if err != nil {
		t.Fatal(err)
	}
	touched, _ := st.GetRoom(ctx, room.ID)

	if err := svc.DeleteMessage(ctx, msg.ID, "bob"); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden for non-author, got %v", err)
	}
	if err := svc.DeleteMessage(ctx, "missing", "alice"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := svc.DeleteMessage(ctx, msg.ID, "alice"); err != nil {
		t.Fatal(err)
	}

	left, err := svc.ListMessages(ctx, room.ID, "alice", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 0 {
		t.Errorf("expected message removed, got %d", len(left))
	}
	after, _ := st.GetRoom(ctx, room.ID)
	if !after.UpdatedAt.Equal(touched.UpdatedAt) {
		t.Errorf("delete must not move updated_at: %v -> %v", touched.UpdatedAt, after.UpdatedAt)
	}
	if n := pub.count(models.EventMessageDeleted); n != 1 {
		t.Errorf("expected 1 message_deleted event, got %d", n)
	}
}

func TestRoomsForUserOrderingAndPaging(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	clock := time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
	svc.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	ab, _, _ := svc.ResolveDirect(ctx, "alice", "bob")
	ac, _, _ := svc.ResolveDirect(ctx, "alice", "carol")
	ad, _, _ := svc.ResolveDirect(ctx, "alice", "dan")
	if _, err := svc.AppendMessage(ctx, ab.ID, "bob", "ping"); err != nil {
		t.Fatal(err)
	}

	page, err := svc.RoomsForUser(ctx, "alice", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{ab.ID, ad.ID, ac.ID}
	if len(page.Rooms) != len(want) {
		t.Fatalf("expected %d rooms, got %d", len(want), len(page.Rooms))
	}
	for i := range want {
		if page.Rooms[i].ID != want[i] {
			t.Errorf("position %d: want %s, got %s", i, want[i], page.Rooms[i].ID)
		}
	}
	if page.NextCursor != "" {
		t.Error("unpaged listing should not return a cursor")
	}

	first, err := svc.RoomsForUser(ctx, "alice", "", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(first.Rooms) != 2 || first.NextCursor == "" {
		t.Fatalf("expected 2 rooms and a cursor, got %d %q", len(first.Rooms), first.NextCursor)
	}
	second, err := svc.RoomsForUser(ctx, "alice", first.NextCursor, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(second.Rooms) != 1 || second.Rooms[0].ID != ac.ID || second.NextCursor != "" {
		t.Fatalf("unexpected second page: %+v", second)
	}

	if _, err := svc.RoomsForUser(ctx, "alice", "%%%", 2); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for bad cursor, got %v", err)
	}

	empty, err := svc.RoomsForUser(ctx, "carol-less", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if empty.Rooms == nil || len(empty.Rooms) != 0 {
		t.Errorf("expected empty, non-nil rooms, got %#v", empty.Rooms)
	}
}

func TestTouchRoomNeverRewinds(t *testing.T) {
	ctx := context.Background()
	svc, _, st := newTestService(t)

	room, _, err := svc.ResolveDirect(ctx, "alice", "bob")
	if err != nil {
		t.Fatal(err)
	}
	future := room.UpdatedAt.Add(time.Hour)
	if err := svc.TouchRoom(ctx, room.ID, future); err != nil {
		t.Fatal(err)
	}
	if err := svc.TouchRoom(ctx, room.ID, room.UpdatedAt); err != nil {
		t.Fatal(err)
	}
	got, _ := st.GetRoom(ctx, room.ID)
	if !got.UpdatedAt.Equal(future.Truncate(time.Microsecond)) {
		t.Errorf("expected %v, got %v", future, got.UpdatedAt)
	}
	if err := svc.TouchRoom(ctx, "ghost", future); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTouchRoomDoesNotMakeRoomUnread(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	room, err := svc.CreateGroupRoom(ctx, "alice", "Quiet room", []string{"bob"})
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.TouchRoom(ctx, room.ID, room.UpdatedAt.Add(time.Second)); err != nil {
		t.Fatal(err)
	}

	msgs, err := svc.ListMessages(ctx, room.ID, "bob", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected no messages, got %d", len(msgs))
	}

	page, err := svc.RoomsForUser(ctx, "bob", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Rooms) != 1 {
		t.Fatalf("expected 1 room, got %d", len(page.Rooms))
	}
	touched := page.Rooms[0]
	if touched.HasActivity() || UnreadFor(&touched, "bob") {
		t.Errorf("touched room without messages reported unread: %+v", touched)
	}

	if _, err := svc.AppendMessage(ctx, room.ID, "alice", "now there is one"); err != nil {
		t.Fatal(err)
	}
	got, err := svc.Room(ctx, room.ID, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if !UnreadFor(got, "bob") {
		t.Error("expected room to be unread after a message")
	}
}

func TestDeleteRoom(t *testing.T) {
	ctx := context.Background()
	svc, pub, st := newTestService(t)

	room, _, err := svc.ResolveDirect(ctx, "alice", "bob")
	if err != nil {
		t.Fatal(err)
	}
	msg, err := svc.AppendMessage(ctx, room.ID, "alice", "history")
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.DeleteRoom(ctx, room.ID, "carol"); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
	if err := svc.DeleteRoom(ctx, room.ID, "bob"); err != nil {
		t.Fatal(err)
	}
	if err := svc.DeleteRoom(ctx, room.ID, "bob"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on repeat, got %v", err)
	}
	if m, _ := st.GetMessage(ctx, msg.ID); m != nil {
		t.Error("message survived room delete")
	}
	if n := pub.count(models.EventRoomDeleted); n != 1 {
		t.Errorf("expected 1 room_deleted event, got %d", n)
	}

	again, created, err := svc.ResolveDirect(ctx, "alice", "bob")
	if err != nil {
		t.Fatal(err)
	}
	if !created || again.ID == room.ID {
		t.Error("expected a fresh direct room after wipe")
	}
}
