package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eldtechnologies/staffchat/internal/ids"
	"github.com/eldtechnologies/staffchat/internal/metrics"
	"github.com/eldtechnologies/staffchat/internal/models"
)

const uniqueViolation = "23505"

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool, now: time.Now}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func observe(start time.Time) {
	metrics.PostgresLatency.Observe(time.Since(start).Seconds())
}

// CreateRoom inserts the room and its participants in one transaction.
func (s *PostgresStore) CreateRoom(ctx context.Context, room *models.ChatRoom) error {
	defer observe(time.Now())

	if room.ID == "" {
		room.ID = ids.NewRoomID()
	}
	if room.CreatedAt.IsZero() {
		room.CreatedAt = s.now()
	}
	room.CreatedAt = room.CreatedAt.UTC().Truncate(time.Microsecond)
	if room.UpdatedAt.Before(room.CreatedAt) {
		room.UpdatedAt = room.CreatedAt
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO chat_rooms (id, name, type, direct_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, room.ID, room.Name, string(room.Type), directKey(room), room.CreatedAt, room.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == "chat_rooms_direct_key_key" {
			return ErrDirectRoomExists
		}
		return fmt.Errorf("failed to insert room: %w", err)
	}

	batch := &pgx.Batch{}
	for _, p := range room.Participants {
		batch.Queue(`INSERT INTO chat_participants (room_id, user_id) VALUES ($1, $2)`, room.ID, p.UserID)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert participants: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetRoom retrieves a room with its participants.
func (s *PostgresStore) GetRoom(ctx context.Context, id string) (*models.ChatRoom, error) {
	return s.getRoomWhere(ctx, "id = $1", id)
}

// FindDirectRoom returns the direct room for the unordered pair, if any.
func (s *PostgresStore) FindDirectRoom(ctx context.Context, userA, userB string) (*models.ChatRoom, error) {
	return s.getRoomWhere(ctx, "direct_key = $1", models.DirectKey(userA, userB))
}

func (s *PostgresStore) getRoomWhere(ctx context.Context, where string, arg any) (*models.ChatRoom, error) {
	defer observe(time.Now())

	room := &models.ChatRoom{}
	var roomType string
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, type, created_at, updated_at, last_message_at
		FROM chat_rooms WHERE `+where, arg).Scan(
		&room.ID,
		&room.Name,
		&roomType,
		&room.CreatedAt,
		&room.UpdatedAt,
		&room.LastMessageAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	room.Type = models.RoomType(roomType)
	room.CreatedAt = room.CreatedAt.UTC()
	room.UpdatedAt = room.UpdatedAt.UTC()
	utcPtr(room.LastMessageAt)

	participants, err := s.participants(ctx, []string{room.ID})
	if err != nil {
		return nil, err
	}
	room.Participants = participants[room.ID]
	return room, nil
}

func (s *PostgresStore) participants(ctx context.Context, roomIDs []string) (map[string][]models.Participant, error) {
	out := make(map[string][]models.Participant, len(roomIDs))
	if len(roomIDs) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT room_id, user_id, last_read_at
		FROM chat_participants
		WHERE room_id = ANY($1)
		ORDER BY room_id, user_id
	`, roomIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			roomID string
			p      models.Participant
		)
		if err := rows.Scan(&roomID, &p.UserID, &p.LastReadAt); err != nil {
			return nil, err
		}
		if p.LastReadAt != nil {
			t := p.LastReadAt.UTC()
			p.LastReadAt = &t
		}
		out[roomID] = append(out[roomID], p)
	}
	return out, rows.Err()
}

// ListRoomsForUser returns the user's rooms, most recently active first.
// A limit <= 0 returns every room after the cursor.
func (s *PostgresStore) ListRoomsForUser(ctx context.Context, userID string, after RoomCursor, limit int) ([]models.ChatRoom, error) {
	defer observe(time.Now())

	query := `
		SELECT r.id, r.name, r.type, r.created_at, r.updated_at, r.last_message_at
		FROM chat_rooms r
		JOIN chat_participants p ON p.room_id = r.id
		WHERE p.user_id = $1`
	args := []any{userID}
	if !after.IsZero() {
		query += ` AND (r.updated_at, r.id) < ($2::timestamptz, $3::text)`
		args = append(args, after.UpdatedAt, after.ID)
	}
	query += ` ORDER BY r.updated_at DESC, r.id DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []models.ChatRoom
	for rows.Next() {
		var (
			room     models.ChatRoom
			roomType string
		)
		if err := rows.Scan(&room.ID, &room.Name, &roomType, &room.CreatedAt, &room.UpdatedAt, &room.LastMessageAt); err != nil {
			return nil, err
		}
		room.Type = models.RoomType(roomType)
		room.CreatedAt = room.CreatedAt.UTC()
		room.UpdatedAt = room.UpdatedAt.UTC()
		utcPtr(room.LastMessageAt)
		rooms = append(rooms, room)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	roomIDs := make([]string, len(rooms))
	for i := range rooms {
		roomIDs[i] = rooms[i].ID
	}
	participants, err := s.participants(ctx, roomIDs)
	if err != nil {
		return nil, err
	}
	for i := range rooms {
		rooms[i].Participants = participants[rooms[i].ID]
	}
	return rooms, nil
}

// TouchRoom advances updated_at to at, never moving it backwards.
func (s *PostgresStore) TouchRoom(ctx context.Context, id string, at time.Time) error {
	defer observe(time.Now())

	ct, err := s.pool.Exec(ctx, `
		UPDATE chat_rooms SET updated_at = GREATEST(updated_at, $2) WHERE id = $1
	`, id, at.UTC())
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrRoomMissing
	}
	return nil
}

// DeleteRoom removes the room, its participants and its messages atomically.
func (s *PostgresStore) DeleteRoom(ctx context.Context, id string) error {
	defer observe(time.Now())

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM chat_messages WHERE room_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM chat_participants WHERE room_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete participants: %w", err)
	}
	ct, err := tx.Exec(ctx, `DELETE FROM chat_rooms WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete room: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrRoomMissing
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// IsParticipant reports whether userID is a member of roomID.
func (s *PostgresStore) IsParticipant(ctx context.Context, roomID, userID string) (bool, error) {
	defer observe(time.Now())

	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM chat_participants WHERE room_id = $1 AND user_id = $2)
	`, roomID, userID).Scan(&exists)
	return exists, err
}

// MarkRead raises the participant's watermark to at. It reports false when
// the user is not a participant of the room.
func (s *PostgresStore) MarkRead(ctx context.Context, roomID, userID string, at time.Time) (bool, error) {
	defer observe(time.Now())

	ct, err := s.pool.Exec(ctx, `
		UPDATE chat_participants
		SET last_read_at = GREATEST(COALESCE(last_read_at, '-infinity'::timestamptz), $3)
		WHERE room_id = $1 AND user_id = $2
	`, roomID, userID, at.UTC().Truncate(time.Microsecond))
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

// AppendMessage inserts msg and advances the room's updated_at and
// last_message_at in one transaction. The room row is locked first so messages in one room get
// strictly increasing creation times in commit order.
func (s *PostgresStore) AppendMessage(ctx context.Context, msg *models.ChatMessage) error {
	defer observe(time.Now())

	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}
	if msg.MessageType == "" {
		msg.MessageType = models.MessageTypeText
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var last time.Time
	err = tx.QueryRow(ctx, `SELECT updated_at FROM chat_rooms WHERE id = $1 FOR UPDATE`, msg.RoomID).Scan(&last)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrRoomMissing
		}
		return fmt.Errorf("failed to lock room: %w", err)
	}

	msg.CreatedAt = nextMessageTime(msg.CreatedAt, last)
	msg.ID = ids.NewMessageID(msg.CreatedAt)

	_, err = tx.Exec(ctx, `
		INSERT INTO chat_messages (id, room_id, sender_id, content, message_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, msg.ID, msg.RoomID, msg.SenderID, msg.Content, string(msg.MessageType), msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE chat_rooms SET updated_at = GREATEST(updated_at, $2), last_message_at = $2 WHERE id = $1
	`, msg.RoomID, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to touch room: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetMessage retrieves a message by ID.
func (s *PostgresStore) GetMessage(ctx context.Context, id string) (*models.ChatMessage, error) {
	defer observe(time.Now())

	msg, err := scanPostgresMessage(s.pool.QueryRow(ctx, `
		SELECT id, room_id, sender_id, content, message_type, created_at
		FROM chat_messages WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return msg, nil
}

func scanPostgresMessage(row pgx.Row) (*models.ChatMessage, error) {
	var (
		msg     models.ChatMessage
		msgType string
	)
	if err := row.Scan(&msg.ID, &msg.RoomID, &msg.SenderID, &msg.Content, &msgType, &msg.CreatedAt); err != nil {
		return nil, err
	}
	msg.MessageType = models.MessageType(msgType)
	msg.CreatedAt = msg.CreatedAt.UTC()
	return &msg, nil
}

// ListMessages returns a room's messages in (created_at, id) order. With a
// sinceID it returns only later messages; if that message is gone, the time
// embedded in its ID is used as an inclusive lower bound.
func (s *PostgresStore) ListMessages(ctx context.Context, roomID, sinceID string, limit int) ([]models.ChatMessage, error) {
	query := `
		SELECT id, room_id, sender_id, content, message_type, created_at
		FROM chat_messages
		WHERE room_id = $1`
	args := []any{roomID}

	if sinceID != "" {
		since, err := s.GetMessage(ctx, sinceID)
		if err != nil {
			return nil, err
		}
		switch {
		case since != nil && since.RoomID == roomID:
			query += ` AND (created_at, id) > ($2::timestamptz, $3::text)`
			args = append(args, since.CreatedAt, since.ID)
		default:
			if t, ok := ids.MessageTime(sinceID); ok {
				query += ` AND created_at >= $2`
				args = append(args, t)
			}
		}
	}

	query += ` ORDER BY created_at ASC, id ASC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	defer observe(time.Now())
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []models.ChatMessage{}
	for rows.Next() {
		msg, err := scanPostgresMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}

// DeleteMessage hard-deletes a message. The room's updated_at is left as is.
func (s *PostgresStore) DeleteMessage(ctx context.Context, id string) error {
	defer observe(time.Now())

	_, err := s.pool.Exec(ctx, `DELETE FROM chat_messages WHERE id = $1`, id)
	return err
}

func utcPtr(t *time.Time) {
	if t != nil {
		*t = t.UTC()
	}
}
