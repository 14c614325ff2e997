package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/eldtechnologies/staffchat/internal/ids"
	"github.com/eldtechnologies/staffchat/internal/models"
)

// SQLiteStore handles SQLite database operations. Timestamps are stored as
// INTEGER unix microseconds so ordering and comparisons happen in SQL.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/staffchat.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/staffchat.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	// Immediate transactions take the write lock at BEGIN, so concurrent
	// writers queue on the busy timeout instead of failing on lock upgrade.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	store := &SQLiteStore{db: db, now: time.Now}

	// Initialize schema
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS chat_rooms (
		id TEXT PRIMARY KEY,
		name TEXT,
		type TEXT NOT NULL CHECK (type IN ('direct', 'group')),
		direct_key TEXT UNIQUE,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		last_message_at INTEGER
	);

	CREATE TABLE IF NOT EXISTS chat_participants (
		room_id TEXT NOT NULL REFERENCES chat_rooms(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		last_read_at INTEGER,
		PRIMARY KEY (room_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS chat_messages (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL REFERENCES chat_rooms(id) ON DELETE CASCADE,
		sender_id TEXT,
		content TEXT NOT NULL,
		message_type TEXT NOT NULL DEFAULT 'text',
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_chat_participants_user ON chat_participants(user_id);
	CREATE INDEX IF NOT EXISTS idx_chat_rooms_updated ON chat_rooms(updated_at DESC, id DESC);
	CREATE INDEX IF NOT EXISTS idx_chat_messages_room ON chat_messages(room_id, created_at, id);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return err
	}

	// Databases created before last_message_at existed.
	_, err := s.db.ExecContext(ctx, `ALTER TABLE chat_rooms ADD COLUMN last_message_at INTEGER`)
	if err != nil && !strings.Contains(err.Error(), "duplicate column name") {
		return err
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func toMicros(t time.Time) int64 {
	return t.UTC().UnixMicro()
}

func fromMicros(us int64) time.Time {
	return time.UnixMicro(us).UTC()
}

// CreateRoom inserts the room and its participants in one transaction.
// CreatedAt and UpdatedAt are set when zero.
func (s *SQLiteStore) CreateRoom(ctx context.Context, room *models.ChatRoom) error {
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO chat_rooms (id, name, type, direct_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, room.ID, room.Name, string(room.Type), directKey(room), toMicros(room.CreatedAt), toMicros(room.UpdatedAt))
	if err != nil {
		if isSQLiteDirectConflict(err) {
			return ErrDirectRoomExists
		}
		return fmt.Errorf("failed to insert room: %w", err)
	}

	for _, p := range room.Participants {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO chat_participants (room_id, user_id, last_read_at)
			VALUES (?, ?, NULL)
		`, room.ID, p.UserID)
		if err != nil {
			return fmt.Errorf("failed to insert participant: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func isSQLiteDirectConflict(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique &&
		strings.Contains(sqliteErr.Error(), "direct_key")
}

// GetRoom retrieves a room with its participants.
func (s *SQLiteStore) GetRoom(ctx context.Context, id string) (*models.ChatRoom, error) {
	return s.getRoomWhere(ctx, "id = ?", id)
}

// FindDirectRoom returns the direct room for the unordered pair, if any.
func (s *SQLiteStore) FindDirectRoom(ctx context.Context, userA, userB string) (*models.ChatRoom, error) {
	return s.getRoomWhere(ctx, "direct_key = ?", models.DirectKey(userA, userB))
}

func (s *SQLiteStore) getRoomWhere(ctx context.Context, where string, arg any) (*models.ChatRoom, error) {
	var (
		room      models.ChatRoom
		name      sql.NullString
		roomType  string
		createdAt int64
		updatedAt int64
		lastMsg   sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, type, created_at, updated_at, last_message_at
		FROM chat_rooms WHERE `+where, arg).Scan(
		&room.ID,
		&name,
		&roomType,
		&createdAt,
		&updatedAt,
		&lastMsg,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if name.Valid {
		room.Name = &name.String
	}
	room.Type = models.RoomType(roomType)
	room.CreatedAt = fromMicros(createdAt)
	room.UpdatedAt = fromMicros(updatedAt)
	if lastMsg.Valid {
		t := fromMicros(lastMsg.Int64)
		room.LastMessageAt = &t
	}

	participants, err := s.participants(ctx, []string{room.ID})
	if err != nil {
		return nil, err
	}
	room.Participants = participants[room.ID]
	return &room, nil
}

// participants loads membership rows for the given rooms, keyed by room id.
func (s *SQLiteStore) participants(ctx context.Context, roomIDs []string) (map[string][]models.Participant, error) {
	out := make(map[string][]models.Participant, len(roomIDs))
	if len(roomIDs) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(roomIDs)), ",")
	args := make([]any, len(roomIDs))
	for i, id := range roomIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT room_id, user_id, last_read_at
		FROM chat_participants
		WHERE room_id IN (`+placeholders+`)
		ORDER BY room_id, user_id
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			roomID   string
			p        models.Participant
			lastRead sql.NullInt64
		)
		if err := rows.Scan(&roomID, &p.UserID, &lastRead); err != nil {
			return nil, err
		}
		if lastRead.Valid {
			t := fromMicros(lastRead.Int64)
			p.LastReadAt = &t
		}
		out[roomID] = append(out[roomID], p)
	}
	return out, rows.Err()
}

// ListRoomsForUser returns the user's rooms, most recently active first.
// A limit <= 0 returns every room after the cursor.
func (s *SQLiteStore) ListRoomsForUser(ctx context.Context, userID string, after RoomCursor, limit int) ([]models.ChatRoom, error) {
	query := `
		SELECT r.id, r.name, r.type, r.created_at, r.updated_at, r.last_message_at
		FROM chat_rooms r
		JOIN chat_participants p ON p.room_id = r.id
		WHERE p.user_id = ?`
	args := []any{userID}
	if !after.IsZero() {
		us := toMicros(after.UpdatedAt)
		query += ` AND (r.updated_at < ? OR (r.updated_at = ? AND r.id < ?))`
		args = append(args, us, us, after.ID)
	}
	query += ` ORDER BY r.updated_at DESC, r.id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []models.ChatRoom
	for rows.Next() {
		var (
			room      models.ChatRoom
			name      sql.NullString
			roomType  string
			createdAt int64
			updatedAt int64
			lastMsg   sql.NullInt64
		)
		if err := rows.Scan(&room.ID, &name, &roomType, &createdAt, &updatedAt, &lastMsg); err != nil {
			return nil, err
		}
		if name.Valid {
			n := name.String
			room.Name = &n
		}
		room.Type = models.RoomType(roomType)
		room.CreatedAt = fromMicros(createdAt)
		room.UpdatedAt = fromMicros(updatedAt)
		if lastMsg.Valid {
			t := fromMicros(lastMsg.Int64)
			room.LastMessageAt = &t
		}
		rooms = append(rooms, room)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

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
func (s *SQLiteStore) TouchRoom(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE chat_rooms SET updated_at = MAX(updated_at, ?) WHERE id = ?
	`, toMicros(at), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRoomMissing
	}
	return nil
}

// DeleteRoom removes the room; participants and messages go with it.
func (s *SQLiteStore) DeleteRoom(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Explicit deletes keep the cascade atomic even if foreign keys are off.
	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_messages WHERE room_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_participants WHERE room_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete participants: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM chat_rooms WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete room: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRoomMissing
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// IsParticipant reports whether userID is a member of roomID.
func (s *SQLiteStore) IsParticipant(ctx context.Context, roomID, userID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM chat_participants WHERE room_id = ? AND user_id = ?
	`, roomID, userID).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// MarkRead raises the participant's watermark to at. It reports false when
// the user is not a participant of the room.
func (s *SQLiteStore) MarkRead(ctx context.Context, roomID, userID string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE chat_participants
		SET last_read_at = MAX(COALESCE(last_read_at, 0), ?)
		WHERE room_id = ? AND user_id = ?
	`, toMicros(at), roomID, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// AppendMessage inserts msg and advances the room's updated_at and
// last_message_at in one transaction. msg.CreatedAt is the sender's clock reading; it is replaced
// with the assigned creation time, and msg.ID is generated.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *models.ChatMessage) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}
	if msg.MessageType == "" {
		msg.MessageType = models.MessageTypeText
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var last int64
	err = tx.QueryRowContext(ctx, `SELECT updated_at FROM chat_rooms WHERE id = ?`, msg.RoomID).Scan(&last)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrRoomMissing
		}
		return fmt.Errorf("failed to read room: %w", err)
	}

	msg.CreatedAt = nextMessageTime(msg.CreatedAt, fromMicros(last))
	msg.ID = ids.NewMessageID(msg.CreatedAt)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO chat_messages (id, room_id, sender_id, content, message_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.RoomID, msg.SenderID, msg.Content, string(msg.MessageType), toMicros(msg.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE chat_rooms SET updated_at = MAX(updated_at, ?), last_message_at = ? WHERE id = ?
	`, toMicros(msg.CreatedAt), toMicros(msg.CreatedAt), msg.RoomID)
	if err != nil {
		return fmt.Errorf("failed to touch room: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetMessage retrieves a message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*models.ChatMessage, error) {
	msg, err := scanSQLiteMessage(s.db.QueryRowContext(ctx, `
		SELECT id, room_id, sender_id, content, message_type, created_at
		FROM chat_messages WHERE id = ?
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return msg, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteMessage(row rowScanner) (*models.ChatMessage, error) {
	var (
		msg       models.ChatMessage
		sender    sql.NullString
		msgType   string
		createdAt int64
	)
	if err := row.Scan(&msg.ID, &msg.RoomID, &sender, &msg.Content, &msgType, &createdAt); err != nil {
		return nil, err
	}
	if sender.Valid {
		msg.SenderID = &sender.String
	}
	msg.MessageType = models.MessageType(msgType)
	msg.CreatedAt = fromMicros(createdAt)
	return &msg, nil
}

// ListMessages returns a room's messages in (created_at, id) order. With a
// sinceID it returns only later messages; if that message is gone, the time
// embedded in its ID is used as an inclusive lower bound.
func (s *SQLiteStore) ListMessages(ctx context.Context, roomID, sinceID string, limit int) ([]models.ChatMessage, error) {
	query := `
		SELECT id, room_id, sender_id, content, message_type, created_at
		FROM chat_messages
		WHERE room_id = ?`
	args := []any{roomID}

	if sinceID != "" {
		since, err := s.GetMessage(ctx, sinceID)
		if err != nil {
			return nil, err
		}
		switch {
		case since != nil && since.RoomID == roomID:
			us := toMicros(since.CreatedAt)
			query += ` AND (created_at > ? OR (created_at = ? AND id > ?))`
			args = append(args, us, us, since.ID)
		default:
			if t, ok := ids.MessageTime(sinceID); ok {
				query += ` AND created_at >= ?`
				args = append(args, toMicros(t))
			}
		}
	}

	query += ` ORDER BY created_at ASC, id ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []models.ChatMessage{}
	for rows.Next() {
		msg, err := scanSQLiteMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}

// DeleteMessage hard-deletes a message. The room's updated_at is left as is.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chat_messages WHERE id = ?`, id)
	return err
}
