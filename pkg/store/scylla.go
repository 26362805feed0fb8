package store

import (
	"context"

	"go.uber.org/zap"

	"github.com/mahaj/community-chat/pkg/db"
	"github.com/mahaj/community-chat/pkg/model"
)

// ScyllaMessages persists the message log in the messages table,
// partitioned by room_id and clustered by id DESC, so a single-partition
// read already comes back newest-first.
type ScyllaMessages struct {
	logger *zap.SugaredLogger
	db     *db.Session
}

func NewScyllaMessages(logger *zap.SugaredLogger, session *db.Session) *ScyllaMessages {
	return &ScyllaMessages{logger: logger, db: session}
}

func (s *ScyllaMessages) Append(ctx context.Context, msg model.Message) error {
	query := `INSERT INTO messages (room_id, id, sender_id, text, client_token, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	if err := s.db.Query(query, msg.RoomID, msg.ID, msg.SenderID, msg.Text, msg.ClientToken, msg.CreatedAt).WithContext(ctx).Exec(); err != nil {
		s.logger.Errorf("append message %d to room %s: %v", msg.ID, msg.RoomID, err)
		return model.Transient(err)
	}
	return nil
}

func (s *ScyllaMessages) History(ctx context.Context, roomID string, before int64, limit int) ([]model.Message, error) {
	q := s.db.Query(`SELECT room_id, id, sender_id, text, client_token, created_at FROM messages WHERE room_id = ? LIMIT ?`,
		roomID, limit)
	if before > 0 {
		q = s.db.Query(`SELECT room_id, id, sender_id, text, client_token, created_at FROM messages WHERE room_id = ? AND id < ? LIMIT ?`,
			roomID, before, limit)
	}

	iter := q.WithContext(ctx).Iter()

	var messages []model.Message
	var m model.Message
	for iter.Scan(&m.RoomID, &m.ID, &m.SenderID, &m.Text, &m.ClientToken, &m.CreatedAt) {
		messages = append(messages, m)
	}

	if err := iter.Close(); err != nil {
		s.logger.Errorf("history scan for room %s: %v", roomID, err)
		return nil, model.Transient(err)
	}

	return messages, nil
}

func (s *ScyllaMessages) DeleteRoom(ctx context.Context, roomID string) error {
	if err := s.db.Query(`DELETE FROM messages WHERE room_id = ?`, roomID).WithContext(ctx).Exec(); err != nil {
		s.logger.Errorf("delete messages for room %s: %v", roomID, err)
		return model.Transient(err)
	}
	return nil
}
