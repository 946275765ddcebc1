package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const notificationColumns = `id, user_id, title, message, type, is_read, read_at,
	related_job_id, related_execution_id, created_at`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// CreateNotification inserts one in-app notification row.
func (s *Store) CreateNotification(ctx context.Context, n *Notification) error {
	return insertNotification(ctx, s.db, n)
}

// CreateNotificationTx inserts a notification inside a caller-owned
// transaction; the weekly maintenance sweep uses it to keep all of its
// mutations atomic.
func (s *Store) CreateNotificationTx(ctx context.Context, tx *sql.Tx, n *Notification) error {
	return insertNotification(ctx, tx, n)
}

func insertNotification(ctx context.Context, db execer, n *Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if n.Type == "" {
		n.Type = NotificationInfo
	}

	_, err := db.ExecContext(ctx, `INSERT INTO notifications
		(id, user_id, title, message, type, is_read, related_job_id, related_execution_id, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?)`,
		n.ID, n.UserID, n.Title, n.Message, n.Type,
		nullStr(n.RelatedJobID), nullStr(n.RelatedExecutionID), n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification for user %q: %w", n.UserID, err)
	}
	return nil
}

// ListNotifications returns a user's notifications, newest first.
func (s *Store) ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE user_id = ?`
	if unreadOnly {
		query += ` AND is_read = 0`
	}
	query += ` ORDER BY created_at DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, userID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var notifs []*Notification
	for rows.Next() {
		var n Notification
		var isRead int
		var readAt sql.NullTime
		var relJob, relExec sql.NullString
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &n.Type, &isRead, &readAt,
			&relJob, &relExec, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.IsRead = isRead != 0
		n.ReadAt = timePtr(readAt)
		n.RelatedJobID = strOrEmpty(relJob)
		n.RelatedExecutionID = strOrEmpty(relExec)
		notifs = append(notifs, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return notifs, nil
}

// MarkNotificationRead flags one of the user's notifications as read.
func (s *Store) MarkNotificationRead(ctx context.Context, id, userID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = 1, read_at = ? WHERE id = ? AND user_id = ? AND is_read = 0`,
		time.Now().UTC(), id, userID)
	if err != nil {
		return fmt.Errorf("mark notification %q read: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("notification %q: %w", id, ErrNotFound)
	}
	return nil
}

// CountUnreadNotifications returns the user's unread badge count.
func (s *Store) CountUnreadNotifications(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = ? AND is_read = 0`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return n, nil
}
