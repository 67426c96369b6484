package notification

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"delivery-core/internal/common/database"
	"delivery-core/internal/common/errors"
	"delivery-core/internal/identity"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const (
	insertNotificationSQL = `INSERT INTO notifications
		(id, title, message, action_url, action_text, attachments, roles, recipient_ids, channels, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	insertReceiverSQL = `INSERT INTO notification_receivers
		(notification_id, recipient_id, recipient_type, position)
		VALUES ($1, $2, $3, $4)`

	insertAttemptSQL = `INSERT INTO notification_channel_attempts
		(notification_id, recipient_id, recipient_type, channel, position, status, sent_at, error, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	markReadSQL = `UPDATE notification_channel_attempts
		SET is_read = true, read_at = COALESCE(read_at, now())
		WHERE notification_id = $1 AND recipient_id = $2 AND recipient_type = $3
		  AND channel = 'IN_APP' AND status = 'SENT'`

	unreadCountSQL = `SELECT COUNT(DISTINCT notification_id)
		FROM notification_channel_attempts
		WHERE recipient_id = $1 AND channel = 'IN_APP' AND status = 'SENT' AND is_read = false`

	listUnreadSQL = `SELECT n.id, n.title, n.message, n.action_url, n.action_text, n.attachments, n.created_at,
		       a.recipient_type, a.sent_at, a.delivered_at
		FROM notification_channel_attempts a
		JOIN notifications n ON n.id = a.notification_id
		WHERE a.recipient_id = $1 AND a.channel = 'IN_APP' AND a.status = 'SENT' AND a.is_read = false
		ORDER BY n.created_at DESC, n.id
		LIMIT $2 OFFSET $3`

	markDeliveredSQL = `UPDATE notification_channel_attempts
		SET delivered_at = now()
		WHERE recipient_id = $1 AND channel = 'IN_APP' AND delivered_at IS NULL
		  AND notification_id = ANY($2::uuid[])`

	roleFilterSQL = `FROM notifications n
		WHERE ($1 = ANY(n.roles) OR EXISTS (
		        SELECT 1 FROM notification_receivers r
		        WHERE r.notification_id = n.id AND r.recipient_type = $1))
		  AND (($2 = '' AND $3 = '') OR EXISTS (
		        SELECT 1 FROM notification_channel_attempts a
		        WHERE a.notification_id = n.id
		          AND ($2 = '' OR a.channel = $2)
		          AND ($3 = '' OR a.status = $3)))`

	countByRoleSQL = `SELECT COUNT(*) ` + roleFilterSQL

	listByRoleSQL = `SELECT n.id, n.title, n.message, n.action_url, n.action_text, n.attachments,
		       n.roles, n.recipient_ids, n.channels, n.created_at ` + roleFilterSQL + `
		ORDER BY n.created_at DESC, n.id
		LIMIT $4 OFFSET $5`

	attemptsForSQL = `SELECT a.notification_id, a.recipient_id, a.recipient_type, a.channel, a.status,
		       a.sent_at, a.delivered_at, a.is_read, a.read_at, a.error, a.detail
		FROM notification_channel_attempts a
		JOIN notification_receivers r
		  ON r.notification_id = a.notification_id
		 AND r.recipient_id = a.recipient_id
		 AND r.recipient_type = a.recipient_type
		WHERE a.notification_id = ANY($1::uuid[])
		ORDER BY a.notification_id, r.position, a.position`
)

// Store persists notifications in PostgreSQL. Attempt rows are keyed by
// (notification, recipient, type, channel) so every update touches exactly one row.
type Store struct {
	db *database.PostgresClient
}

func NewStore(db *database.PostgresClient) *Store {
	return &Store{db: db}
}

// Save writes the notification with all receivers and attempts in one transaction.
func (s *Store) Save(ctx context.Context, n *Notification) error {
	if len(n.Receivers) == 0 {
		return errors.NewNoEligibleRecipientsError("notification has no receivers")
	}

	attachments, err := json.Marshal(nonNilAttachments(n.Attachments))
	if err != nil {
		return fmt.Errorf("marshal attachments: %w", err)
	}

	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, insertNotificationSQL,
			n.ID, n.Title, n.Message, n.ActionURL, n.ActionText, attachments,
			pq.Array(nonNil(n.Roles)), pq.Array(nonNil(n.RecipientIDs)), pq.Array(channelNames(n.Channels)),
			n.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert notification: %w", err)
		}

		for i, rcv := range n.Receivers {
			if _, err := tx.ExecContext(ctx, insertReceiverSQL,
				n.ID, rcv.RecipientID, string(rcv.RecipientType), i,
			); err != nil {
				return fmt.Errorf("insert receiver %s: %w", rcv.RecipientID, err)
			}
			for j, a := range rcv.Attempts {
				if _, err := tx.ExecContext(ctx, insertAttemptSQL,
					n.ID, rcv.RecipientID, string(rcv.RecipientType), string(a.Channel), j,
					string(a.Status), a.SentAt, a.Error, a.Detail,
				); err != nil {
					return fmt.Errorf("insert %s attempt for %s: %w", a.Channel, rcv.RecipientID, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return errors.NewStoreUnavailableError("save notification", err)
	}
	return nil
}

// MarkRead reports whether a matching SENT in-app attempt existed. Ids that are not
// UUIDs can never match and report false.
func (s *Store) MarkRead(ctx context.Context, notificationID, recipientID string, recipientType identity.RecipientType) (bool, error) {
	if _, err := uuid.Parse(notificationID); err != nil {
		return false, nil
	}

	res, err := s.db.DB.ExecContext(ctx, markReadSQL, notificationID, recipientID, string(recipientType))
	if err != nil {
		return false, errors.NewStoreUnavailableError("mark read", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, errors.NewStoreUnavailableError("mark read", err)
	}
	return rows > 0, nil
}

// UnreadCount returns raw driver errors so the retry guard can classify them.
func (s *Store) UnreadCount(ctx context.Context, recipientID string) (int, error) {
	var count int
	if err := s.db.DB.QueryRowContext(ctx, unreadCountSQL, recipientID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) ListUnread(ctx context.Context, recipientID string, limit, offset int) ([]InboxItem, error) {
	rows, err := s.db.DB.QueryContext(ctx, listUnreadSQL, recipientID, limit, offset)
	if err != nil {
		return nil, errors.NewStoreUnavailableError("list unread", err)
	}
	defer rows.Close()

	items := make([]InboxItem, 0)
	for rows.Next() {
		var (
			item        InboxItem
			attachments []byte
			rt          string
			sentAt      sql.NullTime
			deliveredAt sql.NullTime
		)
		if err := rows.Scan(&item.NotificationID, &item.Title, &item.Message, &item.ActionURL, &item.ActionText,
			&attachments, &item.CreatedAt, &rt, &sentAt, &deliveredAt); err != nil {
			return nil, errors.NewStoreUnavailableError("scan unread", err)
		}
		if err := decodeAttachments(attachments, &item.Attachments); err != nil {
			return nil, errors.NewStoreUnavailableError("decode attachments", err)
		}
		item.RecipientType = identity.RecipientType(rt)
		item.SentAt = timePtr(sentAt)
		item.DeliveredAt = timePtr(deliveredAt)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStoreUnavailableError("list unread", err)
	}
	return items, nil
}

func (s *Store) MarkDelivered(ctx context.Context, recipientID string, notificationIDs []string) error {
	if len(notificationIDs) == 0 {
		return nil
	}
	if _, err := s.db.DB.ExecContext(ctx, markDeliveredSQL, recipientID, pq.Array(notificationIDs)); err != nil {
		return errors.NewStoreUnavailableError("mark delivered", err)
	}
	return nil
}

// ListByRole returns one page of notifications addressed to role, with receivers, and the total match count.
func (s *Store) ListByRole(ctx context.Context, f RoleFilter) ([]Notification, int, error) {
	var total int
	if err := s.db.DB.QueryRowContext(ctx, countByRoleSQL, f.Role, string(f.Channel), string(f.Status)).Scan(&total); err != nil {
		return nil, 0, errors.NewStoreUnavailableError("count by role", err)
	}
	if total == 0 {
		return []Notification{}, 0, nil
	}

	rows, err := s.db.DB.QueryContext(ctx, listByRoleSQL, f.Role, string(f.Channel), string(f.Status), f.Limit, f.Offset)
	if err != nil {
		return nil, 0, errors.NewStoreUnavailableError("list by role", err)
	}
	defer rows.Close()

	notifications := make([]Notification, 0)
	index := make(map[string]int)
	for rows.Next() {
		var (
			n           Notification
			attachments []byte
			channels    []string
		)
		if err := rows.Scan(&n.ID, &n.Title, &n.Message, &n.ActionURL, &n.ActionText, &attachments,
			pq.Array(&n.Roles), pq.Array(&n.RecipientIDs), pq.Array(&channels), &n.CreatedAt); err != nil {
			return nil, 0, errors.NewStoreUnavailableError("scan notification", err)
		}
		if err := decodeAttachments(attachments, &n.Attachments); err != nil {
			return nil, 0, errors.NewStoreUnavailableError("decode attachments", err)
		}
		for _, ch := range channels {
			n.Channels = append(n.Channels, Channel(ch))
		}
		n.Receivers = []Receiver{}
		index[n.ID] = len(notifications)
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.NewStoreUnavailableError("list by role", err)
	}
	if len(notifications) == 0 {
		return notifications, total, nil
	}

	if err := s.loadReceivers(ctx, notifications, index); err != nil {
		return nil, 0, err
	}
	return notifications, total, nil
}

func (s *Store) loadReceivers(ctx context.Context, notifications []Notification, index map[string]int) error {
	ids := make([]string, 0, len(notifications))
	for _, n := range notifications {
		ids = append(ids, n.ID)
	}

	rows, err := s.db.DB.QueryContext(ctx, attemptsForSQL, pq.Array(ids))
	if err != nil {
		return errors.NewStoreUnavailableError("load attempts", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			notificationID, recipientID, rt, channel, status string
			sentAt, deliveredAt, readAt                      sql.NullTime
			a                                                ChannelAttempt
		)
		if err := rows.Scan(&notificationID, &recipientID, &rt, &channel, &status,
			&sentAt, &deliveredAt, &a.Read, &readAt, &a.Error, &a.Detail); err != nil {
			return errors.NewStoreUnavailableError("scan attempt", err)
		}
		a.Channel = Channel(channel)
		a.Status = AttemptStatus(status)
		a.SentAt = timePtr(sentAt)
		a.DeliveredAt = timePtr(deliveredAt)
		a.ReadAt = timePtr(readAt)

		i, ok := index[notificationID]
		if !ok {
			continue
		}
		n := &notifications[i]
		last := len(n.Receivers) - 1
		if last < 0 || n.Receivers[last].RecipientID != recipientID || string(n.Receivers[last].RecipientType) != rt {
			n.Receivers = append(n.Receivers, Receiver{
				RecipientID:   recipientID,
				RecipientType: identity.RecipientType(rt),
			})
			last++
		}
		n.Receivers[last].Attempts = append(n.Receivers[last].Attempts, a)
	}
	if err := rows.Err(); err != nil {
		return errors.NewStoreUnavailableError("load attempts", err)
	}
	return nil
}

func decodeAttachments(raw []byte, out *[]Attachment) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return err
	}
	if len(*out) == 0 {
		*out = nil
	}
	return nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilAttachments(a []Attachment) []Attachment {
	if a == nil {
		return []Attachment{}
	}
	return a
}

func channelNames(channels []Channel) []string {
	out := make([]string, len(channels))
	for i, ch := range channels {
		out[i] = string(ch)
	}
	return out
}
