package prescription

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/rxhl7/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type messageRepoPG struct{ pool *pgxpool.Pool }

func NewMessageRepoPG(pool *pgxpool.Pool) MessageRepository {
	return &messageRepoPG{pool: pool}
}

func (r *messageRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const msgCols = `id, prescription_id, control_id, message_type, payload, status,
	ack_code, ack_message, created_at, updated_at`

func (r *messageRepoPG) scanMessage(row pgx.Row) (*ArchivedMessage, error) {
	var m ArchivedMessage
	err := row.Scan(&m.ID, &m.PrescriptionID, &m.ControlID, &m.MessageType,
		&m.Payload, &m.Status, &m.AckCode, &m.AckMessage,
		&m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	return &m, err
}

func (r *messageRepoPG) Create(ctx context.Context, m *ArchivedMessage) error {
	m.ID = uuid.New()
	if m.Status == "" {
		m.Status = StatusGenerated
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO hl7_messages (id, prescription_id, control_id, message_type, payload, status)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at, updated_at`,
		m.ID, m.PrescriptionID, m.ControlID, m.MessageType, m.Payload, m.Status,
	).Scan(&m.CreatedAt, &m.UpdatedAt)
}

func (r *messageRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*ArchivedMessage, error) {
	return r.scanMessage(r.conn(ctx).QueryRow(ctx, `SELECT `+msgCols+` FROM hl7_messages WHERE id = $1`, id))
}

func (r *messageRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status string, ackCode, ackMessage *string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE hl7_messages SET status=$2, ack_code=$3, ack_message=$4, updated_at=NOW()
		WHERE id = $1`,
		id, status, ackCode, ackMessage)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMessageNotFound
	}
	return nil
}

func (r *messageRepoPG) List(ctx context.Context, prescriptionID string, limit, offset int) ([]*ArchivedMessage, int, error) {
	where := ""
	args := []interface{}{}
	if prescriptionID != "" {
		where = ` WHERE prescription_id = $1`
		args = append(args, prescriptionID)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM hl7_messages`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + msgCols + ` FROM hl7_messages` + where + ` ORDER BY created_at DESC`
	if prescriptionID != "" {
		query += ` LIMIT $2 OFFSET $3`
	} else {
		query += ` LIMIT $1 OFFSET $2`
	}
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*ArchivedMessage
	for rows.Next() {
		m, err := r.scanMessage(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, m)
	}
	return items, total, rows.Err()
}
