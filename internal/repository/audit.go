package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"campus_chat/internal/domain"
	"campus_chat/pkg/logger"
)

type AuditRepository interface {
	CreateLog(ctx context.Context, log *domain.AuditLog) error
}

type auditRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewAuditRepository(db *pgxpool.Pool, log logger.Logger) AuditRepository {
	return &auditRepository{db: db, log: log}
}

func (r *auditRepository) CreateLog(ctx context.Context, auditLog *domain.AuditLog) error {
	query := `
		INSERT INTO chat_audit_log (event_time, actor_user_id, chat_id, event_type, payload)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5)
		RETURNING id
	`

	err := r.db.QueryRow(ctx, query,
		auditLog.EventTime, auditLog.ActorUserID, auditLog.ChatID,
		auditLog.EventType, auditLog.Payload,
	).Scan(&auditLog.ID)
	if err != nil {
		r.log.Error("Failed to create audit log", "error", err)
		return err
	}

	return nil
}

// logAuditRepository пишет аудит в лог. Используется для драйверов без
// таблицы аудита (mongo, memory).
type logAuditRepository struct {
	log logger.Logger
}

func NewLogAuditRepository(log logger.Logger) AuditRepository {
	return &logAuditRepository{log: log}
}

func (r *logAuditRepository) CreateLog(ctx context.Context, auditLog *domain.AuditLog) error {
	r.log.Info("Audit event",
		"event_type", auditLog.EventType,
		"actor_user_id", auditLog.ActorUserID,
		"chat_id", auditLog.ChatID,
		"payload", auditLog.Payload,
	)
	return nil
}
