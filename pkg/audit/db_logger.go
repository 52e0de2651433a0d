package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const defaultSearchLimit = 100

// DBLogger writes events to the audit_events table created by
// accounts.RunMigrations
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a database-backed audit logger
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &DBLogger{db: db}, nil
}

// Log inserts event
func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	var metadata sql.NullString
	if len(event.Metadata) > 0 {
		data, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadata = sql.NullString{String: string(data), Valid: true}
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO audit_events (
			id, occurred_at, event_type, status,
			user_id, email, account_id,
			session_id, request_id, ip_address, user_agent,
			message, error_message, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		event.ID, event.OccurredAt, string(event.Type), string(event.Status),
		nullable(event.UserID), nullable(event.Email), nullable(event.AccountID),
		nullable(event.SessionID), nullable(event.RequestID), nullable(event.IPAddress), nullable(event.UserAgent),
		nullable(event.Message), nullable(event.ErrorMessage), metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// Search returns matching events, newest first
func (l *DBLogger) Search(ctx context.Context, filter SearchFilter) ([]*Event, error) {
	query := `
		SELECT id, occurred_at, event_type, status,
			user_id, email, account_id,
			session_id, request_id, ip_address, user_agent,
			message, error_message, metadata
		FROM audit_events
		WHERE 1=1`
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.UserID != "" {
		query += " AND user_id = " + arg(filter.UserID)
	}
	if filter.AccountID != "" {
		query += " AND account_id = " + arg(filter.AccountID)
	}
	if filter.Since != nil {
		query += " AND occurred_at >= " + arg(*filter.Since)
	}
	if len(filter.Types) > 0 {
		placeholders := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			placeholders[i] = arg(string(t))
		}
		query += " AND event_type IN (" + strings.Join(placeholders, ", ") + ")"
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	query += " ORDER BY occurred_at DESC, id DESC LIMIT " + arg(limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var (
			e                                   Event
			occurredAt                          time.Time
			eventType, status                   string
			userID, email, accountID, sessionID sql.NullString
			requestID, ip, userAgent            sql.NullString
			message, errMsg, metadata           sql.NullString
		)
		if err := rows.Scan(&e.ID, &occurredAt, &eventType, &status,
			&userID, &email, &accountID,
			&sessionID, &requestID, &ip, &userAgent,
			&message, &errMsg, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		e.OccurredAt = occurredAt.UTC()
		e.Type = EventType(eventType)
		e.Status = Status(status)
		e.UserID = userID.String
		e.Email = email.String
		e.AccountID = accountID.String
		e.SessionID = sessionID.String
		e.RequestID = requestID.String
		e.IPAddress = ip.String
		e.UserAgent = userAgent.String
		e.Message = message.String
		e.ErrorMessage = errMsg.String
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode audit metadata: %w", err)
			}
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit events: %w", err)
	}
	return events, nil
}

// Close is a no-op; the database belongs to the caller
func (l *DBLogger) Close() error {
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
