// audit_repository.go implements AuditRepository, the append-only store for activity and
// error records, with filtered listing and the aggregates used by the stats endpoint.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/api-monitor/api-monitor/internal/db/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// AuditRepository handles activity_logs and error_logs database operations
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// LogFilters contains filters for querying activity and error logs.
// All set filters are combined with AND. DateFrom and DateTo are both inclusive.
type LogFilters struct {
	UserID   *string
	Action   *models.Action // activity logs only
	DateFrom *time.Time
	DateTo   *time.Time
}

// CreateActivityLog inserts a new activity record, assigning its ID and timestamp
func (r *AuditRepository) CreateActivityLog(ctx context.Context, log *models.ActivityLog) error {
	log.ID = uuid.New().String()
	log.Timestamp = time.Now()

	query := `
		INSERT INTO activity_logs (id, timestamp, user_id, action, method, path, ip_address, user_agent, status_code, extra)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.ExecContext(ctx, query,
		log.ID,
		log.Timestamp,
		log.UserID,
		string(log.Action),
		log.Method,
		log.Path,
		log.IPAddress,
		log.UserAgent,
		log.StatusCode,
		log.Extra,
	)
	if err != nil {
		return fmt.Errorf("failed to create activity log: %w", err)
	}
	return nil
}

// CreateErrorLog inserts a new error record, assigning its ID and timestamp
func (r *AuditRepository) CreateErrorLog(ctx context.Context, log *models.ErrorLog) error {
	log.ID = uuid.New().String()
	log.Timestamp = time.Now()

	query := `
		INSERT INTO error_logs (id, timestamp, user_id, message, stack_trace, method, endpoint, ip_address, user_agent, status_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.ExecContext(ctx, query,
		log.ID,
		log.Timestamp,
		log.UserID,
		log.Message,
		log.StackTrace,
		log.Method,
		log.Endpoint,
		log.IPAddress,
		log.UserAgent,
		log.StatusCode,
	)
	if err != nil {
		return fmt.Errorf("failed to create error log: %w", err)
	}
	return nil
}

// buildWhere renders the filter set as a WHERE clause against alias l
func buildWhere(filters LogFilters, withAction bool) (string, []interface{}) {
	clauses := []string{"1=1"}
	args := make([]interface{}, 0)
	paramIndex := 1

	if filters.UserID != nil {
		clauses = append(clauses, fmt.Sprintf("l.user_id = $%d", paramIndex))
		args = append(args, *filters.UserID)
		paramIndex++
	}

	if withAction && filters.Action != nil {
		clauses = append(clauses, fmt.Sprintf("l.action = $%d", paramIndex))
		args = append(args, string(*filters.Action))
		paramIndex++
	}

	if filters.DateFrom != nil {
		clauses = append(clauses, fmt.Sprintf("l.timestamp >= $%d", paramIndex))
		args = append(args, *filters.DateFrom)
		paramIndex++
	}

	if filters.DateTo != nil {
		clauses = append(clauses, fmt.Sprintf("l.timestamp <= $%d", paramIndex))
		args = append(args, *filters.DateTo)
	}

	return " WHERE " + strings.Join(clauses, " AND "), args
}

// appendPage adds ordering and, when limit > 0, pagination
func appendPage(query string, args []interface{}, limit, offset int) (string, []interface{}) {
	query += ` ORDER BY l.timestamp DESC, l.id DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
		args = append(args, limit, offset)
	}
	return query, args
}

// userColumns are the nullable joined user columns shared by both listings
const userColumns = `u.username, u.email, u.first_name, u.last_name`

type joinedUser struct {
	username, email, firstName, lastName sql.NullString
}

func (j joinedUser) summary(userID *string) *models.UserSummary {
	if userID == nil || !j.username.Valid {
		return nil
	}
	return &models.UserSummary{
		ID:        *userID,
		Username:  j.username.String,
		Email:     j.email.String,
		FirstName: j.firstName.String,
		LastName:  j.lastName.String,
	}
}

// ListActivityLogs returns activity records newest first with the total match count.
// A limit <= 0 returns every matching record and skips the separate count query.
func (r *AuditRepository) ListActivityLogs(ctx context.Context, filters LogFilters, limit, offset int) ([]*models.ActivityLog, int, error) {
	where, args := buildWhere(filters, true)

	total := -1
	if limit > 0 {
		countQuery := `SELECT COUNT(*) FROM activity_logs l` + where
		if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
			return nil, 0, fmt.Errorf("failed to count activity logs: %w", err)
		}
	}

	query := `
		SELECT l.id, l.timestamp, l.user_id, ` + userColumns + `,
		       l.action, l.method, l.path, l.ip_address, l.user_agent, l.status_code, l.extra
		FROM activity_logs l
		LEFT JOIN users u ON u.id = l.user_id` + where
	query, args = appendPage(query, args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list activity logs: %w", err)
	}
	defer rows.Close()

	logs := make([]*models.ActivityLog, 0)
	for rows.Next() {
		log := &models.ActivityLog{}
		var u joinedUser
		var action string

		err := rows.Scan(
			&log.ID,
			&log.Timestamp,
			&log.UserID,
			&u.username, &u.email, &u.firstName, &u.lastName,
			&action,
			&log.Method,
			&log.Path,
			&log.IPAddress,
			&log.UserAgent,
			&log.StatusCode,
			&log.Extra,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan activity log: %w", err)
		}
		log.Action = models.Action(action)
		log.User = u.summary(log.UserID)
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	if total < 0 {
		total = len(logs)
	}
	return logs, total, nil
}

// ListErrorLogs returns error records newest first with the total match count.
// The Action filter does not apply to error records and is ignored.
func (r *AuditRepository) ListErrorLogs(ctx context.Context, filters LogFilters, limit, offset int) ([]*models.ErrorLog, int, error) {
	where, args := buildWhere(filters, false)

	total := -1
	if limit > 0 {
		countQuery := `SELECT COUNT(*) FROM error_logs l` + where
		if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
			return nil, 0, fmt.Errorf("failed to count error logs: %w", err)
		}
	}

	query := `
		SELECT l.id, l.timestamp, l.user_id, ` + userColumns + `,
		       l.message, l.stack_trace, l.method, l.endpoint, l.ip_address, l.user_agent, l.status_code
		FROM error_logs l
		LEFT JOIN users u ON u.id = l.user_id` + where
	query, args = appendPage(query, args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list error logs: %w", err)
	}
	defer rows.Close()

	logs := make([]*models.ErrorLog, 0)
	for rows.Next() {
		log := &models.ErrorLog{}
		var u joinedUser

		err := rows.Scan(
			&log.ID,
			&log.Timestamp,
			&log.UserID,
			&u.username, &u.email, &u.firstName, &u.lastName,
			&log.Message,
			&log.StackTrace,
			&log.Method,
			&log.Endpoint,
			&log.IPAddress,
			&log.UserAgent,
			&log.StatusCode,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan error log: %w", err)
		}
		log.User = u.summary(log.UserID)
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	if total < 0 {
		total = len(logs)
	}
	return logs, total, nil
}

// CountActivityByAction groups activity records by action, most frequent first
func (r *AuditRepository) CountActivityByAction(ctx context.Context) ([]models.ActionCount, error) {
	query := `
		SELECT action, COUNT(*) AS total
		FROM activity_logs
		GROUP BY action
		ORDER BY total DESC, action ASC
	`

	counts := make([]models.ActionCount, 0)
	if err := r.db.SelectContext(ctx, &counts, query); err != nil {
		return nil, fmt.Errorf("failed to aggregate activity by action: %w", err)
	}
	return counts, nil
}

// CountErrorsByDay groups error records by calendar date in zone (an IANA name such as
// "UTC" or "Europe/Berlin"), oldest first. The zone is explicit so the buckets do not
// depend on the database session's TimeZone setting.
func (r *AuditRepository) CountErrorsByDay(ctx context.Context, zone string) ([]models.DailyCount, error) {
	query := `
		SELECT to_char(timezone($1::text, timestamp), 'YYYY-MM-DD') AS date, COUNT(*) AS total
		FROM error_logs
		GROUP BY 1
		ORDER BY 1 ASC
	`

	counts := make([]models.DailyCount, 0)
	if err := r.db.SelectContext(ctx, &counts, query, zone); err != nil {
		return nil, fmt.Errorf("failed to aggregate errors by day: %w", err)
	}
	return counts, nil
}
