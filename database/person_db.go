package database

import (
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/camden-git/membersync/models"
	"github.com/camden-git/membersync/utils"
)

// ListInconsistentEmails returns every non-empty email whose published
// holders are duplicated or do not carry exactly one primary flag. These are
// the emails the bulk repair has to reconcile.
func ListInconsistentEmails(db *sql.DB) ([]string, error) {
	queryBuilder := psql.Select("email").
		From("people").
		Where(sq.Eq{"record_status": models.RecordPublished}).
		Where(sq.NotEq{"email": ""}).
		GroupBy("email").
		Having("COUNT(*) > 1 OR SUM(CASE WHEN is_primary THEN 1 ELSE 0 END) <> 1").
		OrderBy("email ASC")

	sqlStr, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build SQL for ListInconsistentEmails: %w", err)
	}
	rows, err := db.Query(sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute ListInconsistentEmails query: %w", err)
	}
	defer rows.Close()

	emails := []string{}
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("failed to scan email row: %w", err)
		}
		emails = append(emails, email)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating email rows: %w", err)
	}
	return emails, nil
}

// FindPersonIDsByPhone returns published people whose stored phone equals the
// normalized phone or ends with its national number, primaries first. The
// trailing match needs a full ten digit national number.
func FindPersonIDsByPhone(db *sql.DB, phone string) ([]uint, error) {
	normalized := utils.NormalizePhone(phone)
	if normalized == "" {
		return []uint{}, nil
	}

	match := sq.Or{sq.Eq{"phone": normalized}}
	if suffix := utils.PhoneSuffix(normalized); suffix != "" {
		match = append(match, sq.Like{"phone": "%" + suffix})
	}

	queryBuilder := psql.Select("id").
		From("people").
		Where(sq.Eq{"record_status": models.RecordPublished}).
		Where(match).
		OrderBy("is_primary DESC", "id ASC")

	sqlStr, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build SQL for FindPersonIDsByPhone: %w", err)
	}
	rows, err := db.Query(sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute FindPersonIDsByPhone query for %s: %w", normalized, err)
	}
	defer rows.Close()

	ids := []uint{}
	for rows.Next() {
		var id uint
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan person id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
