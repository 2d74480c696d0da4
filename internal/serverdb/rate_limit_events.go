package serverdb

import (
	"database/sql"
	"fmt"
	"time"
)

// RateLimitEvent records one request refused by the rate limiter.
type RateLimitEvent struct {
	ID            int64
	KeyID         string // empty for IP-based limits (NULL in the db)
	IP            string
	EndpointClass string // push, pull, other
	CreatedAt     string
}

// InsertRateLimitEvent records a refusal. keyID is empty for IP limits.
func (db *ServerDB) InsertRateLimitEvent(keyID, ip, endpointClass string) error {
	key := sql.NullString{String: keyID, Valid: keyID != ""}
	if _, err := db.conn.Exec(
		`INSERT INTO rate_limit_events (key_id, ip, endpoint_class) VALUES (?, ?, ?)`,
		key, ip, endpointClass,
	); err != nil {
		return fmt.Errorf("insert rate limit event: %w", err)
	}
	return nil
}

// ListRateLimitEvents returns the newest events first. Empty keyID or ip
// match everything; a limit of 0 or less means 100.
func (db *ServerDB) ListRateLimitEvents(keyID, ip string, limit int) ([]RateLimitEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.conn.Query(`
		SELECT id, COALESCE(key_id, ''), ip, endpoint_class, created_at
		FROM rate_limit_events
		WHERE (?1 = '' OR key_id = ?1) AND (?2 = '' OR ip = ?2)
		ORDER BY id DESC
		LIMIT ?3`, keyID, ip, limit)
	if err != nil {
		return nil, fmt.Errorf("list rate limit events: %w", err)
	}
	defer rows.Close()

	var events []RateLimitEvent
	for rows.Next() {
		var e RateLimitEvent
		if err := rows.Scan(&e.ID, &e.KeyID, &e.IP, &e.EndpointClass, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan rate limit event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// CleanupRateLimitEvents deletes events older than the given duration.
// Returns the number of rows deleted.
func (db *ServerDB) CleanupRateLimitEvents(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan).Format("2006-01-02 15:04:05")
	res, err := db.conn.Exec(`DELETE FROM rate_limit_events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup rate limit events: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
