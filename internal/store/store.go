// Package store persists alerts, occupancy samples, and daily report
// records in sqlite. The schema is managed with golang-migrate; see the
// migrations directory at the repository root.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps the sqlite handle.
type Store struct {
	*sql.DB
}

// Open opens (creating if necessary) the database at path and applies the
// connection pragmas. Migrations are applied separately via MigrateUp.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Single writer; WAL keeps readers unblocked during aggregation ticks.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", p, err)
		}
	}

	return &Store{db}, nil
}

// AlertRecord is one persisted alert.
type AlertRecord struct {
	ID        int64     `json:"id"`
	AreaID    string    `json:"area_id"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Value     float64   `json:"value"`
	CreatedAt time.Time `json:"created_at"`
}

// InsertAlert records a raised alert.
func (s *Store) InsertAlert(areaID, kind, message string, value float64, at time.Time) error {
	_, err := s.Exec(`
		INSERT INTO alerts (area_id, kind, message, value, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		areaID, kind, message, value, at.UTC())
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// RecentAlerts returns up to limit alerts for the area, newest first.
// A zero since means no lower bound.
func (s *Store) RecentAlerts(areaID string, since time.Time, limit int) ([]AlertRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.Query(`
		SELECT id, area_id, kind, message, value, created_at
		FROM alerts
		WHERE area_id = ? AND created_at >= ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`,
		areaID, since.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var out []AlertRecord
	for rows.Next() {
		var a AlertRecord
		if err := rows.Scan(&a.ID, &a.AreaID, &a.Kind, &a.Message, &a.Value, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// OccupancySample is one persisted area occupancy observation.
// ViolationSeconds is the amount accrued since the previous persisted
// sample, so summing samples over a span gives the span's total.
type OccupancySample struct {
	AreaID           string    `json:"area_id"`
	Occupancy        int       `json:"occupancy"`
	ViolationSeconds float64   `json:"violation_seconds"`
	ActivePairs      int       `json:"active_pairs"`
	SampledAt        time.Time `json:"sampled_at"`
}

// InsertOccupancySample records one evaluation-tick observation.
func (s *Store) InsertOccupancySample(sample OccupancySample) error {
	_, err := s.Exec(`
		INSERT INTO occupancy_samples (area_id, occupancy, violation_seconds, active_pairs, sampled_at)
		VALUES (?, ?, ?, ?, ?)`,
		sample.AreaID, sample.Occupancy, sample.ViolationSeconds, sample.ActivePairs, sample.SampledAt.UTC())
	if err != nil {
		return fmt.Errorf("insert occupancy sample: %w", err)
	}
	return nil
}

// OccupancyRange returns the samples for an area within [from, to), oldest
// first.
func (s *Store) OccupancyRange(areaID string, from, to time.Time) ([]OccupancySample, error) {
	rows, err := s.Query(`
		SELECT area_id, occupancy, violation_seconds, active_pairs, sampled_at
		FROM occupancy_samples
		WHERE area_id = ? AND sampled_at >= ? AND sampled_at < ?
		ORDER BY sampled_at ASC`,
		areaID, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("query occupancy: %w", err)
	}
	defer rows.Close()

	var out []OccupancySample
	for rows.Next() {
		var o OccupancySample
		if err := rows.Scan(&o.AreaID, &o.Occupancy, &o.ViolationSeconds, &o.ActivePairs, &o.SampledAt); err != nil {
			return nil, fmt.Errorf("scan occupancy sample: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// DailyReport summarizes one area-day.
type DailyReport struct {
	AreaID           string    `json:"area_id"`
	Day              string    `json:"day"` // YYYY-MM-DD
	PeakOccupancy    int       `json:"peak_occupancy"`
	AvgOccupancy     float64   `json:"avg_occupancy"`
	ViolationSeconds float64   `json:"violation_seconds"`
	AlertCount       int       `json:"alert_count"`
	CreatedAt        time.Time `json:"created_at"`
}

// RecordDailyReport inserts the report if the (area, day) pair has not been
// reported yet. Returns true if this call inserted it, so a report is
// generated at most once per area per day even across restarts.
func (s *Store) RecordDailyReport(rep DailyReport) (bool, error) {
	res, err := s.Exec(`
		INSERT OR IGNORE INTO daily_reports
			(area_id, day, peak_occupancy, avg_occupancy, violation_seconds, alert_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rep.AreaID, rep.Day, rep.PeakOccupancy, rep.AvgOccupancy,
		rep.ViolationSeconds, rep.AlertCount, rep.CreatedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("record daily report: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record daily report: %w", err)
	}
	return n > 0, nil
}

// DailyReports returns the stored reports for an area, newest day first.
func (s *Store) DailyReports(areaID string, limit int) ([]DailyReport, error) {
	if limit <= 0 {
		limit = 31
	}
	rows, err := s.Query(`
		SELECT area_id, day, peak_occupancy, avg_occupancy, violation_seconds, alert_count, created_at
		FROM daily_reports
		WHERE area_id = ?
		ORDER BY day DESC
		LIMIT ?`,
		areaID, limit)
	if err != nil {
		return nil, fmt.Errorf("query daily reports: %w", err)
	}
	defer rows.Close()

	var out []DailyReport
	for rows.Next() {
		var r DailyReport
		if err := rows.Scan(&r.AreaID, &r.Day, &r.PeakOccupancy, &r.AvgOccupancy,
			&r.ViolationSeconds, &r.AlertCount, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan daily report: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DayStats computes the summary numbers for one area-day from the stored
// samples and alerts. dayStart is midnight local to the deployment; the day
// spans 24 hours from it.
func (s *Store) DayStats(areaID string, dayStart time.Time) (DailyReport, error) {
	dayEnd := dayStart.Add(24 * time.Hour)
	rep := DailyReport{
		AreaID: areaID,
		Day:    dayStart.Format("2006-01-02"),
	}

	row := s.QueryRow(`
		SELECT COALESCE(MAX(occupancy), 0), COALESCE(AVG(occupancy), 0), COALESCE(SUM(violation_seconds), 0)
		FROM occupancy_samples
		WHERE area_id = ? AND sampled_at >= ? AND sampled_at < ?`,
		areaID, dayStart.UTC(), dayEnd.UTC())
	if err := row.Scan(&rep.PeakOccupancy, &rep.AvgOccupancy, &rep.ViolationSeconds); err != nil {
		return rep, fmt.Errorf("day occupancy stats: %w", err)
	}

	row = s.QueryRow(`
		SELECT COUNT(*)
		FROM alerts
		WHERE area_id = ? AND created_at >= ? AND created_at < ?`,
		areaID, dayStart.UTC(), dayEnd.UTC())
	if err := row.Scan(&rep.AlertCount); err != nil {
		return rep, fmt.Errorf("day alert count: %w", err)
	}

	return rep, nil
}

// PruneOccupancySamples deletes samples older than the cutoff and returns
// the number removed.
func (s *Store) PruneOccupancySamples(before time.Time) (int64, error) {
	res, err := s.Exec(`DELETE FROM occupancy_samples WHERE sampled_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune occupancy samples: %w", err)
	}
	return res.RowsAffected()
}

// Backup writes a consistent snapshot of the database to destPath.
func (s *Store) Backup(destPath string) error {
	if _, err := s.Exec(`VACUUM INTO ?`, destPath); err != nil {
		return fmt.Errorf("backup database: %w", err)
	}
	return nil
}
