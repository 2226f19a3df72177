package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/HerbHall/metricd/pkg/metric"
	"github.com/HerbHall/metricd/pkg/plugin"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// Sample is one archived metric.
type Sample struct {
	ID         string          `json:"id"`
	Family     string          `json:"family"`
	Type       string          `json:"type"`
	Labels     metric.LabelSet `json:"labels"`
	Value      json.RawMessage `json:"value"`
	Time       time.Time       `json:"time"`
	ReceivedAt time.Time       `json:"received_at"`
}

// NotificationRecord is one archived notification.
type NotificationRecord struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Severity    string          `json:"severity"`
	Labels      metric.LabelSet `json:"labels"`
	Annotations metric.LabelSet `json:"annotations"`
	Time        time.Time       `json:"time"`
	ReceivedAt  time.Time       `json:"received_at"`
}

// NotificationFilter narrows ListNotifications. Zero fields match all.
type NotificationFilter struct {
	Name     string
	Severity string
	Limit    int
}

// Repository persists samples and notifications in the shared store.
type Repository struct {
	store plugin.Store
}

// NewRepository runs the archive migrations and returns a repository.
func NewRepository(ctx context.Context, store plugin.Store) (*Repository, error) {
	if err := store.Migrate(ctx, PluginName, migrations); err != nil {
		return nil, fmt.Errorf("archive migrations: %w", err)
	}
	return &Repository{store: store}, nil
}

// InsertFamily stores every metric of fam in one transaction and returns
// the number of rows written.
func (r *Repository) InsertFamily(ctx context.Context, fam *metric.Family, received time.Time) (int, error) {
	err := r.store.Tx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO archive_samples (id, family, type, labels, value, time_us, received_us)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, m := range fam.Metrics {
			labels, err := json.Marshal(m.Labels)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx,
				uuid.NewString(), fam.Name, fam.Type.String(), string(labels),
				string(metric.ValueJSON(m.Value)), micros(m.Time), micros(received),
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("insert family %q: %w", fam.Name, err)
	}
	return len(fam.Metrics), nil
}

// InsertNotification stores n and returns its id.
func (r *Repository) InsertNotification(ctx context.Context, n *metric.Notification, received time.Time) (string, error) {
	labels, err := json.Marshal(n.Labels)
	if err != nil {
		return "", err
	}
	annotations, err := json.Marshal(n.Annotations)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	_, err = r.store.DB().ExecContext(ctx, `
		INSERT INTO archive_notifications (id, name, severity, labels, annotations, time_us, received_us)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, n.Name, n.Severity.String(), string(labels), string(annotations), micros(n.Time), micros(received),
	)
	if err != nil {
		return "", fmt.Errorf("insert notification %q: %w", n.Name, err)
	}
	return id, nil
}

// ListSamples returns the newest samples of a family, newest first.
func (r *Repository) ListSamples(ctx context.Context, family string, limit int) ([]Sample, error) {
	rows, err := r.store.DB().QueryContext(ctx, `
		SELECT id, family, type, labels, value, time_us, received_us
		FROM archive_samples
		WHERE family = ?
		ORDER BY received_us DESC, time_us DESC
		LIMIT ?`, family, limit)
	if err != nil {
		return nil, fmt.Errorf("list samples: %w", err)
	}
	defer rows.Close()

	var out []Sample
	for rows.Next() {
		var (
			s                  Sample
			labels, value      string
			timeUS, receivedUS int64
		)
		if err := rows.Scan(&s.ID, &s.Family, &s.Type, &labels, &value, &timeUS, &receivedUS); err != nil {
			return nil, fmt.Errorf("scan sample row: %w", err)
		}
		if err := json.Unmarshal([]byte(labels), &s.Labels); err != nil {
			return nil, fmt.Errorf("sample %s labels: %w", s.ID, err)
		}
		s.Value = json.RawMessage(value)
		s.Time = fromMicros(timeUS)
		s.ReceivedAt = fromMicros(receivedUS)
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListNotifications returns notifications matching f, newest first.
func (r *Repository) ListNotifications(ctx context.Context, f NotificationFilter) ([]NotificationRecord, error) {
	query := `
		SELECT id, name, severity, labels, annotations, time_us, received_us
		FROM archive_notifications
		WHERE (? = '' OR name = ?) AND (? = '' OR severity = ?)
		ORDER BY received_us DESC, time_us DESC
		LIMIT ?`
	rows, err := r.store.DB().QueryContext(ctx, query, f.Name, f.Name, f.Severity, f.Severity, f.Limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []NotificationRecord
	for rows.Next() {
		rec, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// GetNotification returns the notification with the given id.
func (r *Repository) GetNotification(ctx context.Context, id string) (*NotificationRecord, error) {
	row := r.store.DB().QueryRowContext(ctx, `
		SELECT id, name, severity, labels, annotations, time_us, received_us
		FROM archive_notifications WHERE id = ?`, id)
	rec, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// Prune deletes rows received before cutoff and returns how many went.
func (r *Repository) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	err := r.store.Tx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"archive_samples", "archive_notifications"} {
			res, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE received_us < ?`, micros(cutoff))
			if err != nil {
				return fmt.Errorf("prune %s: %w", table, err)
			}
			n, _ := res.RowsAffected()
			total += n
		}
		return nil
	})
	return total, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNotification(row scanner) (*NotificationRecord, error) {
	var (
		rec                 NotificationRecord
		labels, annotations string
		timeUS, receivedUS  int64
	)
	if err := row.Scan(&rec.ID, &rec.Name, &rec.Severity, &labels, &annotations, &timeUS, &receivedUS); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan notification row: %w", err)
	}
	if err := json.Unmarshal([]byte(labels), &rec.Labels); err != nil {
		return nil, fmt.Errorf("notification %s labels: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(annotations), &rec.Annotations); err != nil {
		return nil, fmt.Errorf("notification %s annotations: %w", rec.ID, err)
	}
	rec.Time = fromMicros(timeUS)
	rec.ReceivedAt = fromMicros(receivedUS)
	return &rec, nil
}

func micros(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

func fromMicros(us int64) time.Time {
	if us == 0 {
		return time.Time{}
	}
	return time.UnixMicro(us).UTC()
}

var migrations = []plugin.Migration{
	{
		Version:     1,
		Description: "create archive_samples table",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec(`
				CREATE TABLE archive_samples (
					id          TEXT    PRIMARY KEY,
					family      TEXT    NOT NULL,
					type        TEXT    NOT NULL,
					labels      TEXT    NOT NULL,
					value       TEXT    NOT NULL,
					time_us     INTEGER NOT NULL,
					received_us INTEGER NOT NULL
				)`); err != nil {
				return err
			}
			_, err := tx.Exec(`CREATE INDEX idx_archive_samples_family ON archive_samples (family, received_us)`)
			return err
		},
	},
	{
		Version:     2,
		Description: "create archive_notifications table",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec(`
				CREATE TABLE archive_notifications (
					id          TEXT    PRIMARY KEY,
					name        TEXT    NOT NULL,
					severity    TEXT    NOT NULL,
					labels      TEXT    NOT NULL,
					annotations TEXT    NOT NULL,
					time_us     INTEGER NOT NULL,
					received_us INTEGER NOT NULL
				)`); err != nil {
				return err
			}
			_, err := tx.Exec(`CREATE INDEX idx_archive_notifications_received ON archive_notifications (received_us)`)
			return err
		},
	},
}
