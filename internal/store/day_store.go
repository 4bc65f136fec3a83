package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vbonduro/nutrilog/internal/domain"
)

// DayStore archives closed-out days together with the meals logged on them.
type DayStore struct {
	db *sql.DB
}

func NewDayStore(db *sql.DB) *DayStore {
	return &DayStore{db: db}
}

// Create stores day and its meals in one transaction and returns the stored
// record with IDs filled in.
func (s *DayStore) Create(ctx context.Context, day *domain.DayRecord) (*domain.DayRecord, error) {
	closedAt := day.ClosedAt
	if closedAt.IsZero() {
		closedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO days (session_id, goal, summary, gap_suggestion, gut_health_tip, closed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, day.SessionID, day.Goal, day.Summary, day.GapSuggestion, day.GutHealthTip, closedAt.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to create day: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	for _, meal := range day.Meals {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO day_meals (day_id, position, name, summary) VALUES (?, ?, ?, ?)
		`, id, meal.Position, meal.Name, meal.Summary); err != nil {
			return nil, fmt.Errorf("failed to create day meal %q: %w", meal.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit day: %w", err)
	}

	return s.GetByID(ctx, id)
}

// GetByID returns nil, nil when no day has that id.
func (s *DayStore) GetByID(ctx context.Context, id int64) (*domain.DayRecord, error) {
	day := &domain.DayRecord{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, goal, summary, gap_suggestion, gut_health_tip, closed_at
		FROM days WHERE id = ?
	`, id).Scan(&day.ID, &day.SessionID, &day.Goal, &day.Summary, &day.GapSuggestion, &day.GutHealthTip, &day.ClosedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get day: %w", err)
	}

	meals, err := s.listMeals(ctx, id)
	if err != nil {
		return nil, err
	}
	day.Meals = meals
	return day, nil
}

// ListRecent returns up to limit days, most recently closed first.
func (s *DayStore) ListRecent(ctx context.Context, limit int) ([]*domain.DayRecord, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, goal, summary, gap_suggestion, gut_health_tip, closed_at
		FROM days ORDER BY closed_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list days: %w", err)
	}

	var days []*domain.DayRecord
	for rows.Next() {
		day := &domain.DayRecord{}
		if err := rows.Scan(&day.ID, &day.SessionID, &day.Goal, &day.Summary, &day.GapSuggestion, &day.GutHealthTip, &day.ClosedAt); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan day: %w", err)
		}
		days = append(days, day)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("error iterating days: %w", err)
	}
	_ = rows.Close()

	// Meals are loaded after the day cursor is closed; the pool may hold a
	// single connection.
	for _, day := range days {
		meals, err := s.listMeals(ctx, day.ID)
		if err != nil {
			return nil, err
		}
		day.Meals = meals
	}
	return days, nil
}

func (s *DayStore) listMeals(ctx context.Context, dayID int64) ([]domain.DayMeal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, day_id, position, name, summary FROM day_meals
		WHERE day_id = ? ORDER BY position ASC
	`, dayID)
	if err != nil {
		return nil, fmt.Errorf("failed to list day meals: %w", err)
	}
	defer rows.Close()

	var meals []domain.DayMeal
	for rows.Next() {
		var m domain.DayMeal
		if err := rows.Scan(&m.ID, &m.DayID, &m.Position, &m.Name, &m.Summary); err != nil {
			return nil, fmt.Errorf("failed to scan day meal: %w", err)
		}
		meals = append(meals, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating day meals: %w", err)
	}
	return meals, nil
}

func (s *DayStore) Delete(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM days WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("failed to delete day: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("day not found")
	}

	return nil
}
