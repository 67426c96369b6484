package tracking

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"delivery-core/internal/common/database"
	"delivery-core/internal/common/errors"

	"github.com/lib/pq"
)

const (
	insertOrderSQL = `INSERT INTO orders (id, customer_id, restaurant_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)`

	selectOrderSQL = `SELECT id, customer_id, restaurant_id, status,
		       driver_lat, driver_lng, driver_location_updated_at, created_at, updated_at
		FROM orders WHERE id = $1`

	lockOrderSQL = selectOrderSQL + ` FOR UPDATE`

	updateStatusSQL = `UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1`

	insertTimelineSQL = `INSERT INTO order_timeline (order_id, status, description, occurred_at)
		VALUES ($1, $2, $3, $4)`

	selectTimelineSQL = `SELECT status, description, occurred_at
		FROM order_timeline WHERE order_id = $1 ORDER BY occurred_at, id`

	// Older reports never overwrite newer ones.
	updateLocationSQL = `UPDATE orders
		SET driver_lat = $2, driver_lng = $3, driver_location_updated_at = $4
		WHERE id = $1
		  AND (driver_location_updated_at IS NULL OR driver_location_updated_at <= $4)`
)

const uniqueViolation = "23505"

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// Store keeps orders and their timelines in PostgreSQL.
type Store struct {
	db  *database.PostgresClient
	now func() time.Time
}

func NewStore(db *database.PostgresClient) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Create registers an order for tracking with its first timeline entry.
func (s *Store) Create(ctx context.Context, id, customerID, restaurantID string) (*Order, error) {
	now := s.now()
	var order *Order
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, insertOrderSQL, id, customerID, restaurantID, string(StatusOrderReceived), now); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, insertTimelineSQL, id, string(StatusOrderReceived), StatusOrderReceived.Description(), now); err != nil {
			return err
		}
		var err error
		order, err = s.load(ctx, tx, selectOrderSQL, id)
		return err
	})
	if err != nil {
		var pqErr *pq.Error
		if stderrors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, errors.NewValidationError(fmt.Sprintf("order %s already exists", id))
		}
		return nil, errors.NewStoreUnavailableError("create order", err)
	}
	return order, nil
}

func (s *Store) Get(ctx context.Context, id string) (*Order, error) {
	order, err := s.load(ctx, s.db.DB, selectOrderSQL, id)
	if err != nil {
		if errors.HasCode(err, errors.ErrCodeNotFound) {
			return nil, err
		}
		return nil, errors.NewStoreUnavailableError("get order", err)
	}
	return order, nil
}

// Transition locks the order row, validates the move, updates the status and
// appends one timeline entry in a single transaction.
func (s *Store) Transition(ctx context.Context, id string, to Status) (*Order, error) {
	var order *Order
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		current, err := s.load(ctx, tx, lockOrderSQL, id)
		if err != nil {
			return err
		}
		if err := CanTransition(current.Status, to); err != nil {
			return err
		}

		now := s.now()
		if _, err := tx.ExecContext(ctx, updateStatusSQL, id, string(to), now); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, insertTimelineSQL, id, string(to), to.Description(), now); err != nil {
			return err
		}

		current.Status = to
		current.UpdatedAt = now
		current.Timeline = append(current.Timeline, TimelineEntry{Status: to, Description: to.Description(), OccurredAt: now})
		order = current
		return nil
	})
	if err != nil {
		if _, ok := errors.As(err); ok {
			return nil, err
		}
		return nil, errors.NewStoreUnavailableError("transition order", err)
	}
	return order, nil
}

// UpdateLocation reports whether the location was applied. A stale timestamp
// or an unknown order leaves the row untouched.
func (s *Store) UpdateLocation(ctx context.Context, id string, lat, lng float64, at time.Time) (bool, error) {
	res, err := s.db.DB.ExecContext(ctx, updateLocationSQL, id, lat, lng, at)
	if err != nil {
		return false, errors.NewStoreUnavailableError("update driver location", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, errors.NewStoreUnavailableError("update driver location", err)
	}
	return rows > 0, nil
}

func (s *Store) load(ctx context.Context, q queryer, query, id string) (*Order, error) {
	var (
		o             Order
		status        string
		lat, lng      sql.NullFloat64
		locationStamp sql.NullTime
	)
	err := q.QueryRowContext(ctx, query, id).Scan(&o.ID, &o.CustomerID, &o.RestaurantID, &status,
		&lat, &lng, &locationStamp, &o.CreatedAt, &o.UpdatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("order", id)
	}
	if err != nil {
		return nil, err
	}
	o.Status = Status(status)
	if lat.Valid && lng.Valid && locationStamp.Valid {
		o.DriverLocation = &DriverLocation{Lat: lat.Float64, Lng: lng.Float64, UpdatedAt: locationStamp.Time}
	}

	rows, err := q.QueryContext(ctx, selectTimelineSQL, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	o.Timeline = make([]TimelineEntry, 0)
	for rows.Next() {
		var (
			e  TimelineEntry
			st string
		)
		if err := rows.Scan(&st, &e.Description, &e.OccurredAt); err != nil {
			return nil, err
		}
		e.Status = Status(st)
		o.Timeline = append(o.Timeline, e)
	}
	return &o, rows.Err()
}
