package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/radiusdt/vector-analytics/internal/models"
)

// SQLiteTimeLayout is how timestamps are stored in the embedded fact file.
const SQLiteTimeLayout = "2006-01-02 15:04:05"

var sqliteLayouts = []string{
	SQLiteTimeLayout,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// SQLiteStore reads facts from an embedded SQLite file. Each snapshot is
// a deferred transaction, so all of its reads see one WAL snapshot.
type SQLiteStore struct {
	db      *sql.DB
	version Version
}

// NewSQLiteStore creates a SQLite-backed fact store.
func NewSQLiteStore(db *sql.DB, token string) *SQLiteStore {
	return &SQLiteStore{
		db:      db,
		version: Version{Token: token, LoadedAt: time.Now().UTC()},
	}
}

func (s *SQLiteStore) Snapshot(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// The transaction outlives ctx; Close ends it.
	tx, err := s.db.BeginTx(context.WithoutCancel(ctx), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin snapshot: %w", err)
	}
	return &sqliteSnapshot{tx: tx, version: s.version}, nil
}

type sqliteSnapshot struct {
	mu      sync.Mutex
	tx      *sql.Tx
	version Version
}

func (s *sqliteSnapshot) Version() Version { return s.version }

func (s *sqliteSnapshot) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return err
	}
	return nil
}

func (s *sqliteSnapshot) query(ctx context.Context, query string, args []any, scan func(*sql.Rows) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

// formatSQLiteTime matches the output of SQLite's datetime(), which the
// range conditions apply to the stored column.
func formatSQLiteTime(t time.Time) any { return t.UTC().Format(SQLiteTimeLayout) }

func parseSQLiteTime(s string) (time.Time, error) {
	for _, layout := range sqliteLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func (s *sqliteSnapshot) QueryCustomers(ctx context.Context, f Filter) ([]models.Customer, error) {
	w := newQuestionWhere()
	w.timeRange("datetime(registration_date)", f, formatSQLiteTime)
	if f.Channel != "" {
		w.add("acquisition_channel = %s", f.Channel)
	}

	var result []models.Customer
	err := s.query(ctx, `
		SELECT customer_id, registration_date, COALESCE(acquisition_channel, ''), COALESCE(customer_segment, '')
		FROM customers`+w.String()+`
		ORDER BY customer_id`, w.args, func(rows *sql.Rows) error {
		var (
			c      models.Customer
			signup string
		)
		if err := rows.Scan(&c.ID, &signup, &c.AcquisitionChannel, &c.Segment); err != nil {
			return err
		}
		t, err := parseSQLiteTime(signup)
		if err != nil {
			return fmt.Errorf("customer %s: %w", c.ID, err)
		}
		c.SignupDate = t
		result = append(result, c)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query customers: %w", err)
	}
	return result, nil
}

func (s *sqliteSnapshot) QueryOrders(ctx context.Context, f Filter) ([]models.Order, error) {
	w := newQuestionWhere()
	w.timeRange("datetime(order_date)", f, formatSQLiteTime)
	if f.Status != "" {
		w.add("LOWER(status) = %s", string(f.Status))
	}

	var result []models.Order
	err := s.query(ctx, `
		SELECT order_id, customer_id, order_date, status, COALESCE(payment_method, ''), total_amount
		FROM orders`+w.String()+`
		ORDER BY order_date, order_id`, w.args, func(rows *sql.Rows) error {
		var (
			o            models.Order
			placed, stat string
		)
		if err := rows.Scan(&o.ID, &o.CustomerID, &placed, &stat, &o.PaymentMethod, &o.TotalAmount); err != nil {
			return err
		}
		t, err := parseSQLiteTime(placed)
		if err != nil {
			return fmt.Errorf("order %s: %w", o.ID, err)
		}
		o.PlacedAt = t
		o.Status = models.NormalizeStatus(stat)
		result = append(result, o)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	return result, nil
}

func (s *sqliteSnapshot) QueryOrderItems(ctx context.Context, f Filter) ([]models.OrderItem, error) {
	w := newQuestionWhere()
	w.timeRange("datetime(o.order_date)", f, formatSQLiteTime)
	if f.Status != "" {
		w.add("LOWER(o.status) = %s", string(f.Status))
	}
	if f.Category != "" {
		w.add("p.category = %s", f.Category)
	}

	var result []models.OrderItem
	err := s.query(ctx, `
		SELECT oi.order_id, oi.product_id, COALESCE(p.category, ''), oi.quantity, oi.unit_price
		FROM order_items oi
		JOIN orders o ON o.order_id = oi.order_id
		LEFT JOIN products p ON p.product_id = oi.product_id`+w.String()+`
		ORDER BY oi.order_id, oi.product_id`, w.args, func(rows *sql.Rows) error {
		var it models.OrderItem
		if err := rows.Scan(&it.OrderID, &it.ProductID, &it.Category, &it.Quantity, &it.UnitPrice); err != nil {
			return err
		}
		result = append(result, it)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	return result, nil
}

func (s *sqliteSnapshot) QuerySessions(ctx context.Context, f Filter) ([]models.Session, error) {
	w := newQuestionWhere()
	w.timeRange("datetime(session_date)", f, formatSQLiteTime)
	if f.Channel != "" {
		w.add("traffic_source = %s", f.Channel)
	}

	var result []models.Session
	err := s.query(ctx, `
		SELECT session_id, customer_id, session_date, COALESCE(traffic_source, ''), COALESCE(device_type, ''),
		       converted_order_id, COALESCE(session_duration_seconds, 0), COALESCE(page_views, 0), COALESCE(bounced, 0)
		FROM web_sessions`+w.String()+`
		ORDER BY session_date, session_id`, w.args, func(rows *sql.Rows) error {
		var (
			ss                  models.Session
			customer, converted sql.NullString
			started             string
		)
		if err := rows.Scan(&ss.ID, &customer, &started, &ss.TrafficSource, &ss.DeviceType,
			&converted, &ss.DurationSeconds, &ss.PageViews, &ss.Bounced); err != nil {
			return err
		}
		t, err := parseSQLiteTime(started)
		if err != nil {
			return fmt.Errorf("session %s: %w", ss.ID, err)
		}
		ss.StartedAt = t
		if customer.Valid {
			ss.CustomerID = &customer.String
		}
		if converted.Valid {
			ss.ConvertedOrderID = &converted.String
		}
		result = append(result, ss)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	return result, nil
}

func (s *sqliteSnapshot) QueryProducts(ctx context.Context, f Filter) ([]models.Product, error) {
	w := newQuestionWhere()
	if f.Category != "" {
		w.add("category = %s", f.Category)
	}

	var result []models.Product
	err := s.query(ctx, `
		SELECT product_id, product_name, COALESCE(category, ''), COALESCE(price, 0), COALESCE(cost, 0)
		FROM products`+w.String()+`
		ORDER BY product_id`, w.args, func(rows *sql.Rows) error {
		var p models.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.Price, &p.Cost); err != nil {
			return err
		}
		result = append(result, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	return result, nil
}
