package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/architecte-ia/etsy-analytics-pro/internal/domain"

	"github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	customersTable = "customers"
	productsTable  = "customer_products"
)

var tracer = otel.Tracer("postgres")

var customerColumns = []string{
	"id", "email", "access_key", "product", "shop_name", "data_consent",
	"consent_updated_at", "signup_date", "last_login", "usage_count", "usage_reset_date",
}

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// CustomerStore implements port.CustomerStore on plain SQL.
type CustomerStore struct {
	conn *Connection
}

// NewCustomerStore binds the store to a connection.
func NewCustomerStore(conn *Connection) *CustomerStore {
	return &CustomerStore{conn: conn}
}

func (s *CustomerStore) GetByAccessKey(ctx context.Context, accessKey string) (*domain.Customer, error) {
	return s.getOne(ctx, "GetByAccessKey", squirrel.Eq{"access_key": accessKey})
}

func (s *CustomerStore) GetByEmail(ctx context.Context, email string) (*domain.Customer, error) {
	return s.getOne(ctx, "GetByEmail", squirrel.Eq{"email": domain.NormalizeEmail(email)})
}

func (s *CustomerStore) getOne(ctx context.Context, op string, where squirrel.Eq) (_ *domain.Customer, err error) {
	ctx, span := tracer.Start(ctx, "Postgres."+op)
	defer func() { endSpan(span, err) }()

	query, args, err := psql.Select(customerColumns...).From(customersTable).Where(where).Limit(1).ToSql()
	if err != nil {
		return nil, err
	}

	var (
		c                                     domain.Customer
		product                               string
		shopName                              sql.NullString
		consent                               sql.NullBool
		consentAt, lastLogin, resetAt, signup sql.NullTime
	)
	err = s.conn.QueryRowContext(ctx, query, args...).Scan(
		&c.ID, &c.Email, &c.AccessKey, &product, &shopName, &consent,
		&consentAt, &signup, &lastLogin, &c.UsageCount, &resetAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "customer", ID: op}
	}
	if err != nil {
		return nil, external(err)
	}

	c.Product, _ = domain.ParseProduct(product)
	c.ShopName = shopName.String
	if consent.Valid {
		c.DataConsent = domain.BoolPtr(consent.Bool)
	}
	c.ConsentUpdatedAt = timePtr(consentAt)
	c.LastLogin = timePtr(lastLogin)
	c.UsageResetDate = timePtr(resetAt)
	if signup.Valid {
		c.SignupDate = signup.Time
	}

	products, err := s.products(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	c.Products = products
	return &c, nil
}

func (s *CustomerStore) products(ctx context.Context, customerID string) ([]domain.Product, error) {
	query, args, err := psql.Select("product").From(productsTable).
		Where(squirrel.Eq{"customer_id": customerID}).
		OrderBy("purchased_at").ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, external(err)
	}
	defer rows.Close()

	var out []domain.Product
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, external(err)
		}
		if p, ok := domain.ParseProduct(name); ok {
			out = append(out, p)
		}
	}
	return out, external(rows.Err())
}

func (s *CustomerStore) Create(ctx context.Context, in *domain.Customer) (_ *domain.Customer, err error) {
	ctx, span := tracer.Start(ctx, "Postgres.Create")
	defer func() { endSpan(span, err) }()

	query, args, err := psql.Insert(customersTable).
		Columns("id", "email", "access_key", "product", "shop_name", "data_consent",
			"consent_updated_at", "signup_date", "usage_count", "usage_reset_date").
		Values(in.ID, domain.NormalizeEmail(in.Email), in.AccessKey, string(in.Product),
			nullString(in.ShopName), in.DataConsent, in.ConsentUpdatedAt, in.SignupDate,
			in.UsageCount, in.UsageResetDate).
		ToSql()
	if err != nil {
		return nil, err
	}

	if _, err = s.conn.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return nil, &domain.ErrConflict{Message: "customer already exists"}
		}
		return nil, external(err)
	}

	out := *in
	out.Email = domain.NormalizeEmail(in.Email)
	return &out, nil
}

func (s *CustomerStore) AddProduct(ctx context.Context, customerID string, product domain.Product) (err error) {
	ctx, span := tracer.Start(ctx, "Postgres.AddProduct")
	defer func() { endSpan(span, err) }()

	query, args, err := psql.Insert(productsTable).
		Columns("customer_id", "product", "purchased_at").
		Values(customerID, string(product), time.Now().UTC()).
		Suffix("ON CONFLICT (customer_id, product) DO NOTHING").
		ToSql()
	if err != nil {
		return err
	}
	_, err = s.conn.ExecContext(ctx, query, args...)
	return external(err)
}

func (s *CustomerStore) UpdateLastLogin(ctx context.Context, customerID string, at time.Time) error {
	return s.update(ctx, "UpdateLastLogin", customerID, map[string]any{"last_login": at.UTC()})
}

func (s *CustomerStore) UpdateConsent(ctx context.Context, customerID string, consent bool, at time.Time) error {
	return s.update(ctx, "UpdateConsent", customerID, map[string]any{
		"data_consent":       consent,
		"consent_updated_at": at.UTC(),
	})
}

func (s *CustomerStore) UpdateUsage(ctx context.Context, customerID string, count int, resetAt time.Time) error {
	return s.update(ctx, "UpdateUsage", customerID, map[string]any{
		"usage_count":      count,
		"usage_reset_date": resetAt.UTC(),
	})
}

func (s *CustomerStore) ResetExpiredUsage(ctx context.Context, now, nextReset time.Time) (_ int, err error) {
	ctx, span := tracer.Start(ctx, "Postgres.ResetExpiredUsage")
	defer func() { endSpan(span, err) }()

	query, args, err := psql.Update(customersTable).
		Set("usage_count", 0).
		Set("usage_reset_date", nextReset.UTC()).
		Where(squirrel.Lt{"usage_reset_date": now.UTC()}).
		ToSql()
	if err != nil {
		return 0, err
	}

	res, err := s.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, external(err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *CustomerStore) Ping(ctx context.Context) error {
	return external(s.conn.PingContext(ctx))
}

func (s *CustomerStore) update(ctx context.Context, op, customerID string, set map[string]any) (err error) {
	ctx, span := tracer.Start(ctx, "Postgres."+op)
	defer func() { endSpan(span, err) }()

	query, args, err := psql.Update(customersTable).SetMap(set).
		Where(squirrel.Eq{"id": customerID}).ToSql()
	if err != nil {
		return err
	}

	res, err := s.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return external(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domain.ErrNotFound{Resource: "customer", ID: customerID}
	}
	return nil
}

func external(err error) error {
	if err == nil {
		return nil
	}
	return &domain.ErrExternalService{Service: "postgres", Err: err}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
