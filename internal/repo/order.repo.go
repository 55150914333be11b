package repo

import (
	"context"
	"database/sql"
	"errors"

	"school-payments/internal/domain"

	"github.com/google/uuid"
)

type OrderRepo interface {
	CreateOrder(ctx context.Context, tx *sql.Tx, order *domain.Order) error
	// FindById accepts an internal id or a custom order id. It returns nil, nil
	// when nothing matches.
	FindById(ctx context.Context, idOrCustomID string) (*domain.Order, error)
}

type orderRepo struct {
	db *sql.DB
}

func NewOrderRepo(db *sql.DB) OrderRepo {
	return &orderRepo{db: db}
}

const orderColumns = `id, custom_order_id, school_id, trustee_id, student_name, student_id, student_email, gateway_name, created_at, updated_at`

func (r *orderRepo) CreateOrder(ctx context.Context, tx *sql.Tx, order *domain.Order) error {
	_, err := conn(r.db, tx).ExecContext(ctx,
		`INSERT INTO orders (`+orderColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		order.ID,
		order.CustomOrderID,
		order.SchoolID,
		order.TrusteeID,
		order.StudentInfo.Name,
		order.StudentInfo.ID,
		order.StudentInfo.Email,
		order.GatewayName,
		order.CreatedAt,
		order.UpdatedAt,
	)
	return translate(err)
}

func (r *orderRepo) FindById(ctx context.Context, idOrCustomID string) (*domain.Order, error) {
	if id, err := uuid.Parse(idOrCustomID); err == nil {
		order, err := r.findOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
		if err != nil || order != nil {
			return order, err
		}
	}
	return r.findOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE custom_order_id = $1`, idOrCustomID)
}

func (r *orderRepo) findOne(ctx context.Context, query string, arg any) (*domain.Order, error) {
	order, err := scanOrder(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // not found
	}
	if err != nil {
		return nil, err
	}
	return order, nil
}

func scanOrder(row scanner) (*domain.Order, error) {
	var order domain.Order
	err := row.Scan(
		&order.ID,
		&order.CustomOrderID,
		&order.SchoolID,
		&order.TrusteeID,
		&order.StudentInfo.Name,
		&order.StudentInfo.ID,
		&order.StudentInfo.Email,
		&order.GatewayName,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &order, nil
}
