package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"school-payments/internal/domain"

	"github.com/google/uuid"
)

type StatusRepo interface {
	// tx *sql.Tx -> transaction control, nil runs on the pool
	CreateStatus(ctx context.Context, tx *sql.Tx, status *domain.OrderStatus) error
	FindByOrderId(ctx context.Context, orderID uuid.UUID) (*domain.OrderStatus, error)
	FindByCollectRequestId(ctx context.Context, collectRequestID string) (*domain.OrderStatus, error)
	AttachCollectRequest(ctx context.Context, tx *sql.Tx, orderID uuid.UUID, collectRequestID string, degraded bool) error
	// UpdateStatus reports false when no row matched, including when a guard
	// in the update rejected it.
	UpdateStatus(ctx context.Context, tx *sql.Tx, orderID uuid.UUID, update domain.StatusUpdate) (bool, error)
	// FindStale lists unsettled statuses with a live collect request, last
	// touched before the given time, oldest first.
	FindStale(ctx context.Context, before time.Time, limit int) ([]domain.OrderStatus, error)
}

type statusRepo struct {
	db *sql.DB
}

func NewStatusRepo(db *sql.DB) StatusRepo {
	return &statusRepo{db: db}
}

const statusColumns = `id, order_id, collect_request_id, degraded, order_amount, transaction_amount, payment_mode,
	payment_details, bank_reference, payment_message, status, error_message, payment_time, version, created_at, updated_at`

func (r *statusRepo) CreateStatus(ctx context.Context, tx *sql.Tx, s *domain.OrderStatus) error {
	query := `INSERT INTO order_statuses (` + statusColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err := conn(r.db, tx).ExecContext(ctx, query,
		s.ID, s.OrderID, s.CollectRequestID, s.Degraded, s.OrderAmount, s.TransactionAmount, s.PaymentMode,
		s.PaymentDetails, s.BankReference, s.PaymentMessage, s.Status, s.ErrorMessage, s.PaymentTime,
		s.Version, s.CreatedAt, s.UpdatedAt,
	)
	return translate(err)
}

func (r *statusRepo) FindByOrderId(ctx context.Context, orderID uuid.UUID) (*domain.OrderStatus, error) {
	return r.findOne(ctx, `SELECT `+statusColumns+` FROM order_statuses WHERE order_id = $1`, orderID)
}

func (r *statusRepo) FindByCollectRequestId(ctx context.Context, collectRequestID string) (*domain.OrderStatus, error) {
	return r.findOne(ctx, `SELECT `+statusColumns+` FROM order_statuses WHERE collect_request_id = $1`, collectRequestID)
}

func (r *statusRepo) findOne(ctx context.Context, query string, arg any) (*domain.OrderStatus, error) {
	s, err := scanStatus(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *statusRepo) AttachCollectRequest(ctx context.Context, tx *sql.Tx, orderID uuid.UUID, collectRequestID string, degraded bool) error {
	query := `
		UPDATE order_statuses
		SET collect_request_id = $2,
		    degraded = $3,
		    updated_at = now()
		WHERE order_id = $1
	`
	res, err := conn(r.db, tx).ExecContext(ctx, query, orderID, collectRequestID, degraded)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("no order status for order %s", orderID)
	}
	return nil
}

func (r *statusRepo) UpdateStatus(ctx context.Context, tx *sql.Tx, orderID uuid.UUID, u domain.StatusUpdate) (bool, error) {
	args := []any{orderID, u.Status, u.PaymentTime}
	sets := []string{"status = $2", "payment_time = $3"}
	set := func(column string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if u.PaymentDetails != nil {
		set("payment_details", *u.PaymentDetails)
	}
	if u.BankReference != nil {
		set("bank_reference", *u.BankReference)
	}
	if u.PaymentMode != nil {
		set("payment_mode", *u.PaymentMode)
	}
	if u.PaymentMessage != nil {
		set("payment_message", *u.PaymentMessage)
	}
	if u.ErrorMessage != nil {
		set("error_message", *u.ErrorMessage)
	}
	if u.TransactionAmount != nil {
		set("transaction_amount", *u.TransactionAmount)
	}
	sets = append(sets, "version = version + 1", "updated_at = now()")

	where := "order_id = $1"
	if u.NotAfter != nil {
		args = append(args, *u.NotAfter)
		where += fmt.Sprintf(" AND payment_time <= $%d", len(args))
	}
	if u.ExpectVersion != nil {
		args = append(args, *u.ExpectVersion)
		where += fmt.Sprintf(" AND version = $%d", len(args))
	}

	query := fmt.Sprintf("UPDATE order_statuses SET %s WHERE %s", strings.Join(sets, ", "), where)
	res, err := conn(r.db, tx).ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *statusRepo) FindStale(ctx context.Context, before time.Time, limit int) ([]domain.OrderStatus, error) {
	query := `
		SELECT ` + statusColumns + ` FROM order_statuses
		WHERE status IN ($1, $2)
		AND collect_request_id IS NOT NULL
		AND degraded = false
		AND updated_at < $3
		ORDER BY updated_at
		LIMIT $4
	`
	rows, err := r.db.QueryContext(ctx, query, domain.PaymentNotInitiated, domain.PaymentPending, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var statuses []domain.OrderStatus
	for rows.Next() {
		s, err := scanStatus(rows)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, *s)
	}
	return statuses, rows.Err()
}

func scanStatus(row scanner) (*domain.OrderStatus, error) {
	var s domain.OrderStatus
	err := row.Scan(
		&s.ID,
		&s.OrderID,
		&s.CollectRequestID,
		&s.Degraded,
		&s.OrderAmount,
		&s.TransactionAmount,
		&s.PaymentMode,
		&s.PaymentDetails,
		&s.BankReference,
		&s.PaymentMessage,
		&s.Status,
		&s.ErrorMessage,
		&s.PaymentTime,
		&s.Version,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
