package database

import (
	"context"
	"database/sql"
	"fmt"
)

// Transactor runs fn inside a single unit of work. Repositories accept the
// *sql.Tx it hands out; a nil tx means "no transaction".
type Transactor interface {
	WithinTx(ctx context.Context, fn func(tx *sql.Tx) error) error
}

type sqlTransactor struct {
	db *sql.DB
}

func NewTransactor(db *sql.DB) Transactor {
	return &sqlTransactor{db: db}
}

func (t *sqlTransactor) WithinTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// NoTx runs fn without a transaction. Used with the in-memory stores.
type NoTx struct{}

func (NoTx) WithinTx(_ context.Context, fn func(tx *sql.Tx) error) error {
	return fn(nil)
}
