package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"popgenval/internal/model"
)

var (
	ErrNotInitialized = errors.New("store is not initialized")
	ErrInvalidTable   = errors.New("invalid table name")
)

// Store is the append-only accumulation target for replicate rows plus the
// run captions written alongside them.
type Store interface {
	Init(ctx context.Context) error
	Reset(ctx context.Context) error
	AppendRows(ctx context.Context, table string, rows []model.Row) error
	LoadRows(ctx context.Context, table string) ([]model.Row, error)
	CountRows(ctx context.Context, table string) (int, error)
	Tables(ctx context.Context) ([]string, error)
	SaveRunMeta(ctx context.Context, meta model.RunMeta) error
	GetRunMeta(ctx context.Context, runID string) (model.RunMeta, bool, error)
	ListRunMeta(ctx context.Context) ([]model.RunMeta, error)
}

var tableNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

func ValidateTableName(table string) error {
	if !tableNamePattern.MatchString(table) {
		return fmt.Errorf("%w: %q", ErrInvalidTable, table)
	}
	return nil
}
