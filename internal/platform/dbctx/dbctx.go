// Package dbctx bundles a request context with an optional GORM transaction
// so store methods can participate in a caller-owned transaction without
// threading *gorm.DB through every call signature.
package dbctx

import (
	"context"

	"gorm.io/gorm"
)

type Context struct {
	Ctx context.Context
	Tx  *gorm.DB
}

func (c Context) TxOr(db *gorm.DB) *gorm.DB {
	if c.Tx != nil {
		return c.Tx
	}
	return db
}
