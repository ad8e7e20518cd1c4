package dbctx

import (
	"context"

	"gorm.io/gorm"
)

// Context pairs a request context with an optional open transaction, so a
// service can run several repo calls atomically without the repos knowing
// whether they are inside one.
type Context struct {
	Ctx context.Context
	Tx  *gorm.DB
}

// Conn returns the transaction when one is carried, otherwise the base
// connection, bound to the request context either way.
func (c Context) Conn(base *gorm.DB) *gorm.DB {
	db := c.Tx
	if db == nil {
		db = base
	}
	return db.WithContext(c.Ctx)
}
