// Package dbctx bundles a request-scoped context.Context with an optional
// in-flight GORM transaction, so repository methods can be called either
// standalone or nested inside a caller's transaction without two signatures.
package dbctx

import (
	"context"

	"gorm.io/gorm"
)

type Context struct {
	Ctx context.Context
	Tx  *gorm.DB
}
