package tokenstore

import (
	"context"

	"github.com/pashagolub/pgxmock/v4"
)

// setupMockContext places the mock in the context as the active transaction
// so conn() routes queries to it instead of the (nil) pool.
func setupMockContext(mock pgxmock.PgxPoolIface) context.Context {
	return context.WithValue(context.Background(), txKey{}, mock)
}
