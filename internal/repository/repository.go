package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// ErrDuplicate reports that an insert hit a unique key. Callers treat it as
// the idempotency signal (replayed order, repeated promo claim, repeated
// visitor fingerprint), not as a failure.
var ErrDuplicate = errors.New("repository: duplicate key")

func isDuplicateKey(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}
