package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/surrealdb/surrealdb.go"
)

var (
	// ErrTransactionConflict means a concurrent writer touched the same
	// records. Upserts are safe to replay.
	ErrTransactionConflict = errors.New("transaction conflict")

	// ErrSchemaMissing means a query hit a table or index that is not defined.
	ErrSchemaMissing = errors.New("schema missing")

	// ErrUnexpectedResult means a query returned a shape the store cannot decode.
	ErrUnexpectedResult = errors.New("unexpected query result")
)

// queryErrorKinds maps SurrealDB error message fragments to sentinels.
var queryErrorKinds = []struct {
	fragment string
	sentinel error
}{
	{"Transaction conflict", ErrTransactionConflict},
	{"Resource busy", ErrTransactionConflict},
	{"does not exist", ErrSchemaMissing},
}

// wrapQueryError classifies server-side query errors. Transport errors and
// unknown messages are returned as is.
func wrapQueryError(err error) error {
	var qe *surrealdb.QueryError
	if err == nil || !errors.As(err, &qe) {
		return err
	}
	for _, k := range queryErrorKinds {
		if strings.Contains(qe.Message, k.fragment) {
			return fmt.Errorf("%w: %s", k.sentinel, qe.Message)
		}
	}
	return err
}
