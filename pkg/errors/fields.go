package errors

import (
	stdErrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// LogFields flattens err into structured log fields: its code, the unwrap
// chain and, when a Postgres error is in the chain, the server's diagnostics.
func LogFields(err error) map[string]any {
	if err == nil {
		return nil
	}
	fields := map[string]any{
		"error_code": As(err).Code(),
	}

	var chain []string
	for e := err; e != nil; e = stdErrors.Unwrap(e) {
		chain = append(chain, fmt.Sprintf("%T", e))
	}
	fields["error_chain"] = chain

	for k, v := range postgresFields(err) {
		if v != "" {
			fields[k] = v
		}
	}
	return fields
}

func postgresFields(err error) map[string]string {
	var pgxErr *pgconn.PgError
	if stdErrors.As(err, &pgxErr) {
		return map[string]string{
			"pg_code":       pgxErr.Code,
			"pg_message":    pgxErr.Message,
			"pg_detail":     pgxErr.Detail,
			"pg_table":      pgxErr.TableName,
			"pg_constraint": pgxErr.ConstraintName,
		}
	}
	var pqErr *pq.Error
	if stdErrors.As(err, &pqErr) {
		return map[string]string{
			"pg_code":       string(pqErr.Code),
			"pg_message":    pqErr.Message,
			"pg_detail":     pqErr.Detail,
			"pg_table":      pqErr.Table,
			"pg_constraint": pqErr.Constraint,
		}
	}
	return nil
}
