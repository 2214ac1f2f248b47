package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrorDump is a flattened view of an error chain for structured logging.
// Postgres fields are populated only when a pgconn.PgError is in the chain.
type ErrorDump struct {
	TopMessage string   `json:"top_message"`
	Code       Code     `json:"code,omitempty"`
	Chain      []string `json:"chain,omitempty"`

	PGCode       string `json:"pg_code,omitempty"`
	PGConstraint string `json:"pg_constraint,omitempty"`
	PGDetail     string `json:"pg_detail,omitempty"`
	PGMessage    string `json:"pg_message,omitempty"`
}

func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}

	d := ErrorDump{
		TopMessage: err.Error(),
		Chain:      unwrapChain(err),
	}
	if te := As(err); te != nil {
		d.Code = te.Code()
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		d.PGCode = pgErr.Code
		d.PGConstraint = pgErr.ConstraintName
		d.PGDetail = pgErr.Detail
		d.PGMessage = pgErr.Message
	}
	return d
}

func unwrapChain(err error) []string {
	var chain []string
	for e := err; e != nil; e = errors.Unwrap(e) {
		chain = append(chain, fmt.Sprintf("%T: %v", e, e))
	}
	return chain
}
