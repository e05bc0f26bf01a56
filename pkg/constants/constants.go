package constants

import "github.com/go-playground/validator/v10"

type ContextKey int

const (
	AppKey ContextKey = iota
	PoolKey
	TxKey
	LoggerKey
	ParamsKey
	RequestStart
)

// Validate is the shared validator instance used by DTOs.
var Validate = validator.New()
