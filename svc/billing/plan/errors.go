package plan

import "errors"

// ErrInvalidPlan is returned for tags outside the fixed enumeration.
var ErrInvalidPlan = errors.New("plan: invalid plan tag")
