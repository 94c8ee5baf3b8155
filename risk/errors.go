package risk

import "errors"

var (
	ErrSingleExceed = errors.New("single order exceed")
	ErrDailyExceed  = errors.New("daily volume exceed")
)
