package order

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownSymbol 交易对不存在或不可交易。
	ErrUnknownSymbol = errors.New("unknown symbol")
	// ErrOrderNotFound 撤单/查询时订单已是终态或不存在，调用方视为成功。
	ErrOrderNotFound = errors.New("order not found")
)

// RejectedError 交易所拒绝了某一笔订单。
type RejectedError struct {
	Code   int
	Reason string
}

func (e *RejectedError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("order rejected (code %d): %s", e.Code, e.Reason)
	}
	return "order rejected: " + e.Reason
}

// TransientError 网络/限流等可重试错误。
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient %s error: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsRejected 判断是否为交易所拒单。
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}

// IsTransient 判断是否可重试。
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// RejectReason 提取拒单原因，非拒单时返回 err.Error()。
func RejectReason(err error) string {
	var re *RejectedError
	if errors.As(err, &re) {
		return re.Reason
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
