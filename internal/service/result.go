package service

import "fmt"

// ReserveStatus is the outcome of a reserve attempt as exposed to the
// checkout orchestration contract.
type ReserveStatus string

const (
	StatusReserved          ReserveStatus = "RESERVED"
	StatusInsufficientStock ReserveStatus = "INSUFFICIENT_STOCK"
	StatusStockNotFound     ReserveStatus = "STOCK_NOT_FOUND"
	StatusLimitExceeded     ReserveStatus = "LIMIT_EXCEEDED"
)

// ReserveResult carries the reserve outcome. Insufficient stock and cap
// breaches are expected, user-facing outcomes, not errors.
type ReserveResult struct {
	Success          bool          `json:"success"`
	Status           ReserveStatus `json:"status"`
	ReservedQuantity int           `json:"reserved_quantity"`
	Message          string        `json:"message,omitempty"`
}

func reservedResult(quantity int) *ReserveResult {
	return &ReserveResult{
		Success:          true,
		Status:           StatusReserved,
		ReservedQuantity: quantity,
		Message:          "stock reserved",
	}
}

func insufficientStockResult() *ReserveResult {
	return &ReserveResult{
		Status:  StatusInsufficientStock,
		Message: "not enough stock available",
	}
}

func stockNotFoundResult() *ReserveResult {
	return &ReserveResult{
		Status:  StatusStockNotFound,
		Message: "stock not found in cache or durable store",
	}
}

func limitExceededResult(limit int) *ReserveResult {
	return &ReserveResult{
		Status:  StatusLimitExceeded,
		Message: fmt.Sprintf("per-user purchase limit of %d reached", limit),
	}
}
