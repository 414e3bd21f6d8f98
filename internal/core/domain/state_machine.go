package domain

// Next returns the status that follows s in the fulfilment chain
// PENDING -> PROCESSING -> SHIPPING -> DONE. The boolean is false for terminal
// statuses. CANCELLED is never a Next target; it only results from a failed
// stock reconciliation.
func Next(s OrderStatus) (OrderStatus, bool) {
	switch s {
	case OrderStatusPending:
		return OrderStatusProcessing, true
	case OrderStatusProcessing:
		return OrderStatusShipping, true
	case OrderStatusShipping:
		return OrderStatusDone, true
	case OrderStatusDone, OrderStatusCancelled:
		return "", false
	default:
		return "", false
	}
}
