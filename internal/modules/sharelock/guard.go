// Package sharelock guards stock mutations against shares reserved by open
// covered-call obligations.
//
// The check always runs against the post-operation projection, never the
// current snapshot, so same-day compound operations cannot slip through or be
// rejected spuriously.
package sharelock

import (
	"fmt"

	"github.com/avramides/folio/internal/domain"
)

// Reservation is one open covered-call obligation on a symbol.
type Reservation struct {
	ContractsCount    float64
	SharesPerContract float64
}

// Result is the guard's verdict on a proposed mutation.
type Result struct {
	Allowed      bool    `json:"allowed"`
	Reason       string  `json:"reason,omitempty"`
	Reserved     float64 `json:"reserved"`
	ProjectedQty float64 `json:"projected_qty"`
	FreeShares   float64 `json:"free_shares"`
}

// Reserved sums the shares obligated by the given open reservations.
func Reserved(reservations []Reservation) float64 {
	total := 0.0
	for _, r := range reservations {
		total += r.ContractsCount * r.SharesPerContract
	}
	return total
}

// Check validates a proposed quantity change against open reservations.
//
// currentQty is the ledger's remaining quantity before the operation,
// deltaQty the signed change the operation would apply (negative for a sell
// or for deleting a share-adding action). Only reductions are checked: an
// operation that adds shares can never worsen the backing, and blocking it
// would prevent buying shares to cover an existing obligation. The boundary
// is inclusive: a projection exactly equal to the reserved quantity is
// allowed. A negative projection is always rejected - it would be an
// oversell.
func Check(symbol string, currentQty, deltaQty float64, reservations []Reservation) Result {
	reserved := Reserved(reservations)
	projected := currentQty + deltaQty

	result := Result{
		Reserved:     reserved,
		ProjectedQty: projected,
		FreeShares:   projected - reserved,
	}

	if deltaQty >= 0 {
		result.Allowed = true
		return result
	}

	if projected < -domain.Epsilon {
		result.Reason = fmt.Sprintf(
			"operation would leave %s with %.3f shares: only %.3f held", symbol, projected, currentQty)
		return result
	}

	if projected < reserved-domain.Epsilon {
		result.Reason = fmt.Sprintf(
			"operation would leave %s with %.3f shares but %.3f are reserved by open covered calls",
			symbol, projected, reserved)
		return result
	}

	result.Allowed = true
	return result
}
