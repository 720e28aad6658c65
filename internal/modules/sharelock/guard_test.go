package sharelock

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheck_NoReservationsAllowsSell(t *testing.T) {
	result := Check("OPAP", 1000, -400, nil)

	assert.True(t, result.Allowed)
	assert.Equal(t, 0.0, result.Reserved)
	assert.Equal(t, 600.0, result.ProjectedQty)
}

func TestCheck_FullyReservedRejectsAnySell(t *testing.T) {
	reservations := []Reservation{{ContractsCount: 1, SharesPerContract: 1000}}

	result := Check("OPAP", 1000, -1, reservations)

	assert.False(t, result.Allowed)
	assert.Contains(t, result.Reason, "reserved")
	assert.Equal(t, 1000.0, result.Reserved)
}

func TestCheck_BoundaryIsInclusive(t *testing.T) {
	reservations := []Reservation{{ContractsCount: 1, SharesPerContract: 1000}}

	// Selling down to exactly the reserved quantity is allowed.
	result := Check("OPAP", 1500, -500, reservations)

	assert.True(t, result.Allowed)
	assert.Equal(t, 0.0, result.FreeShares)
}

func TestCheck_JustBelowBoundaryRejected(t *testing.T) {
	reservations := []Reservation{{ContractsCount: 1, SharesPerContract: 1000}}

	result := Check("OPAP", 1500, -501, reservations)

	assert.False(t, result.Allowed)
}

func TestCheck_MultipleReservationsSum(t *testing.T) {
	reservations := []Reservation{
		{ContractsCount: 1, SharesPerContract: 1000},
		{ContractsCount: 2, SharesPerContract: 500},
	}

	assert.Equal(t, 2000.0, Reserved(reservations))

	result := Check("OPAP", 2500, -500, reservations)
	assert.True(t, result.Allowed)

	result = Check("OPAP", 2500, -600, reservations)
	assert.False(t, result.Allowed)
}

func TestCheck_OversellRejectedEvenWithoutReservations(t *testing.T) {
	result := Check("OPAP", 100, -500, nil)

	assert.False(t, result.Allowed)
	assert.Contains(t, result.Reason, "only")
}

func TestCheck_PositiveDeltaAlwaysAllowed(t *testing.T) {
	reservations := []Reservation{{ContractsCount: 5, SharesPerContract: 1000}}

	// Buying while under-reserved is fine - the guard only blocks operations
	// that reduce backing below the obligation.
	result := Check("OPAP", 0, 200, reservations)

	assert.True(t, result.Allowed)
	assert.Equal(t, -4800.0, result.FreeShares)
}
