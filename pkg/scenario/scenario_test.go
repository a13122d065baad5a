package scenario

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextAlternatesOnConfirmedBooking(t *testing.T) {
	assert.Equal(t, Cancellation, Next(Booking, true))
	assert.Equal(t, Booking, Next(Booking, false))
	assert.Equal(t, Booking, Next(Cancellation, true))
	assert.Equal(t, Booking, Next(Cancellation, false))
}

func TestParse(t *testing.T) {
	assert.Equal(t, Cancellation, Parse("cancellation"))
	assert.Equal(t, Booking, Parse("BOOKING"))
	assert.Equal(t, Booking, Parse("nonsense"))
}

func TestPickerStaysInCatalogue(t *testing.T) {
	p := NewPicker([]string{"a", "b"}, 42)
	for i := 0; i < 20; i++ {
		assert.Contains(t, []string{"a", "b"}, p.Pick())
	}
	assert.Contains(t, DefaultSymptoms, NewPicker(nil, 1).Pick())
}
