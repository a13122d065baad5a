// Package scenario defines what a synthetic patient is trying to achieve on a
// call and the graded outcome of that call.
package scenario

import (
	"math/rand"
	"strings"
	"sync"
	"time"
)

// Scenario is the goal the synthetic patient pursues.
type Scenario string

const (
	Booking      Scenario = "BOOKING"
	Cancellation Scenario = "CANCELLATION"
)

// Parse accepts the upper or lower case name; unknown values map to Booking.
func Parse(v string) Scenario {
	if strings.EqualFold(strings.TrimSpace(v), string(Cancellation)) {
		return Cancellation
	}
	return Booking
}

// Goal is the instruction the patient is given for this scenario.
func (s Scenario) Goal() string {
	if s == Cancellation {
		return "You already have an appointment booked. Cancel it. Confirm the cancellation with any verification the bot asks for."
	}
	return "Book a new doctor's appointment for your symptom. Agree on a specific date and time and make sure the bot confirms the booking."
}

// Next is the scenario that follows a graded call: a confirmed booking is
// followed by its cancellation, anything else starts over with a booking.
func Next(current Scenario, bookingConfirmed bool) Scenario {
	if current == Booking && bookingConfirmed {
		return Cancellation
	}
	return Booking
}

// DefaultSymptoms is the catalogue a patient's complaint is drawn from.
var DefaultSymptoms = []string{
	"persistent headache for three days",
	"high fever and body ache",
	"chest pain when climbing stairs",
	"sharp lower back pain",
	"skin rash on both arms",
	"dry cough for two weeks",
	"blurred vision in the left eye",
	"knee swelling after a fall",
	"stomach pain after meals",
	"frequent dizziness in the morning",
}

// Picker draws symptoms at random from a fixed catalogue.
type Picker struct {
	mu       sync.Mutex
	rnd      *rand.Rand
	symptoms []string
}

func NewPicker(symptoms []string, seed int64) *Picker {
	if len(symptoms) == 0 {
		symptoms = DefaultSymptoms
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	cp := make([]string, len(symptoms))
	copy(cp, symptoms)
	return &Picker{rnd: rand.New(rand.NewSource(seed)), symptoms: cp}
}

func (p *Picker) Pick() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.symptoms[p.rnd.Intn(len(p.symptoms))]
}
