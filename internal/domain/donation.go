package domain

import (
	"fmt"
	"time"
)

// EventClass distinguishes regular donations from sprint donations.
type EventClass int

const (
	ClassDonation EventClass = iota + 1
	ClassSprintDonation
)

func (c EventClass) String() string {
	switch c {
	case ClassDonation:
		return "donation"
	case ClassSprintDonation:
		return "sprint_donation"
	default:
		return "unknown"
	}
}

// ParseEventClass accepts the wire names produced by String.
func ParseEventClass(s string) (EventClass, error) {
	switch s {
	case "donation":
		return ClassDonation, nil
	case "sprint_donation", "sprint":
		return ClassSprintDonation, nil
	default:
		return 0, fmt.Errorf("unknown event class %q", s)
	}
}

func (c EventClass) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *EventClass) UnmarshalText(text []byte) error {
	parsed, err := ParseEventClass(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Sample is one poll of the external total. Text is the raw observed value;
// parsing belongs to the classifier.
type Sample struct {
	Text       string
	ObservedAt time.Time
	Valid      bool
}

// DonationEvent is a classified increment of the donation total.
type DonationEvent struct {
	Class      EventClass `json:"class"`
	Amount     int64      `json:"amount"`
	TotalAfter int64      `json:"total_after"`
	OccurredAt time.Time  `json:"occurred_at"`
	Sequence   uint64     `json:"sequence"`
}

// TotalBefore is the total the increment was measured against.
func (e DonationEvent) TotalBefore() int64 {
	return e.TotalAfter - e.Amount
}

// Message renders the human-readable line shown in chat and on the overlay.
func (e DonationEvent) Message() string {
	if e.Class == ClassSprintDonation {
		return fmt.Sprintf("🎉 SPRINT DONATION! %d kr 🎉", e.Amount)
	}
	return fmt.Sprintf("En hjälte skänkte %d kr", e.Amount)
}

// Kind is the wire name used by overlay clients.
func (e DonationEvent) Kind() string {
	return e.Class.String()
}
