package detect

import (
	"fmt"
	"sync/atomic"

	"github.com/phixarhasse/musikhjaelpen-alert/internal/domain"
)

const DefaultSprintThreshold = 200

// Classifier compares a sample against the previous total and turns forward
// progress into a DonationEvent. Apart from the sequence counter it keeps no state.
type Classifier struct {
	threshold int64
	sequence  atomic.Uint64
}

func NewClassifier(sprintThreshold int64) *Classifier {
	if sprintThreshold <= 0 {
		sprintThreshold = DefaultSprintThreshold
	}
	return &Classifier{threshold: sprintThreshold}
}

func (c *Classifier) Threshold() int64 {
	return c.threshold
}

// Classify returns the event for sample relative to previousTotal. The bool is
// false when there is nothing to distribute. A non-nil error reports a data
// problem (malformed text or a decreasing total); the sample is still discarded.
func (c *Classifier) Classify(previousTotal int64, sample domain.Sample) (domain.DonationEvent, bool, error) {
	if !sample.Valid {
		return domain.DonationEvent{}, false, nil
	}

	value, err := ParseAmount(sample.Text)
	if err != nil {
		return domain.DonationEvent{}, false, err
	}

	switch {
	case value == previousTotal:
		return domain.DonationEvent{}, false, nil
	case value < previousTotal:
		return domain.DonationEvent{}, false, fmt.Errorf("%w: %d -> %d", domain.ErrTotalDecreased, previousTotal, value)
	}

	amount := value - previousTotal
	class := domain.ClassDonation
	if amount >= c.threshold {
		class = domain.ClassSprintDonation
	}

	return domain.DonationEvent{
		Class:      class,
		Amount:     amount,
		TotalAfter: value,
		OccurredAt: sample.ObservedAt,
		Sequence:   c.sequence.Add(1),
	}, true, nil
}
