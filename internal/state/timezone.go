package state

import (
	"fmt"
	"math"
)

const (
	MinTimezoneOffset = -12.0
	MaxTimezoneOffset = 14.0
)

// TimezoneOffset is the operator's UTC offset in hours, used when rendering alert times.
func (s *Store) TimezoneOffset() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.TimezoneOffset
}

func (s *Store) SetTimezoneOffset(hours float64) error {
	if math.IsNaN(hours) || hours < MinTimezoneOffset || hours > MaxTimezoneOffset {
		return fmt.Errorf("%w: timezone offset %g outside [%g, %g]", ErrInvalidArgument, hours, MinTimezoneOffset, MaxTimezoneOffset)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.TimezoneOffset = hours
	s.persistLocked("set_timezone")
	return nil
}
