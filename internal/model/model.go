// Package model holds the measurement types shared by the agent and the server.
package model

import (
	"errors"
	"fmt"
)

// HostID identifies a mesh router. In practice it is a DNS name.
type HostID = string

// Measurement is the latest round-trip time observed from Source to
// Destination. The pair is ordered: (a,b) and (b,a) are different
// measurements.
type Measurement struct {
	Source        HostID `json:"src"`
	Destination   HostID `json:"dst"`
	LatencyMillis int64  `json:"latency_ms"`
}

// ErrInvalidMeasurement is returned when a measurement is missing a host or
// carries a negative latency.
var ErrInvalidMeasurement = errors.New("invalid measurement")

// Validate reports whether m may be stored.
func (m Measurement) Validate() error {
	switch {
	case m.Source == "":
		return fmt.Errorf("%w: src is empty", ErrInvalidMeasurement)
	case m.Destination == "":
		return fmt.Errorf("%w: dst is empty", ErrInvalidMeasurement)
	case m.LatencyMillis < 0:
		return fmt.Errorf("%w: latency_ms %d is negative", ErrInvalidMeasurement, m.LatencyMillis)
	}
	return nil
}

// Pair returns the ordered store key for m.
func (m Measurement) Pair() Pair {
	return Pair{Source: m.Source, Destination: m.Destination}
}

func (m Measurement) String() string {
	return fmt.Sprintf("%s -> %s: %dms", m.Source, m.Destination, m.LatencyMillis)
}

// Pair is an ordered (source, destination) key.
type Pair struct {
	Source      HostID
	Destination HostID
}
