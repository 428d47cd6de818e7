package model

import (
	"errors"
	"testing"
)

func TestMeasurementValidate(t *testing.T) {
	tests := []struct {
		name    string
		m       Measurement
		wantErr bool
	}{
		{"valid", Measurement{Source: "a", Destination: "b", LatencyMillis: 15}, false},
		{"zero latency", Measurement{Source: "a", Destination: "b", LatencyMillis: 0}, false},
		{"negative latency", Measurement{Source: "a", Destination: "b", LatencyMillis: -1}, true},
		{"missing src", Measurement{Destination: "b", LatencyMillis: 1}, true},
		{"missing dst", Measurement{Source: "a", LatencyMillis: 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.m.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidMeasurement) {
					t.Fatalf("expected ErrInvalidMeasurement, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestPairIsOrdered(t *testing.T) {
	ab := Measurement{Source: "a", Destination: "b"}.Pair()
	ba := Measurement{Source: "b", Destination: "a"}.Pair()
	if ab == ba {
		t.Fatal("expected (a,b) and (b,a) to be distinct keys")
	}
}
