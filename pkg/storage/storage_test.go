package storage

import "testing"

func TestNewProbeReportsUnknownWithoutPlatformSupport(t *testing.T) {
	p := NewProbe()
	if got := p.MediumKind("/tmp/whatever"); got != Unknown && got != SSD {
		t.Errorf("MediumKind = %v, want Unknown or SSD", got)
	}
}
