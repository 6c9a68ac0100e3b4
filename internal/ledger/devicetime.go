package ledger

import (
	"strings"
	"time"
)

// DeviceTime is a client-supplied timestamp that passed DeviceClock validation.
// Wall is the same instant expressed in the zone used for date bucketing.
type DeviceTime struct {
	Wall time.Time
}

// Date is the calendar day used for attendance bucketing.
func (d DeviceTime) Date() string { return d.Wall.Format(time.DateOnly) }

// Clock is the HH:MM:SS check-in time.
func (d DeviceTime) Clock() string { return d.Wall.Format(time.TimeOnly) }

func (d DeviceTime) IsZero() bool { return d.Wall.IsZero() }

// DeviceClock is the only place client timestamps are parsed.
type DeviceClock struct {
	// Zone is applied to UTC stamps, which carry no local wall clock.
	Zone *time.Location
	// MaxSkew bounds how far a device may be from the server clock.
	MaxSkew time.Duration
	Now     func() time.Time
}

func (c DeviceClock) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Parse validates an RFC 3339 device timestamp.
func (c DeviceClock) Parse(raw string) (DeviceTime, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DeviceTime{}, validationf("device time is required")
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return DeviceTime{}, validationf("device time must be an RFC 3339 timestamp")
	}
	if c.MaxSkew > 0 {
		skew := t.Sub(c.now())
		if skew < 0 {
			skew = -skew
		}
		if skew > c.MaxSkew {
			return DeviceTime{}, validationf("device time is too far from server time")
		}
	}
	if _, offset := t.Zone(); offset == 0 && c.Zone != nil {
		t = t.In(c.Zone)
	}
	return DeviceTime{Wall: t}, nil
}

// ParseWithClock also checks the hour and minute the client reported separately.
func (c DeviceClock) ParseWithClock(raw string, hour, minute int) (DeviceTime, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return DeviceTime{}, validationf("client hour/minute out of range")
	}
	dt, err := c.Parse(raw)
	if err != nil {
		return DeviceTime{}, err
	}
	if dt.Wall.Hour() != hour || dt.Wall.Minute() != minute {
		return DeviceTime{}, validationf("client hour/minute disagree with device time")
	}
	return dt, nil
}
