package models

import "time"

// GeoPoint is a coarse location seen in a user's login history.
type GeoPoint struct {
	Country   string  `json:"country"`
	Region    string  `json:"region,omitempty"`
	City      string  `json:"city,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Label returns a human-readable identifier for the point.
func (p GeoPoint) Label() string {
	if p.City != "" {
		return p.City + ", " + p.Country
	}
	return p.Country
}

// UserLoginPattern is the per-user behavioral fingerprint: bounded rolling
// sets of what "normal" looks like for this account. One row per user,
// created on first successful login and updated after every one since.
//
// Set eviction is deterministic: entries are kept in append order and the
// oldest-appended entry is dropped on overflow. Re-observing an entry moves
// it to the tail, so the sets behave as least-recently-seen caches.
type UserLoginPattern struct {
	ID                    string
	UserID                string
	TypicalIPs            []string       `json:"typical_ips"`
	TypicalLocations      []GeoPoint     `json:"typical_locations"`
	TypicalDevices        []string       `json:"typical_devices"`
	TypicalHours          []int          `json:"typical_hours"` // UTC hour-of-day buckets
	TypicalDays           []time.Weekday `json:"typical_days"`
	PreferredTimezone     string
	TotalSuccessfulLogins int
	TotalFailedLogins     int
	LocationRiskThreshold int // 0-100, per-dimension flag threshold
	TimeRiskThreshold     int
	DeviceRiskThreshold   int
	FirstLoginAt          time.Time
	LastLoginAt           time.Time
	UpdatedAt             time.Time
}

// HasIP reports whether the IP is in the typical set.
func (p *UserLoginPattern) HasIP(ip string) bool {
	for _, v := range p.TypicalIPs {
		if v == ip {
			return true
		}
	}
	return false
}

// HasDevice reports whether the fingerprint is in the typical set.
func (p *UserLoginPattern) HasDevice(fingerprint string) bool {
	for _, v := range p.TypicalDevices {
		if v == fingerprint {
			return true
		}
	}
	return false
}

// HasHour reports whether the UTC hour is a typical login hour.
func (p *UserLoginPattern) HasHour(hour int) bool {
	for _, v := range p.TypicalHours {
		if v == hour {
			return true
		}
	}
	return false
}

// HasDay reports whether the weekday is a typical login day.
func (p *UserLoginPattern) HasDay(day time.Weekday) bool {
	for _, v := range p.TypicalDays {
		if v == day {
			return true
		}
	}
	return false
}

// LastLocation returns the most recently appended typical location, or nil.
func (p *UserLoginPattern) LastLocation() *GeoPoint {
	if len(p.TypicalLocations) == 0 {
		return nil
	}
	return &p.TypicalLocations[len(p.TypicalLocations)-1]
}

// AppendBounded appends value to set, moving it to the tail if already
// present and evicting the oldest entry when cap is exceeded.
func AppendBounded[T comparable](set []T, value T, max int) []T {
	out := make([]T, 0, len(set)+1)
	for _, v := range set {
		if v != value {
			out = append(out, v)
		}
	}
	out = append(out, value)
	if max > 0 && len(out) > max {
		out = out[len(out)-max:]
	}
	return out
}
