package session

import "time"

// Record is one periodic snapshot row.
type Record struct {
	SessionID    string    `json:"session_id"`
	Count        int       `json:"count"`
	Timestamp    time.Time `json:"timestamp"`
	Level        string    `json:"level"`
	Threshold    float64   `json:"threshold"`
	DerivedAngle float64   `json:"derived_angle"`
}

// Date formats the record day as dd/mm/yyyy.
func (r Record) Date() string {
	return r.Timestamp.Format("02/01/2006")
}

// Clock formats the record time of day as HH:MM:SS.
func (r Record) Clock() string {
	return r.Timestamp.Format("15:04:05")
}
