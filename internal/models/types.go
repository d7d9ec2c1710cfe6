package models

import "time"

// HistoryWindow is the number of daily readings kept in a DeviceView.
const HistoryWindow = 7

// Credentials holds the account login for the Hydrolink API
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Session is the token issued by a successful login
type Session struct {
	Token      string
	ObtainedAt time.Time
}

// DailyReading is one day of consumption as reported by the API
type DailyReading struct {
	Created     int64 `json:"created"`
	Subtraction int64 `json:"subtraction"`
}

// DeviceRecord represents a single meter in the meter data response
type DeviceRecord struct {
	SecondaryAddress string         `json:"secondaryAddress"`
	LatestValue      int64          `json:"latestValue"`
	Warm             bool           `json:"warm"`
	DailyReadings    []DailyReading `json:"dailyReadings"`
}

// MeterDataResponse represents the body of the meter data endpoint
type MeterDataResponse struct {
	Meters []DeviceRecord `json:"meters"`
}

// RawDataset is one decoded fetch, stamped with its generation
type RawDataset struct {
	Meters     []DeviceRecord
	Generation uint64
	FetchedAt  time.Time
}

// HistoryEntry is a rendered daily reading
type HistoryEntry struct {
	Timestamp int64  `json:"timestamp"`
	Date      string `json:"date"`
	Value     int64  `json:"value"`
}

// DeviceView is the public per-meter projection
type DeviceView struct {
	ID            string         `json:"id"`
	UniqueID      string         `json:"unique_id"`
	Name          string         `json:"name"`
	Icon          string         `json:"icon"`
	Warm          bool           `json:"warm"`
	State         int64          `json:"state"`
	Unit          string         `json:"unit_of_measurement"`
	DeviceClass   string         `json:"device_class"`
	StateClass    string         `json:"state_class"`
	RecentHistory []HistoryEntry `json:"daily_consumption"`
}
