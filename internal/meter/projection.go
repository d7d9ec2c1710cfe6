package meter

import (
	"fmt"
	"time"

	"github.com/tejusbharadwaj/hydrolink/internal/models"
)

const (
	iconWarm    = "mdi:water-plus"
	iconCold    = "mdi:water-minus"
	unitLiters  = "L"
	deviceClass = "water"
	stateClass  = "total_increasing"
	dateLayout  = "2006-01-02"
)

// Project derives the public view of a meter. It has no side effects and
// does not retain record.
func Project(record models.DeviceRecord) models.DeviceView {
	return models.DeviceView{
		ID:            record.SecondaryAddress,
		UniqueID:      "hydrolink_" + record.SecondaryAddress,
		Name:          DisplayName(record),
		Icon:          Icon(record.Warm),
		Warm:          record.Warm,
		State:         record.LatestValue,
		Unit:          unitLiters,
		DeviceClass:   deviceClass,
		StateClass:    stateClass,
		RecentHistory: RecentHistory(record.DailyReadings),
	}
}

func DisplayName(record models.DeviceRecord) string {
	kind := "Cold"
	if record.Warm {
		kind = "Warm"
	}
	return fmt.Sprintf("%s Water Meter %s", kind, record.SecondaryAddress)
}

func Icon(warm bool) string {
	if warm {
		return iconWarm
	}
	return iconCold
}

// RecentHistory renders the last models.HistoryWindow readings, oldest first.
func RecentHistory(readings []models.DailyReading) []models.HistoryEntry {
	if len(readings) > models.HistoryWindow {
		readings = readings[len(readings)-models.HistoryWindow:]
	}
	history := make([]models.HistoryEntry, len(readings))
	for i, reading := range readings {
		history[i] = models.HistoryEntry{
			Timestamp: reading.Created,
			Date:      dateFromMillis(reading.Created),
			Value:     reading.Subtraction,
		}
	}
	return history
}

func dateFromMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(dateLayout)
}
