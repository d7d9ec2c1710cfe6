package meter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejusbharadwaj/hydrolink/internal/api"
	"github.com/tejusbharadwaj/hydrolink/internal/models"
)

func TestSensorUpdate(t *testing.T) {
	store := NewStore()
	store.Replace(&models.RawDataset{Meters: []models.DeviceRecord{warmMeter()}})

	// Start from outdated data, as if the sensor was created from an older fetch.
	outdated := warmMeter()
	outdated.LatestValue = 200
	outdated.DailyReadings[0] = models.DailyReading{Created: 1633245600000, Subtraction: 20}
	sensor := NewSensor(store, outdated)
	assert.Equal(t, int64(200), sensor.View().State)

	require.NoError(t, sensor.Update())
	assert.Equal(t, Project(warmMeter()), sensor.View())
	assert.Equal(t, uint64(1), sensor.Generation())
	assert.False(t, sensor.Stale())
}

func TestSensorKeepsViewWhenMeterVanishes(t *testing.T) {
	store := NewStore()
	store.Replace(&models.RawDataset{Meters: []models.DeviceRecord{warmMeter()}})
	sensor := NewSensor(store, warmMeter())
	require.NoError(t, sensor.Update())
	before := sensor.View()

	store.Replace(&models.RawDataset{Meters: []models.DeviceRecord{}})
	err := sensor.Update()

	require.Error(t, err)
	assert.True(t, api.IsNotFound(err))
	assert.True(t, sensor.Stale())
	assert.Equal(t, before, sensor.View())
}

func TestSensorRefreshNil(t *testing.T) {
	sensor := NewSensor(NewStore(), warmMeter())
	before := sensor.View()

	sensor.Refresh(nil, 3)
	assert.Equal(t, before, sensor.View())
	assert.True(t, sensor.Stale())

	record := warmMeter()
	record.LatestValue = 150
	sensor.Refresh(&record, 4)
	assert.Equal(t, int64(150), sensor.View().State)
	assert.False(t, sensor.Stale())
	assert.Equal(t, uint64(4), sensor.Generation())
}

func TestSensorViewIsCopy(t *testing.T) {
	sensor := NewSensor(NewStore(), warmMeter())
	view := sensor.View()
	view.RecentHistory[0].Value = 999

	assert.Equal(t, int64(10), sensor.View().RecentHistory[0].Value)
}
