//go:build integration
// +build integration

package integration_test

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	server "github.com/tejusbharadwaj/hydrolink/internal/grpc"
	"github.com/tejusbharadwaj/hydrolink/internal/hydrolink"
	"github.com/tejusbharadwaj/hydrolink/internal/metrics"
	"github.com/tejusbharadwaj/hydrolink/internal/models"
)

const bufSize = 1024 * 1024

// mockHydrolink serves the login and meter data endpoints
type mockHydrolink struct {
	mu        sync.Mutex
	meters    []models.DeviceRecord
	failFetch bool
}

func (m *mockHydrolink) setFailFetch(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failFetch = fail
}

func (m *mockHydrolink) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		var creds models.Credentials
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil || creds.Password != "secret" {
			http.Error(w, "bad credentials", http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"token": "integration-token"})
	})
	mux.HandleFunc("/getResidentMeterData", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Token string `json:"token"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		m.mu.Lock()
		defer m.mu.Unlock()
		if m.failFetch || req.Token != "integration-token" {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(models.MeterDataResponse{Meters: m.meters})
	})
	return mux
}

func setupClients(t *testing.T, health *server.HealthChecker, account *hydrolink.Account, collector *metrics.Collector, logger *logrus.Logger) (grpc_health_v1.HealthClient, *server.MetersClient) {
	t.Helper()
	lis := bufconn.Listen(bufSize)

	srv, err := server.SetupServer(health, server.DefaultServerConfig(), collector, logger)
	require.NoError(t, err)
	server.RegisterMetersServer(srv, server.NewMetersService(account))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) {
			return lis.Dial()
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return grpc_health_v1.NewHealthClient(conn), server.NewMetersClient(conn)
}

func TestHydrolinkE2E(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	api := &mockHydrolink{meters: []models.DeviceRecord{
		{SecondaryAddress: "A1", LatestValue: 1200, Warm: false, DailyReadings: []models.DailyReading{{Created: day, Subtraction: 150}}},
		{SecondaryAddress: "B2", LatestValue: 800, Warm: true},
	}}
	mockServer := httptest.NewServer(api.handler())
	defer mockServer.Close()

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector()
	require.NoError(t, collector.Register(registry))

	health := server.NewHealthChecker()

	ctx := context.Background()
	account, err := hydrolink.Initialize(ctx, models.Credentials{Username: "user", Password: "secret"}, hydrolink.Options{
		LoginURL:        mockServer.URL + "/login",
		MeterDataURL:    mockServer.URL + "/getResidentMeterData",
		RefreshInterval: time.Hour,
		Logger:          logger,
		Metrics:         collector,
		OnRefresh:       health.ObserveRefresh,
	})
	require.NoError(t, err)
	defer account.Shutdown(ctx)
	client, meters := setupClients(t, health, account, collector, logger)

	views := account.ListDeviceViews()
	require.Len(t, views, 2)
	assert.Equal(t, "Cold Water Meter A1", views[0].Name)
	assert.Equal(t, int64(1200), views[0].State)
	require.Len(t, views[0].RecentHistory, 1)
	assert.Equal(t, "2024-01-01", views[0].RecentHistory[0].Date)
	assert.Equal(t, "Warm Water Meter B2", views[1].Name)
	assert.Equal(t, float64(2), testutil.ToFloat64(collector.Devices))

	resp, err := client.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: server.ServiceName})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.Status)

	list, err := meters.ListMeters(ctx)
	require.NoError(t, err)
	require.Len(t, list.GetValues(), 2)
	assert.Equal(t, "A1", list.GetValues()[0].GetStructValue().AsMap()["id"])

	// A failed cycle keeps the last dataset and flips health
	api.setFailFetch(true)
	require.Error(t, account.Refresh(ctx))

	resp, err = client.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: server.ServiceName})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, resp.Status)

	view, err := account.DeviceView("A1")
	require.NoError(t, err)
	assert.Equal(t, int64(1200), view.State)

	// Recovery
	api.setFailFetch(false)
	api.mu.Lock()
	api.meters[0].LatestValue = 1350
	api.mu.Unlock()

	meter, err := meters.RefreshMeter(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, float64(1350), meter.AsMap()["state"])

	resp, err = client.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: server.ServiceName})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.Status)
}
