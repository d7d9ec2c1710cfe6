package hydrolink

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"github.com/tejusbharadwaj/hydrolink/internal/models"
)

// fakeAPI emulates the two Hydrolink endpoints. Only the most recently
// issued token is accepted by the meter data endpoint.
type fakeAPI struct {
	server *httptest.Server

	mu          sync.Mutex
	logins      int
	fetches     int
	tokenSeq    int
	validToken  string
	loginStatus int
	loginBody   string
	failFetches int
	meters      []models.DeviceRecord
	loginGates  map[string]chan struct{}
}

func newFakeAPI(t *testing.T, meters ...models.DeviceRecord) *fakeAPI {
	t.Helper()
	f := &fakeAPI{meters: meters}
	mux := http.NewServeMux()
	mux.HandleFunc("/login", f.handleLogin)
	mux.HandleFunc("/getResidentMeterData", f.handleMeterData)
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeAPI) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds models.Credentials
	decodeErr := json.NewDecoder(r.Body).Decode(&creds)

	f.mu.Lock()
	gate := f.loginGates[creds.Username]
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins++

	if decodeErr != nil || creds.Username == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if f.loginStatus != 0 && f.loginStatus != http.StatusOK {
		http.Error(w, "login rejected", f.loginStatus)
		return
	}
	if f.loginBody != "" {
		_, _ = w.Write([]byte(f.loginBody))
		return
	}
	f.tokenSeq++
	f.validToken = fmt.Sprintf("T%d", f.tokenSeq)
	_ = json.NewEncoder(w).Encode(map[string]string{"token": f.validToken})
}

func (f *fakeAPI) handleMeterData(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++

	var req struct {
		Token string `json:"token"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	if f.failFetches > 0 {
		f.failFetches--
		http.Error(w, "Token expired", http.StatusUnauthorized)
		return
	}
	if req.Token == "" || req.Token != f.validToken {
		http.Error(w, "Token expired", http.StatusUnauthorized)
		return
	}
	_ = json.NewEncoder(w).Encode(models.MeterDataResponse{Meters: f.meters})
}

// holdLogins makes logins for username wait until release is called.
func (f *fakeAPI) holdLogins(username string) (release func()) {
	gate := make(chan struct{})
	f.mu.Lock()
	if f.loginGates == nil {
		f.loginGates = make(map[string]chan struct{})
	}
	f.loginGates[username] = gate
	f.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

func (f *fakeAPI) setMeters(meters ...models.DeviceRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.meters = meters
}

func (f *fakeAPI) expireToken() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.validToken = ""
}

func (f *fakeAPI) failNextFetches(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failFetches = n
}

func (f *fakeAPI) setLoginStatus(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loginStatus = status
}

func (f *fakeAPI) setLoginBody(body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loginBody = body
}

func (f *fakeAPI) counts() (logins, fetches int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logins, f.fetches
}

func (f *fakeAPI) options() Options {
	logger, _ := test.NewNullLogger()
	return Options{
		LoginURL:        f.server.URL + "/login",
		MeterDataURL:    f.server.URL + "/getResidentMeterData",
		RefreshInterval: time.Hour,
		HTTPTimeout:     5 * time.Second,
		Logger:          logger,
	}
}

var testCreds = models.Credentials{Username: "test_user", Password: "test_pass"}

func meterRecord(id string, warm bool, value int64, readings ...models.DailyReading) models.DeviceRecord {
	if readings == nil {
		readings = []models.DailyReading{}
	}
	return models.DeviceRecord{
		SecondaryAddress: id,
		LatestValue:      value,
		Warm:             warm,
		DailyReadings:    readings,
	}
}
