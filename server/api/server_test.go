package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	authmemory "github.com/cyp0633/librecur/server/auth/memory"
	"github.com/cyp0633/librecur/server/event"
	eventmemory "github.com/cyp0633/librecur/server/event/memory"
	"github.com/cyp0633/librecur/server/series"
	"github.com/cyp0633/librecur/server/storage/memory"
)

type testEnv struct {
	server   *Server
	parentID string
}

func setupTest(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	users, err := authmemory.New(authmemory.WithUsers(map[string]string{
		"alice": "alice-pw",
		"bob":   "bob-pw",
	}))
	require.NoError(t, err)

	events := eventmemory.New()
	parent, err := events.Create(context.Background(), &event.Event{
		Name:      "Standup",
		Start:     time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
		End:       time.Date(2024, 1, 1, 9, 15, 0, 0, time.UTC),
		CreatorID: "alice",
	})
	require.NoError(t, err)

	svc := series.New(memory.New(), events)
	return &testEnv{
		server:   New(svc, users, WithMaxWindowDays(366)),
		parentID: parent.ID,
	}
}

func (e *testEnv) do(t *testing.T, user, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		creds := base64.StdEncoding.EncodeToString([]byte(user + ":" + user + "-pw"))
		req.Header.Set("Authorization", "Basic "+creds)
	}
	w := httptest.NewRecorder()
	e.server.ServeHTTP(w, req)
	return w
}

func (e *testEnv) createWeekly(t *testing.T) seriesResponse {
	t.Helper()
	w := e.do(t, "alice", http.MethodPost, "/api/v1/series", gin.H{
		"parentEventId": e.parentID,
		"pattern":       gin.H{"frequency": "weekly", "daysOfWeek": []int{1}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp seriesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHealth(t *testing.T) {
	env := setupTest(t)
	w := env.do(t, "", http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(headerRequestID))
}

func TestRequiresAuthentication(t *testing.T) {
	env := setupTest(t)
	w := env.do(t, "", http.MethodGet, "/api/v1/series/abc", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateSeries(t *testing.T) {
	env := setupTest(t)

	created := env.createWeekly(t)
	assert.Equal(t, "weekly", created.Pattern.Frequency)
	assert.Equal(t, 1, created.Pattern.Interval)
	assert.Equal(t, "2024-01-01", created.Pattern.Start)
	assert.Equal(t, "alice", created.CreatorID)
	assert.Contains(t, created.Pattern.RRule, "FREQ=WEEKLY")
	assert.Empty(t, created.ExcludedDates)

	tests := []struct {
		name   string
		user   string
		body   gin.H
		status int
		code   string
	}{
		{
			name:   "duplicate series",
			user:   "alice",
			body:   gin.H{"parentEventId": env.parentID, "pattern": gin.H{"frequency": "daily"}},
			status: http.StatusConflict,
			code:   "conflict",
		},
		{
			name:   "unknown parent",
			user:   "alice",
			body:   gin.H{"parentEventId": "missing", "pattern": gin.H{"frequency": "daily"}},
			status: http.StatusNotFound,
			code:   "not_found",
		},
		{
			name:   "weekday out of range",
			user:   "alice",
			body:   gin.H{"parentEventId": env.parentID, "pattern": gin.H{"frequency": "weekly", "daysOfWeek": []int{7}}},
			status: http.StatusBadRequest,
			code:   "invalid_input",
		},
		{
			name:   "unknown frequency",
			user:   "alice",
			body:   gin.H{"parentEventId": env.parentID, "pattern": gin.H{"frequency": "hourly"}},
			status: http.StatusBadRequest,
			code:   "invalid_input",
		},
		{
			name:   "not the parent creator",
			user:   "bob",
			body:   gin.H{"parentEventId": env.parentID, "pattern": gin.H{"frequency": "daily"}},
			status: http.StatusForbidden,
			code:   "forbidden",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, tt.user, http.MethodPost, "/api/v1/series", tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.code, decodeError(t, w).Code)
		})
	}
}

func TestCreateSeries_ValidationFields(t *testing.T) {
	env := setupTest(t)
	w := env.do(t, "alice", http.MethodPost, "/api/v1/series", gin.H{
		"parentEventId": env.parentID,
		"pattern":       gin.H{"frequency": "monthly", "interval": 0, "dayOfMonth": 32},
	})
	require.Equal(t, http.StatusBadRequest, w.Code)

	resp := decodeError(t, w)
	fields := make([]string, 0, len(resp.Fields))
	for _, f := range resp.Fields {
		fields = append(fields, f.Field)
	}
	assert.ElementsMatch(t, []string{"interval", "dayOfMonth"}, fields)
}

func TestGetSeries(t *testing.T) {
	env := setupTest(t)
	created := env.createWeekly(t)

	w := env.do(t, "bob", http.MethodGet, "/api/v1/series/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, "alice", http.MethodGet, "/api/v1/events/"+env.parentID+"/series", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var byParent seriesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &byParent))
	assert.Equal(t, created.ID, byParent.ID)

	w = env.do(t, "alice", http.MethodGet, "/api/v1/events/other/series", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, "alice", http.MethodGet, "/api/v1/series/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestOccurrences(t *testing.T) {
	env := setupTest(t)
	created := env.createWeekly(t)
	base := "/api/v1/series/" + created.ID

	w := env.do(t, "alice", http.MethodPut, base+"/exclusions/2024-01-08", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, "alice", http.MethodPut, base+"/modifications/2024-01-15", gin.H{"name": "Retro"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var modified seriesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &modified))
	require.Len(t, modified.Modifications, 1)

	w = env.do(t, "alice", http.MethodGet, base+"/occurrences?from=2024-01-01&to=2024-01-21", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Occurrences []occurrenceResponse `json:"occurrences"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Occurrences, 3)
	assert.Equal(t, "regular", resp.Occurrences[0].Status)
	assert.Equal(t, "excluded", resp.Occurrences[1].Status)
	assert.Equal(t, "modified", resp.Occurrences[2].Status)
	assert.Equal(t, modified.Modifications[0].SubstituteEventID, resp.Occurrences[2].SubstituteEventID)

	w = env.do(t, "alice", http.MethodGet, base+"/occurrences?from=2024-01-01&to=2024-01-21&active=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Occurrences, 2)

	w = env.do(t, "alice", http.MethodGet, base+"/next?after=2024-01-01", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var next occurrenceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &next))
	assert.Equal(t, "2024-01-15", next.Date)

	w = env.do(t, "alice", http.MethodGet, base+"/occurrences?from=2024-01-01&to=2026-01-01", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, "alice", http.MethodGet, base+"/occurrences?from=2024-02-01&to=2024-01-01", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, "alice", http.MethodGet, base+"/occurrences?from=yesterday&to=2024-01-01", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOverlayRoutes(t *testing.T) {
	env := setupTest(t)
	created := env.createWeekly(t)
	base := "/api/v1/series/" + created.ID

	w := env.do(t, "bob", http.MethodPut, base+"/exclusions/2024-01-08", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, "alice", http.MethodPut, base+"/exclusions/not-a-date", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Tuesday on a Monday-only series
	w = env.do(t, "alice", http.MethodPut, base+"/exclusions/2024-01-09", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp seriesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.ExcludedDates)

	w = env.do(t, "alice", http.MethodPut, base+"/exclusions/2024-01-08", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, "alice", http.MethodDelete, base+"/exclusions/2024-01-08", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.ExcludedDates)

	w = env.do(t, "alice", http.MethodPut, base+"/modifications/2024-01-09", gin.H{"name": "Retro"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, "alice", http.MethodPut, base+"/modifications/2024-01-08", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = env.do(t, "alice", http.MethodDelete, base+"/modifications/2024-01-08", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.Modifications)
}

func TestUpdateSeries(t *testing.T) {
	env := setupTest(t)
	created := env.createWeekly(t)
	path := "/api/v1/series/" + created.ID

	w := env.do(t, "alice", http.MethodPatch, path, gin.H{"interval": 2, "count": 4, "version": created.Version})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated seriesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.Equal(t, 2, updated.Pattern.Interval)
	require.NotNil(t, updated.Pattern.Count)
	assert.Equal(t, 4, *updated.Pattern.Count)

	w = env.do(t, "alice", http.MethodPatch, path, gin.H{"interval": 3, "version": created.Version})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, "alice", http.MethodPatch, path, gin.H{"clear": []string{"count"}})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.Nil(t, updated.Pattern.Count)

	w = env.do(t, "alice", http.MethodPatch, path, gin.H{"clear": []string{"frequency"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, "alice", http.MethodPatch, path, gin.H{"interval": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, "bob", http.MethodPatch, path, gin.H{"interval": 1})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, "alice", http.MethodPatch, path, gin.H{"excludedDates": []string{"2024-01-15", "2024-01-29"}})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.Equal(t, []string{"2024-01-15", "2024-01-29"}, updated.ExcludedDates)
}

func TestCalendarExport(t *testing.T) {
	env := setupTest(t)
	created := env.createWeekly(t)

	w := env.do(t, "alice", http.MethodPut, "/api/v1/series/"+created.ID+"/exclusions/2024-01-08", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, "alice", http.MethodGet, "/api/v1/series/"+created.ID+"/calendar.ics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, mimeTypeCalendar, w.Header().Get("Content-Type"))
	body := w.Body.String()
	assert.Contains(t, body, "BEGIN:VCALENDAR")
	assert.Contains(t, body, "RRULE:")
	assert.Contains(t, body, "EXDATE")
}

func TestDeleteSeries(t *testing.T) {
	env := setupTest(t)
	created := env.createWeekly(t)
	path := "/api/v1/series/" + created.ID

	w := env.do(t, "bob", http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, "alice", http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(t, "alice", http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCalendarImport(t *testing.T) {
	env := setupTest(t)
	ics := "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//test//EN\r\n" +
		"BEGIN:VEVENT\r\nUID:x\r\nDTSTAMP:20240101T000000Z\r\nDTSTART:20240101T090000Z\r\n" +
		"RRULE:FREQ=DAILY;COUNT=5\r\nEND:VEVENT\r\nEND:VCALENDAR\r\n"

	req := httptest.NewRequest(http.MethodPut, "/api/v1/events/"+env.parentID+"/series.ics", strings.NewReader(ics))
	req.Header.Set("Content-Type", "text/calendar")
	req.SetBasicAuth("alice", "alice-pw")
	w := httptest.NewRecorder()
	env.server.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp seriesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "daily", resp.Pattern.Frequency)
	require.NotNil(t, resp.Pattern.Count)
	assert.Equal(t, 5, *resp.Pattern.Count)
}
