package waitlist

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiResponse struct {
	Status     string          `json:"status"`
	StatusCode int             `json:"status_code"`
	Message    string          `json:"message"`
	Data       json.RawMessage `json:"data"`
	Errors     json.RawMessage `json:"errors"`
}

func newTestRouter(t *testing.T) (*gin.Engine, *testHarness) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := newTestHarness(t, nil)
	router := gin.New()
	SetupWaitlistRoutes(router.Group("/api/v1"), NewController(h.svc))
	return router, h
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) (*httptest.ResponseRecorder, apiResponse) {
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
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var resp apiResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func TestController_JoinAndGet(t *testing.T) {
	router, _ := newTestRouter(t)

	rec, resp := doJSON(t, router, http.MethodPost, "/api/v1/waitlist", joinRequest("ada"))
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "success", resp.Status)

	var created EntryResponse
	require.NoError(t, json.Unmarshal(resp.Data, &created))
	assert.Equal(t, StatusWaiting, created.Status)
	assert.Equal(t, 1, created.Position)

	rec, resp = doJSON(t, router, http.MethodGet, "/api/v1/waitlist/entries/"+created.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var fetched EntryResponse
	require.NoError(t, json.Unmarshal(resp.Data, &fetched))
	assert.Equal(t, created.ID, fetched.ID)

	rec, _ = doJSON(t, router, http.MethodGet, "/api/v1/waitlist/entries/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = doJSON(t, router, http.MethodGet, "/api/v1/waitlist/entries/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestController_JoinValidation(t *testing.T) {
	router, _ := newTestRouter(t)

	request := joinRequest("ada")
	request.PartySize = 20
	rec, resp := doJSON(t, router, http.MethodPost, "/api/v1/waitlist", request)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var fields map[string]string
	require.NoError(t, json.Unmarshal(resp.Errors, &fields))
	assert.Contains(t, fields, "party_size")

	rec, _ = doJSON(t, router, http.MethodPost, "/api/v1/waitlist", joinRequest("bob"))
	require.Equal(t, http.StatusCreated, rec.Code)
	rec, resp = doJSON(t, router, http.MethodPost, "/api/v1/waitlist", joinRequest("bob"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.NoError(t, json.Unmarshal(resp.Errors, &fields))
	assert.Contains(t, fields, "customer")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/waitlist", bytes.NewBufferString("{"))
	req.Header.Set("Content-Type", "application/json")
	raw := httptest.NewRecorder()
	router.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)
}

func TestController_OfferFlow(t *testing.T) {
	router, h := newTestRouter(t)
	entry := h.join(t, "ada")

	slot := SlotAvailableRequest{
		Date:           testDate,
		Time:           "19:00",
		TableID:        "T4",
		Capacity:       4,
		Reason:         SlotReasonNoShow,
		AvailableUntil: testStart.Add(2 * time.Hour),
	}
	rec, resp := doJSON(t, router, http.MethodPost, "/api/v1/admin/waitlist/slots", slot)
	require.Equal(t, http.StatusOK, rec.Code)

	var match SlotMatchResponse
	require.NoError(t, json.Unmarshal(resp.Data, &match))
	assert.True(t, match.Matched)
	require.NotNil(t, match.Entry)
	assert.Equal(t, entry.ID, match.Entry.ID)

	rec, _ = doJSON(t, router, http.MethodPost, "/api/v1/waitlist/entries/"+entry.ID.String()+"/confirm", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	h.svc.dispatcher.Wait()
	rec, resp = doJSON(t, router, http.MethodGet, "/api/v1/admin/waitlist/entries/"+entry.ID.String()+"/attempts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var attempts []NotificationAttempt
	require.NoError(t, json.Unmarshal(resp.Data, &attempts))
	require.Len(t, attempts, 1)
	assert.Equal(t, ChannelEmail, attempts[0].Channel)

	rec, resp = doJSON(t, router, http.MethodGet, "/api/v1/admin/waitlist/stats?from="+testDate+"&to="+testDate, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats Stats
	require.NoError(t, json.Unmarshal(resp.Data, &stats))
	assert.Equal(t, 1, stats.Confirmed)
}

func TestController_SlotWithoutMatch(t *testing.T) {
	router, _ := newTestRouter(t)

	slot := SlotAvailableRequest{
		Date:           testDate,
		Time:           "19:00",
		TableID:        "T4",
		Capacity:       4,
		Reason:         SlotReasonEarlyDeparture,
		AvailableUntil: testStart.Add(time.Hour),
	}
	rec, resp := doJSON(t, router, http.MethodPost, "/api/v1/admin/waitlist/slots", slot)
	require.Equal(t, http.StatusOK, rec.Code)

	var match SlotMatchResponse
	require.NoError(t, json.Unmarshal(resp.Data, &match))
	assert.False(t, match.Matched)
	assert.Nil(t, match.Entry)
}

func TestController_ExpiredConfirmIsGone(t *testing.T) {
	router, h := newTestRouter(t)
	entry := h.join(t, "ada")

	_, err := h.svc.OnSlotAvailable(context.Background(), testSlot(4, 2*time.Hour))
	require.NoError(t, err)
	h.clock.Advance(DefaultConfirmationWindow)

	rec, _ := doJSON(t, router, http.MethodPost, "/api/v1/waitlist/entries/"+entry.ID.String()+"/confirm", nil)
	assert.Equal(t, http.StatusGone, rec.Code)
	h.svc.dispatcher.Wait()
}

func TestController_CancelAndConflicts(t *testing.T) {
	router, h := newTestRouter(t)
	entry := h.join(t, "ada")

	rec, _ := doJSON(t, router, http.MethodPost, "/api/v1/waitlist/entries/"+entry.ID.String()+"/confirm", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, resp := doJSON(t, router, http.MethodPost, "/api/v1/waitlist/entries/"+entry.ID.String()+"/cancel", CancelEntryRequest{Reason: "running late"})
	require.Equal(t, http.StatusOK, rec.Code)
	var cancelled EntryResponse
	require.NoError(t, json.Unmarshal(resp.Data, &cancelled))
	assert.Equal(t, StatusCancelled, cancelled.Status)

	rec, _ = doJSON(t, router, http.MethodPost, "/api/v1/admin/waitlist/entries/"+entry.ID.String()+"/cancel", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = doJSON(t, router, http.MethodPost, "/api/v1/waitlist/entries/"+entry.ID.String()+"/confirm", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestController_ListWaitingAndStatsValidation(t *testing.T) {
	router, h := newTestRouter(t)
	h.join(t, "ada")
	h.clock.Set(h.clock.Now().Add(time.Minute))
	h.join(t, "bob")

	rec, resp := doJSON(t, router, http.MethodGet, "/api/v1/admin/waitlist/waiting?date="+testDate, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list EntryListResponse
	require.NoError(t, json.Unmarshal(resp.Data, &list))
	assert.Equal(t, 2, list.Total)
	assert.Equal(t, 2, list.Entries[1].Position)
	require.NotNil(t, list.Entries[1].EstimatedWaitMinutes)
	assert.Equal(t, 30, *list.Entries[1].EstimatedWaitMinutes)

	rec, _ = doJSON(t, router, http.MethodGet, "/api/v1/admin/waitlist/waiting", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doJSON(t, router, http.MethodGet, "/api/v1/admin/waitlist/stats?from=2026-10-20&to=2026-10-01", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
