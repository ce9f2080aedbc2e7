package audit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/api-monitor/api-monitor/internal/db/models"
	"github.com/api-monitor/api-monitor/internal/identity"
	"github.com/api-monitor/api-monitor/internal/telemetry"
	"github.com/api-monitor/api-monitor/internal/testutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore records what it is asked to persist. It can be told to fail or panic.
type fakeStore struct {
	mu         sync.Mutex
	activities []*models.ActivityLog
	errs       []*models.ErrorLog
	fail       error
	panicWith  any
}

func (f *fakeStore) CreateActivityLog(_ context.Context, log *models.ActivityLog) error {
	if f.panicWith != nil {
		panic(f.panicWith)
	}
	if f.fail != nil {
		return f.fail
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	log.ID = "activity-" + string(rune('a'+len(f.activities)))
	log.Timestamp = time.Now()
	f.activities = append(f.activities, log)
	return nil
}

func (f *fakeStore) CreateErrorLog(_ context.Context, log *models.ErrorLog) error {
	if f.panicWith != nil {
		panic(f.panicWith)
	}
	if f.fail != nil {
		return f.fail
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	log.ID = "error-" + string(rune('a'+len(f.errs)))
	log.Timestamp = time.Now()
	f.errs = append(f.errs, log)
	return nil
}

type chanShipper struct {
	got chan *ShippedRecord
}

func newChanShipper() *chanShipper {
	return &chanShipper{got: make(chan *ShippedRecord, 10)}
}

func (c *chanShipper) Ship(_ context.Context, rec *ShippedRecord) error {
	c.got <- rec
	return nil
}

func (c *chanShipper) Close() error { return nil }

func auditCount(kind, outcome string) float64 {
	return testutil.CounterValue(telemetry.AuditRecordsTotal, prometheus.Labels{"kind": kind, "outcome": outcome})
}

func strp(s string) *string { return &s }

var anonymousGet = RequestContext{
	Method:    "GET",
	Path:      "/api/items/",
	ClientIP:  "203.0.113.7",
	UserAgent: "curl/8.0",
}

// ---------------------------------------------------------------------------
// RecordActivity
// ---------------------------------------------------------------------------

func TestRecordActivity_Stores(t *testing.T) {
	store := &fakeStore{}
	r := NewRecorder(store, store, nil)
	before := auditCount(telemetry.KindActivity, telemetry.OutcomeStored)

	rc := anonymousGet
	rc.Principal = strp("user-1")
	r.RecordActivity(context.Background(), rc, models.ActionCreate, 201, map[string]any{"name": "x"})

	require.Len(t, store.activities, 1)
	got := store.activities[0]
	assert.Equal(t, "user-1", *got.UserID)
	assert.Equal(t, models.ActionCreate, got.Action)
	assert.Equal(t, "GET", got.Method)
	assert.Equal(t, "/api/items/", got.Path)
	assert.Equal(t, "203.0.113.7", *got.IPAddress)
	assert.Equal(t, "curl/8.0", got.UserAgent)
	assert.Equal(t, 201, got.StatusCode)
	assert.Equal(t, models.JSONMap{"name": "x"}, got.Extra)
	assert.Equal(t, before+1, auditCount(telemetry.KindActivity, telemetry.OutcomeStored))
}

func TestRecordActivity_AnonymousHasNoUser(t *testing.T) {
	store := &fakeStore{}
	NewRecorder(store, store, nil).RecordActivity(context.Background(), anonymousGet, models.ActionRead, 200, nil)

	require.Len(t, store.activities, 1)
	assert.Nil(t, store.activities[0].UserID)
	assert.Nil(t, store.activities[0].Extra)
}

func TestRecordActivity_InvalidActionBecomesOther(t *testing.T) {
	store := &fakeStore{}
	NewRecorder(store, store, nil).RecordActivity(context.Background(), anonymousGet, models.Action("bogus"), 200, nil)

	require.Len(t, store.activities, 1)
	assert.Equal(t, models.ActionOther, store.activities[0].Action)
}

func TestRecordActivity_NormalizesFields(t *testing.T) {
	store := &fakeStore{}
	rc := RequestContext{
		Method:   "PROPFINDXYZW",
		Path:     "/" + strings.Repeat("é", 600),
		ClientIP: "not-an-ip",
	}
	NewRecorder(store, store, nil).RecordActivity(context.Background(), rc, models.ActionRead, 200, nil)

	require.Len(t, store.activities, 1)
	got := store.activities[0]
	assert.Equal(t, "PROPFINDXY", got.Method)
	assert.Equal(t, maxPathLength, len([]rune(got.Path)))
	assert.Nil(t, got.IPAddress)
}

func TestRecordActivity_StoreFailureIsSwallowed(t *testing.T) {
	store := &fakeStore{fail: errors.New("connection refused")}
	before := auditCount(telemetry.KindActivity, telemetry.OutcomeDropped)

	assert.NotPanics(t, func() {
		NewRecorder(store, store, nil).RecordActivity(context.Background(), anonymousGet, models.ActionRead, 200, nil)
	})
	assert.Equal(t, before+1, auditCount(telemetry.KindActivity, telemetry.OutcomeDropped))
}

func TestRecordActivity_StorePanicIsSwallowed(t *testing.T) {
	store := &fakeStore{panicWith: "driver bug"}
	before := auditCount(telemetry.KindActivity, telemetry.OutcomeDropped)

	assert.NotPanics(t, func() {
		NewRecorder(store, store, nil).RecordActivity(context.Background(), anonymousGet, models.ActionRead, 200, nil)
	})
	assert.Equal(t, before+1, auditCount(telemetry.KindActivity, telemetry.OutcomeDropped))
}

func TestRecordActivity_CanceledContextStillStores(t *testing.T) {
	store := &fakeStore{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	NewRecorder(store, store, nil).RecordActivity(ctx, anonymousGet, models.ActionRead, 200, nil)

	assert.Len(t, store.activities, 1)
}

func TestRecordActivity_Ships(t *testing.T) {
	store := &fakeStore{}
	shipper := newChanShipper()

	NewRecorder(store, store, shipper).RecordActivity(context.Background(), anonymousGet, models.ActionRead, 200, nil)

	select {
	case rec := <-shipper.got:
		assert.Equal(t, telemetry.KindActivity, rec.Kind)
		assert.Equal(t, store.activities[0].ID, rec.ID)
		assert.Equal(t, "read", rec.Action)
		assert.Equal(t, "203.0.113.7", rec.IPAddress)
	case <-time.After(2 * time.Second):
		t.Fatal("record was not shipped")
	}
}

func TestRecordActivity_FailedStoreIsNotShipped(t *testing.T) {
	store := &fakeStore{fail: errors.New("down")}
	shipper := newChanShipper()

	NewRecorder(store, store, shipper).RecordActivity(context.Background(), anonymousGet, models.ActionRead, 200, nil)

	select {
	case rec := <-shipper.got:
		t.Fatalf("unexpected shipped record %+v", rec)
	case <-time.After(100 * time.Millisecond):
	}
}

// ---------------------------------------------------------------------------
// RecordError
// ---------------------------------------------------------------------------

func TestRecordError_Stores(t *testing.T) {
	store := &fakeStore{}
	before := auditCount(telemetry.KindError, telemetry.OutcomeStored)

	NewRecorder(store, store, nil).RecordError(context.Background(), anonymousGet, "division by zero", "goroutine 1 [running]:", 500)

	require.Len(t, store.errs, 1)
	got := store.errs[0]
	assert.Equal(t, "division by zero", got.Message)
	assert.Equal(t, "goroutine 1 [running]:", got.StackTrace)
	assert.Equal(t, "GET", got.Method)
	assert.Equal(t, "/api/items/", got.Endpoint)
	require.NotNil(t, got.StatusCode)
	assert.Equal(t, 500, *got.StatusCode)
	assert.Equal(t, before+1, auditCount(telemetry.KindError, telemetry.OutcomeStored))
}

func TestRecordError_Defaults(t *testing.T) {
	store := &fakeStore{}
	NewRecorder(store, store, nil).RecordError(context.Background(), anonymousGet, "", "", 0)

	require.Len(t, store.errs, 1)
	assert.Equal(t, "Internal Server Error", store.errs[0].Message)
	assert.Nil(t, store.errs[0].StatusCode)
}

func TestRecordError_TruncatesStack(t *testing.T) {
	store := &fakeStore{}
	stack := strings.Repeat("x", models.MaxStackTraceLength+500)

	NewRecorder(store, store, nil).RecordError(context.Background(), anonymousGet, "boom", stack, 500)

	require.Len(t, store.errs, 1)
	assert.Len(t, store.errs[0].StackTrace, models.MaxStackTraceLength)
}

func TestRecordError_StoreFailureIsSwallowed(t *testing.T) {
	store := &fakeStore{fail: errors.New("disk full")}
	before := auditCount(telemetry.KindError, telemetry.OutcomeDropped)

	assert.NotPanics(t, func() {
		NewRecorder(store, store, nil).RecordError(context.Background(), anonymousGet, "boom", "", 500)
	})
	assert.Equal(t, before+1, auditCount(telemetry.KindError, telemetry.OutcomeDropped))
}

func TestRecordError_ShipsWithoutStack(t *testing.T) {
	store := &fakeStore{}
	shipper := newChanShipper()

	NewRecorder(store, store, shipper).RecordError(context.Background(), anonymousGet, "boom", "secret frames", 500)

	select {
	case rec := <-shipper.got:
		assert.Equal(t, telemetry.KindError, rec.Kind)
		assert.Equal(t, "boom", rec.Message)
		assert.Equal(t, 500, rec.StatusCode)
	case <-time.After(2 * time.Second):
		t.Fatal("record was not shipped")
	}
}

// ---------------------------------------------------------------------------
// ObserveSession
// ---------------------------------------------------------------------------

func TestObserveSession(t *testing.T) {
	store := &fakeStore{}
	r := NewRecorder(store, store, nil)

	r.ObserveSession(context.Background(), identity.SessionEvent{
		Kind:   identity.SessionLogin,
		UserID: "user-1",
		Method: "CLI",
		Path:   "token",
	})
	r.ObserveSession(context.Background(), identity.SessionEvent{Kind: identity.SessionLogout})

	require.Len(t, store.activities, 2)
	assert.Equal(t, models.ActionLogin, store.activities[0].Action)
	assert.Equal(t, "user-1", *store.activities[0].UserID)
	assert.Equal(t, 200, store.activities[0].StatusCode)
	assert.Equal(t, "CLI", store.activities[0].Method)
	assert.Equal(t, models.ActionLogout, store.activities[1].Action)
	assert.Nil(t, store.activities[1].UserID)
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "abc", truncateRunes("abc", 5))
	assert.Equal(t, "ab", truncateRunes("abc", 2))
	assert.Equal(t, "éé", truncateRunes("ééé", 2))
	assert.Equal(t, "", truncateRunes("abc", 0))
}

func TestNormalizeIP(t *testing.T) {
	assert.Equal(t, "::1", *normalizeIP("::1"))
	assert.Equal(t, "10.0.0.1", *normalizeIP("10.0.0.1"))
	assert.Nil(t, normalizeIP(""))
	assert.Nil(t, normalizeIP("10.0.0.1:8080"))
}
