package processor

import (
	"context"
	"errors"
	"testing"

	"github.com/sapcc/monasca-notification/internal/database"
	"github.com/sapcc/monasca-notification/internal/models"
)

// fakeMethodStore scripts GetNotificationMethod results per call.
type fakeMethodStore struct {
	calls   int
	methods []*models.NotificationAction
	errs    []error
}

func (f *fakeMethodStore) GetNotificationMethod(ctx context.Context, id string) (*models.NotificationAction, error) {
	i := f.calls
	f.calls++
	var method *models.NotificationAction
	var err error
	if i < len(f.methods) {
		method = f.methods[i]
	}
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return method, err
}

func retryNotification() *models.Notification {
	return &models.Notification{
		ID:      "method-1",
		Type:    "email",
		Name:    "old name",
		Address: "old@example.com",
		AlarmID: "alarm-001",
		State:   "ALARM",
	}
}

func TestReconstruct(t *testing.T) {
	store := &fakeMethodStore{
		methods: []*models.NotificationAction{
			{ID: "method-1", Type: "webhook", Name: "new name", Address: "http://hooks.example.com", Period: 60},
		},
	}

	n, err := Reconstruct(context.Background(), store, retryNotification())
	if err != nil {
		t.Fatalf("Reconstruct() error = %v", err)
	}
	if n == nil {
		t.Fatal("Reconstruct() returned nil for an existing method")
	}

	// Current store values replace the ones carried in the record.
	if n.Type != "webhook" || n.Name != "new name" || n.Address != "http://hooks.example.com" {
		t.Errorf("refreshed fields = %v/%v/%v", n.Type, n.Name, n.Address)
	}
	if n.Period != 60 || n.PeriodicTopic != "60" {
		t.Errorf("periodic fields = %d/%q, want 60/\"60\"", n.Period, n.PeriodicTopic)
	}
	// Alarm fields stay as carried.
	if n.AlarmID != "alarm-001" || n.State != "ALARM" {
		t.Errorf("alarm fields = %v/%v", n.AlarmID, n.State)
	}
}

func TestReconstruct_MethodDeleted(t *testing.T) {
	store := &fakeMethodStore{methods: []*models.NotificationAction{nil}}

	n, err := Reconstruct(context.Background(), store, retryNotification())
	if err != nil {
		t.Fatalf("Reconstruct() error = %v", err)
	}
	if n != nil {
		t.Errorf("Reconstruct() = %+v, want nil for a deleted method", n)
	}
}

func TestReconstruct_StoreRetry(t *testing.T) {
	store := &fakeMethodStore{
		methods: []*models.NotificationAction{nil, {ID: "method-1", Type: "email"}},
		errs:    []error{&database.Error{Op: "get_notification", Err: errors.New("gone away")}, nil},
	}

	n, err := Reconstruct(context.Background(), store, retryNotification())
	if err != nil {
		t.Fatalf("Reconstruct() error = %v, want retry to recover", err)
	}
	if store.calls != 2 {
		t.Errorf("store calls = %d, want 2", store.calls)
	}
	if n == nil {
		t.Fatal("Reconstruct() returned nil after successful retry")
	}
}

func TestReconstruct_StoreFailsTwice(t *testing.T) {
	storeErr := &database.Error{Op: "get_notification", Err: errors.New("gone away")}
	store := &fakeMethodStore{errs: []error{storeErr, storeErr}}

	_, err := Reconstruct(context.Background(), store, retryNotification())
	if err == nil {
		t.Fatal("Reconstruct() expected error after two store failures")
	}
	if store.calls != 2 {
		t.Errorf("store calls = %d, want 2", store.calls)
	}
}
