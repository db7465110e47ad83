package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fieldworks/fieldsync/internal/fieldsync"
)

func newTestReceiver(t *testing.T, token string) (*receiver, fieldsync.RecordStore) {
	t.Helper()
	store := fieldsync.NewMemoryRecordStore()
	validator, err := fieldsync.NewSchemaValidator()
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}
	return &receiver{store: store, validator: validator, token: token}, store
}

func submissionBody(t *testing.T, applicationID string, data []byte) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]json.RawMessage{
		"applicationId":   json.RawMessage(fmt.Sprintf("%q", applicationID)),
		"applicationData": data,
	})
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return body
}

func validApplication(id string) []byte {
	return []byte(fmt.Sprintf(`{
		"applicationId": %q,
		"agentInfo": {"name": "Jo Field", "email": "jo@fieldworks.example"},
		"principals": [
			{"firstName": "Ada", "lastName": "Byrne", "email": "ada@shop.example", "phone": "07700900123", "position": "Director", "ownershipPercentage": 100}
		],
		"businessInfo": {
			"legalName": "Byrne Trading Ltd",
			"businessType": "limited",
			"tradingAddress": {"line1": "1 Market Row", "city": "Leeds", "postcode": "LS1 4AB"}
		},
		"tradingInfo": {
			"mccCode": "5814",
			"mccDescription": "Restaurants",
			"projectedAnnualTurnover": 250000,
			"estimatedAverageTransaction": 18.5
		},
		"pricing": {"consumerDebit": 0.3, "consumerCredit": 0.5, "commercialCard": 1.7, "authorisationFee": 0.02},
		"banking": {"accountName": "Byrne Trading Ltd", "sortCode": "12-34-56", "accountNumber": "12345678"}
	}`, id))
}

func TestReceiverHealth(t *testing.T) {
	rc, _ := newTestReceiver(t, "")
	rec := httptest.NewRecorder()
	rc.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestReceiverAcceptsValidSubmission(t *testing.T) {
	rc, store := newTestReceiver(t, "")
	body := submissionBody(t, "APP-1", validApplication("APP-1"))

	rec := httptest.NewRecorder()
	rc.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/submit-application", bytes.NewReader(body)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Success       bool   `json:"success"`
		ApplicationID string `json:"applicationId"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.ApplicationID != "APP-1" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	record, err := store.FindByApplicationID(context.Background(), "APP-1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if record.Status != fieldsync.StatusSynced {
		t.Fatalf("expected synced record, got %s", record.Status)
	}
	if record.AgentID != "jo@fieldworks.example" {
		t.Fatalf("expected record keyed by agent email, got %q", record.AgentID)
	}
}

func TestReceiverRejectsInvalidApplication(t *testing.T) {
	rc, store := newTestReceiver(t, "")
	body := submissionBody(t, "APP-2", []byte(`{"applicationId": "APP-2"}`))

	rec := httptest.NewRecorder()
	rc.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/submit-application", bytes.NewReader(body)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var resp struct {
		Error   string   `json:"error"`
		Details []string `json:"details"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error != "Validation failed" || len(resp.Details) == 0 {
		t.Fatalf("expected validation details, got %+v", resp)
	}

	if _, err := store.FindByApplicationID(context.Background(), "APP-2"); err == nil {
		t.Fatalf("rejected submission must not be recorded")
	}
}

func TestReceiverRequiresApplicationID(t *testing.T) {
	rc, _ := newTestReceiver(t, "")
	body := []byte(`{"applicationData": {"foo": 1}}`)

	rec := httptest.NewRecorder()
	rc.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/submit-application", bytes.NewReader(body)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestReceiverEnforcesBearerToken(t *testing.T) {
	rc, _ := newTestReceiver(t, "backend-token")
	body := submissionBody(t, "APP-3", validApplication("APP-3"))

	rec := httptest.NewRecorder()
	rc.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/submit-application", bytes.NewReader(body)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/submit-application", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer backend-token")
	rec = httptest.NewRecorder()
	rc.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 with token, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestReceiverUnknownRoute(t *testing.T) {
	rc, _ := newTestReceiver(t, "")
	rec := httptest.NewRecorder()
	rc.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/unknown", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
