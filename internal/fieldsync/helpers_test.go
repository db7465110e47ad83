package fieldsync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"
)

func validApplication(id string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{
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

type fakeSubmissionAPI struct {
	mu      sync.Mutex
	calls   []string
	tokens  []string
	respond func(applicationID string) error
}

func (f *fakeSubmissionAPI) Submit(ctx context.Context, payload json.RawMessage, applicationID, token string) error {
	f.mu.Lock()
	f.calls = append(f.calls, applicationID)
	f.tokens = append(f.tokens, token)
	f.mu.Unlock()
	if f.respond == nil {
		return nil
	}
	return f.respond(applicationID)
}

func (f *fakeSubmissionAPI) callOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

type quietLogger struct{}

func (quietLogger) Printf(format string, args ...any) {}

func mustUpsert(t *testing.T, store RecordStore, record SubmissionRecord) int64 {
	t.Helper()
	id, err := store.UpsertByApplicationID(context.Background(), record)
	if err != nil {
		t.Fatalf("upsert %s: %v", record.ApplicationID, err)
	}
	return id
}

func queuedRecord(applicationID, agentID string, lastModified time.Time) SubmissionRecord {
	return SubmissionRecord{
		ApplicationID: applicationID,
		AgentID:       agentID,
		Status:        StatusQueued,
		Payload:       validApplication(applicationID),
		CreatedAt:     lastModified,
		LastModified:  lastModified,
	}
}

func newTestOrchestrator(t *testing.T, store RecordStore, api SubmissionAPI) *Orchestrator {
	t.Helper()
	orchestrator, err := NewOrchestrator(OrchestratorOptions{
		Store:  store,
		API:    api,
		Auth:   NewStaticAuthProvider(&Identity{ID: "agent-1", Email: "jo@fieldworks.example"}, "token-1"),
		Logger: quietLogger{},
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return orchestrator
}
