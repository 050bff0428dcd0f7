package e2e

import (
	"net/http"
	"testing"
)

const validStartBody = `{"videoUrl":"https://videos.example/intro.mp4","instagram":"@persona"}`

// startJob queues a run for userID and returns its job ID.
func startJob(t *testing.T, ta *testApp, userID string) string {
	t.Helper()
	resp, err := doAuthRequest(t, ta.app, userID, http.MethodPost, "/api/training/start", validStartBody)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusAccepted)

	result := parseJSON(t, resp)
	jobID, _ := result["jobId"].(string)
	if jobID == "" {
		t.Fatal("expected 'jobId' in response")
	}
	if result["correlationKey"] != userID {
		t.Errorf("expected correlationKey %q, got %v", userID, result["correlationKey"])
	}
	if result["busy"] != true {
		t.Errorf("expected busy=true, got %v", result["busy"])
	}
	return jobID
}

func TestTrainingStart_Success(t *testing.T) {
	ta := setupApp(t)
	user := newUser()
	jobID := startJob(t, ta, user)

	resp, err := doAuthRequest(t, ta.app, user, http.MethodGet, "/api/training/status/"+jobID, "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	result := parseJSON(t, resp)
	if result["status"] != "queued" {
		t.Errorf("expected status 'queued', got %v", result["status"])
	}
	if result["policy"] != "multi_stage" {
		t.Errorf("expected policy 'multi_stage', got %v", result["policy"])
	}

	// leave no active lock behind
	resp, _ = doAuthRequest(t, ta.app, user, http.MethodPost, "/api/training/cancel/"+jobID, "")
	assertStatus(t, resp, http.StatusOK)
}

func TestTrainingStart_ActiveRunReturned(t *testing.T) {
	ta := setupApp(t)
	user := newUser()
	jobID := startJob(t, ta, user)

	resp, err := doAuthRequest(t, ta.app, user, http.MethodPost, "/api/training/start", validStartBody)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	result := parseJSON(t, resp)
	if result["jobId"] != jobID {
		t.Errorf("expected active job %s, got %v", jobID, result["jobId"])
	}

	resp, _ = doAuthRequest(t, ta.app, user, http.MethodPost, "/api/training/cancel/"+jobID, "")
	assertStatus(t, resp, http.StatusOK)
}

func TestTrainingCancel_ThenRestart(t *testing.T) {
	ta := setupApp(t)
	user := newUser()
	jobID := startJob(t, ta, user)

	resp, err := doAuthRequest(t, ta.app, user, http.MethodPost, "/api/training/cancel/"+jobID, "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	if result := parseJSON(t, resp); result["status"] != "canceled" {
		t.Errorf("expected status 'canceled', got %v", result["status"])
	}

	// second cancel conflicts
	resp, _ = doAuthRequest(t, ta.app, user, http.MethodPost, "/api/training/cancel/"+jobID, "")
	assertStatus(t, resp, http.StatusConflict)

	// the lock was released, so a new run can start
	next := startJob(t, ta, user)
	if next == jobID {
		t.Error("expected a new job after cancel")
	}
	resp, _ = doAuthRequest(t, ta.app, user, http.MethodPost, "/api/training/cancel/"+next, "")
	assertStatus(t, resp, http.StatusOK)
}

func TestTrainingCancel_OtherUser(t *testing.T) {
	ta := setupApp(t)
	owner := newUser()
	jobID := startJob(t, ta, owner)

	other := newUser()
	resp, err := doAuthRequest(t, ta.app, other, http.MethodPost, "/api/training/cancel/"+jobID, "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNotFound)

	resp, _ = doAuthRequest(t, ta.app, other, http.MethodGet, "/api/training/status/"+jobID, "")
	assertStatus(t, resp, http.StatusNotFound)

	// the owner's job is untouched
	resp, _ = doAuthRequest(t, ta.app, owner, http.MethodGet, "/api/training/status/"+jobID, "")
	assertStatus(t, resp, http.StatusOK)
	if result := parseJSON(t, resp); result["status"] != "queued" {
		t.Errorf("expected status 'queued', got %v", result["status"])
	}

	resp, _ = doAuthRequest(t, ta.app, owner, http.MethodPost, "/api/training/cancel/"+jobID, "")
	assertStatus(t, resp, http.StatusOK)
}

func TestTrainingStart_Validation(t *testing.T) {
	ta := setupApp(t)

	for _, body := range []string{`{}`, `{"videoUrl":"   "}`, `not json`} {
		resp, err := doAuthRequest(t, ta.app, newUser(), http.MethodPost, "/api/training/start", body)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		assertStatus(t, resp, http.StatusBadRequest)
		readBody(t, resp)
	}
}

func TestTrainingStart_NoAuth(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodPost, "/api/training/start", validStartBody, nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusUnauthorized)
}

func TestTrainingStatus_NotFound(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, newUser(), http.MethodGet, "/api/training/status/does-not-exist", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNotFound)
}

func TestHealth(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodGet, "/health", "", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	if result := parseJSON(t, resp); result["status"] != "ok" {
		t.Errorf("expected status 'ok', got %v", result["status"])
	}
}

func TestAuthVerify(t *testing.T) {
	ta := setupApp(t)
	user := newUser()

	resp, err := doAuthRequest(t, ta.app, user, http.MethodGet, "/auth/verify", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	if got := resp.Header.Get("X-User-Id"); got != user {
		t.Errorf("expected X-User-Id %q, got %q", user, got)
	}
}
