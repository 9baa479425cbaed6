package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"circulationd/internal/circulation"
	"circulationd/internal/identity"
	"circulationd/internal/store"
	"circulationd/pkg/clock"
	"circulationd/pkg/domain"
)

const (
	testSecret   = "server-test-secret"
	testIssuer   = "library-auth"
	testAudience = "circulation"
)

type serverEnv struct {
	handler http.Handler
	ledger  *store.MemoryStore
	clock   *clock.Fake
}

func newServerEnv(t *testing.T) *serverEnv {
	t.Helper()
	ledger := store.NewMemoryStore()
	fake := clock.NewFake(time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
	coord, err := circulation.New(circulation.Config{
		Ledger: ledger,
		Clock:  fake,
		Fines: circulation.FinePolicy{
			PerDayRate:         5000,
			DamagedBookFine:    50000,
			LostBookFine:       200000,
			MaxOutstandingFine: 50000,
		},
	})
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	verifier, err := identity.NewVerifier(identity.Config{Secret: testSecret})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	srv, err := New(Config{Coordinator: coord, Verifier: verifier})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	err = ledger.SaveBook(domain.Book{ID: "book-1", Title: "t", TotalCopies: 1, AvailableCopies: 1})
	if err != nil {
		t.Fatalf("seed book: %v", err)
	}
	err = ledger.SaveReader(domain.Reader{
		ID: "reader-1", FullName: "r", Status: domain.ReaderActive,
		MaxBooksAllowed: 3, MaxBorrowDays: 14, MaxRenewals: 1, RenewalDays: 7,
	})
	if err != nil {
		t.Fatalf("seed reader: %v", err)
	}
	return &serverEnv{handler: srv.Router(), ledger: ledger, clock: fake}
}

func tokenFor(t *testing.T, subject string, role domain.Role) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":  subject,
		"role": string(role),
		"iss":  testIssuer,
		"aud":  testAudience,
		"exp":  time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func (e *serverEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	r := httptest.NewRequest(method, path, &buf)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, r)
	return w
}

func TestHealthEndpointIsPublic(t *testing.T) {
	env := newServerEnv(t)
	w := env.do(t, http.MethodGet, "/healthz", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	env := newServerEnv(t)
	w := env.do(t, http.MethodPost, "/loans", "", map[string]string{"readerId": "reader-1", "bookId": "book-1"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestBorrowAndReturnOverHTTP(t *testing.T) {
	env := newServerEnv(t)
	staff := tokenFor(t, "staff-1", domain.RoleLibrarian)

	w := env.do(t, http.MethodPost, "/loans", staff, map[string]string{"readerId": "reader-1", "bookId": "book-1"})
	if w.Code != http.StatusCreated {
		t.Fatalf("borrow status = %d, body %s", w.Code, w.Body.String())
	}
	var ticket domain.BorrowTicket
	if err := json.Unmarshal(w.Body.Bytes(), &ticket); err != nil {
		t.Fatalf("decode ticket: %v", err)
	}
	if ticket.Status != domain.TicketActive {
		t.Fatalf("ticket status = %s, want active", ticket.Status)
	}

	w = env.do(t, http.MethodGet, "/books/book-1/availability", staff, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("availability status = %d", w.Code)
	}
	var snapshot domain.Availability
	if err := json.Unmarshal(w.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("decode availability: %v", err)
	}
	if snapshot.Available != 0 {
		t.Fatalf("available = %d, want 0", snapshot.Available)
	}

	path := fmt.Sprintf("/loans/%s/return", ticket.ID)
	w = env.do(t, http.MethodPost, path, staff, map[string]string{"condition": "good"})
	if w.Code != http.StatusOK {
		t.Fatalf("return status = %d, body %s", w.Code, w.Body.String())
	}
}

func TestEngineErrorMapping(t *testing.T) {
	env := newServerEnv(t)
	staff := tokenFor(t, "staff-1", domain.RoleLibrarian)
	reader := tokenFor(t, "reader-1", domain.RoleReader)

	// Unknown reader: 404.
	w := env.do(t, http.MethodPost, "/loans", staff, map[string]string{"readerId": "ghost", "bookId": "book-1"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown reader status = %d, want 404", w.Code)
	}

	// Reserving while a copy is free is a policy rejection: 422 with a code.
	w = env.do(t, http.MethodPost, "/reservations", staff, map[string]string{"readerId": "reader-1", "bookId": "book-1"})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("reserve status = %d, want 422", w.Code)
	}
	var payload map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["code"] != "UseDirectBorrow" {
		t.Fatalf("code = %q, want UseDirectBorrow", payload["code"])
	}

	// Borrow the only copy, then a second borrow is a conflict: 409.
	w = env.do(t, http.MethodPost, "/loans", staff, map[string]string{"readerId": "reader-1", "bookId": "book-1"})
	if w.Code != http.StatusCreated {
		t.Fatalf("borrow status = %d", w.Code)
	}
	w = env.do(t, http.MethodPost, "/loans", staff, map[string]string{"readerId": "reader-1", "bookId": "book-1"})
	if w.Code != http.StatusConflict {
		t.Fatalf("second borrow status = %d, want 409", w.Code)
	}

	// A reader calling the staff-only overdue listing: 403.
	w = env.do(t, http.MethodGet, "/loans/overdue", reader, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("overdue status = %d, want 403", w.Code)
	}
}

func TestReservationLifecycleOverHTTP(t *testing.T) {
	env := newServerEnv(t)
	staff := tokenFor(t, "staff-1", domain.RoleLibrarian)
	err := env.ledger.SaveReader(domain.Reader{
		ID: "reader-2", FullName: "r2", Status: domain.ReaderActive,
		MaxBooksAllowed: 3, MaxBorrowDays: 14, MaxRenewals: 1, RenewalDays: 7,
	})
	if err != nil {
		t.Fatalf("seed reader: %v", err)
	}

	w := env.do(t, http.MethodPost, "/loans", staff, map[string]string{"readerId": "reader-1", "bookId": "book-1"})
	if w.Code != http.StatusCreated {
		t.Fatalf("borrow status = %d", w.Code)
	}
	w = env.do(t, http.MethodPost, "/reservations", staff, map[string]string{"readerId": "reader-2", "bookId": "book-1"})
	if w.Code != http.StatusCreated {
		t.Fatalf("reserve status = %d, body %s", w.Code, w.Body.String())
	}
	var res domain.Reservation
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode reservation: %v", err)
	}

	w = env.do(t, http.MethodPost, "/reservations/"+res.ID+"/approve", staff, map[string]string{"note": "ok"})
	if w.Code != http.StatusOK {
		t.Fatalf("approve status = %d, body %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodGet, "/books/book-1/queue", staff, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("queue status = %d", w.Code)
	}
	var queue []domain.Reservation
	if err := json.Unmarshal(w.Body.Bytes(), &queue); err != nil {
		t.Fatalf("decode queue: %v", err)
	}
	if len(queue) != 1 || queue[0].ID != res.ID {
		t.Fatalf("queue = %+v, want the one reservation", queue)
	}

	w = env.do(t, http.MethodPost, "/reservations/"+res.ID+"/cancel", staff, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("cancel status = %d, body %s", w.Code, w.Body.String())
	}
}

func TestReaderViewsOwnLoansOnly(t *testing.T) {
	env := newServerEnv(t)
	staff := tokenFor(t, "staff-1", domain.RoleLibrarian)
	reader := tokenFor(t, "reader-1", domain.RoleReader)

	w := env.do(t, http.MethodPost, "/loans", staff, map[string]string{"readerId": "reader-1", "bookId": "book-1"})
	if w.Code != http.StatusCreated {
		t.Fatalf("borrow status = %d", w.Code)
	}

	w = env.do(t, http.MethodGet, "/readers/reader-1/loans", reader, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("own loans status = %d", w.Code)
	}
	var loans []domain.BorrowTicket
	if err := json.Unmarshal(w.Body.Bytes(), &loans); err != nil {
		t.Fatalf("decode loans: %v", err)
	}
	if len(loans) != 1 {
		t.Fatalf("loans = %d, want 1", len(loans))
	}

	w = env.do(t, http.MethodGet, "/readers/reader-9/loans", reader, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("other reader's loans status = %d, want 403", w.Code)
	}
}
