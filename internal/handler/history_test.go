package handler

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/MrBlankCoding/ChannelChat/internal/compress"
	"github.com/MrBlankCoding/ChannelChat/internal/crypto"
	"github.com/MrBlankCoding/ChannelChat/internal/domain"
	"github.com/MrBlankCoding/ChannelChat/internal/hub"
	"github.com/MrBlankCoding/ChannelChat/internal/identity"
	"github.com/MrBlankCoding/ChannelChat/internal/notify"
	"github.com/MrBlankCoding/ChannelChat/internal/pipeline"
	"github.com/MrBlankCoding/ChannelChat/internal/store"
)

func newHistoryServer(t *testing.T) (*http.ServeMux, *store.MemoryStore, *crypto.Cipher, string) {
	t.Helper()

	master := make([]byte, 32)
	if _, err := rand.Read(master); err != nil {
		t.Fatalf("failed to generate master key: %v", err)
	}
	cipher := crypto.NewCipher(crypto.NewKeyManager(master, 0))

	comp, err := compress.New(3, compress.DefaultMinSize)
	if err != nil {
		t.Fatalf("failed to create compressor: %v", err)
	}

	st := store.NewMemoryStore()
	registry := hub.NewRegistry(zerolog.Nop(), time.Millisecond)
	svc := pipeline.NewService(registry, st, cipher, comp, notify.NopGateway{}, zerolog.Nop())
	t.Cleanup(svc.Close)

	provider := identity.NewJWTProvider("test-secret")
	token, err := provider.IssueToken("alice", "Alice", time.Minute)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	mux := http.NewServeMux()
	NewHistoryHandler(svc, provider).RegisterRoutes(mux)
	return mux, st, cipher, token
}

func seedHistory(t *testing.T, st *store.MemoryStore, cipher *crypto.Cipher, roomID string, n int) {
	t.Helper()
	base := time.Now().UTC()
	for i := 0; i < n; i++ {
		ct, nonce, epoch, err := cipher.Encrypt(fmt.Sprintf("msg-%d", i), roomID)
		if err != nil {
			t.Fatalf("Encrypt failed: %v", err)
		}
		_, err = st.InsertMessage(context.Background(), &domain.Message{
			RoomID:    roomID,
			UserID:    "alice",
			Username:  "Alice",
			Content:   ct,
			Nonce:     nonce,
			KeyEpoch:  epoch,
			Kind:      domain.KindText,
			Encrypted: true,
			Timestamp: base.Add(time.Duration(i) * time.Second),
			ReadBy:    []string{"alice"},
		})
		if err != nil {
			t.Fatalf("InsertMessage failed: %v", err)
		}
	}
}

func TestGetMessagesRequiresAuth(t *testing.T) {
	mux, _, _, _ := newHistoryServer(t)

	req := httptest.NewRequest(http.MethodGet, "/rooms/room-x/messages", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/rooms/room-x/messages", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token: status = %d, want 401", rec.Code)
	}
}

func TestGetMessagesReturnsDecryptedPage(t *testing.T) {
	mux, st, cipher, token := newHistoryServer(t)
	seedHistory(t, st, cipher, "room-x", 5)

	req := httptest.NewRequest(http.MethodGet, "/rooms/room-x/messages?limit=3", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var resp historyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Messages) != 3 {
		t.Fatalf("got %d messages, want 3", len(resp.Messages))
	}
	if resp.Messages[0].Content != "msg-4" {
		t.Errorf("newest content = %q, want msg-4 plaintext", resp.Messages[0].Content)
	}
	if resp.NextCursor == "" {
		t.Fatal("expected a next cursor for the remaining page")
	}

	// Follow the cursor for the rest.
	req = httptest.NewRequest(http.MethodGet, "/rooms/room-x/messages?limit=3&cursor="+resp.NextCursor, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("cursor page status = %d, want 200", rec.Code)
	}

	var page2 historyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &page2); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(page2.Messages) != 2 {
		t.Fatalf("second page has %d messages, want 2", len(page2.Messages))
	}
	if page2.Messages[0].Content != "msg-1" || page2.Messages[1].Content != "msg-0" {
		t.Errorf("second page = %q, %q", page2.Messages[0].Content, page2.Messages[1].Content)
	}
	if page2.NextCursor != "" {
		t.Errorf("unexpected cursor on final page: %q", page2.NextCursor)
	}
}

func TestGetMessagesRejectsBadParams(t *testing.T) {
	mux, _, _, token := newHistoryServer(t)

	for _, path := range []string{
		"/rooms/room-x/messages?limit=abc",
		"/rooms/room-x/messages?limit=-1",
		"/rooms/room-x/messages?cursor=!!!",
		"/rooms/room-x/messages?cursor=bm90IGEgdGltZQ==",
	} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", path, rec.Code)
		}
	}
}
