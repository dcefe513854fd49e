package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/autkucakan/Chat-Block/internal/store"
	"github.com/autkucakan/Chat-Block/pkg/config"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

type appFixture struct {
	app    *App
	chatID int64
	member int64
	other  int64
}

// newAppFixture builds a full App over a throwaway SQLite store: ayse is a
// member of the seeded chat, mehmet is not.
func newAppFixture(t *testing.T) *appFixture {
	t.Helper()
	logger := newTestLogger()

	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "server_test.db"), logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	ayse, err := st.CreateUser(ctx, "ayse", "ayse@example.com")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	mehmet, err := st.CreateUser(ctx, "mehmet", "mehmet@example.com")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	chat, err := st.CreateChat(ctx, "genel", false, []int64{ayse.ID})
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}

	cfg := &config.Config{}
	cfg.Server.Address = ":0"
	cfg.Server.Auth.JWTSecret = "server-test-secret"
	cfg.Server.Auth.TokenTTL = 30 * time.Minute
	cfg.Transport.ReadTimeout = time.Minute
	cfg.Transport.SendBuffer = 16

	app := NewApp(logger, ctx, cfg, st, prometheus.NewRegistry())
	return &appFixture{app: app, chatID: chat.ID, member: ayse.ID, other: mehmet.ID}
}

func (f *appFixture) tokenFor(t *testing.T, userID int64) string {
	t.Helper()
	tok, err := f.app.validator.Issue(userID, f.app.config.Server.Auth.TokenTTL)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

func (f *appFixture) getChat(t *testing.T, chatID int64, token string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet,
		fmt.Sprintf("/ws/chat/%d?token=%s", chatID, token), nil)
	f.app.http.Handler.ServeHTTP(rec, req)
	return rec
}

func TestChatHandlerRejectsNonMemberBeforeUpgrade(t *testing.T) {
	f := newAppFixture(t)

	rec := f.getChat(t, f.chatID, f.tokenFor(t, f.other))
	if rec.Code != http.StatusNotFound {
		t.Errorf("non-member: expected 404, got %d", rec.Code)
	}
	if f.app.registry.ConnectionCount() != 0 {
		t.Errorf("non-member request must not touch the registry, count = %d",
			f.app.registry.ConnectionCount())
	}
}

func TestChatHandlerNonMemberAndUnknownChatAreIndistinguishable(t *testing.T) {
	f := newAppFixture(t)
	token := f.tokenFor(t, f.other)

	nonMember := f.getChat(t, f.chatID, token)
	unknown := f.getChat(t, 9999, token)

	if nonMember.Code != http.StatusNotFound || unknown.Code != http.StatusNotFound {
		t.Fatalf("expected 404/404, got %d/%d", nonMember.Code, unknown.Code)
	}
	if nonMember.Body.String() != unknown.Body.String() {
		t.Errorf("responses must not reveal chat existence: %q vs %q",
			nonMember.Body.String(), unknown.Body.String())
	}
	if f.app.registry.ConnectionCount() != 0 {
		t.Errorf("rejected requests must not touch the registry, count = %d",
			f.app.registry.ConnectionCount())
	}
}

func TestChatHandlerRejectsMalformedChatID(t *testing.T) {
	f := newAppFixture(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet,
		"/ws/chat/abc?token="+f.tokenFor(t, f.member), nil)
	f.app.http.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
	if f.app.registry.ConnectionCount() != 0 {
		t.Errorf("rejected request must not touch the registry, count = %d",
			f.app.registry.ConnectionCount())
	}
}
