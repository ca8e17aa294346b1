package commands

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"morningbot/internal/prefs"
	"morningbot/internal/storage"
	"morningbot/internal/transport"
	logx "morningbot/pkg/logx"
)

const (
	admin = "wxid_admin"
	group = "g1@chatroom"
)

type replySink struct {
	mu      sync.Mutex
	replies []string
	to      []string
}

func (s *replySink) SendText(_ context.Context, to, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.to = append(s.to, to)
	s.replies = append(s.replies, text)
	return nil
}

func (s *replySink) last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.replies) == 0 {
		return ""
	}
	return s.replies[len(s.replies)-1]
}

func (s *replySink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.replies)
}

type names map[string]string

func (n names) DisplayName(_ context.Context, id string) (string, error) {
	if v, ok := n[id]; ok {
		return v, nil
	}
	return "", errors.New("unknown contact")
}

type fixture struct {
	store  *prefs.Store
	sink   *replySink
	router *Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	b, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "prefs.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	var mu sync.Mutex
	at := time.Date(2026, 10, 12, 7, 0, 0, 0, time.UTC)
	store := prefs.New(b, logx.Nop(), prefs.WithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		at = at.Add(time.Second)
		return at
	}))
	sink := &replySink{}
	r := New(Deps{
		Store:  store,
		Sender: sink,
		Names:  names{group: "晨跑群", "g2@chatroom": "读书会"},
	}, Config{Admins: []string{admin, " "}})
	return &fixture{store: store, sink: sink, router: r}
}

func groupMsg(from, conv, text string) *transport.Message {
	return &transport.Message{ConversationID: conv, SenderID: from, Text: text, IsGroup: transport.IsGroup(conv)}
}

func TestNonAdminNeverMutates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tokens := DefaultTokens()

	for _, text := range []string{tokens.SetBlacklist, tokens.DeleteBlacklist, tokens.SetWeather + " 北京", tokens.DeleteWeather, tokens.GetBlacklist, InfoToken} {
		require.True(t, f.router.Handle(ctx, groupMsg("wxid_stranger", group, text)))
		assert.Equal(t, replyUnauthorized, f.sink.last(), text)
	}
	assert.Empty(t, f.store.ListBlacklist(ctx))
	assert.Empty(t, f.store.ListWeather(ctx))
}

func TestBlacklistLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tokens := DefaultTokens()

	f.router.Handle(ctx, groupMsg(admin, group, tokens.GetBlacklist))
	assert.Equal(t, replyEmpty, f.sink.last())

	f.router.Handle(ctx, groupMsg(admin, group, tokens.SetBlacklist))
	assert.Equal(t, replyBlacklistSet, f.sink.last())
	f.router.Handle(ctx, groupMsg(admin, "g2@chatroom", tokens.SetBlacklist))
	f.router.Handle(ctx, groupMsg(admin, "g3@chatroom", tokens.SetBlacklist))

	f.router.Handle(ctx, groupMsg(admin, group, tokens.GetBlacklist))
	assert.Equal(t, "早安黑名单：\n1. g3@chatroom\n2. 读书会\n3. 晨跑群", f.sink.last(), "unknown names fall back to the id")

	f.router.Handle(ctx, groupMsg(admin, group, tokens.DeleteBlacklist))
	assert.Equal(t, replyBlacklistDelete, f.sink.last())
	f.router.Handle(ctx, groupMsg(admin, group, tokens.DeleteBlacklist))
	assert.Equal(t, replyBlacklistDelete, f.sink.last(), "deleting twice still succeeds")
	assert.Len(t, f.store.ListBlacklist(ctx), 2)
}

func TestWeatherLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tokens := DefaultTokens()

	f.router.Handle(ctx, groupMsg(admin, group, tokens.SetWeather))
	assert.Equal(t, replyMissingCity, f.sink.last())
	assert.Empty(t, f.store.ListWeather(ctx))

	f.router.Handle(ctx, groupMsg(admin, group, tokens.SetWeather+"  北京 "))
	assert.Equal(t, "✅已设置本群早安天气城市：北京", f.sink.last())
	f.router.Handle(ctx, groupMsg(admin, group, tokens.SetWeather+` "New York"`))

	f.router.Handle(ctx, groupMsg(admin, "wxid_admin", tokens.GetWeather))
	assert.Equal(t, "早安天气设置：\n1. 晨跑群 - New York", f.sink.last())

	f.router.Handle(ctx, groupMsg(admin, group, tokens.DeleteWeather))
	assert.Equal(t, replyWeatherDelete, f.sink.last())
	assert.Empty(t, f.store.ListWeather(ctx))
}

func TestMutationsRequireGroup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tokens := DefaultTokens()

	f.router.Handle(ctx, groupMsg(admin, admin, tokens.SetBlacklist))
	assert.Equal(t, replyGroupOnly, f.sink.last())
	f.router.Handle(ctx, groupMsg(admin, admin, tokens.SetWeather+" 北京"))
	assert.Equal(t, replyGroupOnly, f.sink.last())
	assert.Empty(t, f.store.ListBlacklist(ctx))
	assert.Empty(t, f.store.ListWeather(ctx))

	f.router.Handle(ctx, groupMsg(admin, admin, tokens.GetBlacklist))
	assert.Equal(t, replyEmpty, f.sink.last(), "queries work outside groups")
}

func TestInfo(t *testing.T) {
	f := newFixture(t)
	f.router.Handle(context.Background(), groupMsg(admin, group, InfoToken))
	assert.Equal(t, "发送者：wxid_admin\n会话：g1@chatroom\n群名称：晨跑群", f.sink.last())
	assert.Equal(t, group, f.sink.to[0])
}

func TestUnknownTextIgnored(t *testing.T) {
	f := newFixture(t)
	assert.False(t, f.router.Handle(context.Background(), groupMsg(admin, group, "早上好")))
	assert.False(t, f.router.Handle(context.Background(), groupMsg(admin, group, "  ")))
	assert.Zero(t, f.sink.count())
}

type brokenStore struct{ Store }

func (brokenStore) UpsertBlacklist(context.Context, string, string) bool { return false }

func TestStoreFailureReply(t *testing.T) {
	sink := &replySink{}
	r := New(Deps{Store: brokenStore{}, Sender: sink}, Config{Admins: []string{admin}})
	r.Handle(context.Background(), groupMsg(admin, group, DefaultTokens().SetBlacklist))
	assert.Equal(t, replyBlacklistSetFail, sink.last())
}

type panickyStore struct{ Store }

func (panickyStore) ListWeather(context.Context) []prefs.Record { panic("boom") }

func TestHandlerPanicIsRecovered(t *testing.T) {
	sink := &replySink{}
	r := New(Deps{Store: panickyStore{}, Sender: sink}, Config{Admins: []string{admin}})
	assert.NotPanics(t, func() {
		r.Handle(context.Background(), groupMsg(admin, group, DefaultTokens().GetWeather))
	})
}

func TestApplySwapsTokensAndAdmins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.router.Apply(Config{Admins: []string{"wxid_other"}, Tokens: Tokens{GetBlacklist: "黑名单"}})

	assert.False(t, f.router.Handle(ctx, groupMsg("wxid_other", group, DefaultTokens().GetBlacklist)))
	f.router.Handle(ctx, groupMsg("wxid_other", group, "黑名单"))
	assert.Equal(t, replyEmpty, f.sink.last())
	f.router.Handle(ctx, groupMsg(admin, group, "黑名单"))
	assert.Equal(t, replyUnauthorized, f.sink.last())
}

func TestDispatchLoop(t *testing.T) {
	f := newFixture(t)
	updates := make(chan transport.Update, 2)
	updates <- transport.Update{Kind: transport.UpdateMessage, Message: groupMsg(admin, group, InfoToken)}
	updates <- transport.Update{Kind: transport.UpdateMessage}
	close(updates)

	require.NoError(t, f.router.DispatchLoop(context.Background(), updates))
	assert.Equal(t, 1, f.sink.count())
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"设置早安天气", "New York"}, tokenize(`设置早安天气 "New York"`))
	assert.Equal(t, []string{"a", "b c", `d"e`}, tokenize(`a 'b c' d\"e`))
	assert.Nil(t, tokenize("   "))
}

func TestTokenizeFullWidthSpace(t *testing.T) {
	assert.Equal(t, []string{"设置早安天气", "北京"}, tokenize("设置早安天气　北京"))
	assert.Equal(t, []string{"设置早安天气", "北京"}, tokenize("　设置早安天气　　北京　"))
	assert.Equal(t, []string{"a", "北京 上海"}, tokenize(`a "北京 上海"`))
}

func TestSetWeatherWithFullWidthSpace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.router.Handle(ctx, groupMsg(admin, group, DefaultTokens().SetWeather+"　北京"))
	assert.Equal(t, "✅已设置本群早安天气城市：北京", f.sink.last())
	recs := f.store.ListWeather(ctx)
	require.Len(t, recs, 1)
	assert.Equal(t, "北京", recs[0].City)
}
