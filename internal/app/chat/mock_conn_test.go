package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"relaychat/internal/app/db"
	"relaychat/internal/app/protocol"
	"relaychat/internal/configs"
)

const waitTimeout = 2 * time.Second

// mockConn is an in-memory Conn. Tests push client frames into fromClient and read
// what the server sent from fromServer.
type mockConn struct {
	handle string

	fromClient chan []byte
	fromServer chan []byte

	// stop is closed by Close.
	stop    chan struct{}
	running atomic.Bool

	// failSend makes every Send fail, simulating a broken peer.
	failSend atomic.Bool

	mu          sync.Mutex
	closeCode   int
	closeReason string

	// ignore lists server message types next skips over.
	ignore map[protocol.MessageType]bool
}

func newMockConn(handle string) *mockConn {
	mc := &mockConn{
		handle:     handle,
		fromClient: make(chan []byte),
		fromServer: make(chan []byte, 256),
		stop:       make(chan struct{}),
		ignore: map[protocol.MessageType]bool{
			protocol.TypeUserOnline:  true,
			protocol.TypeUserOffline: true,
		},
	}
	mc.running.Store(true)
	return mc
}

func (mc *mockConn) Handle() string     { return mc.handle }
func (mc *mockConn) RemoteAddr() string { return "192.0.2.1:5000" }

func (mc *mockConn) Recv(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-mc.fromClient:
		return frame, nil
	case <-mc.stop:
		return nil, ErrConnClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (mc *mockConn) Send(frame []byte) error {
	if !mc.running.Load() {
		return ErrConnClosed
	}
	if mc.failSend.Load() {
		return errors.New("mock: broken pipe")
	}
	select {
	case mc.fromServer <- frame:
		return nil
	default:
		return errSendQueueFull
	}
}

func (mc *mockConn) Close(code int, reason string) error {
	if !mc.running.CompareAndSwap(true, false) {
		return ErrConnClosed
	}
	mc.mu.Lock()
	mc.closeCode, mc.closeReason = code, reason
	mc.mu.Unlock()
	close(mc.stop)
	return nil
}

// push simulates the client sending raw.
func (mc *mockConn) push(t *testing.T, raw string) {
	t.Helper()
	select {
	case mc.fromClient <- []byte(raw):
	case <-mc.stop:
		t.Fatalf("%s: push on closed connection", mc.handle)
	case <-time.After(waitTimeout):
		t.Fatalf("%s: server did not read %s", mc.handle, raw)
	}
}

// next returns the next server message that is not ignored.
func (mc *mockConn) next(t *testing.T) protocol.Envelope {
	t.Helper()
	for {
		select {
		case frame := <-mc.fromServer:
			env, err := protocol.DecodeServer(frame)
			require.NoError(t, err, "server sent %s", frame)
			if mc.ignore[env.Type] {
				continue
			}
			return env
		case <-time.After(waitTimeout):
			t.Fatalf("%s: no message from server", mc.handle)
			return protocol.Envelope{}
		}
	}
}

// expect reads the next message and requires its type.
func (mc *mockConn) expect(t *testing.T, want protocol.MessageType) protocol.Envelope {
	t.Helper()
	env := mc.next(t)
	require.Equal(t, want, env.Type, "%s: payload %+v", mc.handle, env.Payload)
	return env
}

// expectError reads the next message and requires an error envelope with code.
func (mc *mockConn) expectError(t *testing.T, code int) protocol.Error {
	t.Helper()
	p := mc.expect(t, protocol.TypeError).Payload.(protocol.Error)
	require.Equal(t, code, p.Code, p.Detail)
	return p
}

// silent asserts the server sends nothing that is not ignored for a short while.
func (mc *mockConn) silent(t *testing.T) {
	t.Helper()
	deadline := time.After(50 * time.Millisecond)
	for {
		select {
		case frame := <-mc.fromServer:
			env, err := protocol.DecodeServer(frame)
			require.NoError(t, err)
			if !mc.ignore[env.Type] {
				t.Fatalf("%s: unexpected %s %+v", mc.handle, env.Type, env.Payload)
			}
		case <-deadline:
			return
		}
	}
}

// waitClosed blocks until the server closes the connection and returns the close frame.
func (mc *mockConn) waitClosed(t *testing.T) (int, string) {
	t.Helper()
	select {
	case <-mc.stop:
	case <-time.After(waitTimeout):
		t.Fatalf("%s: connection was not closed", mc.handle)
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.closeCode, mc.closeReason
}

// fakeStore keeps users and messages in memory.
type fakeStore struct {
	mu         sync.Mutex
	users      map[int64]db.UserRecord
	messages   []db.MessageRecord
	guestSeq   int
	appendErr  error
	historyErr error
	lookupErr  error
}

func newFakeStore(users ...db.UserRecord) *fakeStore {
	fs := &fakeStore{users: make(map[int64]db.UserRecord)}
	for _, u := range users {
		fs.users[u.ID] = u
	}
	return fs
}

func (fs *fakeStore) FindUserByID(_ context.Context, id int64) (db.UserRecord, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	u, ok := fs.users[id]
	if !ok {
		return db.UserRecord{}, db.ErrUserNotFound
	}
	return u, nil
}

func (fs *fakeStore) FindUserByUsername(_ context.Context, username string) (db.UserRecord, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.lookupErr != nil {
		return db.UserRecord{}, fs.lookupErr
	}
	for _, u := range fs.users {
		if u.Username == username {
			return u, nil
		}
	}
	return db.UserRecord{}, db.ErrUserNotFound
}

func (fs *fakeStore) CreateGuestUser(context.Context) (db.UserRecord, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.guestSeq++
	return db.UserRecord{Username: fmt.Sprintf("guest_%06d", fs.guestSeq)}, nil
}

func (fs *fakeStore) AppendMessage(_ context.Context, channelID int64, msg db.NewMessage) (int64, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.appendErr != nil {
		return 0, fs.appendErr
	}
	id := int64(len(fs.messages) + 1)
	fs.messages = append(fs.messages, db.MessageRecord{
		ID:        id,
		ChannelID: channelID,
		SenderID:  msg.SenderID,
		Sender:    msg.Sender,
		Content:   msg.Content,
		CreatedAt: msg.SentAt,
	})
	return id, nil
}

func (fs *fakeStore) ListRecentMessages(_ context.Context, channelID int64, limit int) ([]db.MessageRecord, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.historyErr != nil {
		return nil, fs.historyErr
	}
	var out []db.MessageRecord
	for _, m := range fs.messages {
		if m.ChannelID == channelID {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (fs *fakeStore) stored() []db.MessageRecord {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]db.MessageRecord(nil), fs.messages...)
}

// fakeVerifier maps tokens to user ids.
type fakeVerifier map[string]int64

func (fv fakeVerifier) Verify(_ context.Context, token string) (int64, error) {
	id, ok := fv[token]
	if !ok {
		return 0, errors.New("token is invalid")
	}
	return id, nil
}

// Registered users shared by the session tests; the token is "tok-" + username.
var testUsers = []db.UserRecord{
	{ID: 1, Username: "alice"},
	{ID: 7, Username: "bob"},
	{ID: 8, Username: "carol"},
	{ID: 9, Username: "dave"},
	{ID: 42, Username: "ghost"},
}

type harness struct {
	svc    *Services
	router *Router
	store  *fakeStore

	ctx context.Context
	wg  sync.WaitGroup

	mu   sync.Mutex
	errs map[string]error
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	cfg := configs.Default()
	cfg.AdminUsers = []string{"alice"}
	cfg.HandshakeTimeout = 200 * time.Millisecond
	cfg.MaxMessageLength = 16
	cfg.HistoryLimit = 3

	// ghost has a token but no stored record.
	store := newFakeStore(testUsers[:4]...)
	verifier := fakeVerifier{}
	for _, u := range testUsers {
		verifier["tok-"+u.Username] = u.ID
	}

	metrics := NewMetrics(prometheus.NewRegistry())
	svc := &Services{
		Hub:      NewHub(metrics),
		Store:    store,
		Verifier: verifier,
		Config:   cfg,
		Metrics:  metrics,
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{
		svc:    svc,
		router: NewRouter(svc),
		store:  store,
		ctx:    ctx,
		errs:   make(map[string]error),
	}

	t.Cleanup(func() {
		cancel()
		h.wg.Wait()
	})
	return h
}

// start runs a session for a fresh connection without sending anything.
func (h *harness) start(handle string) *mockConn {
	mc := newMockConn(handle)
	session := NewSession(mc, h.svc, h.router)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		err := session.Run(h.ctx)
		h.mu.Lock()
		h.errs[handle] = err
		h.mu.Unlock()
	}()
	return mc
}

// connect completes a handshake. An empty token connects as a guest.
func (h *harness) connect(t *testing.T, handle, username, token string) *mockConn {
	t.Helper()
	mc := h.start(handle)

	tokenJSON := "null"
	if token != "" {
		tokenJSON = `"` + token + `"`
	}
	mc.push(t, fmt.Sprintf(`{"type":"hello","payload":{"username":%q,"token":%s}}`, username, tokenJSON))
	mc.expect(t, protocol.TypeHello)
	return mc
}

// login connects a registered test user by name.
func (h *harness) login(t *testing.T, username string) *mockConn {
	t.Helper()
	return h.connect(t, username+"-conn", "", "tok-"+username)
}

// join sends channel_join and consumes the confirmation and history for the joiner.
func (h *harness) join(t *testing.T, mc *mockConn, channelID int64) {
	t.Helper()
	mc.push(t, fmt.Sprintf(`{"type":"channel_join","payload":{"channel_id":%d}}`, channelID))
	mc.expect(t, protocol.TypeChannelJoin)
	mc.expect(t, protocol.TypeChannelHistory)
}

// runErr returns what Session.Run returned for handle once it has finished.
func (h *harness) runErr(t *testing.T, handle string) error {
	t.Helper()
	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		_, ok := h.errs[handle]
		return ok
	}, waitTimeout, 5*time.Millisecond)

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.errs[handle]
}
