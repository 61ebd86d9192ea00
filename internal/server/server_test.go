package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/setevik/logrelay/internal/capture"
	"github.com/setevik/logrelay/internal/config"
	"github.com/setevik/logrelay/internal/entry"
	"github.com/setevik/logrelay/internal/protocol"
	"github.com/setevik/logrelay/internal/store"
)

type message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConsole() config.Console {
	cfg := config.DefaultConsole()
	cfg.Enabled = true
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	return cfg
}

func startServer(t *testing.T, cfg config.Console, opts ...Option) *Server {
	t.Helper()
	srv := New(cfg, quietLogger(), opts...)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)
	return srv
}

func connectWS(t *testing.T, srv *Server) *ws.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, resp, err := ws.Dial(ctx, "ws://"+srv.StreamAddr(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() {
		conn.Close(ws.StatusNormalClosure, "test cleanup")
	})
	return conn
}

func sendJSON(t *testing.T, conn *ws.Conn, v any) {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	sendText(t, conn, string(b))
}

func sendText(t *testing.T, conn *ws.Conn, msg string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, ws.MessageText, []byte(msg)))
}

func readMsg(t *testing.T, conn *ws.Conn) message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	msgType, data, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, ws.MessageText, msgType)

	var m message
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func readEntries(t *testing.T, m message) []entry.Entry {
	t.Helper()
	var entries []entry.Entry
	require.NoError(t, json.Unmarshal(m.Data, &entries))
	return entries
}

// join connects an observer and consumes its history snapshot.
func join(t *testing.T, srv *Server) (*ws.Conn, []entry.Entry) {
	t.Helper()
	conn := connectWS(t, srv)
	m := readMsg(t, conn)
	require.Equal(t, string(protocol.TypeHistoricalLogs), m.Type)
	return conn, readEntries(t, m)
}

func at(ms int64, level entry.Level, msg string) entry.Entry {
	return entry.Entry{Level: level, Message: msg, Timestamp: ms, Source: "test"}
}

func TestHistoricalSnapshotOnConnect(t *testing.T) {
	srv := startServer(t, testConsole())
	srv.Append(at(1, entry.LevelInfo, "first"))
	srv.Append(at(2, entry.LevelWarn, "second"))

	_, history := join(t, srv)

	require.Len(t, history, 2)
	assert.Equal(t, "first", history[0].Message)
	assert.Equal(t, "second", history[1].Message)
	assert.Equal(t, 1, srv.ObserverCount())
}

func TestEmptySnapshotIsArray(t *testing.T) {
	srv := startServer(t, testConsole())
	conn := connectWS(t, srv)

	m := readMsg(t, conn)
	assert.Equal(t, "historical-logs", m.Type)
	assert.JSONEq(t, `[]`, string(m.Data))
}

func TestObserversReceiveIdenticalNewLog(t *testing.T) {
	srv := startServer(t, testConsole())
	a, _ := join(t, srv)
	b, _ := join(t, srv)

	srv.Append(at(42, entry.LevelError, "boom"))

	ma := readMsg(t, a)
	mb := readMsg(t, b)
	assert.Equal(t, "new-log", ma.Type)
	assert.Equal(t, ma, mb)

	var e entry.Entry
	require.NoError(t, json.Unmarshal(ma.Data, &e))
	assert.Equal(t, "boom", e.Message)
	assert.Equal(t, int64(42), e.Timestamp)
}

func TestDisconnectedObserverDoesNotAffectOthers(t *testing.T) {
	srv := startServer(t, testConsole())
	a, _ := join(t, srv)
	b, _ := join(t, srv)
	require.Equal(t, 2, srv.ObserverCount())

	a.CloseNow()
	require.Eventually(t, func() bool { return srv.ObserverCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	srv.Append(at(1, entry.LevelInfo, "still here"))
	m := readMsg(t, b)
	assert.Equal(t, "new-log", m.Type)
	assert.Equal(t, 1, srv.Store().Len())
}

func TestNoDuplicatesWhileJoining(t *testing.T) {
	srv := startServer(t, testConsole())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			srv.Append(at(int64(i), entry.LevelInfo, strconv.Itoa(i)))
		}
	}()

	conn, history := join(t, srv)
	wg.Wait()

	seen := make([]string, 0, 200)
	for _, e := range history {
		seen = append(seen, e.Message)
	}
	for len(seen) < 200 {
		m := readMsg(t, conn)
		require.Equal(t, "new-log", m.Type)
		var e entry.Entry
		require.NoError(t, json.Unmarshal(m.Data, &e))
		seen = append(seen, e.Message)
	}
	for i, msg := range seen {
		assert.Equal(t, strconv.Itoa(i), msg)
	}
}

func TestLargeWriteReachesEveryObserver(t *testing.T) {
	srv := startServer(t, testConsole())
	a, _ := join(t, srv)
	b, _ := join(t, srv)

	icpt := capture.New(srv, io.Discard, io.Discard)
	icpt.Start()

	const lines = 1000
	var out strings.Builder
	for i := 0; i < lines; i++ {
		fmt.Fprintf(&out, "build step %d\n", i)
	}
	_, err := icpt.Stdout().Write([]byte(out.String()))
	require.NoError(t, err)
	require.Equal(t, lines, srv.Store().Len())

	for _, conn := range []*ws.Conn{a, b} {
		for i := 0; i < lines; i++ {
			m := readMsg(t, conn)
			require.Equal(t, "new-log", m.Type)
			var e entry.Entry
			require.NoError(t, json.Unmarshal(m.Data, &e))
			require.Equal(t, fmt.Sprintf("build step %d", i), e.Message)
		}
	}
	assert.Equal(t, 2, srv.ObserverCount())
}

func TestAppendRespectsLevelAllowList(t *testing.T) {
	cfg := testConsole()
	cfg.LogLevels = []string{"warn", "error"}
	srv := New(cfg, quietLogger())

	srv.Append(at(1, entry.LevelInfo, "dropped"))
	srv.Append(at(2, entry.LevelDebug, "dropped"))
	srv.Append(at(3, entry.LevelError, "kept"))

	all := srv.Store().All()
	require.Len(t, all, 1)
	assert.Equal(t, "kept", all[0].Message)
}

func TestQueryCommands(t *testing.T) {
	srv := startServer(t, testConsole())
	srv.Append(at(1, entry.LevelInfo, "server ready"))
	srv.Append(at(2, entry.LevelWarn, "slow query"))
	srv.Append(at(3, entry.LevelError, "db down"))
	conn, _ := join(t, srv)

	sendJSON(t, conn, map[string]any{"type": "get-logs"})
	m := readMsg(t, conn)
	assert.Equal(t, "logs-response", m.Type)
	assert.Len(t, readEntries(t, m), 3)

	sendJSON(t, conn, map[string]any{"type": "get-filtered-logs", "filter": map[string]any{"level": "error"}})
	m = readMsg(t, conn)
	assert.Equal(t, "filtered-logs-response", m.Type)
	filtered := readEntries(t, m)
	require.Len(t, filtered, 1)
	assert.Equal(t, "db down", filtered[0].Message)

	sendJSON(t, conn, map[string]any{"type": "get-stats"})
	m = readMsg(t, conn)
	assert.Equal(t, "stats-response", m.Type)
	var stats store.Stats
	require.NoError(t, json.Unmarshal(m.Data, &stats))
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.ByLevel["warn"])

	sendJSON(t, conn, map[string]any{"type": "export-logs", "format": "txt"})
	m = readMsg(t, conn)
	assert.Equal(t, "export-response", m.Type)
	var text string
	require.NoError(t, json.Unmarshal(m.Data, &text))
	assert.Contains(t, text, "ERROR [test] db down")
}

func TestClearLogsBroadcasts(t *testing.T) {
	srv := startServer(t, testConsole())
	srv.Append(at(1, entry.LevelInfo, "old"))
	a, _ := join(t, srv)
	b, _ := join(t, srv)

	sendJSON(t, a, map[string]any{"type": "clear-logs"})

	assert.Equal(t, "logs-cleared", readMsg(t, a).Type)
	assert.Equal(t, "logs-cleared", readMsg(t, b).Type)
	assert.Equal(t, 0, srv.Store().Len())
}

func TestExecuteCommand(t *testing.T) {
	fixed := time.UnixMilli(1700000000000)
	srv := startServer(t, testConsole(), WithClock(func() time.Time { return fixed }))

	tests := []struct {
		command string
		want    string
	}{
		{"rm -rf /", "command-error"},
		{"", "command-error"},
		{"ls", "command-executed"},
		{"npm run build --watch", "command-executed"},
	}

	conn, _ := join(t, srv)
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			sendJSON(t, conn, map[string]any{"type": "execute-command", "command": tt.command})
			m := readMsg(t, conn)
			assert.Equal(t, tt.want, m.Type)
			if tt.want == "command-executed" {
				var res protocol.CommandResult
				require.NoError(t, json.Unmarshal(m.Data, &res))
				assert.Equal(t, tt.command, res.Command)
				assert.Equal(t, fixed.UnixMilli(), res.Timestamp)
			}
		})
	}
}

func TestCommandResultsBroadcast(t *testing.T) {
	srv := startServer(t, testConsole())
	a, _ := join(t, srv)
	b, _ := join(t, srv)

	sendJSON(t, a, map[string]any{"type": "execute-command", "command": "rm -rf /"})

	assert.Equal(t, "command-error", readMsg(t, a).Type)
	assert.Equal(t, "command-error", readMsg(t, b).Type)
}

type recordingExecutor struct {
	mu       sync.Mutex
	commands []string
}

func (r *recordingExecutor) Execute(ctx context.Context, command string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, command)
	return nil
}

func (r *recordingExecutor) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.commands...)
}

func TestExecutorOnlyRunsAllowedCommands(t *testing.T) {
	exec := &recordingExecutor{}
	srv := New(testConsole(), quietLogger(), WithExecutor(exec))

	require.ErrorIs(t, srv.ExecuteCommand("curl evil.example"), ErrCommandNotAllowed)
	require.NoError(t, srv.ExecuteCommand("pwd"))

	require.Eventually(t, func() bool { return len(exec.seen()) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"pwd"}, exec.seen())
}

func TestProtocolErrorsGoToSender(t *testing.T) {
	srv := startServer(t, testConsole())
	conn, _ := join(t, srv)

	sendText(t, conn, "{not json")
	m := readMsg(t, conn)
	assert.Equal(t, "error", m.Type)

	sendJSON(t, conn, map[string]any{"type": "reboot"})
	m = readMsg(t, conn)
	assert.Equal(t, "error", m.Type)

	// The connection stays usable.
	sendJSON(t, conn, map[string]any{"type": "get-logs"})
	assert.Equal(t, "logs-response", readMsg(t, conn).Type)
	assert.Equal(t, 1, srv.ObserverCount())
}

func TestStartStopLifecycle(t *testing.T) {
	srv := New(testConsole(), quietLogger())
	srv.Stop() // stopped already

	require.NoError(t, srv.Start())
	addr := srv.Addr()
	require.NotEmpty(t, addr)
	require.NoError(t, srv.Start())
	assert.Equal(t, addr, srv.Addr())
	assert.NotEqual(t, srv.Addr(), srv.StreamAddr())

	srv.Append(at(1, entry.LevelInfo, "kept"))
	srv.Stop()
	srv.Stop()

	assert.False(t, srv.Running())
	assert.Empty(t, srv.Addr())
	assert.Equal(t, 1, srv.Store().Len())

	require.NoError(t, srv.Start())
	assert.True(t, srv.Running())
	srv.Stop()
}

func TestStopDisconnectsObservers(t *testing.T) {
	srv := New(testConsole(), quietLogger())
	require.NoError(t, srv.Start())
	conn, _ := join(t, srv)

	srv.Stop()
	assert.Equal(t, 0, srv.ObserverCount())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	assert.Error(t, err)
}

func TestStartDisabledIsNoop(t *testing.T) {
	cfg := testConsole()
	cfg.Enabled = false
	srv := New(cfg, quietLogger())

	require.NoError(t, srv.Start())
	assert.False(t, srv.Running())
	assert.Empty(t, srv.Addr())
}

func TestStartPortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := testConsole()
	cfg.Port = ln.Addr().(*net.TCPAddr).Port
	srv := New(cfg, quietLogger())

	assert.Error(t, srv.Start())
	assert.False(t, srv.Running())
	assert.Empty(t, srv.Addr())
}

func TestStartInvalidPort(t *testing.T) {
	cfg := testConsole()
	cfg.Port = 70000
	srv := New(cfg, quietLogger())

	assert.Error(t, srv.Start())
	assert.False(t, srv.Running())
}
