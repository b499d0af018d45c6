package probe

import (
	"context"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/arcadequeue/matchqueue/internal/model"
	"github.com/stretchr/testify/require"
)

// fakeGameServer is a minimal UDP getinfo responder used to exercise
// Prober against a real socket, mirroring the teacher's preference for
// exercising real net.Conn behavior over mocking the network stack.
type fakeGameServer struct {
	conn *net.UDPConn
	info map[string]string
}

func newFakeGameServer(t *testing.T, info map[string]string) *fakeGameServer {
	t.Helper()
	addr, err := net.ResolveUDPAddr("udp", "127.0.0.1:0")
	require.NoError(t, err)
	conn, err := net.ListenUDP("udp", addr)
	require.NoError(t, err)

	fs := &fakeGameServer{conn: conn, info: info}
	go fs.serve()
	t.Cleanup(func() { conn.Close() })
	return fs
}

func (fs *fakeGameServer) addr() model.ServerKey {
	udpAddr := fs.conn.LocalAddr().(*net.UDPAddr)
	return model.ServerKey{IP: udpAddr.IP.String(), Port: uint16(udpAddr.Port)}
}

func (fs *fakeGameServer) serve() {
	buf := make([]byte, 2048)
	for {
		n, remote, err := fs.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		req, err := parseRequest(buf[:n])
		if err != nil {
			continue
		}
		resp := buildResponse(req, fs.info)
		fs.conn.WriteToUDP(resp, remote)
	}
}

// parseRequest extracts the challenge from an outbound getinfo datagram;
// only the test fixture needs this, production code never parses its own
// requests.
func parseRequest(datagram []byte) (string, error) {
	const prefixLen = 4
	if len(datagram) < prefixLen {
		return "", ErrMalformedReply
	}
	body := string(datagram[prefixLen:])
	const want = "getinfo "
	if len(body) < len(want) || body[:len(want)] != want {
		return "", ErrMalformedReply
	}
	challenge := body[len(want):]
	for i, c := range challenge {
		if c == '\n' {
			challenge = challenge[:i]
			break
		}
	}
	return challenge, nil
}

func buildResponse(challenge string, info map[string]string) []byte {
	body := "infoResponse\n"
	for k, v := range info {
		body += `\` + k + `\` + v
	}
	body += `\challenge\` + challenge
	return append([]byte{0xFF, 0xFF, 0xFF, 0xFF}, []byte(body)...)
}

func TestRequestInfoHappyPath(t *testing.T) {
	fs := newFakeGameServer(t, map[string]string{
		"hostname":          "Arena One",
		"clients":           "10",
		"bots":              "0",
		"sv_maxclients":     "12",
		"sv_privateClients": "0",
	})

	p := New()
	info := p.RequestInfo(context.Background(), fs.addr(), time.Second)
	require.NotNil(t, info)
	require.Equal(t, "Arena One", info.HostName)
	require.Equal(t, 10, info.CurrentPlayers)
	require.Equal(t, 12, info.MaxClients)
	require.Equal(t, 2, info.FreeSlots())
}

func TestRequestInfoTimesOutWithNoResponder(t *testing.T) {
	addr, err := net.ResolveUDPAddr("udp", "127.0.0.1:0")
	require.NoError(t, err)
	conn, err := net.ListenUDP("udp", addr)
	require.NoError(t, err)
	target := model.ServerKey{IP: "127.0.0.1", Port: uint16(conn.LocalAddr().(*net.UDPAddr).Port)}
	conn.Close() // nobody is listening now

	p := New()
	start := time.Now()
	info := p.RequestInfo(context.Background(), target, 150*time.Millisecond)
	require.Nil(t, info)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestStartBatchInvokesCallbackPerTarget(t *testing.T) {
	fs1 := newFakeGameServer(t, map[string]string{"clients": "1", "bots": "0", "sv_maxclients": "8"})
	fs2 := newFakeGameServer(t, map[string]string{"clients": "2", "bots": "0", "sv_maxclients": "8"})

	p := New()
	var mu sync.Mutex
	seen := map[string]*model.ServerInfo{}

	p.StartBatch(context.Background(), []model.ServerKey{fs1.addr(), fs2.addr()}, time.Second,
		func(target model.ServerKey, info *model.ServerInfo) {
			mu.Lock()
			seen[strconv.Itoa(int(target.Port))] = info
			mu.Unlock()
		})

	require.Len(t, seen, 2)
	for _, info := range seen {
		require.NotNil(t, info)
	}
}
