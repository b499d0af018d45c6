// Package probe implements the Game Server Probe from spec §4.2: it sends
// OOB "getinfo" UDP datagrams and matches replies to outstanding requests
// via a random challenge token.
package probe

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/arcadequeue/matchqueue/internal/model"
	"golang.org/x/sync/errgroup"
)

const defaultReadBufSize = 4096

// Prober sends getinfo probes and parses infoResponse replies. The zero
// value is not usable; construct with New. Prober holds no per-target
// state between calls.
type Prober struct {
	readPool *bytePool
	// dial is overridable in tests to avoid real sockets.
	dial func(ctx context.Context, network, address string) (net.Conn, error)
}

// New creates a Prober that dials real UDP sockets.
func New() *Prober {
	var d net.Dialer
	return &Prober{
		readPool: newBytePool(defaultReadBufSize),
		dial:     d.DialContext,
	}
}

// RequestInfo sends one probe to target and returns the parsed reply if
// one arrives whose challenge echo matches before timeout elapses, else
// nil. Network errors and malformed replies never surface to the caller
// as an error (spec §4.2 failure model): they are logged and treated as
// "no reply".
func (p *Prober) RequestInfo(ctx context.Context, target model.ServerKey, timeout time.Duration) *model.ServerInfo {
	addr := net.JoinHostPort(target.IP, strconv.Itoa(int(target.Port)))

	challenge, err := newChallenge()
	if err != nil {
		slog.Warn("probe: generating challenge failed", "target", addr, "err", err)
		return nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := p.dial(dialCtx, "udp", addr)
	if err != nil {
		slog.Warn("probe: dial failed", "target", addr, "err", err)
		return nil
	}
	defer conn.Close()

	sentAt := time.Now()
	if _, err := conn.Write(encodeRequest(challenge)); err != nil {
		slog.Warn("probe: send failed", "target", addr, "err", err)
		return nil
	}

	_ = conn.SetReadDeadline(sentAt.Add(timeout))

	buf := p.readPool.Get()
	defer p.readPool.Put(buf)

	for {
		n, err := conn.Read(buf)
		if err != nil {
			// Timeout or connection error: no reply in time.
			return nil
		}
		ping := int(time.Since(sentAt) / time.Millisecond)

		reply, err := decodeReply(buf[:n])
		if err != nil {
			slog.Warn("probe: malformed reply discarded", "target", addr, "err", err)
			continue
		}
		if reply.challenge != challenge {
			// Stale or foreign reply; keep waiting until the deadline.
			continue
		}
		return replyToServerInfo(reply, ping)
	}
}

// StartBatch fires probes for every target concurrently and invokes
// onReply(target, info) as each completes. Ordering of callbacks is
// unspecified (spec §4.2). StartBatch returns once every probe has
// returned. Cancelling ctx makes probes that have not dialled yet fail at
// once; a probe already waiting for its reply still runs until a reply
// arrives or its timeout elapses.
func (p *Prober) StartBatch(ctx context.Context, targets []model.ServerKey, timeout time.Duration, onReply func(model.ServerKey, *model.ServerInfo)) {
	g, gctx := errgroup.WithContext(ctx)
	for _, target := range targets {
		target := target
		g.Go(func() error {
			info := p.RequestInfo(gctx, target, timeout)
			onReply(target, info)
			return nil
		})
	}
	// Errors are never returned by RequestInfo; Wait only blocks until
	// every probe has reported.
	_ = g.Wait()
}

func replyToServerInfo(r decodedReply, ping int) *model.ServerInfo {
	return &model.ServerInfo{
		HostName:       r.fields["hostname"],
		MapName:        r.fields["mapname"],
		GameType:       r.fields["gametype"],
		CurrentPlayers: atoiOr(r.fields["clients"], 0),
		Bots:           atoiOr(r.fields["bots"], 0),
		MaxClients:     atoiOr(r.fields["sv_maxclients"], 0),
		IsPrivate:      r.fields["sv_privateClients"] == "1",
		Ping:           ping,
		ChallengeEcho:  r.challenge,
	}
}
