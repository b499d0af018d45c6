package probe

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// oobPrefix is the 4-byte out-of-band marker every Quake3-derived getinfo
// request/response carries (spec §4.2, §6).
var oobPrefix = []byte{0xFF, 0xFF, 0xFF, 0xFF}

const (
	getInfoToken      = "getinfo"
	infoResponseToken = "infoResponse"
)

// newChallenge returns a random 16-hex-character challenge token.
func newChallenge() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating challenge: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// encodeRequest builds the outbound "getinfo <challenge>\n" datagram.
func encodeRequest(challenge string) []byte {
	var buf bytes.Buffer
	buf.Write(oobPrefix)
	buf.WriteString(getInfoToken)
	buf.WriteByte(' ')
	buf.WriteString(challenge)
	buf.WriteByte('\n')
	return buf.Bytes()
}

// ErrMalformedReply is returned by decodeReply when the datagram isn't a
// recognizable infoResponse. Probe callers never see this error directly;
// it is logged and treated as "no reply" (spec §4.2).
var ErrMalformedReply = errors.New("probe: malformed infoResponse reply")

// decodedReply is the raw key/value view of an infoResponse datagram,
// before it is matched against an outstanding request and converted to a
// model.ServerInfo.
type decodedReply struct {
	fields    map[string]string
	challenge string
}

// decodeReply parses an inbound datagram per spec §6: prefix, the
// "infoResponse" token, a newline, then a backslash-separated key/value
// list including a trailing "challenge" key. Replies terminated by "\n"
// or EOF are both accepted.
func decodeReply(datagram []byte) (decodedReply, error) {
	if len(datagram) < len(oobPrefix) || !bytes.Equal(datagram[:len(oobPrefix)], oobPrefix) {
		return decodedReply{}, ErrMalformedReply
	}
	rest := string(datagram[len(oobPrefix):])

	nl := strings.IndexByte(rest, '\n')
	var header, body string
	if nl == -1 {
		header, body = rest, ""
	} else {
		header, body = rest[:nl], rest[nl+1:]
	}
	if header != infoResponseToken {
		return decodedReply{}, ErrMalformedReply
	}

	body = strings.TrimRight(body, "\n")
	parts := strings.Split(body, `\`)

	fields := make(map[string]string)
	// parts[0] is empty because body starts with a backslash; walk pairs.
	for i := 1; i+1 < len(parts); i += 2 {
		fields[parts[i]] = parts[i+1]
	}

	challenge, ok := fields["challenge"]
	if !ok {
		return decodedReply{}, ErrMalformedReply
	}

	return decodedReply{fields: fields, challenge: challenge}, nil
}

func atoiOr(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}
