package probe

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// PingResult carries the status reply of a game server's TCP JSON status
// endpoint.
type PingResult struct {
	ProtocolVersion int    `json:"protocol_version"`
	MOTD            string `json:"motd"`
	OnlinePlayers   int    `json:"online_players"`
	MaxPlayers      int    `json:"max_players"`
	LatencyMS       int64  `json:"latency_ms"`
}

type statusRequest struct {
	Request string `json:"request"`
}

type statusReply struct {
	ProtocolVersion int    `json:"protocolVersion"`
	MOTD            string `json:"motd"`
	OnlinePlayers   int    `json:"onlinePlayers"`
	MaxPlayers      int    `json:"maxPlayers"`
}

// Ping performs one status exchange against addr: a newline-terminated JSON
// request followed by a newline-terminated JSON reply.
func Ping(ctx context.Context, addr string) (*PingResult, error) {
	var d net.Dialer
	start := time.Now()
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer func() { _ = conn.Close() }()
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	req, _ := json.Marshal(statusRequest{Request: "status"})
	if _, err := conn.Write(append(req, '\n')); err != nil {
		return nil, fmt.Errorf("write status request: %w", err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("read status reply: %w", err)
	}
	var reply statusReply
	if err := json.Unmarshal(line, &reply); err != nil {
		return nil, fmt.Errorf("decode status reply: %w", err)
	}
	return &PingResult{
		ProtocolVersion: reply.ProtocolVersion,
		MOTD:            reply.MOTD,
		OnlinePlayers:   reply.OnlinePlayers,
		MaxPlayers:      reply.MaxPlayers,
		LatencyMS:       time.Since(start).Milliseconds(),
	}, nil
}
