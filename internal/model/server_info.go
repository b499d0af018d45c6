package model

// ServerInfo is a parsed "getinfo" probe reply (spec §3, §4.2).
type ServerInfo struct {
	HostName       string
	MapName        string
	GameType       string
	CurrentPlayers int // includes bots
	Bots           int
	MaxClients     int
	IsPrivate      bool
	Ping           int // milliseconds, round-trip
	ChallengeEcho  string
}

// RealPlayers is CurrentPlayers minus Bots (spec §3).
func (s ServerInfo) RealPlayers() int {
	rp := s.CurrentPlayers - s.Bots
	if rp < 0 {
		return 0
	}
	return rp
}

// FreeSlots is max(0, MaxClients - CurrentPlayers) (spec §3).
func (s ServerInfo) FreeSlots() int {
	free := s.MaxClients - s.CurrentPlayers
	if free < 0 {
		return 0
	}
	return free
}
