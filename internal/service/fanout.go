package service

import "github.com/pulse/internal/ws"

// Fanout pushes an event to every live connection of a user and reports how
// many connections accepted it. *ws.Registry implements it.
type Fanout interface {
	SendToUser(userID string, msg ws.OutgoingMessage) int
}

type nopFanout struct{}

func (nopFanout) SendToUser(string, ws.OutgoingMessage) int { return 0 }
