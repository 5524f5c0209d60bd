package ws

// announceLocked sends the full online set to every live connection. Clients
// replace their list wholesale; no diff is computed. r.mu must be held.
func (r *Registry) announceLocked() {
	broadcastOnlineUsers(r.onlineLocked(), r.allLocked())
}

func broadcastOnlineUsers(online []string, targets []Conn) int {
	msg := OutgoingMessage{Type: EventGetOnlineUsers, Payload: online}
	n := 0
	for _, c := range targets {
		if c.Send(msg) {
			n++
		}
	}
	return n
}
