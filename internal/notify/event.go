// Package notify is the websocket notification bus of §4.I: it
// multiplexes connections into rooms (battle:{id}, user:{id},
// matchmaking:{id}) and fans typed events out to every member.
package notify

import "time"

// Event is the envelope every outbound message is wrapped in before it
// reaches a socket.
type Event struct {
	Type      string `json:"type"`
	Room      string `json:"room"`
	CreatedAt int64  `json:"created_at"`
	Payload   any    `json:"payload"`
}

func newEvent(room, eventType string, payload any, now time.Time) Event {
	return Event{
		Type:      eventType,
		Room:      room,
		CreatedAt: now.UnixMilli(),
		Payload:   payload,
	}
}

// Room name helpers keep the three room families (§4.I) consistent
// between the hub and the components that address them.
func BattleRoom(matchID string) string       { return "battle:" + matchID }
func UserRoom(userID string) string          { return "user:" + userID }
func MatchmakingRoom(matchID string) string  { return "matchmaking:" + matchID }

const (
	EventQueueUpdate     = "queue_update"
	EventMatchFound      = "match_found"
	EventBattleCompleted = "battle_completed"
	EventOpponentExited  = "opponent_exited"
)
