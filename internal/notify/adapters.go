package notify

import (
	"context"

	"github.com/codequest-platform/arena-server/internal/matchmaking"
)

// BattleNotifier adapts a Hub to battle.Notifier (EmitRoom/EmitUser take a
// raw event name and payload already shaped by the caller).
type BattleNotifier struct{ Hub *Hub }

func (n BattleNotifier) EmitRoom(ctx context.Context, room, event string, payload any) error {
	return n.Hub.EmitRoom(ctx, room, event, payload)
}

func (n BattleNotifier) EmitUser(ctx context.Context, userID, event string, payload any) error {
	return n.Hub.EmitUser(ctx, userID, event, payload)
}

// MatchmakingNotifier adapts a Hub to matchmaking.Notifier, fixing the
// event type for each of the two matchmaking events.
type MatchmakingNotifier struct{ Hub *Hub }

func (n MatchmakingNotifier) EmitQueueUpdate(ctx context.Context, userID string, update matchmaking.QueueUpdate) error {
	return n.Hub.EmitUser(ctx, userID, EventQueueUpdate, update)
}

func (n MatchmakingNotifier) EmitMatchFound(ctx context.Context, userID string, found matchmaking.MatchFound) error {
	return n.Hub.EmitUser(ctx, userID, EventMatchFound, found)
}
