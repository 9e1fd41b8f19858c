package fanout

import "encoding/json"

// Envelope event types pushed to subscribed clients.
const (
	TypeMessage        = "message"
	TypeMessageUpdate  = "message_update"
	TypeAlert          = "alert"
	TypeReactionUpdate = "reaction_update"
	TypeContract       = "contract"
	TypeChainUpdate    = "chain_update"
)

// Envelope is the wire shape of every outbound event. RoomIDs is set only on
// room-scoped types (message, message_update).
type Envelope struct {
	Type    string   `json:"type"`
	Data    any      `json:"data"`
	RoomIDs []string `json:"roomIds,omitempty"`
}

// Control actions accepted from clients.
const (
	actionSubscribe    = "subscribe"
	actionUnsubscribe  = "unsubscribe"
	actionSubscribeAll = "subscribe_all"
)

type controlFrame struct {
	Action string `json:"action"`
	RoomID string `json:"roomId"`
}

func encodeEnvelope(typ string, data any, roomIDs []string) ([]byte, error) {
	return json.Marshal(Envelope{Type: typ, Data: data, RoomIDs: roomIDs})
}
