package gateway

import (
	"bytes"
	"encoding/json"

	"github.com/DanielHighETH/trenchcord-sub000/internal/core"
)

// Gateway opcodes for the session push protocol.
const (
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opResume         = 6
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatACK   = 11
)

// frame is the envelope of every gateway payload.
type frame struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  *int64          `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
}

type helloPayload struct {
	HeartbeatInterval int `json:"heartbeat_interval"`
}

type identifyPayload struct {
	Token      string             `json:"token"`
	Properties identifyProperties `json:"properties"`
}

type identifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

type resumePayload struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
}

type userPayload struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	GlobalName string `json:"global_name"`
	Avatar     string `json:"avatar"`
}

func (u userPayload) identity() core.Identity {
	return core.Identity{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.GlobalName,
		Avatar:      u.Avatar,
	}
}

type rolePayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type guildPayload struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Icon       string            `json:"icon"`
	Channels   []json.RawMessage `json:"channels"`
	Roles      []rolePayload     `json:"roles"`
	Properties *struct {
		Name string `json:"name"`
		Icon string `json:"icon"`
	} `json:"properties"`
}

func (g guildPayload) displayName() string {
	if g.Name != "" {
		return g.Name
	}
	if g.Properties != nil {
		return g.Properties.Name
	}
	return ""
}

func (g guildPayload) iconRef() string {
	if g.Icon != "" {
		return g.Icon
	}
	if g.Properties != nil {
		return g.Properties.Icon
	}
	return ""
}

type dmChannelPayload struct {
	ID           string        `json:"id"`
	Type         int           `json:"type"`
	Recipients   []userPayload `json:"recipients"`
	RecipientIDs []string      `json:"recipient_ids"`
}

type channelPayload struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Type       int           `json:"type"`
	GuildID    string        `json:"guild_id"`
	Recipients []userPayload `json:"recipients"`
}

type readyPayload struct {
	SessionID        string             `json:"session_id"`
	ResumeGatewayURL string             `json:"resume_gateway_url"`
	Guilds           []guildPayload     `json:"guilds"`
	PrivateChannels  []dmChannelPayload `json:"private_channels"`
	Users            []userPayload      `json:"users"`
}

type attachmentPayload struct {
	URL         string `json:"url"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
}

type reactionPayload struct {
	Count int `json:"count"`
	Emoji struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"emoji"`
}

type messagePayload struct {
	ID                string              `json:"id"`
	ChannelID         string              `json:"channel_id"`
	GuildID           string              `json:"guild_id"`
	Author            userPayload         `json:"author"`
	Content           string              `json:"content"`
	Timestamp         string              `json:"timestamp"`
	Attachments       []attachmentPayload `json:"attachments"`
	Embeds            []map[string]any    `json:"embeds"`
	Mentions          []userPayload       `json:"mentions"`
	MentionRoles      []string            `json:"mention_roles"`
	Reactions         []reactionPayload   `json:"reactions"`
	ReferencedMessage *messagePayload     `json:"referenced_message"`
}

type reactionEventPayload struct {
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
	GuildID   string `json:"guild_id"`
	Emoji     struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"emoji"`
}

// Guild channel types the directories care about.
const (
	channelTypeGuildText    = 0
	channelTypeDM           = 1
	channelTypeGroupDM      = 3
	channelTypeAnnouncement = 5
)

func textCapable(channelType int) bool {
	switch channelType {
	case channelTypeGuildText, channelTypeAnnouncement:
		return true
	}
	return false
}

// normalizeChannel accepts a channel entry in either of the two wire shapes:
// a plain record {"id","name","type"} or a positional tuple [id, name, type].
func normalizeChannel(raw json.RawMessage) (core.ChannelInfo, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return core.ChannelInfo{}, false
	}

	switch trimmed[0] {
	case '{':
		var obj channelPayload
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return core.ChannelInfo{}, false
		}
		if obj.ID == "" {
			return core.ChannelInfo{}, false
		}
		return core.ChannelInfo{ID: obj.ID, Name: obj.Name, Type: obj.Type}, true
	case '[':
		var tuple []json.RawMessage
		if err := json.Unmarshal(trimmed, &tuple); err != nil {
			return core.ChannelInfo{}, false
		}
		if len(tuple) == 0 {
			return core.ChannelInfo{}, false
		}
		info := core.ChannelInfo{}
		info.ID = flexString(tuple[0])
		if info.ID == "" {
			return core.ChannelInfo{}, false
		}
		if len(tuple) > 1 {
			info.Name = flexString(tuple[1])
		}
		if len(tuple) > 2 {
			var n int
			if err := json.Unmarshal(tuple[2], &n); err == nil {
				info.Type = n
			}
		}
		return info, true
	}
	return core.ChannelInfo{}, false
}

// flexString decodes a JSON string or number into its string form. Channel
// ids appear as both on the wire.
func flexString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
