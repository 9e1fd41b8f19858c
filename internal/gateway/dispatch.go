package gateway

import (
	"encoding/json"
	"log"
	"time"

	"github.com/DanielHighETH/trenchcord-sub000/internal/core"
)

// UnknownName is the answer directory queries give for ids they cannot
// resolve.
const UnknownName = "unknown"

func (s *Session) dispatch(event string, d json.RawMessage) {
	switch event {
	case "READY":
		s.applyReady(d)
	case "RESUMED":
		log.Printf("gateway[%s]: session resumed", s.cfg.Tag)
	case "GUILD_CREATE", "GUILD_UPDATE":
		s.applyGuild(d)
	case "MESSAGE_CREATE":
		if msg, ok := s.decodeMessage(d); ok {
			s.emit(core.MessageEvent{Msg: msg})
		}
	case "MESSAGE_UPDATE":
		if msg, ok := s.decodeMessage(d); ok {
			s.emit(core.MessageUpdateEvent{Msg: msg})
		}
	case "MESSAGE_REACTION_ADD":
		s.applyReaction(d, 1)
	case "MESSAGE_REACTION_REMOVE":
		s.applyReaction(d, -1)
	case "CHANNEL_CREATE", "CHANNEL_UPDATE":
		s.applyChannel(d)
	}
}

// applyReady replaces the local directories wholesale from the initial sync
// payload.
func (s *Session) applyReady(d json.RawMessage) {
	var ready readyPayload
	if err := json.Unmarshal(d, &ready); err != nil {
		log.Printf("gateway[%s]: malformed ready: %v", s.cfg.Tag, err)
		return
	}

	users := make(map[string]core.Identity, len(ready.Users))
	for _, u := range ready.Users {
		users[u.ID] = u.identity()
	}

	channelGuild := make(map[string]string)
	channelName := make(map[string]string)
	roleNames := make(map[string]string)
	guilds := make(map[string]*core.GuildInfo, len(ready.Guilds))
	dms := make(map[string]*core.DMChannel, len(ready.PrivateChannels))

	for _, g := range ready.Guilds {
		info := &core.GuildInfo{ID: g.ID, Name: g.displayName(), Icon: g.iconRef()}
		for _, raw := range g.Channels {
			ch, ok := normalizeChannel(raw)
			if !ok {
				continue
			}
			channelGuild[ch.ID] = g.ID
			channelName[ch.ID] = ch.Name
			if textCapable(ch.Type) {
				info.Channels = append(info.Channels, ch)
			}
		}
		for _, r := range g.Roles {
			if r.Name != "" {
				roleNames[r.ID] = r.Name
			}
		}
		guilds[g.ID] = info
	}

	for _, dm := range ready.PrivateChannels {
		entry := &core.DMChannel{ID: dm.ID}
		for _, u := range dm.Recipients {
			entry.Recipients = append(entry.Recipients, u.identity())
		}
		for _, id := range dm.RecipientIDs {
			if ident, ok := users[id]; ok {
				entry.Recipients = append(entry.Recipients, ident)
			} else {
				entry.Recipients = append(entry.Recipients, core.Identity{ID: id})
			}
		}
		dms[dm.ID] = entry
	}

	s.mu.Lock()
	s.sessionID = ready.SessionID
	if ready.ResumeGatewayURL != "" {
		s.resumeURL = ready.ResumeGatewayURL
	}
	s.channelGuild = channelGuild
	s.channelName = channelName
	s.roleNames = roleNames
	s.guilds = guilds
	s.dms = dms
	s.mu.Unlock()

	log.Printf("gateway[%s]: ready: %d guilds, %d dm channels", s.cfg.Tag, len(guilds), len(dms))
	s.emit(core.ReadyEvent{SessionTag: s.cfg.Tag})
}

// applyGuild merges a guild payload into the directories. A previously known
// non-empty channel list survives an update that carries none.
func (s *Session) applyGuild(d json.RawMessage) {
	var g guildPayload
	if err := json.Unmarshal(d, &g); err != nil || g.ID == "" {
		log.Printf("gateway[%s]: malformed guild payload: %v", s.cfg.Tag, err)
		return
	}

	var channels []core.ChannelInfo
	for _, raw := range g.Channels {
		if ch, ok := normalizeChannel(raw); ok {
			channels = append(channels, ch)
		}
	}

	s.mu.Lock()
	info := s.guilds[g.ID]
	if info == nil {
		info = &core.GuildInfo{ID: g.ID}
		s.guilds[g.ID] = info
	}
	if name := g.displayName(); name != "" {
		info.Name = name
	}
	if icon := g.iconRef(); icon != "" {
		info.Icon = icon
	}
	if len(channels) > 0 {
		var kept []core.ChannelInfo
		for _, ch := range channels {
			s.channelGuild[ch.ID] = g.ID
			s.channelName[ch.ID] = ch.Name
			if textCapable(ch.Type) {
				kept = append(kept, ch)
			}
		}
		if len(kept) > 0 {
			info.Channels = kept
		}
	}
	for _, r := range g.Roles {
		if r.Name != "" {
			s.roleNames[r.ID] = r.Name
		}
	}
	s.mu.Unlock()
}

func (s *Session) applyChannel(d json.RawMessage) {
	var ch channelPayload
	if err := json.Unmarshal(d, &ch); err != nil || ch.ID == "" {
		log.Printf("gateway[%s]: malformed channel payload: %v", s.cfg.Tag, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if ch.GuildID != "" {
		s.channelGuild[ch.ID] = ch.GuildID
		s.channelName[ch.ID] = ch.Name
		if info := s.guilds[ch.GuildID]; info != nil && textCapable(ch.Type) {
			found := false
			for i := range info.Channels {
				if info.Channels[i].ID == ch.ID {
					info.Channels[i].Name = ch.Name
					info.Channels[i].Type = ch.Type
					found = true
					break
				}
			}
			if !found {
				info.Channels = append(info.Channels, core.ChannelInfo{ID: ch.ID, Name: ch.Name, Type: ch.Type})
			}
		}
		return
	}

	if ch.Type == channelTypeDM || ch.Type == channelTypeGroupDM {
		entry := s.dms[ch.ID]
		if entry == nil {
			entry = &core.DMChannel{ID: ch.ID}
			s.dms[ch.ID] = entry
		}
		if len(ch.Recipients) > 0 {
			entry.Recipients = entry.Recipients[:0]
			for _, u := range ch.Recipients {
				entry.Recipients = append(entry.Recipients, u.identity())
			}
		}
	}
}

func (s *Session) applyReaction(d json.RawMessage, delta int) {
	var p reactionEventPayload
	if err := json.Unmarshal(d, &p); err != nil || p.MessageID == "" {
		log.Printf("gateway[%s]: malformed reaction payload: %v", s.cfg.Tag, err)
		return
	}
	s.emit(core.ReactionEvent{
		ChannelID: p.ChannelID,
		MessageID: p.MessageID,
		GuildID:   p.GuildID,
		EmojiID:   p.Emoji.ID,
		EmojiName: p.Emoji.Name,
		Delta:     delta,
	})
}

// decodeMessage normalizes a raw message payload, resolving guild id and
// display names through the directories.
func (s *Session) decodeMessage(d json.RawMessage) (core.Message, bool) {
	var p messagePayload
	if err := json.Unmarshal(d, &p); err != nil || p.ID == "" || p.ChannelID == "" {
		log.Printf("gateway[%s]: malformed message payload: %v", s.cfg.Tag, err)
		return core.Message{}, false
	}
	return s.normalizeMessage(p), true
}

func (s *Session) normalizeMessage(p messagePayload) core.Message {
	guildID := p.GuildID
	if guildID == "" {
		if mapped, ok := s.GuildForChannel(p.ChannelID); ok {
			guildID = mapped
		}
	}

	channelName := UnknownName
	if name, ok := s.ChannelName(p.ChannelID); ok {
		channelName = name
	}
	guildName := ""
	if guildID != "" {
		guildName = UnknownName
		if name, ok := s.GuildName(guildID); ok {
			guildName = name
		}
	}

	msg := core.Message{
		ID:          p.ID,
		ChannelID:   p.ChannelID,
		GuildID:     guildID,
		ChannelName: channelName,
		GuildName:   guildName,
		Author:      p.Author.identity(),
		Text:        p.Content,
		Timestamp:   parseTimestamp(p.Timestamp),
		Embeds:      p.Embeds,
	}

	for _, a := range p.Attachments {
		msg.Attachments = append(msg.Attachments, core.Attachment{
			URL:         a.URL,
			Filename:    a.Filename,
			ContentType: a.ContentType,
		})
	}
	for _, r := range p.Reactions {
		msg.Reactions = append(msg.Reactions, core.Reaction{
			EmojiID:   r.Emoji.ID,
			EmojiName: r.Emoji.Name,
			Count:     r.Count,
		})
	}

	if len(p.Mentions) > 0 || len(p.MentionRoles) > 0 {
		msg.Mentions = make(map[string]string)
		for _, u := range p.Mentions {
			msg.Mentions[u.ID] = displayName(u)
		}
		for _, id := range p.MentionRoles {
			if name, ok := s.RoleName(id); ok {
				msg.Mentions[id] = name
			}
		}
	}

	if ref := p.ReferencedMessage; ref != nil {
		parent := &core.Reference{
			MessageID: ref.ID,
			Author:    ref.Author.identity(),
			Text:      ref.Content,
		}
		if len(ref.Mentions) > 0 {
			parent.Mentions = make(map[string]string, len(ref.Mentions))
			for _, u := range ref.Mentions {
				parent.Mentions[u.ID] = displayName(u)
			}
		}
		msg.Reference = parent
	}

	return msg
}

func displayName(u userPayload) string {
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

func parseTimestamp(raw string) time.Time {
	if raw == "" {
		return time.Now().UTC()
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC()
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC()
	}
	return time.Now().UTC()
}

/***************
 * Directory queries
 ***************/

// Guilds returns a copy of this session's guild directory.
func (s *Session) Guilds() map[string]core.GuildInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]core.GuildInfo, len(s.guilds))
	for id, info := range s.guilds {
		copied := *info
		copied.Channels = append([]core.ChannelInfo(nil), info.Channels...)
		out[id] = copied
	}
	return out
}

// DMChannels returns a copy of this session's DM directory.
func (s *Session) DMChannels() map[string]core.DMChannel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]core.DMChannel, len(s.dms))
	for id, dm := range s.dms {
		copied := *dm
		copied.Recipients = append([]core.Identity(nil), dm.Recipients...)
		out[id] = copied
	}
	return out
}

func (s *Session) ChannelName(channelID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	name, ok := s.channelName[channelID]
	return name, ok && name != ""
}

func (s *Session) GuildForChannel(channelID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.channelGuild[channelID]
	return id, ok && id != ""
}

func (s *Session) GuildName(guildID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if info, ok := s.guilds[guildID]; ok && info.Name != "" {
		return info.Name, true
	}
	return "", false
}

func (s *Session) RoleName(roleID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	name, ok := s.roleNames[roleID]
	return name, ok && name != ""
}

// Knows reports whether this session can see the channel, through guild
// membership or a DM entry.
func (s *Session) Knows(channelID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.channelGuild[channelID]; ok {
		return true
	}
	_, ok := s.dms[channelID]
	return ok
}
