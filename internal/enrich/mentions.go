package enrich

import (
	"regexp"

	"github.com/DanielHighETH/trenchcord-sub000/internal/core"
	"github.com/DanielHighETH/trenchcord-sub000/internal/gateway"
)

var (
	channelMentionRe = regexp.MustCompile(`<#(\d+)>`)
	roleMentionRe    = regexp.MustCompile(`<@&(\d+)>`)
)

// ResolveMentions returns the message's mention map extended with channel
// and role mentions found inline in the text. Payload mention lists omit
// those kinds, so a second pass over the raw text fills them in from the
// session directories. Ids the directories cannot resolve are left out.
func ResolveMentions(msg core.Message, dir Directory) map[string]string {
	out := make(map[string]string, len(msg.Mentions))
	for id, name := range msg.Mentions {
		out[id] = name
	}
	if dir == nil {
		return out
	}
	for _, m := range channelMentionRe.FindAllStringSubmatch(msg.Text, -1) {
		id := m[1]
		if _, ok := out[id]; ok {
			continue
		}
		if name := dir.ChannelName(id); name != gateway.UnknownName {
			out[id] = name
		}
	}
	for _, m := range roleMentionRe.FindAllStringSubmatch(msg.Text, -1) {
		id := m[1]
		if _, ok := out[id]; ok {
			continue
		}
		if name := dir.RoleName(id); name != gateway.UnknownName {
			out[id] = name
		}
	}
	return out
}
