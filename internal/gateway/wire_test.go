package gateway

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/DanielHighETH/trenchcord-sub000/internal/core"
)

func TestNormalizeChannel(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want core.ChannelInfo
		ok   bool
	}{
		{
			name: "plain record",
			raw:  `{"id":"111","name":"general","type":0}`,
			want: core.ChannelInfo{ID: "111", Name: "general", Type: 0},
			ok:   true,
		},
		{
			name: "positional tuple",
			raw:  `["222","alpha",5]`,
			want: core.ChannelInfo{ID: "222", Name: "alpha", Type: 5},
			ok:   true,
		},
		{
			name: "numeric id tuple",
			raw:  `[333,"beta",0]`,
			want: core.ChannelInfo{ID: "333", Name: "beta", Type: 0},
			ok:   true,
		},
		{
			name: "tuple missing trailing fields",
			raw:  `["444"]`,
			want: core.ChannelInfo{ID: "444"},
			ok:   true,
		},
		{name: "record without id", raw: `{"name":"x"}`},
		{name: "empty array", raw: `[]`},
		{name: "scalar", raw: `"just-a-string"`},
		{name: "garbage", raw: `{{`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, ok := normalizeChannel(json.RawMessage(tt.raw))
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("channel = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestTextCapable(t *testing.T) {
	for _, typ := range []int{channelTypeGuildText, channelTypeAnnouncement} {
		if !textCapable(typ) {
			t.Fatalf("type %d should be text capable", typ)
		}
	}
	for _, typ := range []int{2, 4, 13} {
		if textCapable(typ) {
			t.Fatalf("type %d should not be text capable", typ)
		}
	}
}
