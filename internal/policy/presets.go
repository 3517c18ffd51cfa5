package policy

import "github.com/eliteGoblin/focusd/site_mon/internal/domain"

// listPreset is a Preset backed by a static list.
type listPreset struct {
	id       string
	name     string
	patterns []string
}

func (p *listPreset) ID() string               { return p.id }
func (p *listPreset) Name() string             { return p.name }
func (p *listPreset) Patterns() []string       { return p.patterns }
func (p *listPreset) DefaultMode() domain.Mode { return domain.ModeDeny }

// NewGamingPreset blocks game stores and launchers' web front-ends.
// Steam and Dota 2 are the same targets appmon removes from disk.
func NewGamingPreset() Preset {
	return &listPreset{
		id:   "gaming",
		name: "Gaming",
		patterns: []string{
			"*.steampowered.com",
			"*.steamcommunity.com",
			"*.steamstatic.com",
			"*.dota2.com",
			"*.epicgames.com",
			"*.twitch.tv",
		},
	}
}

// NewSocialPreset blocks the usual social feeds.
func NewSocialPreset() Preset {
	return &listPreset{
		id:   "social",
		name: "Social media",
		patterns: []string{
			"*.facebook.com",
			"*.instagram.com",
			"*.x.com",
			"*.twitter.com",
			"*.reddit.com",
			"*.tiktok.com",
		},
	}
}

// NewVideoPreset blocks video streaming sites.
func NewVideoPreset() Preset {
	return &listPreset{
		id:   "video",
		name: "Video streaming",
		patterns: []string{
			"*.youtube.com",
			"youtu.be",
			"*.netflix.com",
			"*.bilibili.com",
			"*.nicovideo.jp",
		},
	}
}

// Ensure listPreset implements Preset.
var _ Preset = (*listPreset)(nil)
