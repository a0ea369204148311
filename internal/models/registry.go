// Package models lists the exposed model ids and maps each onto the token
// pool it draws from and the quota effort one call costs.
package models

import (
	"strings"

	"grok2api-go/internal/credential"
)

// Tier picks the token pool.
type Tier string

const (
	TierBasic Tier = "basic"
	TierSuper Tier = "super"
)

// 号池名与 token 文档里的 key 一致
const (
	PoolBasic = "ssoBasic"
	PoolSuper = "ssoSuper"
)

// DefaultImageModel is used when an image request names no model.
const DefaultImageModel = "grok-imagine-1.0"

// Info describes one exposed model.
type Info struct {
	ID          string            `json:"id"`
	GrokModel   string            `json:"grok_model"`
	Mode        string            `json:"model_mode"`
	Tier        Tier              `json:"tier"`
	Cost        credential.Effort `json:"cost"`
	DisplayName string            `json:"display_name"`
	Description string            `json:"description,omitempty"`
	IsImage     bool              `json:"is_image"`
	IsVideo     bool              `json:"is_video"`
}

// Pool returns the token pool this model draws from.
func (i Info) Pool() string {
	if i.Tier == TierSuper {
		return PoolSuper
	}
	return PoolBasic
}

func basic(id, grok, mode, display string) Info {
	return Info{ID: id, GrokModel: grok, Mode: mode, Tier: TierBasic, Cost: credential.EffortLow, DisplayName: display}
}

var registry = func() []Info {
	heavy := basic("grok-4-heavy", "grok-4", "MODEL_MODE_HEAVY", "Grok 4 Heavy")
	heavy.Tier, heavy.Cost = TierSuper, credential.EffortHigh

	thinking := basic("grok-4.1-thinking", "grok-4-1-thinking-1129", "MODEL_MODE_GROK_4_1_THINKING", "Grok 4.1 Thinking")
	thinking.Cost = credential.EffortHigh

	image := basic(DefaultImageModel, "grok-3", "MODEL_MODE_FAST", "Grok Image")
	image.Cost, image.IsImage, image.Description = credential.EffortHigh, true, "Image generation model"

	video := basic("grok-imagine-1.0-video", "grok-3", "MODEL_MODE_FAST", "Grok Video")
	video.Cost, video.IsVideo, video.Description = credential.EffortHigh, true, "Video generation model"

	return []Info{
		basic("grok-3", "grok-3", "MODEL_MODE_AUTO", "Grok 3"),
		basic("grok-3-fast", "grok-3", "MODEL_MODE_FAST", "Grok 3 Fast"),
		basic("grok-4", "grok-4", "MODEL_MODE_AUTO", "Grok 4"),
		basic("grok-4-mini", "grok-4-mini-thinking-tahoe", "MODEL_MODE_GROK_4_MINI_THINKING", "Grok 4 Mini"),
		basic("grok-4-fast", "grok-4", "MODEL_MODE_FAST", "Grok 4 Fast"),
		heavy,
		basic("grok-4.1", "grok-4-1-thinking-1129", "MODEL_MODE_AUTO", "Grok 4.1"),
		thinking,
		image,
		video,
	}
}()

// List returns every model in display order.
func List() []Info {
	return append([]Info(nil), registry...)
}

// Get looks up a model by id (case-insensitive, trimmed).
func Get(id string) (Info, bool) {
	id = strings.ToLower(strings.TrimSpace(id))
	for _, m := range registry {
		if m.ID == id {
			return m, true
		}
	}
	return Info{}, false
}

// PoolFor returns the pool for id; unknown models use the basic pool.
func PoolFor(id string) string {
	if m, ok := Get(id); ok {
		return m.Pool()
	}
	return PoolBasic
}

// EffortFor returns the quota effort for id; unknown models cost Low.
func EffortFor(id string) credential.Effort {
	if m, ok := Get(id); ok {
		return m.Cost
	}
	return credential.EffortLow
}
