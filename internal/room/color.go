package room

import (
	"math/rand"

	"github.com/shehab06/EchoSync-Multiplayer-Game-Protocol/pkg/wire"
)

// RandomColorPicker returns a collision-resampling color picker backed
// by r: each channel is drawn uniformly from [50, 255], and the draw is
// repeated whenever it collides with an already-taken color in the
// room. This implements the §9 open question's "resample until unique"
// resolution rather than a deterministic lowest-free-index scheme,
// matching the prototype's behavior.
func RandomColorPicker(r *rand.Rand) func(taken map[wire.Color]bool) wire.Color {
	return func(taken map[wire.Color]bool) wire.Color {
		for {
			c := wire.Color{
				R: byte(50 + r.Intn(206)),
				G: byte(50 + r.Intn(206)),
				B: byte(50 + r.Intn(206)),
			}
			if !taken[c] {
				return c
			}
		}
	}
}
