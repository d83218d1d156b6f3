package skeleton

import (
	"encoding/json"
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
)

// OffsetKind names one tunable bone-length parameter of the rig (§3 Glossary:
// "Skeleton config").
type OffsetKind int

const (
	HeadLength OffsetKind = iota
	NeckLength
	WaistLength
	ChestLength
	UpperChestLength
	HipsWidth
	UpperLegLength
	LowerLegLength
	ShouldersWidth
	ShoulderOffset
	UpperArmLength
	LowerArmLength
	FootLength
	HandLength

	offsetKindCount
)

// offsetKindNames gives each OffsetKind its snake_case wire name, matching
// the key convention used by every other field in internal/config.GlobalConfig.
var offsetKindNames = [offsetKindCount]string{
	HeadLength:       "head_length",
	NeckLength:       "neck_length",
	WaistLength:      "waist_length",
	ChestLength:      "chest_length",
	UpperChestLength: "upper_chest_length",
	HipsWidth:        "hips_width",
	UpperLegLength:   "upper_leg_length",
	LowerLegLength:   "lower_leg_length",
	ShouldersWidth:   "shoulders_width",
	ShoulderOffset:   "shoulder_offset",
	UpperArmLength:   "upper_arm_length",
	LowerArmLength:   "lower_arm_length",
	FootLength:       "foot_length",
	HandLength:       "hand_length",
}

func (k OffsetKind) String() string {
	return offsetKindNames[k]
}

// Config holds the rig's proportions. UserHeight drives UpdateHeight's
// uniform rescale of every offset.
type Config struct {
	Offsets    [offsetKindCount]float64
	UserHeight float64
}

// configWire is Config's wire shape: a name-keyed offsets map rather than a
// positional array, matching spec §3's "mapping from bone-offset-kind ...
// to a floating-point length" and the snake_case convention the rest of
// GlobalConfig uses.
type configWire struct {
	Offsets    map[string]float64 `json:"offsets"`
	UserHeight float64            `json:"user_height"`
}

// MarshalJSON encodes Offsets as a name-keyed map instead of a positional array.
func (c Config) MarshalJSON() ([]byte, error) {
	w := configWire{
		Offsets:    make(map[string]float64, offsetKindCount),
		UserHeight: c.UserHeight,
	}
	for k := OffsetKind(0); k < offsetKindCount; k++ {
		w.Offsets[k.String()] = c.Offsets[k]
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a name-keyed offsets map back into the fixed array,
// rejecting any key that doesn't name a known OffsetKind.
func (c *Config) UnmarshalJSON(data []byte) error {
	var w configWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	c.UserHeight = w.UserHeight
	for name, v := range w.Offsets {
		k, ok := offsetKindByName(name)
		if !ok {
			return fmt.Errorf("skeleton config: unknown offset %q", name)
		}
		c.Offsets[k] = v
	}
	return nil
}

func offsetKindByName(name string) (OffsetKind, bool) {
	for k := OffsetKind(0); k < offsetKindCount; k++ {
		if offsetKindNames[k] == name {
			return k, true
		}
	}
	return 0, false
}

// DefaultConfig returns a proportionally plausible adult rig, in meters.
func DefaultConfig() Config {
	c := Config{UserHeight: 1.7}
	c.Offsets[HeadLength] = 0.22
	c.Offsets[NeckLength] = 0.08
	c.Offsets[WaistLength] = 0.20
	c.Offsets[ChestLength] = 0.12
	c.Offsets[UpperChestLength] = 0.12
	c.Offsets[HipsWidth] = 0.26
	c.Offsets[UpperLegLength] = 0.44
	c.Offsets[LowerLegLength] = 0.42
	c.Offsets[ShouldersWidth] = 0.34
	c.Offsets[ShoulderOffset] = 0.04
	c.Offsets[UpperArmLength] = 0.28
	c.Offsets[LowerArmLength] = 0.26
	c.Offsets[FootLength] = 0.15
	c.Offsets[HandLength] = 0.18
	return c
}

// spinePath lists, root-to-head, the offset kinds that make up the segment
// between each consecutive spine bone. Their sum is the invariant UpdateHeight
// maintains against UserHeight.
var spinePath = [5]OffsetKind{WaistLength, ChestLength, UpperChestLength, NeckLength, HeadLength}

func spineSum(offsets [offsetKindCount]float64) float64 {
	sum := 0.0
	for _, k := range spinePath {
		sum += offsets[k]
	}
	return sum
}

// UpdateHeight uniformly rescales every offset so the spine-to-head path sums
// to UserHeight, preserving the rig's existing proportions.
func (c *Config) UpdateHeight() {
	sum := spineSum(c.Offsets)
	if sum <= 0 {
		return
	}
	factor := c.UserHeight / sum
	for i := range c.Offsets {
		c.Offsets[i] *= factor
	}
}

// LegLength is the vertical distance from the ground to the hip, used to
// place the root bone at the start of a solve (§4.E).
func (c *Config) LegLength() float64 {
	return c.Offsets[UpperLegLength] + c.Offsets[LowerLegLength]
}

// Apply recomputes every bone's TailOffset from the offsets map (§4.E
// "Skeleton config apply"). Left/right pairs mirror across X.
func (c *Config) Apply(bones *[boneCount]Bone) {
	o := c.Offsets

	bones[Hip].TailOffset = mgl64.Vec3{0, o[WaistLength], 0}
	bones[Waist].TailOffset = mgl64.Vec3{0, o[ChestLength], 0}
	bones[Chest].TailOffset = mgl64.Vec3{0, o[UpperChestLength], 0}
	bones[UpperChest].TailOffset = mgl64.Vec3{0, o[NeckLength], 0}
	bones[Neck].TailOffset = mgl64.Vec3{0, o[HeadLength], 0}
	bones[Head].TailOffset = mgl64.Vec3{0, 0, 0}

	bones[LeftHip].TailOffset = mgl64.Vec3{-o[HipsWidth] / 2, 0, 0}
	bones[RightHip].TailOffset = mgl64.Vec3{o[HipsWidth] / 2, 0, 0}

	bones[LeftUpperLeg].TailOffset = mgl64.Vec3{0, -o[UpperLegLength], 0}
	bones[RightUpperLeg].TailOffset = mgl64.Vec3{0, -o[UpperLegLength], 0}
	bones[LeftLowerLeg].TailOffset = mgl64.Vec3{0, -o[LowerLegLength], 0}
	bones[RightLowerLeg].TailOffset = mgl64.Vec3{0, -o[LowerLegLength], 0}
	bones[LeftFoot].TailOffset = mgl64.Vec3{0, 0, o[FootLength]}
	bones[RightFoot].TailOffset = mgl64.Vec3{0, 0, o[FootLength]}

	bones[LeftShoulder].TailOffset = mgl64.Vec3{-o[ShouldersWidth] / 2, o[ShoulderOffset], 0}
	bones[RightShoulder].TailOffset = mgl64.Vec3{o[ShouldersWidth] / 2, o[ShoulderOffset], 0}
	bones[LeftUpperArm].TailOffset = mgl64.Vec3{-o[UpperArmLength], 0, 0}
	bones[RightUpperArm].TailOffset = mgl64.Vec3{o[UpperArmLength], 0, 0}
	bones[LeftLowerArm].TailOffset = mgl64.Vec3{-o[LowerArmLength], 0, 0}
	bones[RightLowerArm].TailOffset = mgl64.Vec3{o[LowerArmLength], 0, 0}
	bones[LeftHand].TailOffset = mgl64.Vec3{-o[HandLength], 0, 0}
	bones[RightHand].TailOffset = mgl64.Vec3{o[HandLength], 0, 0}
}
