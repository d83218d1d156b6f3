// Package skeleton implements the fixed humanoid bone hierarchy, the
// tracker-to-bone assignment and orientation fallback policy, and the
// forward-kinematics traversal that turns tracker samples into world-space
// bone poses (§4.E).
package skeleton

import "github.com/go-gl/mathgl/mgl64"

// ID names a single bone slot in the fixed hierarchy. The tree has 22 bones;
// two of them (LeftHip, RightHip) are zero-length hinges with no Unity-side
// equivalent and are never emitted to VMC.
type ID int

const (
	Hip ID = iota
	Waist
	Chest
	UpperChest
	Neck
	Head
	LeftHip
	LeftUpperLeg
	LeftLowerLeg
	LeftFoot
	RightHip
	RightUpperLeg
	RightLowerLeg
	RightFoot
	LeftShoulder
	LeftUpperArm
	LeftLowerArm
	LeftHand
	RightShoulder
	RightUpperArm
	RightLowerArm
	RightHand

	boneCount
)

// NumBones is the fixed size of the bone tree, exported so publishers and
// tests can size arrays without hardcoding the count.
const NumBones = int(boneCount)

var boneNames = [boneCount]string{
	Hip:            "Hip",
	Waist:          "Waist",
	Chest:          "Chest",
	UpperChest:     "UpperChest",
	Neck:           "Neck",
	Head:           "Head",
	LeftHip:        "LeftHip",
	LeftUpperLeg:   "LeftUpperLeg",
	LeftLowerLeg:   "LeftLowerLeg",
	LeftFoot:       "LeftFoot",
	RightHip:       "RightHip",
	RightUpperLeg:  "RightUpperLeg",
	RightLowerLeg:  "RightLowerLeg",
	RightFoot:      "RightFoot",
	LeftShoulder:   "LeftShoulder",
	LeftUpperArm:   "LeftUpperArm",
	LeftLowerArm:   "LeftLowerArm",
	LeftHand:       "LeftHand",
	RightShoulder:  "RightShoulder",
	RightUpperArm:  "RightUpperArm",
	RightLowerArm:  "RightLowerArm",
	RightHand:      "RightHand",
}

// String returns the bone's enum name, used both for logs and as the
// fallback Unity bone name (AsUnityName overrides the two special cases).
func (id ID) String() string {
	if id < 0 || id >= boneCount {
		return "Unknown"
	}
	return boneNames[id]
}

// AsUnityName returns the name VMC expects for this bone, or "", false for
// the two internal hinges that have no Unity humanoid equivalent.
func (id ID) AsUnityName() (string, bool) {
	switch id {
	case LeftHip, RightHip:
		return "", false
	case Hip:
		return "Hips", true
	case Waist:
		return "Spine", true
	default:
		return id.String(), true
	}
}

var parents = [boneCount]ID{
	Hip:           Hip, // root is its own parent; traversal special-cases it
	Waist:         Hip,
	Chest:         Waist,
	UpperChest:    Chest,
	Neck:          UpperChest,
	Head:          Neck,
	LeftHip:       Hip,
	LeftUpperLeg:  LeftHip,
	LeftLowerLeg:  LeftUpperLeg,
	LeftFoot:      LeftLowerLeg,
	RightHip:      Hip,
	RightUpperLeg: RightHip,
	RightLowerLeg: RightUpperLeg,
	RightFoot:     RightLowerLeg,
	LeftShoulder:  UpperChest,
	LeftUpperArm:  LeftShoulder,
	LeftLowerArm:  LeftUpperArm,
	LeftHand:      LeftLowerArm,
	RightShoulder: UpperChest,
	RightUpperArm: RightShoulder,
	RightLowerArm: RightUpperArm,
	RightHand:     RightLowerArm,
}

// Bone is a single node of the humanoid tree. TailOffset is set by
// ApplySkeletonConfig; the orientation and position fields are recomputed
// every solve tick.
type Bone struct {
	ID         ID
	Parent     ID
	TailOffset mgl64.Vec3

	LocalOrientation mgl64.Quat
	WorldOrientation mgl64.Quat
	WorldHeadPos     mgl64.Vec3
	WorldTailPos     mgl64.Vec3
}

func newBones() [boneCount]Bone {
	var bones [boneCount]Bone
	for id := ID(0); id < boneCount; id++ {
		bones[id] = Bone{
			ID:               id,
			Parent:           parents[id],
			LocalOrientation: mgl64.QuatIdent(),
			WorldOrientation: mgl64.QuatIdent(),
		}
	}
	return bones
}
