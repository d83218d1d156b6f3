package skeleton

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/Calbabreaker/micap/pkg/registry"
)

// fallbackEntry is one row of the orientation resolution table described in
// §4.E: a bone, the ordered tracker locations to search, and what to fall
// back to when none of them are assigned. Default of -1 (noDefault) means identity.
type fallbackEntry struct {
	Bone      ID
	Locations []registry.BoneLocation
	Default   ID
}

const noDefault ID = -1

// traversalOrder lists every bone parent-before-child, matching the fixed
// tree in bone.go. Root (Hip) is first and has no incoming edge to resolve.
var traversalOrder = []ID{
	Hip, Waist, Chest, UpperChest, Neck, Head,
	LeftHip, LeftUpperLeg, LeftLowerLeg, LeftFoot,
	RightHip, RightUpperLeg, RightLowerLeg, RightFoot,
	LeftShoulder, LeftUpperArm, LeftLowerArm, LeftHand,
	RightShoulder, RightUpperArm, RightLowerArm, RightHand,
}

// spineFallback is consulted for every spine region except Hip, which is
// handled separately because its result is yaw-locked afterward.
var spineFallback = []fallbackEntry{
	{Bone: UpperChest, Locations: []registry.BoneLocation{
		registry.LocationUpperChest, registry.LocationChest, registry.LocationWaist, registry.LocationHip,
	}, Default: noDefault},
	{Bone: Chest, Locations: []registry.BoneLocation{
		registry.LocationChest, registry.LocationUpperChest, registry.LocationWaist, registry.LocationHip,
	}, Default: noDefault},
	{Bone: Waist, Locations: []registry.BoneLocation{
		registry.LocationWaist, registry.LocationHip, registry.LocationChest, registry.LocationUpperChest,
	}, Default: noDefault},
}

var headNeckLocations = []registry.BoneLocation{
	registry.LocationHead, registry.LocationNeck, registry.LocationUpperChest,
	registry.LocationChest, registry.LocationWaist, registry.LocationHip,
}

var hipLocations = []registry.BoneLocation{
	registry.LocationHip, registry.LocationUpperChest, registry.LocationWaist, registry.LocationChest,
}

var limbFallback = []fallbackEntry{
	{Bone: LeftUpperLeg, Locations: []registry.BoneLocation{registry.LocationLeftUpperLeg}, Default: Hip},
	{Bone: LeftLowerLeg, Locations: []registry.BoneLocation{registry.LocationLeftLowerLeg}, Default: LeftUpperLeg},
	{Bone: LeftFoot, Locations: []registry.BoneLocation{registry.LocationLeftFoot}, Default: LeftLowerLeg},

	{Bone: RightUpperLeg, Locations: []registry.BoneLocation{registry.LocationRightUpperLeg}, Default: Hip},
	{Bone: RightLowerLeg, Locations: []registry.BoneLocation{registry.LocationRightLowerLeg}, Default: RightUpperLeg},
	{Bone: RightFoot, Locations: []registry.BoneLocation{registry.LocationRightFoot}, Default: RightLowerLeg},

	{Bone: LeftShoulder, Locations: []registry.BoneLocation{registry.LocationLeftShoulder}, Default: UpperChest},
	{Bone: LeftUpperArm, Locations: []registry.BoneLocation{registry.LocationLeftUpperArm}, Default: LeftShoulder},
	{Bone: LeftLowerArm, Locations: []registry.BoneLocation{registry.LocationLeftLowerArm}, Default: LeftUpperArm},
	{Bone: LeftHand, Locations: []registry.BoneLocation{registry.LocationLeftHand}, Default: LeftLowerArm},

	{Bone: RightShoulder, Locations: []registry.BoneLocation{registry.LocationRightShoulder}, Default: UpperChest},
	{Bone: RightUpperArm, Locations: []registry.BoneLocation{registry.LocationRightUpperArm}, Default: RightShoulder},
	{Bone: RightLowerArm, Locations: []registry.BoneLocation{registry.LocationRightLowerArm}, Default: RightUpperArm},
	{Bone: RightHand, Locations: []registry.BoneLocation{registry.LocationRightHand}, Default: RightLowerArm},
}

// Solver holds the fixed bone tree, its current proportions, and the
// tracker-location assignment rebuilt on every config change.
type Solver struct {
	bones      [boneCount]Bone
	cfg        Config
	assignment map[registry.BoneLocation]*registry.Tracker
}

// New builds a solver with bones sized per cfg.
func New(cfg Config) *Solver {
	s := &Solver{
		bones:      newBones(),
		cfg:        cfg,
		assignment: make(map[registry.BoneLocation]*registry.Tracker),
	}
	cfg.Apply(&s.bones)
	return s
}

// Bones returns the current bone slice in traversal order, for publishers.
func (s *Solver) Bones() [boneCount]Bone {
	return s.bones
}

// ApplySkeletonConfig implements §4.E "Skeleton config apply": scales the
// offsets to the configured height then recomputes every tail offset.
func (s *Solver) ApplySkeletonConfig(cfg Config) {
	cfg.UpdateHeight()
	s.cfg = cfg
	cfg.Apply(&s.bones)
}

// AssignTrackers rebuilds the bone-location → tracker-handle map from the
// subset of trackers with a non-empty Location, per §4.E.
func (s *Solver) AssignTrackers(trackers []*registry.Tracker) {
	assignment := make(map[registry.BoneLocation]*registry.Tracker, len(trackers))
	for _, t := range trackers {
		if loc := t.Location; loc != registry.LocationNone {
			assignment[loc] = t
		}
	}
	s.assignment = assignment
}

func (s *Solver) resolve(locs []registry.BoneLocation) (mgl64.Quat, bool) {
	for _, loc := range locs {
		if t, ok := s.assignment[loc]; ok {
			return t.Data().Orientation, true
		}
	}
	return mgl64.QuatIdent(), false
}

// Solve resolves every bone's orientation (§4.E "Orientation resolution")
// then runs the forward-kinematics traversal.
func (s *Solver) Solve() {
	s.resolveOrientations()
	s.forwardKinematics()
}

func (s *Solver) resolveOrientations() {
	torsoPresent := false
	for _, loc := range []registry.BoneLocation{
		registry.LocationHip, registry.LocationWaist, registry.LocationChest, registry.LocationUpperChest,
	} {
		if _, ok := s.assignment[loc]; ok {
			torsoPresent = true
			break
		}
	}

	if !torsoPresent {
		headQuat, _ := s.resolve(headNeckLocations)
		yaw := yawOnly(headQuat)
		s.bones[Hip].LocalOrientation = yaw
		s.bones[Waist].LocalOrientation = yaw
		s.bones[Chest].LocalOrientation = yaw
		s.bones[UpperChest].LocalOrientation = yaw
	} else {
		hipQuat, _ := s.resolve(hipLocations)
		s.bones[Hip].LocalOrientation = yawOnly(hipQuat)
		for _, entry := range spineFallback {
			quat, _ := s.resolve(entry.Locations)
			s.bones[entry.Bone].LocalOrientation = quat
		}
	}

	headQuat, _ := s.resolve(headNeckLocations)
	s.bones[Head].LocalOrientation = headQuat
	s.bones[Neck].LocalOrientation = headQuat

	for _, entry := range limbFallback {
		quat, found := s.resolve(entry.Locations)
		if !found {
			quat = s.bones[entry.Default].LocalOrientation
		}
		s.bones[entry.Bone].LocalOrientation = quat
	}

	s.bones[LeftHip].LocalOrientation = mgl64.QuatIdent()
	s.bones[RightHip].LocalOrientation = mgl64.QuatIdent()
}

// yawOnly projects a quaternion onto a pure rotation about the Y axis,
// discarding pitch and roll (§4.E "Yaw-only lock").
func yawOnly(q mgl64.Quat) mgl64.Quat {
	x, y, z, w := q.V[0], q.V[1], q.V[2], q.W
	yaw := math.Atan2(2*(w*y+x*z), 1-2*(x*x+y*y))
	return mgl64.QuatRotate(yaw, mgl64.Vec3{0, 1, 0})
}

func (s *Solver) forwardKinematics() {
	root := &s.bones[Hip]
	root.WorldOrientation = root.LocalOrientation
	root.WorldHeadPos = mgl64.Vec3{0, s.cfg.LegLength(), 0}
	root.WorldTailPos = root.WorldHeadPos.Add(root.WorldOrientation.Rotate(root.TailOffset))

	for _, id := range traversalOrder[1:] {
		bone := &s.bones[id]
		parent := &s.bones[bone.Parent]

		bone.WorldOrientation = parent.WorldOrientation.Mul(bone.LocalOrientation)
		bone.WorldHeadPos = parent.WorldTailPos
		bone.WorldTailPos = bone.WorldHeadPos.Add(bone.WorldOrientation.Rotate(bone.TailOffset))
	}
}
