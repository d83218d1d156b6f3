package wsctl

import (
	"encoding/json"

	"github.com/Calbabreaker/micap/internal/config"
	"github.com/Calbabreaker/micap/pkg/registry"
	"github.com/Calbabreaker/micap/pkg/skeleton"
)

// TrackerSnapshot is the wire shape of a tracker's current state, sent in
// InitialState and TrackerUpdate messages.
type TrackerSnapshot struct {
	ID       string               `json:"id"`
	Name     string               `json:"name"`
	Location registry.BoneLocation `json:"location"`
	Status   string               `json:"status"`
	Battery  float64              `json:"battery"`
	Address  string               `json:"address"`
}

func snapshotOf(t *registry.Tracker) TrackerSnapshot {
	info := t.Info()
	return TrackerSnapshot{
		ID:       t.ID,
		Name:     t.Name,
		Location: t.Location,
		Status:   info.Status.String(),
		Battery:  info.Battery,
		Address:  info.Address,
	}
}

// BoneSnapshot is the wire shape of a single solved bone, sent in
// SkeletonUpdate bursts.
type BoneSnapshot struct {
	Name        string     `json:"name"`
	WorldPos    [3]float64 `json:"world_pos"`
	WorldOrient [4]float64 `json:"world_orient"`
}

// outbound message type tags, matching the `type` discriminator field.
const (
	typeInitialState      = "InitialState"
	typeTrackerUpdate     = "TrackerUpdate"
	typeSkeletonUpdate    = "SkeletonUpdate"
	typeConfigUpdate      = "ConfigUpdate"
	typeSerialLog         = "SerialLog"
	typeSerialPortChanged = "SerialPortChanged"
	typeError             = "Error"
)

// envelope wraps any outbound payload with its type tag for the client's
// tagged-union dispatch.
type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func marshalEnvelope(typ string, data any) ([]byte, error) {
	return json.Marshal(envelope{Type: typ, Data: data})
}

// initialStatePayload is sent once, right after a connection is accepted.
type initialStatePayload struct {
	Config        *config.GlobalConfig `json:"config"`
	DefaultConfig *config.GlobalConfig `json:"default_config"`
	SerialPort    string               `json:"serial_port,omitempty"`
	Trackers      []TrackerSnapshot    `json:"trackers"`
}

// inbound message shapes, discriminated by the same `type` field.
type inboundEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type serialSendPayload struct {
	Data []byte `json:"data"`
}

type removeTrackerPayload struct {
	ID string `json:"id"`
}

type updateConfigPayload struct {
	Config config.GlobalConfig `json:"config"`
}

// boneUnityName returns the bone's display name for the skeleton burst;
// unlike VMC's AsUnityName it includes the two internal hinges, since the UI
// renders the full rig rather than driving a Unity avatar.
func boneUnityName(id skeleton.ID) string {
	return id.String()
}
