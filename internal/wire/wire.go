// Package wire defines the entity and status payloads pushed to monitor
// clients, and serializes each payload once into both JSON and protobuf.
//
// The protobuf form is a google.protobuf.Struct carrying the same fields as
// the JSON form, so browser clients decode either with stock tooling.
package wire

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/vision-hud/internal/hud"
	"github.com/dj-oyu/vision-hud/internal/tracker"
	"github.com/dj-oyu/vision-hud/pkg/types"
)

// Event is a payload serialized in both supported formats.
type Event struct {
	JSON     []byte
	Protobuf []byte
}

// ProtobufBase64 returns the protobuf form encoded for text transports such
// as SSE.
func (e *Event) ProtobufBase64() []byte {
	out := make([]byte, base64.StdEncoding.EncodedLen(len(e.Protobuf)))
	base64.StdEncoding.Encode(out, e.Protobuf)
	return out
}

// Encode serializes v, which must marshal to a JSON object.
func Encode(v any) (*Event, error) {
	jsonData, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json marshal: %w", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(jsonData, &fields); err != nil {
		return nil, fmt.Errorf("payload is not an object: %w", err)
	}
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("build struct: %w", err)
	}
	pbData, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("protobuf marshal: %w", err)
	}
	return &Event{JSON: jsonData, Protobuf: pbData}, nil
}

// DecodeProtobuf parses the protobuf form back into generic fields.
func DecodeProtobuf(data []byte) (map[string]any, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	return st.AsMap(), nil
}

// Box is a rectangle in frame pixels.
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

func box(b types.Box) Box {
	return Box{X: b.X, Y: b.Y, W: b.W, H: b.H}
}

// Profile identifies the target profile linked to an entity.
type Profile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Entity is the client view of a tracked entity.
type Entity struct {
	ID          int      `json:"id"`
	Label       string   `json:"label"`
	Class       string   `json:"class"`
	Confidence  float64  `json:"confidence"`
	State       string   `json:"state"`
	Life        int      `json:"life"`
	Box         Box      `json:"box"`
	Raw         Box      `json:"raw"`
	VX          float64  `json:"vx"`
	VY          float64  `json:"vy"`
	Moving      bool     `json:"moving"`
	Threat      int      `json:"threat"`
	Tier        string   `json:"tier"`
	Distance    float64  `json:"distance_m"`
	Description string   `json:"description,omitempty"`
	Analyzing   bool     `json:"analyzing"`
	AgeMs       int64    `json:"age_ms"`
	Profile     *Profile `json:"profile,omitempty"`
}

// EntitiesEvent is one snapshot of the tracker.
type EntitiesEvent struct {
	Timestamp float64  `json:"timestamp"`
	Mode      string   `json:"mode"`
	Entities  []Entity `json:"entities"`
}

// NewEntitiesEvent converts a tracker snapshot taken at now. Distances use
// the HUD's width-based estimate with distanceScale.
func NewEntitiesEvent(entities []tracker.Entity, mode hud.Mode, now time.Time, distanceScale float64) EntitiesEvent {
	out := EntitiesEvent{
		Timestamp: float64(now.UnixNano()) / 1e9,
		Mode:      mode.String(),
		Entities:  make([]Entity, len(entities)),
	}
	for i, e := range entities {
		v := Entity{
			ID:          e.ID,
			Label:       e.Label,
			Class:       e.Class,
			Confidence:  e.Confidence,
			State:       e.State.String(),
			Life:        e.Life,
			Box:         box(e.Smooth),
			Raw:         box(e.Raw),
			VX:          e.VX,
			VY:          e.VY,
			Moving:      e.Moving,
			Threat:      e.Threat,
			Tier:        hud.TierOf(e.Threat).String(),
			Distance:    hud.EstimateDistance(e.Smooth.W, distanceScale),
			Description: e.Description,
			Analyzing:   e.Analyzing,
			AgeMs:       e.Age(now).Milliseconds(),
		}
		if e.Profile != nil {
			v.Profile = &Profile{ID: e.Profile.ID, Name: e.Profile.Name}
		}
		out.Entities[i] = v
	}
	return out
}
