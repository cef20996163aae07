package webmonitor

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/wefit/rep-counter/internal/session"
)

// StatusPayload is the JSON shape of /api/status and status stream events.
// derived_angle is null until the first observed frame.
func StatusPayload(v session.View, now time.Time) map[string]any {
	var angle any
	if v.HasAngle {
		angle = v.DerivedAngle
	}
	return map[string]any{
		"session_id":    v.SessionID,
		"reps":          v.Count,
		"derived_angle": angle,
		"phase":         v.Phase.String(),
		"level":         v.Level,
		"threshold":     v.Threshold,
		"direction":     v.Direction,
		"joint":         v.Joint,
		"started_at":    v.StartedAt.Format(time.RFC3339),
		"date":          now.Format("02/01/2006"),
		"time":          now.Format("15:04:05"),
		"timestamp":     float64(now.UnixMilli()) / 1000,
		"frames": map[string]any{
			"total":      v.Frames,
			"observed":   v.Observed,
			"missing":    v.Missing,
			"degenerate": v.Degenerate,
		},
	}
}

// EncodeStatus serializes a view as JSON and as a base64 protobuf Struct.
func EncodeStatus(v session.View, now time.Time) (*SerializedEvent, error) {
	payload := StatusPayload(v, now)

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("json marshal: %w", err)
	}

	st, err := structpb.NewStruct(payload)
	if err != nil {
		return nil, fmt.Errorf("protobuf struct: %w", err)
	}
	pbData, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("protobuf marshal: %w", err)
	}

	return &SerializedEvent{
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}, nil
}
