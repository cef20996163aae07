package pose

import (
	"encoding/json"
	"fmt"
)

// wireLandmark is the JSON shape produced by the inference sidecar.
// Either Name or ID identifies the landmark.
type wireLandmark struct {
	ID         *int    `json:"id,omitempty"`
	Name       string  `json:"name,omitempty"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Visibility float64 `json:"visibility"`
}

// wireResult is one frame's estimation result. A null or empty landmark list
// means nobody was found.
type wireResult struct {
	Landmarks []wireLandmark `json:"landmarks"`
}

func decodeResult(data []byte) (Landmarks, error) {
	var result *wireResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode landmarks: %w", err)
	}
	if result == nil || len(result.Landmarks) == 0 {
		return nil, nil
	}

	lm := make(Landmarks, len(result.Landmarks))
	for i, w := range result.Landmarks {
		var id LandmarkID
		switch {
		case w.Name != "":
			parsed, err := ParseLandmarkID(w.Name)
			if err != nil {
				if w.ID == nil {
					// Names we do not track are not needed.
					continue
				}
				parsed = LandmarkID(*w.ID)
			}
			id = parsed
		case w.ID != nil:
			id = LandmarkID(*w.ID)
		default:
			return nil, fmt.Errorf("landmark %d has neither id nor name", i)
		}
		if id < 0 || id >= NumLandmarks {
			return nil, fmt.Errorf("landmark %d: id %d out of range", i, int(id))
		}
		lm[id] = Landmark{X: w.X, Y: w.Y, Visibility: w.Visibility}
	}
	return lm, nil
}

func encodeResult(lm Landmarks) ([]byte, error) {
	if lm == nil {
		return json.Marshal(wireResult{})
	}
	result := wireResult{Landmarks: make([]wireLandmark, 0, len(lm))}
	for id, l := range lm {
		n := int(id)
		result.Landmarks = append(result.Landmarks, wireLandmark{
			ID:         &n,
			Name:       landmarkNames[id],
			X:          l.X,
			Y:          l.Y,
			Visibility: l.Visibility,
		})
	}
	return json.Marshal(result)
}
