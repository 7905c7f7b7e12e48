package models

import "time"

// AuditInfo records who touched an entity and when.
type AuditInfo struct {
	UserID          string    `json:"userId"`
	ClientTimestamp time.Time `json:"clientTimestamp"`
	// ServerTimestamp is zero until the remote store has acknowledged the change.
	ServerTimestamp time.Time `json:"serverTimestamp,omitzero"`
}

// Response is the value entered for one field.
type Response struct {
	FieldID string `json:"fieldId"`
	Value   any    `json:"value"`
}

// Responses is an ordered set of field responses, at most one per field.
type Responses []Response

// Get returns the value stored for fieldID.
func (r Responses) Get(fieldID string) (any, bool) {
	for _, resp := range r {
		if resp.FieldID == fieldID {
			return resp.Value, true
		}
	}
	return nil, false
}

// Apply returns a copy of r with the deltas applied in order. A delta with a
// nil value removes the field; otherwise the value replaces the existing one
// in place or is appended.
func (r Responses) Apply(deltas []ResponseDelta) Responses {
	out := make(Responses, len(r))
	copy(out, r)
	for _, d := range deltas {
		idx := -1
		for i, resp := range out {
			if resp.FieldID == d.FieldID {
				idx = i
				break
			}
		}
		switch {
		case d.IsRemoval() && idx >= 0:
			out = append(out[:idx], out[idx+1:]...)
		case d.IsRemoval():
		case idx >= 0:
			out[idx].Value = d.NewValue
		default:
			out = append(out, Response{FieldID: d.FieldID, Value: d.NewValue})
		}
	}
	return out
}

type Submission struct {
	ID                 string             `json:"id"`
	SurveyID           string             `json:"surveyId"`
	LocationOfInterest LocationOfInterest `json:"locationOfInterest"`
	Task               Task               `json:"task"`
	Responses          Responses          `json:"responses"`
	Created            AuditInfo          `json:"created"`
	LastModified       AuditInfo          `json:"lastModified"`
}
