package models

// LocationOfInterest is a georeferenced place submissions are attached to.
// It carries the full job definition so tasks resolve without another lookup.
type LocationOfInterest struct {
	ID        string  `json:"id"`
	SurveyID  string  `json:"surveyId"`
	Job       Job     `json:"job"`
	Name      string  `json:"name,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}
