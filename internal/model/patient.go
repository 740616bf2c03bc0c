package model

// Gender is the canonical patient gender. Values outside male/female are
// carried through as given; the empty string means unknown.
type Gender string

const (
	GenderMale    Gender = "male"
	GenderFemale  Gender = "female"
	GenderUnknown Gender = ""
)

// RawPatient is a patient record as ingested, before normalization.
type RawPatient struct {
	ID          string             `json:"patient_id"`
	Age         *int               `json:"age"`
	Gender      string             `json:"gender,omitempty"`
	Weight      *float64           `json:"weight"`
	Diagnoses   []string           `json:"diagnoses"`
	Procedures  []string           `json:"procedures,omitempty"`
	Medications []string           `json:"medications"`
	Labs        map[string]float64 `json:"labs"`

	// Raw holds every source row joined to this patient, keyed by table.
	// It is opaque to the rule engine.
	Raw map[string][]map[string]string `json:"raw,omitempty"`
}

// NormalizedPatient is the canonical patient shape consumed by the matcher.
type NormalizedPatient struct {
	ID          string             `json:"patient_id"`
	Age         *int               `json:"age"`
	Gender      Gender             `json:"gender,omitempty"`
	Weight      *float64           `json:"weight"`
	Diagnoses   []string           `json:"diagnoses"`
	Procedures  []string           `json:"procedures,omitempty"`
	Medications []string           `json:"medications"`
	Labs        map[string]float64 `json:"labs"`
}

// ToRaw converts a normalized patient back into raw form so it can be
// normalized again.
func (p NormalizedPatient) ToRaw() RawPatient {
	labs := make(map[string]float64, len(p.Labs))
	for k, v := range p.Labs {
		labs[k] = v
	}
	return RawPatient{
		ID:          p.ID,
		Age:         p.Age,
		Gender:      string(p.Gender),
		Weight:      p.Weight,
		Diagnoses:   append([]string(nil), p.Diagnoses...),
		Procedures:  append([]string(nil), p.Procedures...),
		Medications: append([]string(nil), p.Medications...),
		Labs:        labs,
	}
}

// Int returns a pointer to i.
func Int(i int) *int {
	return &i
}
