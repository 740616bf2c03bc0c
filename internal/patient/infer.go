package patient

import (
	"go.uber.org/zap"

	"github.com/sells-group/eligibility-cli/internal/model"
)

// InferenceRule derives a diagnosis label from a normalized patient. Rules
// only see canonical lab keys and never remove data.
type InferenceRule interface {
	Name() string
	// Label is the canonical diagnosis the rule adds when it fires.
	Label() string
	Infer(p model.NormalizedPatient) bool
}

// UncontrolledBloodPressure is the label added by BloodPressureRule.
const UncontrolledBloodPressure = "Uncontrolled Blood Pressure"

// BloodPressureRule fires when systolic pressure is above SystolicMax or
// diastolic pressure is above DiastolicMax. Either reading alone is enough;
// a missing reading never fires.
type BloodPressureRule struct {
	SystolicKey  string
	DiastolicKey string
	SystolicMax  float64
	DiastolicMax float64
}

// NewBloodPressureRule returns the rule with the standard 140/90 thresholds.
func NewBloodPressureRule() BloodPressureRule {
	return BloodPressureRule{
		SystolicKey:  "systolic blood pressure",
		DiastolicKey: "diastolic blood pressure",
		SystolicMax:  140,
		DiastolicMax: 90,
	}
}

func (BloodPressureRule) Name() string  { return "blood_pressure" }
func (BloodPressureRule) Label() string { return UncontrolledBloodPressure }

func (r BloodPressureRule) Infer(p model.NormalizedPatient) bool {
	sbp, hasSBP := p.Labs[r.SystolicKey]
	dbp, hasDBP := p.Labs[r.DiastolicKey]
	fired := (hasSBP && sbp > r.SystolicMax) || (hasDBP && dbp > r.DiastolicMax)
	if fired {
		fields := []zap.Field{zap.String("patient_id", p.ID), zap.String("label", r.Label())}
		if hasSBP {
			fields = append(fields, zap.Float64("sbp", sbp))
		}
		if hasDBP {
			fields = append(fields, zap.Float64("dbp", dbp))
		}
		zap.L().Info("patient: inferred condition", fields...)
	}
	return fired
}

// DefaultInferenceRules returns the rules applied by NewNormalizer.
func DefaultInferenceRules() []InferenceRule {
	return []InferenceRule{NewBloodPressureRule()}
}
