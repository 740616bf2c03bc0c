package patient

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/eligibility-cli/internal/model"
)

// Source table and column names.
const (
	PatientsTable     = "patients"
	ConditionsTable   = "conditions"
	MedicationsTable  = "medications"
	ProceduresTable   = "procedures"
	ObservationsTable = "observations"

	colID          = "Id"
	colBirthdate   = "BIRTHDATE"
	colGender      = "GENDER"
	colDescription = "DESCRIPTION"
	colValue       = "VALUE"

	// BodyWeightObservation supplies the patient's weight when present.
	BodyWeightObservation = "Body Weight"
)

var joinColumns = []string{"PATIENT", "PATIENTID"}

// IngestDir loads every CSV in dir, joins the clinical tables onto
// patients.csv by patient ID and returns one RawPatient per patient row, in
// file order. Age is computed against now. Tables that cannot be read or
// have no join column are skipped with a warning. A missing or empty
// patients.csv yields no patients.
func IngestDir(ctx context.Context, dir string, now time.Time) ([]model.RawPatient, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		zap.L().Warn("patient: data directory not found", zap.String("dir", dir))
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "patient: read dir %s", dir)
	}

	tables := make(map[string][]Record)
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		recs, err := readTable(ctx, filepath.Join(dir, name))
		if err != nil {
			if ctx.Err() != nil {
				return nil, eris.Wrap(ctx.Err(), "patient: ingest")
			}
			zap.L().Warn("patient: skipping unreadable table", zap.String("file", name), zap.Error(err))
			continue
		}
		table := strings.TrimSuffix(name, filepath.Ext(name))
		tables[table] = recs
		zap.L().Debug("patient: loaded table", zap.String("table", table), zap.Int("rows", len(recs)))
	}

	if len(tables[PatientsTable]) == 0 {
		zap.L().Error("patient: patients.csv is empty or missing", zap.String("dir", dir))
		return nil, nil
	}

	grouped := groupByPatient(tables)

	var patients []model.RawPatient
	for _, row := range tables[PatientsTable] {
		id := row[colID]
		if id == "" {
			continue
		}
		patients = append(patients, buildPatient(id, row, grouped, now))
	}

	zap.L().Info("patient: ingestion complete",
		zap.String("dir", dir),
		zap.Int("tables", len(tables)),
		zap.Int("patients", len(patients)),
	)
	return patients, nil
}

func readTable(ctx context.Context, path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "patient: open %s", path)
	}
	defer f.Close() //nolint:errcheck
	return ReadRecords(ctx, f)
}

// groupByPatient indexes every non-patient table by its join column:
// table -> patient ID -> rows.
func groupByPatient(tables map[string][]Record) map[string]map[string][]Record {
	out := make(map[string]map[string][]Record)
	for name, recs := range tables {
		if name == PatientsTable || len(recs) == 0 {
			continue
		}
		key := joinColumn(recs[0])
		if key == "" {
			zap.L().Warn("patient: table has no PATIENT or PATIENTID column", zap.String("table", name))
			continue
		}
		byID := make(map[string][]Record)
		for _, r := range recs {
			if pid := r[key]; pid != "" {
				byID[pid] = append(byID[pid], r)
			}
		}
		out[name] = byID
	}
	return out
}

func joinColumn(r Record) string {
	for _, c := range joinColumns {
		if _, ok := r[c]; ok {
			return c
		}
	}
	return ""
}

func buildPatient(id string, row Record, grouped map[string]map[string][]Record, now time.Time) model.RawPatient {
	p := model.RawPatient{
		ID:          id,
		Age:         ageOn(row[colBirthdate], now),
		Gender:      strings.ToLower(row[colGender]),
		Diagnoses:   descriptions(grouped[ConditionsTable][id]),
		Medications: descriptions(grouped[MedicationsTable][id]),
		Procedures:  descriptions(grouped[ProceduresTable][id]),
		Labs:        map[string]float64{},
		Raw:         map[string][]map[string]string{PatientsTable: {row}},
	}

	for _, obs := range grouped[ObservationsTable][id] {
		desc := obs[colDescription]
		val, err := strconv.ParseFloat(obs[colValue], 64)
		if desc == "" || err != nil || math.IsNaN(val) || math.IsInf(val, 0) {
			continue
		}
		p.Labs[desc] = val
		if strings.EqualFold(desc, BodyWeightObservation) {
			w := val
			p.Weight = &w
		}
	}

	for table, byID := range grouped {
		if rows := byID[id]; len(rows) > 0 {
			raw := make([]map[string]string, len(rows))
			for i, r := range rows {
				raw[i] = r
			}
			p.Raw[table] = raw
		}
	}
	return p
}

func descriptions(recs []Record) []string {
	var out []string
	for _, r := range recs {
		if d := r[colDescription]; d != "" {
			out = append(out, d)
		}
	}
	return out
}

// ageOn returns completed years between a YYYY-MM-DD birthdate and now, or
// nil when the birthdate is missing or unparseable.
func ageOn(birthdate string, now time.Time) *int {
	born, err := time.Parse("2006-01-02", strings.TrimSpace(birthdate))
	if err != nil || born.After(now) {
		return nil
	}
	age := now.Year() - born.Year()
	if now.Month() < born.Month() || (now.Month() == born.Month() && now.Day() < born.Day()) {
		age--
	}
	return &age
}
