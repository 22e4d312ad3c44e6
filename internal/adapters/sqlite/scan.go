package sqlite

import (
	"database/sql"
	"encoding/json"

	"github.com/ewilliams-labs/cadenza/internal/core/domain"
)

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (domain.FeatureRecord, error) {
	var (
		rec  domain.FeatureRecord
		isrc sql.NullString

		eBPM, eBPMRaw, eBPMConf sql.NullFloat64
		eKey, eScale            sql.NullString
		eKeyConf                sql.NullFloat64

		aBPM, aBPMRaw, aBPMConf sql.NullFloat64
		aKey, aScale            sql.NullString
		aKeyConf                sql.NullFloat64

		tempoSource, keySource string

		manualBPM            sql.NullFloat64
		manualKey, manualScl sql.NullString

		urlsTried          string
		previewURL         sql.NullString
		errText, traceText sql.NullString
	)

	err := row.Scan(
		&rec.TrackID, &isrc,
		&eBPM, &eBPMRaw, &eBPMConf, &eKey, &eScale, &eKeyConf,
		&aBPM, &aBPMRaw, &aBPMConf, &aKey, &aScale, &aKeyConf,
		&tempoSource, &keySource,
		&manualBPM, &manualKey, &manualScl,
		&rec.Provider, &urlsTried, &previewURL, &rec.IdentityMismatch,
		&errText, &traceText, &rec.UpdatedAt,
	)
	if err != nil {
		return domain.FeatureRecord{}, err
	}

	rec.ISRC = isrc.String
	rec.Essentia = outcomeFrom(eBPM, eBPMRaw, eBPMConf, eKey, eScale, eKeyConf)
	rec.Aubio = outcomeFrom(aBPM, aBPMRaw, aBPMConf, aKey, aScale, aKeyConf)
	rec.TempoSource = domain.Source(tempoSource)
	rec.KeySource = domain.Source(keySource)

	if manualBPM.Valid {
		rec.Manual.BPM = &manualBPM.Float64
	}
	if manualKey.Valid {
		rec.Manual.Key = &manualKey.String
	}
	if manualScl.Valid {
		scale := domain.Scale(manualScl.String)
		rec.Manual.Scale = &scale
	}

	if urlsTried != "" {
		if err := json.Unmarshal([]byte(urlsTried), &rec.AttemptedURLs); err != nil {
			return domain.FeatureRecord{}, err
		}
	}
	rec.PreviewURL = previewURL.String
	rec.Error = errText.String
	rec.Trace = traceText.String

	return rec, nil
}

func outcomeFrom(bpm, bpmRaw, bpmConf sql.NullFloat64, key, scale sql.NullString, keyConf sql.NullFloat64) domain.AnalysisOutcome {
	var out domain.AnalysisOutcome
	if bpm.Valid {
		t := domain.TempoEstimate{BPM: bpm.Float64, RawBPM: bpm.Float64}
		if bpmRaw.Valid {
			t.RawBPM = bpmRaw.Float64
		}
		if bpmConf.Valid {
			t.Confidence = bpmConf.Float64
		}
		out.Tempo = &t
	}
	if key.Valid {
		k := domain.KeyEstimate{Key: key.String, Scale: domain.ScaleMajor}
		if scale.Valid && scale.String == string(domain.ScaleMinor) {
			k.Scale = domain.ScaleMinor
		}
		if keyConf.Valid {
			k.Confidence = keyConf.Float64
		}
		out.Key = &k
	}
	return out
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func tempoBPM(t *domain.TempoEstimate) sql.NullFloat64 {
	if t == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: t.BPM, Valid: true}
}

func tempoRaw(t *domain.TempoEstimate) sql.NullFloat64 {
	if t == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: t.RawBPM, Valid: true}
}

func tempoConf(t *domain.TempoEstimate) sql.NullFloat64 {
	if t == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: t.Confidence, Valid: true}
}

func keyName(k *domain.KeyEstimate) sql.NullString {
	if k == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: k.Key, Valid: true}
}

func keyScale(k *domain.KeyEstimate) sql.NullString {
	if k == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(k.Scale), Valid: true}
}

func keyConf(k *domain.KeyEstimate) sql.NullFloat64 {
	if k == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: k.Confidence, Valid: true}
}
