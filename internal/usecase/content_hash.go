package usecase

import (
	"time"

	"medledger/internal/domain"
	"medledger/internal/infra/crypto"
)

// ContentHash fingerprints the clinical fields of a record. The fields are
// encoded as a JSON object with sorted keys; unset values encode as "".
func ContentHash(d domain.RecordDescriptor) string {
	recordDate := ""
	if !d.RecordDate.IsZero() {
		recordDate = d.RecordDate.UTC().Format(time.RFC3339Nano)
	}
	return crypto.SHA256Hex(crypto.CanonicalizeStrings(map[string]string{
		"record_id":   d.RecordID,
		"patient_id":  d.PatientID,
		"doctor_id":   d.DoctorID,
		"diagnosis":   d.Diagnosis,
		"treatment":   d.Treatment,
		"record_date": recordDate,
	}))
}
