// Package validation checks record event descriptors against embedded JSON
// Schemas before anything reaches the ledger.
package validation

import (
	"embed"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/xeipuuv/gojsonschema"

	"medledger/internal/domain"
)

//go:embed schemas/*.json
var schemaFS embed.FS

type Kind string

const (
	Create Kind = "create"
	Update Kind = "update"
	Revoke Kind = "revoke"
	Grant  Kind = "grant"
)

// fieldOrder decides which failure is reported when several fields are bad.
var fieldOrder = []string{"record_id", "patient_id", "doctor_id", "diagnosis", "treatment", "record_date", "reason", "grantee_id", "initiator_id"}

var (
	loadOnce sync.Once
	schemas  map[Kind]*gojsonschema.Schema
	loadErr  error
)

func load() {
	schemas = make(map[Kind]*gojsonschema.Schema)
	for _, kind := range []Kind{Create, Update, Revoke, Grant} {
		raw, err := schemaFS.ReadFile("schemas/" + string(kind) + ".json")
		if err != nil {
			loadErr = fmt.Errorf("read %s schema: %w", kind, err)
			return
		}
		schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
		if err != nil {
			loadErr = fmt.Errorf("compile %s schema: %w", kind, err)
			return
		}
		schemas[kind] = schema
	}
}

// Descriptor validates d for the given event kind and returns a
// *domain.ValidationError naming the first offending field.
func Descriptor(kind Kind, d domain.RecordDescriptor) error {
	loadOnce.Do(load)
	if loadErr != nil {
		return loadErr
	}
	schema, ok := schemas[kind]
	if !ok {
		return fmt.Errorf("unknown descriptor kind %q", kind)
	}
	if err := checkEncoding(d); err != nil {
		return err
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(document(kind, d)))
	if err != nil {
		return fmt.Errorf("validate %s descriptor: %w", kind, err)
	}
	if result.Valid() {
		return nil
	}
	return firstError(result.Errors())
}

func document(kind Kind, d domain.RecordDescriptor) map[string]any {
	doc := map[string]any{}
	put := func(key, value string) {
		if value != "" {
			doc[key] = value
		}
	}
	// Required identifiers are always present so that an empty value is
	// reported as too short rather than missing.
	doc["record_id"] = d.RecordID
	put("initiator_id", d.InitiatorID)
	switch kind {
	case Revoke:
		put("reason", d.Reason)
	case Grant:
		doc["grantee_id"] = d.GranteeID
	default:
		if kind == Create {
			doc["patient_id"] = d.PatientID
			doc["doctor_id"] = d.DoctorID
		} else {
			put("patient_id", d.PatientID)
			put("doctor_id", d.DoctorID)
		}
		doc["diagnosis"] = d.Diagnosis
		put("treatment", d.Treatment)
		if !d.RecordDate.IsZero() {
			doc["record_date"] = d.RecordDate.UTC().Format("2006-01-02T15:04:05.999999999Z07:00")
		}
	}
	return doc
}

// checkEncoding rejects strings that are not valid UTF-8. Such bytes would
// not survive the JSON encoding used by every ledger store.
func checkEncoding(d domain.RecordDescriptor) error {
	values := map[string]string{
		"record_id":    d.RecordID,
		"patient_id":   d.PatientID,
		"doctor_id":    d.DoctorID,
		"diagnosis":    d.Diagnosis,
		"treatment":    d.Treatment,
		"reason":       d.Reason,
		"grantee_id":   d.GranteeID,
		"initiator_id": d.InitiatorID,
	}
	for _, field := range fieldOrder {
		if !utf8.ValidString(values[field]) {
			return domain.NewValidationError(field, "must be valid UTF-8")
		}
	}
	return nil
}

func firstError(errs []gojsonschema.ResultError) error {
	if len(errs) == 0 {
		return domain.NewValidationError("", "invalid descriptor")
	}
	rank := func(e gojsonschema.ResultError) int {
		field := fieldName(e)
		for i, f := range fieldOrder {
			if f == field {
				return i
			}
		}
		return len(fieldOrder)
	}
	sort.SliceStable(errs, func(i, j int) bool { return rank(errs[i]) < rank(errs[j]) })
	e := errs[0]
	return domain.NewValidationError(fieldName(e), message(e))
}

func fieldName(e gojsonschema.ResultError) string {
	if e.Type() == "required" {
		if prop, ok := e.Details()["property"].(string); ok {
			return prop
		}
	}
	return strings.TrimPrefix(e.Field(), "(root).")
}

func message(e gojsonschema.ResultError) string {
	switch e.Type() {
	case "required", "string_gte":
		return "is required"
	case "pattern":
		return "must not be blank"
	default:
		return e.Description()
	}
}
