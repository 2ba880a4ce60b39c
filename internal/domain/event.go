package domain

type EventKind string

const (
	EventGenesis EventKind = "GENESIS"
	EventCreate  EventKind = "CREATE"
	EventUpdate  EventKind = "UPDATE"
	EventRevoke  EventKind = "REVOKE"

	// EventGrantAccess records that a party was given access to a record. It
	// carries no content and does not change the record's lifecycle state.
	EventGrantAccess EventKind = "GRANT_ACCESS"
)

// Event is the payload carried by a block. Fields returns every attribute
// except the kind tag; encoders order them by key.
type Event interface {
	Kind() EventKind
	CorrelationID() string
	Fields() map[string]string
}

type GenesisEvent struct {
	Message string
}

func (e GenesisEvent) Kind() EventKind       { return EventGenesis }
func (e GenesisEvent) CorrelationID() string { return "" }
func (e GenesisEvent) Fields() map[string]string {
	return map[string]string{"message": e.Message}
}

type CreateEvent struct {
	RecordID    string
	PatientID   string
	DoctorID    string
	ContentHash string
}

func (e CreateEvent) Kind() EventKind       { return EventCreate }
func (e CreateEvent) CorrelationID() string { return e.RecordID }
func (e CreateEvent) Fields() map[string]string {
	return map[string]string{
		"record_id":    e.RecordID,
		"patient_id":   e.PatientID,
		"doctor_id":    e.DoctorID,
		"content_hash": e.ContentHash,
	}
}

type UpdateEvent struct {
	RecordID    string
	ContentHash string
}

func (e UpdateEvent) Kind() EventKind       { return EventUpdate }
func (e UpdateEvent) CorrelationID() string { return e.RecordID }
func (e UpdateEvent) Fields() map[string]string {
	return map[string]string{
		"record_id":    e.RecordID,
		"content_hash": e.ContentHash,
	}
}

type RevokeEvent struct {
	RecordID string
	Reason   string
}

func (e RevokeEvent) Kind() EventKind       { return EventRevoke }
func (e RevokeEvent) CorrelationID() string { return e.RecordID }
func (e RevokeEvent) Fields() map[string]string {
	return map[string]string{
		"record_id": e.RecordID,
		"reason":    e.Reason,
	}
}

type GrantAccessEvent struct {
	RecordID  string
	GranteeID string
}

func (e GrantAccessEvent) Kind() EventKind       { return EventGrantAccess }
func (e GrantAccessEvent) CorrelationID() string { return e.RecordID }
func (e GrantAccessEvent) Fields() map[string]string {
	return map[string]string{
		"record_id":  e.RecordID,
		"grantee_id": e.GranteeID,
	}
}

// EventContentHash returns the content hash carried by CREATE and UPDATE events.
func EventContentHash(e Event) (string, bool) {
	switch ev := e.(type) {
	case CreateEvent:
		return ev.ContentHash, true
	case UpdateEvent:
		return ev.ContentHash, true
	default:
		return "", false
	}
}
