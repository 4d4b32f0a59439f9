package core

import (
	"encoding/json"
	"time"
)

// StoredJob is the serialized form of a Job. Payload, result and error are
// flattened to text so any persistence backend can carry them.
type StoredJob struct {
	ID          string     `gorm:"primaryKey;size:36" json:"id"`
	Type        string     `gorm:"index;size:255;not null" json:"type"`
	Status      string     `gorm:"index;size:20;not null" json:"status"`
	Progress    int        `gorm:"not null;default:0" json:"progress"`
	Message     string     `gorm:"type:text" json:"message"`
	Payload     string     `gorm:"type:text" json:"payload"`
	Result      *string    `gorm:"type:text" json:"result,omitempty"`
	Error       *string    `gorm:"type:text" json:"error,omitempty"`
	Fingerprint string     `gorm:"index;size:32" json:"fingerprint,omitempty"`
	CreatedAt   time.Time  `gorm:"index;not null" json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// TableName pins the table name regardless of gorm naming strategy.
func (StoredJob) TableName() string { return "jobs" }

// ToStored converts a Job to its serialized form.
func ToStored(j *Job) *StoredJob {
	s := &StoredJob{
		ID:          j.ID,
		Type:        string(j.Type),
		Status:      string(j.Status),
		Progress:    j.Progress,
		Message:     j.Message,
		Payload:     string(j.Payload),
		Fingerprint: j.Fingerprint,
		CreatedAt:   normalizeTime(j.CreatedAt),
		StartedAt:   normalizeTimePtr(j.StartedAt),
		CompletedAt: normalizeTimePtr(j.CompletedAt),
	}
	if j.Result != nil {
		r := string(j.Result)
		s.Result = &r
	}
	if j.Error != "" {
		e := j.Error
		s.Error = &e
	}
	return s
}

// FromStored converts a serialized record back to a Job.
func FromStored(s *StoredJob) (*Job, error) {
	if s == nil {
		return nil, ErrJobNotFound
	}
	j := &Job{
		ID:          s.ID,
		Type:        JobType(s.Type),
		Status:      JobStatus(s.Status),
		Progress:    s.Progress,
		Message:     s.Message,
		Fingerprint: s.Fingerprint,
		CreatedAt:   normalizeTime(s.CreatedAt),
		StartedAt:   normalizeTimePtr(s.StartedAt),
		CompletedAt: normalizeTimePtr(s.CompletedAt),
	}
	if s.Payload != "" {
		if !json.Valid([]byte(s.Payload)) {
			return nil, ErrCorruptRecord
		}
		j.Payload = json.RawMessage(s.Payload)
	}
	if s.Result != nil {
		if !json.Valid([]byte(*s.Result)) {
			return nil, ErrCorruptRecord
		}
		j.Result = json.RawMessage(*s.Result)
	}
	if s.Error != nil {
		j.Error = *s.Error
	}
	return j, nil
}

// Clone returns a copy of the record that shares no pointers with s.
func (s *StoredJob) Clone() *StoredJob {
	if s == nil {
		return nil
	}
	c := *s
	if s.Result != nil {
		r := *s.Result
		c.Result = &r
	}
	if s.Error != nil {
		e := *s.Error
		c.Error = &e
	}
	c.StartedAt = normalizeTimePtr(s.StartedAt)
	c.CompletedAt = normalizeTimePtr(s.CompletedAt)
	return &c
}

// normalizeTime drops the monotonic reading and location so that a time
// survives a trip through text or a database column unchanged.
func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC().Round(0)
}

func normalizeTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	n := normalizeTime(*t)
	return &n
}
