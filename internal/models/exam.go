package models

import "time"

// ExamStatus reflects the lifecycle of an exam.
type ExamStatus string

const (
	ExamStatusUpComing ExamStatus = "UP_COMING"
	ExamStatusRunning  ExamStatus = "RUNNING"
	ExamStatusFinished ExamStatus = "FINISHED"
	ExamStatusArchived ExamStatus = "ARCHIVED"
)

// Precondition messages reported for exams and configurations in use.
const (
	MsgExamActiveConnections = "Exam currently has active SEB Client connections."
	MsgExamRunning           = "Exam is currently running."
	MsgExamArchived          = "Exam is already archived."
	MsgConfigurationInUse    = "Exam configuration is used by an upcoming or running exam."
)

// Exam is an exam imported from an LMS setup.
type Exam struct {
	ID            string     `db:"id" json:"id"`
	InstitutionID string     `db:"institution_id" json:"institution_id"`
	LmsSetupID    string     `db:"lms_setup_id" json:"lms_setup_id"`
	OwnerID       string     `db:"owner_id" json:"owner_id"`
	Name          string     `db:"name" json:"name"`
	Status        ExamStatus `db:"status" json:"status"`
	Active        bool       `db:"active" json:"active"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// Key implements GrantEntity.
func (e *Exam) Key() EntityKey { return NewEntityKey(e.ID, EntityTypeExam) }

// InstitutionRef implements GrantEntity.
func (e *Exam) InstitutionRef() string { return e.InstitutionID }

// OwnerRef implements GrantEntity.
func (e *Exam) OwnerRef() string { return e.OwnerID }
