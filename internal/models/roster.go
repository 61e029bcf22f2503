package models

// RosterEntry is one subject that must be scheduled for a batch/semester.
type RosterEntry struct {
	SubjectID       string   `db:"subject_id" json:"subjectId"`
	SubjectName     string   `db:"subject_name" json:"subjectName"`
	SessionsPerWeek int      `db:"sessions_per_week" json:"sessionsPerWeek"`
	TeacherIDs      []string `db:"-" json:"teacherIds"`
}

// Semester is the slice of the external semester catalog the engine reads.
type Semester struct {
	ID       string `db:"id" json:"id"`
	BatchID  string `db:"batch_id" json:"batchId"`
	Name     string `db:"name" json:"name"`
	IsActive bool   `db:"is_active" json:"isActive"`
}

// StudentPlacement resolves a student to their batch and active semester.
type StudentPlacement struct {
	StudentID  string `db:"student_id" json:"studentId"`
	BatchID    string `db:"batch_id" json:"batchId"`
	SemesterID string `db:"semester_id" json:"semesterId"`
}
