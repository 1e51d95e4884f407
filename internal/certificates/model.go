// Package certificates issues training certificates, renders them as a
// two-page document and resolves public verification lookups.
package certificates

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"gorm.io/datatypes"
)

const (
	Table = "certificates"

	StatusApproved = "APROVADO"
	StatusFailed   = "REPROVADO"

	verificationPath = "/certificado/"
)

var registrationNumberPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Certificate is one issuance. RegistrationNumber is the public key printed
// in the verification URL and QR code and never changes after creation.
type Certificate struct {
	ID                    string                      `gorm:"column:id;primaryKey;size:64" json:"id"`
	StudentName           string                      `gorm:"column:student_name;not null" json:"student_name"`
	CourseName            string                      `gorm:"column:course_name;not null" json:"course_name"`
	CourseNorm            string                      `gorm:"column:course_norm" json:"course_norm"`
	CourseType            string                      `gorm:"column:course_type" json:"course_type"`
	CourseHours           string                      `gorm:"column:course_hours" json:"course_hours"`
	CourseDate            datatypes.Date              `gorm:"column:course_date;not null" json:"course_date"`
	RegistrationNumber    string                      `gorm:"column:registration_number;size:64;not null;uniqueIndex" json:"registration_number"`
	ArchiveCode           string                      `gorm:"column:archive_code" json:"archive_code"`
	IssueDate             datatypes.Date              `gorm:"column:issue_date;not null" json:"issue_date"`
	IssueLocation         string                      `gorm:"column:issue_location" json:"issue_location"`
	InstructorName        string                      `gorm:"column:instructor_name" json:"instructor_name"`
	InstructorCredentials datatypes.JSONSlice[string] `gorm:"column:instructor_credentials" json:"instructor_credentials"`
	Curriculum            datatypes.JSONSlice[string] `gorm:"column:curriculum" json:"curriculum"`
	StudentStatus         string                      `gorm:"column:student_status;size:16;not null" json:"student_status"`
	Grade                 string                      `gorm:"column:grade" json:"grade"`
	ValidityText          string                      `gorm:"column:validity_text" json:"validity_text"`
	PDFURL                *string                     `gorm:"column:pdf_url" json:"pdf_url"`
	IsGenerated           bool                        `gorm:"column:is_generated;not null;default:false" json:"is_generated"`
	QRCodeURL             string                      `gorm:"column:qr_code_url;not null" json:"qr_code_url"`
	IsActive              bool                        `gorm:"column:is_active;not null;default:true;index" json:"is_active"`
	CreatedAt             time.Time                   `gorm:"column:created_at;not null;index" json:"created_at"`
	UpdatedAt             time.Time                   `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (Certificate) TableName() string { return Table }

// Passed reports whether the student was approved.
func (c Certificate) Passed() bool {
	return strings.EqualFold(strings.TrimSpace(c.StudentStatus), StatusApproved)
}

// VerificationURL is the public page a certificate's QR code points to. It is
// derived from the site origin and registration number only.
func VerificationURL(origin, registrationNumber string) string {
	return strings.TrimRight(strings.TrimSpace(origin), "/") + verificationPath + url.PathEscape(registrationNumber)
}

// Input is the admin form for a certificate. Dates use the yyyy-mm-dd form of
// HTML date inputs.
type Input struct {
	StudentName           string   `json:"student_name" validate:"required,max=200"`
	CourseName            string   `json:"course_name" validate:"required,max=200"`
	CourseNorm            string   `json:"course_norm" validate:"max=120"`
	CourseType            string   `json:"course_type" validate:"max=120"`
	CourseHours           string   `json:"course_hours" validate:"max=40"`
	CourseDate            string   `json:"course_date" validate:"required,datetime=2006-01-02"`
	RegistrationNumber    string   `json:"registration_number" validate:"required,max=64,registration_number"`
	ArchiveCode           string   `json:"archive_code" validate:"max=64"`
	IssueDate             string   `json:"issue_date" validate:"required,datetime=2006-01-02"`
	IssueLocation         string   `json:"issue_location" validate:"max=120"`
	InstructorName        string   `json:"instructor_name" validate:"max=200"`
	InstructorCredentials []string `json:"instructor_credentials" validate:"dive,max=300"`
	Curriculum            []string `json:"curriculum" validate:"dive,max=300"`
	StudentStatus         string   `json:"student_status" validate:"required,oneof=APROVADO REPROVADO"`
	Grade                 string   `json:"grade" validate:"max=20"`
	ValidityText          string   `json:"validity_text" validate:"max=2000"`
}

func (in Input) normalized() Input {
	out := in
	out.StudentName = strings.TrimSpace(in.StudentName)
	out.CourseName = strings.TrimSpace(in.CourseName)
	out.CourseNorm = strings.TrimSpace(in.CourseNorm)
	out.CourseType = strings.TrimSpace(in.CourseType)
	out.CourseHours = strings.TrimSpace(in.CourseHours)
	out.CourseDate = strings.TrimSpace(in.CourseDate)
	out.RegistrationNumber = strings.TrimSpace(in.RegistrationNumber)
	out.ArchiveCode = strings.TrimSpace(in.ArchiveCode)
	out.IssueDate = strings.TrimSpace(in.IssueDate)
	out.IssueLocation = strings.TrimSpace(in.IssueLocation)
	out.InstructorName = strings.TrimSpace(in.InstructorName)
	out.InstructorCredentials = nonBlankLines(in.InstructorCredentials)
	out.Curriculum = nonBlankLines(in.Curriculum)
	out.StudentStatus = strings.ToUpper(strings.TrimSpace(in.StudentStatus))
	out.Grade = strings.TrimSpace(in.Grade)
	out.ValidityText = strings.TrimSpace(in.ValidityText)
	return out
}

func nonBlankLines(lines []string) []string {
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			kept = append(kept, trimmed)
		}
	}
	return kept
}

func parseDate(value string) datatypes.Date {
	parsed, _ := time.Parse(time.DateOnly, value)
	return datatypes.Date(parsed)
}
