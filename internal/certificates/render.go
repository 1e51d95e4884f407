package certificates

import (
	_ "embed"
	"html/template"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/goodsign/monday"
)

// Mode selects how a rendered document is laid out.
type Mode string

const (
	// ModeScreen lays both pages out for the verification page.
	ModeScreen Mode = "screen"
	// ModePrint forces every page onto its own sheet.
	ModePrint Mode = "print"
)

const (
	StatusClassApproved = "approved"
	StatusClassFailed   = "failed"

	issuerName     = "EVITARE"
	issuerSubtitle = "Assessoria em Segurança e Saúde do Trabalho"
	bulletPrefix   = "• "
	longDateLayout = "2 de January de 2006"
)

// credentialKeywords start the credential lines that are printed as bullets.
var credentialKeywords = []string{
	"Engenheiro", "Técnico", "Tecnólogo", "Registro", "CREA", "MTE",
	"Especialista", "Pós", "Graduado", "Bacharel", "Instrutor",
}

//go:embed document.html
var documentHTML string

var documentTemplate = template.Must(template.New("certificate").Parse(documentHTML))

// Document is a certificate laid out as a front and a back page.
type Document struct {
	Mode            Mode
	VerificationURL string
	QRCodePath      string
	Front           FrontPage
	Back            BackPage
}

// FrontPage carries the student, course and issuance block.
type FrontPage struct {
	IssuerName         string
	IssuerSubtitle     string
	StudentName        string
	CourseName         string
	CourseNorm         string
	CourseType         string
	CourseHours        string
	CourseDate         string
	IssueDate          string
	IssueLocation      string
	RegistrationNumber string
	ArchiveCode        string
}

// BackPage carries the instructor, curriculum and result block.
type BackPage struct {
	InstructorName string
	Credentials    []string
	Curriculum     []string
	Status         string
	StatusClass    string
	Grade          string
	ValidityText   string
}

// Print reports whether pages must break onto separate sheets.
func (d Document) Print() bool {
	return d.Mode == ModePrint
}

// Render lays a certificate out for mode. The output depends only on the
// record, the origin and the mode.
func Render(certificate Certificate, origin string, mode Mode) Document {
	if mode != ModePrint {
		mode = ModeScreen
	}
	verificationURL := VerificationURL(origin, certificate.RegistrationNumber)
	status := strings.ToUpper(strings.TrimSpace(certificate.StudentStatus))
	statusClass := StatusClassFailed
	if certificate.Passed() {
		statusClass = StatusClassApproved
	}
	return Document{
		Mode:            mode,
		VerificationURL: verificationURL,
		QRCodePath:      verificationPath + url.PathEscape(certificate.RegistrationNumber) + "/qr.png",
		Front: FrontPage{
			IssuerName:         issuerName,
			IssuerSubtitle:     issuerSubtitle,
			StudentName:        certificate.StudentName,
			CourseName:         certificate.CourseName,
			CourseNorm:         certificate.CourseNorm,
			CourseType:         certificate.CourseType,
			CourseHours:        certificate.CourseHours,
			CourseDate:         LongDate(time.Time(certificate.CourseDate)),
			IssueDate:          LongDate(time.Time(certificate.IssueDate)),
			IssueLocation:      certificate.IssueLocation,
			RegistrationNumber: certificate.RegistrationNumber,
			ArchiveCode:        certificate.ArchiveCode,
		},
		Back: BackPage{
			InstructorName: certificate.InstructorName,
			Credentials:    CredentialLines(certificate.InstructorCredentials),
			Curriculum:     append([]string(nil), certificate.Curriculum...),
			Status:         status,
			StatusClass:    statusClass,
			Grade:          certificate.Grade,
			ValidityText:   certificate.ValidityText,
		},
	}
}

// LongDate formats a date the way Brazilian certificates print it, e.g.
// "15 de março de 2024". The zero time formats as an empty string.
func LongDate(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return strings.ToLower(monday.Format(value.UTC(), longDateLayout, monday.LocalePtBR))
}

// CredentialLines prefixes a bullet to lines that start with a credential
// keyword. Other lines are continuation text and print as is.
func CredentialLines(lines []string) []string {
	formatted := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if hasCredentialKeyword(trimmed) && !strings.HasPrefix(trimmed, bulletPrefix) {
			trimmed = bulletPrefix + trimmed
		}
		formatted = append(formatted, trimmed)
	}
	return formatted
}

func hasCredentialKeyword(line string) bool {
	for _, keyword := range credentialKeywords {
		if strings.HasPrefix(line, keyword) {
			return true
		}
	}
	return false
}

// WriteHTML renders the document as a standalone HTML fragment.
func WriteHTML(w io.Writer, document Document) error {
	return documentTemplate.Execute(w, document)
}
