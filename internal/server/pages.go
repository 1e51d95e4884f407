package server

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/certificates"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/content"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/editor"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/media"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/qrcode"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/registrations"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/settings"
	"github.com/spf13/cast"
	"go.uber.org/zap"
)

//go:embed templates/*.html
var templateFiles embed.FS

const (
	homeFAQCount   = 4
	maxRatingStars = 5
)

var defaultServiceTypes = []string{
	"Treinamentos NR",
	"Monitoramento ambiental",
	"Medicina do trabalho",
	"Consultoria em segurança",
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"comma": func(value any) string { return humanize.Comma(cast.ToInt64(value)) },
		"bytes": func(value any) string { return humanize.IBytes(cast.ToUint64(value)) },
		"since": func(value time.Time) string {
			if value.IsZero() {
				return "nunca"
			}
			return humanize.Time(value)
		},
		"stars": func(value any) string {
			rating := cast.ToInt(value)
			if rating < 0 {
				rating = 0
			}
			if rating > maxRatingStars {
				rating = maxRatingStars
			}
			return strings.Repeat("★", rating) + strings.Repeat("☆", maxRatingStars-rating)
		},
		"whatsapp": func(phone string) string {
			digits := qrcode.Digits(phone)
			if digits == "" {
				return ""
			}
			return "https://wa.me/" + digits
		},
		"dict": func(pairs ...any) map[string]any {
			values := make(map[string]any, len(pairs)/2)
			for i := 0; i+1 < len(pairs); i += 2 {
				values[cast.ToString(pairs[i])] = pairs[i+1]
			}
			return values
		},
		"current": func(path, href string) bool {
			if href == "/" {
				return path == "/"
			}
			return href != "" && strings.HasPrefix(path, href)
		},
	}
}

func parsePages() (*template.Template, error) {
	return template.New("pages").Funcs(templateFuncs()).ParseFS(templateFiles, "templates/*.html")
}

// pageView is what every page template receives: the site chrome plus the
// page's own Data.
type pageView struct {
	Title    string
	Path     string
	Branding settings.Branding
	Colors   settings.Colors
	Contact  settings.Contact
	Menu     []content.MenuItem
	SignedIn bool
	IsAdmin  bool
	Year     int
	Data     any
}

type homeView struct {
	Hero         settings.Hero
	Benefits     []content.Benefit
	Services     []content.Service
	Testimonials []content.Testimonial
	FAQs         []content.FAQ
	CourseCount  int
}

type aboutView struct {
	Services     []content.Service
	Testimonials []content.Testimonial
}

type coursesView struct {
	Courses   []content.Course
	Trainings []content.Training
}

type registrationView struct {
	Values       registrations.Input
	Errors       editor.FieldErrors
	Submitted    bool
	ServiceTypes []string
}

type authView struct {
	Email string
	Next  string
	Error string
}

type certificateView struct {
	Document template.HTML
	Print    bool
}

type adminView struct {
	Schemas          []content.Schema
	SettingsKeys     []string
	Statuses         []registrations.Status
	Counts           map[string]int64
	LastRegistration time.Time
	MaxImageBytes    int
	MaxPDFBytes      int
}

func (h *httpHandler) registerPages(router *gin.Engine) {
	router.GET("/", h.handleHome)
	router.GET("/sobre", h.handleAbout)
	router.GET("/vantagens", h.handleBenefits)
	router.GET("/cursos", h.handleCourses)
	router.GET("/monitoramento", h.handleMonitoring)
	router.GET("/medicina", h.handleMedicine)
	router.GET("/faq", h.handleFAQ)
	router.GET("/contato", h.handleContact)
	router.GET("/inscricao", h.handleRegistrationForm)
	router.POST("/inscricao", h.handleRegistrationSubmit)
	router.GET("/auth", h.handleAuthPage)
	router.GET("/admin", h.requireAdminPage, h.handleAdminShell)
	router.GET("/certificado/:registrationNumber", h.handleCertificatePage)
	router.GET("/certificado/:registrationNumber/qr.png", h.handleCertificateQRCode)
}

// pageLoader collects the first error of a series of collection loads so a
// page handler can read several collections and check once.
type pageLoader struct {
	ctx      context.Context
	registry *content.Registry
	err      error
}

func activeRows[T content.Entry](loader *pageLoader) []T {
	if loader.err != nil {
		return nil
	}
	rows, err := content.Active[T](loader.ctx, loader.registry)
	if err != nil {
		loader.err = err
		return nil
	}
	return rows
}

func (h *httpHandler) loader(c *gin.Context) *pageLoader {
	return &pageLoader{ctx: c.Request.Context(), registry: h.collections}
}

func (h *httpHandler) renderLoaded(c *gin.Context, loader *pageLoader, name, title string, data any) {
	if loader.err != nil {
		h.logger.Error("page data load failed", zap.String("page", name), zap.Error(loader.err))
		h.renderPage(c, http.StatusInternalServerError, "error", "Erro", nil)
		return
	}
	h.renderPage(c, http.StatusOK, name, title, data)
}

func (h *httpHandler) renderPage(c *gin.Context, status int, name, title string, data any) {
	menu, err := content.Active[content.MenuItem](c.Request.Context(), h.collections)
	if err != nil {
		h.logger.Warn("menu load failed", zap.Error(err))
	}
	signedIn, admin := h.isAdmin(c)
	c.HTML(status, name, pageView{
		Title:    title,
		Path:     c.Request.URL.Path,
		Branding: h.settings.Branding(),
		Colors:   h.settings.Colors(),
		Contact:  h.settings.Contact(),
		Menu:     menu,
		SignedIn: signedIn,
		IsAdmin:  admin,
		Year:     time.Now().Year(),
		Data:     data,
	})
}

func (h *httpHandler) handleHome(c *gin.Context) {
	loader := h.loader(c)
	faqs := activeRows[content.FAQ](loader)
	if len(faqs) > homeFAQCount {
		faqs = faqs[:homeFAQCount]
	}
	view := homeView{
		Hero:         h.settings.Hero(),
		Benefits:     activeRows[content.Benefit](loader),
		Services:     activeRows[content.Service](loader),
		Testimonials: activeRows[content.Testimonial](loader),
		FAQs:         faqs,
		CourseCount:  len(activeRows[content.Course](loader)),
	}
	h.renderLoaded(c, loader, "home", "Início", view)
}

func (h *httpHandler) handleAbout(c *gin.Context) {
	loader := h.loader(c)
	view := aboutView{
		Services:     activeRows[content.Service](loader),
		Testimonials: activeRows[content.Testimonial](loader),
	}
	h.renderLoaded(c, loader, "about", "Sobre", view)
}

func (h *httpHandler) handleBenefits(c *gin.Context) {
	loader := h.loader(c)
	benefits := activeRows[content.Benefit](loader)
	h.renderLoaded(c, loader, "benefits", "Vantagens", benefits)
}

func (h *httpHandler) handleCourses(c *gin.Context) {
	loader := h.loader(c)
	view := coursesView{
		Courses:   activeRows[content.Course](loader),
		Trainings: activeRows[content.Training](loader),
	}
	h.renderLoaded(c, loader, "courses", "Cursos", view)
}

func (h *httpHandler) handleMonitoring(c *gin.Context) {
	loader := h.loader(c)
	services := activeRows[content.MonitoringService](loader)
	h.renderLoaded(c, loader, "monitoring", "Monitoramento", services)
}

func (h *httpHandler) handleMedicine(c *gin.Context) {
	loader := h.loader(c)
	services := activeRows[content.MedicineService](loader)
	h.renderLoaded(c, loader, "medicine", "Medicina do Trabalho", services)
}

func (h *httpHandler) handleFAQ(c *gin.Context) {
	loader := h.loader(c)
	faqs := activeRows[content.FAQ](loader)
	h.renderLoaded(c, loader, "faq", "Perguntas frequentes", faqs)
}

func (h *httpHandler) handleContact(c *gin.Context) {
	h.renderPage(c, http.StatusOK, "contact", "Contato", nil)
}

func (h *httpHandler) serviceTypes(c *gin.Context) ([]string, error) {
	courses, err := content.Active[content.Course](c.Request.Context(), h.collections)
	if err != nil {
		return nil, err
	}
	types := make([]string, 0, len(courses)+len(defaultServiceTypes))
	for _, course := range courses {
		types = append(types, course.Title)
	}
	return append(types, defaultServiceTypes...), nil
}

func (h *httpHandler) handleRegistrationForm(c *gin.Context) {
	types, err := h.serviceTypes(c)
	loader := &pageLoader{err: err}
	view := registrationView{
		Values:       registrations.Input{ServiceType: c.Query("servico")},
		Submitted:    c.Query("enviado") == "1",
		ServiceTypes: types,
	}
	h.renderLoaded(c, loader, "registration", "Inscrição", view)
}

// handleRegistrationSubmit takes the public form post. Field errors come
// back inline with the submitted values; success redirects so a reload does
// not resubmit.
func (h *httpHandler) handleRegistrationSubmit(c *gin.Context) {
	var input registrations.Input
	if err := c.ShouldBind(&input); err != nil {
		h.renderPage(c, http.StatusBadRequest, "error", "Erro", nil)
		return
	}
	_, err := h.registrations.Submit(c.Request.Context(), input)
	if err == nil {
		c.Redirect(http.StatusSeeOther, "/inscricao?enviado=1")
		return
	}
	var validationErr *editor.ValidationError
	if !errors.As(err, &validationErr) {
		h.logger.Error("registration submit failed", zap.Error(err))
		h.renderPage(c, http.StatusInternalServerError, "error", "Erro", nil)
		return
	}
	types, typesErr := h.serviceTypes(c)
	if typesErr != nil {
		h.logger.Warn("service types load failed", zap.Error(typesErr))
		types = defaultServiceTypes
	}
	h.renderPage(c, http.StatusUnprocessableEntity, "registration", "Inscrição", registrationView{
		Values:       input,
		Errors:       validationErr.Fields,
		ServiceTypes: types,
	})
}

func (h *httpHandler) handleAuthPage(c *gin.Context) {
	if _, admin := h.isAdmin(c); admin {
		c.Redirect(http.StatusSeeOther, safeNext(c.Query("next")))
		return
	}
	h.renderPage(c, http.StatusOK, "auth", "Entrar", authView{Next: c.Query("next")})
}

func (h *httpHandler) handleAdminShell(c *gin.Context) {
	ctx := c.Request.Context()
	counts, err := h.registrations.CountByStatus(ctx)
	if err != nil {
		h.logger.Error("admin dashboard load failed", zap.Error(err))
		h.renderPage(c, http.StatusInternalServerError, "error", "Erro", nil)
		return
	}
	view := adminView{
		Schemas:       h.collections.Schemas(),
		SettingsKeys:  settings.Keys(),
		Statuses:      registrations.Statuses(),
		Counts:        make(map[string]int64, len(counts)),
		MaxImageBytes: media.MaxImageBytes,
		MaxPDFBytes:   media.MaxPDFBytes,
	}
	for status, count := range counts {
		view.Counts[string(status)] = count
	}
	latest, err := h.registrations.List(ctx, "")
	if err != nil {
		h.logger.Warn("latest registration load failed", zap.Error(err))
	} else if len(latest) > 0 {
		view.LastRegistration = latest[0].CreatedAt
	}
	h.renderPage(c, http.StatusOK, "admin", "Painel", view)
}

// handleCertificatePage is the public verification page. Missing and
// inactive certificates render the same not-found page.
func (h *httpHandler) handleCertificatePage(c *gin.Context) {
	certificate, err := h.certificates.Lookup(c.Request.Context(), c.Param("registrationNumber"))
	if err != nil {
		h.renderCertificateError(c, err)
		return
	}
	mode := certificates.ModeScreen
	if cast.ToBool(c.Query("print")) {
		mode = certificates.ModePrint
	}
	document := certificates.Render(certificate, h.certificates.Origin(), mode)
	var buffer bytes.Buffer
	if err := certificates.WriteHTML(&buffer, document); err != nil {
		h.logger.Error("certificate render failed", zap.String("registration_number", certificate.RegistrationNumber), zap.Error(err))
		h.renderPage(c, http.StatusInternalServerError, "error", "Erro", nil)
		return
	}
	h.renderPage(c, http.StatusOK, "certificate", "Certificado "+certificate.RegistrationNumber, certificateView{
		Document: template.HTML(buffer.String()),
		Print:    document.Print(),
	})
}

// handleCertificateQRCode regenerates the QR code from the verification URL
// on every request.
func (h *httpHandler) handleCertificateQRCode(c *gin.Context) {
	certificate, err := h.certificates.Lookup(c.Request.Context(), c.Param("registrationNumber"))
	if err != nil {
		h.renderCertificateError(c, err)
		return
	}
	payload := certificates.VerificationURL(h.certificates.Origin(), certificate.RegistrationNumber)
	png, err := qrcode.Encode(payload, cast.ToInt(c.Query("size")))
	if err != nil {
		h.logger.Error("certificate qr encoding failed", zap.Error(err))
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

func (h *httpHandler) renderCertificateError(c *gin.Context, err error) {
	if errors.Is(err, certificates.ErrNotFound) {
		h.renderPage(c, http.StatusNotFound, "certificate_not_found", "Certificado não encontrado", c.Param("registrationNumber"))
		return
	}
	h.logger.Error("certificate lookup failed", zap.Error(err))
	h.renderPage(c, http.StatusInternalServerError, "error", "Erro", nil)
}
