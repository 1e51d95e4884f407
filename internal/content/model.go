package content

import "time"

const (
	columnID           = "id"
	columnDisplayOrder = "display_order"
	columnIsActive     = "is_active"
	columnCreatedAt    = "created_at"
	columnUpdatedAt    = "updated_at"
)

// Ordered holds the columns every collection row carries.
type Ordered struct {
	ID           string    `gorm:"column:id;primaryKey;size:64" json:"id"`
	DisplayOrder int       `gorm:"column:display_order;not null;default:0;index" json:"display_order"`
	IsActive     bool      `gorm:"column:is_active;not null;default:true" json:"is_active"`
	CreatedAt    time.Time `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at;not null" json:"updated_at"`
}

// Position exposes the ordering columns of a row.
func (o Ordered) Position() Ordered {
	return o
}

// Entry is implemented by every collection model.
type Entry interface {
	TableName() string
	Position() Ordered
}

type Course struct {
	Ordered
	Title       string `gorm:"column:title;not null" json:"title"`
	Subtitle    string `gorm:"column:subtitle" json:"subtitle"`
	Description string `gorm:"column:description" json:"description"`
	Norm        string `gorm:"column:norm" json:"norm"`
	Duration    string `gorm:"column:duration" json:"duration"`
	Icon        string `gorm:"column:icon" json:"icon"`
	ImageURL    string `gorm:"column:image_url" json:"image_url"`
}

func (Course) TableName() string { return "courses" }

type Training struct {
	Ordered
	Title       string `gorm:"column:title;not null" json:"title"`
	Description string `gorm:"column:description" json:"description"`
	Duration    string `gorm:"column:duration" json:"duration"`
	Icon        string `gorm:"column:icon" json:"icon"`
}

func (Training) TableName() string { return "trainings" }

type Benefit struct {
	Ordered
	Title       string `gorm:"column:title;not null" json:"title"`
	Description string `gorm:"column:description" json:"description"`
	Icon        string `gorm:"column:icon" json:"icon"`
	Emoji       string `gorm:"column:emoji" json:"emoji"`
}

func (Benefit) TableName() string { return "benefits" }

type MonitoringService struct {
	Ordered
	Title       string `gorm:"column:title;not null" json:"title"`
	Description string `gorm:"column:description" json:"description"`
	Icon        string `gorm:"column:icon" json:"icon"`
}

func (MonitoringService) TableName() string { return "monitoring_services" }

type MedicineService struct {
	Ordered
	Title       string `gorm:"column:title;not null" json:"title"`
	Description string `gorm:"column:description" json:"description"`
	Icon        string `gorm:"column:icon" json:"icon"`
}

func (MedicineService) TableName() string { return "medicine_services" }

// Service is a generic company service card, shown with a logo.
type Service struct {
	Ordered
	Title       string `gorm:"column:title;not null" json:"title"`
	Subtitle    string `gorm:"column:subtitle" json:"subtitle"`
	Description string `gorm:"column:description" json:"description"`
	Icon        string `gorm:"column:icon" json:"icon"`
	LogoURL     string `gorm:"column:logo_url" json:"logo_url"`
}

func (Service) TableName() string { return "services" }

type FAQ struct {
	Ordered
	Question string `gorm:"column:question;not null" json:"question"`
	Answer   string `gorm:"column:answer;not null" json:"answer"`
}

func (FAQ) TableName() string { return "faqs" }

type Testimonial struct {
	Ordered
	AuthorName string `gorm:"column:author_name;not null" json:"author_name"`
	AuthorRole string `gorm:"column:author_role" json:"author_role"`
	Company    string `gorm:"column:company" json:"company"`
	Quote      string `gorm:"column:quote;not null" json:"quote"`
	Rating     int    `gorm:"column:rating;not null;default:5" json:"rating"`
	AvatarURL  string `gorm:"column:avatar_url" json:"avatar_url"`
}

func (Testimonial) TableName() string { return "testimonials" }

type MenuItem struct {
	Ordered
	Label  string `gorm:"column:label;not null" json:"label"`
	Href   string `gorm:"column:href;not null" json:"href"`
	Target string `gorm:"column:target" json:"target"`
	Emoji  string `gorm:"column:emoji" json:"emoji"`
}

func (MenuItem) TableName() string { return "menu_items" }

// QRCodeLink is a client link printed as a QR code. When WhatsAppNumber is
// set the code opens a WhatsApp chat instead of Link.
type QRCodeLink struct {
	Ordered
	ClientName     string `gorm:"column:client_name;not null" json:"client_name"`
	Link           string `gorm:"column:link;not null" json:"link"`
	WhatsAppNumber string `gorm:"column:whatsapp_number" json:"whatsapp_number"`
}

func (QRCodeLink) TableName() string { return "qr_code_links" }

// Models lists every collection model for schema migration.
func Models() []any {
	return []any{
		&Course{}, &Training{}, &Benefit{}, &MonitoringService{}, &MedicineService{},
		&Service{}, &FAQ{}, &Testimonial{}, &MenuItem{}, &QRCodeLink{},
	}
}
