package editor

import "strings"

// Icon is one entry of the icon picker. Names follow the lucide icon set the
// public pages render.
type Icon struct {
	Name  string `json:"name"`
	Label string `json:"label"`
}

var iconCatalogue = []Icon{
	{Name: "activity", Label: "Atividade"},
	{Name: "alert-triangle", Label: "Alerta"},
	{Name: "award", Label: "Prêmio"},
	{Name: "book-open", Label: "Livro"},
	{Name: "briefcase", Label: "Maleta"},
	{Name: "building", Label: "Prédio"},
	{Name: "calendar", Label: "Calendário"},
	{Name: "check-circle", Label: "Confirmado"},
	{Name: "clipboard-check", Label: "Checklist"},
	{Name: "clock", Label: "Relógio"},
	{Name: "ear", Label: "Audição"},
	{Name: "eye", Label: "Visão"},
	{Name: "factory", Label: "Fábrica"},
	{Name: "file-text", Label: "Documento"},
	{Name: "flame", Label: "Incêndio"},
	{Name: "graduation-cap", Label: "Formatura"},
	{Name: "hammer", Label: "Martelo"},
	{Name: "hard-hat", Label: "Capacete"},
	{Name: "heart-pulse", Label: "Saúde"},
	{Name: "mail", Label: "E-mail"},
	{Name: "map-pin", Label: "Localização"},
	{Name: "phone", Label: "Telefone"},
	{Name: "shield", Label: "Escudo"},
	{Name: "shield-check", Label: "Proteção"},
	{Name: "star", Label: "Estrela"},
	{Name: "stethoscope", Label: "Estetoscópio"},
	{Name: "thermometer", Label: "Temperatura"},
	{Name: "truck", Label: "Caminhão"},
	{Name: "users", Label: "Equipe"},
	{Name: "wind", Label: "Ar"},
	{Name: "zap", Label: "Eletricidade"},
}

var emojiCatalogue = []string{
	"🦺", "⛑️", "🩺", "❤️", "🏭", "📋", "🎓", "🔥", "⚠️", "✅",
	"👷", "🧯", "🏥", "📞", "✉️", "⭐", "🛡️", "💼", "🕒", "📍",
}

// Icons returns the icons whose name or label contains filter, ignoring case.
// An empty filter returns the whole catalogue.
func Icons(filter string) []Icon {
	needle := strings.ToLower(strings.TrimSpace(filter))
	matches := make([]Icon, 0, len(iconCatalogue))
	for _, icon := range iconCatalogue {
		if needle == "" ||
			strings.Contains(icon.Name, needle) ||
			strings.Contains(strings.ToLower(icon.Label), needle) {
			matches = append(matches, icon)
		}
	}
	return matches
}

// Emojis returns the emoji picker's fixed set.
func Emojis() []string {
	return append([]string(nil), emojiCatalogue...)
}

func IsKnownIcon(name string) bool {
	for _, icon := range iconCatalogue {
		if icon.Name == name {
			return true
		}
	}
	return false
}

func IsKnownEmoji(glyph string) bool {
	for _, candidate := range emojiCatalogue {
		if candidate == glyph {
			return true
		}
	}
	return false
}
