package notify

import (
	"sort"
	"strings"
	"time"

	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/model"
)

// TemplateData fills the placeholders of a message template.
type TemplateData struct {
	CustomerName string
	Professional string
	Service      string
	Start        time.Time
	Location     *time.Location
}

// Render substitutes {{customer_name}}, {{date}}, {{time}}, {{professional}}
// and {{service}}. Unknown placeholders are left as written.
func Render(body string, d TemplateData) string {
	loc := d.Location
	if loc == nil {
		loc = time.UTC
	}
	local := d.Start.In(loc)
	r := strings.NewReplacer(
		"{{customer_name}}", d.CustomerName,
		"{{date}}", local.Format("02/01/2006"),
		"{{time}}", local.Format("15:04"),
		"{{professional}}", d.Professional,
		"{{service}}", d.Service,
	)
	return r.Replace(body)
}

// ChannelPreference lists the company's enabled channels in preference order.
func ChannelPreference(cfg model.CompanyConfig) []model.Channel {
	order := cfg.ChannelOrder
	if len(order) == 0 {
		order = []model.Channel{model.ChannelWhatsApp, model.ChannelSMS, model.ChannelEmail}
	}
	seen := make(map[model.Channel]bool, len(order))
	out := make([]model.Channel, 0, len(order))
	for _, ch := range order {
		if seen[ch] || !cfg.ChannelEnabled(ch) {
			continue
		}
		seen[ch] = true
		out = append(out, ch)
	}
	return out
}

// PickTemplate returns the best active template for channel: the default
// first, then the most recently updated, then the smallest id.
func PickTemplate(templates []model.MessageTemplate, channel model.Channel) (model.MessageTemplate, bool) {
	var candidates []model.MessageTemplate
	for _, t := range templates {
		if t.Active && t.Channel == channel {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return model.MessageTemplate{}, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.IsDefault != b.IsDefault {
			return a.IsDefault
		}
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID < b.ID
	})
	return candidates[0], true
}

func subjectFor(t model.TemplateType) string {
	switch t {
	case model.TemplateConfirmation:
		return "Appointment confirmed"
	case model.TemplateReminder:
		return "Appointment reminder"
	case model.TemplateCancellation:
		return "Appointment cancelled"
	}
	return "Appointment update"
}
