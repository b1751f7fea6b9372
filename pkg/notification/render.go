package notification

import (
	"strings"
	"time"

	"github.com/amirasaad/ecclesia/pkg/domain/payer"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Placeholders understood by templates. Unknown placeholders are left as is.
const (
	PlaceholderName    = "{{name}}"
	PlaceholderAmount  = "{{amount}}"
	PlaceholderDueDate = "{{due_date}}"
	PlaceholderTenant  = "{{tenant}}"
	PlaceholderLink    = "{{link}}"
)

// Vars are the values substituted into a template.
type Vars struct {
	Name    string
	Amount  *decimal.Decimal
	DueDate time.Time
	Tenant  string
	Link    string
}

// Renderer formats amounts and dates in the tenant locale.
type Renderer struct {
	tag     language.Tag
	unit    currency.Unit
	group   string
	decimal string
}

// NewRenderer builds a Renderer for tenant. Invalid locale or currency
// fall back to pt-BR and BRL.
func NewRenderer(tenant *payer.Tenant) *Renderer {
	tag, err := language.Parse(tenant.Locale)
	if err != nil || tenant.Locale == "" {
		tag = language.BrazilianPortuguese
	}
	unit, err := currency.ParseISO(tenant.Currency)
	if err != nil {
		unit = currency.BRL
	}
	group, dec := separators(tag)
	return &Renderer{tag: tag, unit: unit, group: group, decimal: dec}
}

func separators(tag language.Tag) (group, decimal string) {
	base, _ := tag.Base()
	switch base.String() {
	case "pt", "es", "de", "it", "nl":
		return ".", ","
	case "fr":
		return "\u202f", ","
	}
	return ",", "."
}

// Render substitutes vars into tmpl.
func (r *Renderer) Render(tmpl string, vars Vars) string {
	pairs := []string{
		PlaceholderName, vars.Name,
		PlaceholderTenant, vars.Tenant,
		PlaceholderLink, vars.Link,
		PlaceholderAmount, "",
		PlaceholderDueDate, "",
	}
	if vars.Amount != nil {
		pairs[7] = r.Amount(*vars.Amount)
	}
	if !vars.DueDate.IsZero() {
		pairs[9] = r.Date(vars.DueDate)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

// Amount renders d with the currency symbol and locale separators. The
// digits come from the decimal itself and are never rounded through a float.
func (r *Renderer) Amount(d decimal.Decimal) string {
	digits := d.StringFixed(2)
	sign := ""
	if rest, ok := strings.CutPrefix(digits, "-"); ok {
		sign, digits = "-", rest
	}
	whole, frac, _ := strings.Cut(digits, ".")
	var b strings.Builder
	for i, c := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteString(r.group)
		}
		b.WriteRune(c)
	}
	symbol := message.NewPrinter(r.tag).Sprint(currency.NarrowSymbol(r.unit))
	return symbol + " " + sign + b.String() + r.decimal + frac
}

// Date renders t as a short local date.
func (r *Renderer) Date(t time.Time) string {
	base, _ := r.tag.Base()
	switch base.String() {
	case "en":
		if region, _ := r.tag.Region(); region.String() == "US" {
			return t.Format("01/02/2006")
		}
		return t.Format("02/01/2006")
	case "pt", "es", "fr", "it":
		return t.Format("02/01/2006")
	case "de":
		return t.Format("02.01.2006")
	}
	return t.Format("2006-01-02")
}
