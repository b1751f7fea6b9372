package notification_test

import (
	"strings"
	"testing"
	"time"

	"github.com/amirasaad/ecclesia/pkg/domain/payer"
	engine "github.com/amirasaad/ecclesia/pkg/notification"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestRender(t *testing.T) {
	r := engine.NewRenderer(&payer.Tenant{Locale: "pt-BR", Currency: "BRL"})
	amount := decimal.RequireFromString("50.00")

	out := r.Render("Olá {{name}}, sua contribuição de {{amount}} vence em {{due_date}}. {{tenant}} {{link}} {{unknown}}", engine.Vars{
		Name:    "Ana",
		Amount:  &amount,
		DueDate: time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC),
		Tenant:  "Igreja Central",
		Link:    "https://igreja.example/c?token=abc",
	})

	assert.Contains(t, out, "Olá Ana")
	assert.Contains(t, out, "R$")
	assert.Contains(t, out, "50")
	assert.Contains(t, out, "10/06/2024")
	assert.Contains(t, out, "Igreja Central https://igreja.example/c?token=abc")
	assert.Contains(t, out, "{{unknown}}")
}

func TestRender_AmountIsExact(t *testing.T) {
	tests := []struct {
		locale string
		amount string
		want   string
	}{
		{"pt-BR", "50", "50,00"},
		{"pt-BR", "1234567.89", "1.234.567,89"},
		{"pt-BR", "9007199254740993.01", "9.007.199.254.740.993,01"},
		{"pt-BR", "0.005", "0,01"},
		{"pt-BR", "-12.5", "-12,50"},
		{"en-US", "1234.5", "1,234.50"},
		{"de-DE", "999", "999,00"},
	}
	for _, tt := range tests {
		t.Run(tt.locale+" "+tt.amount, func(t *testing.T) {
			r := engine.NewRenderer(&payer.Tenant{Locale: tt.locale, Currency: "BRL"})
			got := r.Amount(decimal.RequireFromString(tt.amount))
			assert.True(t, strings.HasSuffix(got, " "+tt.want), "got %q", got)
		})
	}
	assert.Equal(t, "R$ 50,00", engine.NewRenderer(&payer.Tenant{Locale: "pt-BR", Currency: "BRL"}).
		Amount(decimal.RequireFromString("50")))
}

func TestRender_MissingValuesRenderEmpty(t *testing.T) {
	r := engine.NewRenderer(&payer.Tenant{})
	assert.Equal(t, "[] []", r.Render("[{{amount}}] [{{due_date}}]", engine.Vars{}))
}

func TestRender_DateByLocale(t *testing.T) {
	d := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	tests := map[string]string{
		"pt-BR": "10/06/2024",
		"en-US": "06/10/2024",
		"en-GB": "10/06/2024",
		"de-DE": "10.06.2024",
		"ja-JP": "2024-06-10",
	}
	for locale, want := range tests {
		t.Run(locale, func(t *testing.T) {
			assert.Equal(t, want, engine.NewRenderer(&payer.Tenant{Locale: locale}).Date(d))
		})
	}
}
