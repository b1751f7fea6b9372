package cron_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/amirasaad/ecclesia/pkg/domain/notification"
	"github.com/amirasaad/ecclesia/webapi/testutils"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
)

type CronTestSuite struct {
	testutils.Suite
}

func TestCronTestSuite(t *testing.T) {
	suite.Run(t, new(CronTestSuite))
}

func (s *CronTestSuite) run(auth string) (int, map[string]any) {
	req := httptest.NewRequest("POST", "/cron/notifications", nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	resp, err := s.App.Test(req, -1)
	s.Require().NoError(err)
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func (s *CronTestSuite) TestRequiresSecret() {
	status, _ := s.run("")
	s.Equal(401, status)
	status, _ = s.run("Bearer wrong")
	s.Equal(401, status)
}

func (s *CronTestSuite) TestRun_SendsDueReminderOnce() {
	// The suite payer is due on the 10th; aim a reminder at today.
	offset := time.Now().In(s.Tenant.Location()).Day() - s.Payer.DueDay
	s.Require().NoError(s.Rules.Create(context.Background(), &notification.Rule{
		ID:         uuid.New(),
		TenantID:   s.Tenant.ID,
		Name:       "Lembrete",
		Trigger:    notification.TriggerPaymentDueReminder,
		DaysOffset: offset,
		Template:   "Olá {{name}}, sua contribuição vence em {{due_date}}.",
		Email:      true,
		Active:     true,
	}))

	status, out := s.run("Bearer " + testutils.CronSecret)
	s.Equal(200, status)
	s.Equal("executed", out["status"])
	s.NotEmpty(out["timestamp"])
	s.Equal(float64(1), out["sent"])
	s.Len(s.Email.Sent(), 1)

	status, out = s.run("Bearer " + testutils.CronSecret)
	s.Equal(200, status)
	s.Equal(float64(0), out["sent"])
	s.Equal(float64(1), out["deduplicated"])
	s.Len(s.Email.Sent(), 1, "the ledger keeps the reminder to one per period")
}
