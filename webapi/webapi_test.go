package webapi_test

import (
	"fmt"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/amirasaad/ecclesia/pkg/middleware"
	"github.com/amirasaad/ecclesia/webapi"
	"github.com/amirasaad/ecclesia/webapi/testutils"
	"github.com/stretchr/testify/suite"
)

type AppTestSuite struct {
	testutils.Suite
}

func TestAppTestSuite(t *testing.T) {
	suite.Run(t, new(AppTestSuite))
}

func (s *AppTestSuite) TestHealth() {
	resp := s.MakeRequest("GET", "/", "", "")
	s.Equal(200, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)
	s.Contains(string(body), "running")
}

func (s *AppTestSuite) TestMetricsExposesCounters() {
	s.MakeRequest("POST", "/payments", `{"amount":"12.00","method":"pix"}`, s.TokenFor(middleware.RoleMember))

	resp := s.MakeRequest("GET", "/metrics", "", "")
	s.Equal(200, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)
	s.Contains(string(body), "ecclesia_charges_total")
}

func (s *AppTestSuite) TestGlobalRateLimit() {
	s.Cfg.RateLimit.MaxRequests = 2
	s.App = webapi.SetupApp(s.Core)

	token := s.TokenFor(middleware.RoleAdmin)
	for i := 0; i < 2; i++ {
		resp := s.MakeRequest("GET", "/notification-rules", "", token)
		s.Equal(200, resp.StatusCode)
		s.Equal("2", resp.Header.Get("X-RateLimit-Limit"))
	}
	resp := s.MakeRequest("GET", "/notification-rules", "", token)
	s.Equal(429, resp.StatusCode)
	s.Equal("application/problem+json", resp.Header.Get("Content-Type"))

	s.Equal(200, s.MakeRequest("GET", "/", "", "").StatusCode, "health is never limited")
}

func (s *AppTestSuite) TestGlobalRateLimit_IgnoresSpoofedForwardedFor() {
	s.Cfg.RateLimit.MaxRequests = 2
	s.App = webapi.SetupApp(s.Core)

	codes := make([]int, 0, 3)
	for i := 1; i <= 3; i++ {
		req := httptest.NewRequest("GET", "/nope", nil)
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i))
		resp, err := s.App.Test(req, -1)
		s.Require().NoError(err)
		codes = append(codes, resp.StatusCode)
	}
	s.Equal(429, codes[2], "the header is not trusted without a configured proxy")
}

func (s *AppTestSuite) TestGlobalRateLimit_TrustedProxy() {
	s.Cfg.RateLimit.MaxRequests = 1
	s.Cfg.Server.ProxyHeader = "X-Forwarded-For"
	s.Cfg.Server.TrustedProxies = []string{"0.0.0.0"}
	s.App = webapi.SetupApp(s.Core)

	for _, ip := range []string{"203.0.113.1", "203.0.113.2"} {
		req := httptest.NewRequest("GET", "/nope", nil)
		req.Header.Set("X-Forwarded-For", ip)
		resp, err := s.App.Test(req, -1)
		s.Require().NoError(err)
		s.Equal(404, resp.StatusCode, "each forwarded client has its own window")
	}
}

func (s *AppTestSuite) TestUnknownRoute() {
	s.Equal(404, s.MakeRequest("GET", "/nope", "", "").StatusCode)
}
