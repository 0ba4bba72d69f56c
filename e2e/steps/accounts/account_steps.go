package accounts

import (
	"context"
	"fmt"
	"net/http"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body any) error
	GetResponseField(field string) (any, error)
	GetLastResponseStatus() int
	GetLastResponseBody() []byte
	SetPassword(identifier, password string)
	VerificationToken(email string) (string, error)
}

// RegisterSteps registers account provisioning steps
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &accountSteps{tc: tc}

	ctx.Step(`^an admin "([^"]*)" with email "([^"]*)" and password "([^"]*)"$`, steps.adminExists)
	ctx.Step(`^I sign in as "([^"]*)" with password "([^"]*)"$`, steps.signIn)
}

type accountSteps struct {
	tc TestContext
}

// adminExists signs up and activates an account with the token from the
// verification email.
func (s *accountSteps) adminExists(ctx context.Context, fullName, email, password string) error {
	err := s.tc.POST("/auth/signup", map[string]string{
		"full_name": fullName,
		"email":     email,
		"password":  password,
	})
	if err != nil {
		return err
	}
	// Against a shared backend the account may survive from an earlier run.
	if s.tc.GetLastResponseStatus() == http.StatusConflict {
		s.tc.SetPassword(email, password)
		return nil
	}
	if s.tc.GetLastResponseStatus() != http.StatusCreated {
		return fmt.Errorf("signup failed with %d: %s", s.tc.GetLastResponseStatus(), s.tc.GetLastResponseBody())
	}
	accountID, err := s.tc.GetResponseField("id")
	if err != nil {
		return err
	}

	token, err := s.tc.VerificationToken(email)
	if err != nil {
		return err
	}
	if err := s.tc.POST(fmt.Sprintf("/auth/accounts/%v/activate", accountID), map[string]string{"token": token}); err != nil {
		return err
	}
	if s.tc.GetLastResponseStatus() != http.StatusOK {
		return fmt.Errorf("activation failed with %d: %s", s.tc.GetLastResponseStatus(), s.tc.GetLastResponseBody())
	}
	code, err := s.tc.GetResponseField("admin_id")
	if err != nil {
		return err
	}

	s.tc.SetPassword(email, password)
	s.tc.SetPassword(fmt.Sprint(code), password)
	return nil
}

func (s *accountSteps) signIn(ctx context.Context, identifier, password string) error {
	return s.tc.POST("/auth/token", map[string]string{
		"identifier": identifier,
		"password":   password,
	})
}
