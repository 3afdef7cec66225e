package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks struct tag rules, then the rules tags cannot express.
func (c *Config) Validate() error {
	if err := getValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fieldMessage(fe))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}
	if c.Poller.OtherPollMS < c.Poller.PollMS {
		return fmt.Errorf("OTHER_POLL_MS (%d) must not be shorter than POLL_MS (%d)",
			c.Poller.OtherPollMS, c.Poller.PollMS)
	}
	return nil
}

func fieldMessage(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		ns = ns[i+1:]
	}
	switch fe.Tag() {
	case "required", "required_if":
		return fmt.Sprintf("%s is required", ns)
	case "url":
		return fmt.Sprintf("%s must be a valid URL, got %q", ns, fe.Value())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %v", ns, fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("%s failed %s=%s (got %v)", ns, fe.Tag(), fe.Param(), fe.Value())
	}
}
