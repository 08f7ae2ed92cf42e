package notification

import (
	"context"
	"io"
	"log"
	"slices"
	"strings"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/stationsafe/scanner-go/internal/errors"
	"github.com/stationsafe/scanner-go/internal/logger"
)

// Notification is one push message
type Notification struct {
	Title   string
	Message string
}

// Provider delivers notifications to an external service
type Provider interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// ShoutrrrProvider sends via nicholas-fedor/shoutrrr.
// Creates a single sender for multiple URLs.
type ShoutrrrProvider struct {
	name    string
	urls    []string
	timeout time.Duration
	sender  *router.ServiceRouter
}

// NewShoutrrrProvider builds the sender and validates every URL
func NewShoutrrrProvider(name string, urls []string, timeout time.Duration) (*ShoutrrrProvider, error) {
	sp := &ShoutrrrProvider{
		name:    strings.TrimSpace(name),
		urls:    slices.Clone(urls),
		timeout: timeout,
	}
	if sp.name == "" {
		sp.name = "shoutrrr"
	}
	if len(sp.urls) == 0 {
		return nil, errors.Newf("at least one notification URL is required").
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}

	sender, err := shoutrrr.CreateSender(sp.urls...)
	if err != nil {
		// service URLs often carry tokens
		return nil, errors.Newf("%s", logger.RedactSensitiveData(err.Error())).
			Component("notification").
			Category(errors.CategoryConfiguration).
			Context("provider", sp.name).
			Build()
	}
	if sp.timeout > 0 {
		sender.Timeout = sp.timeout
	}
	sender.SetLogger(log.New(io.Discard, "", 0))
	sp.sender = sender
	return sp, nil
}

// Name implements Provider
func (s *ShoutrrrProvider) Name() string { return s.name }

// Send implements Provider. The router applies its own timeout.
func (s *ShoutrrrProvider) Send(_ context.Context, n *Notification) error {
	params := stypes.Params{}
	if n.Title != "" {
		params.SetTitle(n.Title)
	}
	for _, err := range s.sender.Send(n.Message, &params) {
		if err != nil {
			return errors.Newf("%s", logger.RedactSensitiveData(err.Error())).
				Component("notification").
				Category(errors.CategoryNotification).
				Context("provider", s.name).
				Build()
		}
	}
	return nil
}
