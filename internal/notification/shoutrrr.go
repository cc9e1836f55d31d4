package notification

import (
	"context"
	"fmt"
	"io"
	"log"
	"slices"
	"strings"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/chestguard/chestguard/internal/conf"
	"github.com/chestguard/chestguard/internal/errors"
)

// ShoutrrrProvider sends via nicholas-fedor/shoutrrr.
// Creates a single sender for multiple URLs.
type ShoutrrrProvider struct {
	name    string
	enabled bool
	urls    []string
	sender  *router.ServiceRouter
	timeout time.Duration
}

// NewShoutrrrProvider builds the provider and validates its URLs.
func NewShoutrrrProvider(name string, enabled bool, urls []string, timeout time.Duration) (*ShoutrrrProvider, error) {
	sp := &ShoutrrrProvider{
		name:    strings.TrimSpace(name),
		enabled: enabled,
		urls:    slices.Clone(urls),
		timeout: timeout,
	}
	if sp.name == "" {
		sp.name = "shoutrrr"
	}
	if err := sp.ValidateConfig(); err != nil {
		return nil, err
	}
	return sp, nil
}

// NewFromSettings returns the configured provider, or nil when notifications
// are disabled.
func NewFromSettings(settings *conf.NotificationSettings) (*ShoutrrrProvider, error) {
	if !settings.Enabled {
		return nil, nil
	}
	return NewShoutrrrProvider("shoutrrr", true, settings.URLs, settings.Timeout)
}

func (s *ShoutrrrProvider) GetName() string { return s.name }
func (s *ShoutrrrProvider) IsEnabled() bool { return s.enabled }

// ValidateConfig builds the sender, which parses every URL.
func (s *ShoutrrrProvider) ValidateConfig() error {
	if !s.enabled {
		return nil
	}
	if len(s.urls) == 0 {
		return configError(fmt.Errorf("at least one URL is required"))
	}
	sender, err := shoutrrr.CreateSender(s.urls...)
	if err != nil {
		// URLs carry tokens
		return configError(errors.NewStd(errors.ScrubMessage(err.Error())))
	}
	s.sender = sender
	if s.timeout > 0 {
		s.sender.Timeout = s.timeout
	}
	s.sender.SetLogger(log.New(io.Discard, "", 0))
	return nil
}

// Send delivers n to every URL and returns the first error.
func (s *ShoutrrrProvider) Send(ctx context.Context, n *Notification) error {
	if s.sender == nil {
		return fmt.Errorf("shoutrrr sender not initialized")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	params := stypes.Params{}
	if n.Title != "" {
		params.SetTitle(n.Title)
	}
	for _, e := range s.sender.Send(n.Message, &params) {
		if e != nil {
			return errors.NewStd(errors.ScrubMessage(e.Error()))
		}
	}
	return nil
}

func configError(err error) error {
	return errors.New(err).
		Component("notification").
		Category(errors.CategoryConfiguration).
		Build()
}
