// Package credentials resolves the API key of the export service.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/manifoldco/promptui"
)

// ErrNoAPIKey is returned when a provider has no key to offer.
var ErrNoAPIKey = errors.New("no API key available")

// Provider supplies the API key.
type Provider interface {
	APIKey(ctx context.Context) (string, error)
}

// Static is a fixed key, typically from the config file.
type Static string

// APIKey implements Provider.
func (s Static) APIKey(context.Context) (string, error) {
	key := strings.TrimSpace(string(s))
	if key == "" {
		return "", ErrNoAPIKey
	}
	return key, nil
}

// Env reads the key from an environment variable.
type Env struct {
	Name   string
	Lookup func(string) (string, bool) // defaults to os.LookupEnv
}

// APIKey implements Provider.
func (e Env) APIKey(context.Context) (string, error) {
	lookup := e.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}

	v, ok := lookup(e.Name)
	if !ok || strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("%w: %s is not set", ErrNoAPIKey, e.Name)
	}
	return strings.TrimSpace(v), nil
}

// Prompt asks for the key on the terminal with masked input.
type Prompt struct {
	Label string

	run func(promptui.Prompt) (string, error)
}

// APIKey implements Provider.
func (p Prompt) APIKey(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	label := p.Label
	if label == "" {
		label = "API key"
	}
	prompt := promptui.Prompt{
		Label: label,
		Mask:  '*',
		Validate: func(s string) error {
			if len(strings.TrimSpace(s)) == 0 {
				return fmt.Errorf("invalid API key")
			}
			return nil
		},
	}

	run := p.run
	if run == nil {
		run = func(pr promptui.Prompt) (string, error) { return pr.Run() }
	}

	key, err := run(prompt)
	if err != nil {
		return "", fmt.Errorf("failed to read API key: %w", err)
	}
	return strings.TrimSpace(key), nil
}

// Chain tries providers in order and returns the first key found.
type Chain []Provider

// APIKey implements Provider. Only ErrNoAPIKey moves on to the next
// provider; any other failure stops the chain.
func (c Chain) APIKey(ctx context.Context) (string, error) {
	for _, p := range c {
		key, err := p.APIKey(ctx)
		if err == nil {
			return key, nil
		}
		if !errors.Is(err, ErrNoAPIKey) {
			return "", err
		}
	}
	return "", ErrNoAPIKey
}
