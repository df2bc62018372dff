package hue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/phixarhasse/musikhjaelpen-alert/internal/domain"
)

var ErrNoLights = errors.New("bridge reports no lights")

// Trigger is the forwarder sink that plays an effect per donation.
type Trigger struct {
	client *Client
	policy EffectPolicy
	clock  clockwork.Clock

	mu     sync.Mutex
	lights []Light
}

func NewTrigger(client *Client, policy EffectPolicy, clock clockwork.Clock) *Trigger {
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &Trigger{client: client, policy: policy, clock: clock}
}

func (t *Trigger) Name() string { return "hue" }

func (t *Trigger) Connect(ctx context.Context) error {
	lights, err := t.client.Lights(ctx)
	if err != nil {
		return err
	}
	if len(lights) == 0 {
		return ErrNoLights
	}

	t.mu.Lock()
	t.lights = lights
	t.mu.Unlock()

	slog.Info("Connected to Hue bridge", "lights", len(lights))
	return nil
}

func (t *Trigger) Deliver(ctx context.Context, event domain.DonationEvent) error {
	effect := t.policy.EffectFor(event.Class)
	slog.Debug("Playing light effect", "effect", effect, "class", event.Class.String(), "sequence", event.Sequence)
	return RunEffect(ctx, t, t.clock, effect)
}

func (t *Trigger) Close() error {
	t.mu.Lock()
	t.lights = nil
	t.mu.Unlock()
	return nil
}

// Lights returns the lights found by the last successful Connect.
func (t *Trigger) Lights() []Light {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Light(nil), t.lights...)
}

// SetAll applies state to every known light, continuing past individual failures.
func (t *Trigger) SetAll(ctx context.Context, state LightState) error {
	lights := t.Lights()
	if len(lights) == 0 {
		return ErrNoLights
	}

	var errs []error
	for _, l := range lights {
		if err := t.client.SetLight(ctx, l.ID, state); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%d of %d lights failed: %w", len(errs), len(lights), errors.Join(errs...))
	}
	return nil
}

func (t *Trigger) FlashGroup(ctx context.Context) error {
	return t.client.FlashGroup(ctx)
}
