package hue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/phixarhasse/musikhjaelpen-alert/internal/platform/retry"
)

type Effect string

const (
	EffectNone         Effect = "none"
	EffectGreenFlash   Effect = "green_flash"
	EffectRainbowBlink Effect = "rainbow_blink"
	EffectRedFlash     Effect = "red_flash"
	EffectShortGreen   Effect = "short_green"
)

var effects = map[Effect]func(ctx context.Context, r *runner) error{
	EffectNone:         func(context.Context, *runner) error { return nil },
	EffectGreenFlash:   greenFlash,
	EffectRainbowBlink: rainbowBlink,
	EffectRedFlash:     redFlash,
	EffectShortGreen:   shortGreen,
}

func ParseEffect(s string) (Effect, error) {
	e := Effect(s)
	if _, ok := effects[e]; !ok {
		return "", fmt.Errorf("unknown effect %q", s)
	}
	return e, nil
}

func Effects() []Effect {
	return []Effect{EffectNone, EffectGreenFlash, EffectRainbowBlink, EffectRedFlash, EffectShortGreen}
}

// Lights is what an effect needs from the bridge.
type Lights interface {
	SetAll(ctx context.Context, state LightState) error
	FlashGroup(ctx context.Context) error
}

var (
	stateGreen = LightState{
		On:      &OnState{On: true},
		Dimming: &Dimming{Brightness: 78.66},
		Color:   &Color{XY: XY{X: 0.1673, Y: 0.5968}},
	}
	statePrism = LightState{
		On:        &OnState{On: true},
		EffectsV2: &EffectsV2{Action: EffectAction{Effect: "prism"}},
	}
	stateOff = LightState{On: &OnState{On: false}}
	// Full-saturation red, hue 65000 on the legacy scale.
	stateRed = LightState{
		On:      &OnState{On: true},
		Dimming: &Dimming{Brightness: 78.74},
		Color:   &Color{XY: XY{X: 0.6750, Y: 0.3220}},
	}
	// Hue 29000 on the legacy scale.
	stateShortGreen = LightState{
		On:      &OnState{On: true},
		Dimming: &Dimming{Brightness: 78.74},
		Color:   &Color{XY: XY{X: 0.2151, Y: 0.7106}},
	}
)

const (
	redFlashCycles = 5
	restoreTimeout = 5 * time.Second
)

// RunEffect plays effect on lights. The restore step runs even when an
// earlier step fails or ctx is cancelled.
func RunEffect(ctx context.Context, lights Lights, clock clockwork.Clock, effect Effect) error {
	play, ok := effects[effect]
	if !ok {
		return fmt.Errorf("unknown effect %q", effect)
	}
	return play(ctx, &runner{lights: lights, clock: clock})
}

type runner struct {
	lights Lights
	clock  clockwork.Clock
}

func (r *runner) set(state LightState) func(context.Context) error {
	return func(ctx context.Context) error { return r.lights.SetAll(ctx, state) }
}

func (r *runner) flash(ctx context.Context) error {
	return r.lights.FlashGroup(ctx)
}

func (r *runner) wait(d time.Duration) func(context.Context) error {
	return func(ctx context.Context) error { return retry.Sleep(ctx, r.clock, d) }
}

// sequence runs steps in order, stopping at the first error, then restores prism.
func (r *runner) sequence(ctx context.Context, steps ...func(context.Context) error) error {
	var stepErr error
	for _, step := range steps {
		if stepErr = step(ctx); stepErr != nil {
			break
		}
	}

	restoreCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), restoreTimeout)
	defer cancel()
	if err := r.lights.SetAll(restoreCtx, statePrism); err != nil {
		return errors.Join(stepErr, fmt.Errorf("restore: %w", err))
	}
	return stepErr
}

func greenFlash(ctx context.Context, r *runner) error {
	return r.sequence(ctx,
		r.set(stateGreen),
		r.wait(500*time.Millisecond),
		r.flash,
		r.wait(8*time.Second),
	)
}

func rainbowBlink(ctx context.Context, r *runner) error {
	return r.sequence(ctx,
		r.set(statePrism),
		r.wait(200*time.Millisecond),
		r.flash,
		r.wait(8*time.Second),
	)
}

func redFlash(ctx context.Context, r *runner) error {
	steps := make([]func(context.Context) error, 0, redFlashCycles*4)
	for i := 0; i < redFlashCycles; i++ {
		steps = append(steps,
			r.set(stateOff),
			r.wait(500*time.Millisecond),
			r.set(stateRed),
			r.wait(500*time.Millisecond),
		)
	}
	return r.sequence(ctx, steps...)
}

func shortGreen(ctx context.Context, r *runner) error {
	return r.sequence(ctx,
		r.set(stateOff),
		r.wait(500*time.Millisecond),
		r.set(stateShortGreen),
		r.wait(4*time.Second),
	)
}
