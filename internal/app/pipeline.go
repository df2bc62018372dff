package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// HubControl is the part of the hub the pipeline manages.
type HubControl interface {
	Close()
	Len() int
	Closed() bool
}

// AdapterStatus is a point-in-time view of one forwarder.
type AdapterStatus struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

// Status is a point-in-time view of the whole pipeline.
type Status struct {
	LastTotal int64           `json:"last_total"`
	LastPoll  *time.Time      `json:"last_poll,omitempty"`
	Consumers int             `json:"consumers"`
	HubClosed bool            `json:"hub_closed"`
	Adapters  []AdapterStatus `json:"adapters"`
}

type Pipeline struct {
	monitor    *Monitor
	hub        HubControl
	forwarders []*Forwarder
}

func NewPipeline(monitor *Monitor, h HubControl, forwarders ...*Forwarder) *Pipeline {
	return &Pipeline{monitor: monitor, hub: h, forwarders: forwarders}
}

// Run starts every forwarder, waits until each holds a hub handle, then
// starts the monitor. When ctx is cancelled the hub is closed, which
// releases all forwarders. Run returns once everything has stopped.
func (p *Pipeline) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, f := range p.forwarders {
		f := f
		g.Go(func() error { return f.Run(gctx) })
	}
	for _, f := range p.forwarders {
		select {
		case <-f.Registered():
		case <-gctx.Done():
		}
	}

	g.Go(func() error { return p.monitor.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		p.hub.Close()
		return nil
	})

	return g.Wait()
}

// Trigger forwards a manual donation to the monitor.
func (p *Pipeline) Trigger(ctx context.Context, t Trigger) (TriggerResult, error) {
	return p.monitor.Trigger(ctx, t)
}

func (p *Pipeline) Ready() bool {
	return p.monitor.Ready() && !p.hub.Closed()
}

func (p *Pipeline) Status() Status {
	s := Status{
		LastTotal: p.monitor.LastTotal(),
		Consumers: p.hub.Len(),
		HubClosed: p.hub.Closed(),
		Adapters:  make([]AdapterStatus, 0, len(p.forwarders)),
	}
	if t := p.monitor.LastPoll(); !t.IsZero() {
		s.LastPoll = &t
	}
	for _, f := range p.forwarders {
		s.Adapters = append(s.Adapters, AdapterStatus{Name: f.Name(), State: f.State().String()})
	}
	return s
}
