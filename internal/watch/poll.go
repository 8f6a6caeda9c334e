package watch

import "zonewatch/internal/reactor"

// pollSource rescans the zones directory every ScanInterval.
type pollSource struct {
	w     *Watcher
	timer *reactor.Timer
}

func newPollSource(w *Watcher) *pollSource {
	return &pollSource{w: w}
}

func (p *pollSource) Mode() string { return ModePoll }

func (p *pollSource) Start(loop *reactor.Loop) error {
	p.timer = loop.NewTimer(p.tick)
	p.timer.Start(p.w.opts.ScanInterval)
	p.w.logger.Info("scanning zones directory for changes", "dir", p.w.dir, "interval", p.w.opts.ScanInterval)
	return nil
}

func (p *pollSource) tick() {
	p.w.scan()
	p.timer.Start(p.w.opts.ScanInterval)
}

func (p *pollSource) Stop() error {
	if p.timer != nil {
		p.timer.Stop()
	}
	return nil
}
