package observability

// These satisfy auth.Metrics.

func (p *Prom) IncLogin(result string) {
	p.LoginsTotal.WithLabelValues(result).Inc()
}

func (p *Prom) IncLockout() {
	p.LockoutsTotal.Inc()
}

func (p *Prom) IncTokenRejection(reason string) {
	p.TokenRejectionsTotal.WithLabelValues(reason).Inc()
}

func (p *Prom) IncRateLimited(route string) {
	p.RateLimitedTotal.WithLabelValues(route).Inc()
}
