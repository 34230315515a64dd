/*
Package resilience provides a small circuit breaker for outbound calls.

Tracking vendors are frequently unreachable from a lab machine (ad blockers,
offline classrooms, DNS sinkholes). The egress originals and the tag script
loader run through a Breaker so a dead endpoint costs one timeout per
cooldown instead of one per captured event.

# Usage

	breaker := resilience.New("egress", resilience.Settings{
		Threshold: 3,
		Cooldown:  30 * time.Second,
	})

	resp, err := resilience.Execute(breaker, func() (*resty.Response, error) {
		return req.Post(url)
	})

# States

	Closed --[Threshold failures]-> Open --[Cooldown]-> Half-Open --[probe ok]-> Closed
	                                                       |
	                                                 [probe failed]
	                                                       v
	                                                     Open
*/
package resilience
