// Package lifecycle implements the connectivity lifecycle controller: the
// state machine that takes the device from idle through WiFi association
// and broker session establishment, recovers from drops, and drives the
// status indicator from its state.
//
// # States
//
//	idle ──start──▶ associating ──ok──▶ associated ──▶ session_connecting ──ok──▶ session_active
//	                   │  ▲                                 │  ▲                      │
//	                   │  └─retry (backoff)                 │  └─retry (backoff)      │ drop
//	                   ▼                                    ▼                         ▼
//	                faulted ◀──────────── budget exhausted ─┘                      degraded
//	                   │                                                  (→ associating or
//	                   └──reset──▶ idle                                     session_connecting)
//
// stop returns to idle from every state.
//
// # Concurrency
//
// Run is the only goroutine that changes state. Commands, network results,
// drop events and retry timers all arrive on one queue. Network calls run
// on a separate serial worker; each carries an epoch so results and timers
// from abandoned attempts are discarded.
//
// # Usage
//
//	ctrl, err := lifecycle.New(cfg, client, led, lifecycle.Options{
//	    Association: lifecycle.DefaultRetryPolicy(),
//	    Session:     lifecycle.DefaultRetryPolicy(),
//	})
//	if err != nil {
//	    return err
//	}
//	go ctrl.Run(ctx)
//	ctrl.Start()
package lifecycle
