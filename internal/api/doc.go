// Package api provides the local HTTP control API for linklight.
//
// It exposes the controller's state, its transition journal, the three
// lifecycle commands, and a WebSocket stream of transitions. It is meant
// for a loopback or maintenance interface, not the open network.
//
// # Endpoints
//
//	GET  /api/v1/health
//	GET  /api/v1/state
//	GET  /api/v1/transitions?limit=N
//	POST /api/v1/lifecycle/{start|stop|reset}   operator JWT if api.jwt.secret is set
//	GET  /api/v1/ws                             subscribe to "lifecycle.transition"
//	GET  /                                      status page (api.panel.enabled)
//
// # Usage
//
//	server, err := api.New(api.Deps{
//	    Config:     cfg.API,
//	    Logger:     log,
//	    Controller: ctrl,
//	    Journal:    repo,
//	    Bus:        eventBus,
//	})
//	if err != nil {
//	    return err
//	}
//	if err := server.Start(ctx); err != nil {
//	    return err
//	}
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
