// Package app assembles the collector from configuration: logging and
// telemetry, the upstream client, cache and checkpoint stores, the
// last-run tracker, the three-step collection pipeline and, in server
// mode, the HTTP control surface and websocket feed.
//
// Both binaries go through New:
//
//	a, err := app.New(ctx, cfg, logger, app.Options{Stream: true})
//	if err != nil {
//	    return err
//	}
//	defer a.Close(context.Background())
//	return a.Serve(ctx)
package app
