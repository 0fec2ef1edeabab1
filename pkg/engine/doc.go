// Package engine assembles the mock server: the cursor store, the script
// sandbox, the behaviour resolver, the plugins and the HTTP listener.
//
// A Server is built from a ServerConfig and the loaded routes:
//
//	srv, err := engine.NewServer(cfg, routes, engine.WithLogger(log))
//	if err != nil {
//		return err
//	}
//	if err := srv.Start(); err != nil {
//		return err
//	}
//	defer srv.Stop()
//
// Besides the plugin routes every server answers GET /system/status and
// GET /system/metrics.
package engine
