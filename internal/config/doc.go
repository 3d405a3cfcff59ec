// Package config provides loading and environment overlay for Chatty
// runtime configuration. It exposes a Default() baseline, a CHATTY_* env
// overlay, and a Validate() that checks every required key at startup so a
// misconfigured process refuses to boot instead of failing mid-request.
//
// Example:
//
//	cfg := config.Default()
//	config.FromEnv(&cfg)
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
//	rt, _ := runtime.Open(ctx, runtime.Options{Config: cfg, Logger: logger})
//	defer rt.Close()
package config
