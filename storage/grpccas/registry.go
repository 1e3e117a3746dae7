package grpccas

import (
	"fmt"
	"strconv"
	"time"

	"github.com/libertaria-project/mercury-rust/storage"
	"github.com/libertaria-project/mercury-rust/storage/registry"
)

func init() {
	registry.MustRegister(registry.Backend{
		Name:        "grpc",
		Description: "Remote document store served by another home (options: target, dial_timeout, timeout, max_msg_bytes)",
		Open:        open,
	})
}

func open(opts registry.Options) (storage.CAS, func() error, error) {
	target := opts.Get("target")
	if target == "" {
		return nil, nil, fmt.Errorf("grpccas: missing option %q", "target")
	}
	dialTimeout, err := durationOpt(opts, "dial_timeout", 5*time.Second)
	if err != nil {
		return nil, nil, err
	}
	timeout, err := durationOpt(opts, "timeout", 0)
	if err != nil {
		return nil, nil, err
	}
	maxMsg := 0
	if v := opts.Get("max_msg_bytes"); v != "" {
		if maxMsg, err = strconv.Atoi(v); err != nil {
			return nil, nil, fmt.Errorf("grpccas: max_msg_bytes: %w", err)
		}
	}
	client, err := Dial(target, DialOptions{Timeout: dialTimeout, MaxMsgBytes: maxMsg})
	if err != nil {
		return nil, nil, err
	}
	client.Timeout = timeout
	return client, client.Close, nil
}

func durationOpt(opts registry.Options, key string, def time.Duration) (time.Duration, error) {
	v := opts.Get(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("grpccas: %s: %w", key, err)
	}
	return d, nil
}
