package realtime

import (
	"log/slog"

	"notify-realtime/internal/config"
)

// TransportConfig is the resolved set of broker connection parameters.
// AppKey, Cluster and AuthEndpoint are required; Host and UseTLS are
// optional overrides for self-hosted brokers.
type TransportConfig struct {
	AppKey       string
	Cluster      string
	AuthEndpoint string
	Host         string
	UseTLS       bool
}

// ResolveTransportConfig copies the realtime settings and logs one
// diagnostic per missing required parameter. It never fails: a session
// built from an incomplete config runs degraded and its private channel
// subscriptions fail later.
func ResolveTransportConfig(cfg config.RealtimeConfig, log *slog.Logger) TransportConfig {
	tc := TransportConfig{
		AppKey:       cfg.AppKey,
		Cluster:      cfg.Cluster,
		AuthEndpoint: cfg.ChannelAuthEndpoint,
		Host:         cfg.Host,
		UseTLS:       cfg.UseTLS,
	}
	if log == nil {
		log = slog.Default()
	}
	for _, name := range tc.Missing() {
		log.Error("Realtime transport parameter missing", "parameter", name,
			"error", &Error{Kind: ConfigurationError, Op: "resolve", Err: errMissingParameter(name)})
	}
	return tc
}

// Missing lists the required parameters that are empty.
func (tc TransportConfig) Missing() []string {
	var missing []string
	if tc.AppKey == "" {
		missing = append(missing, "app_key")
	}
	if tc.Cluster == "" {
		missing = append(missing, "cluster")
	}
	if tc.AuthEndpoint == "" {
		missing = append(missing, "channel_auth_endpoint")
	}
	return missing
}

func (tc TransportConfig) Valid() bool {
	return len(tc.Missing()) == 0
}
