package run

import (
	"github.com/spf13/cobra"

	"github.com/foodios/appview/cmd/util"
)

// bindRunFlags binds the command flags to their config keys and environment
// variables so flags, APPVIEW_* env vars and config.yaml resolve to the same
// values.
func bindRunFlags(command *cobra.Command) {
	flags := command.Flags()

	util.MustBindPFlag("http.addr", flags.Lookup("http-addr"))
	util.MustBindEnv("http.addr", "APPVIEW_HTTP_ADDR")

	util.MustBindPFlag("http.read-header-timeout", flags.Lookup("http-read-header-timeout"))
	util.MustBindEnv("http.read-header-timeout", "APPVIEW_HTTP_READ_HEADER_TIMEOUT")

	util.MustBindPFlag("http.shutdown-timeout", flags.Lookup("http-shutdown-timeout"))
	util.MustBindEnv("http.shutdown-timeout", "APPVIEW_HTTP_SHUTDOWN_TIMEOUT")

	util.MustBindPFlag("datastore.engine", flags.Lookup("datastore-engine"))
	util.MustBindEnv("datastore.engine", "APPVIEW_DATASTORE_ENGINE")

	util.MustBindPFlag("datastore.uri", flags.Lookup("datastore-uri"))
	util.MustBindEnv("datastore.uri", "APPVIEW_DATASTORE_URI")

	util.MustBindPFlag("datastore.max-open-conns", flags.Lookup("datastore-max-open-conns"))
	util.MustBindEnv("datastore.max-open-conns", "APPVIEW_DATASTORE_MAX_OPEN_CONNS")

	util.MustBindPFlag("datastore.max-idle-conns", flags.Lookup("datastore-max-idle-conns"))
	util.MustBindEnv("datastore.max-idle-conns", "APPVIEW_DATASTORE_MAX_IDLE_CONNS")

	util.MustBindPFlag("datastore.conn-max-idle-time", flags.Lookup("datastore-conn-max-idle-time"))
	util.MustBindEnv("datastore.conn-max-idle-time", "APPVIEW_DATASTORE_CONN_MAX_IDLE_TIME")

	util.MustBindPFlag("datastore.conn-max-lifetime", flags.Lookup("datastore-conn-max-lifetime"))
	util.MustBindEnv("datastore.conn-max-lifetime", "APPVIEW_DATASTORE_CONN_MAX_LIFETIME")

	util.MustBindPFlag("log.format", flags.Lookup("log-format"))
	util.MustBindEnv("log.format", "APPVIEW_LOG_FORMAT")

	util.MustBindPFlag("log.level", flags.Lookup("log-level"))
	util.MustBindEnv("log.level", "APPVIEW_LOG_LEVEL")

	util.MustBindPFlag("metrics.enabled", flags.Lookup("metrics-enabled"))
	util.MustBindEnv("metrics.enabled", "APPVIEW_METRICS_ENABLED")

	util.MustBindPFlag("search.url", flags.Lookup("search-url"))
	util.MustBindEnv("search.url", "APPVIEW_SEARCH_URL")

	util.MustBindPFlag("firehose.url", flags.Lookup("firehose-url"))
	util.MustBindEnv("firehose.url", "APPVIEW_FIREHOSE_URL")

	util.MustBindPFlag("firehose.enabled", flags.Lookup("firehose-enabled"))
	util.MustBindEnv("firehose.enabled", "APPVIEW_FIREHOSE_ENABLED")

	util.MustBindPFlag("identity.did-document-path", flags.Lookup("identity-did-document-path"))
	util.MustBindEnv("identity.did-document-path", "APPVIEW_IDENTITY_DID_DOCUMENT_PATH")
}
