package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Firehose.URL = "wss://stream.example.com/subscribe"
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsUnknownEngine(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Firehose.Enabled = false
	cfg.Datastore.Engine = "mongodb"
	require.ErrorContains(t, cfg.Validate(), "unsupported datastore engine")
}

func TestValidateRequiresDatastoreURI(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Firehose.Enabled = false
	cfg.Datastore.URI = ""
	require.ErrorContains(t, cfg.Validate(), "datastore uri")
}

func TestValidateRequiresFirehoseURLWhenEnabled(t *testing.T) {
	cfg := DefaultConfig()
	require.ErrorContains(t, cfg.Validate(), "firehose url")
}
