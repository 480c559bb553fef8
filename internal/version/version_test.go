package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetDefaults(t *testing.T) {
	info := Get()
	assert.Equal(t, "dev", info.Version)
	assert.Equal(t, "unknown", info.BuildDate)
	assert.Equal(t, "unknown", info.GitCommit)
}

func TestString(t *testing.T) {
	info := Info{Version: "v1.2.0", BuildDate: "2026-08-01T00:00:00Z", GitCommit: "abc123"}
	assert.Equal(t, "v1.2.0 (built 2026-08-01T00:00:00Z, commit abc123)", info.String())
}
