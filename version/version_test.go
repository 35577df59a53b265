package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfo_String(t *testing.T) {
	i := Info{Version: "1.2.0", CommitHash: "0123456789abcdef", BuildTime: "2026-10-01"}
	assert.Equal(t, "opsdeck 1.2.0 (commit 0123456, built 2026-10-01)", i.String())
	assert.Equal(t, "dev", Info{CommitHash: "dev"}.Short())
}
