package authz

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"

	"github.com/javajoker/imi-market/internal/apperr"
)

func TestPrincipalRequire(t *testing.T) {
	addr := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	arbitrator := NewPrincipal(addr, CapArbitrator)

	assert.NoError(t, arbitrator.Require("resolve", CapArbitrator))
	err := arbitrator.Require("pause", CapAdmin)
	assert.True(t, apperr.Is(err, apperr.KindAuthorization))

	assert.True(t, Principal{}.IsZero())
	assert.False(t, arbitrator.IsZero())
	assert.True(t, CapAdmin.Valid())
	assert.False(t, Capability("root").Valid())
}
