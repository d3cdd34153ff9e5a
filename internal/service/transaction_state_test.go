package service

import (
	"testing"

	"github.com/ikwen/paygate/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	for _, next := range []domain.TxStatus{
		domain.TxStatusSuccess, domain.TxStatusFailure, domain.TxStatusTimeout,
		domain.TxStatusServerError, domain.TxStatusSSLError, domain.TxStatusAPIError,
	} {
		assert.True(t, canTransition(domain.TxStatusRunning, next), next)
	}

	assert.True(t, canTransition(domain.TxStatusTimeout, domain.TxStatusSuccess))
	assert.True(t, canTransition(domain.TxStatusTimeout, domain.TxStatusFailure))
	assert.False(t, canTransition(domain.TxStatusTimeout, domain.TxStatusServerError))
	assert.False(t, canTransition(domain.TxStatusSuccess, domain.TxStatusFailure))
	assert.False(t, canTransition(domain.TxStatusFailure, domain.TxStatusSuccess))
	assert.False(t, canTransition(domain.TxStatusAPIError, domain.TxStatusRunning))
	assert.False(t, canTransition(domain.TxStatus("Refunded"), domain.TxStatusSuccess))
}
