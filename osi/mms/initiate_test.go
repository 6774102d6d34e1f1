package mms

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitiateRoundTrip(t *testing.T) {
	request := NewInitiateRequest()
	parsed, err := ParseInitiateRequest(request.Bytes())
	require.NoError(t, err)

	assert.Equal(t, uint32(DefaultMaxPduSize), parsed.LocalDetailCalling)
	assert.ElementsMatch(t, DefaultClientServices, parsed.ServicesSupportedCalling)
	assert.Contains(t, parsed.ServicesSupportedCalling, ServiceInformationReport)
	assert.NotContains(t, parsed.ServicesSupportedCalling, ServiceDeleteDomain)

	response := NegotiateInitiate(parsed, DefaultMaxPduSize, DefaultServerServices)
	decoded, err := ParseInitiateResponse(response.Bytes())
	require.NoError(t, err)

	assert.Equal(t, uint32(DefaultMaxPduSize), decoded.LocalDetailCalled)
	assert.True(t, decoded.Supports(ServiceInformationReport))
	assert.True(t, decoded.Supports(Conclude))
	assert.False(t, decoded.Supports(ServiceDeleteDomain))
}

func TestServiceSupportedBitString(t *testing.T) {
	tests := []struct {
		name string
		bit  ServiceSupportedBit
		want string
	}{
		{name: "status", bit: Status, want: "Status"},
		{name: "deleteDomain", bit: ServiceDeleteDomain, want: "DeleteDomain"},
		{name: "informationReport", bit: ServiceInformationReport, want: "InformationReport"},
		{name: "вне диапазона", bit: ServiceSupportedBit(200), want: "ServiceSupportedBit(200)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.bit.String())
		})
	}
}
