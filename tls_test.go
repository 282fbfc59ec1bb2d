package main

import (
	"crypto/x509"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSelfSignedCert(t *testing.T) {
	cert, err := generateSelfSignedCert("qrpay")
	require.NoError(t, err)
	require.Len(t, cert.Certificate, 1)

	parsed, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	assert.Equal(t, []string{"qrpay"}, parsed.Subject.Organization)
	assert.NoError(t, parsed.VerifyHostname("localhost"))
	assert.NoError(t, parsed.VerifyHostname("127.0.0.1"))
}
