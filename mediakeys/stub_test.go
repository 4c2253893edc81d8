package mediakeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStubSessionLifecycle(t *testing.T) {
	stub := NewStub("com.widevine.alpha")

	access, err := stub.Request(context.Background(), "com.widevine.alpha", []SystemConfiguration{{}})
	require.NoError(t, err)
	assert.Equal(t, "com.widevine.alpha", access.KeySystem())

	keys, err := access.CreateMediaKeys(context.Background())
	require.NoError(t, err)

	session, err := keys.CreateSession()
	require.NoError(t, err)

	stubSession := stub.Sessions()[0]
	assert.NotEmpty(t, stubSession.ID())

	require.NoError(t, session.GenerateRequest(context.Background(), "cenc", []byte("init")))
	msg := <-session.Messages()
	assert.Equal(t, "license-request", msg.Type)
	assert.Equal(t, []byte("init"), msg.Data)

	initDataType, initData := stubSession.InitData()
	assert.Equal(t, "cenc", initDataType)
	assert.Equal(t, []byte("init"), initData)

	require.NoError(t, session.Update(context.Background(), []byte("license")))
	assert.Equal(t, [][]byte{[]byte("license")}, stubSession.Updates())

	require.NoError(t, session.Close())
	_, open := <-session.Messages()
	assert.False(t, open)
}

func TestStubRequestRejectsEmptyConfiguration(t *testing.T) {
	stub := NewStub("com.widevine.alpha")
	_, err := stub.Request(context.Background(), "com.widevine.alpha", nil)
	assert.Error(t, err)
}

func TestStubServerCertificate(t *testing.T) {
	stub := NewStub("com.apple.fps.1_0")
	require.NoError(t, stub.SetServerCertificate(context.Background(), []byte("cert")))
	assert.Equal(t, []byte("cert"), stub.Certificate())
}
