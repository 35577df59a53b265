package awsprofile

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/opsdeck/catalog"
	"github.com/teranos/opsdeck/errors"
)

const callerIdentityXML = `<GetCallerIdentityResponse xmlns="https://sts.amazonaws.com/doc/2011-06-15/">
  <GetCallerIdentityResult>
    <Arn>arn:aws:iam::123456789012:user/alice</Arn>
    <UserId>AIDAEXAMPLE</UserId>
    <Account>123456789012</Account>
  </GetCallerIdentityResult>
  <ResponseMetadata><RequestId>01234567-89ab-cdef-0123-456789abcdef</RequestId></ResponseMetadata>
</GetCallerIdentityResponse>`

func newValidator(t *testing.T, handler http.HandlerFunc) *STSValidator {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	v := NewSTSValidator(zaptest.NewLogger(t).Sugar())
	v.Endpoint = srv.URL
	return v
}

func TestIdentify_Success(t *testing.T) {
	var body string
	var auth string
	v := newValidator(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		auth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "text/xml")
		io.WriteString(w, callerIdentityXML)
	})

	id, err := v.Identify(context.Background(), catalog.Profile{
		Name: "dev", AccessKey: "AKIAEXAMPLE", SecretKey: "secret", Region: "eu-west-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "123456789012", id.Account)
	assert.Equal(t, "arn:aws:iam::123456789012:user/alice", id.Arn)
	assert.Contains(t, body, "Action=GetCallerIdentity")
	assert.True(t, strings.Contains(auth, "AKIAEXAMPLE/"), "request is signed with the profile's key")
	assert.Contains(t, auth, "/eu-west-1/sts/")
}

func TestValidate_Rejected(t *testing.T) {
	v := newValidator(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/xml")
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, `<ErrorResponse><Error><Type>Sender</Type><Code>InvalidClientTokenId</Code><Message>The security token included in the request is invalid.</Message></Error><RequestId>x</RequestId></ErrorResponse>`)
	})

	err := v.Validate(context.Background(), catalog.Profile{Name: "dev", AccessKey: "AKIA", SecretKey: "bad"})
	require.Error(t, err)
	assert.True(t, errors.IsExternalFailureError(err))
	assert.Equal(t, "AWS credentials were rejected by STS", errors.UserMessage(err))
}

func TestValidate_MissingCredentials(t *testing.T) {
	err := NewSTSValidator(nil).Validate(context.Background(), catalog.Profile{Name: "empty"})
	assert.True(t, errors.IsInvalidRequestError(err))
}
