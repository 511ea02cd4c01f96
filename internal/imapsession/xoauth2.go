package imapsession

import "github.com/parlorsh/parlor/internal/oauth2"

// xoauth2Client implements go-sasl's Client interface for the XOAUTH2
// mechanism, which emersion/go-sasl does not ship directly (it only
// provides PLAIN, LOGIN, and the EXTERNAL/ANONYMOUS mechanisms).
type xoauth2Client struct {
	username string
	token    string
}

// newXOAuth2Client builds a SASL client carrying a pre-fetched bearer
// token; the session asks the token provider for the token before
// constructing this, so Start never blocks.
func newXOAuth2Client(username, token string) *xoauth2Client {
	return &xoauth2Client{username: username, token: token}
}

// Start returns the XOAUTH2 initial response. The mechanism is
// client-first: the whole exchange fits in the initial response, and any
// challenge sent back by the server on failure is a JSON error blob that
// must be acknowledged with an empty response to complete the tagged NO.
func (c *xoauth2Client) Start() (mech string, ir []byte, err error) {
	return "XOAUTH2", oauth2.EncodeXOAUTH2(c.username, c.token), nil
}

// Next acknowledges a server error challenge with an empty response, per
// the XOAUTH2 spec's "continuation after failure" exchange.
func (c *xoauth2Client) Next(challenge []byte) ([]byte, error) {
	return nil, nil
}
