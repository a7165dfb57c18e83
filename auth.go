package imap

import (
	"context"
	"fmt"

	"github.com/sqs/go-xoauth2"
)

// Authenticate performs XOAUTH2 authentication using an access token.
// Authentication failures are fatal and must never trigger a retry.
func (d *Dialer) Authenticate(ctx context.Context, user string, accessToken string) (err error) {
	b64 := xoauth2.XOAuth2String(user, accessToken)
	_, err = d.Exec(ctx, fmt.Sprintf("AUTHENTICATE XOAUTH2 %s", b64), false, nil)
	return err
}

// Login performs LOGIN authentication using username and password.
// Authentication failures are fatal and must never trigger a retry.
func (d *Dialer) Login(ctx context.Context, username string, password string) (err error) {
	_, err = d.Exec(ctx, fmt.Sprintf(`LOGIN "%s" "%s"`, AddSlashes.Replace(username), AddSlashes.Replace(password)), false, nil)
	return err
}
