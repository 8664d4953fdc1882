// Package mailer declares the outbound-email collaborator as an interface.
// Nothing in this repository sends mail beyond test doubles.
package mailer

import "context"

// Mailer delivers outbound account-verification email.
type Mailer interface {
	SendVerification(ctx context.Context, toAddress, link string) error
}
