// Package mail sends the relay's plain-text notification mails over SMTP using
// named transport profiles.
package mail
