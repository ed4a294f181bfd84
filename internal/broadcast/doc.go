// Package broadcast delivers one admin message to every active user.
//
// A job works on a snapshot of recipients taken when it is created. Each
// recipient is attempted exactly once (plus bounded retries); failures are
// counted and never stop the job. The final tally is reported once, even
// for an empty recipient list.
package broadcast
