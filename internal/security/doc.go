// Package security holds the admin credential check and the sanitizing of
// client-supplied free text.
package security
