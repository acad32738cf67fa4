// Package calendar wraps the Google Calendar v3 API for a single user.
//
// A Client is built from one resolved access token and lives for one tool
// dispatch. Classify maps API errors onto the bridge's failure classes so
// the dispatcher can tell an expired token from an outage.
package calendar
