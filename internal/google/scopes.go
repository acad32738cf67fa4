package google

// CalendarScope grants read/write access to the user's calendars.
const CalendarScope = "https://www.googleapis.com/auth/calendar"

// DefaultOAuthScopes are requested on every consent.
var DefaultOAuthScopes = []string{
	CalendarScope,
}
