package model

// TokenPair is what user/login/ hands back.
type TokenPair struct {
	Access   string `json:"access"`
	Refresh  string `json:"refresh"`
	Username string `json:"username"`
}

// SessionState is broadcast to subscribers whenever credentials change.
type SessionState struct {
	Authenticated bool   `json:"authenticated"`
	Username      string `json:"username,omitempty"`
	Reason        string `json:"reason,omitempty"`
}
