package models

// Template is the message body a communication node sends.
type Template struct {
	ID       string  `json:"id"       yaml:"id"`
	TenantID string  `json:"tenant_id" yaml:"tenant_id"`
	Channel  Channel `json:"channel"  yaml:"channel"`
	Subject  string  `json:"subject"  yaml:"subject"`
	Body     string  `json:"body"     yaml:"body"`
}

// Agent is a voice agent that places calls.
type Agent struct {
	ID          string `json:"id"           yaml:"id"`
	TenantID    string `json:"tenant_id"    yaml:"tenant_id"`
	Name        string `json:"name"         yaml:"name"`
	ProviderRef string `json:"provider_ref" yaml:"provider_ref"`
}
