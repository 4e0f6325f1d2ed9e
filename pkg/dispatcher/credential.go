package dispatcher

import "net/http"

// Credential attaches API authentication to an outgoing request. The
// dispatcher treats it as opaque; token acquisition and refresh live outside
// this module.
type Credential interface {
	Apply(req *http.Request)
}

// BearerToken is a HubSpot private app token sent as an Authorization header.
type BearerToken string

// Apply sets the Authorization header.
func (t BearerToken) Apply(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+string(t))
}

// APIKey is the legacy hapikey credential sent as a query parameter.
type APIKey string

// Apply appends the hapikey query parameter.
func (k APIKey) Apply(req *http.Request) {
	q := req.URL.Query()
	q.Set("hapikey", string(k))
	req.URL.RawQuery = q.Encode()
}
