package services

import "fmt"

// Endpoint is a framework-agnostic route specification. Path and
// Method are set here; handlers are supplied by the HTTP adapters.
type Endpoint struct {
	Path        string
	Method      string
	OperationID string
	Description string
	Protected   bool
}

// BaseEndpoints returns the endpoint specifications for the auth core.
// Multiple adapters (Fiber, others) share these definitions and attach
// their own framework-specific handlers.
func BaseEndpoints() []Endpoint {
	return []Endpoint{
		{
			Path:        "/sign-in",
			Method:      "POST",
			OperationID: "signInWithEmailAndPassword",
			Description: "Sign in with email, password and, when enrolled, an MFA code",
		},
		{
			Path:        "/sign-out",
			Method:      "POST",
			OperationID: "signOut",
			Description: "Sign out the current session",
			Protected:   true,
		},
		{
			Path:        "/sign-out-all",
			Method:      "POST",
			OperationID: "signOutEverywhere",
			Description: "Invalidate every session belonging to the current user",
			Protected:   true,
		},
		{
			Path:        "/session",
			Method:      "GET",
			OperationID: "getSession",
			Description: "Get the current user's session data",
			Protected:   true,
		},
		{
			Path:        "/refresh",
			Method:      "POST",
			OperationID: "refreshToken",
			Description: "Exchange a refresh token for a rotated token pair",
		},
		{
			Path:        "/mfa/enroll",
			Method:      "POST",
			OperationID: "enrollMFA",
			Description: "Generate a TOTP secret and backup codes for the current user",
			Protected:   true,
		},
		{
			Path:        "/mfa/confirm",
			Method:      "POST",
			OperationID: "confirmMFA",
			Description: "Complete MFA enrollment by proving one valid code",
			Protected:   true,
		},
		{
			Path:        "/webauthn/register/begin",
			Method:      "POST",
			OperationID: "beginPasskeyRegistration",
			Description: "Start a WebAuthn credential registration ceremony",
			Protected:   true,
		},
		{
			Path:        "/webauthn/register/finish",
			Method:      "POST",
			OperationID: "finishPasskeyRegistration",
			Description: "Verify the authenticator response and store the credential",
			Protected:   true,
		},
		{
			Path:        "/webauthn/login/begin",
			Method:      "POST",
			OperationID: "beginPasskeyLogin",
			Description: "Start a WebAuthn authentication ceremony",
		},
		{
			Path:        "/webauthn/login/finish",
			Method:      "POST",
			OperationID: "finishPasskeyLogin",
			Description: "Verify the assertion and issue a session",
		},
	}
}

// EndpointRegistry manages the endpoint collection and rejects
// duplicate METHOD:PATH combinations, including from plugins.
type EndpointRegistry struct {
	endpoints map[string]*Endpoint // keyed by "METHOD:PATH"
}

// NewEndpointRegistry creates a registry with the base endpoints
// pre-registered.
func NewEndpointRegistry() *EndpointRegistry {
	reg := &EndpointRegistry{endpoints: make(map[string]*Endpoint)}
	base := BaseEndpoints()
	for i := range base {
		_ = reg.register(&base[i])
	}
	return reg
}

func endpointKey(ep *Endpoint) string {
	return fmt.Sprintf("%s:%s", ep.Method, ep.Path)
}

func (r *EndpointRegistry) register(ep *Endpoint) error {
	key := endpointKey(ep)
	if _, exists := r.endpoints[key]; exists {
		return fmt.Errorf("endpoint conflict: %s %s already registered", ep.Method, ep.Path)
	}
	r.endpoints[key] = ep
	return nil
}

// RegisterPlugin registers additional endpoints. If any conflicts with
// an existing endpoint, or the batch conflicts with itself, nothing
// from the batch is registered.
func (r *EndpointRegistry) RegisterPlugin(endpoints []Endpoint) error {
	seen := make(map[string]bool)
	for i := range endpoints {
		key := endpointKey(&endpoints[i])
		if _, exists := r.endpoints[key]; exists {
			return fmt.Errorf("plugin endpoint conflict: %s %s already registered", endpoints[i].Method, endpoints[i].Path)
		}
		if seen[key] {
			return fmt.Errorf("plugin contains duplicate endpoint: %s %s", endpoints[i].Method, endpoints[i].Path)
		}
		seen[key] = true
	}

	for i := range endpoints {
		r.endpoints[endpointKey(&endpoints[i])] = &endpoints[i]
	}
	return nil
}

// Endpoints returns all registered endpoints, base and plugin.
func (r *EndpointRegistry) Endpoints() []*Endpoint {
	result := make([]*Endpoint, 0, len(r.endpoints))
	for _, ep := range r.endpoints {
		result = append(result, ep)
	}
	return result
}
