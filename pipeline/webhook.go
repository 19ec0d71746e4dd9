package pipeline

// Provider identifies the webhook source a declaration listens to.
type Provider string

const (
	ProviderGitHub            Provider = "github"
	ProviderLinear            Provider = "linear"
	ProviderGenericHMACSHA1   Provider = "generic_hmac_sha1"
	ProviderGenericHMACSHA256 Provider = "generic_hmac_sha256"
)

// KnownProvider reports whether p is a supported webhook provider.
func KnownProvider(p Provider) bool {
	switch p {
	case ProviderGitHub, ProviderLinear, ProviderGenericHMACSHA1, ProviderGenericHMACSHA256:
		return true
	}
	return false
}

// Webhook declares an external event that can trigger the pipeline.
// Declarations are inert here: they are discovered with the pipeline and
// handed to the orchestration backend, which owns delivery, signing, and
// enablement.
//
// Filter is a boolean expression over the variables payload, headers, and
// branch deciding whether an event triggers the pipeline; `trestle check`
// parses it and verifies its variable references. Transform maps the
// event to per-step inputs and IdempotencyKey derives a dedupe key for
// generic providers; both are evaluated by the backend and carried
// opaquely.
type Webhook struct {
	Name           string
	Provider       Provider
	Branch         string
	Filter         string
	Transform      string
	IdempotencyKey string
}
