package langsmith

// Version information for the LangSmith Go client
const (
	// Version is the current client version
	Version = "0.3.0"

	// APIVersion is the ingest API generation this client speaks
	APIVersion = "v1"
)

// UserAgent identifies this client in outgoing requests
const UserAgent = "langsmith-go/" + Version
