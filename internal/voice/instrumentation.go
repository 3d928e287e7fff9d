package voice

import "github.com/antoniostano/callbridge/internal/observability"

const scopeName = "github.com/antoniostano/callbridge/internal/voice"

var (
	tracer = observability.Tracer(scopeName)
	logger = observability.NewLogger(scopeName)
)
