package chat

import "github.com/antoniostano/callbridge/internal/observability"

const scopeName = "github.com/antoniostano/callbridge/internal/chat"

var (
	tracer = observability.Tracer(scopeName)
	logger = observability.NewLogger(scopeName)
)
