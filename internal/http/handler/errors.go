package handler

const (
	errInternalServer = "Internal server error"
	errJobNotFound    = "Job not found"
	errInvalidJob     = "Invalid job fields"
	errScriptNotFound = "Script not found under the scripts directory"
	errJobInactive    = "Job is inactive"
)
