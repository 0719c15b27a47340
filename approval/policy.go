package approval

// readOnlyTools never mutate the repository.
var readOnlyTools = map[string]bool{
	"open_repo": true,
}

// RequiresApproval reports whether a tool must be confirmed by the user.
// Anything not known to be read-only requires approval, including tools
// this build has never heard of.
func RequiresApproval(toolName string) bool {
	return !readOnlyTools[toolName]
}
