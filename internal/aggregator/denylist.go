package aggregator

// destructiveTools contains the list of tools that are considered destructive
// and should be blocked by default unless --yolo flag is enabled
var destructiveTools = map[string]bool{
	// Filesystem operations
	"delete_file":      true,
	"move_file":        true,
	"write_file":       true,
	"create_directory": true,

	// Repository operations
	"create_branch":       true,
	"create_pull_request": true,
	"delete_branch":       true,
	"merge_pull_request":  true,
	"push_files":          true,

	// Infrastructure operations
	"apply_manifest":   true,
	"delete_resource":  true,
	"restart_service":  true,
	"scale_deployment": true,

	// Other destructive operations
	"cleanup":         true,
	"create_incident": true,
	"drop_table":      true,
	"execute_command": true,
}

// isDestructiveTool checks if a tool is in the destructive tools denylist
func isDestructiveTool(toolName string) bool {
	return destructiveTools[toolName]
}
